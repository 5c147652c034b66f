package domain

type ItemStatus string

const (
	ItemPending   ItemStatus = "pending"
	ItemDescribed ItemStatus = "described"
	ItemEmbedded  ItemStatus = "embedded"
	ItemGrouped   ItemStatus = "grouped"
	ItemFailed    ItemStatus = "failed"
)

// Item is one discovered image. It is mutated in place as stages complete
// and kept for the final report even when it fails.
type Item struct {
	Seq         int
	Path        string
	Description string
	Embedding   []float32
	GroupID     int
	Status      ItemStatus
}

// NewItem creates a pending item; seq is its position in discovery order.
func NewItem(seq int, path string) *Item {
	return &Item{Seq: seq, Path: path, Status: ItemPending}
}
