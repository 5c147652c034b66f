package cluster

import "github.com/Cavedragon13/ai-image-organizer/internal/domain"

// Engine assigns items one at a time to the best matching group, creating a
// new group when nothing reaches the threshold.
type Engine struct {
	threshold float64
	index     *Index
}

func NewEngine(threshold float64) *Engine {
	return &Engine{threshold: threshold, index: NewIndex()}
}

// Assign places item in a group and returns the group id. The first
// embedding fixes the dimension for the engine.
func (e *Engine) Assign(item *domain.Item) (int, error) {
	if err := e.index.check(item.Embedding); err != nil {
		return 0, err
	}
	if e.index.dimension == 0 {
		e.index.dimension = len(item.Embedding)
	}

	best, sim := e.index.Best(item.Embedding)
	var group *Group
	if best != nil && sim >= e.threshold {
		e.index.join(best, item)
		group = best
	} else {
		group = e.index.create(item)
	}

	item.GroupID = group.ID
	item.Status = domain.ItemGrouped
	return group.ID, nil
}

func (e *Engine) Groups() []*Group {
	return e.index.Groups()
}
