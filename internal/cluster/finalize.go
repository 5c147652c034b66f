package cluster

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/Cavedragon13/ai-image-organizer/internal/domain"
)

const (
	CatchAllName  = "misc_singles"
	nameTokens    = 3
	nameSeparator = "_"
	minIndexWidth = 2
)

type FinalizeOptions struct {
	MinGroupSize int
	OutputRoot   string
}

// NamedGroup is a finalized group with destination paths for its members.
type NamedGroup struct {
	ID            int
	CanonicalName string
	CatchAll      bool
	Members       []*domain.Item
	Placements    []domain.Placement
}

// Finalize folds undersized groups into the catch-all, names the remaining
// groups and computes sequential destinations. It does not modify groups, so
// running it twice on the same input yields the same result. The catch-all
// is always the last element, possibly with no members.
func Finalize(groups []*Group, opts FinalizeOptions) []NamedGroup {
	ordered := append([]*Group(nil), groups...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	var (
		kept     []*Group
		leftover []*domain.Item
	)
	for _, group := range ordered {
		if len(group.Members) < opts.MinGroupSize {
			leftover = append(leftover, group.Members...)
			continue
		}
		kept = append(kept, group)
	}
	sort.SliceStable(leftover, func(i, j int) bool { return leftover[i].Seq < leftover[j].Seq })

	tok := newTokenizer()
	used := map[string]bool{CatchAllName: true}
	named := make([]NamedGroup, 0, len(kept)+1)
	for _, group := range kept {
		name := uniqueName(deriveName(tok, group), used)
		named = append(named, NamedGroup{
			ID:            group.ID,
			CanonicalName: name,
			Members:       append([]*domain.Item(nil), group.Members...),
		})
	}
	named = append(named, NamedGroup{
		CanonicalName: CatchAllName,
		CatchAll:      true,
		Members:       leftover,
	})

	for i := range named {
		named[i].Placements = sequence(named[i].CanonicalName, named[i].Members, opts.OutputRoot)
	}
	return named
}

func deriveName(tok *tokenizer, group *Group) string {
	counts := make(map[string]int)
	for _, member := range group.Members {
		for _, token := range tok.Tokens(member.Description) {
			counts[token]++
		}
	}
	top := topTokens(counts, nameTokens)
	if len(top) == 0 {
		return fmt.Sprintf("group_%d", group.ID)
	}
	return strings.Join(top, nameSeparator)
}

func uniqueName(base string, used map[string]bool) string {
	name := base
	for counter := 1; used[name]; counter++ {
		name = fmt.Sprintf("%s_%d", base, counter)
	}
	used[name] = true
	return name
}

func sequence(name string, members []*domain.Item, outputRoot string) []domain.Placement {
	width := len(strconv.Itoa(len(members)))
	if width < minIndexWidth {
		width = minIndexWidth
	}
	placements := make([]domain.Placement, 0, len(members))
	for i, member := range members {
		filename := fmt.Sprintf("%s_%0*d%s", name, width, i+1, filepath.Ext(member.Path))
		placements = append(placements, domain.Placement{
			OriginalPath:    member.Path,
			DestinationPath: filepath.Join(outputRoot, name, filename),
		})
	}
	return placements
}
