package cluster

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Cavedragon13/ai-image-organizer/internal/domain"
)

func newItems(embeddings ...[]float32) []*domain.Item {
	items := make([]*domain.Item, 0, len(embeddings))
	for i, embedding := range embeddings {
		item := domain.NewItem(i, fmt.Sprintf("/in/img_%02d.jpg", i))
		item.Embedding = embedding
		item.Status = domain.ItemEmbedded
		items = append(items, item)
	}
	return items
}

func assignAll(t *testing.T, engine *Engine, items []*domain.Item) []int {
	t.Helper()
	ids := make([]int, 0, len(items))
	for _, item := range items {
		id, err := engine.Assign(item)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 2, 3}, []float64{2, 4, 6}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float64{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, CosineSimilarity([]float32{1, 0}, []float64{-1, 0}), 1e-9)
	assert.Equal(t, 0.0, CosineSimilarity([]float32{0, 0}, []float64{1, 1}))
	assert.Equal(t, 0.0, CosineSimilarity([]float32{1, 1}, []float64{0, 0}))
}

func TestAssignZeroNormItemsNeverPanicAndNeverMatch(t *testing.T) {
	engine := NewEngine(0.85)
	items := newItems([]float32{0, 0, 0}, []float32{0, 0, 0}, []float32{1, 0, 0})

	ids := assignAll(t, engine, items)

	assert.Equal(t, []int{1, 2, 3}, ids)
	for _, item := range items {
		assert.Equal(t, domain.ItemGrouped, item.Status)
	}
}

func TestAssignIdenticalEmbeddingsShareOneGroup(t *testing.T) {
	engine := NewEngine(0.85)
	vec := []float32{0.3, 0.4, 0.5}
	items := newItems(vec, vec, vec, vec, vec)

	ids := assignAll(t, engine, items)

	assert.Equal(t, []int{1, 1, 1, 1, 1}, ids)
	groups := engine.Groups()
	require.Len(t, groups, 1)
	assert.Len(t, groups[0].Members, 5)
}

func TestAssignBelowThresholdCreatesSeparateGroups(t *testing.T) {
	engine := NewEngine(0.85)
	// cos(60deg) = 0.5
	items := newItems([]float32{1, 0}, []float32{0.5, float32(math.Sqrt(3) / 2)})

	ids := assignAll(t, engine, items)

	assert.Equal(t, []int{1, 2}, ids)
}

func TestAssignTieBreaksOnLowestGroupID(t *testing.T) {
	engine := NewEngine(0.5)
	// Orthogonal seeds create groups 1 and 2; the diagonal is equally close
	// to both (cos = 0.707).
	items := newItems([]float32{1, 0}, []float32{0, 1}, []float32{1, 1})

	ids := assignAll(t, engine, items)

	assert.Equal(t, []int{1, 2, 1}, ids)
}

func TestAssignUpdatesCentroidAsRunningMean(t *testing.T) {
	engine := NewEngine(0.1)
	items := newItems([]float32{1, 0}, []float32{1, 1}, []float32{1, 2})

	assignAll(t, engine, items)

	groups := engine.Groups()
	require.Len(t, groups, 1)
	assert.InDeltaSlice(t, []float64{1, 1}, groups[0].Centroid, 1e-9)
}

func TestAssignIsDeterministic(t *testing.T) {
	embeddings := [][]float32{
		{1, 0, 0}, {0.9, 0.1, 0}, {0, 1, 0}, {0, 0.95, 0.05},
		{0, 0, 1}, {0.7, 0.7, 0}, {0.1, 0, 0.9}, {0.5, 0.5, 0.5},
	}

	first := assignAll(t, NewEngine(0.8), newItems(embeddings...))
	second := assignAll(t, NewEngine(0.8), newItems(embeddings...))

	assert.Equal(t, first, second)
}

func TestAssignRejectsInvalidEmbeddings(t *testing.T) {
	engine := NewEngine(0.85)
	items := newItems([]float32{1, 0, 0}, []float32{1, 0}, []float32{})

	_, err := engine.Assign(items[0])
	require.NoError(t, err)

	_, err = engine.Assign(items[1])
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = engine.Assign(items[2])
	assert.ErrorIs(t, err, ErrEmptyEmbedding)

	assert.Len(t, engine.Groups(), 1)
}

func TestAssignRejectsNonFiniteEmbeddingsWithoutSpoilingLaterItems(t *testing.T) {
	engine := NewEngine(0.85)
	nan := float32(math.NaN())
	inf := float32(math.Inf(1))
	bad := newItems([]float32{nan, 1}, []float32{1, inf}, []float32{-inf, 0})

	for _, item := range bad {
		_, err := engine.Assign(item)
		assert.ErrorIs(t, err, ErrInvalidEmbedding)
		assert.Equal(t, domain.ItemEmbedded, item.Status)
	}
	assert.Empty(t, engine.Groups())

	ids := assignAll(t, engine, newItems([]float32{1, 0}, []float32{1, 0}, []float32{1, 0}))
	assert.Equal(t, []int{1, 1, 1}, ids)
	require.Len(t, engine.Groups(), 1)
	assert.Len(t, engine.Groups()[0].Members, 3)
}
