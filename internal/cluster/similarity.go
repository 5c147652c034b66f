// Package cluster groups embedded images into themed groups.
//
// Clustering is online and order dependent: each item is compared against the
// centroids of the groups that exist when it arrives, so the same items fed
// in a different order can produce different groups. Feeding the same
// sequence with the same threshold always produces the same assignment.
package cluster

import (
	"errors"
	"fmt"
	"math"

	"github.com/Cavedragon13/ai-image-organizer/internal/domain"
)

var (
	ErrEmptyEmbedding    = errors.New("empty embedding")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrInvalidEmbedding  = errors.New("embedding has non-finite components")
)

// Group is a cluster of items sharing a theme.
type Group struct {
	ID       int
	Centroid []float64
	Members  []*domain.Item
}

// CosineSimilarity returns dot(a,b)/(|a||b|), or 0 when either norm is zero.
func CosineSimilarity(a []float32, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		av := float64(a[i])
		dot += av * b[i]
		normA += av * av
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Index holds one centroid per group in creation order.
type Index struct {
	groups    []*Group
	dimension int
	nextID    int
}

func NewIndex() *Index {
	return &Index{nextID: 1}
}

// Best returns the most similar group and its similarity. Ties keep the
// earliest created group.
func (x *Index) Best(embedding []float32) (*Group, float64) {
	var (
		best    *Group
		bestSim float64
	)
	for _, group := range x.groups {
		sim := CosineSimilarity(embedding, group.Centroid)
		if math.IsNaN(sim) {
			continue
		}
		if best == nil || sim > bestSim {
			best = group
			bestSim = sim
		}
	}
	return best, bestSim
}

func (x *Index) create(item *domain.Item) *Group {
	centroid := make([]float64, len(item.Embedding))
	for i, value := range item.Embedding {
		centroid[i] = float64(value)
	}
	group := &Group{
		ID:       x.nextID,
		Centroid: centroid,
		Members:  []*domain.Item{item},
	}
	x.nextID++
	x.groups = append(x.groups, group)
	return group
}

func (x *Index) join(group *Group, item *domain.Item) {
	group.Members = append(group.Members, item)
	count := float64(len(group.Members))
	for i, value := range item.Embedding {
		group.Centroid[i] += (float64(value) - group.Centroid[i]) / count
	}
}

func (x *Index) check(embedding []float32) error {
	if len(embedding) == 0 {
		return ErrEmptyEmbedding
	}
	if x.dimension != 0 && len(embedding) != x.dimension {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(embedding), x.dimension)
	}
	for i, value := range embedding {
		if v := float64(value); math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: index %d is %v", ErrInvalidEmbedding, i, value)
		}
	}
	return nil
}

// Groups returns the groups in creation order.
func (x *Index) Groups() []*Group {
	return append([]*Group(nil), x.groups...)
}
