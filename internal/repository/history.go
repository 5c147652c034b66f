// Package repository archives the reports of finished jobs.
//
// The archive is write-only from the job controller and read-only for the
// history endpoint. Job state itself lives in the in-memory registry and is
// never restored from here.
package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/Cavedragon13/ai-image-organizer/internal/domain"
)

const (
	defaultPageSize = 20
	maxPageSize     = 200
)

// HistoryRepository stores terminal job reports.
type HistoryRepository interface {
	Archive(ctx context.Context, entry domain.HistoryEntry) error
	List(ctx context.Context, filter domain.HistoryFilter) ([]domain.HistoryEntry, int, error)
}

// MemoryHistory keeps reports for the lifetime of the process.
type MemoryHistory struct {
	mu      sync.RWMutex
	entries map[string]domain.HistoryEntry
}

func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{
		entries: make(map[string]domain.HistoryEntry),
	}
}

func (r *MemoryHistory) Archive(_ context.Context, entry domain.HistoryEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[entry.JobID] = cloneEntry(entry)
	return nil
}

func (r *MemoryHistory) List(_ context.Context, filter domain.HistoryFilter) ([]domain.HistoryEntry, int, error) {
	filter = normalizeFilter(filter)

	r.mu.RLock()
	items := make([]domain.HistoryEntry, 0, len(r.entries))
	for _, entry := range r.entries {
		if filter.Status != "" && entry.Status != filter.Status {
			continue
		}
		items = append(items, cloneEntry(entry))
	}
	r.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool {
		return items[i].FinishedAt.After(items[j].FinishedAt)
	})

	total := len(items)
	start := (filter.Page - 1) * filter.PageSize
	if start >= total {
		return []domain.HistoryEntry{}, total, nil
	}
	end := start + filter.PageSize
	if end > total {
		end = total
	}

	return items[start:end], total, nil
}

func normalizeFilter(filter domain.HistoryFilter) domain.HistoryFilter {
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = defaultPageSize
	}
	if filter.PageSize > maxPageSize {
		filter.PageSize = maxPageSize
	}
	return filter
}

func cloneEntry(entry domain.HistoryEntry) domain.HistoryEntry {
	if entry.Result == nil {
		return entry
	}
	snapshot := domain.Job{Result: entry.Result}.Clone()
	entry.Result = snapshot.Result
	return entry
}

// EntryFromJob converts a terminal job snapshot into an archive entry.
func EntryFromJob(job domain.Job) domain.HistoryEntry {
	entry := domain.HistoryEntry{
		JobID:        job.ID,
		Status:       job.Status,
		InputRoot:    job.InputRoot,
		OutputRoot:   job.OutputRoot,
		Settings:     job.Settings,
		TotalItems:   job.TotalItems,
		ErrorMessage: job.ErrorMessage,
		Result:       job.Clone().Result,
		CreatedAt:    job.CreatedAt,
	}
	if job.FinishedAt != nil {
		entry.FinishedAt = *job.FinishedAt
	}
	return entry
}
