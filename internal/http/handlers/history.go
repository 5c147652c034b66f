package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/Cavedragon13/ai-image-organizer/internal/domain"
)

type historyItem struct {
	JobID        string          `json:"job_id"`
	Status       string          `json:"status"`
	InputFolder  string          `json:"input_folder"`
	OutputFolder string          `json:"output_folder"`
	Settings     domain.Settings `json:"settings"`
	TotalItems   int             `json:"total_items"`
	Error        string          `json:"error,omitempty"`
	Result       *domain.Result  `json:"result,omitempty"`
	CreatedAt    string          `json:"created_at"`
	FinishedAt   string          `json:"finished_at"`
}

func (api *API) History(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := domain.HistoryFilter{Status: domain.JobStatus(strings.TrimSpace(query.Get("status")))}

	var err error
	if filter.Page, err = optionalInt(query.Get("page")); err != nil || filter.Page < 0 {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "page must be a positive integer")
		return
	}
	if filter.PageSize, err = optionalInt(query.Get("page_size")); err != nil || filter.PageSize < 0 {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "page_size must be a positive integer")
		return
	}
	if filter.Status != "" && !filter.Status.Terminal() {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "status must be completed, error or cancelled")
		return
	}

	entries, total, err := api.jobs.ListHistory(r.Context(), filter)
	if err != nil {
		api.logger.Error("list history failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to load history")
		return
	}

	items := make([]historyItem, 0, len(entries))
	for _, entry := range entries {
		items = append(items, historyItem{
			JobID:        entry.JobID,
			Status:       string(entry.Status),
			InputFolder:  entry.InputRoot,
			OutputFolder: entry.OutputRoot,
			Settings:     entry.Settings,
			TotalItems:   entry.TotalItems,
			Error:        entry.ErrorMessage,
			Result:       entry.Result,
			CreatedAt:    entry.CreatedAt.UTC().Format(timeLayout),
			FinishedAt:   entry.FinishedAt.UTC().Format(timeLayout),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"total": total,
	})
}

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

func optionalInt(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
