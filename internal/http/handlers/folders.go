package handlers

import (
	"errors"
	"net/http"

	"github.com/Cavedragon13/ai-image-organizer/internal/domain"
	"github.com/Cavedragon13/ai-image-organizer/internal/service"
)

func (api *API) BrowseFolder(w http.ResponseWriter, r *http.Request) {
	listing, err := service.BrowseFolder(r.URL.Query().Get("path"))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, listing)
	case errors.Is(err, service.ErrPermissionDenied):
		writeError(w, r, http.StatusForbidden, "permission_denied", "permission denied")
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not_found", "folder not found")
	default:
		api.logger.Warn("browse folder failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
