package httpserver

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/Cavedragon13/ai-image-organizer/internal/http/handlers"
	"github.com/Cavedragon13/ai-image-organizer/internal/http/middleware"
)

type RouterDependencies struct {
	API            *handlers.API
	Logger         *slog.Logger
	AuthToken      string
	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int
}

// NewRouter wires the API routes. The /api/* paths keep the browser
// dashboard's original URLs working. ctx bounds background middleware work.
func NewRouter(ctx context.Context, deps RouterDependencies) http.Handler {
	router := mux.NewRouter()
	withFallbacks(router)

	api := deps.API
	router.HandleFunc("/healthz", api.Health).Methods(http.MethodGet)

	v1 := withFallbacks(router.PathPrefix("/v1").Subrouter())
	v1.HandleFunc("/jobs", api.StartJob).Methods(http.MethodPost)
	v1.HandleFunc("/jobs", api.ListJobs).Methods(http.MethodGet)
	v1.HandleFunc("/jobs/{id}", api.JobStatus).Methods(http.MethodGet)
	v1.HandleFunc("/jobs/{id}", api.DeleteJob).Methods(http.MethodDelete)
	v1.HandleFunc("/jobs/{id}/cancel", api.CancelJob).Methods(http.MethodPost)
	v1.HandleFunc("/history", api.History).Methods(http.MethodGet)
	v1.HandleFunc("/folders", api.BrowseFolder).Methods(http.MethodGet)

	legacy := withFallbacks(router.PathPrefix("/api").Subrouter())
	legacy.HandleFunc("/start_job", api.StartJob).Methods(http.MethodPost)
	legacy.HandleFunc("/jobs", api.ListJobs).Methods(http.MethodGet)
	legacy.HandleFunc("/job_status/{id}", api.JobStatus).Methods(http.MethodGet)
	legacy.HandleFunc("/browse_folder", api.BrowseFolder).Methods(http.MethodGet)

	handler := http.Handler(router)
	handler = middleware.Auth(deps.AuthToken, "/v1/", "/api/")(handler)
	handler = middleware.RateLimit(ctx, deps.RateLimitRPS, deps.RateLimitBurst)(handler)
	handler = middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: deps.CORSOrigins,
	})(handler)
	handler = middleware.Trace(deps.Logger)(handler)
	handler = middleware.RequestID(handler)

	return handler
}

// withFallbacks installs the JSON 404 and 405 handlers. Subrouters do not
// inherit them from their parent.
func withFallbacks(router *mux.Router) *mux.Router {
	router.NotFoundHandler = http.HandlerFunc(notFound)
	router.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)
	return router
}

func notFound(w http.ResponseWriter, r *http.Request) {
	middleware.WriteError(w, r, http.StatusNotFound, "not_found", "route not found")
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	middleware.WriteError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
}
