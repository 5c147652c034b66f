package handlers

import (
	"encoding/json"
	"errors"
	"hash/fnv"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/Cavedragon13/ai-image-organizer/internal/http/middleware"
	"github.com/Cavedragon13/ai-image-organizer/internal/service"
)

var errInvalidPayload = errors.New("invalid payload")

const idempotencyTTL = 24 * time.Hour

type API struct {
	jobs        *service.JobsService
	logger      *slog.Logger
	idempotency *idempotencyStore
}

func NewAPI(jobs *service.JobsService, logger *slog.Logger) *API {
	return &API{
		jobs:        jobs,
		logger:      logger,
		idempotency: newIdempotencyStore(idempotencyTTL),
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, r *http.Request, statusCode int, code, message string) {
	middleware.WriteError(w, r, statusCode, code, message)
}

func decodeJSON(r *http.Request, value any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(value); err != nil {
		return errInvalidPayload
	}
	return nil
}

type idempotencyEntry struct {
	PayloadHash uint64
	JobID       string
	CreatedAt   time.Time
}

// idempotencyStore remembers which job an Idempotency-Key produced so a
// retried submission does not start a second run.
type idempotencyStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]idempotencyEntry
}

func newIdempotencyStore(ttl time.Duration) *idempotencyStore {
	return &idempotencyStore{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]idempotencyEntry),
	}
}

// Reserve claims key for a new submission. When the key is already held it
// returns the existing entry and false; a held entry with an empty JobID is
// still being submitted.
func (s *idempotencyStore) Reserve(key string, payloadHash uint64) (idempotencyEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for existing, entry := range s.entries {
		if now.Sub(entry.CreatedAt) > s.ttl {
			delete(s.entries, existing)
		}
	}
	if entry, ok := s.entries[key]; ok {
		return entry, false
	}
	s.entries[key] = idempotencyEntry{PayloadHash: payloadHash, CreatedAt: now.UTC()}
	return idempotencyEntry{}, true
}

// Complete records the job a reserved key produced.
func (s *idempotencyStore) Complete(key, jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.entries[key]; ok {
		entry.JobID = jobID
		s.entries[key] = entry
	}
}

// Release drops a reservation whose submission failed so the client can
// retry with the same key.
func (s *idempotencyStore) Release(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.entries[key]; ok && entry.JobID == "" {
		delete(s.entries, key)
	}
}

func hashPayload(value any) uint64 {
	payload, _ := json.Marshal(value)
	hasher := fnv.New64a()
	_, _ = hasher.Write(payload)
	return hasher.Sum64()
}
