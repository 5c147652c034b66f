package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/Cavedragon13/ai-image-organizer/internal/domain"
	"github.com/Cavedragon13/ai-image-organizer/internal/registry"
	"github.com/Cavedragon13/ai-image-organizer/internal/repository"
)

var ErrInvalidRequest = errors.New("invalid request")

// Submitter hands a registered job to the worker pool.
type Submitter interface {
	Submit(jobID string) error
}

// SettingsOverrides carries the settings a caller chose to set; nil fields
// take the defaults.
type SettingsOverrides struct {
	Model               *string  `json:"model"`
	SimilarityThreshold *float64 `json:"similarity_threshold"`
	MinGroupSize        *int     `json:"min_group_size"`
	CopyFiles           *bool    `json:"copy_files"`
}

// Apply merges the overrides on top of base.
func (o SettingsOverrides) Apply(base domain.Settings) domain.Settings {
	if o.Model != nil && strings.TrimSpace(*o.Model) != "" {
		base.Model = strings.TrimSpace(*o.Model)
	}
	if o.SimilarityThreshold != nil {
		base.SimilarityThreshold = *o.SimilarityThreshold
	}
	if o.MinGroupSize != nil {
		base.MinGroupSize = *o.MinGroupSize
	}
	if o.CopyFiles != nil {
		base.CopyFiles = *o.CopyFiles
	}
	return base
}

type SubmitRequest struct {
	InputFolder  string
	OutputFolder string
	Settings     SettingsOverrides
}

type JobsService struct {
	registry *registry.Registry
	queue    Submitter
	history  repository.HistoryRepository
	defaults domain.Settings
	logger   *slog.Logger
}

func NewJobsService(
	reg *registry.Registry,
	queue Submitter,
	history repository.HistoryRepository,
	defaults domain.Settings,
	logger *slog.Logger,
) *JobsService {
	return &JobsService{
		registry: reg,
		queue:    queue,
		history:  history,
		defaults: defaults,
		logger:   logger,
	}
}

// Submit registers a job and queues it. Settings are validated later by the
// controller so that bad values surface as a job error.
func (s *JobsService) Submit(_ context.Context, request SubmitRequest) (domain.Job, error) {
	input := strings.TrimSpace(request.InputFolder)
	output := strings.TrimSpace(request.OutputFolder)
	if input == "" || output == "" {
		return domain.Job{}, fmt.Errorf("%w: input_folder and output_folder are required", ErrInvalidRequest)
	}
	if info, err := os.Stat(input); err != nil || !info.IsDir() {
		return domain.Job{}, fmt.Errorf("%w: input folder does not exist", ErrInvalidRequest)
	}

	settings := request.Settings.Apply(s.defaults)
	job := s.registry.Create(input, output, settings)

	if err := s.queue.Submit(job.ID); err != nil {
		s.registry.Remove(job.ID)
		s.logger.Warn("job rejected", "job_id", job.ID, "error", err)
		return domain.Job{}, fmt.Errorf("enqueue job: %w", err)
	}

	s.logger.Info("job queued", "job_id", job.ID, "input", input, "output", output)
	return job, nil
}

func (s *JobsService) GetJob(_ context.Context, jobID string) (domain.Job, error) {
	return s.registry.Get(jobID)
}

func (s *JobsService) ListJobs(_ context.Context) []domain.Job {
	return s.registry.List()
}

func (s *JobsService) CancelJob(_ context.Context, jobID string) (domain.Job, error) {
	job, err := s.registry.Cancel(jobID)
	if err != nil {
		return domain.Job{}, err
	}
	s.logger.Info("job cancel requested", "job_id", jobID, "status", job.Status)
	return job, nil
}

func (s *JobsService) DeleteJob(_ context.Context, jobID string) error {
	return s.registry.Delete(jobID)
}

func (s *JobsService) ListHistory(
	ctx context.Context,
	filter domain.HistoryFilter,
) ([]domain.HistoryEntry, int, error) {
	if s.history == nil {
		return []domain.HistoryEntry{}, 0, nil
	}
	return s.history.List(ctx, filter)
}
