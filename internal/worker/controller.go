// Package worker runs organize jobs from discovery to the final report.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Cavedragon13/ai-image-organizer/internal/cluster"
	"github.com/Cavedragon13/ai-image-organizer/internal/discovery"
	"github.com/Cavedragon13/ai-image-organizer/internal/domain"
	"github.com/Cavedragon13/ai-image-organizer/internal/registry"
	"github.com/Cavedragon13/ai-image-organizer/internal/repository"
)

const archiveTimeout = 5 * time.Second

type Describer interface {
	Describe(ctx context.Context, imagePath, model string) (string, error)
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Mover places files in the output tree. Prepare is called once per job
// before the first MoveOrCopy and its release func after the last.
type Mover interface {
	Prepare(outputRoot string) (func(), error)
	MoveOrCopy(src, dst string, copyFile bool) error
}

// Controller drives one job at a time through its phases and publishes a
// snapshot to the registry after every item.
type Controller struct {
	registry  *registry.Registry
	describer Describer
	embedder  Embedder
	mover     Mover
	history   repository.HistoryRepository
	logger    *slog.Logger
}

// NewController wires the collaborators. history may be nil.
func NewController(
	reg *registry.Registry,
	describer Describer,
	embedder Embedder,
	mover Mover,
	history repository.HistoryRepository,
	logger *slog.Logger,
) *Controller {
	return &Controller{
		registry:  reg,
		describer: describer,
		embedder:  embedder,
		mover:     mover,
		history:   history,
		logger:    logger,
	}
}

var errCancelled = errors.New("job cancelled")

// Run executes the job and always leaves it in a terminal state, unless it
// was deleted or had already finished.
func (c *Controller) Run(ctx context.Context, jobID string) {
	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	job, err := c.registry.Start(jobID, cancel)
	if err != nil {
		if errors.Is(err, domain.ErrNotCancellable) {
			c.archive(ctx, job)
		}
		c.logger.Debug("job not runnable", "job_id", jobID, "error", err)
		return
	}
	c.logger.Info("job started", "job_id", jobID, "input", job.InputRoot, "output", job.OutputRoot, "model", job.Settings.Model)

	result, runErr := c.execute(jobCtx, job)
	switch {
	case errors.Is(runErr, errCancelled):
		c.finish(ctx, jobID, func(j *domain.Job) {
			j.Status = domain.JobStatusCancelled
		})
	case runErr != nil:
		c.finish(ctx, jobID, func(j *domain.Job) {
			j.Status = domain.JobStatusError
			j.ErrorMessage = runErr.Error()
		})
	default:
		c.finish(ctx, jobID, func(j *domain.Job) {
			j.Status = domain.JobStatusCompleted
			j.Result = &result
		})
	}
}

func (c *Controller) execute(ctx context.Context, job domain.Job) (domain.Result, error) {
	if c.stopped(ctx, job.ID) {
		return domain.Result{}, errCancelled
	}
	if err := domain.ValidateSettings(job.Settings); err != nil {
		return domain.Result{}, err
	}

	paths, err := discovery.Images(job.InputRoot, discovery.Options{Exclude: job.OutputRoot})
	if err != nil {
		return domain.Result{}, domain.Fatal("cannot read input folder", err)
	}
	if len(paths) == 0 {
		return domain.Result{}, domain.Fatal("no images found", nil)
	}

	total := len(paths)
	if _, err := c.registry.Update(job.ID, func(j *domain.Job) {
		j.TotalItems = total
		j.Phase = domain.PhaseDescribing
	}); err != nil {
		return domain.Result{}, err
	}

	engine := cluster.NewEngine(job.Settings.SimilarityThreshold)
	skipped := make([]domain.SkippedItem, 0)
	for i, path := range paths {
		if c.stopped(ctx, job.ID) {
			return domain.Result{}, errCancelled
		}
		c.update(job.ID, func(j *domain.Job) { j.CurrentItem = path })

		item := domain.NewItem(i, path)
		if err := c.process(ctx, engine, item, job.Settings.Model); err != nil {
			if ctx.Err() != nil {
				return domain.Result{}, errCancelled
			}
			var itemErr *domain.ItemError
			if errors.As(err, &itemErr) {
				item.Status = domain.ItemFailed
				skipped = append(skipped, domain.SkippedItem{Path: path, Stage: itemErr.Stage, Reason: itemErr.Err.Error()})
				c.logger.Warn("item skipped", "job_id", job.ID, "path", path, "stage", itemErr.Stage, "error", itemErr.Err)
			}
		}

		processed := i + 1
		c.update(job.ID, func(j *domain.Job) {
			j.ProcessedItems = processed
			j.Progress = float64(processed) / float64(total) * 100
		})
	}

	if c.stopped(ctx, job.ID) {
		return domain.Result{}, errCancelled
	}
	c.update(job.ID, func(j *domain.Job) {
		j.Phase = domain.PhaseGrouping
		j.CurrentItem = ""
	})
	named := cluster.Finalize(engine.Groups(), cluster.FinalizeOptions{
		MinGroupSize: job.Settings.MinGroupSize,
		OutputRoot:   job.OutputRoot,
	})

	if c.stopped(ctx, job.ID) {
		return domain.Result{}, errCancelled
	}
	c.update(job.ID, func(j *domain.Job) { j.Phase = domain.PhaseOrganizing })

	groups, moveSkipped, err := c.organize(job, named)
	if err != nil {
		return domain.Result{}, err
	}
	skipped = append(skipped, moveSkipped...)

	organized := 0
	for _, group := range groups {
		organized += len(group.Files)
	}
	return domain.Result{
		Groups:  groups,
		Skipped: skipped,
		Stats: domain.ResultStats{
			TotalImages:     total,
			OrganizedImages: organized,
			GroupsCreated:   len(groups),
		},
	}, nil
}

// process runs describe, embed and assign for one item. Failures come back
// as *domain.ItemError.
func (c *Controller) process(ctx context.Context, engine *cluster.Engine, item *domain.Item, model string) error {
	description, err := c.describer.Describe(ctx, item.Path, model)
	if err != nil {
		return &domain.ItemError{Path: item.Path, Stage: domain.StageDescribe, Err: err}
	}
	item.Description = description
	item.Status = domain.ItemDescribed

	embedding, err := c.embedder.Embed(ctx, description)
	if err != nil {
		return &domain.ItemError{Path: item.Path, Stage: domain.StageEmbed, Err: err}
	}
	item.Embedding = embedding
	item.Status = domain.ItemEmbedded

	if _, err := engine.Assign(item); err != nil {
		return &domain.ItemError{Path: item.Path, Stage: domain.StageCluster, Err: err}
	}
	return nil
}

// organize moves every placement. Once it starts, cancellation is no longer
// observed and nothing is rolled back.
func (c *Controller) organize(job domain.Job, named []cluster.NamedGroup) ([]domain.GroupResult, []domain.SkippedItem, error) {
	release, err := c.mover.Prepare(job.OutputRoot)
	if err != nil {
		return nil, nil, domain.Fatal("output folder unavailable", err)
	}
	defer release()

	groups := make([]domain.GroupResult, 0, len(named))
	skipped := make([]domain.SkippedItem, 0)
	for _, group := range named {
		files := make([]domain.Placement, 0, len(group.Placements))
		for _, placement := range group.Placements {
			if err := c.mover.MoveOrCopy(placement.OriginalPath, placement.DestinationPath, job.Settings.CopyFiles); err != nil {
				itemErr := &domain.ItemError{Path: placement.OriginalPath, Stage: domain.StageMove, Err: err}
				skipped = append(skipped, domain.SkippedItem{Path: itemErr.Path, Stage: itemErr.Stage, Reason: err.Error()})
				c.logger.Warn("item skipped", "job_id", job.ID, "path", itemErr.Path, "stage", itemErr.Stage, "error", err)
				continue
			}
			files = append(files, placement)
		}
		if len(files) == 0 {
			continue
		}
		groups = append(groups, domain.GroupResult{CanonicalName: group.CanonicalName, Files: files})
	}
	return groups, skipped, nil
}

func (c *Controller) stopped(ctx context.Context, jobID string) bool {
	return ctx.Err() != nil || c.registry.CancelRequested(jobID)
}

// update publishes a progress snapshot and logs a rejected write.
func (c *Controller) update(jobID string, fn func(*domain.Job)) {
	if _, err := c.registry.Update(jobID, fn); err != nil {
		c.logger.Warn("job update failed", "job_id", jobID, "error", err)
	}
}

func (c *Controller) finish(ctx context.Context, jobID string, fn func(*domain.Job)) {
	job, err := c.registry.Update(jobID, func(j *domain.Job) {
		fn(j)
		j.Phase = domain.PhaseDone
		j.CurrentItem = ""
	})
	if err != nil {
		c.logger.Warn("could not finish job", "job_id", jobID, "error", err)
		return
	}

	attrs := []any{"job_id", jobID, "status", job.Status, "processed", job.ProcessedItems, "total", job.TotalItems}
	if job.ErrorMessage != "" {
		attrs = append(attrs, "error", job.ErrorMessage)
	}
	c.logger.Info("job finished", attrs...)
	c.archive(ctx, job)
}

func (c *Controller) archive(ctx context.Context, job domain.Job) {
	if c.history == nil {
		return
	}
	archiveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveTimeout)
	defer cancel()

	if err := c.history.Archive(archiveCtx, repository.EntryFromJob(job)); err != nil {
		c.logger.Warn("archive job failed", "job_id", job.ID, "error", fmt.Errorf("archive: %w", err))
	}
}
