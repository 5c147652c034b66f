package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("resource not found")
	ErrNotCancellable = errors.New("job already finished")
	ErrJobActive      = errors.New("job is still active")
)

type ItemStage string

const (
	StageDescribe ItemStage = "describe"
	StageEmbed    ItemStage = "embed"
	StageCluster  ItemStage = "cluster"
	StageMove     ItemStage = "move"
)

// ItemError is a per-image failure. It is recorded as a skipped entry and
// never aborts the job.
type ItemError struct {
	Path  string
	Stage ItemStage
	Err   error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Stage, e.Path, e.Err)
}

func (e *ItemError) Unwrap() error {
	return e.Err
}

// JobFatalError aborts a whole job; its message becomes the job's error.
type JobFatalError struct {
	Reason string
	Err    error
}

func (e *JobFatalError) Error() string {
	if e.Err == nil {
		return e.Reason
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *JobFatalError) Unwrap() error {
	return e.Err
}

func Fatal(reason string, err error) error {
	return &JobFatalError{Reason: reason, Err: err}
}

// ValidateSettings rejects settings outside their documented ranges.
func ValidateSettings(settings Settings) error {
	if settings.SimilarityThreshold <= 0 || settings.SimilarityThreshold > 1 {
		return Fatal("invalid settings", fmt.Errorf("similarity_threshold must be in (0,1], got %v", settings.SimilarityThreshold))
	}
	if settings.MinGroupSize < 1 {
		return Fatal("invalid settings", fmt.Errorf("min_group_size must be >= 1, got %d", settings.MinGroupSize))
	}
	if settings.Model == "" {
		return Fatal("invalid settings", errors.New("model is required"))
	}
	return nil
}
