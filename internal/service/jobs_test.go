package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Cavedragon13/ai-image-organizer/internal/domain"
	"github.com/Cavedragon13/ai-image-organizer/internal/logging"
	"github.com/Cavedragon13/ai-image-organizer/internal/queue"
	"github.com/Cavedragon13/ai-image-organizer/internal/registry"
	"github.com/Cavedragon13/ai-image-organizer/internal/repository"
)

func newService(capacity int) (*JobsService, *registry.Registry, *queue.Pool) {
	reg := registry.New()
	pool := queue.NewPool(1, capacity, logging.Discard())
	svc := NewJobsService(reg, pool, repository.NewMemoryHistory(), domain.DefaultSettings(), logging.Discard())
	return svc, reg, pool
}

func TestSubmitAppliesDefaults(t *testing.T) {
	svc, _, pool := newService(4)
	threshold := 0.7

	job, err := svc.Submit(context.Background(), SubmitRequest{
		InputFolder:  t.TempDir(),
		OutputFolder: t.TempDir(),
		Settings:     SettingsOverrides{SimilarityThreshold: &threshold},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.JobStatusQueued, job.Status)
	assert.Equal(t, domain.DefaultModel, job.Settings.Model)
	assert.Equal(t, 0.7, job.Settings.SimilarityThreshold)
	assert.Equal(t, domain.DefaultMinGroupSize, job.Settings.MinGroupSize)
	assert.True(t, job.Settings.CopyFiles)
	assert.Equal(t, 1, pool.Pending())
}

func TestSubmitRejectsMissingFolders(t *testing.T) {
	svc, _, _ := newService(4)

	_, err := svc.Submit(context.Background(), SubmitRequest{OutputFolder: t.TempDir()})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = svc.Submit(context.Background(), SubmitRequest{
		InputFolder:  filepath.Join(t.TempDir(), "missing"),
		OutputFolder: t.TempDir(),
	})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestSubmitBackpressureRemovesJob(t *testing.T) {
	svc, reg, _ := newService(1)
	request := SubmitRequest{InputFolder: t.TempDir(), OutputFolder: t.TempDir()}

	_, err := svc.Submit(context.Background(), request)
	require.NoError(t, err)

	_, err = svc.Submit(context.Background(), request)
	assert.ErrorIs(t, err, queue.ErrQueueBackpressure)
	assert.Len(t, reg.List(), 1)
}

func TestCancelAndDeleteLifecycle(t *testing.T) {
	svc, _, _ := newService(4)
	ctx := context.Background()
	job, err := svc.Submit(ctx, SubmitRequest{InputFolder: t.TempDir(), OutputFolder: t.TempDir()})
	require.NoError(t, err)

	assert.ErrorIs(t, svc.DeleteJob(ctx, job.ID), domain.ErrJobActive)

	cancelled, err := svc.CancelJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCancelled, cancelled.Status)

	_, err = svc.CancelJob(ctx, job.ID)
	assert.ErrorIs(t, err, domain.ErrNotCancellable)

	require.NoError(t, svc.DeleteJob(ctx, job.ID))
	_, err = svc.GetJob(ctx, job.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestBrowseFolderListsOnlyFolders(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "Beta"), 0o755))
	require.NoError(t, os.Mkdir(filepath.Join(root, "alpha"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "file.jpg"), []byte("x"), 0o644))

	listing, err := BrowseFolder(root)
	require.NoError(t, err)

	assert.Equal(t, root, listing.CurrentPath)
	require.NotNil(t, listing.ParentPath)
	assert.Equal(t, filepath.Dir(root), *listing.ParentPath)
	require.Len(t, listing.Items, 2)
	assert.Equal(t, "alpha", listing.Items[0].Name)
	assert.Equal(t, "Beta", listing.Items[1].Name)
	assert.Equal(t, "folder", listing.Items[0].Type)
}

func TestBrowseFolderMissing(t *testing.T) {
	_, err := BrowseFolder(filepath.Join(t.TempDir(), "nope"))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestBrowseFolderRootHasNoParent(t *testing.T) {
	listing, err := BrowseFolder(string(filepath.Separator))
	require.NoError(t, err)
	assert.Nil(t, listing.ParentPath)
}
