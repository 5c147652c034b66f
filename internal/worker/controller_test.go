package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Cavedragon13/ai-image-organizer/internal/domain"
	"github.com/Cavedragon13/ai-image-organizer/internal/logging"
	"github.com/Cavedragon13/ai-image-organizer/internal/mover"
	"github.com/Cavedragon13/ai-image-organizer/internal/registry"
	"github.com/Cavedragon13/ai-image-organizer/internal/repository"
)

// fakeDescriber captions every image with the text before the first "-" in
// its file name, so "cat-1.jpg" and "cat-2.jpg" share a theme.
type fakeDescriber struct {
	mu    sync.Mutex
	fail  map[string]bool
	calls int
}

func (d *fakeDescriber) Describe(_ context.Context, imagePath, _ string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	name := filepath.Base(imagePath)
	if d.fail[name] {
		return "", errors.New("vision model unavailable")
	}
	theme := strings.SplitN(name, "-", 2)[0]
	return theme + " " + theme + " photo", nil
}

// fakeEmbedder maps each theme onto its own axis.
type fakeEmbedder struct {
	mu        sync.Mutex
	axes      map[string]int
	calls     int
	onCall    func(call int)
	nonFinite map[string]bool
}

func (e *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	e.calls++
	call := e.calls
	if e.axes == nil {
		e.axes = make(map[string]int)
	}
	theme := strings.Fields(text)[0]
	axis, ok := e.axes[theme]
	if !ok {
		axis = len(e.axes)
		e.axes[theme] = axis
	}
	hook := e.onCall
	poisoned := e.nonFinite[theme]
	e.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	vector := make([]float32, 8)
	vector[axis%8] = 1
	if poisoned {
		vector[axis%8] = float32(math.NaN())
	}
	return vector, nil
}

type recordingMover struct {
	mu       sync.Mutex
	prepared int
	moves    []string
	failSrc  map[string]bool
	inner    Mover
}

func (m *recordingMover) Prepare(outputRoot string) (func(), error) {
	m.mu.Lock()
	m.prepared++
	m.mu.Unlock()
	if m.inner != nil {
		return m.inner.Prepare(outputRoot)
	}
	return func() {}, nil
}

func (m *recordingMover) MoveOrCopy(src, dst string, copyFile bool) error {
	m.mu.Lock()
	m.moves = append(m.moves, dst)
	fail := m.failSrc[filepath.Base(src)]
	m.mu.Unlock()
	if fail {
		return errors.New("disk full")
	}
	if m.inner != nil {
		return m.inner.MoveOrCopy(src, dst, copyFile)
	}
	return nil
}

func (m *recordingMover) moveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.moves)
}

func seedImages(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(name), 0o644))
	}
}

type harness struct {
	registry  *registry.Registry
	describer *fakeDescriber
	embedder  *fakeEmbedder
	mover     *recordingMover
	history   *repository.MemoryHistory
	ctrl      *Controller
}

func newHarness() *harness {
	h := &harness{
		registry:  registry.New(),
		describer: &fakeDescriber{},
		embedder:  &fakeEmbedder{},
		mover:     &recordingMover{},
		history:   repository.NewMemoryHistory(),
	}
	h.ctrl = NewController(h.registry, h.describer, h.embedder, h.mover, h.history, logging.Discard())
	return h
}

func settings(minGroup int) domain.Settings {
	s := domain.DefaultSettings()
	s.MinGroupSize = minGroup
	return s
}

func TestRunOrganizesIntoNamedGroups(t *testing.T) {
	input := t.TempDir()
	output := filepath.Join(t.TempDir(), "organized")
	seedImages(t, input, "cat-1.jpg", "cat-2.jpg", "cat-3.png", "dog-1.jpg", "tree-1.jpg")

	h := newHarness()
	h.mover.inner = mover.New(logging.Discard())
	job := h.registry.Create(input, output, settings(3))

	h.ctrl.Run(context.Background(), job.ID)

	got, err := h.registry.Get(job.ID)
	require.NoError(t, err)
	require.Equal(t, domain.JobStatusCompleted, got.Status, got.ErrorMessage)
	assert.Equal(t, domain.PhaseDone, got.Phase)
	assert.Equal(t, 100.0, got.Progress)
	assert.Equal(t, 5, got.TotalItems)
	require.NotNil(t, got.Result)

	require.Len(t, got.Result.Groups, 2)
	assert.Equal(t, "cat", got.Result.Groups[0].CanonicalName)
	assert.Len(t, got.Result.Groups[0].Files, 3)
	assert.Equal(t, "misc_singles", got.Result.Groups[1].CanonicalName)
	assert.Len(t, got.Result.Groups[1].Files, 2)
	assert.Empty(t, got.Result.Skipped)
	assert.Equal(t, domain.ResultStats{TotalImages: 5, OrganizedImages: 5, GroupsCreated: 2}, got.Result.Stats)

	assert.FileExists(t, filepath.Join(output, "cat", "cat_01.jpg"))
	assert.FileExists(t, filepath.Join(output, "cat", "cat_03.png"))
	assert.FileExists(t, filepath.Join(output, "misc_singles", "misc_singles_02.jpg"))
	assert.FileExists(t, filepath.Join(input, "cat-1.jpg"), "copy mode keeps the source")

	archived, total, err := h.history.List(context.Background(), domain.HistoryFilter{})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, job.ID, archived[0].JobID)
}

func TestRunSkipsFailedDescriptions(t *testing.T) {
	input := t.TempDir()
	names := make([]string, 0, 10)
	for i := 0; i < 10; i++ {
		names = append(names, fmt.Sprintf("cat-%02d.jpg", i))
	}
	seedImages(t, input, names...)

	h := newHarness()
	h.describer.fail = map[string]bool{"cat-04.jpg": true}
	job := h.registry.Create(input, t.TempDir(), settings(3))

	h.ctrl.Run(context.Background(), job.ID)

	got, err := h.registry.Get(job.ID)
	require.NoError(t, err)
	require.Equal(t, domain.JobStatusCompleted, got.Status)
	assert.Equal(t, 10, got.ProcessedItems)
	assert.Equal(t, 100.0, got.Progress)

	require.Len(t, got.Result.Skipped, 1)
	assert.Equal(t, filepath.Join(input, "cat-04.jpg"), got.Result.Skipped[0].Path)
	assert.Equal(t, domain.StageDescribe, got.Result.Skipped[0].Stage)
	assert.Contains(t, got.Result.Skipped[0].Reason, "vision model unavailable")

	placed := 0
	for _, group := range got.Result.Groups {
		placed += len(group.Files)
	}
	assert.Equal(t, 9, placed)
	assert.Equal(t, 9, h.mover.moveCount())
}

func TestRunCancelledMidwayNeverMoves(t *testing.T) {
	input := t.TempDir()
	names := make([]string, 0, 10)
	for i := 0; i < 10; i++ {
		names = append(names, fmt.Sprintf("cat-%02d.jpg", i))
	}
	seedImages(t, input, names...)

	h := newHarness()
	job := h.registry.Create(input, t.TempDir(), settings(3))
	h.embedder.onCall = func(call int) {
		if call == 3 {
			_, err := h.registry.Cancel(job.ID)
			require.NoError(t, err)
		}
	}

	h.ctrl.Run(context.Background(), job.ID)

	got, err := h.registry.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCancelled, got.Status)
	assert.Equal(t, 3, got.ProcessedItems)
	assert.Nil(t, got.Result)
	assert.Equal(t, 0, h.mover.prepared)
	assert.Equal(t, 0, h.mover.moveCount())
}

func TestRunEmptyInputIsJobError(t *testing.T) {
	h := newHarness()
	job := h.registry.Create(t.TempDir(), t.TempDir(), settings(3))

	h.ctrl.Run(context.Background(), job.ID)

	got, err := h.registry.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusError, got.Status)
	assert.Equal(t, "no images found", got.ErrorMessage)
	assert.Nil(t, got.Result)
	assert.Equal(t, 0, h.describer.calls)
}

func TestRunUnreadableInputIsJobError(t *testing.T) {
	h := newHarness()
	job := h.registry.Create(filepath.Join(t.TempDir(), "missing"), t.TempDir(), settings(3))

	h.ctrl.Run(context.Background(), job.ID)

	got, err := h.registry.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusError, got.Status)
	assert.True(t, strings.HasPrefix(got.ErrorMessage, "cannot read input folder"), got.ErrorMessage)
}

func TestRunInvalidSettingsIsJobError(t *testing.T) {
	input := t.TempDir()
	seedImages(t, input, "cat-1.jpg")

	h := newHarness()
	bad := settings(3)
	bad.SimilarityThreshold = 1.5
	job := h.registry.Create(input, t.TempDir(), bad)

	h.ctrl.Run(context.Background(), job.ID)

	got, err := h.registry.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusError, got.Status)
	assert.Contains(t, got.ErrorMessage, "invalid settings")
}

func TestRunLockedOutputIsJobError(t *testing.T) {
	input := t.TempDir()
	output := t.TempDir()
	seedImages(t, input, "cat-1.jpg", "cat-2.jpg", "cat-3.jpg")

	fileMover := mover.New(logging.Discard())
	release, err := fileMover.Prepare(output)
	require.NoError(t, err)
	defer release()

	h := newHarness()
	h.mover.inner = fileMover
	job := h.registry.Create(input, output, settings(3))

	h.ctrl.Run(context.Background(), job.ID)

	got, err := h.registry.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusError, got.Status)
	assert.Contains(t, got.ErrorMessage, "output folder unavailable")
	assert.Equal(t, 0, h.mover.moveCount())
}

func TestRunMoveFailureBecomesSkippedItem(t *testing.T) {
	input := t.TempDir()
	seedImages(t, input, "cat-1.jpg", "cat-2.jpg", "cat-3.jpg")

	h := newHarness()
	h.mover.failSrc = map[string]bool{"cat-2.jpg": true}
	job := h.registry.Create(input, t.TempDir(), settings(3))

	h.ctrl.Run(context.Background(), job.ID)

	got, err := h.registry.Get(job.ID)
	require.NoError(t, err)
	require.Equal(t, domain.JobStatusCompleted, got.Status)
	require.Len(t, got.Result.Groups, 1)
	assert.Len(t, got.Result.Groups[0].Files, 2)
	require.Len(t, got.Result.Skipped, 1)
	assert.Equal(t, domain.StageMove, got.Result.Skipped[0].Stage)
	assert.Equal(t, 2, got.Result.Stats.OrganizedImages)
}

func TestRunQueuedCancelledJobIsNotStarted(t *testing.T) {
	input := t.TempDir()
	seedImages(t, input, "cat-1.jpg")

	h := newHarness()
	job := h.registry.Create(input, t.TempDir(), settings(1))
	_, err := h.registry.Cancel(job.ID)
	require.NoError(t, err)

	h.ctrl.Run(context.Background(), job.ID)

	got, err := h.registry.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCancelled, got.Status)
	assert.Nil(t, got.StartedAt)
	assert.Equal(t, 0, h.describer.calls)

	archived, total, err := h.history.List(context.Background(), domain.HistoryFilter{})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, job.ID, archived[0].JobID)
	assert.Equal(t, domain.JobStatusCancelled, archived[0].Status)
}

func TestRunNonFiniteEmbeddingIsSkippedAtClusterStage(t *testing.T) {
	input := t.TempDir()
	seedImages(t, input, "glitch-1.jpg", "cat-1.jpg", "cat-2.jpg", "cat-3.jpg")

	h := newHarness()
	h.embedder.nonFinite = map[string]bool{"glitch": true}
	job := h.registry.Create(input, t.TempDir(), settings(3))

	h.ctrl.Run(context.Background(), job.ID)

	got, err := h.registry.Get(job.ID)
	require.NoError(t, err)
	require.Equal(t, domain.JobStatusCompleted, got.Status, got.ErrorMessage)

	require.Len(t, got.Result.Skipped, 1)
	assert.Equal(t, filepath.Join(input, "glitch-1.jpg"), got.Result.Skipped[0].Path)
	assert.Equal(t, domain.StageCluster, got.Result.Skipped[0].Stage)
	assert.Contains(t, got.Result.Skipped[0].Reason, "non-finite")

	require.Len(t, got.Result.Groups, 1)
	assert.Equal(t, "cat", got.Result.Groups[0].CanonicalName)
	assert.Len(t, got.Result.Groups[0].Files, 3)
	assert.Equal(t, domain.ResultStats{TotalImages: 4, OrganizedImages: 3, GroupsCreated: 1}, got.Result.Stats)
}

func TestUpdateLogsRejectedSnapshot(t *testing.T) {
	var logs strings.Builder
	reg := registry.New()
	ctrl := NewController(reg, &fakeDescriber{}, &fakeEmbedder{}, &recordingMover{}, nil, slog.New(slog.NewTextHandler(&logs, nil)))

	job := reg.Create("/in", "/out", settings(1))
	_, err := reg.Cancel(job.ID)
	require.NoError(t, err)

	ctrl.update(job.ID, func(j *domain.Job) { j.CurrentItem = "/in/a.jpg" })
	ctrl.update("missing", func(j *domain.Job) { j.Phase = domain.PhaseGrouping })

	out := logs.String()
	assert.Equal(t, 2, strings.Count(out, "job update failed"))
	assert.Contains(t, out, "job_id="+job.ID)
	assert.Contains(t, out, "job_id=missing")
	assert.Contains(t, out, domain.ErrNotCancellable.Error())
	assert.Contains(t, out, domain.ErrNotFound.Error())

	got, err := reg.Get(job.ID)
	require.NoError(t, err)
	assert.Empty(t, got.CurrentItem)
}

func TestRunShutdownEndsJobCancelled(t *testing.T) {
	input := t.TempDir()
	seedImages(t, input, "cat-1.jpg", "cat-2.jpg")

	h := newHarness()
	job := h.registry.Create(input, t.TempDir(), settings(1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h.ctrl.Run(ctx, job.ID)

	got, err := h.registry.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCancelled, got.Status)
}

func TestRunPublishesMonotonicSnapshots(t *testing.T) {
	input := t.TempDir()
	names := make([]string, 0, 40)
	for i := 0; i < 40; i++ {
		names = append(names, fmt.Sprintf("theme%d-%02d.jpg", i%4, i))
	}
	seedImages(t, input, names...)

	h := newHarness()
	h.embedder.onCall = func(int) { time.Sleep(time.Millisecond) }
	job := h.registry.Create(input, t.TempDir(), settings(3))

	done := make(chan struct{})
	go func() {
		h.ctrl.Run(context.Background(), job.ID)
		close(done)
	}()

	lastProgress := 0.0
	lastProcessed := 0
	for {
		snapshot, err := h.registry.Get(job.ID)
		require.NoError(t, err)
		require.GreaterOrEqual(t, snapshot.Progress, lastProgress)
		require.GreaterOrEqual(t, snapshot.ProcessedItems, lastProcessed)
		require.LessOrEqual(t, snapshot.Progress, 100.0)
		lastProgress = snapshot.Progress
		lastProcessed = snapshot.ProcessedItems
		if snapshot.Status.Terminal() {
			break
		}
		time.Sleep(100 * time.Microsecond)
	}
	<-done

	got, err := h.registry.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, got.Status)
	assert.Len(t, got.Result.Groups, 4)
}
