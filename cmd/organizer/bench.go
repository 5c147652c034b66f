package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/Cavedragon13/ai-image-organizer/internal/domain"
	httpserver "github.com/Cavedragon13/ai-image-organizer/internal/http"
	"github.com/Cavedragon13/ai-image-organizer/internal/http/handlers"
	"github.com/Cavedragon13/ai-image-organizer/internal/logging"
	"github.com/Cavedragon13/ai-image-organizer/internal/mover"
	"github.com/Cavedragon13/ai-image-organizer/internal/queue"
	"github.com/Cavedragon13/ai-image-organizer/internal/registry"
	"github.com/Cavedragon13/ai-image-organizer/internal/repository"
	"github.com/Cavedragon13/ai-image-organizer/internal/service"
	"github.com/Cavedragon13/ai-image-organizer/internal/worker"
)

type scenarioResult struct {
	Name          string   `json:"name"`
	Total         int      `json:"total"`
	Success       int      `json:"success"`
	Errors        int      `json:"errors"`
	P50MS         float64  `json:"p50_ms"`
	P95MS         float64  `json:"p95_ms"`
	P99MS         float64  `json:"p99_ms"`
	MaxMS         float64  `json:"max_ms"`
	ThroughputRPS float64  `json:"throughput_rps"`
	ErrorSamples  []string `json:"error_samples,omitempty"`
}

type benchReport struct {
	GeneratedAtUTC string           `json:"generated_at_utc"`
	Jobs           int              `json:"jobs"`
	ImagesPerJob   int              `json:"images_per_job"`
	Workers        int              `json:"workers"`
	ModelLatencyMS int64            `json:"model_latency_ms"`
	Results        []scenarioResult `json:"results"`
}

type benchOptions struct {
	jobs         int
	images       int
	themes       int
	workers      int
	concurrency  int
	modelLatency time.Duration
	output       string
}

var benchThemes = []string{
	"sunset beach ocean waves",
	"mountain snow peak forest",
	"city night neon street",
	"cat sleeping sofa blanket",
	"castle dragon fantasy sky",
	"portrait woman smiling studio",
}

// syntheticModel describes files by the theme index encoded in their name
// and embeds each theme onto its own axis.
type syntheticModel struct {
	latency time.Duration
}

func (m syntheticModel) wait(ctx context.Context) error {
	if m.latency <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(m.latency)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (m syntheticModel) Describe(ctx context.Context, imagePath, _ string) (string, error) {
	if err := m.wait(ctx); err != nil {
		return "", err
	}
	var theme, seq int
	if _, err := fmt.Sscanf(filepath.Base(imagePath), "theme%d_%d.jpg", &theme, &seq); err != nil {
		return "", fmt.Errorf("unrecognized synthetic image %s", imagePath)
	}
	return benchThemes[theme%len(benchThemes)], nil
}

func (m syntheticModel) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	vector := make([]float32, len(benchThemes))
	for i, theme := range benchThemes {
		if theme == text {
			vector[i] = 1
			return vector, nil
		}
	}
	hasher := fnv.New32a()
	_, _ = hasher.Write([]byte(text))
	vector[hasher.Sum32()%uint32(len(vector))] = 1
	return vector, nil
}

func newBenchCommand() *cobra.Command {
	var opts benchOptions
	cmd := &cobra.Command{
		Use:         "bench",
		Short:       "Benchmark the job pipeline against a synthetic model",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := runBench(cmd.Context(), opts)
			if err != nil {
				return err
			}
			encoded, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return fmt.Errorf("marshal benchmark report: %w", err)
			}
			if opts.output != "" {
				if err := os.WriteFile(opts.output, encoded, 0o644); err != nil {
					return fmt.Errorf("write benchmark report: %w", err)
				}
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(encoded))
			return err
		},
	}
	cmd.Flags().IntVar(&opts.jobs, "jobs", 40, "Jobs to submit")
	cmd.Flags().IntVar(&opts.images, "images", 30, "Synthetic images per job")
	cmd.Flags().IntVar(&opts.themes, "themes", 4, "Distinct themes per job")
	cmd.Flags().IntVar(&opts.workers, "workers", 4, "Worker pool size")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 8, "Concurrent HTTP clients")
	cmd.Flags().DurationVar(&opts.modelLatency, "model-latency", 0, "Simulated latency per model call")
	cmd.Flags().StringVar(&opts.output, "output", "", "Optional path to persist the JSON report")
	return cmd
}

func runBench(parent context.Context, opts benchOptions) (benchReport, error) {
	if opts.jobs <= 0 || opts.images <= 0 {
		return benchReport{}, fmt.Errorf("jobs and images must be positive")
	}
	if opts.themes <= 0 {
		opts.themes = 1
	}
	if opts.workers <= 0 {
		opts.workers = 1
	}

	baseDir, err := os.MkdirTemp("", "organizer-bench-")
	if err != nil {
		return benchReport{}, fmt.Errorf("create bench folder: %w", err)
	}
	defer os.RemoveAll(baseDir)

	inputs := make([]string, opts.jobs)
	for i := range inputs {
		inputs[i] = filepath.Join(baseDir, fmt.Sprintf("input-%03d", i))
		if err := writeSyntheticImages(inputs[i], opts.images, opts.themes); err != nil {
			return benchReport{}, err
		}
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	logger := logging.Discard()
	reg := registry.New()
	history := repository.NewMemoryHistory()
	pool := queue.NewPool(opts.workers, opts.jobs, logger)
	model := syntheticModel{latency: opts.modelLatency}
	controller := worker.NewController(reg, model, model, mover.New(logger), history, logger)
	go pool.Run(ctx, controller.Run)

	jobs := service.NewJobsService(reg, pool, history, domain.DefaultSettings(), logger)
	server := httptest.NewServer(httpserver.NewRouter(ctx, httpserver.RouterDependencies{
		API:            handlers.NewAPI(jobs, logger),
		Logger:         logger,
		RateLimitRPS:   20000,
		RateLimitBurst: 20000,
	}))
	defer server.Close()

	client := &http.Client{Timeout: 10 * time.Second}
	var (
		mu     sync.Mutex
		jobIDs = make([]string, opts.jobs)
	)

	submit := runScenario("jobs_submit", opts.jobs, opts.concurrency, func(index int) error {
		var accepted struct {
			JobID string `json:"job_id"`
		}
		err := postJSON(client, server.URL+"/v1/jobs", map[string]any{
			"input_folder":  inputs[index],
			"output_folder": filepath.Join(baseDir, fmt.Sprintf("output-%03d", index)),
		}, http.StatusAccepted, &accepted)
		if err != nil {
			return err
		}
		mu.Lock()
		jobIDs[index] = accepted.JobID
		mu.Unlock()
		return nil
	})

	complete := runScenario("jobs_complete", opts.jobs, opts.concurrency, func(index int) error {
		mu.Lock()
		jobID := jobIDs[index]
		mu.Unlock()
		if jobID == "" {
			return fmt.Errorf("job %d was not accepted", index)
		}
		return awaitJob(ctx, client, server.URL+"/v1/jobs/"+jobID)
	})

	statusPolls := runScenario("job_status", opts.jobs*4, opts.concurrency, func(index int) error {
		mu.Lock()
		jobID := jobIDs[index%len(jobIDs)]
		mu.Unlock()
		return getJSON(client, server.URL+"/v1/jobs/"+jobID, http.StatusOK, nil)
	})

	historyList := runScenario("history_list", opts.jobs, opts.concurrency, func(index int) error {
		return getJSON(client, fmt.Sprintf("%s/v1/history?page=%d&page_size=20", server.URL, index%3+1), http.StatusOK, nil)
	})

	return benchReport{
		GeneratedAtUTC: time.Now().UTC().Format(time.RFC3339Nano),
		Jobs:           opts.jobs,
		ImagesPerJob:   opts.images,
		Workers:        opts.workers,
		ModelLatencyMS: opts.modelLatency.Milliseconds(),
		Results:        []scenarioResult{submit, complete, statusPolls, historyList},
	}, nil
}

func writeSyntheticImages(dir string, count, themes int) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create synthetic folder: %w", err)
	}
	for i := 0; i < count; i++ {
		name := fmt.Sprintf("theme%d_%04d.jpg", i%themes, i)
		if err := os.WriteFile(filepath.Join(dir, name), []byte(name), 0o644); err != nil {
			return fmt.Errorf("write synthetic image: %w", err)
		}
	}
	return nil
}

func awaitJob(ctx context.Context, client *http.Client, url string) error {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		var status struct {
			Status string `json:"status"`
			Error  *struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := getJSON(client, url, http.StatusOK, &status); err != nil {
			return err
		}
		switch domain.JobStatus(status.Status) {
		case domain.JobStatusCompleted:
			return nil
		case domain.JobStatusError, domain.JobStatusCancelled:
			if status.Error != nil {
				return fmt.Errorf("job %s: %s", status.Status, status.Error.Message)
			}
			return fmt.Errorf("job %s", status.Status)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func runScenario(name string, total, concurrency int, requestFn func(index int) error) scenarioResult {
	if total <= 0 {
		return scenarioResult{Name: name}
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	type sample struct {
		durationMS float64
		err        string
	}

	startedAt := time.Now()
	indexes := make(chan int, total)
	samples := make(chan sample, total)
	for i := 0; i < total; i++ {
		indexes <- i
	}
	close(indexes)

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for index := range indexes {
				start := time.Now()
				err := requestFn(index)
				s := sample{durationMS: float64(time.Since(start).Microseconds()) / 1000.0}
				if err != nil {
					s.err = err.Error()
				}
				samples <- s
			}
		}()
	}
	wg.Wait()
	close(samples)

	result := scenarioResult{Name: name, Total: total}
	durations := make([]float64, 0, total)
	for s := range samples {
		durations = append(durations, s.durationMS)
		if s.err == "" {
			result.Success++
			continue
		}
		result.Errors++
		if len(result.ErrorSamples) < 5 {
			result.ErrorSamples = append(result.ErrorSamples, s.err)
		}
	}

	sort.Float64s(durations)
	result.P50MS = percentile(durations, 0.50)
	result.P95MS = percentile(durations, 0.95)
	result.P99MS = percentile(durations, 0.99)
	result.MaxMS = percentile(durations, 1.00)
	if elapsed := time.Since(startedAt).Seconds(); elapsed > 0 {
		result.ThroughputRPS = round2(float64(total) / elapsed)
	}
	return result
}

func postJSON(client *http.Client, url string, payload any, expectedStatus int, out any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	request, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	return doJSON(client, request, expectedStatus, out)
}

func getJSON(client *http.Client, url string, expectedStatus int, out any) error {
	request, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	return doJSON(client, request, expectedStatus, out)
}

func doJSON(client *http.Client, request *http.Request, expectedStatus int, out any) error {
	request.Header.Set("Accept", "application/json")
	response, err := client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode != expectedStatus {
		body, _ := io.ReadAll(io.LimitReader(response.Body, 1024))
		return fmt.Errorf("unexpected status %d (expected %d): %s", response.StatusCode, expectedStatus, strings.TrimSpace(string(body)))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, response.Body)
		return nil
	}
	return json.NewDecoder(response.Body).Decode(out)
}

func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	if p <= 0 {
		return round2(values[0])
	}
	if p >= 1 {
		return round2(values[len(values)-1])
	}
	rank := int(math.Ceil(float64(len(values))*p)) - 1
	rank = max(0, min(rank, len(values)-1))
	return round2(values[rank])
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}
