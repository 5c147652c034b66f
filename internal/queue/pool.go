package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

var ErrQueueBackpressure = errors.New("queue backpressure: submission buffer is full")

// Handler runs one job. It receives a cancelled context for jobs drained
// during shutdown and must still drive them to a terminal state.
type Handler func(ctx context.Context, jobID string)

// Pool is a fixed set of workers fed from a bounded submission buffer.
type Pool struct {
	ch      chan string
	workers int
	logger  *slog.Logger
}

func NewPool(workers, capacity int, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = 2
	}
	if capacity <= 0 {
		capacity = 64
	}
	return &Pool{
		ch:      make(chan string, capacity),
		workers: workers,
		logger:  logger,
	}
}

// Submit hands a job id to the pool without blocking.
func (p *Pool) Submit(jobID string) error {
	select {
	case p.ch <- jobID:
		return nil
	default:
		return ErrQueueBackpressure
	}
}

// Pending is the number of submissions not yet picked up by a worker.
func (p *Pool) Pending() int {
	return len(p.ch)
}

// Run starts the workers and blocks until ctx is done and every worker has
// returned. Submissions still buffered at that point are drained through
// handler with the cancelled context.
func (p *Pool) Run(ctx context.Context, handler Handler) {
	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			p.work(ctx, worker, handler)
		}(i)
	}
	wg.Wait()

	drained := 0
	for {
		select {
		case jobID := <-p.ch:
			handler(ctx, jobID)
			drained++
		default:
			if drained > 0 {
				p.logger.Info("pool drained pending jobs", "count", drained)
			}
			return
		}
	}
}

func (p *Pool) work(ctx context.Context, worker int, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case jobID := <-p.ch:
			p.logger.Debug("worker picked job", "worker", worker, "job_id", jobID)
			handler(ctx, jobID)
		}
	}
}
