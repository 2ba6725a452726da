package jobs

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Job is one unit of work dispatched by a Pool.
type Job struct {
	ID      string
	Type    string
	Payload interface{}
}

// Handler processes a job.
type Handler func(context.Context, Job) error

// PoolConfig configures worker pool behaviour.
type PoolConfig struct {
	Workers int
	Logger  *zap.Logger
}

// Pool fans a batch of jobs out to a bounded set of goroutines and joins
// them. Failed jobs are never retried.
type Pool struct {
	name    string
	workers int
	logger  *zap.Logger
}

// NewPool builds a pool.
func NewPool(name string, cfg PoolConfig) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Pool{name: name, workers: cfg.Workers, logger: cfg.Logger}
}

// Run dispatches every job and waits for all of them. It returns the first
// error reported by a handler; the remaining jobs still run to completion.
func (p *Pool) Run(ctx context.Context, batch []Job, handler Handler) error {
	if len(batch) == 0 {
		return nil
	}
	start := time.Now()
	workers := p.workers
	if workers > len(batch) {
		workers = len(batch)
	}

	queue := make(chan Job)
	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
		failed   int
		mu       sync.Mutex
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range queue {
				if err := handler(ctx, job); err != nil {
					once.Do(func() { firstErr = err })
					mu.Lock()
					failed++
					mu.Unlock()
					p.logger.Sugar().Warnw("job failed", "pool", p.name, "job_id", job.ID, "type", job.Type, "error", err)
				}
			}
		}()
	}
	for _, job := range batch {
		queue <- job
	}
	close(queue)
	wg.Wait()

	p.logger.Sugar().Debugw("batch finished", "pool", p.name, "jobs", len(batch), "failed", failed, "duration", time.Since(start))
	return firstErr
}
