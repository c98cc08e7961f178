package concurrency

import (
	"fmt"
	"time"

	"flashgate/internal/core"

	"github.com/alitto/pond"
)

// PoolConfig sizes a worker pool.
type PoolConfig struct {
	Name        string
	MaxWorkers  int
	MaxCapacity int
	IdleTimeout time.Duration
	// NonBlocking makes Submit fail fast instead of blocking when the
	// queue is full.
	NonBlocking bool
}

// WorkerPool runs dispatched commands on a bounded set of goroutines so a
// burst from the core cannot spawn unbounded work. Panics in tasks are
// recovered and logged rather than taking the process down.
type WorkerPool struct {
	pool   *pond.WorkerPool
	config PoolConfig
	logger core.ILogger
}

func NewWorkerPool(cfg PoolConfig, logger core.ILogger) *WorkerPool {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 10
	}
	if cfg.MaxCapacity <= 0 {
		cfg.MaxCapacity = 100
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}

	log := logger.WithField("component", "worker_pool").WithField("pool", cfg.Name)

	pool := pond.New(
		cfg.MaxWorkers,
		cfg.MaxCapacity,
		pond.MinWorkers(1),
		pond.IdleTimeout(cfg.IdleTimeout),
		pond.Strategy(pond.Balanced()),
		pond.PanicHandler(func(p interface{}) {
			log.Error("Worker panic recovered", "panic", p)
		}),
	)

	return &WorkerPool{pool: pool, config: cfg, logger: log}
}

// Submit queues a task. With NonBlocking set it returns an error when the
// queue is full; otherwise it blocks until a slot frees up.
func (wp *WorkerPool) Submit(task func()) error {
	if wp.config.NonBlocking {
		if !wp.pool.TrySubmit(task) {
			return fmt.Errorf("worker pool '%s' is full (capacity: %d)", wp.config.Name, wp.config.MaxCapacity)
		}
		return nil
	}
	wp.pool.Submit(task)
	return nil
}

// SubmitAndWait queues a task and blocks until it has run.
func (wp *WorkerPool) SubmitAndWait(task func()) {
	done := make(chan struct{})
	wp.pool.Submit(func() {
		task()
		close(done)
	})
	<-done
}

// Stop drains queued tasks and waits for in-flight ones to finish.
func (wp *WorkerPool) Stop() {
	wp.pool.StopAndWait()
}
