// Package workers runs indexed trials on a bounded pool of goroutines.
package workers

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Job computes the value of one indexed trial
type Job[T any] func(ctx context.Context, index int) (T, error)

// Outcome is the result slot of one trial. Done is false for trials never
// started because the context was cancelled first.
type Outcome[T any] struct {
	Index int
	Value T
	Err   error
	Done  bool
}

// PoolConfig configures the worker pool
type PoolConfig struct {
	Name          string // Pool name for logging
	NumWorkers    int    // Number of worker goroutines
	PanicRecovery bool   // Convert job panics into PanicError
}

// DefaultPoolConfig returns one worker per CPU with panic recovery
func DefaultPoolConfig(name string) *PoolConfig {
	return &PoolConfig{
		Name:          name,
		NumWorkers:    runtime.NumCPU(),
		PanicRecovery: true,
	}
}

// PoolMetrics tracks pool counters; fields are updated atomically
type PoolMetrics struct {
	TasksSubmitted int64
	TasksCompleted int64
	TasksFailed    int64
	PanicRecovered int64

	startTime time.Time
}

// NewPoolMetrics creates a new metrics tracker
func NewPoolMetrics() *PoolMetrics {
	return &PoolMetrics{startTime: time.Now()}
}

// GetStats returns current metrics
func (m *PoolMetrics) GetStats() PoolStats {
	completed := atomic.LoadInt64(&m.TasksCompleted)
	uptime := time.Since(m.startTime)

	var throughput float64
	if secs := uptime.Seconds(); secs > 0 {
		throughput = float64(completed) / secs
	}

	return PoolStats{
		TasksSubmitted: atomic.LoadInt64(&m.TasksSubmitted),
		TasksCompleted: completed,
		TasksFailed:    atomic.LoadInt64(&m.TasksFailed),
		PanicRecovered: atomic.LoadInt64(&m.PanicRecovered),
		Throughput:     throughput,
		Uptime:         uptime,
	}
}

// PoolStats contains pool statistics
type PoolStats struct {
	TasksSubmitted int64         `json:"tasks_submitted"`
	TasksCompleted int64         `json:"tasks_completed"`
	TasksFailed    int64         `json:"tasks_failed"`
	PanicRecovered int64         `json:"panic_recovered"`
	Throughput     float64       `json:"throughput"`
	Uptime         time.Duration `json:"uptime"`
}

// Pool executes batches of indexed jobs
type Pool struct {
	logger  *zap.Logger
	config  *PoolConfig
	metrics *PoolMetrics
}

// NewPool creates a new worker pool
func NewPool(logger *zap.Logger, config *PoolConfig) *Pool {
	if config == nil {
		config = DefaultPoolConfig("default")
	}
	if config.NumWorkers <= 0 {
		config.NumWorkers = runtime.NumCPU()
	}

	return &Pool{
		logger:  logger,
		config:  config,
		metrics: NewPoolMetrics(),
	}
}

// Stats returns current pool statistics
func (p *Pool) Stats() PoolStats {
	return p.metrics.GetStats()
}

// Run executes job for every index in [0,n) and returns outcomes addressed
// by index, so their order never depends on scheduling. onDone, if set, is
// called once per finished trial and never concurrently. When ctx is
// cancelled no further trials start; Run waits for running trials and
// returns the partial outcomes together with ctx.Err() if any trial was
// left unstarted.
func Run[T any](ctx context.Context, p *Pool, n int, job Job[T], onDone func(Outcome[T])) ([]Outcome[T], error) {
	outcomes := make([]Outcome[T], n)
	for i := range outcomes {
		outcomes[i].Index = i
	}
	if n == 0 {
		return outcomes, nil
	}

	numWorkers := p.config.NumWorkers
	if numWorkers > n {
		numWorkers = n
	}

	p.logger.Debug("starting worker pool",
		zap.String("name", p.config.Name),
		zap.Int("workers", numWorkers),
		zap.Int("jobs", n),
	)

	indices := make(chan int)
	go func() {
		defer close(indices)
		for i := 0; i < n; i++ {
			select {
			case <-ctx.Done():
				return
			case indices <- i:
				atomic.AddInt64(&p.metrics.TasksSubmitted, 1)
			}
		}
	}()

	var (
		wg       sync.WaitGroup
		notifyMu sync.Mutex
	)

	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			logger := p.logger.With(zap.Int("worker_id", workerID))

			for i := range indices {
				// Cancellation is checked between trials
				if ctx.Err() != nil {
					continue
				}

				value, err := execute(ctx, p, logger, job, i)
				outcomes[i] = Outcome[T]{Index: i, Value: value, Err: err, Done: true}

				if err != nil {
					atomic.AddInt64(&p.metrics.TasksFailed, 1)
				} else {
					atomic.AddInt64(&p.metrics.TasksCompleted, 1)
				}

				if onDone != nil {
					notifyMu.Lock()
					onDone(outcomes[i])
					notifyMu.Unlock()
				}
			}
		}(w)
	}

	wg.Wait()

	for _, o := range outcomes {
		if !o.Done {
			return outcomes, ctx.Err()
		}
	}
	return outcomes, nil
}

// execute runs one job with panic recovery
func execute[T any](ctx context.Context, p *Pool, logger *zap.Logger, job Job[T], index int) (value T, err error) {
	if p.config.PanicRecovery {
		defer func() {
			if r := recover(); r != nil {
				atomic.AddInt64(&p.metrics.PanicRecovered, 1)
				logger.Error("worker recovered from panic",
					zap.Int("index", index),
					zap.Any("panic", r),
				)
				err = &PanicError{Recovered: r}
			}
		}()
	}

	return job(ctx, index)
}

// PanicError represents a recovered panic
type PanicError struct {
	Recovered interface{}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic recovered: %v", e.Recovered)
}
