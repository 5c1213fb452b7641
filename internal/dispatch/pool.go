// Package dispatch runs merge-and-transcribe workers as child processes
// behind a bounded queue.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dialoguelab/dialogue-stt/internal/metrics"
	"github.com/rs/zerolog"
)

var (
	// ErrQueueFull is returned by Submit when every worker is busy and the
	// queue is at capacity.
	ErrQueueFull = errors.New("worker queue is full")
	// ErrStopped is returned by Submit after Stop.
	ErrStopped = errors.New("worker pool is stopped")
)

// Request is one dispatch request.
type Request struct {
	Prefix     string `json:"prefix"`
	Completion string `json:"completion,omitempty"`
	Source     string `json:"-"`
}

// Outcome is the captured result of one worker process.
type Outcome struct {
	Stdout   []byte
	Stderr   string
	ExitCode int
	Duration time.Duration
	Err      error
}

// Runner executes one request to completion.
type Runner interface {
	Run(ctx context.Context, req Request) Outcome
}

// PoolStats reports the current state of the worker queue.
type PoolStats struct {
	Workers   int   `json:"workers"`
	QueueSize int   `json:"queue_size"`
	Pending   int   `json:"pending"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Rejected  int64 `json:"rejected"`
}

type PoolOptions struct {
	Workers   int
	QueueSize int
	// Timeout bounds one worker process; 0 disables it.
	Timeout time.Duration
	Runner  Runner
	Log     zerolog.Logger
}

type job struct {
	ctx  context.Context
	req  Request
	done chan Outcome
}

// Pool runs at most Workers processes at once with QueueSize requests
// waiting. Requests beyond that are rejected, not spawned.
type Pool struct {
	jobs   chan job
	opts   PoolOptions
	log    zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	stopped bool

	active    atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64
}

func NewPool(opts PoolOptions) *Pool {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.QueueSize < 0 {
		opts.QueueSize = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		jobs:   make(chan job, opts.QueueSize),
		opts:   opts,
		log:    opts.Log.With().Str("component", "dispatch").Logger(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches the worker goroutines.
func (p *Pool) Start() {
	for i := 0; i < p.opts.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.log.Info().Int("workers", p.opts.Workers).Int("queue_size", p.opts.QueueSize).Msg("worker pool started")
}

// Stop rejects new requests, lets queued ones drain and waits for them.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()
	p.cancel()
	p.log.Info().
		Int64("completed", p.completed.Load()).
		Int64("failed", p.failed.Load()).
		Int64("rejected", p.rejected.Load()).
		Msg("worker pool stopped")
}

// Submit queues req without blocking. The returned channel receives exactly
// one Outcome. A request whose ctx is done before a worker picks it up is
// skipped with ctx.Err().
func (p *Pool) Submit(ctx context.Context, req Request) (<-chan Outcome, error) {
	j := job{ctx: ctx, req: req, done: make(chan Outcome, 1)}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return nil, ErrStopped
	}
	select {
	case p.jobs <- j:
		return j.done, nil
	default:
		p.rejected.Add(1)
		metrics.WorkerJobsRejectedTotal.Inc()
		return nil, ErrQueueFull
	}
}

func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Workers:   p.opts.Workers,
		QueueSize: p.opts.QueueSize,
		Pending:   len(p.jobs),
		Active:    p.active.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Rejected:  p.rejected.Load(),
	}
}

func (p *Pool) PendingJobs() int { return len(p.jobs) }
func (p *Pool) ActiveJobs() int  { return int(p.active.Load()) }

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for j := range p.jobs {
		j.done <- p.process(id, j)
	}
}

func (p *Pool) process(id int, j job) Outcome {
	log := p.log.With().Int("worker", id).Str("prefix", j.req.Prefix).Str("source", j.req.Source).Logger()
	if err := j.ctx.Err(); err != nil {
		log.Debug().Err(err).Msg("request abandoned before start")
		return Outcome{Err: err, ExitCode: -1}
	}

	// Workers run on the pool context, not the request's.
	ctx := p.ctx
	var cancel context.CancelFunc = func() {}
	if p.opts.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, p.opts.Timeout)
	}
	defer cancel()

	p.active.Add(1)
	start := time.Now()
	out := p.opts.Runner.Run(ctx, j.req)
	p.active.Add(-1)
	if out.Duration == 0 {
		out.Duration = time.Since(start)
	}
	metrics.WorkerJobDuration.Observe(out.Duration.Seconds())

	if out.Err != nil {
		p.failed.Add(1)
		metrics.WorkerJobsTotal.WithLabelValues("failed").Inc()
		log.Warn().Err(out.Err).Int("exit_code", out.ExitCode).Dur("duration", out.Duration).Msg("worker failed")
		return out
	}
	p.completed.Add(1)
	metrics.WorkerJobsTotal.WithLabelValues("completed").Inc()
	log.Info().Dur("duration", out.Duration).Int("stdout_bytes", len(out.Stdout)).Msg("worker completed")
	return out
}
