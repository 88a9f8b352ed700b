// Package outbox runs best-effort background jobs, such as mirroring local
// writes to the remote database. Jobs are attempted once; failures are logged
// and dropped.
package outbox

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	DefaultQueueSize  = 256
	DefaultJobTimeout = 15 * time.Second
)

const (
	resultOK      = "ok"
	resultFailed  = "failed"
	resultDropped = "dropped"
)

// Job is one unit of deferred work.
type Job func(ctx context.Context) error

type job struct {
	name string
	fn   Job
}

// Outbox is a bounded queue drained by a single worker goroutine.
type Outbox struct {
	jobs       chan job
	jobTimeout time.Duration
	logger     *slog.Logger

	processed *prometheus.CounterVec
	depth     prometheus.Gauge

	mu      sync.Mutex
	pending int
	idle    chan struct{}
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates an outbox holding at most size queued jobs. Metrics are
// registered on reg when it is non-nil.
func New(size int, reg prometheus.Registerer, logger *slog.Logger) *Outbox {
	if size <= 0 {
		size = DefaultQueueSize
	}
	factory := promauto.With(reg)
	idle := make(chan struct{})
	close(idle)
	return &Outbox{
		jobs:       make(chan job, size),
		jobTimeout: DefaultJobTimeout,
		logger:     logger,
		processed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "weeme_outbox_jobs_total",
			Help: "Outbox jobs by name and result.",
		}, []string{"job", "result"}),
		depth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "weeme_outbox_queue_depth",
			Help: "Jobs waiting in the outbox queue.",
		}),
		idle: idle,
	}
}

// SetJobTimeout bounds how long a single job may run. Zero disables the bound.
func (o *Outbox) SetJobTimeout(d time.Duration) {
	o.mu.Lock()
	o.jobTimeout = d
	o.mu.Unlock()
}

// Enqueue accepts a job without blocking. It returns false when the queue is
// full and the job was dropped.
func (o *Outbox) Enqueue(name string, fn Job) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	select {
	case o.jobs <- job{name: name, fn: fn}:
		if o.pending == 0 {
			o.idle = make(chan struct{})
		}
		o.pending++
		o.depth.Inc()
		return true
	default:
		o.processed.WithLabelValues(name, resultDropped).Inc()
		o.logger.Warn("outbox full, dropping job", "job", name)
		return false
	}
}

// Start launches the worker. Jobs accepted before Start run once it begins.
func (o *Outbox) Start(ctx context.Context) {
	o.mu.Lock()
	ctx, o.cancel = context.WithCancel(ctx)
	o.done = make(chan struct{})
	o.mu.Unlock()

	go func() {
		defer close(o.done)
		for {
			select {
			case <-ctx.Done():
				return
			case j := <-o.jobs:
				o.run(ctx, j)
			}
		}
	}()
}

// Stop cancels the worker and waits for it to exit. Queued jobs are abandoned;
// call Flush first to drain them.
func (o *Outbox) Stop() {
	o.mu.Lock()
	cancel := o.cancel
	done := o.done
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Flush blocks until every accepted job has finished or ctx ends.
func (o *Outbox) Flush(ctx context.Context) error {
	o.mu.Lock()
	idle := o.idle
	o.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending returns the number of accepted jobs that have not finished.
func (o *Outbox) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pending
}

func (o *Outbox) run(ctx context.Context, j job) {
	o.depth.Dec()
	defer o.finish()

	o.mu.Lock()
	timeout := o.jobTimeout
	o.mu.Unlock()

	jobCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := j.fn(jobCtx); err != nil {
		o.processed.WithLabelValues(j.name, resultFailed).Inc()
		o.logger.Warn("outbox job failed", "job", j.name, "error", err)
		return
	}
	o.processed.WithLabelValues(j.name, resultOK).Inc()
	o.logger.Debug("outbox job done", "job", j.name)
}

func (o *Outbox) finish() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pending--
	if o.pending == 0 {
		close(o.idle)
	}
}
