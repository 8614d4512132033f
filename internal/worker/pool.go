package worker

import (
	"errors"
	"sync"
	"sync/atomic"
)

var (
	// ErrPoolClosed indicates the pool has been shut down
	ErrPoolClosed = errors.New("worker pool closed")

	// ErrQueueFull indicates the job queue is full
	ErrQueueFull = errors.New("job queue is full")
)

// Config holds worker pool configuration
type Config struct {
	// Number of workers. A single worker preserves submission order,
	// which the trace sink relies on.
	Workers int

	// Job queue size (default: workers * 100)
	QueueSize int

	// Panic handler (called when a job panics)
	PanicHandler func(interface{})
}

// Pool is a bounded worker pool. Submit never blocks: when the queue is
// full the job is rejected, which callers on a latency-sensitive path
// treat as a drop.
type Pool struct {
	queue  chan func()
	wg     sync.WaitGroup
	closed atomic.Bool

	panicHandler func(interface{})

	// Statistics (atomic for lock-free access)
	jobsSubmitted atomic.Uint64
	jobsCompleted atomic.Uint64
	jobsRejected  atomic.Uint64
}

// NewPool creates a new worker pool and starts its workers.
func NewPool(cfg Config) *Pool {
	if cfg.Workers == 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = cfg.Workers * 100
	}

	p := &Pool{
		queue:        make(chan func(), cfg.QueueSize),
		panicHandler: cfg.PanicHandler,
	}

	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}

	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for job := range p.queue {
		p.run(job)
		p.jobsCompleted.Add(1)
	}
}

func (p *Pool) run(job func()) {
	defer func() {
		if r := recover(); r != nil && p.panicHandler != nil {
			p.panicHandler(r)
		}
	}()
	job()
}

// Submit enqueues a job for execution.
func (p *Pool) Submit(job func()) error {
	if p.closed.Load() {
		p.jobsRejected.Add(1)
		return ErrPoolClosed
	}

	select {
	case p.queue <- job:
		p.jobsSubmitted.Add(1)
		return nil
	default:
		p.jobsRejected.Add(1)
		return ErrQueueFull
	}
}

// Close stops accepting jobs, drains the queue, and waits for workers.
func (p *Pool) Close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	close(p.queue)
	p.wg.Wait()
}

// Stats holds pool counters.
type Stats struct {
	Submitted uint64
	Completed uint64
	Rejected  uint64
}

// GetStats returns current pool statistics.
func (p *Pool) GetStats() Stats {
	return Stats{
		Submitted: p.jobsSubmitted.Load(),
		Completed: p.jobsCompleted.Load(),
		Rejected:  p.jobsRejected.Load(),
	}
}
