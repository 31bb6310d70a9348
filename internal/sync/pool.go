package sync

import (
	"context"
	"errors"
	"log/slog"
	gosync "sync"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
)

// ErrPoolClosed is returned when work is submitted after Close.
var ErrPoolClosed = errors.New("worker pool closed")

// Pool is a fixed set of long-lived workers shared by all sync runs. A
// panicking task is logged and does not take its worker down.
type Pool struct {
	tasks chan func()
	wg    conc.WaitGroup
	size  int

	mu     gosync.RWMutex
	closed bool

	log *slog.Logger
}

// NewPool starts size workers.
func NewPool(size int, log *slog.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	if log == nil {
		log = slog.Default()
	}

	p := &Pool{
		tasks: make(chan func()),
		size:  size,
		log:   log.With("component", "pool"),
	}
	for range size {
		p.wg.Go(p.work)
	}

	p.log.Debug("Worker pool started", "workers", size)

	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return p.size
}

// Submit blocks until a worker accepts task or ctx is done.
func (p *Pool) Submit(ctx context.Context, task func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting work and waits for running tasks to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *Pool) work() {
	for task := range p.tasks {
		if r := panics.Try(task); r != nil {
			p.log.Error("Task panicked", "err", r.AsError())
		}
	}
}
