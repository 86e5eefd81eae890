// Package executor runs engine units of work on a bounded set of goroutines.
//
// Every dispatch and every resume is a separate, short-lived unit; nothing
// blocks while a node waits for external work. Units submitted with the same
// key run one after another in submission order, which keeps two resumes of
// one node from overlapping. Units with different keys run in parallel up to
// the pool size.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

var ErrPoolClosed = errors.New("executor pool closed")

// Unit is one piece of engine work.
type Unit func(ctx context.Context)

type Pool struct {
	logger *slog.Logger
	sem    *semaphore.Weighted
	size   int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	pending map[string][]Unit
	timers  map[*time.Timer]struct{}

	running atomic.Int64
	queued  atomic.Int64
}

func New(logger *slog.Logger, size int) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	if size < 1 {
		size = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		logger:  logger,
		sem:     semaphore.NewWeighted(int64(size)),
		size:    int64(size),
		ctx:     ctx,
		cancel:  cancel,
		pending: map[string][]Unit{},
		timers:  map[*time.Timer]struct{}{},
	}
}

// Submit queues unit. An empty key opts out of per-key ordering.
func (p *Pool) Submit(key string, unit Unit) error {
	if p == nil {
		return errors.New("executor pool not initialized")
	}
	if unit == nil {
		return errors.New("unit is required")
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	p.queued.Add(1)
	if key != "" {
		if queue, busy := p.pending[key]; busy {
			p.pending[key] = append(queue, unit)
			p.mu.Unlock()
			return nil
		}
		p.pending[key] = nil
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go p.drain(key, unit)
	return nil
}

// SubmitAfter queues unit once delay has elapsed. The timer is dropped when
// the pool closes first.
func (p *Pool) SubmitAfter(delay time.Duration, key string, unit Unit) error {
	if delay <= 0 {
		return p.Submit(key, unit)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		p.mu.Lock()
		delete(p.timers, timer)
		p.mu.Unlock()
		if err := p.Submit(key, unit); err != nil {
			p.logger.Warn("delayed unit dropped", "key", key, "error", err)
		}
	})
	p.timers[timer] = struct{}{}
	return nil
}

func (p *Pool) drain(key string, unit Unit) {
	defer p.wg.Done()
	for unit != nil {
		if err := p.sem.Acquire(p.ctx, 1); err != nil {
			p.dropKey(key)
			return
		}
		p.queued.Add(-1)
		p.running.Add(1)
		p.invoke(key, unit)
		p.running.Add(-1)
		p.sem.Release(1)

		unit = p.next(key)
	}
}

func (p *Pool) next(key string) Unit {
	if key == "" {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	queue := p.pending[key]
	if len(queue) == 0 {
		delete(p.pending, key)
		return nil
	}
	p.pending[key] = queue[1:]
	return queue[0]
}

func (p *Pool) dropKey(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	dropped := 1
	if key != "" {
		dropped += len(p.pending[key])
		delete(p.pending, key)
	}
	p.queued.Add(-int64(dropped))
	p.logger.Warn("executor units dropped on shutdown", "key", key, "count", dropped)
}

func (p *Pool) invoke(key string, unit Unit) {
	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Error("executor unit panic", "key", key, "panic", fmt.Sprint(rec))
		}
	}()
	unit(p.ctx)
}

// Running is the number of units currently executing.
func (p *Pool) Running() int64 { return p.running.Load() }

// Queued is the number of accepted units that have not started yet.
func (p *Pool) Queued() int64 { return p.queued.Load() }

func (p *Pool) Size() int64 { return p.size }

// Close stops accepting work, cancels delayed units and waits for running
// units until ctx is done. When ctx expires first, the context handed to
// units is cancelled and Close returns without waiting further; queued units
// are dropped as their turn comes.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	for timer := range p.timers {
		timer.Stop()
	}
	p.timers = map[*time.Timer]struct{}{}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		p.logger.Warn("executor drain deadline passed", "running", p.running.Load(), "queued", p.queued.Load())
		return ctx.Err()
	}
}
