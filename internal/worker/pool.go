// Package worker provides the background job pool used for batch
// syncs and the single-slot serial executor that keeps browser
// automation strictly one-at-a-time.
package worker

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

var ErrQueueFull = errors.New("worker queue full")

// Pool runs submitted jobs on a fixed set of goroutines. Jobs queued
// after Stop are rejected; Stop waits for in-flight jobs to finish.
type Pool struct {
	jobs   chan job
	wg     sync.WaitGroup
	logger *zap.Logger

	mu      sync.Mutex
	stopped bool
}

type job struct {
	name string
	fn   func()
}

func NewPool(size, queueLen int, logger *zap.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	if queueLen < 0 {
		queueLen = 0
	}
	p := &Pool{
		jobs:   make(chan job, queueLen),
		logger: logger,
	}
	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go p.run()
	}
	return p
}

func (p *Pool) run() {
	defer p.wg.Done()
	for j := range p.jobs {
		p.runOne(j)
	}
}

func (p *Pool) runOne(j job) {
	defer func() {
		if r := recover(); r != nil && p.logger != nil {
			p.logger.Error("worker job panicked", zap.String("job", j.name), zap.Any("panic", r))
		}
	}()
	j.fn()
}

// Submit enqueues fn for background execution. It returns ErrQueueFull
// when the queue has no room rather than blocking the caller.
func (p *Pool) Submit(name string, fn func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return errors.New("worker pool stopped")
	}
	select {
	case p.jobs <- job{name: name, fn: fn}:
		return nil
	default:
		return ErrQueueFull
	}
}

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
}

// Serial funnels work through a one-goroutine pool and blocks the
// caller until the job finishes or ctx expires. The job itself keeps
// running to completion even if the caller gives up waiting.
type Serial struct {
	pool *Pool
}

func NewSerial(queueLen int, logger *zap.Logger) *Serial {
	return &Serial{pool: NewPool(1, queueLen, logger)}
}

func (s *Serial) Do(ctx context.Context, name string, fn func() error) error {
	done := make(chan error, 1)
	if err := s.pool.Submit(name, func() { done <- fn() }); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Serial) Stop() { s.pool.Stop() }
