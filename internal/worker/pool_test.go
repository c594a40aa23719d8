package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolRunsJobs(t *testing.T) {
	p := NewPool(2, 10, nil)
	var n int64
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		if err := p.Submit("inc", func() {
			atomic.AddInt64(&n, 1)
			wg.Done()
		}); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	wg.Wait()
	p.Stop()
	if got := atomic.LoadInt64(&n); got != 5 {
		t.Fatalf("ran %d jobs, want 5", got)
	}
}

func TestPoolQueueFull(t *testing.T) {
	p := NewPool(1, 0, nil)
	defer p.Stop()
	block := make(chan struct{})
	started := make(chan struct{})
	if err := p.Submit("block", func() {
		close(started)
		<-block
	}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	<-started
	if err := p.Submit("overflow", func() {}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("want ErrQueueFull, got %v", err)
	}
	close(block)
}

func TestSerialRunsOneAtATime(t *testing.T) {
	s := NewSerial(4, nil)
	defer s.Stop()
	var active, maxActive int64
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Do(context.Background(), "probe", func() error {
				cur := atomic.AddInt64(&active, 1)
				for {
					prev := atomic.LoadInt64(&maxActive)
					if cur <= prev || atomic.CompareAndSwapInt64(&maxActive, prev, cur) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				atomic.AddInt64(&active, -1)
				return nil
			})
		}()
	}
	wg.Wait()
	if got := atomic.LoadInt64(&maxActive); got != 1 {
		t.Fatalf("max concurrent jobs = %d, want 1", got)
	}
}

func TestSerialCtxTimeout(t *testing.T) {
	s := NewSerial(1, nil)
	defer s.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.Do(ctx, "slow", func() error {
		time.Sleep(200 * time.Millisecond)
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want DeadlineExceeded, got %v", err)
	}
}
