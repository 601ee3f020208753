package shardqueue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// Jobs with the same key must run in submission order.
func TestFIFOPerKey(t *testing.T) {
	t.Parallel()
	p := NewShardExecutor(Config{Shards: 4, QueueSize: 64, MaxAttempts: 1})
	defer p.Stop()

	const n = 50
	var mu sync.Mutex
	var order []int
	for i := 0; i < n; i++ {
		i := i
		err := p.Submit(context.Background(), "history/c1", JobFunc(func(context.Context) error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		}))
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	if err := p.Barrier(context.Background(), "history/c1"); err != nil {
		t.Fatalf("barrier: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	for i, got := range order {
		if got != i {
			t.Fatalf("order violated at %d: %v", i, order)
		}
	}
}

// Do must return the function's error to the caller and never retry it.
func TestDoReturnsError(t *testing.T) {
	t.Parallel()
	p := NewShardExecutor(Config{Shards: 1, QueueSize: 8, MaxAttempts: 3, BaseBackoff: time.Millisecond})
	defer p.Stop()

	var runs int32
	want := errors.New("boom")
	err := p.Do(context.Background(), "summaries", func(context.Context) error {
		atomic.AddInt32(&runs, 1)
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected boom, got %v", err)
	}
	if err := p.Barrier(context.Background(), "summaries"); err != nil {
		t.Fatalf("barrier: %v", err)
	}
	if got := atomic.LoadInt32(&runs); got != 1 {
		t.Fatalf("Do job ran %d times, want 1", got)
	}
}

// Submit after Stop must fail with ErrExecutorClosed.
func TestSubmitAfterStop(t *testing.T) {
	t.Parallel()
	p := NewShardExecutor(Config{Shards: 1, QueueSize: 2})
	p.Stop()
	err := p.Submit(context.Background(), "k", JobFunc(func(context.Context) error { return nil }))
	if !errors.Is(err, ErrExecutorClosed) {
		t.Fatalf("expected ErrExecutorClosed, got %v", err)
	}
}

// A full shard must report back-pressure as ErrQueueFull.
func TestQueueFull(t *testing.T) {
	t.Parallel()
	p := NewShardExecutor(Config{Shards: 1, QueueSize: 1, EnqueueTimeout: 5 * time.Millisecond, MaxAttempts: 1})
	defer p.Stop()

	block := make(chan struct{})
	// Occupy the worker, then fill the single queue slot.
	_ = p.Submit(context.Background(), "k", JobFunc(func(context.Context) error {
		<-block
		return nil
	}))
	_ = p.Submit(context.Background(), "k", JobFunc(func(context.Context) error { return nil }))

	var sawFull bool
	for i := 0; i < 20; i++ {
		err := p.Submit(context.Background(), "k", JobFunc(func(context.Context) error { return nil }))
		if errors.Is(err, ErrQueueFull) {
			sawFull = true
			break
		}
	}
	close(block)
	if !sawFull {
		t.Fatalf("expected ErrQueueFull under sustained back-pressure")
	}
}

// Recoverable failures retry up to MaxAttempts, then hit the error handler.
func TestRetryThenErrorHandler(t *testing.T) {
	t.Parallel()
	var handled atomic.Value
	done := make(chan struct{})
	p := NewShardExecutor(Config{
		Shards: 1, QueueSize: 8, MaxAttempts: 3, BaseBackoff: time.Millisecond,
		ErrorHandler: func(err error) {
			handled.Store(err)
			close(done)
		},
	})
	defer p.Stop()

	var runs int32
	fail := errors.New("transient")
	_ = p.Submit(context.Background(), "k", JobFunc(func(context.Context) error {
		atomic.AddInt32(&runs, 1)
		return fail
	}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("error handler not invoked")
	}
	if got := atomic.LoadInt32(&runs); got != 3 {
		t.Fatalf("job ran %d times, want 3", got)
	}
	if err, _ := handled.Load().(error); !errors.Is(err, fail) {
		t.Fatalf("handler got %v", err)
	}
}

// A cancelled job context must not stall the shard.
func TestCancelledJobSkipped(t *testing.T) {
	t.Parallel()
	p := NewShardExecutor(Config{Shards: 1, QueueSize: 8, MaxAttempts: 1})
	defer p.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var ran int32
	_ = p.Submit(ctx, "k", JobFunc(func(context.Context) error {
		atomic.AddInt32(&ran, 1)
		return nil
	}))
	if err := p.Barrier(context.Background(), "k"); err != nil {
		t.Fatalf("barrier: %v", err)
	}
	if atomic.LoadInt32(&ran) != 0 {
		t.Fatalf("cancelled job should not run")
	}
}
