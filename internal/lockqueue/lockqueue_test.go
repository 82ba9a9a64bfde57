package lockqueue

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/maruel/blockdb/internal/xerrors"
)

func TestAcquireReleaseFIFO(t *testing.T) {
	q := New(0)
	ctx := context.Background()
	if err := q.Acquire(ctx); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	ready := make(chan struct{}, 3)
	for i := 1; i <= 3; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			ready <- struct{}{}
			if err := q.Acquire(ctx); err != nil {
				t.Errorf("waiter %d: %v", n, err)
				return
			}
			mu.Lock()
			order = append(order, n)
			mu.Unlock()
			q.Release()
		}(i)
		<-ready
		// Give each goroutine time to enqueue before the next starts, so the
		// waiter list order is deterministic.
		for {
			q.mu.Lock()
			n := len(q.waiters)
			q.mu.Unlock()
			if n == i {
				break
			}
		}
	}
	q.Release()
	wg.Wait()

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("waiters resumed out of FIFO order: %v", order)
	}
}

func TestAcquireOverflow(t *testing.T) {
	q := New(1)
	ctx := context.Background()
	if err := q.Acquire(ctx); err != nil {
		t.Fatal(err)
	}
	waiting := make(chan error, 1)
	go func() { waiting <- q.Acquire(ctx) }()
	for {
		q.mu.Lock()
		n := len(q.waiters)
		q.mu.Unlock()
		if n == 1 {
			break
		}
	}

	err := q.Acquire(ctx)
	if !errors.Is(err, xerrors.ErrLockQueueOverflow) {
		t.Fatalf("second waiter should overflow, got %v", err)
	}

	q.Release()
	if err := <-waiting; err != nil {
		t.Fatalf("first waiter: %v", err)
	}
}

func TestAcquireContextCancelled(t *testing.T) {
	q := New(0)
	if err := q.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- q.Acquire(ctx) }()
	for {
		q.mu.Lock()
		n := len(q.waiters)
		q.mu.Unlock()
		if n == 1 {
			break
		}
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled waiter returned %v", err)
	}
	// The holder can still release and reacquire normally.
	q.Release()
	if !q.TryAcquire() {
		t.Fatal("queue should be free after release")
	}
}

func TestTryAcquire(t *testing.T) {
	q := New(0)
	if !q.TryAcquire() {
		t.Fatal("TryAcquire on a free queue should succeed")
	}
	if q.TryAcquire() {
		t.Fatal("TryAcquire on a held queue should fail")
	}
	q.Release()
	if !q.TryAcquire() {
		t.Fatal("TryAcquire after release should succeed")
	}
}
