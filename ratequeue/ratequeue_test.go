package ratequeue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestDo_FIFOOrder(t *testing.T) {
	// WHAT: Tasks dispatch in submission order.
	// WHY: The upstream contract promises enqueue order == call order.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q := New(1000, 10)
	q.Start(ctx)

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := range 5 {
		wg.Add(1)
		// Sequential submission pins the order; concurrent submission has no
		// defined order to assert.
		_, err := q.Do(ctx, func(ctx context.Context) (any, error) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			wg.Done()
			return nil, nil
		})
		if err != nil {
			t.Fatalf("Do(%d): %v", i, err)
		}
	}
	wg.Wait()
	for i, v := range order {
		if v != i {
			t.Fatalf("order = %v", order)
		}
	}
}

func TestDo_Pacing(t *testing.T) {
	// WHAT: With rps=10, consecutive dispatches are at least ~100 ms apart.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q := New(10, 10)
	q.Start(ctx)

	var stamps []time.Time
	for range 3 {
		_, err := q.Do(ctx, func(ctx context.Context) (any, error) {
			stamps = append(stamps, time.Now())
			return nil, nil
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	for i := 1; i < len(stamps); i++ {
		if gap := stamps[i].Sub(stamps[i-1]); gap < 80*time.Millisecond {
			t.Errorf("dispatch gap %d = %v, want >= ~100ms", i, gap)
		}
	}
}

func TestDo_Overflow(t *testing.T) {
	// WHAT: With queueMax pending plus one executing, the next submission
	// rejects synchronously.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q := New(1000, 2)
	q.Start(ctx)

	release := make(chan struct{})
	started := make(chan struct{})
	go q.Do(ctx, func(ctx context.Context) (any, error) {
		close(started)
		<-release
		return nil, nil
	})
	<-started // one task executing, queue empty

	// Fill the pending queue.
	for range 2 {
		go q.Do(ctx, func(ctx context.Context) (any, error) { return nil, nil })
	}
	// Give the two goroutines time to enqueue.
	time.Sleep(50 * time.Millisecond)

	_, err := q.Do(ctx, func(ctx context.Context) (any, error) { return nil, nil })
	if !errors.Is(err, ErrQueueOverflow) {
		t.Errorf("err = %v, want ErrQueueOverflow", err)
	}
	close(release)
}

func TestDo_ResultPropagation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q := New(1000, 10)
	q.Start(ctx)

	v, err := q.Do(ctx, func(ctx context.Context) (any, error) { return 42, nil })
	if err != nil || v.(int) != 42 {
		t.Errorf("got %v, %v", v, err)
	}

	boom := errors.New("boom")
	_, err = q.Do(ctx, func(ctx context.Context) (any, error) { return nil, boom })
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
}

func TestDo_CancelledWhileWaiting(t *testing.T) {
	// WHAT: A caller that cancels while paced gets ctx.Err back.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q := New(1, 10) // 1 rps makes the second task wait ~1s
	q.Start(ctx)

	if _, err := q.Do(ctx, func(ctx context.Context) (any, error) { return nil, nil }); err != nil {
		t.Fatal(err)
	}

	reqCtx, reqCancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer reqCancel()
	_, err := q.Do(reqCtx, func(ctx context.Context) (any, error) { return nil, nil })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}
