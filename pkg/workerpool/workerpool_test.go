package workerpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

func TestRun_BoundsConcurrency(t *testing.T) {
	items := make([]int, 20)
	for i := range items {
		items[i] = i
	}

	var inFlight int32
	var maxObserved int32
	err := Run(context.Background(), 3, items, func(ctx context.Context, item int) error {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			observed := atomic.LoadInt32(&maxObserved)
			if n <= observed || atomic.CompareAndSwapInt32(&maxObserved, observed, n) {
				break
			}
		}
		atomic.AddInt32(&inFlight, -1)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if maxObserved > 3 {
		t.Errorf("expected concurrency bounded to 3, observed %d", maxObserved)
	}
}

func TestRun_ReturnsFirstError(t *testing.T) {
	items := []int{1, 2, 3}
	boom := errors.New("boom")
	err := Run(context.Background(), 2, items, func(ctx context.Context, item int) error {
		if item == 2 {
			return boom
		}
		return nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom error, got %v", err)
	}
}

func TestRunCollect_GathersPerItemResults(t *testing.T) {
	items := []int{1, 2, 3, 4}
	results, err := RunCollect(context.Background(), 2, items, func(ctx context.Context, item int) (int, error) {
		return item * 10, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []int{10, 20, 30, 40}
	for i, r := range results {
		if r != want[i] {
			t.Errorf("expected results %v, got %v", want, results)
			break
		}
	}
}
