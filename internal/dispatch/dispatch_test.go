package dispatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
)

func TestRunCollectsAllResults(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}

	var mu sync.Mutex
	seen := map[int]int{}

	completed, failed := Run(context.Background(), items, Options{Concurrency: 2}, func(ctx context.Context, n int) (int, error) {
		return n * n, nil
	}, func(item int, result int, err error) {
		mu.Lock()
		defer mu.Unlock()
		seen[item] = result
	})

	if completed != len(items) {
		t.Errorf("expected %d completed, got %d", len(items), completed)
	}
	if failed != 0 {
		t.Errorf("expected 0 failed, got %d", failed)
	}
	for _, n := range items {
		if seen[n] != n*n {
			t.Errorf("item %d: expected %d, got %d", n, n*n, seen[n])
		}
	}
}

func TestRunDoesNotAbortOnTaskError(t *testing.T) {
	items := []int{1, 2, 3}

	completed, failed := Run(context.Background(), items, Options{Concurrency: 3}, func(ctx context.Context, n int) (int, error) {
		if n == 2 {
			return 0, fmt.Errorf("boom on %d", n)
		}
		return n, nil
	}, func(item int, result int, err error) {})

	if completed != 3 {
		t.Errorf("expected all 3 tasks to complete despite one error, got %d", completed)
	}
	if failed != 1 {
		t.Errorf("expected 1 failed task, got %d", failed)
	}
}

func TestRunRespectsConcurrencyLimit(t *testing.T) {
	items := make([]int, 20)
	for i := range items {
		items[i] = i
	}

	var inFlight int32
	var maxObserved int32

	Run(context.Background(), items, Options{Concurrency: 4}, func(ctx context.Context, n int) (struct{}, error) {
		cur := atomic.AddInt32(&inFlight, 1)
		for {
			max := atomic.LoadInt32(&maxObserved)
			if cur <= max || atomic.CompareAndSwapInt32(&maxObserved, max, cur) {
				break
			}
		}
		atomic.AddInt32(&inFlight, -1)
		return struct{}{}, nil
	}, func(item int, result struct{}, err error) {})

	if maxObserved > 4 {
		t.Errorf("expected at most 4 in-flight tasks, observed %d", maxObserved)
	}
}

func TestRunWithNoItems(t *testing.T) {
	completed, failed := Run(context.Background(), []int{}, Options{Concurrency: 2}, func(ctx context.Context, n int) (int, error) {
		return n, nil
	}, func(item int, result int, err error) {})

	if completed != 0 || failed != 0 {
		t.Errorf("expected 0/0 on empty input, got %d/%d", completed, failed)
	}
}
