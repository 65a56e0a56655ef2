package workpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

func TestRunVisitsEveryIndexOnce(t *testing.T) {
	const n = 50
	var seen [n]atomic.Int32
	err := Run(context.Background(), n, 4, func(_ context.Context, i int) error {
		seen[i].Add(1)
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for i := range seen {
		if got := seen[i].Load(); got != 1 {
			t.Fatalf("index %d visited %d times", i, got)
		}
	}
}

func TestRunBoundsConcurrency(t *testing.T) {
	var active, peak atomic.Int32
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- Run(context.Background(), 6, 2, func(context.Context, int) error {
			cur := active.Add(1)
			for {
				old := peak.Load()
				if cur <= old || peak.CompareAndSwap(old, cur) {
					break
				}
			}
			<-release
			active.Add(-1)
			return nil
		})
	}()
	for range 6 {
		release <- struct{}{}
	}
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if peak.Load() > 2 {
		t.Fatalf("peak concurrency %d exceeds 2", peak.Load())
	}
}

func TestRunStopsAfterFirstError(t *testing.T) {
	boom := errors.New("boom")
	var calls atomic.Int32
	err := Run(context.Background(), 100, 1, func(_ context.Context, i int) error {
		calls.Add(1)
		if i == 3 {
			return boom
		}
		return nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	// One worker: at most the failing call plus the index already queued.
	if got := calls.Load(); got > 5 {
		t.Fatalf("expected dispatch to stop, got %d calls", got)
	}
}

func TestRunReportsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Run(ctx, 10, 2, func(context.Context, int) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRunZeroJobs(t *testing.T) {
	if err := Run(context.Background(), 0, 3, func(context.Context, int) error {
		t.Fatal("fn must not be called")
		return nil
	}); err != nil {
		t.Fatalf("Run: %v", err)
	}
}
