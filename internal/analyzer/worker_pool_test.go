package analyzer

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewWorkerPool(t *testing.T) {
	tests := []struct {
		name     string
		workers  int
		expected int
	}{
		{"Explicit", 4, 4},
		{"Single", 1, 1},
		{"Zero defaults to CPU count", 0, runtime.NumCPU()},
		{"Negative defaults to CPU count", -2, runtime.NumCPU()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool := NewWorkerPool(tt.workers)
			defer pool.Close()
			if pool.Workers() != tt.expected {
				t.Errorf("Expected %d workers, got %d", tt.expected, pool.Workers())
			}
		})
	}
}

// Pages are written by index so results keep document order regardless of
// which worker finishes first.
func TestWorkerPool_IndexedResults(t *testing.T) {
	const pages = 25
	pool := NewWorkerPool(3)
	pool.Start()

	results := make([]int, pages)
	for i := 0; i < pages; i++ {
		i := i
		if !pool.Submit(func() {
			if i%4 == 0 {
				time.Sleep(time.Millisecond)
			}
			results[i] = (i + 1) * 10
		}) {
			t.Fatalf("Submit %d rejected", i)
		}
	}
	pool.Wait()
	pool.Close()

	for i, v := range results {
		if v != (i+1)*10 {
			t.Errorf("Page %d: expected %d, got %d", i, (i+1)*10, v)
		}
	}

	stats := pool.GetStats()
	if stats.TotalJobs != pages || stats.CompletedJobs != pages {
		t.Errorf("Expected %d total and completed jobs, got %+v", pages, stats)
	}
	if stats.ActiveWorkers != 0 {
		t.Errorf("Expected no active workers after Wait, got %d", stats.ActiveWorkers)
	}
}

func TestWorkerPool_ConcurrencyBound(t *testing.T) {
	const workers = 2
	pool := NewWorkerPool(workers)
	pool.Start()
	defer pool.Close()

	var running, peak atomic.Int64
	for i := 0; i < 12; i++ {
		pool.Submit(func() {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			running.Add(-1)
		})
	}
	pool.Wait()

	if peak.Load() > workers {
		t.Errorf("Expected at most %d concurrent pages, got %d", workers, peak.Load())
	}
}

func TestWorkerPool_StartIsIdempotent(t *testing.T) {
	pool := NewWorkerPool(2)
	pool.Start()
	pool.Start()
	defer pool.Close()

	var done atomic.Int64
	for i := 0; i < 5; i++ {
		pool.Submit(func() { done.Add(1) })
	}
	pool.Wait()
	if done.Load() != 5 {
		t.Errorf("Expected 5 jobs, got %d", done.Load())
	}
}

func TestWorkerPool_SubmitAfterClose(t *testing.T) {
	pool := NewWorkerPool(1)
	pool.Start()
	pool.Close()

	if pool.Submit(func() {}) {
		t.Error("Expected submit after close to be rejected")
	}
	pool.Close()

	if stats := pool.GetStats(); stats.TotalJobs != 0 {
		t.Errorf("Expected rejected job not to be counted, got %d", stats.TotalJobs)
	}
}

func TestWorkerPool_ConcurrentSubmitters(t *testing.T) {
	pool := NewWorkerPool(4)
	pool.Start()
	defer pool.Close()

	var (
		wg    sync.WaitGroup
		total atomic.Int64
	)
	for s := 0; s < 5; s++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				pool.Submit(func() { total.Add(1) })
			}
		}()
	}
	wg.Wait()
	pool.Wait()

	if total.Load() != 100 {
		t.Errorf("Expected 100 jobs, got %d", total.Load())
	}
}
