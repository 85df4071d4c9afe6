package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// TestBatchProcessorNew tests the BatchProcessor constructor.
func TestBatchProcessorNew(t *testing.T) {
	t.Parallel()

	t.Run("creates processor with defaults", func(t *testing.T) {
		t.Parallel()

		bp := NewBatchProcessor(func(string) (*Pipeline, error) { return New(), nil })
		if bp.concurrency != 1 {
			t.Errorf("expected concurrency 1, got %d", bp.concurrency)
		}
		if bp.logger == nil {
			t.Error("expected default logger")
		}
	})

	t.Run("WithConcurrency ignores invalid values", func(t *testing.T) {
		t.Parallel()

		bp := NewBatchProcessor(nil, WithConcurrency(0))
		if bp.concurrency != 1 {
			t.Errorf("expected concurrency 1, got %d", bp.concurrency)
		}
		bp = NewBatchProcessor(nil, WithConcurrency(4))
		if bp.concurrency != 4 {
			t.Errorf("expected concurrency 4, got %d", bp.concurrency)
		}
	})
}

// recordingStep stores the start URL it saw as the report ID.
type recordingStep struct {
	delay time.Duration
	fail  map[string]bool

	running    atomic.Int32
	maxRunning atomic.Int32
}

func (s *recordingStep) Name() string { return "record" }

func (s *recordingStep) Do(ctx context.Context, scan *SiteScan) error {
	n := s.running.Add(1)
	defer s.running.Add(-1)
	for {
		peak := s.maxRunning.Load()
		if n <= peak || s.maxRunning.CompareAndSwap(peak, n) {
			break
		}
	}

	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return ctx.Err()
	}
	if s.fail[scan.StartURL] {
		return errors.New("site unreachable")
	}
	scan.ReportID = "id-" + scan.StartURL
	return nil
}

func recordingFactory(step *recordingStep) Factory {
	return func(string) (*Pipeline, error) {
		p := New()
		p.AddStep(step)
		return p, nil
	}
}

// TestBatchProcessorProcessBatch tests concurrent site scans.
func TestBatchProcessorProcessBatch(t *testing.T) {
	t.Parallel()

	sites := []string{"https://a.example/", "https://b.example/", "https://c.example/", "https://d.example/"}

	t.Run("returns scans in input order", func(t *testing.T) {
		t.Parallel()

		step := &recordingStep{delay: 10 * time.Millisecond}
		bp := NewBatchProcessor(recordingFactory(step), WithConcurrency(2))

		scans, err := bp.ProcessBatch(context.Background(), sites)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(scans) != len(sites) {
			t.Fatalf("expected %d scans, got %d", len(sites), len(scans))
		}
		for i, scan := range scans {
			if scan.StartURL != sites[i] || scan.ReportID != "id-"+sites[i] {
				t.Errorf("scan %d: unexpected %+v", i, scan)
			}
		}
		if peak := step.maxRunning.Load(); peak > 2 {
			t.Errorf("expected at most 2 concurrent scans, got %d", peak)
		}
	})

	t.Run("failed site does not stop others", func(t *testing.T) {
		t.Parallel()

		step := &recordingStep{fail: map[string]bool{"https://b.example/": true}}
		bp := NewBatchProcessor(recordingFactory(step), WithConcurrency(2))

		scans, err := bp.ProcessBatch(context.Background(), sites)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if scans[1].Err == nil {
			t.Error("expected error on failed site")
		}
		for _, i := range []int{0, 2, 3} {
			if scans[i].Err != nil || scans[i].ReportID == "" {
				t.Errorf("scan %d: expected success, got %+v", i, scans[i])
			}
		}
	})

	t.Run("factory errors are recorded", func(t *testing.T) {
		t.Parallel()

		factoryErr := errors.New("no browser")
		bp := NewBatchProcessor(func(string) (*Pipeline, error) { return nil, factoryErr })

		scans, err := bp.ProcessBatch(context.Background(), sites[:2])
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for _, scan := range scans {
			if !errors.Is(scan.Err, factoryErr) {
				t.Errorf("expected factory error, got %v", scan.Err)
			}
		}
	})

	t.Run("callback sees every site", func(t *testing.T) {
		t.Parallel()

		bp := NewBatchProcessor(recordingFactory(&recordingStep{}), WithConcurrency(3))

		var mu sync.Mutex
		seen := make(map[int]string)
		err := bp.ProcessBatchWithCallback(context.Background(), sites, func(scan *SiteScan, index int) {
			mu.Lock()
			defer mu.Unlock()
			seen[index] = scan.StartURL
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for i, site := range sites {
			if seen[i] != site {
				t.Errorf("index %d: expected %s, got %s", i, site, seen[i])
			}
		}
	})

	t.Run("cancelled batch", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		bp := NewBatchProcessor(recordingFactory(&recordingStep{delay: time.Second}))
		scans, err := bp.ProcessBatch(ctx, sites)
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
		for i, scan := range scans {
			if scan == nil || scan.StartURL != sites[i] || scan.Err == nil {
				t.Errorf("scan %d: expected cancelled scan, got %+v", i, scan)
			}
		}
	})
}
