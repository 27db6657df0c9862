package async

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"
)

// sliceDataSource serves sample i as (i, -i).
type sliceDataSource struct {
	n     int
	delay time.Duration
	fail  int
}

func (s *sliceDataSource) Len() int { return s.n }
func (s *sliceDataSource) Dim() int { return 2 }
func (s *sliceDataSource) Get(idx int) ([]float64, error) {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.fail > 0 && idx == s.fail {
		return nil, fmt.Errorf("sample %d unavailable", idx)
	}
	return []float64{float64(idx), -float64(idx)}, nil
}

func drain(t *testing.T, loader *AsyncDataLoader) []*Batch {
	t.Helper()
	var batches []*Batch
	for {
		b, err := loader.Next(context.Background())
		if errors.Is(err, io.EOF) {
			return batches
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		batches = append(batches, b)
	}
}

func TestAsyncDataLoaderConfig(t *testing.T) {
	if _, err := NewAsyncDataLoader(nil, AsyncDataLoaderConfig{BatchSize: 4}); err == nil {
		t.Error("Expected error for nil data source")
	}
	if _, err := NewAsyncDataLoader(&sliceDataSource{n: 10}, AsyncDataLoaderConfig{}); err == nil {
		t.Error("Expected error for zero batch size")
	}
	if _, err := NewAsyncDataLoader(&sliceDataSource{n: 0}, AsyncDataLoaderConfig{BatchSize: 1}); err == nil {
		t.Error("Expected error for empty data source")
	}

	loader, err := NewAsyncDataLoader(&sliceDataSource{n: 10}, AsyncDataLoaderConfig{BatchSize: 4})
	if err != nil {
		t.Fatalf("NewAsyncDataLoader failed: %v", err)
	}
	stats := loader.Stats()
	if stats.Workers != 2 || stats.QueueCapacity != 3 {
		t.Errorf("Expected default 2 workers and depth 3, got %d and %d", stats.Workers, stats.QueueCapacity)
	}
	if stats.IsRunning {
		t.Error("Expected loader to be idle before Reset")
	}
}

func TestAsyncDataLoaderNotStarted(t *testing.T) {
	loader, _ := NewAsyncDataLoader(&sliceDataSource{n: 10}, AsyncDataLoaderConfig{BatchSize: 4})
	if _, err := loader.Next(context.Background()); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Expected ErrNotStarted, got %v", err)
	}
}

func TestAsyncDataLoaderSequentialOrder(t *testing.T) {
	loader, _ := NewAsyncDataLoader(&sliceDataSource{n: 10, delay: time.Millisecond}, AsyncDataLoaderConfig{BatchSize: 4, Workers: 4})
	defer loader.Stop()

	if err := loader.Reset(0); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	batches := drain(t, loader)
	if len(batches) != 3 || loader.NumBatches() != 3 {
		t.Fatalf("Expected 3 batches, got %d", len(batches))
	}
	if batches[2].Size() != 2 {
		t.Errorf("Expected final partial batch of 2, got %d", batches[2].Size())
	}

	next := 0
	for i, b := range batches {
		if b.BatchID != uint64(i) {
			t.Errorf("Expected batch id %d, got %d", i, b.BatchID)
		}
		for row, idx := range b.Indices {
			if idx != next {
				t.Fatalf("Expected sample %d, got %d", next, idx)
			}
			if b.Data.At(row, 0) != float64(idx) || b.Data.At(row, 1) != -float64(idx) {
				t.Fatalf("Row %d does not hold sample %d", row, idx)
			}
			next++
		}
	}

	// Exhausted epochs keep returning EOF.
	if _, err := loader.Next(context.Background()); !errors.Is(err, io.EOF) {
		t.Errorf("Expected io.EOF, got %v", err)
	}
}

func TestAsyncDataLoaderDropLast(t *testing.T) {
	loader, _ := NewAsyncDataLoader(&sliceDataSource{n: 10}, AsyncDataLoaderConfig{BatchSize: 4, DropLast: true})
	defer loader.Stop()
	loader.Reset(0)
	if got := len(drain(t, loader)); got != 2 {
		t.Errorf("Expected 2 batches, got %d", got)
	}
}

func TestAsyncDataLoaderShuffleDeterministic(t *testing.T) {
	cfg := AsyncDataLoaderConfig{BatchSize: 8, Workers: 3, Shuffle: true, Seed: 42}
	a, _ := NewAsyncDataLoader(&sliceDataSource{n: 50}, cfg)
	b, _ := NewAsyncDataLoader(&sliceDataSource{n: 50}, cfg)
	defer a.Stop()
	defer b.Stop()

	a.Reset(3)
	b.Reset(3)
	first, second := drain(t, a), drain(t, b)

	seen := make(map[int]bool)
	for i := range first {
		for j, idx := range first[i].Indices {
			if second[i].Indices[j] != idx {
				t.Fatalf("Expected identical order for identical (seed, epoch)")
			}
			seen[idx] = true
		}
	}
	if len(seen) != 50 {
		t.Errorf("Expected every sample once, saw %d distinct", len(seen))
	}

	a.Reset(4)
	other := drain(t, a)
	same := true
	for i := range other {
		for j, idx := range other[i].Indices {
			if first[i].Indices[j] != idx {
				same = false
			}
		}
	}
	if same {
		t.Error("Expected a different order for a different epoch")
	}
}

func TestAsyncDataLoaderResetMidEpoch(t *testing.T) {
	loader, _ := NewAsyncDataLoader(&sliceDataSource{n: 100}, AsyncDataLoaderConfig{BatchSize: 10, PrefetchDepth: 2})
	defer loader.Stop()

	loader.Reset(0)
	if _, err := loader.Next(context.Background()); err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	loader.Reset(1)
	batches := drain(t, loader)
	if len(batches) != 10 {
		t.Fatalf("Expected a full epoch after Reset, got %d batches", len(batches))
	}
	if batches[0].Epoch != 1 || batches[0].Indices[0] != 0 {
		t.Errorf("Expected epoch 1 starting at sample 0, got epoch %d sample %d", batches[0].Epoch, batches[0].Indices[0])
	}
}

func TestAsyncDataLoaderCancelledNext(t *testing.T) {
	loader, _ := NewAsyncDataLoader(&sliceDataSource{n: 4, delay: 20 * time.Millisecond}, AsyncDataLoaderConfig{BatchSize: 2, Workers: 1})
	defer loader.Stop()
	loader.Reset(0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := loader.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}

	batches := drain(t, loader)
	if len(batches) != 2 || batches[0].BatchID != 0 {
		t.Errorf("Expected cancelled wait to lose no batch, got %d batches", len(batches))
	}
}

func TestAsyncDataLoaderSourceError(t *testing.T) {
	loader, _ := NewAsyncDataLoader(&sliceDataSource{n: 8, fail: 5}, AsyncDataLoaderConfig{BatchSize: 4})
	defer loader.Stop()
	loader.Reset(0)

	if _, err := loader.Next(context.Background()); err != nil {
		t.Fatalf("Expected first batch to succeed, got %v", err)
	}
	if _, err := loader.Next(context.Background()); err == nil {
		t.Error("Expected error from failing sample")
	}
}

func TestAsyncDataLoaderStop(t *testing.T) {
	loader, _ := NewAsyncDataLoader(&sliceDataSource{n: 1000}, AsyncDataLoaderConfig{BatchSize: 1, PrefetchDepth: 2})
	loader.Reset(0)
	if !loader.Stats().IsRunning {
		t.Error("Expected loader to be running after Reset")
	}

	done := make(chan struct{})
	go func() {
		loader.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}
	if loader.Stats().IsRunning {
		t.Error("Expected loader to be stopped")
	}
	if _, err := loader.Next(context.Background()); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Expected ErrNotStarted after Stop, got %v", err)
	}
}
