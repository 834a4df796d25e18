package output

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type recordingFlusher struct {
	mu      sync.Mutex
	batches [][]string
	err     error
}

func (f *recordingFlusher) flush(ctx context.Context, items []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, items)
	return f.err
}

func (f *recordingFlusher) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.batches {
		n += len(b)
	}
	return n
}

func TestBatcherFlushOnSize(t *testing.T) {
	f := &recordingFlusher{}
	b := NewBatcher(BatcherConfig{MaxBatchSize: 5}, nil, f.flush)

	for i := 0; i < 12; i++ {
		if err := b.Add(context.Background(), "10.0.0.99"); err != nil {
			t.Fatalf("Add() error = %v", err)
		}
	}

	if len(f.batches) != 2 {
		t.Errorf("expected 2 full batches before stop, got %d", len(f.batches))
	}
	if b.Size() != 2 {
		t.Errorf("Size() = %d, want 2", b.Size())
	}

	if err := b.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if f.total() != 12 {
		t.Errorf("expected 12 records flushed, got %d", f.total())
	}
	if len(f.batches) != 3 || len(f.batches[2]) != 2 {
		t.Errorf("unexpected batches: %v", f.batches)
	}
}

func TestBatcherFlushOnBytes(t *testing.T) {
	f := &recordingFlusher{}
	b := NewBatcher(BatcherConfig{MaxBatchSize: 100, MaxBatchBytes: 20},
		func(s string) int { return len(s) }, f.flush)

	b.Add(context.Background(), "192.168.1.15") // 12 bytes
	if len(f.batches) != 0 {
		t.Fatal("flushed before byte limit")
	}
	b.Add(context.Background(), "10.0.0.99") // 21 bytes
	if len(f.batches) != 1 {
		t.Errorf("expected flush at byte limit, got %d batches", len(f.batches))
	}
}

func TestBatcherFlushInterval(t *testing.T) {
	f := &recordingFlusher{}
	b := NewBatcher(BatcherConfig{MaxBatchSize: 100, FlushInterval: 20 * time.Millisecond}, nil, f.flush)
	defer b.Stop(context.Background())

	b.Add(context.Background(), "10.0.0.99")

	deadline := time.Now().Add(2 * time.Second)
	for f.total() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if f.total() != 1 {
		t.Errorf("expected timer flush, got %d records", f.total())
	}
}

func TestBatcherStop(t *testing.T) {
	f := &recordingFlusher{err: errors.New("broker unavailable")}
	b := NewBatcher(BatcherConfig{MaxBatchSize: 10}, nil, f.flush)

	b.Add(context.Background(), "10.0.0.99")

	if err := b.Stop(context.Background()); err == nil {
		t.Error("expected flush error from Stop")
	}
	if err := b.Stop(context.Background()); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
	if err := b.Add(context.Background(), "10.0.0.1"); !errors.Is(err, ErrSinkClosed) {
		t.Errorf("Add() after stop error = %v, want ErrSinkClosed", err)
	}
}

func TestBatcherFailedFlushKeepsRecords(t *testing.T) {
	f := &recordingFlusher{err: errors.New("broker unavailable")}
	b := NewBatcher(BatcherConfig{MaxBatchSize: 3}, nil, f.flush)

	for _, addr := range []string{"1.1.1.1", "2.2.2.2"} {
		if err := b.Add(context.Background(), addr); err != nil {
			t.Fatalf("Add() error = %v", err)
		}
	}
	if err := b.Add(context.Background(), "3.3.3.3"); err == nil {
		t.Fatal("expected flush error from Add")
	}
	if b.Size() != 3 {
		t.Fatalf("Size() after failed flush = %d, want 3", b.Size())
	}

	f.mu.Lock()
	f.err = nil
	f.mu.Unlock()

	if err := b.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if len(f.batches) != 2 {
		t.Fatalf("expected 2 flush attempts, got %d", len(f.batches))
	}
	want := []string{"1.1.1.1", "2.2.2.2", "3.3.3.3"}
	for i, addr := range want {
		if f.batches[1][i] != addr {
			t.Errorf("resent batch = %v, want %v", f.batches[1], want)
			break
		}
	}
	if b.Size() != 0 {
		t.Errorf("Size() after successful flush = %d, want 0", b.Size())
	}
}

func TestBatcherDrain(t *testing.T) {
	f := &recordingFlusher{err: errors.New("broker unavailable")}
	b := NewBatcher(BatcherConfig{MaxBatchSize: 2}, nil, f.flush)

	b.Add(context.Background(), "1.1.1.1")
	b.Add(context.Background(), "2.2.2.2")
	if err := b.Stop(context.Background()); err == nil {
		t.Fatal("expected flush error from Stop")
	}

	drained := b.Drain()
	if len(drained) != 2 || drained[0] != "1.1.1.1" || drained[1] != "2.2.2.2" {
		t.Errorf("Drain() = %v", drained)
	}
	if b.Size() != 0 {
		t.Errorf("Size() after Drain = %d, want 0", b.Size())
	}
}

func TestBatcherEmptyFlush(t *testing.T) {
	f := &recordingFlusher{}
	b := NewBatcher(BatcherConfig{}, nil, f.flush)

	if err := b.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if len(f.batches) != 0 {
		t.Error("empty batch should not be flushed")
	}
}
