package output

import (
	"context"
	"errors"
	"sync"
	"time"
)

// BatcherConfig configures the batching behavior
type BatcherConfig struct {
	MaxBatchSize  int
	MaxBatchBytes int
	// FlushInterval flushes a partial batch periodically, 0 disables the timer
	FlushInterval time.Duration
}

// Batcher accumulates records and flushes them in batches. A batch is
// flushed when it is full, when the timer fires and on Stop. A batch whose
// flush fails is put back in front of the queue and sent again with the
// next flush.
type Batcher[T any] struct {
	config  BatcherConfig
	items   []T
	size    int
	sizeFn  func(T) int
	mu      sync.Mutex
	flushFn func(ctx context.Context, items []T) error
	stopCh  chan struct{}
	doneCh  chan struct{}
	stopped bool
	lastErr error
}

// NewBatcher creates a new batcher. sizeFn reports the byte size of one
// record and may be nil when MaxBatchBytes is unused.
func NewBatcher[T any](config BatcherConfig, sizeFn func(T) int, flushFn func(ctx context.Context, items []T) error) *Batcher[T] {
	if config.MaxBatchSize <= 0 {
		config.MaxBatchSize = 100
	}
	if sizeFn == nil {
		sizeFn = func(T) int { return 0 }
	}

	b := &Batcher[T]{
		config:  config,
		items:   make([]T, 0, config.MaxBatchSize),
		sizeFn:  sizeFn,
		flushFn: flushFn,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}

	if config.FlushInterval > 0 {
		go b.flushLoop()
	} else {
		close(b.doneCh)
	}

	return b
}

// Add adds a record to the batch
func (b *Batcher[T]) Add(ctx context.Context, item T) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped {
		return ErrSinkClosed
	}

	b.items = append(b.items, item)
	b.size += b.sizeFn(item)

	if len(b.items) >= b.config.MaxBatchSize ||
		(b.config.MaxBatchBytes > 0 && b.size >= b.config.MaxBatchBytes) {
		return b.flushLocked(ctx)
	}

	return nil
}

// Flush forces a flush of the current batch
func (b *Batcher[T]) Flush(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flushLocked(ctx)
}

// flushLocked flushes the current batch (must be called with lock held)
func (b *Batcher[T]) flushLocked(ctx context.Context) error {
	if len(b.items) == 0 {
		return nil
	}

	toFlush := make([]T, len(b.items))
	copy(toFlush, b.items)
	flushSize := b.size

	b.items = b.items[:0]
	b.size = 0

	// Flush without holding lock
	b.mu.Unlock()
	err := b.flushFn(ctx, toFlush)
	b.mu.Lock()

	if err != nil {
		// records added during the flush stay behind the failed batch
		restored := make([]T, 0, len(toFlush)+len(b.items))
		restored = append(restored, toFlush...)
		b.items = append(restored, b.items...)
		b.size += flushSize
	}

	return err
}

func (b *Batcher[T]) flushLoop() {
	ticker := time.NewTicker(b.config.FlushInterval)
	defer ticker.Stop()
	defer close(b.doneCh)

	for {
		select {
		case <-ticker.C:
			if err := b.Flush(context.Background()); err != nil {
				b.mu.Lock()
				b.lastErr = err
				b.mu.Unlock()
			}
		case <-b.stopCh:
			return
		}
	}
}

// Stop stops the timer and flushes the remaining records. It returns the
// final flush error joined with any error from a timer flush.
func (b *Batcher[T]) Stop(ctx context.Context) error {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return nil
	}
	b.stopped = true
	b.mu.Unlock()

	close(b.stopCh)
	<-b.doneCh

	err := b.Flush(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()
	return errors.Join(b.lastErr, err)
}

// Drain removes and returns the records that have not been flushed
func (b *Batcher[T]) Drain() []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	items := b.items
	b.items = make([]T, 0, b.config.MaxBatchSize)
	b.size = 0
	return items
}

// Size returns the current number of records in the batch
func (b *Batcher[T]) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}
