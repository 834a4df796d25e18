package reliability

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetry_Success(t *testing.T) {
	attempts := 0
	fn := func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("temporary error")
		}
		return nil
	}

	config := RetryConfig{
		MaxRetries:     5,
		InitialBackoff: 10 * time.Millisecond,
		Multiplier:     2.0,
	}

	err := Retry(context.Background(), config, fn)
	if err != nil {
		t.Errorf("Retry() error = %v, want nil", err)
	}

	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetry_MaxRetriesExceeded(t *testing.T) {
	attempts := 0
	fn := func(ctx context.Context) error {
		attempts++
		return errors.New("persistent error")
	}

	config := RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 1 * time.Millisecond,
	}

	err := Retry(context.Background(), config, fn)
	if !errors.Is(err, ErrMaxRetriesExceeded) {
		t.Errorf("expected ErrMaxRetriesExceeded, got %v", err)
	}

	if attempts != 4 { // Initial attempt + 3 retries
		t.Errorf("attempts = %d, want 4", attempts)
	}
}

func TestRetry_ContextCanceled(t *testing.T) {
	fn := func(ctx context.Context) error {
		return errors.New("error")
	}

	config := RetryConfig{
		MaxRetries:     5,
		InitialBackoff: 100 * time.Millisecond,
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, config, fn)
	if !errors.Is(err, ErrRetryAborted) {
		t.Errorf("expected ErrRetryAborted, got %v", err)
	}
}

func TestRetry_Permanent(t *testing.T) {
	attempts := 0
	sentinel := errors.New("bad request")
	fn := func(ctx context.Context) error {
		attempts++
		return Permanent(sentinel)
	}

	err := Retry(context.Background(), RetryConfig{MaxRetries: 5, InitialBackoff: time.Millisecond}, fn)
	if !errors.Is(err, sentinel) {
		t.Errorf("expected wrapped sentinel, got %v", err)
	}
	if errors.Is(err, ErrMaxRetriesExceeded) {
		t.Error("permanent error must not be reported as retries exceeded")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}

	if Permanent(nil) != nil {
		t.Error("Permanent(nil) should be nil")
	}
}

func TestRetry_ContextErrorNotRetried(t *testing.T) {
	attempts := 0
	fn := func(ctx context.Context) error {
		attempts++
		return context.DeadlineExceeded
	}

	err := Retry(context.Background(), RetryConfig{MaxRetries: 5, InitialBackoff: time.Millisecond}, fn)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestRetry_CircuitOpenNotRetried(t *testing.T) {
	attempts := 0
	fn := func(ctx context.Context) error {
		attempts++
		return ErrCircuitOpen
	}

	err := Retry(context.Background(), RetryConfig{MaxRetries: 5, InitialBackoff: time.Millisecond}, fn)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestRetry_ExponentialBackoff(t *testing.T) {
	attempts := []time.Time{}
	fn := func(ctx context.Context) error {
		attempts = append(attempts, time.Now())
		return errors.New("error")
	}

	config := RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 20 * time.Millisecond,
		Multiplier:     2.0,
		MaxBackoff:     time.Second,
	}

	_ = Retry(context.Background(), config, fn)

	if len(attempts) != 4 {
		t.Fatalf("attempts = %d, want 4", len(attempts))
	}

	// gaps should be ~20ms, ~40ms, ~80ms
	for i, min := range []time.Duration{20 * time.Millisecond, 40 * time.Millisecond, 80 * time.Millisecond} {
		gap := attempts[i+1].Sub(attempts[i])
		if gap < min {
			t.Errorf("gap %d = %v, want >= %v", i, gap, min)
		}
	}
}

func TestExponentialBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{10, time.Second},
	}

	for _, tt := range tests {
		got := ExponentialBackoff(tt.attempt, 100*time.Millisecond, 2.0, time.Second)
		if got != tt.want {
			t.Errorf("ExponentialBackoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestAddJitter(t *testing.T) {
	base := time.Second
	for i := 0; i < 100; i++ {
		got := addJitter(base)
		if got < 900*time.Millisecond || got > 1100*time.Millisecond {
			t.Fatalf("addJitter(%v) = %v, outside ±10%%", base, got)
		}
	}
}
