package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func retryable(error) ErrorClassification {
	return ErrorClassification{Retryable: true, RecordFailure: true}
}

func terminal(error) ErrorClassification {
	return ErrorClassification{Retryable: false, RecordFailure: true}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.BreakerEnabled = false
	cfg.RetryBackoff = time.Millisecond
	return cfg
}

func TestExecuteRetriesOnceOnTransportError(t *testing.T) {
	exec := NewExecutor(testConfig())

	calls := 0
	err := exec.Execute(context.Background(), "op", func(context.Context) error {
		calls++
		if calls == 1 {
			return errors.New("connection refused")
		}
		return nil
	}, retryable)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestExecuteNeverRetriesPastBudget(t *testing.T) {
	exec := NewExecutor(testConfig())

	calls := 0
	err := exec.Execute(context.Background(), "op", func(context.Context) error {
		calls++
		return errors.New("still failing")
	}, retryable)
	if err == nil {
		t.Fatalf("expected error")
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want first attempt + one retry", calls)
	}
}

func TestExecuteDoesNotRetryTerminalErrors(t *testing.T) {
	exec := NewExecutor(testConfig())

	calls := 0
	boom := errors.New("bad request")
	err := exec.Execute(context.Background(), "op", func(context.Context) error {
		calls++
		return boom
	}, terminal)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if calls != 1 {
		t.Fatalf("terminal error retried: %d calls", calls)
	}
}

func TestExecuteHonorsCancellation(t *testing.T) {
	exec := NewExecutor(testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := exec.Execute(ctx, "op", func(context.Context) error {
		t.Fatalf("callback ran under canceled context")
		return nil
	}, retryable)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
}

func TestBreakerOpensAfterFailureRatio(t *testing.T) {
	cfg := testConfig()
	cfg.BreakerEnabled = true
	cfg.BreakerMinRequests = 3
	cfg.RetryMaxAttempts = 1
	exec := NewExecutor(cfg)

	for i := 0; i < 5; i++ {
		_ = exec.Execute(context.Background(), "op", func(context.Context) error {
			return errors.New("down")
		}, retryable)
	}

	err := exec.Execute(context.Background(), "op", func(context.Context) error {
		t.Fatalf("callback ran with breaker open")
		return nil
	}, retryable)
	if !IsCircuitOpen(err) {
		t.Fatalf("expected open circuit, got %v", err)
	}
}
