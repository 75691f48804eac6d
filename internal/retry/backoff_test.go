package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

type statusErr struct{ code int }

func (e statusErr) Error() string   { return fmt.Sprintf("upstream status %d", e.code) }
func (e statusErr) StatusCode() int { return e.code }

func fastConfig(maxRetries int) RetryConfig {
	return RetryConfig{
		MaxRetries: maxRetries,
		BaseDelay:  5 * time.Millisecond,
		MaxDelay:   20 * time.Millisecond,
		Multiplier: 2.0,
		Jitter:     false,
		LogRetries: false,
	}
}

func TestDefaultRetryConfig(t *testing.T) {
	config := DefaultRetryConfig()

	if config.MaxRetries != 3 {
		t.Errorf("Expected MaxRetries=3, got %d", config.MaxRetries)
	}
	if config.BaseDelay != time.Second {
		t.Errorf("Expected BaseDelay=1s, got %v", config.BaseDelay)
	}
	if config.MaxDelay != 30*time.Second {
		t.Errorf("Expected MaxDelay=30s, got %v", config.MaxDelay)
	}
	if !config.Jitter {
		t.Error("Expected Jitter=true")
	}
}

func TestDo_Success(t *testing.T) {
	result := Do(context.Background(), fastConfig(2), nil, func() error {
		return nil
	})

	if !result.Success {
		t.Error("Expected success=true")
	}
	if result.Attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", result.Attempts)
	}
	if len(result.RetryReasons) != 0 {
		t.Errorf("Expected no retry reasons, got %d", len(result.RetryReasons))
	}
}

func TestDo_EventualSuccess(t *testing.T) {
	attempts := 0
	result := Do(context.Background(), fastConfig(3), nil, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("temporary failure")
		}
		return nil
	})

	if !result.Success {
		t.Error("Expected success=true")
	}
	if result.Attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", result.Attempts)
	}
	if len(result.RetryReasons) != 2 {
		t.Errorf("Expected 2 retry reasons, got %d", len(result.RetryReasons))
	}
}

func TestDo_NonRetryableStopsImmediately(t *testing.T) {
	attempts := 0
	result := Do(context.Background(), fastConfig(3), nil, func() error {
		attempts++
		return statusErr{code: 400}
	})

	if result.Success {
		t.Error("Expected success=false")
	}
	if attempts != 1 {
		t.Errorf("Expected a single attempt for a 400, got %d", attempts)
	}
}

func TestDo_ExhaustsRetries(t *testing.T) {
	result := Do(context.Background(), fastConfig(2), nil, func() error {
		return statusErr{code: 503}
	})

	if result.Success {
		t.Error("Expected success=false")
	}
	if result.Attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", result.Attempts)
	}
	if result.LastError == nil {
		t.Error("Expected last error to be recorded")
	}
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	config := fastConfig(5)
	config.BaseDelay = time.Second
	config.MaxDelay = time.Second

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	result := Do(ctx, config, nil, func() error {
		return errors.New("connection reset by peer")
	})

	if result.Success {
		t.Error("Expected success=false")
	}
	if !errors.Is(result.LastError, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", result.LastError)
	}
}

func TestCalculateDelayIsCapped(t *testing.T) {
	config := fastConfig(10)
	if d := calculateDelay(config, 0); d != 5*time.Millisecond {
		t.Errorf("Expected 5ms, got %v", d)
	}
	if d := calculateDelay(config, 8); d != 20*time.Millisecond {
		t.Errorf("Expected delay capped at 20ms, got %v", d)
	}
}

func TestIsRetryableError(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("dial tcp: connection refused"), true},
		{errors.New("429 Too Many Requests"), true},
		{errors.New("invalid api key"), false},
		{statusErr{code: 429}, true},
		{statusErr{code: 500}, true},
		{statusErr{code: 401}, false},
		{fmt.Errorf("wrapped: %w", statusErr{code: 502}), true},
		{context.Canceled, false},
	}

	for _, tc := range cases {
		if got := IsRetryableError(tc.err); got != tc.want {
			t.Errorf("IsRetryableError(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
