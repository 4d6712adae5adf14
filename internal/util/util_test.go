package util

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetrySucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 5, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry returned error: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryReturnsLastError(t *testing.T) {
	want := errors.New("still broken")
	calls := 0
	err := Retry(context.Background(), 3, time.Millisecond, func() error {
		calls++
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("Retry returned %v, want %v", err, want)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, 3, time.Minute, func() error {
		return errors.New("fail")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Retry returned %v, want context.Canceled", err)
	}
}

func TestRateLimiterWait(t *testing.T) {
	rl := NewRateLimiter(60000) // effectively unlimited for the test
	for i := 0; i < 5; i++ {
		if err := rl.Wait(context.Background()); err != nil {
			t.Fatalf("Wait returned error: %v", err)
		}
	}
}

func TestNewLoggerLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "bogus"} {
		if l := NewLogger(level, "json"); l == nil {
			t.Fatalf("NewLogger(%q) returned nil", level)
		}
	}
	if l := NewLogger("info", "text"); l == nil {
		t.Fatal("NewLogger text format returned nil")
	}
}
