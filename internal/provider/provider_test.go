package provider

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestClassifyStatus(t *testing.T) {
	cases := []struct {
		status int
		want   Kind
	}{
		{429, KindRateLimited},
		{401, KindUnavailable},
		{403, KindUnavailable},
		{400, KindBadRequest},
		{404, KindBadRequest},
		{422, KindBadRequest},
		{500, KindTransient},
		{502, KindTransient},
		{503, KindTransient},
		{504, KindTransient},
	}
	for _, c := range cases {
		if got := ClassifyStatus(c.status); got != c.want {
			t.Errorf("ClassifyStatus(%d) = %s, want %s", c.status, got, c.want)
		}
	}
}

func TestRetryable(t *testing.T) {
	if Retryable(nil) {
		t.Fatalf("Retryable(nil) = true, want false")
	}
	if Retryable(context.Canceled) {
		t.Fatalf("Retryable(canceled) = true, want false")
	}
	if !Retryable(context.DeadlineExceeded) {
		t.Fatalf("Retryable(deadline) = false, want true")
	}
	if !Retryable(Errorf("x", KindTransient, "boom")) {
		t.Fatalf("transient not retryable")
	}
	if !Retryable(Errorf("x", KindRateLimited, "slow down")) {
		t.Fatalf("rate limited not retryable")
	}
	if Retryable(Errorf("x", KindBadRequest, "nope")) {
		t.Fatalf("bad request retryable")
	}
	if Retryable(Errorf("x", KindUnavailable, "no key")) {
		t.Fatalf("unavailable retryable")
	}
	if Retryable(Errorf("x", KindFatal, "broken")) {
		t.Fatalf("fatal retryable")
	}
}

func TestErrorUnwrap(t *testing.T) {
	inner := errors.New("inner")
	err := &Error{Provider: "p", Kind: KindTransient, Err: inner}
	if !errors.Is(err, inner) {
		t.Fatalf("errors.Is lost the wrapped error")
	}
	var pe *Error
	if !errors.As(error(err), &pe) || pe.Kind != KindTransient {
		t.Fatalf("errors.As failed to recover *Error")
	}
}

func TestBackoffDoublesToCap(t *testing.T) {
	base := 100 * time.Millisecond
	if got := Backoff(0, base, time.Second); got != base {
		t.Fatalf("Backoff(0) = %v, want %v", got, base)
	}
	if got := Backoff(2, base, time.Second); got != 400*time.Millisecond {
		t.Fatalf("Backoff(2) = %v, want %v", got, 400*time.Millisecond)
	}
	if got := Backoff(10, base, time.Second); got != time.Second {
		t.Fatalf("Backoff(10) = %v, want cap %v", got, time.Second)
	}
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 3, time.Millisecond, func() error {
		calls++
		return Errorf("x", KindBadRequest, "bad input")
	})
	if err == nil {
		t.Fatalf("Retry returned nil, want error")
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestRetryRetriesTransient(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 3, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return Errorf("x", KindTransient, "flaky")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry = %v, want nil", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 2, time.Millisecond, func() error {
		calls++
		return Errorf("x", KindTransient, "always down")
	})
	if err == nil {
		t.Fatalf("Retry returned nil, want error")
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}
