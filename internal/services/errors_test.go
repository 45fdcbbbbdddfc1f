package services_test

import (
	"errors"
	"strings"
	"testing"

	"crest/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrUpstream, "collector", "discover", "request failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrUpstream) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"collector", "discover", "request failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "rescan", "fire", "unexpected state", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
}

func TestIsRetryable(t *testing.T) {
	validationErr := services.Wrap(services.ErrValidation, "observation", "normalize", "missing id", nil)
	if services.IsRetryable(validationErr) {
		t.Fatalf("validation errors should not be retryable: %v", validationErr)
	}

	timeoutErr := services.Wrap(services.ErrTimeout, "collector", "reacquire", "deadline exceeded", errors.New("io"))
	if !services.IsRetryable(timeoutErr) {
		t.Fatalf("timeouts should be retryable: %v", timeoutErr)
	}

	if services.IsRetryable(nil) {
		t.Fatal("nil error should not be retryable")
	}
}
