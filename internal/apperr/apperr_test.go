package apperr

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestKindOfWrapped(t *testing.T) {
	base := New(NotFound, "Client not found")
	wrapped := fmt.Errorf("lookup: %w", base)
	if got := KindOf(wrapped); got != NotFound {
		t.Fatalf("KindOf=%q, want %q", got, NotFound)
	}
	if !Is(wrapped, NotFound) {
		t.Fatal("expected Is to match through wrapping")
	}
}

func TestKindOfPlainErrorIsUnexpected(t *testing.T) {
	if got := KindOf(errors.New("boom")); got != Unexpected {
		t.Fatalf("KindOf=%q, want %q", got, Unexpected)
	}
	if got := KindOf(nil); got != "" {
		t.Fatalf("KindOf(nil)=%q, want empty", got)
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Persistence("Failed to save lead", cause)
	if !errors.Is(err, cause) {
		t.Fatal("expected cause to be reachable via errors.Is")
	}
	if err.Message != "Failed to save lead" {
		t.Fatalf("unexpected message %q", err.Message)
	}
}

func TestLimitedCarriesRetryAfter(t *testing.T) {
	err := Limited("Rate limit exceeded", 30*time.Second)
	e, ok := As(err)
	if !ok || e.RetryAfter != 30*time.Second || e.Kind != RateLimited {
		t.Fatalf("unexpected error %+v", e)
	}
}
