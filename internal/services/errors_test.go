package services_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"genflow/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrProvider, "llm", "stream", "failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrProvider) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"llm", "stream", "failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapWithoutMarkerDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected fallback detail, got %q", err.Error())
	}
}

func TestKindMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want services.ErrorKind
	}{
		{"nil", nil, services.ErrorKindNone},
		{"validation", services.Wrap(services.ErrValidation, "engine", "validate", "prompt empty", nil), services.ErrorKindValidation},
		{"provider", services.Wrap(services.ErrProvider, "mock", "generate", "boom", nil), services.ErrorKindProvider},
		{"timeout marker", services.Wrap(services.ErrTimeout, "engine", "execute", "deadline", nil), services.ErrorKindTimeout},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), services.ErrorKindTimeout},
		{"cancelled", context.Canceled, services.ErrorKindCancelled},
		{"plain", errors.New("unclassified"), services.ErrorKindProvider},
	}
	for _, tc := range cases {
		if got := services.Kind(tc.err); got != tc.want {
			t.Fatalf("%s: expected %q, got %q", tc.name, tc.want, got)
		}
	}
}

func TestMessage(t *testing.T) {
	if services.Message(nil) != "" {
		t.Fatal("expected empty message for nil error")
	}
	if got := services.Message(errors.New("  ")); got == "" {
		t.Fatal("expected fallback message for blank error")
	}
}
