package notifications_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"genflow/internal/config"
	"genflow/internal/generation"
	"genflow/internal/notifications"
	"genflow/internal/services"
)

type capturedRequest struct {
	title    string
	tags     string
	priority string
	body     string
}

func newCaptureServer(t *testing.T) (*httptest.Server, func() []capturedRequest) {
	t.Helper()
	var mu sync.Mutex
	var got []capturedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		got = append(got, capturedRequest{
			title:    r.Header.Get("Title"),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
			body:     string(body),
		})
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []capturedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]capturedRequest(nil), got...)
	}
}

func record(status generation.Status) generation.Record {
	cost := 0.04
	return generation.Record{
		ID:         "0123456789abcdef",
		Kind:       generation.KindImage,
		Provider:   "mock",
		Prompt:     "a   storefront\nat dawn",
		BrandID:    "acme",
		Status:     status,
		Duration:   1500 * time.Millisecond,
		Cost:       &cost,
		Result:     generation.Result{ArtifactRef: "mock://image/0123"},
		FinishedAt: time.Now(),
	}
}

func TestNewReturnsNilWithoutTopic(t *testing.T) {
	n := notifications.New(config.Notifications{}, nil)
	if n != nil {
		t.Fatal("expected nil notifier without topic")
	}
	if err := n.OnRecord(context.Background(), record(generation.StatusFailed)); err != nil {
		t.Fatalf("nil notifier should be a no-op, got %v", err)
	}
}

func TestFailedRecordIsSentWithHighPriority(t *testing.T) {
	srv, requests := newCaptureServer(t)
	n := notifications.New(config.Notifications{NtfyTopic: srv.URL}, nil)

	rec := record(generation.StatusFailed)
	rec.Error = "quota exhausted"
	rec.ErrorKind = services.ErrorKindProvider
	if err := n.OnRecord(context.Background(), rec); err != nil {
		t.Fatalf("OnRecord: %v", err)
	}

	got := requests()
	if len(got) != 1 {
		t.Fatalf("expected one request, got %d", len(got))
	}
	req := got[0]
	if req.title != "genflow - Generation Failed" || req.priority != "high" {
		t.Fatalf("unexpected headers %+v", req)
	}
	if req.tags != "genflow,image,failed,brand:acme" {
		t.Fatalf("tags = %q", req.tags)
	}
	for _, want := range []string{"image generation 01234567 via mock failed", "quota exhausted", "Prompt: a storefront at dawn"} {
		if !strings.Contains(req.body, want) {
			t.Fatalf("body %q missing %q", req.body, want)
		}
	}
}

func TestCompletedAndCancelledAreOptIn(t *testing.T) {
	srv, requests := newCaptureServer(t)
	quiet := notifications.New(config.Notifications{NtfyTopic: srv.URL}, nil)
	for _, status := range []generation.Status{generation.StatusCompleted, generation.StatusCancelled} {
		if err := quiet.OnRecord(context.Background(), record(status)); err != nil {
			t.Fatalf("OnRecord(%s): %v", status, err)
		}
	}
	if len(requests()) != 0 {
		t.Fatalf("expected no requests, got %+v", requests())
	}

	loud := notifications.New(config.Notifications{NtfyTopic: srv.URL, NotifyCompleted: true, NotifyCancelled: true}, nil)
	if err := loud.OnRecord(context.Background(), record(generation.StatusCompleted)); err != nil {
		t.Fatalf("OnRecord completed: %v", err)
	}
	if err := loud.OnRecord(context.Background(), record(generation.StatusCancelled)); err != nil {
		t.Fatalf("OnRecord cancelled: %v", err)
	}
	got := requests()
	if len(got) != 2 {
		t.Fatalf("expected two requests, got %d", len(got))
	}
	if got[0].title != "genflow - Generation Complete" || !strings.Contains(got[0].body, "mock://image/0123") || !strings.Contains(got[0].body, "$0.0400") {
		t.Fatalf("unexpected completed notification %+v", got[0])
	}
	if got[1].title != "genflow - Generation Cancelled" || got[1].priority != "low" {
		t.Fatalf("unexpected cancelled notification %+v", got[1])
	}
}

func TestServerErrorIsReturned(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "topic forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	n := notifications.New(config.Notifications{NtfyTopic: srv.URL}, nil)
	err := n.OnRecord(context.Background(), record(generation.StatusFailed))
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("expected 403 error, got %v", err)
	}
}

func TestTestNotification(t *testing.T) {
	srv, requests := newCaptureServer(t)
	n := notifications.New(config.Notifications{NtfyTopic: srv.URL}, nil)
	if err := n.Test(context.Background()); err != nil {
		t.Fatalf("Test: %v", err)
	}
	got := requests()
	if len(got) != 1 || got[0].title != "genflow - Test" || got[0].priority != "low" {
		t.Fatalf("unexpected test notification %+v", got)
	}
}
