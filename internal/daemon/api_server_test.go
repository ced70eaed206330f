package daemon_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"genflow/internal/api"
	"genflow/internal/config"
	"genflow/internal/daemon"
	"genflow/internal/engine"
	"genflow/internal/generation"
	"genflow/internal/notifications"
	"genflow/internal/provider/mock"
	"genflow/internal/testsupport"
)

func newAPIClient(t *testing.T, opts ...testsupport.ConfigOption) (*api.Client, *daemon.Daemon) {
	t.Helper()
	d := newDaemon(t, daemon.Dependencies{}, opts...)
	srv := httptest.NewServer(d.Handler())
	t.Cleanup(srv.Close)
	return api.NewClient(srv.URL, "").WithHTTPClient(srv.Client()), d
}

func waitForRecord(t *testing.T, client *api.Client, id string) *api.Record {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := client.Describe(context.Background(), id)
		if err != nil {
			t.Fatalf("Describe(%s): %v", id, err)
		}
		if resp.Record != nil {
			return resp.Record
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("generation %s did not finish", id)
	return nil
}

func TestAPISubmitCompletesAndStreams(t *testing.T) {
	client, _ := newAPIClient(t)
	ctx := context.Background()

	id, err := client.Submit(ctx, api.SubmitRequest{
		Kind:     "text",
		Provider: mock.Name,
		Prompt:   "write a tagline for a bakery",
		BrandID:  "acme",
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if id == "" {
		t.Fatal("expected generated id")
	}

	rec := waitForRecord(t, client, id)
	if rec.Status != string(generation.StatusCompleted) || rec.Result == nil || rec.Result.Text == "" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if rec.BrandID != "acme" {
		t.Fatalf("brand = %q", rec.BrandID)
	}

	stream, err := client.Stream(ctx, id)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if !stream.Done || stream.Content != rec.Result.Text {
		t.Fatalf("unexpected stream %+v", stream)
	}

	history, err := client.History(ctx, engine.Filter{BrandID: "acme"})
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if history.Total != 1 || len(history.Items) != 1 || history.Items[0].ID != id {
		t.Fatalf("unexpected history %+v", history)
	}

	stats, err := client.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Total != 1 || stats.ByStatus["completed"] != 1 || stats.ByKind["text"] != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestAPIEmptyPromptFailsAndRetryRules(t *testing.T) {
	client, _ := newAPIClient(t)
	ctx := context.Background()

	id, err := client.Submit(ctx, api.SubmitRequest{Kind: "text", Provider: mock.Name, Prompt: "  "})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	rec := waitForRecord(t, client, id)
	if rec.Status != "failed" || rec.ErrorKind != "validation" {
		t.Fatalf("unexpected record %+v", rec)
	}

	okID, err := client.Submit(ctx, api.SubmitRequest{Kind: "image", Provider: mock.Name, Prompt: "a red bicycle"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitForRecord(t, client, okID)
	if _, err := client.Retry(ctx, okID); !errors.Is(err, api.ErrNotRetryable) {
		t.Fatalf("retry of completed record: %v", err)
	}
	if _, err := client.Retry(ctx, "missing"); !errors.Is(err, api.ErrNotFound) {
		t.Fatalf("retry of unknown id: %v", err)
	}

	// Retrying a failed record with an empty prompt yields another failure
	// under a fresh id.
	retryID, err := client.Retry(ctx, id)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if retryID == id {
		t.Fatal("retry should assign a new id")
	}
	retried := waitForRecord(t, client, retryID)
	if retried.Metadata["retry_of"] != id {
		t.Fatalf("retry metadata = %v", retried.Metadata)
	}
}

func TestAPICancelActiveGeneration(t *testing.T) {
	client, _ := newAPIClient(t, testsupport.WithMockStep(200))
	ctx := context.Background()

	id, err := client.Submit(ctx, api.SubmitRequest{Kind: "video", Provider: mock.Name, Prompt: "drone shot over hills"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		active, err := client.Active(ctx)
		if err != nil {
			t.Fatalf("Active: %v", err)
		}
		if len(active.Items) == 1 && active.Items[0].Status == "executing" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job never reached executing: %+v", active)
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancelled, err := client.Cancel(ctx, id)
	if err != nil || !cancelled {
		t.Fatalf("Cancel = %v, %v", cancelled, err)
	}
	rec := waitForRecord(t, client, id)
	if rec.Status != "cancelled" || rec.ErrorKind != "cancelled" {
		t.Fatalf("unexpected record %+v", rec)
	}

	again, err := client.Cancel(ctx, id)
	if err != nil || again {
		t.Fatalf("second Cancel = %v, %v", again, err)
	}
}

func TestAPINotFoundAndBadQuery(t *testing.T) {
	client, _ := newAPIClient(t)
	ctx := context.Background()

	if _, err := client.Describe(ctx, "nope"); !errors.Is(err, api.ErrNotFound) {
		t.Fatalf("Describe unknown: %v", err)
	}
	if _, err := client.Stream(ctx, "nope"); !errors.Is(err, api.ErrNotFound) {
		t.Fatalf("Stream unknown: %v", err)
	}

	d := newDaemon(t, daemon.Dependencies{})
	req := httptest.NewRequest(http.MethodGet, "/api/history?kind=audio", nil)
	w := httptest.NewRecorder()
	d.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	var payload api.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if !strings.Contains(payload.Error, "audio") {
		t.Fatalf("error = %q", payload.Error)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/generations", strings.NewReader("{not json"))
	w = httptest.NewRecorder()
	d.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", w.Code)
	}
}

func TestAPIRequiresBearerToken(t *testing.T) {
	d := newDaemon(t, daemon.Dependencies{}, testsupport.WithAPIToken("s3cret"))
	srv := httptest.NewServer(d.Handler())
	defer srv.Close()

	if _, err := api.NewClient(srv.URL, "").Status(context.Background()); err == nil {
		t.Fatal("expected unauthorized without token")
	} else {
		var statusErr *api.StatusError
		if !errors.As(err, &statusErr) || statusErr.Code != http.StatusUnauthorized {
			t.Fatalf("unexpected error %v", err)
		}
	}

	status, err := api.NewClient(srv.URL, "s3cret").Status(context.Background())
	if err != nil {
		t.Fatalf("Status with token: %v", err)
	}
	if status.Engine.ConcurrencyLimit == 0 || len(status.Engine.Providers) != 1 {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestAPIEventsFollowLifecycle(t *testing.T) {
	client, _ := newAPIClient(t)
	ctx := context.Background()

	id, err := client.Submit(ctx, api.SubmitRequest{Kind: "text", Provider: mock.Name, Prompt: "hello"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitForRecord(t, client, id)

	var types []string
	var cursor uint64
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := client.Events(ctx, cursor, 50, false)
		if err != nil {
			t.Fatalf("Events: %v", err)
		}
		for _, ev := range resp.Events {
			if ev.JobID == id {
				types = append(types, ev.Type)
			}
		}
		cursor = resp.Next
		if len(types) > 0 && types[len(types)-1] == "terminal" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(types) < 3 || types[0] != "submitted" || types[1] != "started" || types[len(types)-1] != "terminal" {
		t.Fatalf("unexpected event sequence %v", types)
	}

	// A waiting fetch past the cursor returns once a new event arrives.
	done := make(chan api.EventStreamResponse, 1)
	go func() {
		resp, _ := client.Events(ctx, cursor, 10, true)
		done <- resp
	}()
	time.Sleep(20 * time.Millisecond)
	if _, err := client.Submit(ctx, api.SubmitRequest{Kind: "text", Provider: mock.Name, Prompt: "second"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	select {
	case resp := <-done:
		if len(resp.Events) == 0 || resp.Events[0].Type != "submitted" {
			t.Fatalf("unexpected waited events %+v", resp.Events)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("waiting fetch did not return")
	}
}

func TestAPILogsTailAndResume(t *testing.T) {
	client, d := newAPIClient(t)
	ctx := context.Background()

	logPath := d.Status().LogPath
	if err := os.WriteFile(logPath, []byte("one\ntwo\nthree\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	resp, err := client.Logs(ctx, -1, 2, false)
	if err != nil {
		t.Fatalf("Logs: %v", err)
	}
	if strings.Join(resp.Lines, ",") != "two,three" {
		t.Fatalf("lines = %v", resp.Lines)
	}

	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	if _, err := f.WriteString("four\n"); err != nil {
		t.Fatalf("append: %v", err)
	}
	f.Close()

	resp, err = client.Logs(ctx, resp.Offset, 0, false)
	if err != nil {
		t.Fatalf("Logs resume: %v", err)
	}
	if len(resp.Lines) != 1 || resp.Lines[0] != "four" {
		t.Fatalf("resumed lines = %v", resp.Lines)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/logs?offset=abc", nil)
	w := httptest.NewRecorder()
	d.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad offset, got %d", w.Code)
	}
}

func TestDaemonNotifiesFailedGenerations(t *testing.T) {
	bodies := make(chan string, 4)
	ntfy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		bodies <- r.Header.Get("Title") + "|" + string(data)
	}))
	defer ntfy.Close()

	notifier := notifications.New(config.Notifications{NtfyTopic: ntfy.URL}, nil)
	d := newDaemon(t, daemon.Dependencies{Notifier: notifier})
	srv := httptest.NewServer(d.Handler())
	defer srv.Close()
	client := api.NewClient(srv.URL, "")

	if !d.Status().Notifications {
		t.Fatal("expected status to report notifications")
	}

	ctx := context.Background()
	okID, err := client.Submit(ctx, api.SubmitRequest{Kind: "text", Provider: mock.Name, Prompt: "fine"})
	if err != nil {
		t.Fatalf("Submit ok: %v", err)
	}
	waitForRecord(t, client, okID)

	failID, err := client.Submit(ctx, api.SubmitRequest{
		Kind:       "text",
		Provider:   mock.Name,
		Prompt:     "doomed",
		Parameters: map[string]any{mock.FailParameter: "upstream exploded"},
	})
	if err != nil {
		t.Fatalf("Submit failing: %v", err)
	}
	waitForRecord(t, client, failID)

	select {
	case body := <-bodies:
		if !strings.HasPrefix(body, "genflow - Generation Failed|") || !strings.Contains(body, "upstream exploded") {
			t.Fatalf("unexpected notification %q", body)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no notification delivered")
	}
	select {
	case body := <-bodies:
		t.Fatalf("completed generation should not notify by default, got %q", body)
	case <-time.After(100 * time.Millisecond):
	}
}
