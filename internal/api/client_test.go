package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"genflow/internal/api"
	"genflow/internal/engine"
	"genflow/internal/generation"
)

func TestClientSubmitSendsTokenAndBody(t *testing.T) {
	var got api.SubmitRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/generations" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("missing bearer token")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(api.SubmitResponse{ID: "job-1"})
	}))
	defer srv.Close()

	client := api.NewClient(srv.URL, "secret")
	id, err := client.Submit(context.Background(), api.SubmitRequest{Kind: "text", Provider: "mock", Prompt: "hi"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if id != "job-1" || got.Prompt != "hi" || got.Provider != "mock" {
		t.Fatalf("id=%q body=%+v", id, got)
	}
}

func TestClientMapsErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/generations/missing":
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(api.ErrorResponse{Error: "generation not found"})
		case "/api/generations/done/retry":
			w.WriteHeader(http.StatusConflict)
			_ = json.NewEncoder(w).Encode(api.ErrorResponse{Error: "only failed generations can be retried"})
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	client := api.NewClient(srv.URL, "")
	if _, err := client.Describe(context.Background(), "missing"); !errors.Is(err, api.ErrNotFound) {
		t.Fatalf("Describe error = %v, want ErrNotFound", err)
	}
	if _, err := client.Retry(context.Background(), "done"); !errors.Is(err, api.ErrNotRetryable) {
		t.Fatalf("Retry error = %v, want ErrNotRetryable", err)
	}
	var statusErr *api.StatusError
	if _, err := client.Stats(context.Background()); !errors.As(err, &statusErr) || statusErr.Code != http.StatusInternalServerError {
		t.Fatalf("Stats error = %v", err)
	}
}

func TestClientHistoryEncodesFilter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("kind") != "image" || q.Get("status") != "failed" || q.Get("limit") != "5" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode(api.HistoryResponse{Items: []api.Record{{ID: "r1", Status: "failed"}}, Total: 1, Limit: 5})
	}))
	defer srv.Close()

	client := api.NewClient(srv.URL, "")
	resp, err := client.History(context.Background(), engine.Filter{
		Kinds:    []generation.Kind{generation.KindImage},
		Statuses: []generation.Status{generation.StatusFailed},
		Limit:    5,
	})
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if resp.Total != 1 || resp.Items[0].ID != "r1" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestNewClientAddsScheme(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(api.DaemonStatus{Running: true, PID: 42})
	}))
	defer srv.Close()

	bind := srv.Listener.Addr().String()
	status, err := api.NewClient(bind, "").Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !status.Running || status.PID != 42 {
		t.Fatalf("unexpected status %+v", status)
	}
}
