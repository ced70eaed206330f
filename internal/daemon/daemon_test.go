package daemon_test

import (
	"context"
	"testing"
	"time"

	"genflow/internal/daemon"
	"genflow/internal/engine"
	"genflow/internal/generation"
	"genflow/internal/provider"
	"genflow/internal/provider/mock"
	"genflow/internal/testsupport"
)

func newDaemon(t *testing.T, deps daemon.Dependencies, opts ...testsupport.ConfigOption) *daemon.Daemon {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	if deps.Registry == nil {
		deps.Registry = provider.NewRegistry(mock.New(mock.Config{
			Step: time.Duration(cfg.Providers.Mock.StepMillis) * time.Millisecond,
		}))
	}
	d, err := daemon.New(context.Background(), cfg, nil, deps)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() {
		d.Close()
	})
	return d
}

func TestDaemonStartStop(t *testing.T) {
	d := newDaemon(t, daemon.Dependencies{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	status := d.Status()
	if !status.Running {
		t.Fatal("expected daemon to report running")
	}
	if status.StartedAt == "" || status.PID == 0 {
		t.Fatalf("unexpected status %+v", status)
	}
	if d.APIAddr() == "" {
		t.Fatal("expected api listener address")
	}

	// Second start should fail
	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	d.Stop()
	status = d.Status()
	if status.Running {
		t.Fatal("expected daemon to be stopped")
	}
	if d.APIAddr() != "" {
		t.Fatal("expected api listener to be closed")
	}
}

func TestDaemonLockRejectsSecondInstance(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	registry := provider.NewRegistry(mock.New(mock.Config{}))

	first, err := daemon.New(context.Background(), cfg, nil, daemon.Dependencies{Registry: registry})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { first.Close() })
	second, err := daemon.New(context.Background(), cfg, nil, daemon.Dependencies{Registry: registry})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { second.Close() })

	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if err := second.Start(context.Background()); err == nil {
		t.Fatal("expected lock contention error")
	}
	first.Stop()
	if err := second.Start(context.Background()); err != nil {
		t.Fatalf("second Start after release: %v", err)
	}
}

func TestDaemonRestoresAndPersistsHistory(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenHistoryStore(t, cfg)
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	for _, id := range []string{"old-1", "old-2"} {
		if _, err := store.Append(context.Background(), testsupport.NewRecord(id, generation.StatusFailed, base)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	registry := provider.NewRegistry(mock.New(mock.Config{}))
	d, err := daemon.New(context.Background(), cfg, nil, daemon.Dependencies{Registry: registry, Store: store})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	eng := d.Engine()

	if got := len(eng.QueryHistory(engine.Filter{})); got != 2 {
		t.Fatalf("restored %d records, want 2", got)
	}
	if _, ok := eng.RetryGeneration("old-1"); !ok {
		t.Fatal("restored failed record should be retryable")
	}

	id := eng.StartGeneration(engine.Submission{Kind: generation.KindText, Provider: mock.Name, Prompt: "persist me"})
	deadline := time.Now().Add(5 * time.Second)
	for {
		rec, err := store.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if rec != nil {
			if rec.Status != generation.StatusCompleted {
				t.Fatalf("persisted status = %s", rec.Status)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("record %s was not persisted", id)
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !d.Status().Engine.Closed {
		t.Fatal("engine should report closed after Close")
	}
}
