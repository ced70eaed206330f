package daemonctl

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"genflow/internal/api"
)

type fakeStatus struct {
	calls   atomic.Int32
	readyAt int32
	err     error
}

func (f *fakeStatus) Status(context.Context) (api.DaemonStatus, error) {
	n := f.calls.Add(1)
	if f.err != nil {
		return api.DaemonStatus{}, f.err
	}
	if n < f.readyAt {
		return api.DaemonStatus{}, errors.New("connection refused")
	}
	return api.DaemonStatus{Running: true, PID: 4242}, nil
}

func TestWaitForReadyPollsUntilRunning(t *testing.T) {
	client := &fakeStatus{readyAt: 3}
	status, err := WaitForReady(context.Background(), client, 5*time.Second)
	if err != nil {
		t.Fatalf("WaitForReady: %v", err)
	}
	if status.PID != 4242 || client.calls.Load() != 3 {
		t.Fatalf("status=%+v calls=%d", status, client.calls.Load())
	}
}

func TestWaitForReadyTimesOut(t *testing.T) {
	client := &fakeStatus{err: errors.New("connection refused")}
	if _, err := WaitForReady(context.Background(), client, 300*time.Millisecond); err == nil {
		t.Fatal("expected timeout")
	}
}

func TestEnsureStartedSkipsLaunchWhenRunning(t *testing.T) {
	res, err := EnsureStarted(context.Background(), &fakeStatus{}, "", LaunchOptions{}, time.Second)
	if err != nil {
		t.Fatalf("EnsureStarted: %v", err)
	}
	if res.State != StartStateAlreadyRunning || res.PID != 4242 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestStopReportsNotRunning(t *testing.T) {
	client := &fakeStatus{err: fmt.Errorf("connect to daemon: %w", errors.New("connection refused"))}
	_, err := Stop(context.Background(), client, filepath.Join(t.TempDir(), "genflow.pid"), time.Second)
	if !errors.Is(err, ErrDaemonNotRunning) {
		t.Fatalf("expected ErrDaemonNotRunning, got %v", err)
	}
}

func TestWaitForShutdownTreatsHTTPErrorsAsAlive(t *testing.T) {
	alive := &fakeStatus{err: &api.StatusError{Code: http.StatusUnauthorized}}
	if err := WaitForShutdown(context.Background(), alive, 300*time.Millisecond); err == nil {
		t.Fatal("daemon answering 401 should count as running")
	}
	gone := &fakeStatus{err: errors.New("connection refused")}
	if err := WaitForShutdown(context.Background(), gone, time.Second); err != nil {
		t.Fatalf("WaitForShutdown: %v", err)
	}
}

func TestForceKillProcessRequiresPID(t *testing.T) {
	if _, err := ForceKillProcess(filepath.Join(t.TempDir(), "missing.pid"), "", 0); err == nil {
		t.Fatal("expected error without pid")
	}
}
