package mock_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"genflow/internal/generation"
	"genflow/internal/provider"
	"genflow/internal/provider/mock"
	"genflow/internal/services"
)

type captureStream struct {
	token    string
	chunks   []string
	progress []float64
}

func (c *captureStream) Token(token string) { c.token = token }

func (c *captureStream) Chunk(text string) { c.chunks = append(c.chunks, text) }

func (c *captureStream) Progress(p float64) { c.progress = append(c.progress, p) }

func TestGenerateTextStreamsWords(t *testing.T) {
	p := mock.New(mock.Config{Costs: map[generation.Kind]float64{generation.KindText: 0.01}})
	stream := &captureStream{}
	out, err := p.Generate(context.Background(), provider.Call{RequestID: "abc", Kind: generation.KindText, Prompt: "a  quiet   morning"}, stream)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out.Result.Text != "Draft for: a quiet morning" {
		t.Fatalf("unexpected text %q", out.Result.Text)
	}
	if strings.Join(stream.chunks, "") != out.Result.Text {
		t.Fatalf("chunks %q do not rebuild text", stream.chunks)
	}
	if stream.token != "mock-abc" {
		t.Fatalf("unexpected token %q", stream.token)
	}
	if out.Cost == nil || *out.Cost != 0.01 {
		t.Fatalf("unexpected cost %v", out.Cost)
	}
}

func TestGenerateMediaReportsProgressAndArtifact(t *testing.T) {
	p := mock.New(mock.Config{})
	stream := &captureStream{}
	out, err := p.Generate(context.Background(), provider.Call{RequestID: "v1", Kind: generation.KindVideo, Prompt: "waves"}, stream)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out.Result.ArtifactRef != "mock://video/v1.mp4" || out.Result.MIMEType != "video/mp4" {
		t.Fatalf("unexpected result %+v", out.Result)
	}
	if len(stream.progress) != 4 || stream.progress[3] != 100 {
		t.Fatalf("unexpected progress %v", stream.progress)
	}
	if out.Cost != nil {
		t.Fatalf("expected no cost without configuration, got %v", *out.Cost)
	}
}

func TestGenerateFailureTrigger(t *testing.T) {
	p := mock.New(mock.Config{})
	_, err := p.Generate(context.Background(), provider.Call{Kind: generation.KindImage, Parameters: map[string]any{mock.FailParameter: "quota exhausted"}}, &captureStream{})
	if !errors.Is(err, services.ErrProvider) || !strings.Contains(err.Error(), "quota exhausted") {
		t.Fatalf("expected provider failure, got %v", err)
	}
}

func TestCancelByToken(t *testing.T) {
	p := mock.New(mock.Config{Step: time.Hour})
	stream := &captureStream{}
	done := make(chan error, 1)
	go func() {
		_, err := p.Generate(context.Background(), provider.Call{RequestID: "slow", Kind: generation.KindImage}, stream)
		done <- err
	}()

	deadline := time.After(2 * time.Second)
	for {
		if err := p.Cancel(context.Background(), "mock-slow"); err == nil {
			break
		}
		select {
		case <-deadline:
			t.Fatal("job never became cancellable")
		case <-time.After(5 * time.Millisecond):
		}
	}
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected cancellation, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("generate did not stop after cancel")
	}
	if err := p.Cancel(context.Background(), "mock-slow"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found after completion, got %v", err)
	}
}

func TestPrepareDefaults(t *testing.T) {
	p := mock.New(mock.Config{})
	params, err := p.Prepare(provider.Call{Kind: generation.KindVideo, Parameters: map[string]any{"aspect_ratio": "9:16"}})
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if params["aspect_ratio"] != "9:16" || params["duration_seconds"] != 5 {
		t.Fatalf("unexpected params %v", params)
	}
	if _, err := p.Prepare(provider.Call{Parameters: map[string]any{mock.StepParameter: -3}}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
