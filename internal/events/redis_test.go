package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	goredis "github.com/redis/go-redis/v9"

	"genflow/internal/api"
	"genflow/internal/config"
	"genflow/internal/generation"
	"genflow/internal/services"
)

type fakeRedis struct {
	channel string
	payload []byte
	err     error
	closed  bool
}

func (f *fakeRedis) Publish(ctx context.Context, channel string, message any) *goredis.IntCmd {
	f.channel = channel
	f.payload, _ = message.([]byte)
	cmd := goredis.NewIntCmd(ctx, "publish", channel, message)
	if f.err != nil {
		cmd.SetErr(f.err)
	} else {
		cmd.SetVal(1)
	}
	return cmd
}

func (f *fakeRedis) Close() error {
	f.closed = true
	return nil
}

func TestOnRecordPublishesEnvelope(t *testing.T) {
	fake := &fakeRedis{}
	pub := newPublisher(fake, "", nil)

	rec := generation.Record{ID: "job-1", Kind: generation.KindText, Provider: "mock", Status: generation.StatusCompleted, Result: generation.Result{Text: "hello"}}
	if err := pub.OnRecord(context.Background(), rec); err != nil {
		t.Fatalf("OnRecord: %v", err)
	}
	if fake.channel != "genflow:records" {
		t.Fatalf("channel = %q", fake.channel)
	}
	var got api.RecordAppended
	if err := json.Unmarshal(fake.payload, &got); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if got.Type != api.RecordAppendedType || got.Record.ID != "job-1" || got.Record.Result.Text != "hello" {
		t.Fatalf("unexpected payload %+v", got)
	}

	if err := pub.Close(); err != nil || !fake.closed {
		t.Fatalf("Close = %v closed=%v", err, fake.closed)
	}
}

func TestOnRecordReturnsPublishError(t *testing.T) {
	fake := &fakeRedis{err: errors.New("connection reset")}
	pub := newPublisher(fake, "custom", nil)
	if err := pub.OnRecord(context.Background(), generation.Record{ID: "x"}); err == nil {
		t.Fatal("expected publish error")
	}
	if pub.Channel() != "custom" {
		t.Fatalf("channel = %q", pub.Channel())
	}
}

func TestNewRedisPublisherRequiresAddress(t *testing.T) {
	_, err := NewRedisPublisher(context.Background(), config.Events{RedisEnabled: true}, nil)
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("error = %v, want configuration error", err)
	}
}
