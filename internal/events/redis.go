// Package events fans new history records out to a Redis channel so other
// services can react to completed generations.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"genflow/internal/api"
	"genflow/internal/config"
	"genflow/internal/generation"
	"genflow/internal/logging"
	"genflow/internal/services"
)

type publishClient interface {
	Publish(ctx context.Context, channel string, message any) *goredis.IntCmd
	Close() error
}

// RedisPublisher publishes every new record as an api.RecordAppended payload.
type RedisPublisher struct {
	logger  *slog.Logger
	client  publishClient
	channel string
}

// NewRedisPublisher connects to the configured Redis server and verifies it
// answers a ping.
func NewRedisPublisher(ctx context.Context, cfg config.Events, logger *slog.Logger) (*RedisPublisher, error) {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil, services.Wrap(services.ErrConfiguration, "events", "connect", "redis_addr is empty", nil)
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    cfg.RedisPassword,
		DB:          cfg.RedisDB,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, services.Wrap(services.ErrTransient, "events", "connect", "redis ping "+addr, err)
	}
	return newPublisher(rdb, cfg.RedisChannel, logger), nil
}

func newPublisher(client publishClient, channel string, logger *slog.Logger) *RedisPublisher {
	if logger == nil {
		logger = logging.NewNop()
	}
	channel = strings.TrimSpace(channel)
	if channel == "" {
		channel = "genflow:records"
	}
	return &RedisPublisher{
		logger:  logging.NewComponentLogger(logger, "redis-events"),
		client:  client,
		channel: channel,
	}
}

// Channel returns the Redis channel records are published to.
func (p *RedisPublisher) Channel() string { return p.channel }

// OnRecord implements engine.RecordListener.
func (p *RedisPublisher) OnRecord(ctx context.Context, rec generation.Record) error {
	payload, err := EncodeRecord(rec)
	if err != nil {
		return err
	}
	receivers, err := p.client.Publish(ctx, p.channel, payload).Result()
	if err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	p.logger.Debug("record published",
		logging.JobID(rec.ID),
		logging.String("channel", p.channel),
		logging.Int64("receivers", receivers),
	)
	return nil
}

// Close releases the Redis connection.
func (p *RedisPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}

// EncodeRecord renders the JSON payload published for rec.
func EncodeRecord(rec generation.Record) ([]byte, error) {
	data, err := json.Marshal(api.RecordAppended{Type: api.RecordAppendedType, Record: api.FromRecord(rec)})
	if err != nil {
		return nil, fmt.Errorf("encode record %s: %w", rec.ID, err)
	}
	return data, nil
}
