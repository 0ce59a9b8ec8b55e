package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/ColonelBlimp/alarmwatch/internal/monitor"
)

// DefaultHistoryLimit caps the detection list kept in Redis.
const DefaultHistoryLimit = 1000

// RedisConfig configures the Redis fan-out.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Prefix is prepended to every key and channel. Default: "alarmwatch:".
	Prefix string
	// HistoryLimit is the number of detections kept in the list.
	HistoryLimit int64
}

// Redis publishes detections on a channel, keeps a capped detection list
// and stores the latest status under a key.
type Redis struct {
	client *redis.Client
	prefix string
	limit  int64
}

// NewRedis connects and pings the server.
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "alarmwatch:"
	}
	limit := cfg.HistoryLimit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	return &Redis{client: client, prefix: prefix, limit: limit}, nil
}

// EventsChannel is the pub/sub channel detections are published on.
func (s *Redis) EventsChannel() string { return s.prefix + "events" }

// DetectionsKey is the list holding recent detections, oldest first.
func (s *Redis) DetectionsKey() string { return s.prefix + "detections" }

// StatusKey holds the latest status record.
func (s *Redis) StatusKey() string { return s.prefix + "status" }

// Detection publishes the event and appends it to the capped list.
func (s *Redis) Detection(ctx context.Context, ev monitor.DetectionEvent) error {
	data, err := json.Marshal(NewEventRecord(ev))
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Publish(ctx, s.EventsChannel(), data)
	pipe.RPush(ctx, s.DetectionsKey(), data)
	pipe.LTrim(ctx, s.DetectionsKey(), -s.limit, -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis detection: %w", err)
	}
	return nil
}

// Status stores the snapshot under StatusKey.
func (s *Redis) Status(ctx context.Context, st monitor.StatusSnapshot) error {
	data, err := json.Marshal(NewStatusRecord(st))
	if err != nil {
		return fmt.Errorf("encode status: %w", err)
	}
	if err := s.client.Set(ctx, s.StatusKey(), data, 0).Err(); err != nil {
		return fmt.Errorf("redis status: %w", err)
	}
	return nil
}

// Close closes the client.
func (s *Redis) Close() error {
	return s.client.Close()
}
