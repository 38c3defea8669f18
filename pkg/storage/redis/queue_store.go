package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"drapo/pkg/models"
	"drapo/pkg/storage"
)

// DefaultStream is the stream key triggers are written to.
const DefaultStream = "drapo:triggers:pending"

type RedisQueue struct {
	client *redis.Client
	stream string
	block  time.Duration
}

// RedisQueueConfig holds Redis connection configuration
type RedisQueueConfig struct {
	Addr         string
	Password     string
	DB           int
	Stream       string
	Block        time.Duration // how long Pop waits for a trigger
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultRedisQueueConfig returns defaults for a single dispatcher.
func DefaultRedisQueueConfig(addr string) RedisQueueConfig {
	return RedisQueueConfig{
		Addr:         addr,
		Stream:       DefaultStream,
		Block:        2 * time.Second,
		PoolSize:     4,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// NewRedisQueueWithConfig connects and pings the server.
func NewRedisQueueWithConfig(ctx context.Context, cfg RedisQueueConfig) (*RedisQueue, error) {
	if cfg.Stream == "" {
		cfg.Stream = DefaultStream
	}
	if cfg.Block <= 0 {
		cfg.Block = 2 * time.Second
	}
	// The blocking read must not be cut short by the socket timeout.
	if cfg.ReadTimeout > 0 && cfg.ReadTimeout <= cfg.Block {
		cfg.ReadTimeout = cfg.Block + time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisQueue{client: client, stream: cfg.Stream, block: cfg.Block}, nil
}

func (r *RedisQueue) Close() error {
	return r.client.Close()
}

// Push appends a trigger to the stream.
func (r *RedisQueue) Push(ctx context.Context, trigger *models.Trigger) error {
	payload, err := json.Marshal(trigger)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger: %w", err)
	}

	err = r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		Values: map[string]interface{}{
			"payload": payload,
			"flow":    trigger.Flow,
			"source":  string(trigger.Source),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to push trigger: %w", err)
	}
	return nil
}

// EnsureGroup creates the consumer group if it doesn't exist. New groups
// start at "$": triggers written while no daemon was running are dropped.
func (r *RedisQueue) EnsureGroup(ctx context.Context, group string) error {
	err := r.client.XGroupCreateMkStream(ctx, r.stream, group, "$").Err()
	if err != nil {
		if strings.HasPrefix(err.Error(), "BUSYGROUP") {
			return nil
		}
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

// Pop reads one trigger for the consumer group.
func (r *RedisQueue) Pop(ctx context.Context, group string, consumer string) (string, *models.Trigger, error) {
	streams, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{r.stream, ">"},
		Count:    1,
		Block:    r.block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil, nil
		}
		if errors.Is(err, redis.ErrClosed) {
			return "", nil, storage.ErrQueueClosed
		}
		return "", nil, fmt.Errorf("failed to read from stream: %w", err)
	}

	if len(streams) == 0 || len(streams[0].Messages) == 0 {
		return "", nil, nil
	}

	msg := streams[0].Messages[0]
	payload, ok := msg.Values["payload"].(string)
	if !ok {
		return msg.ID, nil, fmt.Errorf("invalid payload format in %s", msg.ID)
	}

	var trigger models.Trigger
	if err := json.Unmarshal([]byte(payload), &trigger); err != nil {
		return msg.ID, nil, fmt.Errorf("failed to unmarshal trigger: %w", err)
	}
	return msg.ID, &trigger, nil
}

// Ack acknowledges a trigger as processed.
func (r *RedisQueue) Ack(ctx context.Context, group string, msgID string) error {
	return r.client.XAck(ctx, r.stream, group, msgID).Err()
}
