package sink

import (
	"context"
	"encoding/json"
	"time"

	"codeberg.org/mutker/modemtemp/internal/config"
	"codeberg.org/mutker/modemtemp/internal/errors"
	"github.com/redis/go-redis/v9"
)

// redisClient is the part of *redis.Client this sink uses
type redisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// RedisSink publishes each payload on a channel and keeps the last one
// under <channel>:last for late subscribers
type RedisSink struct {
	client  redisClient
	channel string
}

// NewRedisSink connects and pings the server
func NewRedisSink(ctx context.Context, cfg config.RedisConfig) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.New().Wrap(ErrConnectFailed, err).WithData(cfg.Addr)
	}

	return &RedisSink{client: client, channel: cfg.Channel}, nil
}

func newRedisSinkWithClient(client redisClient, channel string) *RedisSink {
	return &RedisSink{client: client, channel: channel}
}

func (s *RedisSink) Name() string {
	return "redis"
}

func (s *RedisSink) Write(ctx context.Context, p Payload) error {
	errFactory := errors.New()

	body, err := json.Marshal(p)
	if err != nil {
		return errFactory.Wrap(ErrWriteFailed, err)
	}

	if err := s.client.Publish(ctx, s.channel, body).Err(); err != nil {
		return errFactory.Wrap(ErrWriteFailed, err).WithData(s.channel)
	}

	if err := s.client.Set(ctx, s.channel+":last", body, 0).Err(); err != nil {
		return errFactory.Wrap(ErrWriteFailed, err).WithData(s.channel + ":last")
	}

	return nil
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}
