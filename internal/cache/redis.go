package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"market-signal-engine-go/internal/config"
	"market-signal-engine-go/internal/models"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisKeyPrefix = "quote:"

// Redis is a QuoteCache shared between processes. Values are JSON encoded
// and expire through redis TTLs.
type Redis struct {
	cli    redis.Cmdable
	ttl    time.Duration
	logger *zap.Logger
}

var _ QuoteCache = (*Redis)(nil)

// NewRedis connects lazily to the configured server.
func NewRedis(cfg config.Redis, ttl time.Duration, logger *zap.Logger) *Redis {
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	return NewRedisWithClient(rdb, ttl, logger)
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(cli redis.Cmdable, ttl time.Duration, logger *zap.Logger) *Redis {
	return &Redis{cli: cli, ttl: ttl, logger: logger}
}

func (r *Redis) Get(ctx context.Context, symbol string) (models.Quote, bool, error) {
	b, err := r.cli.Get(ctx, redisKeyPrefix+key(symbol)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return models.Quote{}, false, nil
		}
		return models.Quote{}, false, fmt.Errorf("redis get %s: %w", symbol, err)
	}
	var q models.Quote
	if err := json.Unmarshal(b, &q); err != nil {
		r.logger.Warn("Dropping undecodable cached quote", zap.String("symbol", symbol), zap.Error(err))
		return models.Quote{}, false, nil
	}
	return q, true, nil
}

func (r *Redis) Set(ctx context.Context, symbol string, q models.Quote) error {
	if r.ttl <= 0 {
		return nil
	}
	b, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("encode quote %s: %w", symbol, err)
	}
	if err := r.cli.Set(ctx, redisKeyPrefix+key(symbol), b, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", symbol, err)
	}
	return nil
}
