package bus

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"github.com/djinnbot/core/internal/config"
	"github.com/djinnbot/core/pkg/logger"
)

// Module provides the Bus dependency from the configured Redis endpoint.
var Module = fx.Module("bus",
	fx.Provide(NewRedisClient),
	fx.Provide(func(rdb *redis.Client) Bus { return NewRedisBus(rdb) }),
	fx.Invoke(registerLifecycle),
)

// NewRedisClient builds the shared *redis.Client from config.Bus.
func NewRedisClient(cfg *config.Config) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.Bus.URL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	opts.DialTimeout = cfg.Bus.DialTimeout
	return redis.NewClient(opts), nil
}

func registerLifecycle(lc fx.Lifecycle, rdb *redis.Client, log *slog.Logger) {
	log = log.With(logger.Scope("bus"))
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := rdb.Ping(ctx).Err(); err != nil {
				log.Error("redis unreachable at startup", logger.Error(err))
				return fmt.Errorf("bus unavailable: %w", err)
			}
			log.Info("connected to event bus")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return rdb.Close()
		},
	})
}
