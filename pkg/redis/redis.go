package redis

import (
	"context"

	"promptmarket-rewards/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("redis",
	fx.Provide(New),
)

func New(lc fx.Lifecycle, c *config.Config) *redis.Client {
	zapLog := zap.L().With(
		zap.String("addr", c.Redis.Addr),
		zap.Int("db", c.Redis.DB),
	)

	rdb := redis.NewClient(&redis.Options{
		Addr:        c.Redis.Addr,
		Password:    c.Redis.Password,
		DB:          c.Redis.DB,
		PoolSize:    c.Redis.PoolSize,
		PoolTimeout: c.Redis.PoolTimeout,
	})

	if _, err := rdb.Ping(context.Background()).Result(); err != nil {
		// Redis only backs caching and the pattern worker queue; the engine
		// still serves reward decisions without it.
		zapLog.Warn("[Redis] Redis not reachable, continuing degraded", zap.Error(err))
	} else {
		zapLog.Info("[Redis] Connected to Redis")
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return rdb.Close()
		},
	})

	return rdb
}
