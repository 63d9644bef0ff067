package main

import (
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"promptmarket-rewards/internal/httpapi"
	"promptmarket-rewards/internal/server"
	"promptmarket-rewards/pkg/config"
	"promptmarket-rewards/pkg/db"
	"promptmarket-rewards/pkg/gen"
	"promptmarket-rewards/pkg/logger"
	"promptmarket-rewards/pkg/redis"
	"promptmarket-rewards/pkg/task"
	"promptmarket-rewards/services/abuse"
	"promptmarket-rewards/services/account"
	"promptmarket-rewards/services/audit"
	"promptmarket-rewards/services/credits"
	"promptmarket-rewards/services/reward"
	"promptmarket-rewards/services/signals"
	"promptmarket-rewards/services/stats"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		gen.Module,
		task.Client,
		task.Server,
		account.Module,
		credits.Module,
		audit.Module,
		signals.Module,
		abuse.Module,
		reward.Module,
		stats.Module,
		stats.TaskModule,
		httpapi.Module,
		server.Module,
		fxLogger,
	)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})
