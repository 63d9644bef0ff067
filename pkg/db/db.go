package db

import (
	"context"
	"fmt"
	"os"
	"time"

	"promptmarket-rewards/pkg/config"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	gormprometheus "gorm.io/plugin/prometheus"
)

var Module = fx.Module("database",
	fx.Provide(
		Dialect,
		New,
	),
	fx.Invoke(RegisterConnectionPool, RegisterPlugins),
)

// Dialect builds the gorm dialector from config. Postgres is the production
// store; sqlite exists for local runs.
func Dialect(cfg *config.Config) gorm.Dialector {
	d := cfg.Database
	switch d.Type {
	case "mysql":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true", d.User, d.Password, d.Host, d.Port, d.DBNAME)
		return mysql.Open(dsn)
	case "sqlite":
		return sqlite.Open(d.DBNAME)
	default:
		dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s TimeZone=%s",
			d.Host, d.Port, d.User, d.Password, d.DBNAME, d.SSLMode, d.Timezone)
		return postgres.Open(dsn)
	}
}

func New(cfg *config.Config, dialector gorm.Dialector) *gorm.DB {
	var db *gorm.DB
	var err error

	var logLevel logger.LogLevel
	var showSQL bool

	if cfg.AppEnv == "production" {
		logLevel = logger.Warn
		showSQL = false
	} else {
		logLevel = logger.Info
		showSQL = true
	}

	gormLogger := NewZapGormLogger(zap.L(), logLevel, showSQL)

	for i := 0; i < 5; i++ {
		db, err = gorm.Open(dialector, &gorm.Config{
			Logger:         gormLogger,
			TranslateError: true,
		})
		if err == nil {
			break
		}
		zap.L().Warn("[DB] Database not ready, retrying in 3 seconds...", zap.Int("retry", i+1), zap.Error(err))
		time.Sleep(3 * time.Second)
	}

	if err != nil {
		zap.L().Error("[DB] Failed to connect to database", zap.Error(err))
		os.Exit(1)
	}

	zap.L().Info("[DB] Database connection successfully configured.")

	return db
}

type connectionPoolParams struct {
	fx.In
	Lifecycle fx.Lifecycle
	DB        *gorm.DB
	Config    *config.Config
}

func RegisterConnectionPool(p connectionPoolParams) {
	sqlDB, err := p.DB.DB()
	if err != nil {
		zap.L().Error("[DB] Failed to get sql.DB from gorm", zap.Error(err))
		os.Exit(1)
	}

	cp := p.Config.Database.ConnectionPool
	if cp.MaxIdleConn > 0 {
		sqlDB.SetMaxIdleConns(cp.MaxIdleConn)
	}
	if cp.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cp.MaxOpenConns)
	}
	sqlDB.SetConnMaxLifetime(cp.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cp.ConnMaxIdleTime)

	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			zap.L().Info("[DB] Closing connection pool...")
			return sqlDB.Close()
		},
	})
}

// RegisterPlugins installs the optional tracing and metrics plugins when the
// config asks for them.
func RegisterPlugins(cfg *config.Config, db *gorm.DB) {
	if cfg.Database.EnableTracing {
		if err := db.Use(otelgorm.NewPlugin()); err != nil {
			zap.L().Error("[DB] Failed to register db telemetry", zap.Error(err))
		}
	}

	if cfg.Database.EnableMetrics {
		if err := db.Use(gormprometheus.New(gormprometheus.Config{
			DBName:          cfg.Database.DBNAME,
			RefreshInterval: 15,
		})); err != nil {
			zap.L().Error("[DB] Failed to register db metrics", zap.Error(err))
		}
	}
}
