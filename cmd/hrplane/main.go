package main

import (
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"hrplane/internal/httpapi"
	"hrplane/internal/server"
	"hrplane/pkg/config"
	"hrplane/pkg/db"
	"hrplane/pkg/gen"
	"hrplane/pkg/health"
	"hrplane/pkg/logger"
	"hrplane/pkg/otelcol"
	"hrplane/pkg/profiling"
	"hrplane/pkg/redis"
	"hrplane/pkg/task"
	"hrplane/services/audit"
	"hrplane/services/license"
	"hrplane/services/usage"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		otelcol.Module,
		profiling.Module,
		db.Module,
		redis.Module,
		gen.Module,
		task.Client,
		health.Module,
		audit.Module,
		license.Module,
		usage.Module,
		httpapi.Module,
		fx.Provide(server.ProvideHTTPServer),
		fx.Invoke(
			db.Otel,
			db.Metric,
			server.Run,
		),
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})
