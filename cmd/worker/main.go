package main

import (
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"hrplane/pkg/config"
	"hrplane/pkg/db"
	"hrplane/pkg/gen"
	"hrplane/pkg/logger"
	"hrplane/pkg/redis"
	"hrplane/pkg/task"
	"hrplane/services/audit"
	"hrplane/services/license"
	"hrplane/services/usage"
)

// The worker drains deferred usage deltas. It runs the asynq server
// with the flush handlers plus the interval sweep scheduler.
func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		gen.Module,
		task.Client,
		task.Server,
		audit.Module,
		license.Module,
		usage.WorkerModule,
		usage.SchedulerModule,
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
