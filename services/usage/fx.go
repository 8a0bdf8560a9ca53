package usage

import (
	"github.com/hibiken/asynq"
	"go.uber.org/fx"

	"hrplane/pkg/taskname"
)

var Module = fx.Module("usage.module",
	fx.Provide(NewService),
)

// WorkerModule wires the flush handlers into the asynq worker.
var WorkerModule = fx.Module("usage.worker",
	Module,
	fx.Invoke(registerTaskHandlers),
)

func registerTaskHandlers(mux *asynq.ServeMux, service *Service) {
	mux.HandleFunc(taskname.UsageFlush, service.HandleUsageFlush)
	mux.HandleFunc(taskname.UsageFlushSweep, service.HandleUsageFlushSweep)
}
