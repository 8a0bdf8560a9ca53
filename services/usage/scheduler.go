package usage

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"hrplane/pkg/taskname"
)

type Scheduler struct {
	service  *Service
	interval time.Duration
}

func NewScheduler(svc *Service) *Scheduler {
	return &Scheduler{
		service:  svc,
		interval: svc.config.Usage.FlushInterval,
	}
}

var SchedulerModule = fx.Module("usage.scheduler",
	fx.Provide(NewScheduler),
	fx.Invoke(StartScheduler),
)

func StartScheduler(lc fx.Lifecycle, s *Scheduler) {
	var cancel context.CancelFunc
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			runCtx, c := context.WithCancel(context.Background())
			cancel = c
			go s.run(runCtx)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			return nil
		},
	})
}

// run enqueues a flush sweep on a fixed interval so deferred deltas
// are never stale by more than one interval plus queue latency.
func (s *Scheduler) run(ctx context.Context) {
	zap.L().Info("[Scheduler] started usage flush scheduler", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.service.asynq.Enqueue(
				ctx,
				asynq.NewTask(taskname.UsageFlushSweep, nil),
				asynq.Queue("low"),
			); err != nil {
				zap.L().Error("[Scheduler] failed to enqueue flush sweep", zap.Error(err))
			}
		case <-ctx.Done():
			zap.L().Warn("[Scheduler] stopped")
			return
		}
	}
}
