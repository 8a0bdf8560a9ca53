package task

import (
	"context"

	"github.com/hibiken/asynq"

	"hrplane/pkg/errutil"
)

// Enqueuer is the narrow slice of the asynq client the services depend
// on, so tests can schedule tasks without a broker.
type Enqueuer interface {
	Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type enqueuer struct {
	client *asynq.Client
}

func NewEnqueuer(client *asynq.Client) Enqueuer {
	return &enqueuer{client: client}
}

func (e *enqueuer) Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	info, err := e.client.EnqueueContext(ctx, task, opts...)
	if err != nil {
		return nil, errutil.ServiceUnavailable("failed to enqueue task", err)
	}
	return info, nil
}
