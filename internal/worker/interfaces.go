package worker

import (
	"context"

	"lumen.app/studio/internal/queue"
)

// Consumer abstracts the message queue for testability.
type Consumer interface {
	Read(ctx context.Context) ([]queue.Message, error)
	Ack(ctx context.Context, msg queue.Message) error
	Requeue(ctx context.Context, msg queue.Message, errMsg string) error
	SendDLQ(ctx context.Context, msg queue.Message, errMsg string) error
}

// Runner executes generation tasks. Mirrors service.GenerationRunner.
type Runner interface {
	Dispatch(ctx context.Context, id int64) error
	Sync(ctx context.Context, id int64) error
	Persist(ctx context.Context, id int64) error
	Abandon(ctx context.Context, id int64, cause error) error
}
