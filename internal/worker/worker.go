package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"lumen.app/studio/common/logger"
	"lumen.app/studio/internal/queue"
)

type Config struct {
	MaxAttempts int
}

type Worker struct {
	consumer Consumer
	runner   Runner
	cfg      Config

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func New(consumer Consumer, runner Runner, cfg Config) *Worker {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &Worker{
		consumer:  consumer,
		runner:    runner,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

func (w *Worker) Run(ctx context.Context) error {
	defer close(w.stoppedCh)

	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "studio.worker"})
	slog.InfoContext(ctx, "worker started", "max_attempts", w.cfg.MaxAttempts)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			slog.InfoContext(ctx, "worker stopping")
			return nil
		default:
			if err := w.processOneBatch(ctx); err != nil {
				slog.ErrorContext(ctx, "batch processing error", "error", err)
				// Brief backoff on error
				select {
				case <-ctx.Done():
				case <-w.stopCh:
				case <-time.After(time.Second):
				}
			}
		}
	}
}

func (w *Worker) Stop() {
	close(w.stopCh)
	<-w.stoppedCh
}

func (w *Worker) processOneBatch(ctx context.Context) error {
	messages, err := w.consumer.Read(ctx)
	if err != nil {
		return fmt.Errorf("reading from stream: %w", err)
	}

	for _, msg := range messages {
		w.HandleMessage(ctx, msg)
	}
	return nil
}

// HandleMessage runs msg and settles it: ack on success, requeue or DLQ on failure.
// Shared with the reclaimer.
func (w *Worker) HandleMessage(ctx context.Context, msg queue.Message) {
	msgID := msg.ID
	taskType := string(msg.TaskType)
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		MessageID:    &msgID,
		GenerationID: &msg.GenerationID,
		TaskType:     &taskType,
	})

	sc := logger.StartSpanFromTraceID(ctx, msg.TraceID, "worker.task."+taskType,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("task.type", taskType),
			attribute.Int64("generation.id", msg.GenerationID),
			attribute.Int("task.attempt", msg.Attempt),
		))
	defer sc.End()
	ctx = sc.Context()

	start := time.Now()
	if err := w.processMessageSafe(ctx, msg); err != nil {
		sc.RecordError(err)
		slog.ErrorContext(ctx, "message processing failed",
			"error", err,
			"attempt", msg.Attempt)
		w.handleFailedMessage(ctx, msg, err)
		return
	}

	if err := w.consumer.Ack(ctx, msg); err != nil {
		// the reclaimer will redeliver; tasks are idempotent
		slog.WarnContext(ctx, "failed to ACK message", "error", err)
	}

	slog.InfoContext(ctx, "task completed",
		"attempt", msg.Attempt,
		"duration_ms", time.Since(start).Milliseconds())
}

func (w *Worker) processMessageSafe(ctx context.Context, msg queue.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic recovered in message processing", "panic", r)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return w.ProcessMessage(ctx, msg)
}

// ProcessMessage routes msg to the runner by task type.
func (w *Worker) ProcessMessage(ctx context.Context, msg queue.Message) error {
	slog.DebugContext(ctx, "processing message", "attempt", msg.Attempt)

	switch msg.TaskType {
	case queue.TaskTypeDispatch:
		return w.runner.Dispatch(ctx, msg.GenerationID)
	case queue.TaskTypeSync:
		return w.runner.Sync(ctx, msg.GenerationID)
	case queue.TaskTypePersist:
		return w.runner.Persist(ctx, msg.GenerationID)
	default:
		return fmt.Errorf("unknown task type %q", msg.TaskType)
	}
}

func (w *Worker) handleFailedMessage(ctx context.Context, msg queue.Message, err error) {
	if msg.Attempt >= w.cfg.MaxAttempts {
		slog.ErrorContext(ctx, "max attempts reached, sending to DLQ", "attempts", msg.Attempt)
		if dlqErr := w.consumer.SendDLQ(ctx, msg, err.Error()); dlqErr != nil {
			slog.ErrorContext(ctx, "failed to send to DLQ", "error", dlqErr)
		}
		if abandonErr := w.runner.Abandon(ctx, msg.GenerationID, err); abandonErr != nil {
			slog.ErrorContext(ctx, "failed to mark generation failed", "error", abandonErr)
		}
		return
	}

	slog.WarnContext(ctx, "requeuing failed message", "attempt", msg.Attempt)
	if requeueErr := w.consumer.Requeue(ctx, msg, err.Error()); requeueErr != nil {
		slog.ErrorContext(ctx, "failed to requeue message", "error", requeueErr)
	}
}
