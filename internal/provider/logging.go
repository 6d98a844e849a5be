package provider

import (
	"context"
	"log/slog"
	"time"

	"lumen.app/studio/common/id"
	"lumen.app/studio/common/logger"
	"lumen.app/studio/internal/model"
)

// APILogWriter persists one row per upstream call.
type APILogWriter interface {
	Insert(ctx context.Context, l *model.APILog) error
}

type loggingProvider struct {
	Provider
	logs APILogWriter
}

// WithAPILog returns a decorator recording every Submit, Status and Cancel in api_logs.
// Write failures are logged and never fail the call.
func WithAPILog(logs APILogWriter) func(Provider) Provider {
	return func(p Provider) Provider {
		return &loggingProvider{Provider: p, logs: logs}
	}
}

func (p *loggingProvider) Submit(ctx context.Context, req SubmitRequest) (*Job, error) {
	start := time.Now()
	job, err := p.Provider.Submit(ctx, req)
	p.record(ctx, req.GenerationID, model.APIOperationSubmit, start, err)
	return job, err
}

func (p *loggingProvider) Status(ctx context.Context, ref JobRef) (*Job, error) {
	start := time.Now()
	job, err := p.Provider.Status(ctx, ref)
	p.record(ctx, ref.GenerationID, model.APIOperationStatus, start, err)
	return job, err
}

func (p *loggingProvider) Cancel(ctx context.Context, ref JobRef) error {
	start := time.Now()
	err := p.Provider.Cancel(ctx, ref)
	p.record(ctx, ref.GenerationID, model.APIOperationCancel, start, err)
	return err
}

func (p *loggingProvider) record(ctx context.Context, generationID int64, op model.APIOperation, start time.Time, callErr error) {
	entry := &model.APILog{
		ID:         id.New(),
		Provider:   p.Name(),
		Operation:  op,
		StatusCode: StatusCode(callErr),
		DurationMS: time.Since(start).Milliseconds(),
	}
	if generationID != 0 {
		entry.GenerationID = &generationID
	}
	if callErr != nil {
		entry.Error = logger.Ptr(logger.Truncate(callErr.Error(), 1000))
	}

	// the caller's context may already be cancelled; the log row should still land
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()

	if err := p.logs.Insert(writeCtx, entry); err != nil {
		slog.WarnContext(ctx, "failed to write api log",
			"error", err,
			"provider", entry.Provider,
			"operation", op)
	}
}
