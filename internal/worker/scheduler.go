package worker

import (
	"context"
	"log/slog"
	"time"

	"lumen.app/studio/common/logger"
)

// Periodic runs fn every interval until stopped. A failed run is logged and
// the next tick tries again.
type Periodic struct {
	name     string
	interval time.Duration
	fn       func(ctx context.Context) error

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func NewPeriodic(name string, interval time.Duration, fn func(ctx context.Context) error) *Periodic {
	return &Periodic{
		name:      name,
		interval:  interval,
		fn:        fn,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

func (p *Periodic) Run(ctx context.Context) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "studio.worker." + p.name})
	defer close(p.stoppedCh)

	if p.interval <= 0 {
		slog.InfoContext(ctx, "periodic task disabled")
		return
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "periodic task started", "interval", p.interval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.runOnce(ctx)
		}
	}
}

func (p *Periodic) runOnce(ctx context.Context) {
	sc := logger.StartSpan(ctx, "worker."+p.name)
	defer sc.End()

	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic recovered in periodic task", "panic", r)
		}
	}()

	if err := p.fn(sc.Context()); err != nil {
		sc.RecordError(err)
		slog.ErrorContext(ctx, "periodic task failed", "error", err)
	}
}

// Stop is safe to call once, after Run has been started.
func (p *Periodic) Stop() {
	close(p.stopCh)
	<-p.stoppedCh
}
