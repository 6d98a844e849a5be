package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"lumen.app/studio/internal/queue"
)

// Poller enqueues sync tasks for processing generations nobody has heard about lately.
type Poller interface {
	ScheduleSyncs(ctx context.Context) (int, error)
}

type poller struct {
	gens  *Generations
	after time.Duration
	limit int
	now   func() time.Time
}

func NewPoller(gens *Generations, pollAfter time.Duration, limit int) Poller {
	if pollAfter <= 0 {
		pollAfter = time.Minute
	}
	return &poller{gens: gens, after: pollAfter, limit: limit, now: time.Now}
}

func (p *poller) ScheduleSyncs(ctx context.Context) (int, error) {
	due, err := p.gens.generations.ListDueForPoll(ctx, p.now().Add(-p.after), p.limit)
	if err != nil {
		return 0, fmt.Errorf("listing generations due for poll: %w", err)
	}

	scheduled := 0
	for i := range due {
		g := &due[i]
		if err := p.gens.enqueue(ctx, queue.TaskTypeSync, g); err != nil {
			return scheduled, fmt.Errorf("enqueueing sync for %d: %w", g.ID, err)
		}
		scheduled++
	}

	if scheduled > 0 {
		slog.DebugContext(ctx, "scheduled status syncs", "count", scheduled)
	}
	return scheduled, nil
}
