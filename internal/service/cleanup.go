package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"lumen.app/studio/common/logger"
	"lumen.app/studio/core/config"
	"lumen.app/studio/internal/model"
	"lumen.app/studio/internal/store"
)

// CleanupReport summarises one janitor pass.
type CleanupReport struct {
	TimedOutPending    int   `json:"timed_out_pending"`
	TimedOutProcessing int   `json:"timed_out_processing"`
	Recovered          int   `json:"recovered"`
	Deleted            int   `json:"deleted"`
	APILogsDeleted     int64 `json:"api_logs_deleted"`
	Errors             int   `json:"errors"`
}

type Janitor interface {
	RunOnce(ctx context.Context) (*CleanupReport, error)
}

type janitor struct {
	gens    *Generations
	apiLogs store.APILogStore
	cfg     config.JanitorConfig
	now     func() time.Time
}

func NewJanitor(gens *Generations, apiLogs store.APILogStore, cfg config.JanitorConfig) Janitor {
	// ListStale pages at most 100 rows
	if cfg.BatchSize <= 0 || cfg.BatchSize > 100 {
		cfg.BatchSize = 100
	}
	return &janitor{gens: gens, apiLogs: apiLogs, cfg: cfg, now: time.Now}
}

// RunOnce times out stuck generations and purges expired rows. Per-row failures are
// counted in the report; only a failed listing aborts the pass.
func (j *janitor) RunOnce(ctx context.Context) (*CleanupReport, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "studio.janitor"})
	report := &CleanupReport{}
	now := j.now()

	if j.cfg.PendingTTL > 0 {
		err := j.each(ctx, store.StaleQuery{
			Statuses: []model.GenerationStatus{model.GenerationStatusPending},
			Before:   now.Add(-j.cfg.PendingTTL),
		}, func(ctx context.Context, g *model.Generation) error {
			if err := j.gens.fail(ctx, g, "dispatch timed out", false); err != nil {
				return err
			}
			report.TimedOutPending++
			return nil
		}, report)
		if err != nil {
			return report, fmt.Errorf("expiring pending generations: %w", err)
		}
	}

	if j.cfg.ProcessingTTL > 0 {
		err := j.each(ctx, store.StaleQuery{
			Statuses:    []model.GenerationStatus{model.GenerationStatusProcessing},
			Before:      now.Add(-j.cfg.ProcessingTTL),
			ByStartedAt: true,
		}, func(ctx context.Context, g *model.Generation) error {
			return j.expireProcessing(ctx, g, report)
		}, report)
		if err != nil {
			return report, fmt.Errorf("expiring processing generations: %w", err)
		}
	}

	if j.cfg.RetentionDays > 0 {
		cutoff := now.AddDate(0, 0, -j.cfg.RetentionDays)
		err := j.each(ctx, store.StaleQuery{
			Statuses: []model.GenerationStatus{model.GenerationStatusFailed, model.GenerationStatusCancelled},
			Before:   cutoff,
		}, func(ctx context.Context, g *model.Generation) error {
			if err := j.gens.remove(ctx, g); err != nil {
				return err
			}
			report.Deleted++
			return nil
		}, report)
		if err != nil {
			return report, fmt.Errorf("purging old generations: %w", err)
		}

		if j.apiLogs != nil {
			n, err := j.purgeAPILogs(ctx, cutoff)
			report.APILogsDeleted = n
			if err != nil {
				return report, fmt.Errorf("purging api logs: %w", err)
			}
		}
	}

	slog.InfoContext(ctx, "janitor pass complete",
		"timed_out_pending", report.TimedOutPending,
		"timed_out_processing", report.TimedOutProcessing,
		"recovered", report.Recovered,
		"deleted", report.Deleted,
		"api_logs_deleted", report.APILogsDeleted,
		"errors", report.Errors)

	return report, nil
}

// expireProcessing gives the provider one last look before timing the row out.
func (j *janitor) expireProcessing(ctx context.Context, g *model.Generation, report *CleanupReport) error {
	synced, err := j.gens.syncJob(ctx, g)
	if err != nil {
		slog.WarnContext(ctx, "final sync before timeout failed", "error", err)
		synced = g
	}
	if synced.Status != model.GenerationStatusProcessing {
		report.Recovered++
		return nil
	}
	if synced.ProviderOutput != nil {
		// output is known and a persist task is in flight; leave it to finish
		report.Recovered++
		return nil
	}

	j.gens.cancelUpstream(ctx, synced)
	if err := j.gens.fail(ctx, synced, "generation timed out", false); err != nil {
		return err
	}
	report.TimedOutProcessing++
	return nil
}

// each pages through q in id order, calling fn per row.
func (j *janitor) each(ctx context.Context, q store.StaleQuery, fn func(context.Context, *model.Generation) error, report *CleanupReport) error {
	q.Limit = j.cfg.BatchSize
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		rows, err := j.gens.generations.ListStale(ctx, q)
		if err != nil {
			return err
		}

		for i := range rows {
			g := &rows[i]
			rowCtx := withGenerationFields(ctx, g)
			if err := fn(rowCtx, g); err != nil {
				slog.ErrorContext(rowCtx, "janitor failed to process generation", "error", err, "status", g.Status)
				report.Errors++
			}
		}

		if len(rows) < q.Limit {
			return nil
		}
		q.AfterID = rows[len(rows)-1].ID
	}
}

func (j *janitor) purgeAPILogs(ctx context.Context, before time.Time) (int64, error) {
	var total int64
	for {
		n, err := j.apiLogs.DeleteOlderThan(ctx, before, 1000)
		total += n
		if err != nil || n < 1000 {
			return total, err
		}
	}
}
