package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"lumen.app/studio/internal/errclass"
	"lumen.app/studio/internal/model"
	"lumen.app/studio/internal/store"
)

// MaxStatsWindow bounds the since window of the admin dashboard.
const MaxStatsWindow = 90 * 24 * time.Hour

type CategoryCount struct {
	Category errclass.Category `json:"category"`
	Count    int64             `json:"count"`
}

type GenerationStats struct {
	Since       time.Time                        `json:"since"`
	Total       int64                            `json:"total"`
	Active      int64                            `json:"active"`
	SuccessRate float64                          `json:"success_rate"`
	ByStatus    map[model.GenerationStatus]int64 `json:"by_status"`
	ByProvider  map[model.Provider]int64         `json:"by_provider"`
	TopErrors   []CategoryCount                  `json:"top_errors"`
	UniqueUsers int64                            `json:"unique_users"`
}

type AdminService interface {
	Stats(ctx context.Context, window time.Duration) (*GenerationStats, error)
	ListGenerations(ctx context.Context, filter ListFilter) (*GenerationPage, error)
	RetryGeneration(ctx context.Context, id int64) (*model.Generation, error)
	Cleanup(ctx context.Context) (*CleanupReport, error)
}

type adminService struct {
	generations store.GenerationStore
	gens        *Generations
	janitor     Janitor
	now         func() time.Time
}

func NewAdminService(gens *Generations, janitor Janitor) AdminService {
	return &adminService{generations: gens.generations, gens: gens, janitor: janitor, now: time.Now}
}

// Stats runs the dashboard counts in parallel and folds them into one response.
func (s *adminService) Stats(ctx context.Context, window time.Duration) (*GenerationStats, error) {
	if window <= 0 {
		window = 24 * time.Hour
	}
	if window > MaxStatsWindow {
		return nil, invalid("since", "must be at most 90 days")
	}
	since := s.now().Add(-window)

	var raw store.GenerationStats
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		counts, err := s.generations.CountByStatus(gctx, since)
		raw.ByStatus = counts
		return err
	})
	g.Go(func() error {
		counts, err := s.generations.CountByProvider(gctx, since)
		raw.ByProvider = counts
		return err
	})
	g.Go(func() error {
		counts, err := s.generations.CountByErrorCategory(gctx, since)
		raw.ByCategory = counts
		return err
	})
	g.Go(func() error {
		n, err := s.generations.CountDistinctUsers(gctx, since)
		raw.UniqueUsers = n
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("counting generations: %w", err)
	}

	return summarize(since, raw), nil
}

func summarize(since time.Time, raw store.GenerationStats) *GenerationStats {
	stats := &GenerationStats{
		Since:       since,
		ByStatus:    map[model.GenerationStatus]int64{},
		ByProvider:  map[model.Provider]int64{},
		TopErrors:   []CategoryCount{},
		UniqueUsers: raw.UniqueUsers,
	}

	for status, n := range raw.ByStatus {
		stats.ByStatus[status] = n
		stats.Total += n
		if !status.IsTerminal() {
			stats.Active += n
		}
	}
	for p, n := range raw.ByProvider {
		stats.ByProvider[p] = n
	}
	for c, n := range raw.ByCategory {
		stats.TopErrors = append(stats.TopErrors, CategoryCount{Category: c, Count: n})
	}
	sort.Slice(stats.TopErrors, func(i, j int) bool {
		if stats.TopErrors[i].Count != stats.TopErrors[j].Count {
			return stats.TopErrors[i].Count > stats.TopErrors[j].Count
		}
		return stats.TopErrors[i].Category < stats.TopErrors[j].Category
	})

	completed := stats.ByStatus[model.GenerationStatusCompleted]
	if finished := completed + stats.ByStatus[model.GenerationStatusFailed]; finished > 0 {
		stats.SuccessRate = float64(completed) / float64(finished)
	}
	return stats
}

func (s *adminService) ListGenerations(ctx context.Context, filter ListFilter) (*GenerationPage, error) {
	return s.gens.ListAll(ctx, filter)
}

func (s *adminService) RetryGeneration(ctx context.Context, id int64) (*model.Generation, error) {
	return s.gens.RetryAny(ctx, id)
}

func (s *adminService) Cleanup(ctx context.Context) (*CleanupReport, error) {
	return s.janitor.RunOnce(ctx)
}
