package store

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"lumen.app/studio/internal/model"
)

type apiLogStore struct {
	db querier
}

func newAPILogStore(db querier) APILogStore {
	return &apiLogStore{db: db}
}

func (s *apiLogStore) Insert(ctx context.Context, l *model.APILog) error {
	query, args, err := psql.Insert("api_logs").
		Columns("id", "generation_id", "provider", "operation", "status_code", "duration_ms", "error").
		Values(l.ID, l.GenerationID, string(l.Provider), string(l.Operation), l.StatusCode, l.DurationMS, l.Error).
		ToSql()
	if err != nil {
		return fmt.Errorf("building insert: %w", err)
	}

	if _, err := s.db.Q(ctx).Exec(ctx, query, args...); err != nil {
		return mapError(err, "api log", l.ID)
	}
	return nil
}

func (s *apiLogStore) ListByGeneration(ctx context.Context, generationID int64) ([]model.APILog, error) {
	query, args, err := psql.Select(
		"id", "generation_id", "provider", "operation", "status_code", "duration_ms", "error", "created_at",
	).From("api_logs").
		Where(sq.Eq{"generation_id": generationID}).
		OrderBy("id ASC").
		Limit(maxListLimit).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building list: %w", err)
	}

	rows, err := s.db.Q(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err, "api logs of", generationID)
	}
	out, err := pgx.CollectRows(rows, pgx.RowToStructByName[model.APILog])
	if err != nil {
		return nil, mapError(err, "api logs of", generationID)
	}
	return out, nil
}

// DeleteOlderThan removes at most limit rows created before `before`.
func (s *apiLogStore) DeleteOlderThan(ctx context.Context, before time.Time, limit int) (int64, error) {
	if limit <= 0 {
		limit = 1000
	}

	query, args, err := psql.Delete("api_logs").
		Where(sq.Expr("id IN (SELECT id FROM api_logs WHERE created_at < ? ORDER BY id LIMIT ?)", before, limit)).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("building purge: %w", err)
	}

	tag, err := s.db.Q(ctx).Exec(ctx, query, args...)
	if err != nil {
		return 0, mapError(err, "api logs before", before)
	}
	return tag.RowsAffected(), nil
}
