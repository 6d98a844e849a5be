package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"lumen.app/studio/internal/errclass"
	"lumen.app/studio/internal/model"
)

const generationsTable = "generations"

var generationColumns = []string{
	"id", "user_id", "workspace_id", "project_id", "provider", "model", "provider_model",
	"media_type", "prompt", "negative_prompt", "params", "status", "provider_job_id",
	"provider_meta", "provider_output", "output_urls", "storage_paths", "error_message",
	"error_category", "retry_count", "dispatch_attempts", "idempotency_key",
	"created_at", "updated_at", "started_at", "completed_at", "last_polled_at",
}

var returningGenerations = "RETURNING " + strings.Join(generationColumns, ", ")

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

type generationStore struct {
	db querier
}

func newGenerationStore(db querier) GenerationStore {
	return &generationStore{db: db}
}

func (s *generationStore) Insert(ctx context.Context, g *model.Generation) (*model.Generation, error) {
	params := g.Params
	if len(params) == 0 {
		params = []byte("{}")
	}
	meta := g.ProviderMeta
	if meta == nil {
		meta = model.ProviderMeta{}
	}
	status := g.Status
	if status == "" {
		status = model.GenerationStatusPending
	}

	query, args, err := psql.Insert(generationsTable).
		Columns(
			"id", "user_id", "workspace_id", "project_id", "provider", "model", "provider_model",
			"media_type", "prompt", "negative_prompt", "params", "status", "provider_meta", "idempotency_key",
		).
		Values(
			g.ID, g.UserID, g.WorkspaceID, g.ProjectID, string(g.Provider), g.Model, g.ProviderModel,
			string(g.MediaType), g.Prompt, g.NegativePrompt, []byte(params), string(status), meta, g.IdempotencyKey,
		).
		Suffix(returningGenerations).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building insert: %w", err)
	}

	created, err := s.queryOne(ctx, query, args...)
	if err != nil {
		return nil, mapError(err, "generation", g.ID)
	}
	return created, nil
}

func (s *generationStore) GetByID(ctx context.Context, id int64) (*model.Generation, error) {
	return s.getWhere(ctx, id, sq.Eq{"id": id})
}

func (s *generationStore) GetForUser(ctx context.Context, id int64, userID uuid.UUID) (*model.Generation, error) {
	return s.getWhere(ctx, id, sq.Eq{"id": id, "user_id": userID})
}

func (s *generationStore) GetByIdempotencyKey(ctx context.Context, userID uuid.UUID, key string) (*model.Generation, error) {
	return s.getWhere(ctx, key, sq.Eq{"user_id": userID, "idempotency_key": key})
}

func (s *generationStore) getWhere(ctx context.Context, ref any, where sq.Sqlizer) (*model.Generation, error) {
	query, args, err := psql.Select(generationColumns...).From(generationsTable).Where(where).ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select: %w", err)
	}

	g, err := s.queryOne(ctx, query, args...)
	if err != nil {
		return nil, mapError(err, "generation", ref)
	}
	return g, nil
}

func (s *generationStore) List(ctx context.Context, f GenerationFilter) ([]model.Generation, error) {
	b := psql.Select(generationColumns...).From(generationsTable)

	if f.UserID != nil {
		b = b.Where(sq.Eq{"user_id": *f.UserID})
	}
	if len(f.Statuses) > 0 {
		b = b.Where(sq.Eq{"status": statusStrings(f.Statuses)})
	}
	if f.Provider != nil {
		b = b.Where(sq.Eq{"provider": string(*f.Provider)})
	}
	if f.MediaType != nil {
		b = b.Where(sq.Eq{"media_type": string(*f.MediaType)})
	}
	if f.WorkspaceID != nil {
		b = b.Where(sq.Eq{"workspace_id": *f.WorkspaceID})
	}
	if f.ProjectID != nil {
		b = b.Where(sq.Eq{"project_id": *f.ProjectID})
	}
	if search := strings.TrimSpace(f.Search); search != "" {
		b = b.Where(sq.ILike{"prompt": "%" + escapeLike(search) + "%"})
	}
	if f.Cursor > 0 {
		b = b.Where(sq.Lt{"id": f.Cursor})
	}

	query, args, err := b.OrderBy("id DESC").Limit(uint64(clampLimit(f.Limit))).ToSql()
	if err != nil {
		return nil, fmt.Errorf("building list: %w", err)
	}
	return s.queryMany(ctx, query, args...)
}

func (s *generationStore) CountActive(ctx context.Context, userID uuid.UUID) (int64, error) {
	query, args, err := psql.Select("count(*)").From(generationsTable).
		Where(sq.Eq{"user_id": userID, "status": statusStrings(model.ActiveStatuses())}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("building count: %w", err)
	}

	var n int64
	if err := s.db.Q(ctx).QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, mapError(err, "generations of", userID)
	}
	return n, nil
}

func (s *generationStore) Transition(ctx context.Context, id int64, from []model.GenerationStatus, to model.GenerationStatus, patch GenerationPatch) (bool, *model.Generation, error) {
	set := patchColumns(patch)
	set["status"] = string(to)
	return s.updateWhere(ctx, id, from, set)
}

func (s *generationStore) Update(ctx context.Context, id int64, status model.GenerationStatus, patch GenerationPatch) (bool, *model.Generation, error) {
	return s.updateWhere(ctx, id, []model.GenerationStatus{status}, patchColumns(patch))
}

func (s *generationStore) updateWhere(ctx context.Context, id int64, from []model.GenerationStatus, set map[string]any) (bool, *model.Generation, error) {
	set["updated_at"] = sq.Expr("now()")

	query, args, err := psql.Update(generationsTable).
		SetMap(set).
		Where(sq.Eq{"id": id, "status": statusStrings(from)}).
		Suffix(returningGenerations).
		ToSql()
	if err != nil {
		return false, nil, fmt.Errorf("building update: %w", err)
	}

	g, err := s.queryOne(ctx, query, args...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// row missing or in another status
			return false, nil, nil
		}
		return false, nil, mapError(err, "generation", id)
	}
	return true, g, nil
}

func (s *generationStore) Delete(ctx context.Context, id int64, statuses []model.GenerationStatus) (bool, error) {
	query, args, err := psql.Delete(generationsTable).
		Where(sq.Eq{"id": id, "status": statusStrings(statuses)}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("building delete: %w", err)
	}

	tag, err := s.db.Q(ctx).Exec(ctx, query, args...)
	if err != nil {
		return false, mapError(err, "generation", id)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *generationStore) ListStale(ctx context.Context, q StaleQuery) ([]model.Generation, error) {
	age := sq.Sqlizer(sq.Lt{"updated_at": q.Before})
	if q.ByStartedAt {
		age = sq.Expr("COALESCE(started_at, updated_at) < ?", q.Before)
	}

	query, args, err := psql.Select(generationColumns...).From(generationsTable).
		Where(sq.Eq{"status": statusStrings(q.Statuses)}).
		Where(age).
		Where(sq.Gt{"id": q.AfterID}).
		OrderBy("id ASC").
		Limit(uint64(clampLimit(q.Limit))).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building stale list: %w", err)
	}
	return s.queryMany(ctx, query, args...)
}

func (s *generationStore) ListDueForPoll(ctx context.Context, before time.Time, limit int) ([]model.Generation, error) {
	const lastSeen = "COALESCE(last_polled_at, started_at, updated_at)"

	query, args, err := psql.Select(generationColumns...).From(generationsTable).
		Where(sq.Eq{"status": string(model.GenerationStatusProcessing)}).
		Where(sq.NotEq{"provider_job_id": nil}).
		Where(sq.Expr(lastSeen+" < ?", before)).
		OrderBy(lastSeen + " ASC").
		Limit(uint64(clampLimit(limit))).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building poll list: %w", err)
	}
	return s.queryMany(ctx, query, args...)
}

func (s *generationStore) CountByStatus(ctx context.Context, since time.Time) (map[model.GenerationStatus]int64, error) {
	counts, err := s.countBy(ctx, "status", since)
	if err != nil {
		return nil, err
	}
	out := make(map[model.GenerationStatus]int64, len(counts))
	for k, v := range counts {
		out[model.GenerationStatus(k)] = v
	}
	return out, nil
}

func (s *generationStore) CountByProvider(ctx context.Context, since time.Time) (map[model.Provider]int64, error) {
	counts, err := s.countBy(ctx, "provider", since)
	if err != nil {
		return nil, err
	}
	out := make(map[model.Provider]int64, len(counts))
	for k, v := range counts {
		out[model.Provider(k)] = v
	}
	return out, nil
}

func (s *generationStore) CountByErrorCategory(ctx context.Context, since time.Time) (map[errclass.Category]int64, error) {
	counts, err := s.countBy(ctx, "error_category", since)
	if err != nil {
		return nil, err
	}
	out := make(map[errclass.Category]int64, len(counts))
	for k, v := range counts {
		out[errclass.Category(k)] = v
	}
	return out, nil
}

func (s *generationStore) CountDistinctUsers(ctx context.Context, since time.Time) (int64, error) {
	query, args, err := psql.Select("count(DISTINCT user_id)").From(generationsTable).
		Where(sq.GtOrEq{"created_at": since}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("building distinct users: %w", err)
	}

	var n int64
	if err := s.db.Q(ctx).QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, mapError(err, "generation users since", since)
	}
	return n, nil
}

type groupCount struct {
	Key   string `db:"key"`
	Count int64  `db:"count"`
}

// countBy groups rows created since `since` by a fixed, non-null column.
func (s *generationStore) countBy(ctx context.Context, column string, since time.Time) (map[string]int64, error) {
	query, args, err := psql.Select(column+" AS key", "count(*) AS count").From(generationsTable).
		Where(sq.GtOrEq{"created_at": since}).
		Where(sq.NotEq{column: nil}).
		GroupBy(column).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building count by %s: %w", column, err)
	}

	rows, err := s.db.Q(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err, "generations by", column)
	}
	groups, err := pgx.CollectRows(rows, pgx.RowToStructByName[groupCount])
	if err != nil {
		return nil, mapError(err, "generations by", column)
	}

	out := make(map[string]int64, len(groups))
	for _, g := range groups {
		out[g.Key] = g.Count
	}
	return out, nil
}

func (s *generationStore) queryOne(ctx context.Context, query string, args ...any) (*model.Generation, error) {
	rows, err := s.db.Q(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	g, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[model.Generation])
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *generationStore) queryMany(ctx context.Context, query string, args ...any) ([]model.Generation, error) {
	rows, err := s.db.Q(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err, "generations", "list")
	}
	out, err := pgx.CollectRows(rows, pgx.RowToStructByName[model.Generation])
	if err != nil {
		return nil, mapError(err, "generations", "list")
	}
	return out, nil
}

// patchColumns turns a patch into a column map for squirrel's SetMap.
// Later assignments win, so ResetForRetry is applied first.
func patchColumns(p GenerationPatch) map[string]any {
	set := map[string]any{}

	if p.ResetForRetry {
		set["provider_job_id"] = nil
		set["provider_meta"] = []byte("{}")
		set["provider_output"] = nil
		set["output_urls"] = []string{}
		set["storage_paths"] = []string{}
		set["dispatch_attempts"] = 0
		set["started_at"] = nil
		set["completed_at"] = nil
		set["last_polled_at"] = nil
		p.ClearError = true
	}
	if p.ClearError {
		set["error_message"] = nil
		set["error_category"] = nil
	}

	if p.ProviderJobID != nil {
		set["provider_job_id"] = *p.ProviderJobID
	}
	if p.ProviderMeta != nil {
		set["provider_meta"] = p.ProviderMeta
	}
	if p.ProviderOutput != nil {
		set["provider_output"] = p.ProviderOutput
	}
	if p.OutputURLs != nil {
		set["output_urls"] = p.OutputURLs
	}
	if p.StoragePaths != nil {
		set["storage_paths"] = p.StoragePaths
	}
	if p.ErrorMessage != nil {
		set["error_message"] = *p.ErrorMessage
	}
	if p.ErrorCategory != nil {
		set["error_category"] = string(*p.ErrorCategory)
	}
	if p.IncrementRetry {
		set["retry_count"] = sq.Expr("retry_count + 1")
	}
	if p.IncrementDispatch {
		set["dispatch_attempts"] = sq.Expr("dispatch_attempts + 1")
	}
	if p.MarkStarted {
		set["started_at"] = sq.Expr("now()")
	}
	if p.MarkCompleted {
		set["completed_at"] = sq.Expr("now()")
	}
	if p.MarkPolled {
		set["last_polled_at"] = sq.Expr("now()")
	}

	return set
}

func statusStrings(statuses []model.GenerationStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike neutralises LIKE wildcards in user supplied search text.
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
