package store

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"lumen.app/studio/internal/model"
)

var notificationColumns = []string{
	"id", "user_id", "kind", "title", "body", "generation_id", "read_at", "created_at",
}

type notificationStore struct {
	db querier
}

func newNotificationStore(db querier) NotificationStore {
	return &notificationStore{db: db}
}

func (s *notificationStore) Insert(ctx context.Context, n *model.Notification) (*model.Notification, error) {
	query, args, err := psql.Insert("notifications").
		Columns("id", "user_id", "kind", "title", "body", "generation_id").
		Values(n.ID, n.UserID, string(n.Kind), n.Title, n.Body, n.GenerationID).
		Suffix("RETURNING id, user_id, kind, title, body, generation_id, read_at, created_at").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building insert: %w", err)
	}

	rows, err := s.db.Q(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err, "notification", n.ID)
	}
	created, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[model.Notification])
	if err != nil {
		return nil, mapError(err, "notification", n.ID)
	}
	return &created, nil
}

func (s *notificationStore) List(ctx context.Context, f NotificationFilter) ([]model.Notification, error) {
	b := psql.Select(notificationColumns...).From("notifications").
		Where(sq.Eq{"user_id": f.UserID})
	if f.UnreadOnly {
		b = b.Where(sq.Eq{"read_at": nil})
	}
	if f.Cursor > 0 {
		b = b.Where(sq.Lt{"id": f.Cursor})
	}

	query, args, err := b.OrderBy("id DESC").Limit(uint64(clampLimit(f.Limit))).ToSql()
	if err != nil {
		return nil, fmt.Errorf("building list: %w", err)
	}

	rows, err := s.db.Q(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err, "notifications of", f.UserID)
	}
	out, err := pgx.CollectRows(rows, pgx.RowToStructByName[model.Notification])
	if err != nil {
		return nil, mapError(err, "notifications of", f.UserID)
	}
	return out, nil
}

func (s *notificationStore) CountUnread(ctx context.Context, userID uuid.UUID) (int64, error) {
	query, args, err := psql.Select("count(*)").From("notifications").
		Where(sq.Eq{"user_id": userID, "read_at": nil}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("building count: %w", err)
	}

	var n int64
	if err := s.db.Q(ctx).QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, mapError(err, "notifications of", userID)
	}
	return n, nil
}

func (s *notificationStore) MarkRead(ctx context.Context, userID uuid.UUID, id int64) (bool, error) {
	query, args, err := psql.Update("notifications").
		Set("read_at", sq.Expr("COALESCE(read_at, now())")).
		Where(sq.Eq{"id": id, "user_id": userID}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("building mark read: %w", err)
	}

	tag, err := s.db.Q(ctx).Exec(ctx, query, args...)
	if err != nil {
		return false, mapError(err, "notification", id)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *notificationStore) MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	query, args, err := psql.Update("notifications").
		Set("read_at", sq.Expr("now()")).
		Where(sq.Eq{"user_id": userID, "read_at": nil}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("building mark all read: %w", err)
	}

	tag, err := s.db.Q(ctx).Exec(ctx, query, args...)
	if err != nil {
		return 0, mapError(err, "notifications of", userID)
	}
	return tag.RowsAffected(), nil
}
