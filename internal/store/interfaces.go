package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"lumen.app/studio/internal/errclass"
	"lumen.app/studio/internal/model"
)

var (
	// ErrNotFound is returned when a requested entity does not exist
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a unique constraint rejects a write.
	ErrConflict = errors.New("conflict")
)

// GenerationPatch lists the columns written alongside a status change.
// Zero values leave the column untouched; the Clear/Increment flags are explicit.
type GenerationPatch struct {
	ProviderJobID  *string
	ProviderMeta   model.ProviderMeta
	ProviderOutput []byte
	OutputURLs     []string
	StoragePaths   []string
	ErrorMessage   *string
	ErrorCategory  *errclass.Category

	// ResetForRetry clears job handles, outputs and errors, and zeroes dispatch_attempts.
	ResetForRetry     bool
	ClearError        bool
	IncrementRetry    bool
	IncrementDispatch bool
	MarkStarted       bool
	MarkCompleted     bool
	MarkPolled        bool
}

type GenerationFilter struct {
	UserID      *uuid.UUID
	Statuses    []model.GenerationStatus
	Provider    *model.Provider
	MediaType   *model.MediaType
	WorkspaceID *int64
	ProjectID   *int64
	Search      string

	// Cursor is the last id of the previous page; results have id < Cursor.
	Cursor int64
	Limit  int
}

// StaleQuery pages through rows in Statuses last updated before Before, in id order.
type StaleQuery struct {
	Statuses []model.GenerationStatus
	Before   time.Time
	AfterID  int64
	Limit    int

	// ByStartedAt ages rows by started_at instead; polling keeps updated_at fresh.
	ByStartedAt bool
}

// GenerationStats is the raw material of the admin dashboard.
type GenerationStats struct {
	ByStatus    map[model.GenerationStatus]int64
	ByProvider  map[model.Provider]int64
	ByCategory  map[errclass.Category]int64
	UniqueUsers int64
}

type GenerationStore interface {
	Insert(ctx context.Context, g *model.Generation) (*model.Generation, error)
	GetByID(ctx context.Context, id int64) (*model.Generation, error)
	GetForUser(ctx context.Context, id int64, userID uuid.UUID) (*model.Generation, error)
	GetByIdempotencyKey(ctx context.Context, userID uuid.UUID, key string) (*model.Generation, error)
	List(ctx context.Context, filter GenerationFilter) ([]model.Generation, error)
	CountActive(ctx context.Context, userID uuid.UUID) (int64, error)

	// Transition moves id from any of `from` to `to`, applying patch.
	// It returns false, nil, nil when the row was not in one of `from`.
	Transition(ctx context.Context, id int64, from []model.GenerationStatus, to model.GenerationStatus, patch GenerationPatch) (bool, *model.Generation, error)

	// Update applies patch only while the row is still in status.
	Update(ctx context.Context, id int64, status model.GenerationStatus, patch GenerationPatch) (bool, *model.Generation, error)

	// Delete removes the row if its status is one of statuses.
	Delete(ctx context.Context, id int64, statuses []model.GenerationStatus) (bool, error)

	ListStale(ctx context.Context, q StaleQuery) ([]model.Generation, error)
	ListDueForPoll(ctx context.Context, before time.Time, limit int) ([]model.Generation, error)

	CountByStatus(ctx context.Context, since time.Time) (map[model.GenerationStatus]int64, error)
	CountByProvider(ctx context.Context, since time.Time) (map[model.Provider]int64, error)
	CountByErrorCategory(ctx context.Context, since time.Time) (map[errclass.Category]int64, error)
	CountDistinctUsers(ctx context.Context, since time.Time) (int64, error)
}

type NotificationFilter struct {
	UserID     uuid.UUID
	UnreadOnly bool
	Cursor     int64
	Limit      int
}

type NotificationStore interface {
	Insert(ctx context.Context, n *model.Notification) (*model.Notification, error)
	List(ctx context.Context, filter NotificationFilter) ([]model.Notification, error)
	CountUnread(ctx context.Context, userID uuid.UUID) (int64, error)
	MarkRead(ctx context.Context, userID uuid.UUID, id int64) (bool, error)
	MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error)
}

type APILogStore interface {
	Insert(ctx context.Context, l *model.APILog) error
	ListByGeneration(ctx context.Context, generationID int64) ([]model.APILog, error)
	DeleteOlderThan(ctx context.Context, before time.Time, limit int) (int64, error)
}
