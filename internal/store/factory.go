package store

import (
	"context"

	sq "github.com/Masterminds/squirrel"

	"lumen.app/studio/core/db"
)

// psql builds Postgres statements with $n placeholders.
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// querier resolves the pool or the transaction carried by ctx.
type querier interface {
	Q(ctx context.Context) db.Querier
}

type Stores struct {
	db querier
}

func NewStores(database *db.DB) *Stores {
	return &Stores{db: database}
}

func (s *Stores) Generations() GenerationStore {
	return newGenerationStore(s.db)
}

func (s *Stores) Notifications() NotificationStore {
	return newNotificationStore(s.db)
}

func (s *Stores) APILogs() APILogStore {
	return newAPILogStore(s.db)
}
