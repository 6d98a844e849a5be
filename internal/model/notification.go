package model

import (
	"time"

	"github.com/google/uuid"
)

type NotificationKind string

const (
	NotificationGenerationCompleted NotificationKind = "generation_completed"
	NotificationGenerationFailed    NotificationKind = "generation_failed"
)

type Notification struct {
	ID           int64            `json:"id" db:"id"`
	UserID       uuid.UUID        `json:"user_id" db:"user_id"`
	Kind         NotificationKind `json:"kind" db:"kind"`
	Title        string           `json:"title" db:"title"`
	Body         string           `json:"body" db:"body"`
	GenerationID *int64           `json:"generation_id,omitempty" db:"generation_id"`
	ReadAt       *time.Time       `json:"read_at,omitempty" db:"read_at"`
	CreatedAt    time.Time        `json:"created_at" db:"created_at"`
}

func (n *Notification) IsRead() bool {
	return n.ReadAt != nil
}
