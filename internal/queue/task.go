package queue

import (
	"fmt"

	"github.com/google/uuid"
)

type TaskType string

const (
	// TaskTypeDispatch claims a pending generation and submits it upstream.
	TaskTypeDispatch TaskType = "dispatch"
	// TaskTypeSync asks the provider for the job state of a processing generation.
	TaskTypeSync TaskType = "sync"
	// TaskTypePersist copies provider output into media storage and completes the row.
	TaskTypePersist TaskType = "persist"
)

func (t TaskType) Valid() bool {
	switch t {
	case TaskTypeDispatch, TaskTypeSync, TaskTypePersist:
		return true
	}
	return false
}

type Task struct {
	TaskType     TaskType
	GenerationID int64
	UserID       uuid.UUID
	TraceID      *string
	Attempt      int
}

// StatusStreamName is the per-user stream status events are published to.
func StatusStreamName(userID uuid.UUID) string {
	return fmt.Sprintf("generation-status:user-%s", userID)
}
