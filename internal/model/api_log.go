package model

import "time"

type APIOperation string

const (
	APIOperationSubmit   APIOperation = "submit"
	APIOperationStatus   APIOperation = "status"
	APIOperationCancel   APIOperation = "cancel"
	APIOperationResult   APIOperation = "result"
	APIOperationDownload APIOperation = "download"
)

// APILog records one outbound call to a generation provider.
type APILog struct {
	ID           int64        `json:"id" db:"id"`
	GenerationID *int64       `json:"generation_id,omitempty" db:"generation_id"`
	Provider     Provider     `json:"provider" db:"provider"`
	Operation    APIOperation `json:"operation" db:"operation"`
	StatusCode   int          `json:"status_code" db:"status_code"`
	DurationMS   int64        `json:"duration_ms" db:"duration_ms"`
	Error        *string      `json:"error,omitempty" db:"error"`
	CreatedAt    time.Time    `json:"created_at" db:"created_at"`
}
