package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"lumen.app/studio/internal/errclass"
)

type GenerationStatus string

const (
	GenerationStatusPending    GenerationStatus = "pending"
	GenerationStatusProcessing GenerationStatus = "processing"
	GenerationStatusCompleted  GenerationStatus = "completed"
	GenerationStatusFailed     GenerationStatus = "failed"
	GenerationStatusCancelled  GenerationStatus = "cancelled"
)

// transitions lists every legal status change; anything absent is refused.
var transitions = map[GenerationStatus][]GenerationStatus{
	GenerationStatusPending:    {GenerationStatusProcessing, GenerationStatusCancelled, GenerationStatusFailed},
	GenerationStatusProcessing: {GenerationStatusCompleted, GenerationStatusFailed, GenerationStatusCancelled, GenerationStatusPending},
	GenerationStatusFailed:     {GenerationStatusPending},
	GenerationStatusCancelled:  {GenerationStatusPending},
}

func (s GenerationStatus) IsTerminal() bool {
	switch s {
	case GenerationStatusCompleted, GenerationStatusFailed, GenerationStatusCancelled:
		return true
	}
	return false
}

func (s GenerationStatus) Valid() bool {
	switch s {
	case GenerationStatusPending, GenerationStatusProcessing, GenerationStatusCompleted,
		GenerationStatusFailed, GenerationStatusCancelled:
		return true
	}
	return false
}

func CanTransition(from, to GenerationStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// SourcesFor returns every status that may legally move to `to`.
// Stores use it as the `status = ANY(...)` guard of a conditional update.
func SourcesFor(to GenerationStatus) []GenerationStatus {
	var out []GenerationStatus
	for _, from := range []GenerationStatus{
		GenerationStatusPending, GenerationStatusProcessing, GenerationStatusCompleted,
		GenerationStatusFailed, GenerationStatusCancelled,
	} {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}

func ActiveStatuses() []GenerationStatus {
	return []GenerationStatus{GenerationStatusPending, GenerationStatusProcessing}
}

type Provider string

const (
	ProviderReplicate Provider = "replicate"
	ProviderFal       Provider = "fal"
	ProviderGoogle    Provider = "google"
)

func (p Provider) Valid() bool {
	switch p {
	case ProviderReplicate, ProviderFal, ProviderGoogle:
		return true
	}
	return false
}

type MediaType string

const (
	MediaTypeImage MediaType = "image"
	MediaTypeVideo MediaType = "video"
)

func (m MediaType) Valid() bool {
	return m == MediaTypeImage || m == MediaTypeVideo
}

// ProviderMeta holds the upstream handles needed to poll, fetch or cancel a job:
// Fal status/response/cancel URLs, the Google operation name, Replicate's get/cancel URLs.
type ProviderMeta map[string]string

type Generation struct {
	ID             int64     `json:"id,string" db:"id"`
	UserID         uuid.UUID `json:"user_id" db:"user_id"`
	WorkspaceID    *int64    `json:"workspace_id,omitempty,string" db:"workspace_id"`
	ProjectID      *int64    `json:"project_id,omitempty,string" db:"project_id"`
	Provider       Provider  `json:"provider" db:"provider"`
	Model          string    `json:"model" db:"model"`
	ProviderModel  string    `json:"provider_model" db:"provider_model"`
	MediaType      MediaType `json:"media_type" db:"media_type"`
	Prompt         string    `json:"prompt" db:"prompt"`
	NegativePrompt *string   `json:"negative_prompt,omitempty" db:"negative_prompt"`

	// Params is always a JSON object.
	Params json.RawMessage `json:"params" db:"params"`

	Status         GenerationStatus `json:"status" db:"status"`
	ProviderJobID  *string          `json:"provider_job_id,omitempty" db:"provider_job_id"`
	ProviderMeta   ProviderMeta     `json:"-" db:"provider_meta"`
	ProviderOutput json.RawMessage  `json:"-" db:"provider_output"`
	OutputURLs     []string         `json:"output_urls" db:"output_urls"`
	StoragePaths   []string         `json:"-" db:"storage_paths"`

	// ErrorMessage is the raw upstream message, kept for operators only.
	ErrorMessage  *string            `json:"-" db:"error_message"`
	ErrorCategory *errclass.Category `json:"error_category,omitempty" db:"error_category"`

	RetryCount       int     `json:"retry_count" db:"retry_count"`
	DispatchAttempts int     `json:"-" db:"dispatch_attempts"`
	IdempotencyKey   *string `json:"-" db:"idempotency_key"`

	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
	StartedAt    *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	LastPolledAt *time.Time `json:"-" db:"last_polled_at"`
}

func (g *Generation) HasJob() bool {
	return g.ProviderJobID != nil && *g.ProviderJobID != ""
}

// Category returns the stored error category, or Unknown when unset.
func (g *Generation) Category() errclass.Category {
	if g.ErrorCategory == nil {
		return errclass.Unknown
	}
	return *g.ErrorCategory
}

// UserError is the message shown to the owner of a failed generation.
func (g *Generation) UserError() string {
	if g.Status != GenerationStatusFailed {
		return ""
	}
	return g.Category().UserMessage()
}
