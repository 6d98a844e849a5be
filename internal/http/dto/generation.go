package dto

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"lumen.app/studio/internal/errclass"
	"lumen.app/studio/internal/model"
	"lumen.app/studio/internal/service"
)

// CreateGenerationRequest leaves length and catalog checks to the service so
// every rejection carries the same fixed messages.
type CreateGenerationRequest struct {
	Model          string          `json:"model" binding:"required"`
	Prompt         string          `json:"prompt" binding:"required"`
	NegativePrompt string          `json:"negative_prompt,omitempty"`
	Params         json.RawMessage `json:"params,omitempty"`
	WorkspaceID    *int64          `json:"workspace_id,omitempty,string"`
	ProjectID      *int64          `json:"project_id,omitempty,string"`
}

func (r CreateGenerationRequest) ToInput(idempotencyKey string) service.CreateInput {
	return service.CreateInput{
		Model:          r.Model,
		Prompt:         r.Prompt,
		NegativePrompt: r.NegativePrompt,
		Params:         r.Params,
		WorkspaceID:    r.WorkspaceID,
		ProjectID:      r.ProjectID,
		IdempotencyKey: idempotencyKey,
	}
}

type ListGenerationsQuery struct {
	Status      string `form:"status"`
	Provider    string `form:"provider"`
	MediaType   string `form:"media_type"`
	WorkspaceID *int64 `form:"workspace_id"`
	ProjectID   *int64 `form:"project_id"`
	Search      string `form:"q"`
	Cursor      int64  `form:"cursor"`
	Limit       int    `form:"limit"`
}

func (q ListGenerationsQuery) ToFilter() service.ListFilter {
	return service.ListFilter{
		Status:      q.Status,
		Provider:    q.Provider,
		MediaType:   q.MediaType,
		WorkspaceID: q.WorkspaceID,
		ProjectID:   q.ProjectID,
		Search:      q.Search,
		Cursor:      q.Cursor,
		Limit:       q.Limit,
	}
}

type GenerationResponse struct {
	ID             int64                  `json:"id,string"`
	Status         model.GenerationStatus `json:"status"`
	Model          string                 `json:"model"`
	Provider       model.Provider         `json:"provider"`
	MediaType      model.MediaType        `json:"media_type"`
	Prompt         string                 `json:"prompt"`
	NegativePrompt *string                `json:"negative_prompt,omitempty"`
	Params         json.RawMessage        `json:"params"`
	OutputURLs     []string               `json:"output_urls"`
	ErrorCategory  *errclass.Category     `json:"error_category,omitempty"`
	Error          string                 `json:"error,omitempty"`
	RetryCount     int                    `json:"retry_count"`
	WorkspaceID    *int64                 `json:"workspace_id,omitempty,string"`
	ProjectID      *int64                 `json:"project_id,omitempty,string"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
	StartedAt      *time.Time             `json:"started_at,omitempty"`
	CompletedAt    *time.Time             `json:"completed_at,omitempty"`
}

func ToGenerationResponse(g *model.Generation) GenerationResponse {
	urls := g.OutputURLs
	if urls == nil {
		urls = []string{}
	}
	params := g.Params
	if len(params) == 0 {
		params = json.RawMessage(`{}`)
	}
	return GenerationResponse{
		ID:             g.ID,
		Status:         g.Status,
		Model:          g.Model,
		Provider:       g.Provider,
		MediaType:      g.MediaType,
		Prompt:         g.Prompt,
		NegativePrompt: g.NegativePrompt,
		Params:         params,
		OutputURLs:     urls,
		ErrorCategory:  g.ErrorCategory,
		Error:          g.UserError(),
		RetryCount:     g.RetryCount,
		WorkspaceID:    g.WorkspaceID,
		ProjectID:      g.ProjectID,
		CreatedAt:      g.CreatedAt,
		UpdatedAt:      g.UpdatedAt,
		StartedAt:      g.StartedAt,
		CompletedAt:    g.CompletedAt,
	}
}

type ListGenerationsResponse struct {
	Items      []GenerationResponse `json:"items"`
	NextCursor *int64               `json:"next_cursor,omitempty,string"`
}

func ToListGenerationsResponse(page *service.GenerationPage) ListGenerationsResponse {
	resp := ListGenerationsResponse{Items: make([]GenerationResponse, 0, len(page.Items))}
	for i := range page.Items {
		resp.Items = append(resp.Items, ToGenerationResponse(&page.Items[i]))
	}
	if page.NextCursor > 0 {
		resp.NextCursor = &page.NextCursor
	}
	return resp
}

// AdminGenerationResponse adds the operator-only fields.
type AdminGenerationResponse struct {
	GenerationResponse
	UserID           uuid.UUID `json:"user_id"`
	ProviderJobID    *string   `json:"provider_job_id,omitempty"`
	ErrorMessage     *string   `json:"error_message,omitempty"`
	DispatchAttempts int       `json:"dispatch_attempts"`
}

func ToAdminGenerationResponse(g *model.Generation) AdminGenerationResponse {
	return AdminGenerationResponse{
		GenerationResponse: ToGenerationResponse(g),
		UserID:             g.UserID,
		ProviderJobID:      g.ProviderJobID,
		ErrorMessage:       g.ErrorMessage,
		DispatchAttempts:   g.DispatchAttempts,
	}
}

type AdminListGenerationsResponse struct {
	Items      []AdminGenerationResponse `json:"items"`
	NextCursor *int64                    `json:"next_cursor,omitempty,string"`
}

func ToAdminListGenerationsResponse(page *service.GenerationPage) AdminListGenerationsResponse {
	resp := AdminListGenerationsResponse{Items: make([]AdminGenerationResponse, 0, len(page.Items))}
	for i := range page.Items {
		resp.Items = append(resp.Items, ToAdminGenerationResponse(&page.Items[i]))
	}
	if page.NextCursor > 0 {
		resp.NextCursor = &page.NextCursor
	}
	return resp
}
