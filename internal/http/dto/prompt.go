package dto

type EnhancePromptRequest struct {
	Prompt    string `json:"prompt" binding:"required"`
	MediaType string `json:"media_type,omitempty"`
}
