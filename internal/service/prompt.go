package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"lumen.app/studio/common/llm"
	"lumen.app/studio/internal/model"
)

const submitPromptTool = "submit_prompt"

const enhanceSystemPrompt = `You rewrite short prompts for text-to-image and text-to-video models.
Keep the user's subject and intent. Add concrete detail about composition, lighting, style and
camera where it helps. For video, describe motion. Never add text overlays, watermarks or people
the user did not ask for. Reply only by calling submit_prompt.`

// EnhancedPrompt is the tool payload the model must return.
type EnhancedPrompt struct {
	Prompt         string `json:"prompt" jsonschema_description:"The rewritten prompt, at most 4000 characters"`
	NegativePrompt string `json:"negative_prompt" jsonschema_description:"Things the model should avoid, empty when none"`
	Notes          string `json:"notes" jsonschema_description:"One sentence on what was changed"`
}

type EnhanceInput struct {
	Prompt    string
	MediaType string
}

type PromptService interface {
	Enhance(ctx context.Context, in EnhanceInput) (*EnhancedPrompt, error)
}

type promptService struct {
	llm       llm.AgentClient
	maxTokens int
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewPromptService returns a service whose Enhance fails with ErrUnavailable when client is nil.
func NewPromptService(client llm.AgentClient, maxTokens int) PromptService {
	return &promptService{llm: client, maxTokens: maxTokens, sleep: sleepContext}
}

var submitPromptSchema = llm.GenerateSchema[EnhancedPrompt]()

func (s *promptService) Enhance(ctx context.Context, in EnhanceInput) (*EnhancedPrompt, error) {
	if s.llm == nil {
		return nil, ErrUnavailable
	}

	prompt := strings.TrimSpace(in.Prompt)
	if prompt == "" {
		return nil, invalid("prompt", "is required")
	}
	if utf8.RuneCountInString(prompt) > MaxPromptRunes {
		return nil, invalid("prompt", fmt.Sprintf("must be at most %d characters", MaxPromptRunes))
	}
	mediaType := model.MediaTypeImage
	if in.MediaType != "" {
		mediaType = model.MediaType(in.MediaType)
		if !mediaType.Valid() {
			return nil, invalid("media_type", "is not a valid media type")
		}
	}

	req := llm.AgentRequest{
		System: enhanceSystemPrompt,
		User:   fmt.Sprintf("Media type: %s\n\nPrompt:\n%s", mediaType, prompt),
		Tools: []llm.Tool{{
			Name:        submitPromptTool,
			Description: "Submit the enhanced prompt.",
			Parameters:  submitPromptSchema,
		}},
		MaxTokens:   s.maxTokens,
		Temperature: llm.Temp(0.7),
		ToolChoice:  submitPromptTool,
	}

	var resp *llm.AgentResponse
	var err error
	for attempt := range 3 {
		resp, err = s.llm.ChatWithTools(ctx, req)
		if err == nil {
			break
		}
		if !llm.IsRetryable(ctx, err) {
			return nil, fmt.Errorf("enhancing prompt: %w", err)
		}
		slog.WarnContext(ctx, "prompt enhancement retry", "attempt", attempt+1, "error", err)
		if sleepErr := s.sleep(ctx, time.Duration(1<<attempt)*time.Second); sleepErr != nil {
			return nil, sleepErr
		}
	}
	if err != nil {
		return nil, fmt.Errorf("enhancing prompt after 3 attempts: %w", err)
	}

	for _, call := range resp.ToolCalls {
		if call.Name != submitPromptTool {
			continue
		}
		out, err := llm.ParseToolArguments[EnhancedPrompt](call.Arguments)
		if err != nil {
			return nil, fmt.Errorf("enhancing prompt: %w", err)
		}
		out.Prompt = strings.TrimSpace(out.Prompt)
		if out.Prompt == "" {
			return nil, fmt.Errorf("enhancing prompt: model returned an empty prompt")
		}
		if utf8.RuneCountInString(out.Prompt) > MaxPromptRunes {
			out.Prompt = string([]rune(out.Prompt)[:MaxPromptRunes])
		}

		slog.InfoContext(ctx, "prompt enhanced",
			"model", s.llm.Model(),
			"prompt_tokens", resp.PromptTokens,
			"completion_tokens", resp.CompletionTokens)
		return &out, nil
	}
	return nil, fmt.Errorf("enhancing prompt: model did not call %s", submitPromptTool)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
