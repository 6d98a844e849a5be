package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"lumen.app/studio/internal/model"
)

type GoogleConfig struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// Google talks to the Gemini API: generateContent for images (synchronous)
// and predictLongRunning operations for Veo video models.
type Google struct {
	baseURL string
	apiKey  string
	api     *apiClient
}

func NewGoogle(cfg GoogleConfig) *Google {
	client := cfg.HTTPClient
	if client == nil {
		client = NewHTTPClient(0)
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "https://generativelanguage.googleapis.com"
	}
	return &Google{
		baseURL: base,
		apiKey:  cfg.APIKey,
		api: &apiClient{
			http:    client,
			headers: map[string]string{"x-goog-api-key": cfg.APIKey},
		},
	}
}

func (g *Google) Name() model.Provider {
	return model.ProviderGoogle
}

func isLongRunning(modelID string) bool {
	return strings.HasPrefix(modelID, "veo-")
}

type googlePart struct {
	Text       string `json:"text,omitempty"`
	InlineData *struct {
		MIMEType string `json:"mimeType"`
		Data     string `json:"data"`
	} `json:"inlineData,omitempty"`
}

type googleGenerateResponse struct {
	ResponseID string `json:"responseId"`
	Candidates []struct {
		Content struct {
			Parts []googlePart `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

type googleOperation struct {
	Name  string `json:"name"`
	Done  bool   `json:"done"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Response json.RawMessage `json:"response"`
}

func (g *Google) Submit(ctx context.Context, req SubmitRequest) (*Job, error) {
	if isLongRunning(req.Model) {
		return g.submitVideo(ctx, req)
	}
	return g.generateImage(ctx, req)
}

func (g *Google) generateImage(ctx context.Context, req SubmitRequest) (*Job, error) {
	prompt := req.Prompt
	if req.NegativePrompt != "" {
		prompt += "\n\nAvoid: " + req.NegativePrompt
	}

	genConfig := map[string]any{}
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &genConfig); err != nil {
			return nil, fmt.Errorf("params must be a JSON object: %w", err)
		}
	}
	genConfig["responseModalities"] = []string{"TEXT", "IMAGE"}

	body := map[string]any{
		"contents":         []any{map[string]any{"parts": []any{map[string]string{"text": prompt}}}},
		"generationConfig": genConfig,
	}

	var resp googleGenerateResponse
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", g.baseURL, req.Model)
	if err := g.api.doJSON(ctx, http.MethodPost, endpoint, body, &resp); err != nil {
		return nil, fmt.Errorf("google generate: %w", err)
	}

	job := &Job{ID: resp.ResponseID, Meta: model.ProviderMeta{"mode": "sync"}}
	if job.ID == "" {
		job.ID = fmt.Sprintf("sync-%d", req.GenerationID)
	}

	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		job.State = JobFailed
		job.Error = "prompt blocked by safety filter: " + resp.PromptFeedback.BlockReason
		return job, nil
	}

	var finish string
	for _, c := range resp.Candidates {
		finish = c.FinishReason
		for _, p := range c.Content.Parts {
			if p.InlineData == nil || p.InlineData.Data == "" {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
			if err != nil {
				return nil, fmt.Errorf("google generate: decoding inline data: %w", err)
			}
			job.Inline = append(job.Inline, InlineMedia{MIMEType: p.InlineData.MIMEType, Data: data})
		}
	}

	if len(job.Inline) == 0 {
		job.State = JobFailed
		switch finish {
		case "SAFETY", "IMAGE_SAFETY", "PROHIBITED_CONTENT", "BLOCKLIST":
			job.Error = "image blocked by safety filter: " + finish
		default:
			job.Error = "model returned no image"
		}
		return job, nil
	}

	job.State = JobSucceeded
	return job, nil
}

func (g *Google) submitVideo(ctx context.Context, req SubmitRequest) (*Job, error) {
	instance := map[string]any{"prompt": req.Prompt}
	parameters := map[string]any{}
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &parameters); err != nil {
			return nil, fmt.Errorf("params must be a JSON object: %w", err)
		}
	}
	if req.NegativePrompt != "" {
		parameters["negativePrompt"] = req.NegativePrompt
	}

	body := map[string]any{
		"instances":  []any{instance},
		"parameters": parameters,
	}

	var op googleOperation
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:predictLongRunning", g.baseURL, req.Model)
	if err := g.api.doJSON(ctx, http.MethodPost, endpoint, body, &op); err != nil {
		return nil, fmt.Errorf("google predict: %w", err)
	}
	if op.Name == "" {
		return nil, errors.New("google predict: response has no operation name")
	}

	return g.operationJob(op), nil
}

func (g *Google) Status(ctx context.Context, ref JobRef) (*Job, error) {
	name := ref.Meta["operation"]
	if name == "" {
		name = ref.ID
	}
	if name == "" || !strings.Contains(name, "/operations/") {
		return nil, fmt.Errorf("google status: %w", ErrMissingJob)
	}

	var op googleOperation
	if err := g.api.doJSON(ctx, http.MethodGet, g.baseURL+"/v1beta/"+name, nil, &op); err != nil {
		return nil, fmt.Errorf("google status: %w", err)
	}
	return g.operationJob(op), nil
}

func (g *Google) Cancel(ctx context.Context, ref JobRef) error {
	return ErrCancelUnsupported
}

// Fetch downloads an output file; Gemini file URIs need the API key.
func (g *Google) Fetch(ctx context.Context, rawURL string) (io.ReadCloser, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("creating download request: %w", err)
	}
	if strings.HasPrefix(rawURL, g.baseURL) {
		req.Header.Set("x-goog-api-key", g.apiKey)
	}

	resp, err := g.api.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("downloading output: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, "", &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	return resp.Body, resp.Header.Get("Content-Type"), nil
}

func (g *Google) operationJob(op googleOperation) *Job {
	job := &Job{
		ID:   op.Name,
		Meta: model.ProviderMeta{"operation": op.Name},
	}

	switch {
	case !op.Done:
		job.State = JobRunning
	case op.Error != nil:
		job.State = JobFailed
		job.Error = fmt.Sprintf("%d: %s", op.Error.Code, op.Error.Message)
	default:
		var resp struct {
			GenerateVideoResponse struct {
				GeneratedSamples []struct {
					Video struct {
						URI string `json:"uri"`
					} `json:"video"`
				} `json:"generatedSamples"`
				RAIMediaFilteredReasons []string `json:"raiMediaFilteredReasons"`
			} `json:"generateVideoResponse"`
		}
		_ = json.Unmarshal(op.Response, &resp)

		for _, s := range resp.GenerateVideoResponse.GeneratedSamples {
			if s.Video.URI != "" {
				job.OutputURLs = append(job.OutputURLs, s.Video.URI)
			}
		}
		job.Output = op.Response
		job.State = JobSucceeded
		if len(job.OutputURLs) == 0 {
			job.State = JobFailed
			job.Error = "model returned no video"
			if reasons := resp.GenerateVideoResponse.RAIMediaFilteredReasons; len(reasons) > 0 {
				job.Error = "video filtered by safety policy: " + strings.Join(reasons, "; ")
			}
		}
	}
	return job
}
