package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"lumen.app/studio/internal/model"
)

type ReplicateConfig struct {
	APIToken   string
	BaseURL    string
	HTTPClient *http.Client
}

// Replicate talks to the predictions API.
type Replicate struct {
	baseURL string
	api     *apiClient
}

func NewReplicate(cfg ReplicateConfig) *Replicate {
	client := cfg.HTTPClient
	if client == nil {
		client = NewHTTPClient(0)
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "https://api.replicate.com"
	}
	return &Replicate{
		baseURL: base,
		api: &apiClient{
			http:    client,
			headers: map[string]string{"Authorization": "Bearer " + cfg.APIToken},
		},
	}
}

func (r *Replicate) Name() model.Provider {
	return model.ProviderReplicate
}

type replicatePrediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  json.RawMessage `json:"error"`
	URLs   struct {
		Get    string `json:"get"`
		Cancel string `json:"cancel"`
	} `json:"urls"`
}

func (r *Replicate) Submit(ctx context.Context, req SubmitRequest) (*Job, error) {
	input, err := buildInput(req)
	if err != nil {
		return nil, err
	}

	body := map[string]any{"input": input}
	if req.WebhookURL != "" {
		body["webhook"] = req.WebhookURL
		body["webhook_events_filter"] = []string{"completed"}
	}

	endpoint := r.baseURL + "/v1/predictions"
	if req.Version != "" {
		body["version"] = req.Version
	} else {
		owner, name, ok := strings.Cut(req.Model, "/")
		if !ok || owner == "" || name == "" {
			return nil, fmt.Errorf("replicate model %q must be owner/name", req.Model)
		}
		endpoint = fmt.Sprintf("%s/v1/models/%s/%s/predictions", r.baseURL, url.PathEscape(owner), url.PathEscape(name))
	}

	var pred replicatePrediction
	if err := r.api.doJSON(ctx, http.MethodPost, endpoint, body, &pred); err != nil {
		return nil, fmt.Errorf("replicate submit: %w", err)
	}
	return pred.toJob(), nil
}

func (r *Replicate) Status(ctx context.Context, ref JobRef) (*Job, error) {
	if ref.ID == "" {
		return nil, ErrMissingJob
	}
	var pred replicatePrediction
	endpoint := fmt.Sprintf("%s/v1/predictions/%s", r.baseURL, url.PathEscape(ref.ID))
	if err := r.api.doJSON(ctx, http.MethodGet, endpoint, nil, &pred); err != nil {
		return nil, fmt.Errorf("replicate status: %w", err)
	}
	return pred.toJob(), nil
}

func (r *Replicate) Cancel(ctx context.Context, ref JobRef) error {
	if ref.ID == "" {
		return ErrMissingJob
	}
	endpoint := fmt.Sprintf("%s/v1/predictions/%s/cancel", r.baseURL, url.PathEscape(ref.ID))
	if err := r.api.doJSON(ctx, http.MethodPost, endpoint, nil, nil); err != nil {
		return fmt.Errorf("replicate cancel: %w", err)
	}
	return nil
}

// ParseWebhook decodes a prediction delivered to our callback URL.
func (r *Replicate) ParseWebhook(body []byte) (*Job, error) {
	var pred replicatePrediction
	if err := json.Unmarshal(body, &pred); err != nil {
		return nil, fmt.Errorf("decoding replicate webhook: %w", err)
	}
	if pred.ID == "" || pred.Status == "" {
		return nil, fmt.Errorf("replicate webhook missing id or status")
	}
	return pred.toJob(), nil
}

func (p replicatePrediction) toJob() *Job {
	job := &Job{
		ID:    p.ID,
		State: replicateState(p.Status),
		Meta:  model.ProviderMeta{},
		Error: errorText(p.Error),
	}
	if p.URLs.Get != "" {
		job.Meta["get_url"] = p.URLs.Get
	}
	if p.URLs.Cancel != "" {
		job.Meta["cancel_url"] = p.URLs.Cancel
	}
	if job.State == JobSucceeded {
		job.Output = p.Output
		job.OutputURLs = ExtractURLs(p.Output)
	}
	if job.State == JobFailed && job.Error == "" {
		job.Error = "prediction failed"
	}
	return job
}

func replicateState(status string) JobState {
	switch status {
	case "starting":
		return JobQueued
	case "processing":
		return JobRunning
	case "succeeded":
		return JobSucceeded
	case "failed":
		return JobFailed
	case "canceled", "cancelled", "aborted":
		return JobCancelled
	default:
		return JobRunning
	}
}
