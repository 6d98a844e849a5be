package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"lumen.app/studio/internal/model"
)

type FalConfig struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// Fal talks to the fal.ai queue API.
type Fal struct {
	baseURL string
	api     *apiClient
}

func NewFal(cfg FalConfig) *Fal {
	client := cfg.HTTPClient
	if client == nil {
		client = NewHTTPClient(0)
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "https://queue.fal.run"
	}
	return &Fal{
		baseURL: base,
		api: &apiClient{
			http:    client,
			headers: map[string]string{"Authorization": "Key " + cfg.APIKey},
		},
	}
}

func (f *Fal) Name() model.Provider {
	return model.ProviderFal
}

type falSubmitResponse struct {
	RequestID   string `json:"request_id"`
	StatusURL   string `json:"status_url"`
	ResponseURL string `json:"response_url"`
	CancelURL   string `json:"cancel_url"`
}

type falStatusResponse struct {
	Status        string `json:"status"`
	QueuePosition *int   `json:"queue_position"`
	ResponseURL   string `json:"response_url"`
}

type falWebhook struct {
	RequestID string          `json:"request_id"`
	Status    string          `json:"status"`
	Payload   json.RawMessage `json:"payload"`
	Error     json.RawMessage `json:"error"`
}

func (f *Fal) Submit(ctx context.Context, req SubmitRequest) (*Job, error) {
	input, err := buildInput(req)
	if err != nil {
		return nil, err
	}

	endpoint := f.baseURL + "/" + strings.Trim(req.Model, "/")
	if req.WebhookURL != "" {
		endpoint += "?fal_webhook=" + url.QueryEscape(req.WebhookURL)
	}

	var resp falSubmitResponse
	if err := f.api.doJSON(ctx, http.MethodPost, endpoint, input, &resp); err != nil {
		return nil, fmt.Errorf("fal submit: %w", err)
	}
	if resp.RequestID == "" {
		return nil, errors.New("fal submit: response has no request_id")
	}

	return &Job{
		ID:    resp.RequestID,
		State: JobQueued,
		Meta: model.ProviderMeta{
			"status_url":   resp.StatusURL,
			"response_url": resp.ResponseURL,
			"cancel_url":   resp.CancelURL,
		},
	}, nil
}

func (f *Fal) Status(ctx context.Context, ref JobRef) (*Job, error) {
	if ref.ID == "" {
		return nil, ErrMissingJob
	}

	var st falStatusResponse
	if err := f.api.doJSON(ctx, http.MethodGet, f.metaURL(ref, "status_url", "/status"), nil, &st); err != nil {
		return nil, fmt.Errorf("fal status: %w", err)
	}

	job := &Job{ID: ref.ID, Meta: ref.Meta}
	switch st.Status {
	case "IN_QUEUE":
		job.State = JobQueued
		return job, nil
	case "IN_PROGRESS":
		job.State = JobRunning
		return job, nil
	case "COMPLETED":
	default:
		job.State = JobRunning
		return job, nil
	}

	responseURL := f.metaURL(ref, "response_url", "")
	if st.ResponseURL != "" {
		responseURL = st.ResponseURL
	}

	var output json.RawMessage
	if err := f.api.doJSON(ctx, http.MethodGet, responseURL, nil, &output); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode < 500 && apiErr.StatusCode != http.StatusTooManyRequests {
			// the request itself failed upstream; the body explains why
			job.State = JobFailed
			job.Error = errorText(json.RawMessage(apiErr.Body))
			if job.Error == "" {
				job.Error = apiErr.Error()
			}
			return job, nil
		}
		return nil, fmt.Errorf("fal result: %w", err)
	}

	job.State = JobSucceeded
	job.Output = output
	job.OutputURLs = ExtractURLs(output)
	return job, nil
}

func (f *Fal) Cancel(ctx context.Context, ref JobRef) error {
	if ref.ID == "" {
		return ErrMissingJob
	}
	if err := f.api.doJSON(ctx, http.MethodPut, f.metaURL(ref, "cancel_url", "/cancel"), nil, nil); err != nil {
		var apiErr *APIError
		// 400 means the request already left the queue
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusBadRequest {
			return fmt.Errorf("fal cancel: %w", ErrCancelUnsupported)
		}
		return fmt.Errorf("fal cancel: %w", err)
	}
	return nil
}

// ParseWebhook decodes the queue callback: status OK carries the payload, ERROR the reason.
func (f *Fal) ParseWebhook(body []byte) (*Job, error) {
	var wh falWebhook
	if err := json.Unmarshal(body, &wh); err != nil {
		return nil, fmt.Errorf("decoding fal webhook: %w", err)
	}
	if wh.RequestID == "" {
		return nil, errors.New("fal webhook missing request_id")
	}

	job := &Job{ID: wh.RequestID}
	switch wh.Status {
	case "OK":
		job.State = JobSucceeded
		job.Output = wh.Payload
		job.OutputURLs = ExtractURLs(wh.Payload)
	case "ERROR":
		job.State = JobFailed
		var parts []string
		for _, raw := range []json.RawMessage{wh.Error, wh.Payload} {
			if text := errorText(raw); text != "" {
				parts = append(parts, text)
			}
		}
		job.Error = strings.Join(parts, ": ")
		if job.Error == "" {
			job.Error = "fal request failed"
		}
	default:
		return nil, fmt.Errorf("fal webhook has unknown status %q", wh.Status)
	}
	return job, nil
}

// metaURL prefers the URL fal returned on submit and rebuilds it from the model otherwise.
func (f *Fal) metaURL(ref JobRef, key, suffix string) string {
	if u := ref.Meta[key]; u != "" {
		return u
	}
	return fmt.Sprintf("%s/%s/requests/%s%s", f.baseURL, appID(ref.Model), url.PathEscape(ref.ID), suffix)
}

// appID strips endpoint sub-paths: fal-ai/flux-pro/v1.1 → fal-ai/flux-pro.
func appID(modelID string) string {
	parts := strings.Split(strings.Trim(modelID, "/"), "/")
	if len(parts) > 2 {
		parts = parts[:2]
	}
	return strings.Join(parts, "/")
}
