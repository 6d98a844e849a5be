// Package provider adapts third-party generation APIs (Replicate, Fal, Google AI)
// to a single job model: submit, poll status, cancel.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	"lumen.app/studio/internal/model"
)

var (
	// ErrCancelUnsupported is returned by providers that cannot cancel upstream.
	ErrCancelUnsupported = errors.New("cancel not supported by provider")

	ErrUnknownProvider = errors.New("unknown provider")
	ErrMissingJob      = errors.New("job reference has no upstream id")
)

type JobState string

const (
	JobQueued    JobState = "queued"
	JobRunning   JobState = "running"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
	JobCancelled JobState = "cancelled"
)

func (s JobState) Done() bool {
	return s == JobSucceeded || s == JobFailed || s == JobCancelled
}

type SubmitRequest struct {
	GenerationID   int64
	Model          string // upstream model id
	Version        string // Replicate version pin, optional
	MediaType      model.MediaType
	Prompt         string
	NegativePrompt string
	Params         json.RawMessage

	// WebhookURL is empty when the caller wants poll-only behaviour.
	WebhookURL string
}

// JobRef identifies an upstream job previously returned by Submit.
type JobRef struct {
	GenerationID int64
	ID           string
	Model        string
	Meta         model.ProviderMeta
}

// InlineMedia is output returned in the response body rather than by URL.
type InlineMedia struct {
	MIMEType string
	Data     []byte
}

type Job struct {
	ID         string
	State      JobState
	Meta       model.ProviderMeta
	Output     json.RawMessage
	OutputURLs []string
	Inline     []InlineMedia
	Error      string
}

type Provider interface {
	Name() model.Provider
	Submit(ctx context.Context, req SubmitRequest) (*Job, error)
	Status(ctx context.Context, ref JobRef) (*Job, error)
	Cancel(ctx context.Context, ref JobRef) error
}

// WebhookParser is implemented by providers that push completion callbacks.
type WebhookParser interface {
	ParseWebhook(body []byte) (*Job, error)
}

// MediaFetcher is implemented by providers whose output URLs need credentials.
type MediaFetcher interface {
	Fetch(ctx context.Context, rawURL string) (io.ReadCloser, string, error)
}

// Registry maps provider names to configured clients.
type Registry struct {
	providers map[model.Provider]Provider
	raw       map[model.Provider]Provider
}

func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[model.Provider]Provider),
		raw:       make(map[model.Provider]Provider),
	}
}

// Register adds p, wrapped by any decorators, under p.Name().
func (r *Registry) Register(p Provider, decorators ...func(Provider) Provider) {
	r.raw[p.Name()] = p
	wrapped := p
	for _, d := range decorators {
		wrapped = d(wrapped)
	}
	r.providers[p.Name()] = wrapped
}

func (r *Registry) Get(name model.Provider) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return p, nil
}

func (r *Registry) WebhookParser(name model.Provider) (WebhookParser, bool) {
	wp, ok := r.raw[name].(WebhookParser)
	return wp, ok
}

func (r *Registry) MediaFetcher(name model.Provider) (MediaFetcher, bool) {
	mf, ok := r.raw[name].(MediaFetcher)
	return mf, ok
}

func (r *Registry) Names() []model.Provider {
	out := make([]model.Provider, 0, len(r.providers))
	for name := range r.providers {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// buildInput merges catalog/user params with the prompt fields every provider expects.
func buildInput(req SubmitRequest) (map[string]any, error) {
	input := map[string]any{}
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &input); err != nil {
			return nil, fmt.Errorf("params must be a JSON object: %w", err)
		}
		if input == nil {
			input = map[string]any{}
		}
	}
	input["prompt"] = req.Prompt
	if req.NegativePrompt != "" {
		input["negative_prompt"] = req.NegativePrompt
	}
	return input, nil
}
