package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"lumen.app/studio/common/id"
	"lumen.app/studio/common/logger"
	"lumen.app/studio/core/config"
	"lumen.app/studio/internal/errclass"
	"lumen.app/studio/internal/model"
	"lumen.app/studio/internal/provider"
	"lumen.app/studio/internal/queue"
	"lumen.app/studio/internal/store"
)

const (
	MaxPromptRunes         = 4000
	MaxNegativePromptRunes = 2000
	MaxParamsBytes         = 16 << 10
	MaxIdempotencyKeyLen   = 255
)

type CreateInput struct {
	Model          string
	Prompt         string
	NegativePrompt string
	Params         json.RawMessage
	WorkspaceID    *int64
	ProjectID      *int64
	IdempotencyKey string
}

type CreateResult struct {
	Generation *model.Generation
	// Duplicated is true when IdempotencyKey matched an earlier request.
	Duplicated bool
}

type ListFilter struct {
	Status      string
	Provider    string
	MediaType   string
	WorkspaceID *int64
	ProjectID   *int64
	Search      string
	Cursor      int64
	Limit       int
}

type GenerationPage struct {
	Items      []model.Generation
	NextCursor int64
}

// GenerationService is the owner-scoped API used by HTTP handlers.
type GenerationService interface {
	Create(ctx context.Context, userID uuid.UUID, in CreateInput) (*CreateResult, error)
	Get(ctx context.Context, userID uuid.UUID, id int64) (*model.Generation, error)
	List(ctx context.Context, userID uuid.UUID, filter ListFilter) (*GenerationPage, error)
	Cancel(ctx context.Context, userID uuid.UUID, id int64) (*model.Generation, error)
	Retry(ctx context.Context, userID uuid.UUID, id int64) (*model.Generation, error)
	SyncStatus(ctx context.Context, userID uuid.UUID, id int64) (*model.Generation, error)
	Delete(ctx context.Context, userID uuid.UUID, id int64) error
}

// GenerationRunner is the worker side of the lifecycle: one method per queue task.
type GenerationRunner interface {
	Dispatch(ctx context.Context, id int64) error
	Sync(ctx context.Context, id int64) error
	Persist(ctx context.Context, id int64) error
	// Abandon fails a generation whose task exhausted its queue attempts.
	Abandon(ctx context.Context, id int64, cause error) error
}

// JobUpdater applies an upstream job state pushed by a webhook.
type JobUpdater interface {
	ApplyJobUpdate(ctx context.Context, id int64, job *provider.Job) (*model.Generation, error)
}

type GenerationDeps struct {
	Generations store.GenerationStore
	Tx          TxRunner
	Providers   *provider.Registry
	Media       store.MediaStore
	Producer    queue.Producer
	Status      queue.StatusPublisher
	Limiter     RateLimiter

	// HTTPClient downloads public provider outputs.
	HTTPClient *http.Client
}

type GenerationConfig struct {
	Limits           config.LimitsConfig
	Webhook          config.WebhookConfig
	MaxDownloadBytes int64
}

// Generations implements GenerationService, GenerationRunner and JobUpdater
// over one generations table.
type Generations struct {
	generations store.GenerationStore
	tx          TxRunner
	providers   *provider.Registry
	media       store.MediaStore
	producer    queue.Producer
	status      queue.StatusPublisher
	limiter     RateLimiter
	httpClient  *http.Client
	cfg         GenerationConfig
	now         func() time.Time
}

func NewGenerations(deps GenerationDeps, cfg GenerationConfig) *Generations {
	if deps.HTTPClient == nil {
		deps.HTTPClient = provider.NewHTTPClient(0)
	}
	if cfg.MaxDownloadBytes <= 0 {
		cfg.MaxDownloadBytes = store.DefaultMaxObjectSize
	}
	return &Generations{
		generations: deps.Generations,
		tx:          deps.Tx,
		providers:   deps.Providers,
		media:       deps.Media,
		producer:    deps.Producer,
		status:      deps.Status,
		limiter:     deps.Limiter,
		httpClient:  deps.HTTPClient,
		cfg:         cfg,
		now:         time.Now,
	}
}

func (s *Generations) Create(ctx context.Context, userID uuid.UUID, in CreateInput) (*CreateResult, error) {
	spec, g, err := s.validateCreate(userID, in)
	if err != nil {
		return nil, err
	}

	if g.IdempotencyKey != nil {
		existing, err := s.generations.GetByIdempotencyKey(ctx, userID, *g.IdempotencyKey)
		switch {
		case err == nil:
			return &CreateResult{Generation: existing, Duplicated: true}, nil
		case !errors.Is(err, store.ErrNotFound):
			return nil, fmt.Errorf("checking idempotency key: %w", err)
		}
	}

	if err := s.checkRate(ctx, userID); err != nil {
		return nil, err
	}

	active, err := s.generations.CountActive(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("counting active generations: %w", err)
	}
	if s.cfg.Limits.MaxInFlight > 0 && active >= int64(s.cfg.Limits.MaxInFlight) {
		return nil, ErrInFlightLimit
	}

	created, err := s.generations.Insert(ctx, g)
	if err != nil {
		if errors.Is(err, store.ErrConflict) && g.IdempotencyKey != nil {
			// lost a race with a concurrent request carrying the same key
			existing, getErr := s.generations.GetByIdempotencyKey(ctx, userID, *g.IdempotencyKey)
			if getErr != nil {
				return nil, fmt.Errorf("loading duplicate generation: %w", getErr)
			}
			return &CreateResult{Generation: existing, Duplicated: true}, nil
		}
		return nil, fmt.Errorf("inserting generation: %w", err)
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		GenerationID: &created.ID,
		Provider:     logger.Ptr(string(created.Provider)),
	})

	if err := s.enqueue(ctx, queue.TaskTypeDispatch, created); err != nil {
		msg := "queue unavailable: " + err.Error()
		_, failed, failErr := s.generations.Transition(ctx, created.ID,
			[]model.GenerationStatus{model.GenerationStatusPending}, model.GenerationStatusFailed,
			store.GenerationPatch{ErrorMessage: &msg, ErrorCategory: logger.Ptr(errclass.ProviderUnavailable)})
		if failErr != nil {
			slog.ErrorContext(ctx, "failed to mark unqueued generation failed", "error", failErr)
		} else if failed != nil {
			s.publish(ctx, failed)
		}
		return nil, fmt.Errorf("enqueueing dispatch: %w", err)
	}

	slog.InfoContext(ctx, "generation created",
		"model", spec.Key,
		"media_type", created.MediaType)

	s.publish(ctx, created)
	return &CreateResult{Generation: created}, nil
}

func (s *Generations) validateCreate(userID uuid.UUID, in CreateInput) (model.ModelSpec, *model.Generation, error) {
	if userID == uuid.Nil {
		return model.ModelSpec{}, nil, invalid("user_id", "is required")
	}

	spec, ok := model.LookupModel(strings.TrimSpace(in.Model))
	if !ok {
		return model.ModelSpec{}, nil, invalid("model", "is not a supported model")
	}

	prompt := strings.TrimSpace(in.Prompt)
	if prompt == "" {
		return spec, nil, invalid("prompt", "is required")
	}
	if !utf8.ValidString(prompt) {
		return spec, nil, invalid("prompt", "must be valid UTF-8")
	}
	if utf8.RuneCountInString(prompt) > MaxPromptRunes {
		return spec, nil, invalid("prompt", fmt.Sprintf("must be at most %d characters", MaxPromptRunes))
	}

	negative := strings.TrimSpace(in.NegativePrompt)
	if utf8.RuneCountInString(negative) > MaxNegativePromptRunes {
		return spec, nil, invalid("negative_prompt", fmt.Sprintf("must be at most %d characters", MaxNegativePromptRunes))
	}

	params, err := mergeParams(spec.DefaultParams, in.Params)
	if err != nil {
		return spec, nil, err
	}

	if in.WorkspaceID != nil && *in.WorkspaceID <= 0 {
		return spec, nil, invalid("workspace_id", "must be a positive id")
	}
	if in.ProjectID != nil && *in.ProjectID <= 0 {
		return spec, nil, invalid("project_id", "must be a positive id")
	}

	g := &model.Generation{
		ID:            id.New(),
		UserID:        userID,
		WorkspaceID:   in.WorkspaceID,
		ProjectID:     in.ProjectID,
		Provider:      spec.Provider,
		Model:         spec.Key,
		ProviderModel: spec.ProviderModel,
		MediaType:     spec.MediaType,
		Prompt:        prompt,
		Params:        params,
		Status:        model.GenerationStatusPending,
		ProviderMeta:  model.ProviderMeta{},
	}
	if negative != "" {
		g.NegativePrompt = &negative
	}

	if key := strings.TrimSpace(in.IdempotencyKey); key != "" {
		if len(key) > MaxIdempotencyKeyLen {
			return spec, nil, invalid("idempotency_key", "is too long")
		}
		g.IdempotencyKey = &key
	}

	return spec, g, nil
}

// mergeParams overlays user params on the model defaults. Both must be JSON objects.
func mergeParams(defaults, user json.RawMessage) (json.RawMessage, error) {
	if len(bytes.TrimSpace(user)) > MaxParamsBytes {
		return nil, invalid("params", "is too large")
	}

	merged := map[string]any{}
	if len(defaults) > 0 {
		if err := json.Unmarshal(defaults, &merged); err != nil {
			return nil, fmt.Errorf("decoding default params: %w", err)
		}
	}

	trimmed := bytes.TrimSpace(user)
	if len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		if trimmed[0] != '{' {
			return nil, invalid("params", "must be a JSON object")
		}
		var overrides map[string]any
		if err := json.Unmarshal(trimmed, &overrides); err != nil {
			return nil, invalid("params", "must be a JSON object")
		}
		for k, v := range overrides {
			if k == "prompt" || k == "negative_prompt" {
				continue
			}
			merged[k] = v
		}
	}

	out, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("encoding params: %w", err)
	}
	return out, nil
}

func (s *Generations) checkRate(ctx context.Context, userID uuid.UUID) error {
	if s.limiter == nil || s.cfg.Limits.RequestsPerMinute <= 0 {
		return nil
	}
	decision, err := s.limiter.Allow(ctx, "generations:"+userID.String(), s.cfg.Limits.RequestsPerMinute, time.Minute)
	if err != nil {
		// fail open: Redis trouble should not block generation entirely
		slog.WarnContext(ctx, "rate limiter unavailable", "error", err)
		return nil
	}
	if !decision.Allowed {
		return &RateLimitError{RetryAfter: decision.RetryAfter}
	}
	return nil
}

func (s *Generations) Get(ctx context.Context, userID uuid.UUID, id int64) (*model.Generation, error) {
	g, err := s.generations.GetForUser(ctx, id, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting generation: %w", err)
	}
	return g, nil
}

func (s *Generations) List(ctx context.Context, userID uuid.UUID, filter ListFilter) (*GenerationPage, error) {
	f, err := buildFilter(filter)
	if err != nil {
		return nil, err
	}
	f.UserID = &userID
	return s.list(ctx, f)
}

// ListAll lists across users; admin only.
func (s *Generations) ListAll(ctx context.Context, filter ListFilter) (*GenerationPage, error) {
	f, err := buildFilter(filter)
	if err != nil {
		return nil, err
	}
	return s.list(ctx, f)
}

func (s *Generations) list(ctx context.Context, f store.GenerationFilter) (*GenerationPage, error) {
	items, err := s.generations.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("listing generations: %w", err)
	}
	page := &GenerationPage{Items: items}
	if len(items) == f.Limit {
		page.NextCursor = items[len(items)-1].ID
	}
	return page, nil
}

func buildFilter(filter ListFilter) (store.GenerationFilter, error) {
	f := store.GenerationFilter{
		WorkspaceID: filter.WorkspaceID,
		ProjectID:   filter.ProjectID,
		Search:      strings.TrimSpace(filter.Search),
		Cursor:      filter.Cursor,
		Limit:       pageLimit(filter.Limit),
	}

	if filter.Status != "" {
		status := model.GenerationStatus(filter.Status)
		if !status.Valid() {
			return f, invalid("status", "is not a valid status")
		}
		f.Statuses = []model.GenerationStatus{status}
	}
	if filter.Provider != "" {
		p := model.Provider(filter.Provider)
		if !p.Valid() {
			return f, invalid("provider", "is not a valid provider")
		}
		f.Provider = &p
	}
	if filter.MediaType != "" {
		mt := model.MediaType(filter.MediaType)
		if !mt.Valid() {
			return f, invalid("media_type", "is not a valid media type")
		}
		f.MediaType = &mt
	}
	if filter.Cursor < 0 {
		return f, invalid("cursor", "must not be negative")
	}
	if utf8.RuneCountInString(f.Search) > 200 {
		return f, invalid("search", "is too long")
	}
	return f, nil
}

func (s *Generations) Cancel(ctx context.Context, userID uuid.UUID, id int64) (*model.Generation, error) {
	g, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	ctx = withGenerationFields(ctx, g)

	// a pending row can be claimed by a worker between our read and write; look once more
	for range 2 {
		switch g.Status {
		case model.GenerationStatusPending:
			ok, updated, err := s.generations.Transition(ctx, g.ID,
				[]model.GenerationStatus{model.GenerationStatusPending}, model.GenerationStatusCancelled,
				store.GenerationPatch{})
			if err != nil {
				return nil, fmt.Errorf("cancelling generation: %w", err)
			}
			if ok {
				s.publish(ctx, updated)
				return updated, nil
			}
		case model.GenerationStatusProcessing:
			return s.cancelProcessing(ctx, g)
		default:
			return nil, ErrInvalidTransition
		}

		if g, err = s.generations.GetByID(ctx, id); err != nil {
			return nil, fmt.Errorf("reloading generation: %w", err)
		}
	}
	return nil, ErrInvalidTransition
}

func (s *Generations) cancelProcessing(ctx context.Context, g *model.Generation) (*model.Generation, error) {
	s.cancelUpstream(ctx, g)

	ok, updated, err := s.generations.Transition(ctx, g.ID,
		[]model.GenerationStatus{model.GenerationStatusProcessing}, model.GenerationStatusCancelled,
		store.GenerationPatch{})
	if err != nil {
		return nil, fmt.Errorf("cancelling generation: %w", err)
	}
	if !ok {
		return nil, ErrInvalidTransition
	}

	slog.InfoContext(ctx, "generation cancelled")
	s.publish(ctx, updated)
	return updated, nil
}

// cancelUpstream asks the provider to stop the job. Failures are logged only:
// the row is cancelled locally either way and late results are ignored.
func (s *Generations) cancelUpstream(ctx context.Context, g *model.Generation) {
	if !g.HasJob() {
		return
	}
	p, err := s.providers.Get(g.Provider)
	if err != nil {
		slog.WarnContext(ctx, "no provider for upstream cancel", "error", err)
		return
	}
	if err := p.Cancel(ctx, jobRef(g)); err != nil {
		if errors.Is(err, provider.ErrCancelUnsupported) {
			slog.InfoContext(ctx, "provider cannot cancel upstream job", "error", err)
			return
		}
		slog.WarnContext(ctx, "upstream cancel failed", "error", err)
	}
}

func (s *Generations) Retry(ctx context.Context, userID uuid.UUID, id int64) (*model.Generation, error) {
	g, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	return s.retry(ctx, g)
}

// RetryAny retries regardless of owner; admin only. The retry limit still applies.
func (s *Generations) RetryAny(ctx context.Context, id int64) (*model.Generation, error) {
	g, err := s.generations.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting generation: %w", err)
	}
	return s.retry(ctx, g)
}

func (s *Generations) retry(ctx context.Context, g *model.Generation) (*model.Generation, error) {
	ctx = withGenerationFields(ctx, g)

	if g.Status != model.GenerationStatusFailed && g.Status != model.GenerationStatusCancelled {
		return nil, ErrInvalidTransition
	}
	if g.Status == model.GenerationStatusFailed && g.Category() == errclass.NSFW {
		return nil, ErrNotRetryable
	}
	if g.RetryCount >= s.cfg.Limits.MaxRetries {
		return nil, ErrRetryLimit
	}
	if s.cfg.Limits.MaxInFlight > 0 {
		active, err := s.generations.CountActive(ctx, g.UserID)
		if err != nil {
			return nil, fmt.Errorf("counting active generations: %w", err)
		}
		if active >= int64(s.cfg.Limits.MaxInFlight) {
			return nil, ErrInFlightLimit
		}
	}

	updated, err := s.requeue(ctx, g)
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "generation retried", "retry_count", updated.RetryCount)
	return updated, nil
}

// requeue moves a failed or cancelled row back to pending and enqueues a dispatch.
func (s *Generations) requeue(ctx context.Context, g *model.Generation) (*model.Generation, error) {
	ok, updated, err := s.generations.Transition(ctx, g.ID,
		[]model.GenerationStatus{model.GenerationStatusFailed, model.GenerationStatusCancelled},
		model.GenerationStatusPending,
		store.GenerationPatch{ResetForRetry: true, IncrementRetry: true})
	if err != nil {
		return nil, fmt.Errorf("resetting generation: %w", err)
	}
	if !ok {
		return nil, ErrInvalidTransition
	}

	if err := s.enqueue(ctx, queue.TaskTypeDispatch, updated); err != nil {
		// the row stays pending; the janitor times it out if nothing picks it up
		return nil, fmt.Errorf("enqueueing dispatch: %w", err)
	}

	s.publish(ctx, updated)
	return updated, nil
}

func (s *Generations) SyncStatus(ctx context.Context, userID uuid.UUID, id int64) (*model.Generation, error) {
	g, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	ctx = withGenerationFields(ctx, g)

	synced, err := s.syncJob(ctx, g)
	if err != nil {
		slog.WarnContext(ctx, "status sync failed", "error", err)
		return g, nil
	}
	return synced, nil
}

func (s *Generations) Delete(ctx context.Context, userID uuid.UUID, id int64) error {
	g, err := s.Get(ctx, userID, id)
	if err != nil {
		return err
	}
	if !g.Status.IsTerminal() {
		return ErrInvalidTransition
	}
	return s.remove(withGenerationFields(ctx, g), g)
}

// remove deletes stored media, then the row, as long as it is still terminal.
func (s *Generations) remove(ctx context.Context, g *model.Generation) error {
	if len(g.StoragePaths) > 0 {
		if err := s.media.Delete(ctx, g.StoragePaths...); err != nil {
			return fmt.Errorf("deleting media: %w", err)
		}
	}

	ok, err := s.generations.Delete(ctx, g.ID, []model.GenerationStatus{
		model.GenerationStatusCompleted, model.GenerationStatusFailed, model.GenerationStatusCancelled,
	})
	if err != nil {
		return fmt.Errorf("deleting generation: %w", err)
	}
	if !ok {
		return ErrInvalidTransition
	}

	slog.InfoContext(ctx, "generation deleted", "objects", len(g.StoragePaths))
	return nil
}

func (s *Generations) enqueue(ctx context.Context, taskType queue.TaskType, g *model.Generation) error {
	task := queue.Task{
		TaskType:     taskType,
		GenerationID: g.ID,
		UserID:       g.UserID,
		Attempt:      1,
	}
	if traceID := logger.TraceIDFromContext(ctx); traceID != "" {
		task.TraceID = &traceID
	}
	return s.producer.Enqueue(ctx, task)
}

// publish pushes the row's state to the owner's status stream. Best-effort.
func (s *Generations) publish(ctx context.Context, g *model.Generation) {
	if s.status == nil || g == nil {
		return
	}
	event := queue.StatusEvent{
		GenerationID: g.ID,
		Status:       string(g.Status),
		OutputURLs:   g.OutputURLs,
	}
	if g.Status == model.GenerationStatusFailed {
		event.ErrorCategory = string(g.Category())
	}
	if err := s.status.Publish(ctx, g.UserID, event); err != nil {
		slog.WarnContext(ctx, "failed to publish status", "error", err, "status", g.Status)
	}
}

func jobRef(g *model.Generation) provider.JobRef {
	ref := provider.JobRef{
		GenerationID: g.ID,
		Model:        g.ProviderModel,
		Meta:         g.ProviderMeta,
	}
	if g.ProviderJobID != nil {
		ref.ID = *g.ProviderJobID
	}
	return ref
}

func withGenerationFields(ctx context.Context, g *model.Generation) context.Context {
	return logger.WithLogFields(ctx, logger.LogFields{
		GenerationID: &g.ID,
		UserID:       logger.Ptr(g.UserID.String()),
		Provider:     logger.Ptr(string(g.Provider)),
	})
}
