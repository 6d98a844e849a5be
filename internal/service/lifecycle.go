package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"lumen.app/studio/common/logger"
	"lumen.app/studio/internal/errclass"
	"lumen.app/studio/internal/model"
	"lumen.app/studio/internal/provider"
	"lumen.app/studio/internal/queue"
	"lumen.app/studio/internal/store"
)

const maxStoredErrorLen = 2000

// storedOutput is what provider_output holds between a successful job and Persist.
type storedOutput struct {
	URLs []string        `json:"urls"`
	Raw  json.RawMessage `json:"raw,omitempty"`
}

// Dispatch claims a pending generation and submits it upstream.
// A returned error asks the queue to retry; permanent failures are recorded on the row instead.
func (s *Generations) Dispatch(ctx context.Context, id int64) error {
	g, err := s.generations.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			slog.InfoContext(ctx, "dispatch for deleted generation, skipping")
			return nil
		}
		return fmt.Errorf("loading generation: %w", err)
	}
	ctx = withGenerationFields(ctx, g)

	if g.Status != model.GenerationStatusPending {
		slog.InfoContext(ctx, "generation not pending, skipping dispatch", "status", g.Status)
		return nil
	}

	ok, claimed, err := s.generations.Transition(ctx, g.ID,
		[]model.GenerationStatus{model.GenerationStatusPending}, model.GenerationStatusProcessing,
		store.GenerationPatch{IncrementDispatch: true, MarkStarted: true, ClearError: true})
	if err != nil {
		return fmt.Errorf("claiming generation: %w", err)
	}
	if !ok {
		slog.InfoContext(ctx, "generation claimed elsewhere, skipping dispatch")
		return nil
	}
	s.publish(ctx, claimed)

	spec, found := model.LookupModel(claimed.Model)
	if !found {
		return s.fail(ctx, claimed, "invalid model: no longer in catalog", false)
	}

	p, err := s.providers.Get(claimed.Provider)
	if err != nil {
		return s.fail(ctx, claimed, "provider unavailable: not configured", false)
	}

	req := provider.SubmitRequest{
		GenerationID: claimed.ID,
		Model:        spec.ProviderModel,
		Version:      spec.Version,
		MediaType:    claimed.MediaType,
		Prompt:       claimed.Prompt,
		Params:       claimed.Params,
	}
	if claimed.NegativePrompt != nil {
		req.NegativePrompt = *claimed.NegativePrompt
	}
	if spec.SupportsWebhook && s.cfg.Webhook.BaseURL != "" && s.cfg.Webhook.Secret != "" {
		req.WebhookURL = provider.CallbackURL(s.cfg.Webhook.BaseURL, s.cfg.Webhook.Secret, claimed.Provider, claimed.ID)
	}

	job, err := p.Submit(ctx, req)
	if err != nil {
		return s.handleSubmitError(ctx, claimed, err)
	}

	ok, submitted, err := s.generations.Update(ctx, claimed.ID, model.GenerationStatusProcessing,
		store.GenerationPatch{ProviderJobID: &job.ID, ProviderMeta: job.Meta, MarkPolled: true})
	if err != nil {
		// the job is running upstream; a retried dispatch would skip (not pending) so this row
		// would only recover through the janitor
		return fmt.Errorf("storing job id: %w", err)
	}
	if !ok {
		slog.InfoContext(ctx, "generation left processing during submit, cancelling upstream job")
		s.cancelUpstream(ctx, &model.Generation{
			ID: claimed.ID, Provider: claimed.Provider, ProviderModel: claimed.ProviderModel,
			ProviderJobID: &job.ID, ProviderMeta: job.Meta,
		})
		return nil
	}

	slog.InfoContext(ctx, "generation submitted",
		"provider_job_id", job.ID,
		"state", job.State,
		"dispatch_attempt", submitted.DispatchAttempts)

	if job.State.Done() || len(job.Inline) > 0 {
		_, err := s.applyJob(ctx, submitted, job)
		return err
	}
	return nil
}

func (s *Generations) handleSubmitError(ctx context.Context, g *model.Generation, submitErr error) error {
	category := errclass.ClassifyError(submitErr)
	slog.WarnContext(ctx, "provider submit failed",
		"error", submitErr,
		"category", category,
		"dispatch_attempt", g.DispatchAttempts)

	if category.Retryable() && g.DispatchAttempts < s.cfg.Limits.MaxDispatchAttempts {
		msg := logger.Truncate(submitErr.Error(), maxStoredErrorLen)
		ok, back, err := s.generations.Transition(ctx, g.ID,
			[]model.GenerationStatus{model.GenerationStatusProcessing}, model.GenerationStatusPending,
			store.GenerationPatch{ErrorMessage: &msg, ErrorCategory: &category})
		if err != nil {
			return fmt.Errorf("returning generation to pending: %w", err)
		}
		if ok {
			s.publish(ctx, back)
		}
		return fmt.Errorf("submitting to %s: %w", g.Provider, submitErr)
	}

	return s.fail(ctx, g, submitErr.Error(), true)
}

// Sync polls the provider for a processing generation. Provider errors are logged and
// the row is marked polled so the poller backs off; they never fail the task.
func (s *Generations) Sync(ctx context.Context, id int64) error {
	g, err := s.generations.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("loading generation: %w", err)
	}
	ctx = withGenerationFields(ctx, g)

	synced, err := s.syncJob(ctx, g)
	if err != nil {
		slog.WarnContext(ctx, "status sync failed", "error", err)
		return s.markPolled(ctx, g)
	}
	if synced.Status == model.GenerationStatusProcessing && synced.ProviderMeta["mode"] == "sync" {
		// nothing upstream to ask; keep the poller from picking it again
		return s.markPolled(ctx, synced)
	}
	return nil
}

func (s *Generations) markPolled(ctx context.Context, g *model.Generation) error {
	if _, _, err := s.generations.Update(ctx, g.ID, model.GenerationStatusProcessing,
		store.GenerationPatch{MarkPolled: true}); err != nil {
		return fmt.Errorf("marking generation polled: %w", err)
	}
	return nil
}

func (s *Generations) dropObjects(ctx context.Context, objects []store.Object) {
	if len(objects) == 0 {
		return
	}
	keys := make([]string, len(objects))
	for i, obj := range objects {
		keys[i] = obj.Key
	}
	if err := s.media.Delete(ctx, keys...); err != nil {
		slog.WarnContext(ctx, "failed to delete partial outputs", "error", err)
	}
}

// syncJob queries the provider and applies the result. Rows that are not processing
// with a job id are returned unchanged.
func (s *Generations) syncJob(ctx context.Context, g *model.Generation) (*model.Generation, error) {
	if g.Status != model.GenerationStatusProcessing || !g.HasJob() {
		return g, nil
	}
	if g.ProviderMeta["mode"] == "sync" {
		// synchronous submit already delivered the result; nothing to poll
		return g, nil
	}

	p, err := s.providers.Get(g.Provider)
	if err != nil {
		return g, err
	}
	job, err := p.Status(ctx, jobRef(g))
	if err != nil {
		return g, fmt.Errorf("querying %s: %w", g.Provider, err)
	}
	return s.applyJob(ctx, g, job)
}

// ApplyJobUpdate applies a webhook-delivered job to generation id.
// Late or duplicate deliveries are no-ops and return the current row.
func (s *Generations) ApplyJobUpdate(ctx context.Context, id int64, job *provider.Job) (*model.Generation, error) {
	g, err := s.generations.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("loading generation: %w", err)
	}
	ctx = withGenerationFields(ctx, g)

	if g.HasJob() && job.ID != "" && job.ID != *g.ProviderJobID {
		slog.WarnContext(ctx, "job update for a different upstream job, ignoring",
			"provider_job_id", *g.ProviderJobID,
			"update_job_id", job.ID)
		return g, nil
	}
	return s.applyJob(ctx, g, job)
}

func (s *Generations) applyJob(ctx context.Context, g *model.Generation, job *provider.Job) (*model.Generation, error) {
	if g.Status != model.GenerationStatusProcessing {
		slog.DebugContext(ctx, "job update for non-processing generation ignored", "status", g.Status, "state", job.State)
		return g, nil
	}

	switch job.State {
	case provider.JobSucceeded:
		return s.acceptOutput(ctx, g, job)

	case provider.JobFailed:
		msg := job.Error
		if msg == "" {
			msg = "provider reported failure"
		}
		if err := s.fail(ctx, g, msg, true); err != nil {
			return g, err
		}
		return s.reload(ctx, g)

	case provider.JobCancelled:
		ok, updated, err := s.generations.Transition(ctx, g.ID,
			[]model.GenerationStatus{model.GenerationStatusProcessing}, model.GenerationStatusCancelled,
			store.GenerationPatch{})
		if err != nil {
			return g, fmt.Errorf("marking generation cancelled: %w", err)
		}
		if !ok {
			return s.reload(ctx, g)
		}
		s.publish(ctx, updated)
		return updated, nil

	default:
		ok, updated, err := s.generations.Update(ctx, g.ID, model.GenerationStatusProcessing,
			store.GenerationPatch{MarkPolled: true})
		if err != nil {
			return g, fmt.Errorf("marking generation polled: %w", err)
		}
		if !ok {
			return s.reload(ctx, g)
		}
		return updated, nil
	}
}

// acceptOutput stores inline media right away; URL outputs are recorded and handed to a persist task.
func (s *Generations) acceptOutput(ctx context.Context, g *model.Generation, job *provider.Job) (*model.Generation, error) {
	if len(job.Inline) > 0 {
		objects := make([]store.Object, 0, len(job.Inline))
		for i, media := range job.Inline {
			key := store.ObjectKey(g.UserID, g.ID, i, store.ExtensionFor(media.MIMEType, ""))
			obj, err := s.media.Put(ctx, key, media.MIMEType, bytes.NewReader(media.Data))
			if err != nil {
				// inline bytes exist only in this call, a queue retry could not recover them
				s.dropObjects(ctx, objects)
				if failErr := s.fail(ctx, g, fmt.Sprintf("storing inline output %d: %v", i, err), true); failErr != nil {
					return g, failErr
				}
				return s.reload(ctx, g)
			}
			objects = append(objects, obj)
		}
		return s.complete(ctx, g, objects)
	}

	if len(job.OutputURLs) == 0 {
		if err := s.fail(ctx, g, "provider returned no output", false); err != nil {
			return g, err
		}
		return s.reload(ctx, g)
	}

	raw, err := json.Marshal(storedOutput{URLs: job.OutputURLs, Raw: job.Output})
	if err != nil {
		return g, fmt.Errorf("encoding provider output: %w", err)
	}
	ok, updated, err := s.generations.Update(ctx, g.ID, model.GenerationStatusProcessing,
		store.GenerationPatch{ProviderOutput: raw, MarkPolled: true})
	if err != nil {
		return g, fmt.Errorf("storing provider output: %w", err)
	}
	if !ok {
		return s.reload(ctx, g)
	}

	if err := s.enqueue(ctx, queue.TaskTypePersist, updated); err != nil {
		return updated, fmt.Errorf("enqueueing persist: %w", err)
	}
	return updated, nil
}

// Persist copies provider output URLs into media storage and completes the generation.
// Object keys are deterministic, so a repeated run overwrites rather than duplicates.
func (s *Generations) Persist(ctx context.Context, id int64) error {
	g, err := s.generations.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("loading generation: %w", err)
	}
	ctx = withGenerationFields(ctx, g)

	if g.Status != model.GenerationStatusProcessing {
		slog.InfoContext(ctx, "generation not processing, skipping persist", "status", g.Status)
		return nil
	}

	var out storedOutput
	if len(g.ProviderOutput) == 0 || json.Unmarshal(g.ProviderOutput, &out) != nil || len(out.URLs) == 0 {
		slog.WarnContext(ctx, "persist without provider output, skipping")
		return nil
	}

	objects := make([]store.Object, 0, len(out.URLs))
	for i, u := range out.URLs {
		obj, err := s.storeURL(ctx, g, i, u)
		if err != nil {
			return fmt.Errorf("storing output %d: %w", i, err)
		}
		objects = append(objects, obj)
	}

	_, err = s.complete(ctx, g, objects)
	return err
}

func (s *Generations) storeURL(ctx context.Context, g *model.Generation, index int, rawURL string) (store.Object, error) {
	body, contentType, err := s.download(ctx, g.Provider, rawURL)
	if err != nil {
		return store.Object{}, err
	}
	defer body.Close()

	key := store.ObjectKey(g.UserID, g.ID, index, store.ExtensionFor(contentType, rawURL))
	return s.media.Put(ctx, key, contentType, io.LimitReader(body, s.cfg.MaxDownloadBytes+1))
}

// download fetches an output, using the provider's credentials when it needs them.
func (s *Generations) download(ctx context.Context, name model.Provider, rawURL string) (io.ReadCloser, string, error) {
	if fetcher, ok := s.providers.MediaFetcher(name); ok {
		return fetcher.Fetch(ctx, rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("creating download request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("downloading output: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, "", &provider.APIError{StatusCode: resp.StatusCode}
	}
	return resp.Body, resp.Header.Get("Content-Type"), nil
}

// complete marks the generation completed with its stored objects and notifies the owner.
func (s *Generations) complete(ctx context.Context, g *model.Generation, objects []store.Object) (*model.Generation, error) {
	urls := make([]string, len(objects))
	paths := make([]string, len(objects))
	for i, obj := range objects {
		urls[i] = obj.URL
		paths[i] = obj.Key
	}

	var completed *model.Generation
	err := s.tx.WithTx(ctx, func(ctx context.Context, sp StoreProvider) error {
		ok, updated, err := sp.Generations().Transition(ctx, g.ID,
			[]model.GenerationStatus{model.GenerationStatusProcessing}, model.GenerationStatusCompleted,
			store.GenerationPatch{OutputURLs: urls, StoragePaths: paths, MarkCompleted: true, ClearError: true})
		if err != nil {
			return fmt.Errorf("completing generation: %w", err)
		}
		if !ok {
			return nil
		}
		completed = updated
		if _, err := sp.Notifications().Insert(ctx, generationNotification(updated)); err != nil {
			return fmt.Errorf("creating notification: %w", err)
		}
		return nil
	})
	if err != nil {
		return g, err
	}

	if completed == nil {
		current, err := s.reload(ctx, g)
		if err != nil {
			return g, err
		}
		if current.Status != model.GenerationStatusCompleted {
			// cancelled or failed while we were copying; drop the orphaned objects
			if delErr := s.media.Delete(ctx, paths...); delErr != nil {
				slog.WarnContext(ctx, "failed to delete orphaned outputs", "error", delErr)
			}
		}
		return current, nil
	}

	slog.InfoContext(ctx, "generation completed", "outputs", len(objects))
	s.publish(ctx, completed)
	return completed, nil
}

// fail records a classified failure on a non-terminal generation and notifies the owner.
// With autoRetry, retryable categories go back to pending while the auto retry budget lasts.
func (s *Generations) fail(ctx context.Context, g *model.Generation, message string, autoRetry bool) error {
	category := errclass.Classify(message)
	msg := logger.Truncate(message, maxStoredErrorLen)
	retrying := autoRetry && category.Retryable() && g.RetryCount < s.cfg.Limits.MaxAutoRetries

	var failed *model.Generation
	err := s.tx.WithTx(ctx, func(ctx context.Context, sp StoreProvider) error {
		ok, updated, err := sp.Generations().Transition(ctx, g.ID,
			[]model.GenerationStatus{model.GenerationStatusPending, model.GenerationStatusProcessing},
			model.GenerationStatusFailed,
			store.GenerationPatch{ErrorMessage: &msg, ErrorCategory: &category})
		if err != nil {
			return fmt.Errorf("marking generation failed: %w", err)
		}
		if !ok {
			return nil
		}
		failed = updated
		if retrying {
			return nil
		}
		if _, err := sp.Notifications().Insert(ctx, generationNotification(updated)); err != nil {
			return fmt.Errorf("creating notification: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if failed == nil {
		slog.InfoContext(ctx, "generation already terminal, failure not recorded")
		return nil
	}

	slog.WarnContext(ctx, "generation failed",
		"category", category,
		"error", msg,
		"auto_retry", retrying)

	if retrying {
		if _, err := s.requeue(ctx, failed); err != nil {
			slog.ErrorContext(ctx, "auto retry failed", "error", err)
			s.publish(ctx, failed)
		}
		return nil
	}

	s.publish(ctx, failed)
	return nil
}

func (s *Generations) Abandon(ctx context.Context, id int64, cause error) error {
	g, err := s.generations.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("loading generation: %w", err)
	}
	if g.Status.IsTerminal() {
		return nil
	}
	ctx = withGenerationFields(ctx, g)

	msg := "processing failed"
	if cause != nil {
		msg = cause.Error()
	}
	return s.fail(ctx, g, msg, false)
}

func (s *Generations) reload(ctx context.Context, g *model.Generation) (*model.Generation, error) {
	current, err := s.generations.GetByID(ctx, g.ID)
	if err != nil {
		return g, fmt.Errorf("reloading generation: %w", err)
	}
	return current, nil
}
