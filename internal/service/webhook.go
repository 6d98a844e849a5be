package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"lumen.app/studio/common/logger"
	"lumen.app/studio/core/config"
	"lumen.app/studio/internal/model"
	"lumen.app/studio/internal/provider"
)

// WebhookRequest is a provider callback as received by the HTTP layer.
type WebhookRequest struct {
	Provider     string
	GenerationID string
	Token        string
	Header       http.Header
	Body         []byte
}

type WebhookService interface {
	// Handle returns ErrUnauthorized for bad credentials and ErrValidation for
	// payloads that cannot be parsed. Unknown generations are accepted and ignored.
	Handle(ctx context.Context, req WebhookRequest) error
}

type webhookService struct {
	providers       *provider.Registry
	updater         JobUpdater
	secret          string
	replicateSecret string
	now             func() time.Time
}

func NewWebhookService(providers *provider.Registry, updater JobUpdater, webhook config.WebhookConfig, replicate config.ReplicateConfig) WebhookService {
	return &webhookService{
		providers:       providers,
		updater:         updater,
		secret:          webhook.Secret,
		replicateSecret: replicate.WebhookSecret,
		now:             time.Now,
	}
}

func (s *webhookService) Handle(ctx context.Context, req WebhookRequest) error {
	name := model.Provider(req.Provider)
	if !name.Valid() {
		return ErrNotFound
	}
	parser, ok := s.providers.WebhookParser(name)
	if !ok {
		return ErrNotFound
	}

	generationID, err := strconv.ParseInt(req.GenerationID, 10, 64)
	if err != nil || generationID <= 0 {
		return ErrUnauthorized
	}
	if err := provider.VerifyCallbackToken(s.secret, name, generationID, req.Token); err != nil {
		return ErrUnauthorized
	}
	if name == model.ProviderReplicate && s.replicateSecret != "" {
		if err := provider.VerifyReplicateSignature(s.replicateSecret, req.Header, req.Body, s.now()); err != nil {
			slog.WarnContext(ctx, "replicate webhook signature rejected", "error", err)
			return ErrUnauthorized
		}
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		GenerationID: &generationID,
		Provider:     logger.Ptr(string(name)),
		Component:    "studio.webhook",
	})

	job, err := parser.ParseWebhook(req.Body)
	if err != nil {
		slog.WarnContext(ctx, "malformed webhook payload", "error", err)
		return invalid("body", "is not a valid webhook payload")
	}

	g, err := s.updater.ApplyJobUpdate(ctx, generationID, job)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// deleted since submit; ack so the provider stops retrying
			slog.InfoContext(ctx, "webhook for unknown generation ignored")
			return nil
		}
		return fmt.Errorf("applying webhook: %w", err)
	}

	slog.InfoContext(ctx, "webhook applied", "state", job.State, "status", g.Status)
	return nil
}
