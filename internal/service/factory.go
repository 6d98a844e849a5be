package service

import (
	"lumen.app/studio/common/llm"
	"lumen.app/studio/core/config"
	"lumen.app/studio/internal/provider"
	"lumen.app/studio/internal/queue"
	"lumen.app/studio/internal/store"
)

// ServiceDeps are the process-wide clients shared by every service.
type ServiceDeps struct {
	Stores    *store.Stores
	Tx        TxRunner
	Providers *provider.Registry
	Media     store.MediaStore
	Producer  queue.Producer
	Status    queue.StatusPublisher
	Limiter   RateLimiter
	LLM       llm.AgentClient // nil disables prompt enhancement
}

type Services struct {
	deps        ServiceDeps
	cfg         config.Config
	generations *Generations
	janitor     Janitor
}

func NewServices(deps ServiceDeps, cfg config.Config) *Services {
	gens := NewGenerations(GenerationDeps{
		Generations: deps.Stores.Generations(),
		Tx:          deps.Tx,
		Providers:   deps.Providers,
		Media:       deps.Media,
		Producer:    deps.Producer,
		Status:      deps.Status,
		Limiter:     deps.Limiter,
		HTTPClient:  provider.NewHTTPClient(cfg.Providers.Timeout),
	}, GenerationConfig{
		Limits:           cfg.Limits,
		Webhook:          cfg.Webhook,
		MaxDownloadBytes: cfg.Storage.MaxObjectBytes,
	})

	return &Services{
		deps:        deps,
		cfg:         cfg,
		generations: gens,
		janitor:     NewJanitor(gens, deps.Stores.APILogs(), cfg.Janitor),
	}
}

func (s *Services) Generations() GenerationService {
	return s.generations
}

func (s *Services) Runner() GenerationRunner {
	return s.generations
}

func (s *Services) Notifications() NotificationService {
	return NewNotificationService(s.deps.Stores.Notifications())
}

func (s *Services) Webhooks() WebhookService {
	return NewWebhookService(s.deps.Providers, s.generations, s.cfg.Webhook, s.cfg.Providers.Replicate)
}

func (s *Services) Janitor() Janitor {
	return s.janitor
}

func (s *Services) Poller() Poller {
	return NewPoller(s.generations, s.cfg.Pipeline.PollAfter, 100)
}

func (s *Services) Admin() AdminService {
	return NewAdminService(s.generations, s.janitor)
}

func (s *Services) Prompts() PromptService {
	return NewPromptService(s.deps.LLM, s.cfg.PromptLLM.MaxTokens)
}
