package leads

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"leadflow_backend/internal/calendar"
	"leadflow_backend/internal/enrichment"
	"leadflow_backend/internal/events"
	"leadflow_backend/internal/handoff"
	apphttp "leadflow_backend/internal/http"
	"leadflow_backend/internal/leads/handler"
	"leadflow_backend/internal/leads/normalize"
	"leadflow_backend/internal/leads/repository"
	"leadflow_backend/internal/leads/scheduling"
	"leadflow_backend/internal/leads/scoring"
	"leadflow_backend/internal/reasoning"
	"leadflow_backend/internal/rules"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/gate"
	"leadflow_backend/platform/logger"
	"leadflow_backend/platform/validator"
)

// Module is the leads bounded context module implementing http.Module.
type Module struct {
	handler      *handler.Handler
	orchestrator *Orchestrator
	repo         *repository.Repository
}

// NewModule creates and initializes the leads module with all its
// dependencies. rdb may be nil when Redis is not configured; the scheduling
// replay guard degrades gracefully.
func NewModule(ctx context.Context, pool *pgxpool.Pool, rdb *redis.Client, rulesStore *rules.Store, eventBus events.Bus, val *validator.Validator, cfg *config.Config, log *logger.Logger) (*Module, error) {
	// Shared repository and the outbound-call gate. Every collaborator
	// client draws from the same in-flight budget.
	repo := repository.New(pool)
	collabGate := gate.New(cfg.CollaboratorMaxInFlight)

	engine, err := reasoning.NewGeminiEngine(ctx, cfg, collabGate, log)
	if err != nil {
		return nil, err
	}

	// Stage collaborators
	normalizer := normalize.New(engine, cfg, log)
	scorer := scoring.New(engine, cfg, log)
	enricher := enrichment.New(cfg, collabGate, log)
	cal := calendar.New(cfg, collabGate, log)
	booker := scheduling.New(cal, rdb, cfg, cfg, log)
	handoffs := handoff.NewRepository(pool)

	orch := NewOrchestrator(repo, normalizer, enricher, scorer, booker, handoffs, rulesStore, eventBus, cfg, log)

	h := handler.New(orch, repo, val)

	return &Module{
		handler:      h,
		orchestrator: orch,
		repo:         repo,
	}, nil
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "leads"
}

// Orchestrator returns the pipeline orchestrator for lifecycle management
// (startup resume, shutdown drain).
func (m *Module) Orchestrator() *Orchestrator {
	return m.orchestrator
}

// Repository returns the leads repository for external use.
func (m *Module) Repository() *repository.Repository {
	return m.repo
}

// RegisterRoutes mounts leads routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	// Intake is guarded by the per-IP rate limit and the shared webhook
	// secret; inspection endpoints are open within the API surface.
	webhookGroup := ctx.V1.Group("/webhook")
	webhookGroup.Use(ctx.WebhookRateLimiter.RateLimit())
	webhookGroup.Use(ctx.WebhookAuth)
	m.handler.RegisterWebhookRoutes(webhookGroup)

	leadsGroup := ctx.V1.Group("/leads")
	m.handler.RegisterRoutes(leadsGroup)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
