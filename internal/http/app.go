// Package http wires domain modules into the API server. Modules register
// their own routes; the router only knows the Module interface.
package http

import (
	"context"

	"leadflow_backend/internal/events"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"
)

// RouterConfig is the slice of configuration the router needs: bind address,
// CORS origins, rate limits, and the shared webhook secret.
type RouterConfig interface {
	config.HTTPConfig
	config.WebhookConfig
}

// HealthChecker is what the readiness endpoint probes, in practice the
// database pool.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// App carries the dependencies assembled in main and hands them to the
// router. Everything is constructed before the first request is served.
type App struct {
	Config   RouterConfig
	Logger   *logger.Logger
	Health   HealthChecker
	EventBus events.Bus
	Modules  []Module
}
