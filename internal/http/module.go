package http

import (
	"github.com/gin-gonic/gin"

	"leadflow_backend/platform/httpkit"
)

// Module is a bounded context that mounts its own HTTP routes. The router
// stays ignorant of individual endpoints; each module decides what it
// exposes and under which group.
type Module interface {
	// Name identifies the module in startup logs.
	Name() string
	// RegisterRoutes mounts the module's routes using the shared groups and
	// middleware in the RouterContext.
	RegisterRoutes(ctx *RouterContext)
}

// RouterContext bundles what modules need at registration time so
// RegisterRoutes keeps a single parameter.
type RouterContext struct {
	// Engine is the root Gin engine for modules that need engine-level access.
	Engine *gin.Engine
	// V1 is the /api/v1 route group.
	V1 *gin.RouterGroup
	// Admin is the admin route group under /api/v1/admin.
	Admin *gin.RouterGroup
	// WebhookAuth validates the shared intake secret on webhook routes.
	// It is a no-op when no key is configured.
	WebhookAuth gin.HandlerFunc
	// WebhookRateLimiter throttles the public intake endpoint per client IP.
	WebhookRateLimiter *httpkit.WebhookRateLimiter
}
