package rules

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	apphttp "leadflow_backend/internal/http"
	"leadflow_backend/platform/httpkit"
)

// Module exposes the rules profile over the admin API: inspection of the
// active snapshot and an explicit reload trigger for operators who do not
// want to wait for the file watcher.
type Module struct {
	store *Store
}

func NewModule(store *Store) *Module {
	return &Module{store: store}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "rules"
}

// RegisterRoutes mounts the rules admin routes.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.Admin.GET("/rules", m.getProfile)
	ctx.Admin.POST("/rules/reload", m.reload)
}

type profileResponse struct {
	TargetIndustries []string  `json:"targetIndustries"`
	RevenueMin       float64   `json:"revenueMin"`
	IdealTitles      []string  `json:"idealTitles"`
	ExcludedTitles   []string  `json:"excludedTitles"`
	Version          int       `json:"version"`
	LoadedAt         time.Time `json:"loadedAt"`
}

func toProfileResponse(snap *Snapshot) profileResponse {
	return profileResponse{
		TargetIndustries: snap.TargetIndustries,
		RevenueMin:       snap.RevenueMin,
		IdealTitles:      snap.IdealTitles,
		ExcludedTitles:   snap.ExcludedTitles,
		Version:          snap.Version,
		LoadedAt:         snap.LoadedAt,
	}
}

func (m *Module) getProfile(c *gin.Context) {
	snap := m.store.Snapshot()
	if snap == nil {
		httpkit.Error(c, http.StatusServiceUnavailable, "rules profile not loaded", nil)
		return
	}
	httpkit.OK(c, toProfileResponse(snap))
}

// reload re-reads the profile from disk. A malformed document keeps the
// previous snapshot active and reports the parse failure to the caller.
func (m *Module) reload(c *gin.Context) {
	if err := m.store.Reload(); err != nil {
		httpkit.Error(c, http.StatusUnprocessableEntity, "rules profile rejected", err.Error())
		return
	}
	httpkit.OK(c, toProfileResponse(m.store.Snapshot()))
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
