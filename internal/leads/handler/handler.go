package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/internal/leads/repository"
	"leadflow_backend/internal/leads/transport"
	"leadflow_backend/platform/httpkit"
	"leadflow_backend/platform/validator"
)

// Pipeline is the slice of the orchestrator the HTTP surface needs.
type Pipeline interface {
	Submit(ctx context.Context, payload map[string]any) (domain.SubmitResult, error)
	Retry(ctx context.Context, leadID uuid.UUID) (repository.Lead, error)
}

// Directory is the read side backing the inspection endpoints.
type Directory interface {
	GetByID(ctx context.Context, id uuid.UUID) (repository.Lead, error)
	List(ctx context.Context, params repository.ListLeadsParams) ([]repository.Lead, error)
	ListStageAttempts(ctx context.Context, leadID uuid.UUID) ([]repository.StageAttempt, error)
	ListTimeline(ctx context.Context, leadID uuid.UUID) ([]repository.TimelineEvent, error)
}

type Handler struct {
	pipeline  Pipeline
	directory Directory
	val       *validator.Validator
}

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
)

func New(pipeline Pipeline, directory Directory, val *validator.Validator) *Handler {
	return &Handler{pipeline: pipeline, directory: directory, val: val}
}

// RegisterWebhookRoutes mounts the intake endpoint. The caller applies the
// shared-secret middleware to the group.
func (h *Handler) RegisterWebhookRoutes(rg *gin.RouterGroup) {
	rg.POST("/leads", h.Submit)
}

// RegisterRoutes mounts the inspection and operator endpoints.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("", h.List)
	rg.GET("/:id", h.GetByID)
	rg.POST("/:id/retry", h.Retry)
}

// Submit ingests one webhook event. The payload is free-form JSON; anything
// beyond the contact fields rides along in raw_payload. Identity and field
// validation belong to the pipeline, so the only rejections here are
// malformed JSON and non-object bodies.
func (h *Handler) Submit(c *gin.Context) {
	var payload map[string]any
	if err := c.ShouldBindJSON(&payload); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if len(payload) == 0 {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, "payload must be a non-empty JSON object")
		return
	}

	result, err := h.pipeline.Submit(c.Request.Context(), payload)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}

	if result.Disposition == domain.DispositionUnchanged {
		httpkit.OK(c, result)
		return
	}
	httpkit.JSON(c, http.StatusAccepted, result)
}

func (h *Handler) GetByID(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}

	lead, err := h.directory.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			httpkit.Error(c, http.StatusNotFound, err.Error(), nil)
			return
		}
		httpkit.HandleError(c, err)
		return
	}

	attempts, err := h.directory.ListStageAttempts(c.Request.Context(), id)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	timeline, err := h.directory.ListTimeline(c.Request.Context(), id)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}

	httpkit.OK(c, transport.ToLeadDetailResponse(lead, attempts, timeline))
}

func (h *Handler) List(c *gin.Context) {
	var req transport.ListLeadsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	items, err := h.directory.List(c.Request.Context(), repository.ListLeadsParams{
		State: req.State,
		Limit: req.Limit,
	})
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}

	httpkit.OK(c, transport.ToLeadListResponse(items))
}

// Retry starts a fresh run for a lead parked in ERRORED, STALE or
// NEEDS_FOLLOWUP. The pipeline refuses anything else with a conflict.
func (h *Handler) Retry(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}

	lead, err := h.pipeline.Retry(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			httpkit.Error(c, http.StatusNotFound, err.Error(), nil)
			return
		}
		httpkit.HandleError(c, err)
		return
	}

	httpkit.JSON(c, http.StatusAccepted, transport.ToLeadResponse(lead))
}
