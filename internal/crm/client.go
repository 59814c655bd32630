// Package crm provides the HTTP client for the downstream sales system that
// receives qualified leads. Delivery is at-least-once via the handoff outbox,
// so every create carries an idempotency key and a 409 from the provider is
// treated as an earlier delivery that already succeeded.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/gate"
	"leadflow_backend/platform/logger"
)

const (
	opportunitiesPath  = "/v1/opportunities"
	defaultHTTPTimeout = 10 * time.Second
)

// Opportunity is the handoff payload for a qualified lead.
type Opportunity struct {
	LeadID       string     `json:"leadId"`
	ContactName  string     `json:"contactName"`
	Email        string     `json:"email"`
	Phone        string     `json:"phone,omitempty"`
	Company      string     `json:"company"`
	Title        string     `json:"title,omitempty"`
	Industry     string     `json:"industry,omitempty"`
	Revenue      *float64   `json:"revenue,omitempty"`
	Headcount    *int       `json:"headcount,omitempty"`
	Score        int        `json:"score"`
	Rationale    string     `json:"rationale,omitempty"`
	MeetingID    string     `json:"meetingId,omitempty"`
	MeetingStart *time.Time `json:"meetingStart,omitempty"`
	Notes        string     `json:"notes,omitempty"`
}

// CreateResult reports the provider-side opportunity. AlreadyDelivered is set
// when the provider recognized the idempotency key from an earlier attempt.
type CreateResult struct {
	OpportunityID    string
	AlreadyDelivered bool
}

type createResponse struct {
	ID string `json:"id"`
}

// Client handles CRM provider requests.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	timeout    time.Duration
	gate       *gate.Gate
	log        *logger.Logger
}

// New creates a CRM client. With an empty API key or base URL the client
// reports itself disabled and handoffs are recorded without delivery.
func New(cfg config.CRMConfig, g *gate.Gate, log *logger.Logger) *Client {
	timeout := cfg.GetCRMTimeout()
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(cfg.GetCRMBaseURL(), "/"),
		apiKey:     cfg.GetCRMAPIKey(),
		timeout:    timeout,
		gate:       g,
		log:        log,
	}
}

// Enabled reports whether the client is configured for delivery.
func (c *Client) Enabled() bool {
	return c.baseURL != "" && c.apiKey != ""
}

// CreateOpportunity delivers a qualified lead to the CRM. The idempotency key
// must be stable across redeliveries of the same handoff record.
func (c *Client) CreateOpportunity(ctx context.Context, opp Opportunity, idempotencyKey string) (CreateResult, error) {
	if !c.Enabled() {
		return CreateResult{}, apperr.Internal("crm client disabled")
	}

	var result CreateResult
	err := c.gate.Do(ctx, c.timeout, func(ctx context.Context) error {
		var innerErr error
		result, innerErr = c.postOpportunity(ctx, opp, idempotencyKey)
		return innerErr
	})
	if err != nil {
		return CreateResult{}, err
	}
	return result, nil
}

func (c *Client) postOpportunity(ctx context.Context, opp Opportunity, idempotencyKey string) (CreateResult, error) {
	data, err := json.Marshal(opp)
	if err != nil {
		return CreateResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+opportunitiesPath, bytes.NewReader(data))
	if err != nil {
		return CreateResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Idempotency-Key", idempotencyKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return CreateResult{}, apperr.Wrap(apperr.KindCollaboratorTimeout, "crm request timed out", err)
		}
		c.log.Error("crm request failed", "error", err)
		return CreateResult{}, apperr.Wrap(apperr.KindCollaboratorUnavailable, "crm request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		var payload createResponse
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			c.log.Error("crm decode failed", "error", err)
			return CreateResult{}, apperr.Wrap(apperr.KindCollaboratorUnavailable, "crm response malformed", err)
		}
		return CreateResult{OpportunityID: payload.ID}, nil
	case resp.StatusCode == http.StatusConflict:
		// Idempotency key seen before: the opportunity already exists.
		var payload createResponse
		_ = json.NewDecoder(resp.Body).Decode(&payload)
		return CreateResult{OpportunityID: payload.ID, AlreadyDelivered: true}, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		c.log.Error("crm auth rejected", "status", resp.StatusCode)
		return CreateResult{}, apperr.CollaboratorUnavailable("crm credential rejected")
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		c.log.Error("crm request error", "status", resp.StatusCode)
		return CreateResult{}, apperr.CollaboratorUnavailable(fmt.Sprintf("crm status %d", resp.StatusCode))
	default:
		return CreateResult{}, apperr.Internal(fmt.Sprintf("crm status %d", resp.StatusCode))
	}
}
