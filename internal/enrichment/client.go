// Package enrichment provides the HTTP client for the firmographic data
// collaborator. The provider speaks a Clearbit-style combined person/company
// API keyed by email. Enrichment is best-effort for the pipeline: a missing
// credential disables the client entirely and the caller proceeds without
// attributes.
package enrichment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/gate"
	"leadflow_backend/platform/logger"

	"golang.org/x/time/rate"
)

const (
	combinedFindPath   = "/v2/combined/find"
	defaultHTTPTimeout = 10 * time.Second
)

// FlexNumber handles JSON values that can be either string or number. The
// provider is inconsistent about numeric fields, especially revenue.
type FlexNumber float64

func (f *FlexNumber) UnmarshalJSON(data []byte) error {
	// Try as number first
	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		*f = FlexNumber(num)
		return nil
	}
	// Try as string
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		if str == "" {
			*f = 0
			return nil
		}
		parsed, err := strconv.ParseFloat(str, 64)
		if err != nil {
			return err
		}
		*f = FlexNumber(parsed)
		return nil
	}
	return fmt.Errorf("cannot unmarshal %s into FlexNumber", string(data))
}

// Attributes are the firmographic fields merged into a lead after a
// successful lookup. Pointer fields distinguish "absent" from zero.
type Attributes struct {
	Revenue      *float64
	Headcount    *int
	Industry     string
	FundingStage string
	CompanyName  string
	Title        string
	Seniority    string
}

// Empty reports whether the lookup produced no usable attributes.
func (a Attributes) Empty() bool {
	return a.Revenue == nil && a.Headcount == nil && a.Industry == "" &&
		a.FundingStage == "" && a.CompanyName == "" && a.Title == "" && a.Seniority == ""
}

type combinedResponse struct {
	Person  *personRecord  `json:"person"`
	Company *companyRecord `json:"company"`
}

type personRecord struct {
	Name struct {
		FullName string `json:"fullName"`
	} `json:"name"`
	Title     string `json:"title"`
	Seniority string `json:"seniority"`
}

type companyRecord struct {
	Name     string `json:"name"`
	Category struct {
		Industry string `json:"industry"`
	} `json:"category"`
	Metrics struct {
		Employees     *FlexNumber `json:"employees"`
		AnnualRevenue *FlexNumber `json:"annualRevenue"`
		Raised        *FlexNumber `json:"raised"`
	} `json:"metrics"`
	FundingStage string `json:"fundingStage"`
}

// Client handles enrichment provider requests.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	timeout    time.Duration
	limiter    *rate.Limiter
	gate       *gate.Gate
	log        *logger.Logger
}

// New creates an enrichment client. With an empty API key the client reports
// itself disabled and Lookup must not be called.
func New(cfg config.EnrichmentConfig, g *gate.Gate, log *logger.Logger) *Client {
	timeout := cfg.GetEnrichmentTimeout()
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}

	rps := cfg.GetEnrichmentRPS()
	if rps <= 0 {
		rps = 1
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(cfg.GetEnrichmentBaseURL(), "/"),
		apiKey:     cfg.GetEnrichmentAPIKey(),
		timeout:    timeout,
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
		gate:       g,
		log:        log,
	}
}

// Enabled reports whether a credential is configured.
func (c *Client) Enabled() bool {
	return c.apiKey != ""
}

// Lookup fetches firmographic attributes for the given email. A person the
// provider does not know yields a not-found error; the pipeline treats that
// as a skip and proceeds unenriched.
func (c *Client) Lookup(ctx context.Context, email string) (Attributes, error) {
	if !c.Enabled() {
		return Attributes{}, apperr.Internal("enrichment client called without credential")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return Attributes{}, err
	}

	var payload combinedResponse
	err := c.gate.Do(ctx, c.timeout, func(ctx context.Context) error {
		return c.fetchCombined(ctx, email, &payload)
	})
	if err != nil {
		return Attributes{}, err
	}

	return toAttributes(payload), nil
}

func (c *Client) fetchCombined(ctx context.Context, email string, payload *combinedResponse) error {
	params := url.Values{}
	params.Set("email", email)

	reqURL := fmt.Sprintf("%s%s?%s", c.baseURL, combinedFindPath, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return apperr.Wrap(apperr.KindCollaboratorTimeout, "enrichment request timed out", err)
		}
		c.log.Error("enrichment request failed", "error", err)
		return apperr.Wrap(apperr.KindCollaboratorUnavailable, "enrichment request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return apperr.NotFound("no enrichment record for email")
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		c.log.Error("enrichment auth rejected", "status", resp.StatusCode)
		return apperr.CollaboratorUnavailable("enrichment credential rejected")
	case resp.StatusCode == http.StatusTooManyRequests:
		return apperr.CollaboratorUnavailable("enrichment rate limited")
	case resp.StatusCode >= 500:
		c.log.Error("enrichment request error", "status", resp.StatusCode)
		return apperr.CollaboratorUnavailable(fmt.Sprintf("enrichment status %d", resp.StatusCode))
	default:
		return apperr.Internal(fmt.Sprintf("enrichment status %d", resp.StatusCode))
	}

	if err := json.NewDecoder(resp.Body).Decode(payload); err != nil {
		c.log.Error("enrichment decode failed", "error", err)
		return apperr.Wrap(apperr.KindCollaboratorUnavailable, "enrichment response malformed", err)
	}

	return nil
}

func toAttributes(payload combinedResponse) Attributes {
	var attrs Attributes

	if p := payload.Person; p != nil {
		attrs.Title = strings.TrimSpace(p.Title)
		attrs.Seniority = strings.TrimSpace(p.Seniority)
	}

	if co := payload.Company; co != nil {
		attrs.CompanyName = strings.TrimSpace(co.Name)
		attrs.Industry = strings.TrimSpace(co.Category.Industry)
		attrs.FundingStage = strings.TrimSpace(co.FundingStage)
		attrs.Revenue = toFloat64Ptr(co.Metrics.AnnualRevenue)
		attrs.Headcount = toIntPtr(co.Metrics.Employees)
	}

	return attrs
}

func toFloat64Ptr(value *FlexNumber) *float64 {
	if value == nil {
		return nil
	}
	f := float64(*value)
	return &f
}

func toIntPtr(value *FlexNumber) *int {
	if value == nil {
		return nil
	}
	i := int(*value)
	return &i
}
