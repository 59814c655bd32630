package crm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/gate"
	"leadflow_backend/platform/logger"
)

const (
	errFmtKind    = "expected kind %v, got %v"
	errFmtUnexpec = "unexpected error: %v"
)

type testCRMConfig struct {
	baseURL string
	apiKey  string
}

func (c testCRMConfig) GetCRMBaseURL() string         { return c.baseURL }
func (c testCRMConfig) GetCRMAPIKey() string          { return c.apiKey }
func (c testCRMConfig) GetCRMTimeout() time.Duration  { return 2 * time.Second }
func (c testCRMConfig) IsCRMEnabled() bool            { return c.baseURL != "" && c.apiKey != "" }

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return New(testCRMConfig{baseURL: srv.URL, apiKey: "crm-key"}, gate.New(4), logger.New("development"))
}

func TestCreateOpportunity(t *testing.T) {
	t.Parallel()

	var gotKey, gotAuth string
	var gotBody Opportunity
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("Idempotency-Key")
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		if _, err := w.Write([]byte(`{"id": "opp-501"}`)); err != nil {
			t.Errorf("write response: %v", err)
		}
	})

	revenue := 6_000_000.0
	result, err := client.CreateOpportunity(context.Background(), Opportunity{
		LeadID:      "lead-42",
		ContactName: "Jane Smith",
		Email:       "jane@acme.test",
		Company:     "Acme",
		Revenue:     &revenue,
		Score:       85,
	}, "handoff.lead-42:1")
	if err != nil {
		t.Fatalf(errFmtUnexpec, err)
	}

	if gotKey != "handoff.lead-42:1" {
		t.Errorf("expected idempotency key header, got %q", gotKey)
	}
	if gotAuth != "Bearer crm-key" {
		t.Errorf("expected bearer auth, got %q", gotAuth)
	}
	if gotBody.LeadID != "lead-42" || gotBody.Score != 85 {
		t.Errorf("unexpected payload: %+v", gotBody)
	}
	if result.OpportunityID != "opp-501" {
		t.Errorf("expected opportunity id opp-501, got %q", result.OpportunityID)
	}
	if result.AlreadyDelivered {
		t.Error("fresh create should not report already delivered")
	}
}

func TestCreateOpportunityConflictMeansDelivered(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		if _, err := w.Write([]byte(`{"id": "opp-501"}`)); err != nil {
			t.Errorf("write response: %v", err)
		}
	})

	result, err := client.CreateOpportunity(context.Background(), Opportunity{LeadID: "lead-42"}, "handoff.lead-42:1")
	if err != nil {
		t.Fatalf(errFmtUnexpec, err)
	}
	if !result.AlreadyDelivered {
		t.Error("conflict response should report already delivered")
	}
	if result.OpportunityID != "opp-501" {
		t.Errorf("expected existing opportunity id, got %q", result.OpportunityID)
	}
}

func TestCreateOpportunityStatusMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		status    int
		wantKind  apperr.Kind
		retryable bool
	}{
		{name: "unauthorized maps to unavailable", status: http.StatusUnauthorized, wantKind: apperr.KindCollaboratorUnavailable, retryable: true},
		{name: "rate limited maps to unavailable", status: http.StatusTooManyRequests, wantKind: apperr.KindCollaboratorUnavailable, retryable: true},
		{name: "server error maps to unavailable", status: http.StatusServiceUnavailable, wantKind: apperr.KindCollaboratorUnavailable, retryable: true},
		{name: "bad request maps to internal", status: http.StatusBadRequest, wantKind: apperr.KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})

			_, err := client.CreateOpportunity(context.Background(), Opportunity{LeadID: "lead-42"}, "handoff.lead-42:1")
			if err == nil {
				t.Fatal("expected an error")
			}
			if kind := apperr.GetKind(err); kind != tt.wantKind {
				t.Fatalf(errFmtKind, tt.wantKind, kind)
			}
			if apperr.Retryable(err) != tt.retryable {
				t.Errorf("expected retryable=%v for status %d", tt.retryable, tt.status)
			}
		})
	}
}

func TestDisabledClientRefusesCreate(t *testing.T) {
	t.Parallel()

	client := New(testCRMConfig{}, gate.New(1), logger.New("development"))
	if client.Enabled() {
		t.Fatal("client without credentials should report disabled")
	}

	_, err := client.CreateOpportunity(context.Background(), Opportunity{LeadID: "lead-42"}, "handoff.lead-42:1")
	if err == nil {
		t.Fatal("expected an error from a disabled client")
	}
	if kind := apperr.GetKind(err); kind != apperr.KindInternal {
		t.Fatalf(errFmtKind, apperr.KindInternal, kind)
	}
}
