package enrichment

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/gate"
	"leadflow_backend/platform/logger"
)

const (
	testAPIKey         = "sk_test_123"
	msgUnexpectedError = "unexpected error: %v"
	fmtWrongKind       = "expected kind %v, got %v (err=%v)"
)

type testEnrichmentConfig struct {
	baseURL string
	apiKey  string
	timeout time.Duration
}

func (c testEnrichmentConfig) GetEnrichmentBaseURL() string        { return c.baseURL }
func (c testEnrichmentConfig) GetEnrichmentAPIKey() string         { return c.apiKey }
func (c testEnrichmentConfig) GetEnrichmentTimeout() time.Duration { return c.timeout }
func (c testEnrichmentConfig) GetEnrichmentRPS() float64           { return 100 }
func (c testEnrichmentConfig) IsEnrichmentEnabled() bool           { return c.apiKey != "" }

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := testEnrichmentConfig{baseURL: srv.URL, apiKey: testAPIKey, timeout: 2 * time.Second}
	return New(cfg, gate.New(4), logger.New("development")), srv
}

func TestLookupMapsCombinedResponse(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer "+testAPIKey {
			t.Errorf("missing bearer auth, got %q", got)
		}
		if got := r.URL.Query().Get("email"); got != "alice@technova.com" {
			t.Errorf("expected email query, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		// annualRevenue as a string exercises the flexible number decoding
		_, _ = w.Write([]byte(`{
			"person": {"name": {"fullName": "Alice Park"}, "title": "CTO", "seniority": "executive"},
			"company": {
				"name": "TechNova",
				"category": {"industry": "SaaS"},
				"metrics": {"employees": 140, "annualRevenue": "6000000"},
				"fundingStage": "Series B"
			}
		}`))
	})

	attrs, err := client.Lookup(context.Background(), "alice@technova.com")
	if err != nil {
		t.Fatalf(msgUnexpectedError, err)
	}

	if attrs.Revenue == nil || *attrs.Revenue != 6000000 {
		t.Fatalf("expected revenue 6000000, got %v", attrs.Revenue)
	}
	if attrs.Headcount == nil || *attrs.Headcount != 140 {
		t.Fatalf("expected headcount 140, got %v", attrs.Headcount)
	}
	if attrs.Industry != "SaaS" {
		t.Fatalf("expected industry SaaS, got %q", attrs.Industry)
	}
	if attrs.FundingStage != "Series B" {
		t.Fatalf("expected funding stage Series B, got %q", attrs.FundingStage)
	}
	if attrs.Title != "CTO" || attrs.Seniority != "executive" {
		t.Fatalf("expected person fields mapped, got title=%q seniority=%q", attrs.Title, attrs.Seniority)
	}
}

func TestLookupStatusMapping(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		wantKind  apperr.Kind
		retryable bool
	}{
		{"not found", http.StatusNotFound, apperr.KindNotFound, false},
		{"unauthorized", http.StatusUnauthorized, apperr.KindCollaboratorUnavailable, true},
		{"forbidden", http.StatusForbidden, apperr.KindCollaboratorUnavailable, true},
		{"rate limited", http.StatusTooManyRequests, apperr.KindCollaboratorUnavailable, true},
		{"server error", http.StatusInternalServerError, apperr.KindCollaboratorUnavailable, true},
		{"unexpected client error", http.StatusTeapot, apperr.KindInternal, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			})

			_, err := client.Lookup(context.Background(), "bob@example.com")
			if err == nil {
				t.Fatal("expected an error, got nil")
			}
			if kind := apperr.GetKind(err); kind != tc.wantKind {
				t.Fatalf(fmtWrongKind, tc.wantKind, kind, err)
			}
			if got := apperr.Retryable(err); got != tc.retryable {
				t.Fatalf("retryable=%v, want %v", got, tc.retryable)
			}
		})
	}
}

func TestLookupEmptyBodyYieldsEmptyAttributes(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	})

	attrs, err := client.Lookup(context.Background(), "carol@example.com")
	if err != nil {
		t.Fatalf(msgUnexpectedError, err)
	}
	if !attrs.Empty() {
		t.Fatalf("expected empty attributes, got %+v", attrs)
	}
}

func TestDisabledClientRefusesLookup(t *testing.T) {
	cfg := testEnrichmentConfig{baseURL: "http://localhost:0", apiKey: ""}
	client := New(cfg, gate.New(1), logger.New("development"))

	if client.Enabled() {
		t.Fatal("client without credential must report disabled")
	}
	if _, err := client.Lookup(context.Background(), "x@example.com"); err == nil {
		t.Fatal("expected an error, got nil")
	}
}
