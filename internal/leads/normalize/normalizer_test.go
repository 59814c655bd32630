package normalize

import (
	"context"
	"encoding/json"
	"testing"

	"leadflow_backend/internal/reasoning"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/logger"
)

const (
	errFmtKind    = "expected kind %v, got %v"
	errFmtCalls   = "expected %d engine calls, got %d"
	errFmtUnexpec = "unexpected error: %v"
)

type testNormalizeConfig struct{}

func (testNormalizeConfig) GetPhoneRegion() string { return "US" }

// fakeEngine replays canned responses in order and records the tasks it saw.
type fakeEngine struct {
	responses []fakeResponse
	tasks     []reasoning.Task
}

type fakeResponse struct {
	body json.RawMessage
	err  error
}

func (f *fakeEngine) Generate(_ context.Context, task reasoning.Task) (json.RawMessage, error) {
	f.tasks = append(f.tasks, task)
	if len(f.responses) == 0 {
		return nil, apperr.Internal("fake engine exhausted")
	}
	next := f.responses[0]
	f.responses = f.responses[1:]
	return next.body, next.err
}

func newNormalizer(engine *fakeEngine) *Normalizer {
	return New(engine, testNormalizeConfig{}, logger.New("development"))
}

func rawEvent() map[string]any {
	return map[string]any{
		"name":    "alice smith",
		"email":   "Alice@TechNova.com",
		"company": "technova",
		"role":    "c.t.o.",
		"budget":  "unknown",
	}
}

func TestNormalizeCanonicalizesFields(t *testing.T) {
	engine := &fakeEngine{responses: []fakeResponse{{
		body: json.RawMessage(`{"name":"Alice Smith","email":"alice@technova.com","company":"TechNova","domain":"technova.com","title":"CTO"}`),
	}}}

	result, err := newNormalizer(engine).Normalize(context.Background(), rawEvent())
	if err != nil {
		t.Fatalf(errFmtUnexpec, err)
	}

	if result.Name != "Alice Smith" {
		t.Errorf("expected canonical name, got %q", result.Name)
	}
	if result.Email != "alice@technova.com" {
		t.Errorf("expected lowercased email, got %q", result.Email)
	}
	if result.Company != "TechNova" {
		t.Errorf("expected canonical company, got %q", result.Company)
	}
	if result.Domain != "technova.com" {
		t.Errorf("expected domain, got %q", result.Domain)
	}
	if result.Title == nil || *result.Title != "CTO" {
		t.Errorf("expected title CTO, got %v", result.Title)
	}

	if len(engine.tasks) != 1 {
		t.Fatalf(errFmtCalls, 1, len(engine.tasks))
	}
	if engine.tasks[0].ID != TaskID {
		t.Errorf("expected task id %q, got %q", TaskID, engine.tasks[0].ID)
	}
	if engine.tasks[0].Schema == nil {
		t.Error("expected a schema-constrained task")
	}
}

func TestNormalizeValidationShortCircuitsBeforeEngine(t *testing.T) {
	tests := []struct {
		name string
		raw  map[string]any
	}{
		{name: "missing email", raw: map[string]any{"name": "Alice", "company": "TechNova"}},
		{name: "malformed email", raw: map[string]any{"email": "not-an-email", "company": "TechNova"}},
		{name: "missing company", raw: map[string]any{"email": "alice@technova.com"}},
		{name: "email not a string", raw: map[string]any{"email": 42, "company": "TechNova"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &fakeEngine{}
			_, err := newNormalizer(engine).Normalize(context.Background(), tt.raw)
			if err == nil {
				t.Fatal("expected a validation error")
			}
			if kind := apperr.GetKind(err); kind != apperr.KindValidation {
				t.Fatalf(errFmtKind, apperr.KindValidation, kind)
			}
			if len(engine.tasks) != 0 {
				t.Errorf("validation failure must not invoke the engine, saw %d calls", len(engine.tasks))
			}
		})
	}
}

func TestNormalizeRetriesSchemaViolationOnceStricter(t *testing.T) {
	engine := &fakeEngine{responses: []fakeResponse{
		{body: json.RawMessage(`this is not json`)},
		{body: json.RawMessage(`{"name":"Alice Smith","email":"alice@technova.com","company":"TechNova","domain":"technova.com"}`)},
	}}

	result, err := newNormalizer(engine).Normalize(context.Background(), rawEvent())
	if err != nil {
		t.Fatalf(errFmtUnexpec, err)
	}
	if result.Name != "Alice Smith" {
		t.Errorf("expected result from the strict retry, got %q", result.Name)
	}

	if len(engine.tasks) != 2 {
		t.Fatalf(errFmtCalls, 2, len(engine.tasks))
	}
	if engine.tasks[0].Instruction == engine.tasks[1].Instruction {
		t.Error("retry must carry a stricter instruction")
	}
	if len(engine.tasks[1].Instruction) <= len(engine.tasks[0].Instruction) {
		t.Error("strict instruction should extend the original")
	}
}

func TestNormalizeEscalatesAfterSecondSchemaViolation(t *testing.T) {
	engine := &fakeEngine{responses: []fakeResponse{
		{body: json.RawMessage(`{"name":"","email":"","company":""}`)},
		{body: json.RawMessage(`still not valid`)},
	}}

	_, err := newNormalizer(engine).Normalize(context.Background(), rawEvent())
	if err == nil {
		t.Fatal("expected an error after two schema violations")
	}
	if kind := apperr.GetKind(err); kind != apperr.KindSchemaViolation {
		t.Fatalf(errFmtKind, apperr.KindSchemaViolation, kind)
	}
	if apperr.Retryable(err) {
		t.Error("escalated schema violation must not be retried by the stage loop")
	}
	if len(engine.tasks) != 2 {
		t.Fatalf(errFmtCalls, 2, len(engine.tasks))
	}
}

func TestNormalizePassesThroughRetryableEngineErrors(t *testing.T) {
	engine := &fakeEngine{responses: []fakeResponse{
		{err: apperr.CollaboratorTimeout("reasoning call timed out")},
	}}

	_, err := newNormalizer(engine).Normalize(context.Background(), rawEvent())
	if err == nil {
		t.Fatal("expected an error")
	}
	if kind := apperr.GetKind(err); kind != apperr.KindCollaboratorTimeout {
		t.Fatalf(errFmtKind, apperr.KindCollaboratorTimeout, kind)
	}
	if len(engine.tasks) != 1 {
		t.Fatalf(errFmtCalls, 1, len(engine.tasks))
	}
}

func TestNormalizeDerivesDomainAndPhone(t *testing.T) {
	engine := &fakeEngine{responses: []fakeResponse{{
		body: json.RawMessage(`{"name":"Alice Smith","email":"ALICE@TechNova.com","company":"TechNova","domain":""}`),
	}}}

	raw := rawEvent()
	raw["phone"] = "(212) 555-0188"

	result, err := newNormalizer(engine).Normalize(context.Background(), raw)
	if err != nil {
		t.Fatalf(errFmtUnexpec, err)
	}

	if result.Domain != "technova.com" {
		t.Errorf("expected domain derived from email host, got %q", result.Domain)
	}
	if result.Phone == nil || *result.Phone != "+12125550188" {
		t.Errorf("expected E.164 phone, got %v", result.Phone)
	}
	if result.Email != "alice@technova.com" {
		t.Errorf("expected submitted email kept authoritative, got %q", result.Email)
	}
	if result.Title != nil {
		t.Errorf("expected no title when engine omits it, got %v", result.Title)
	}
}
