package scoring

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/internal/reasoning"
	"leadflow_backend/internal/rules"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/logger"
)

const (
	errFmtDecision = "expected decision %q, got %q"
	errFmtCalls    = "expected %d engine calls, got %d"
	errFmtUnexpec  = "unexpected error: %v"
)

type testPipelineConfig struct {
	threshold int
}

func (c testPipelineConfig) GetStageMaxRetries() int           { return 3 }
func (c testPipelineConfig) GetRetryBaseDelay() time.Duration  { return 500 * time.Millisecond }
func (c testPipelineConfig) GetPipelineMaxConcurrent() int     { return 4 }
func (c testPipelineConfig) GetCollaboratorMaxInFlight() int64 { return 8 }
func (c testPipelineConfig) GetScoreQualifyThreshold() int     { return c.threshold }

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

func engineSaying(score int, decision, rationale string) *fakeEngine {
	body, _ := json.Marshal(map[string]any{"score": score, "decision": decision, "rationale": rationale})
	return &fakeEngine{responses: []fakeResponse{{body: body}}}
}

func newScorer(engine *fakeEngine, threshold int) *Scorer {
	return New(engine, testPipelineConfig{threshold: threshold}, logger.New("development"))
}

func saasProfile() *rules.Snapshot {
	return rules.NewSnapshot(rules.Profile{
		TargetIndustries: []string{"SaaS"},
		RevenueMin:       5_000_000,
		IdealTitles:      []string{"CTO", "VP Engineering"},
		ExcludedTitles:   []string{"Student", "Intern"},
	})
}

func floatPtr(v float64) *float64 { return &v }

func TestScoreRevenuePrecheckDominatesEngine(t *testing.T) {
	// The engine would return a passing score; the deterministic revenue
	// check must disqualify without ever calling it.
	engine := engineSaying(95, "qualify", "looks great")

	outcome, err := newScorer(engine, 70).Score(context.Background(), LeadView{
		Name:     "Alice Smith",
		Email:    "alice@technova.com",
		Company:  "TechNova",
		Industry: "SaaS",
		Revenue:  floatPtr(2_000_000),
	}, saasProfile())
	if err != nil {
		t.Fatalf(errFmtUnexpec, err)
	}

	if outcome.Decision != domain.DecisionDisqualified {
		t.Fatalf(errFmtDecision, domain.DecisionDisqualified, outcome.Decision)
	}
	if !strings.Contains(outcome.Rationale, "revenue below threshold") {
		t.Errorf("rationale must mention the revenue threshold, got %q", outcome.Rationale)
	}
	if !outcome.Deterministic {
		t.Error("revenue disqualification must be marked deterministic")
	}
	if len(engine.tasks) != 0 {
		t.Errorf("deterministic pre-check must not invoke the engine, saw %d calls", len(engine.tasks))
	}
}

func TestScorePrechecks(t *testing.T) {
	tests := []struct {
		name          string
		lead          LeadView
		wantRationale string
	}{
		{
			name:          "industry outside target set",
			lead:          LeadView{Company: "SteelWorks", Industry: "Manufacturing", Revenue: floatPtr(9_000_000)},
			wantRationale: "not in the target industries",
		},
		{
			name:          "excluded title",
			lead:          LeadView{Company: "TechNova", Industry: "SaaS", Revenue: floatPtr(9_000_000), Title: "Intern"},
			wantRationale: "excluded titles",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := engineSaying(95, "qualify", "looks great")
			outcome, err := newScorer(engine, 70).Score(context.Background(), tt.lead, saasProfile())
			if err != nil {
				t.Fatalf(errFmtUnexpec, err)
			}
			if outcome.Decision != domain.DecisionDisqualified {
				t.Fatalf(errFmtDecision, domain.DecisionDisqualified, outcome.Decision)
			}
			if !strings.Contains(outcome.Rationale, tt.wantRationale) {
				t.Errorf("rationale %q must contain %q", outcome.Rationale, tt.wantRationale)
			}
			if len(engine.tasks) != 0 {
				t.Errorf(errFmtCalls, 0, len(engine.tasks))
			}
		})
	}
}

func TestScoreQualifiesAboveThreshold(t *testing.T) {
	engine := engineSaying(85, "qualify", "CTO at a SaaS company above the revenue floor")

	outcome, err := newScorer(engine, 70).Score(context.Background(), LeadView{
		Name:     "Alice Smith",
		Email:    "alice@technova.com",
		Company:  "TechNova",
		Title:    "CTO",
		Industry: "SaaS",
		Revenue:  floatPtr(6_000_000),
	}, saasProfile())
	if err != nil {
		t.Fatalf(errFmtUnexpec, err)
	}

	if outcome.Decision != domain.DecisionQualified {
		t.Fatalf(errFmtDecision, domain.DecisionQualified, outcome.Decision)
	}
	if outcome.Score != 85 {
		t.Errorf("expected score 85, got %d", outcome.Score)
	}
	if outcome.Deterministic {
		t.Error("engine-decided outcome must not be marked deterministic")
	}

	if len(engine.tasks) != 1 {
		t.Fatalf(errFmtCalls, 1, len(engine.tasks))
	}
	if engine.tasks[0].ID != TaskID {
		t.Errorf("expected task id %q, got %q", TaskID, engine.tasks[0].ID)
	}
	if !strings.Contains(engine.tasks[0].Instruction, "SaaS") {
		t.Error("profile must be injected into the scoring instruction")
	}
}

func TestScoreThresholdIsAuthoritative(t *testing.T) {
	tests := []struct {
		name         string
		score        int
		decision     string
		wantDecision string
		wantNote     bool
	}{
		{name: "score below threshold despite engine qualify", score: 62, decision: "qualify", wantDecision: domain.DecisionDisqualified, wantNote: true},
		{name: "score above threshold despite engine disqualify", score: 88, decision: "disqualify", wantDecision: domain.DecisionQualified, wantNote: true},
		{name: "agreement needs no note", score: 90, decision: "qualify", wantDecision: domain.DecisionQualified},
		{name: "boundary score qualifies", score: 70, decision: "qualify", wantDecision: domain.DecisionQualified},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := engineSaying(tt.score, tt.decision, "judgment call")
			outcome, err := newScorer(engine, 70).Score(context.Background(), LeadView{
				Company: "TechNova", Industry: "SaaS", Revenue: floatPtr(6_000_000),
			}, saasProfile())
			if err != nil {
				t.Fatalf(errFmtUnexpec, err)
			}
			if outcome.Decision != tt.wantDecision {
				t.Fatalf(errFmtDecision, tt.wantDecision, outcome.Decision)
			}
			hasNote := strings.Contains(outcome.Rationale, "threshold")
			if hasNote != tt.wantNote {
				t.Errorf("rationale threshold note = %v, want %v (rationale %q)", hasNote, tt.wantNote, outcome.Rationale)
			}
		})
	}
}

func TestScoreProceedsWithoutEnrichment(t *testing.T) {
	// Missing revenue and industry (enrichment skipped or empty) must not
	// block scoring; the engine judges on what is present.
	engine := engineSaying(75, "qualify", "senior title, unknown financials")

	outcome, err := newScorer(engine, 70).Score(context.Background(), LeadView{
		Name:    "Alice Smith",
		Email:   "alice@technova.com",
		Company: "TechNova",
		Title:   "CTO",
	}, saasProfile())
	if err != nil {
		t.Fatalf(errFmtUnexpec, err)
	}
	if outcome.Decision != domain.DecisionQualified {
		t.Fatalf(errFmtDecision, domain.DecisionQualified, outcome.Decision)
	}
	if len(engine.tasks) != 1 {
		t.Fatalf(errFmtCalls, 1, len(engine.tasks))
	}
}

func TestScoreClampsOutOfRangeScores(t *testing.T) {
	engine := engineSaying(140, "qualify", "over-enthusiastic")

	outcome, err := newScorer(engine, 70).Score(context.Background(), LeadView{
		Company: "TechNova", Industry: "SaaS", Revenue: floatPtr(6_000_000),
	}, saasProfile())
	if err != nil {
		t.Fatalf(errFmtUnexpec, err)
	}
	if outcome.Score != 100 {
		t.Errorf("expected clamped score 100, got %d", outcome.Score)
	}
}

func TestScoreRetriesSchemaViolationOnceStricter(t *testing.T) {
	good, _ := json.Marshal(map[string]any{"score": 80, "decision": "qualify", "rationale": "fits"})
	engine := &fakeEngine{responses: []fakeResponse{
		{body: json.RawMessage(`{"score": 80, "decision": "maybe", "rationale": "fits"}`)},
		{body: good},
	}}

	outcome, err := newScorer(engine, 70).Score(context.Background(), LeadView{
		Company: "TechNova", Industry: "SaaS", Revenue: floatPtr(6_000_000),
	}, saasProfile())
	if err != nil {
		t.Fatalf(errFmtUnexpec, err)
	}
	if outcome.Decision != domain.DecisionQualified {
		t.Fatalf(errFmtDecision, domain.DecisionQualified, outcome.Decision)
	}

	if len(engine.tasks) != 2 {
		t.Fatalf(errFmtCalls, 2, len(engine.tasks))
	}
	if engine.tasks[0].Instruction == engine.tasks[1].Instruction {
		t.Error("retry must carry a stricter instruction")
	}

	// A second violation escalates as a schema violation.
	engine = &fakeEngine{responses: []fakeResponse{
		{body: json.RawMessage(`nope`)},
		{body: json.RawMessage(`still nope`)},
	}}
	_, err = newScorer(engine, 70).Score(context.Background(), LeadView{
		Company: "TechNova", Industry: "SaaS", Revenue: floatPtr(6_000_000),
	}, saasProfile())
	if err == nil {
		t.Fatal("expected an error after two schema violations")
	}
	if kind := apperr.GetKind(err); kind != apperr.KindSchemaViolation {
		t.Fatalf("expected schema violation, got %v", kind)
	}
}
