// Package scoring evaluates enriched leads against the active rules profile.
// Deterministic threshold checks run first and are authoritative; only fuzzy
// judgment (title seniority, overall fit) is delegated to the reasoning
// engine, and the configured score threshold decides qualification.
package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/internal/reasoning"
	"leadflow_backend/internal/rules"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"
)

// TaskID is the reasoning task identifier for scoring.
const TaskID = "lead.score"

const instructionFmt = `Judge the sales-readiness of a B2B lead against the qualification profile below.
The deterministic rules (revenue floor, industry allow list, excluded titles) have already passed; do not re-apply them as hard rules. Judge the fuzzy criteria:
- how closely the lead's title matches the seniority and decision-making power of the ideal titles
- how the revenue, headcount and funding stage compare to what the profile implies about company maturity
- overall fit of the company for a discovery call
Qualification profile:
- target industries: %s
- revenue minimum: %s
- ideal titles: %s
- excluded titles: %s
Missing fields mean the data was unavailable, not that the lead fails; judge on what is present.
Return a score from 0 to 100, a decision of "qualify" or "disqualify", and a one-or-two sentence rationale.`

var outputSchema = &reasoning.Schema{
	Type: reasoning.TypeObject,
	Properties: map[string]*reasoning.Schema{
		"score":     {Type: reasoning.TypeInteger},
		"decision":  {Type: reasoning.TypeString, Enum: []string{"qualify", "disqualify"}},
		"rationale": {Type: reasoning.TypeString},
	},
	Required: []string{"score", "decision", "rationale"},
}

// LeadView is the read-only slice of a lead the scorer works with. The
// orchestrator owns the lead record; the scorer only proposes an outcome.
type LeadView struct {
	Name         string   `json:"name"`
	Email        string   `json:"email"`
	Company      string   `json:"company"`
	Domain       string   `json:"domain,omitempty"`
	Title        string   `json:"title,omitempty"`
	Revenue      *float64 `json:"revenue,omitempty"`
	Headcount    *int     `json:"headcount,omitempty"`
	Industry     string   `json:"industry,omitempty"`
	FundingStage string   `json:"fundingStage,omitempty"`
}

// Outcome is the immutable scoring result for a run.
type Outcome struct {
	Score     int
	Decision  string
	Rationale string
	// Deterministic marks outcomes decided by a pre-check without any
	// reasoning call.
	Deterministic bool
}

type Scorer struct {
	engine    reasoning.Engine
	threshold int
	log       *logger.Logger
}

func New(engine reasoning.Engine, cfg config.PipelineConfig, log *logger.Logger) *Scorer {
	return &Scorer{
		engine:    engine,
		threshold: cfg.GetScoreQualifyThreshold(),
		log:       log,
	}
}

type scoreOutput struct {
	Score     int    `json:"score"`
	Decision  string `json:"decision"`
	Rationale string `json:"rationale"`
}

// Score evaluates the lead against the given profile snapshot. The snapshot
// is captured once by the caller; a concurrent rules reload never changes the
// profile an evaluation already started with.
func (s *Scorer) Score(ctx context.Context, lead LeadView, snap *rules.Snapshot) (Outcome, error) {
	if outcome, decided := s.precheck(lead, snap); decided {
		return outcome, nil
	}

	task := reasoning.Task{
		ID:          TaskID,
		Instruction: buildInstruction(snap),
		Input:       lead,
		Schema:      outputSchema,
	}

	out, err := s.generate(ctx, task)
	if err != nil && apperr.Is(err, apperr.KindSchemaViolation) {
		s.log.Warn("scoring output failed schema validation, retrying strict", "email", lead.Email)
		out, err = s.generate(ctx, reasoning.Strict(task))
	}
	if err != nil {
		if apperr.Is(err, apperr.KindSchemaViolation) {
			return Outcome{}, apperr.Wrap(apperr.KindSchemaViolation, "scoring failed", err).WithOp(TaskID)
		}
		return Outcome{}, err
	}

	return s.decide(out), nil
}

// precheck applies the deterministic rules in order. Any hit decides the
// outcome immediately; no reasoning call is made.
func (s *Scorer) precheck(lead LeadView, snap *rules.Snapshot) (Outcome, bool) {
	if lead.Revenue != nil && snap.RevenueMin > 0 && *lead.Revenue < snap.RevenueMin {
		return Outcome{
			Score:    0,
			Decision: domain.DecisionDisqualified,
			Rationale: fmt.Sprintf("revenue below threshold: %s is under the %s minimum",
				formatMoney(*lead.Revenue), formatMoney(snap.RevenueMin)),
			Deterministic: true,
		}, true
	}

	if lead.Industry != "" && !snap.IsTargetIndustry(lead.Industry) {
		return Outcome{
			Score:         0,
			Decision:      domain.DecisionDisqualified,
			Rationale:     fmt.Sprintf("industry %q is not in the target industries", lead.Industry),
			Deterministic: true,
		}, true
	}

	if lead.Title != "" && snap.IsExcludedTitle(lead.Title) {
		return Outcome{
			Score:         0,
			Decision:      domain.DecisionDisqualified,
			Rationale:     fmt.Sprintf("title %q is on the excluded titles list", lead.Title),
			Deterministic: true,
		}, true
	}

	return Outcome{}, false
}

// decide applies the score threshold to the engine's judgment. The threshold
// is authoritative; the engine's own decision only annotates the rationale
// when the two disagree.
func (s *Scorer) decide(out scoreOutput) Outcome {
	score := out.Score
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	outcome := Outcome{Score: score, Rationale: out.Rationale}
	if score >= s.threshold {
		outcome.Decision = domain.DecisionQualified
		if out.Decision == "disqualify" {
			outcome.Rationale = fmt.Sprintf("%s (score %d meets the qualification threshold %d)",
				out.Rationale, score, s.threshold)
		}
	} else {
		outcome.Decision = domain.DecisionDisqualified
		if out.Decision == "qualify" {
			outcome.Rationale = fmt.Sprintf("%s (score %d below the qualification threshold %d)",
				out.Rationale, score, s.threshold)
		}
	}
	return outcome
}

func (s *Scorer) generate(ctx context.Context, task reasoning.Task) (scoreOutput, error) {
	rawOut, err := s.engine.Generate(ctx, task)
	if err != nil {
		return scoreOutput{}, err
	}

	var out scoreOutput
	if err := json.Unmarshal(rawOut, &out); err != nil {
		return scoreOutput{}, apperr.Wrap(apperr.KindSchemaViolation, "score output not decodable", err)
	}
	if out.Decision != "qualify" && out.Decision != "disqualify" {
		return scoreOutput{}, apperr.SchemaViolation(fmt.Sprintf("score decision %q not in contract", out.Decision))
	}
	if strings.TrimSpace(out.Rationale) == "" {
		return scoreOutput{}, apperr.SchemaViolation("score rationale missing")
	}
	return out, nil
}

func buildInstruction(snap *rules.Snapshot) string {
	return fmt.Sprintf(instructionFmt,
		listOrAny(snap.TargetIndustries),
		formatMoney(snap.RevenueMin),
		listOrAny(snap.IdealTitles),
		listOrAny(snap.ExcludedTitles),
	)
}

func listOrAny(values []string) string {
	if len(values) == 0 {
		return "(unrestricted)"
	}
	return strings.Join(values, ", ")
}

func formatMoney(v float64) string {
	return fmt.Sprintf("$%.0f", v)
}
