package reasoning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"

	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/gate"
	"leadflow_backend/platform/logger"

	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

// GeminiEngine implements Engine against the Gemini API with structured
// output enforced through a response schema.
type GeminiEngine struct {
	client  *genai.Client
	model   string
	cfg     config.ReasoningConfig
	limiter *rate.Limiter
	gate    *gate.Gate
	log     *logger.Logger
}

// NewGeminiEngine creates the production reasoning engine.
func NewGeminiEngine(ctx context.Context, cfg config.ReasoningConfig, g *gate.Gate, log *logger.Logger) (*GeminiEngine, error) {
	if strings.TrimSpace(cfg.GetGeminiAPIKey()) == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  strings.TrimSpace(cfg.GetGeminiAPIKey()),
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}

	rps := cfg.GetReasoningRPS()
	if rps <= 0 {
		rps = 1
	}

	return &GeminiEngine{
		client:  client,
		model:   cfg.GetGeminiModel(),
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		gate:    g,
		log:     log,
	}, nil
}

// Generate runs one schema-constrained completion. The returned JSON has been
// syntax-checked but not semantically validated; callers own that.
func (e *GeminiEngine) Generate(ctx context.Context, task Task) (json.RawMessage, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var resp *genai.GenerateContentResponse
	err := e.gate.Do(ctx, e.cfg.GetReasoningTimeout(), func(ctx context.Context) error {
		var genErr error
		resp, genErr = e.client.Models.GenerateContent(
			ctx,
			e.model,
			genai.Text(buildPrompt(task)),
			&genai.GenerateContentConfig{
				CandidateCount:   1,
				ResponseMIMEType: "application/json",
				ResponseSchema:   task.Schema,
			},
		)
		return genErr
	})
	if err != nil {
		return nil, classifyErr(task.ID, err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return nil, apperr.SchemaViolation("empty reasoning response").WithOp(task.ID)
	}
	if !json.Valid([]byte(text)) {
		return nil, apperr.SchemaViolation("reasoning response is not valid JSON").WithOp(task.ID)
	}

	return json.RawMessage(text), nil
}

func buildPrompt(task Task) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(task.Instruction))

	if task.Input != nil {
		b.WriteString("\n\nInput:\n")
		if data, err := json.Marshal(task.Input); err == nil {
			b.Write(data)
		}
	}

	b.WriteString("\n\nRespond with a single JSON object conforming to the declared schema.")
	return b.String()
}

// classifyErr maps transport and API failures onto the error taxonomy so the
// stage retry loop can decide what is worth retrying.
func classifyErr(taskID string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Wrap(apperr.KindCollaboratorTimeout, "reasoning engine timed out", err).WithOp(taskID)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 429 || apiErr.Code/100 == 5:
			return apperr.Wrap(apperr.KindCollaboratorUnavailable, "reasoning engine unavailable", err).WithOp(taskID)
		default:
			return apperr.Wrap(apperr.KindInternal, "reasoning request rejected", err).WithOp(taskID)
		}
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return apperr.Wrap(apperr.KindCollaboratorTimeout, "reasoning engine timed out", err).WithOp(taskID)
	}

	return apperr.Wrap(apperr.KindCollaboratorUnavailable, "reasoning engine call failed", err).WithOp(taskID)
}
