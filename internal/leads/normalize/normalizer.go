// Package normalize turns a raw webhook submission into canonical lead
// fields. Required-field validation and phone formatting are deterministic
// and run first; only text cleanup (capitalization, typos, title
// canonicalization) is delegated to the reasoning engine.
package normalize

import (
	"context"
	"encoding/json"
	"fmt"
	"net/mail"
	"strings"

	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/internal/reasoning"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"
	"leadflow_backend/platform/phone"
	"leadflow_backend/platform/sanitize"
)

// TaskID is the reasoning task identifier for normalization.
const TaskID = "lead.normalize"

const instruction = `Normalize a raw lead form submission into canonical contact fields.
Rules:
- name: the person's full name with conventional capitalization, obvious typos corrected.
- email: the submitted email address, lowercased, whitespace removed. Never invent or alter the address itself.
- company: the company name, trimmed, obvious typos corrected. Do not append legal suffixes that were not submitted.
- domain: the company web domain in lowercase without scheme or path. Derive it from the email host when it was not submitted.
- title: the job title in its conventional short form (for example "chief technology officer" or "C.T.O." both become "CTO"). Omit when no title or role was submitted.
The submission may use "role" for the job title and can contain unrelated extra fields; ignore anything that does not map to the canonical fields.`

var outputSchema = &reasoning.Schema{
	Type: reasoning.TypeObject,
	Properties: map[string]*reasoning.Schema{
		"name":    {Type: reasoning.TypeString},
		"email":   {Type: reasoning.TypeString},
		"company": {Type: reasoning.TypeString},
		"domain":  {Type: reasoning.TypeString},
		"title":   {Type: reasoning.TypeString},
	},
	Required: []string{"name", "email", "company", "domain"},
}

// Result is the canonical field set merged into the lead.
type Result struct {
	Name    string
	Email   string
	Company string
	Domain  string
	Title   *string
	Phone   *string
}

type Normalizer struct {
	engine reasoning.Engine
	region string
	log    *logger.Logger
}

func New(engine reasoning.Engine, cfg config.NormalizeConfig, log *logger.Logger) *Normalizer {
	return &Normalizer{
		engine: engine,
		region: cfg.GetPhoneRegion(),
		log:    log,
	}
}

type canonicalOutput struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Company string `json:"company"`
	Domain  string `json:"domain"`
	Title   string `json:"title"`
}

// Normalize validates and canonicalizes a raw submission. Validation failures
// return a validation error before any reasoning call is made; reasoning
// output that fails schema validation is retried once with a stricter
// instruction and then escalates.
func (n *Normalizer) Normalize(ctx context.Context, raw map[string]any) (Result, error) {
	email, err := validateEmail(raw)
	if err != nil {
		return Result{}, err
	}
	if rawString(raw, "company") == "" {
		return Result{}, apperr.Validation("company is required").WithDetails(map[string]string{"field": "company"})
	}

	var phoneE164 *string
	if p := rawString(raw, "phone"); p != "" {
		formatted := phone.NormalizeE164(p, n.region)
		phoneE164 = &formatted
	}

	task := reasoning.Task{
		ID:          TaskID,
		Instruction: instruction,
		Input:       raw,
		Schema:      outputSchema,
	}

	out, err := n.generate(ctx, task)
	if err != nil && apperr.Is(err, apperr.KindSchemaViolation) {
		n.log.Warn("normalization output failed schema validation, retrying strict", "email", email)
		out, err = n.generate(ctx, reasoning.Strict(task))
	}
	if err != nil {
		if apperr.Is(err, apperr.KindSchemaViolation) {
			return Result{}, apperr.Wrap(apperr.KindSchemaViolation, "normalization failed", err).WithOp(TaskID)
		}
		return Result{}, err
	}

	// The engine never gets to change the address; the validated input is
	// authoritative for email.
	result := Result{
		Name:    out.Name,
		Email:   domain.NormalizeEmail(email),
		Company: out.Company,
		Domain:  strings.ToLower(strings.TrimSpace(out.Domain)),
		Phone:   phoneE164,
	}
	if result.Domain == "" {
		result.Domain = emailHost(result.Email)
	}
	if title := strings.TrimSpace(out.Title); title != "" {
		result.Title = &title
	}

	return result, nil
}

// generate runs the task and validates the decoded output. Any output that
// cannot be decoded or misses required fields is a schema violation.
func (n *Normalizer) generate(ctx context.Context, task reasoning.Task) (canonicalOutput, error) {
	rawOut, err := n.engine.Generate(ctx, task)
	if err != nil {
		return canonicalOutput{}, err
	}

	var out canonicalOutput
	if err := json.Unmarshal(rawOut, &out); err != nil {
		return canonicalOutput{}, apperr.Wrap(apperr.KindSchemaViolation, "canonical fields not decodable", err)
	}
	if strings.TrimSpace(out.Name) == "" || strings.TrimSpace(out.Email) == "" || strings.TrimSpace(out.Company) == "" {
		return canonicalOutput{}, apperr.SchemaViolation("canonical fields incomplete")
	}
	if _, err := mail.ParseAddress(strings.TrimSpace(out.Email)); err != nil {
		return canonicalOutput{}, apperr.SchemaViolation("canonical email malformed")
	}
	return out, nil
}

func validateEmail(raw map[string]any) (string, error) {
	email := rawString(raw, "email")
	if email == "" {
		return "", apperr.Validation("email is required").WithDetails(map[string]string{"field": "email"})
	}
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return "", apperr.Validation(fmt.Sprintf("email %q is malformed", email)).WithDetails(map[string]string{"field": "email"})
	}
	return addr.Address, nil
}

// rawString extracts a trimmed, HTML-stripped string field from the raw
// payload. Non-string values are ignored.
func rawString(raw map[string]any, key string) string {
	value, ok := raw[key]
	if !ok {
		return ""
	}
	s, ok := value.(string)
	if !ok {
		return ""
	}
	return sanitize.Text(s)
}

func emailHost(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return strings.ToLower(email[at+1:])
}
