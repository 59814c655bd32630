// Package reasoning defines the contract with the natural-language reasoning
// engine. Every call is a schema-constrained request: a fixed task
// identifier, structured input, and a declared output schema. The engine's
// output is untrusted input and is validated at this boundary, never executed
// or trusted blindly.
package reasoning

import (
	"context"
	"encoding/json"

	"google.golang.org/genai"
)

// Schema is the output-contract language shared with the engine, re-exported
// so task definitions don't import the vendor package directly.
type Schema = genai.Schema

// Schema type constants re-exported alongside Schema.
const (
	TypeObject  = genai.TypeObject
	TypeString  = genai.TypeString
	TypeInteger = genai.TypeInteger
	TypeNumber  = genai.TypeNumber
	TypeArray   = genai.TypeArray
)

// strictRetryNote is appended to a task instruction when the first attempt
// produced output that failed schema validation.
const strictRetryNote = "\n\nIMPORTANT: your previous answer did not conform to the required JSON schema. " +
	"Respond with ONLY a single JSON object that matches the schema exactly. " +
	"No prose, no markdown fences, no extra keys."

// Task is one reasoning request.
type Task struct {
	// ID is the stable task identifier, e.g. "lead.normalize".
	ID string
	// Instruction describes the task and the rules the output must follow.
	Instruction string
	// Input is marshalled to JSON and appended to the prompt.
	Input any
	// Schema constrains the response; the engine must return a JSON object
	// conforming to it.
	Schema *Schema
}

// Engine executes reasoning tasks. Implementations return the raw JSON
// response body; callers unmarshal it into their typed output and apply
// their own field validation on top.
type Engine interface {
	Generate(ctx context.Context, task Task) (json.RawMessage, error)
}

// Strict returns a copy of the task with the stricter instruction suffix for
// the single schema-violation retry.
func Strict(task Task) Task {
	task.Instruction += strictRetryNote
	return task
}
