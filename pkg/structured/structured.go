package structured

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/zen-systems/quorum/pkg/adapter"
	"github.com/zen-systems/quorum/pkg/gateway"
	"github.com/zen-systems/quorum/pkg/metrics"
	"github.com/zen-systems/quorum/pkg/schema"
)

// Result is a schema-validated model payload. It is only constructed
// after validation succeeds; a model whose output never validates
// contributes no Result.
type Result struct {
	ModelID string
	Payload map[string]any
}

// ValidationError reports that a model's output never satisfied the
// schema within the retry budget. Attempts counts total samples drawn.
type ValidationError struct {
	ModelID     string
	Attempts    int
	LastFailure string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("model %s: output failed validation after %d attempts: %s",
		e.ModelID, e.Attempts, e.LastFailure)
}

// Options tune one structured query.
type Options struct {
	Temperature          float64
	MaxTokens            int
	Timeout              time.Duration
	MaxValidationRetries int
}

// Validator requests schema-constrained output through the gateway and
// validates it. Validation retries are fresh samples, independent of the
// gateway's transport retries.
type Validator struct {
	gw  *gateway.Gateway
	log zerolog.Logger
	rec *metrics.Recorder
}

// Option configures a Validator.
type Option func(*Validator)

// WithLogger sets the validator logger.
func WithLogger(log zerolog.Logger) Option {
	return func(v *Validator) { v.log = log }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(rec *metrics.Recorder) Option {
	return func(v *Validator) { v.rec = rec }
}

// NewValidator creates a Validator over the gateway.
func NewValidator(gw *gateway.Gateway, opts ...Option) *Validator {
	v := &Validator{gw: gw, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Query runs one structured query: schema contract embedded in the
// prompt, lenient extraction, field-by-field validation, and a fresh
// sample on each validation failure. After MaxValidationRetries+1 total
// attempts it returns a *ValidationError carrying the last failure.
func (v *Validator) Query(ctx context.Context, modelID, prompt string, s schema.Schema, opts Options) (*Result, error) {
	attempts := opts.MaxValidationRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	fullPrompt := prompt + "\n\n" + s.Render()
	var lastFailure string

	for attempt := 1; attempt <= attempts; attempt++ {
		resp := v.gw.Complete(ctx, gateway.Call{
			ModelID:     modelID,
			Messages:    adapter.UserMessage(fullPrompt),
			Temperature: opts.Temperature,
			MaxTokens:   opts.MaxTokens,
			Timeout:     opts.Timeout,
		})
		if !resp.Success {
			lastFailure = "transport: " + resp.Error
			continue
		}

		payload, err := Parse(resp.Content, s)
		if err != nil {
			lastFailure = err.Error()
			v.rec.RecordValidationFailure(modelID)
			v.log.Debug().
				Str("model", modelID).
				Int("attempt", attempt).
				Str("failure", lastFailure).
				Msg("structured output failed validation, resampling")
			continue
		}

		return &Result{ModelID: modelID, Payload: payload}, nil
	}

	return nil, &ValidationError{
		ModelID:     modelID,
		Attempts:    attempts,
		LastFailure: lastFailure,
	}
}

// Parse extracts and validates a JSON payload from raw model text.
func Parse(content string, s schema.Schema) (map[string]any, error) {
	extracted, ok := ExtractJSON(content)
	if !ok {
		return nil, fmt.Errorf("no JSON object found in response")
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(extracted), &payload); err != nil {
		return nil, fmt.Errorf("parse JSON: %w", err)
	}

	if err := s.Validate(payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// ExtractJSON strips incidental formatting around a JSON object: markdown
// fences first, then a best-effort slice from the first '{' to the last
// '}'. The bool result distinguishes a candidate object from plain prose.
func ExtractJSON(content string) (string, bool) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	if strings.HasPrefix(content, "{") && strings.HasSuffix(content, "}") {
		return content, true
	}

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start >= 0 && end > start {
		return content[start : end+1], true
	}
	return "", false
}
