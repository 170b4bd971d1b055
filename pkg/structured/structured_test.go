package structured

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/zen-systems/quorum/pkg/adapter"
	"github.com/zen-systems/quorum/pkg/gateway"
	"github.com/zen-systems/quorum/pkg/schema"
)

func scoreSchema() schema.Schema {
	min, max := schema.Bounds(-1, 1)
	return schema.Schema{
		Name: "sentiment",
		Fields: []schema.Field{
			{Name: "score", Type: schema.TypeNumber, Required: true, Min: min, Max: max},
		},
	}
}

func newValidator(mock *adapter.MockAdapter) *Validator {
	gw := gateway.New(map[string]gateway.Route{
		"judge": {Adapter: mock, Model: "mock-1"},
	})
	return NewValidator(gw)
}

func TestQueryValidFirstAttempt(t *testing.T) {
	mock := adapter.NewMockAdapter().Script(
		adapter.MockReply{Content: `{"score": 0.8}`},
	)
	v := newValidator(mock)

	res, err := v.Query(context.Background(), "judge", "score this", scoreSchema(), Options{MaxValidationRetries: 2})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if got, _ := schema.Number(res.Payload, "score"); got != 0.8 {
		t.Errorf("score = %v, want 0.8", got)
	}
	if mock.CallCount() != 1 {
		t.Errorf("calls = %d, want 1", mock.CallCount())
	}
}

func TestQueryResamplesOnValidationFailure(t *testing.T) {
	mock := adapter.NewMockAdapter().Script(
		adapter.MockReply{Content: "I think the score is positive."},
		adapter.MockReply{Content: `{"score": 5}`},
		adapter.MockReply{Content: "```json\n{\"score\": -0.4}\n```"},
	)
	v := newValidator(mock)

	res, err := v.Query(context.Background(), "judge", "score this", scoreSchema(), Options{MaxValidationRetries: 2})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if got, _ := schema.Number(res.Payload, "score"); got != -0.4 {
		t.Errorf("score = %v, want -0.4", got)
	}
	if mock.CallCount() != 3 {
		t.Errorf("calls = %d, want 3 fresh samples", mock.CallCount())
	}
}

func TestQueryExhaustsRetryBudget(t *testing.T) {
	mock := adapter.NewMockAdapter().Script(
		adapter.MockReply{Content: "no json here"},
		adapter.MockReply{Content: "still no json"},
		adapter.MockReply{Content: `{"score": 99}`},
	)
	v := newValidator(mock)

	_, err := v.Query(context.Background(), "judge", "score this", scoreSchema(), Options{MaxValidationRetries: 2})
	if err == nil {
		t.Fatal("expected validation error")
	}

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error type %T, want *ValidationError", err)
	}
	if verr.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", verr.Attempts)
	}
	if !strings.Contains(verr.LastFailure, "above maximum") {
		t.Errorf("last failure %q should carry the final validation problem", verr.LastFailure)
	}
	if mock.CallCount() != 3 {
		t.Errorf("calls = %d, want exactly 3", mock.CallCount())
	}
}

func TestQueryCountsTransportFailureAsAttempt(t *testing.T) {
	mock := adapter.NewMockAdapter().Script(
		adapter.MockReply{Err: errors.New("connection refused")},
		adapter.MockReply{Content: `{"score": 0.2}`},
	)
	v := newValidator(mock)

	res, err := v.Query(context.Background(), "judge", "score this", scoreSchema(), Options{MaxValidationRetries: 1})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if got, _ := schema.Number(res.Payload, "score"); got != 0.2 {
		t.Errorf("score = %v, want 0.2", got)
	}
}

func TestQueryEmbedsSchemaContract(t *testing.T) {
	mock := adapter.NewMockAdapter().Script(
		adapter.MockReply{Content: `{"score": 0.1}`},
	)
	v := newValidator(mock)

	if _, err := v.Query(context.Background(), "judge", "score this", scoreSchema(), Options{}); err != nil {
		t.Fatalf("query: %v", err)
	}

	prompt := mock.Calls()[0].Prompt
	if !strings.Contains(prompt, "score this") || !strings.Contains(prompt, "ONLY a JSON object") {
		t.Errorf("prompt missing question or contract:\n%s", prompt)
	}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
		ok      bool
	}{
		{"bare object", `{"a": 1}`, `{"a": 1}`, true},
		{"json fence", "```json\n{\"a\": 1}\n```", `{"a": 1}`, true},
		{"plain fence", "```\n{\"a\": 1}\n```", `{"a": 1}`, true},
		{"surrounding prose", `Sure! Here it is: {"a": 1} hope that helps`, `{"a": 1}`, true},
		{"nested braces", `text {"a": {"b": 2}} text`, `{"a": {"b": 2}}`, true},
		{"no object", "there is no json here", "", false},
		{"empty", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractJSON(tt.content)
			if ok != tt.ok || got != tt.want {
				t.Errorf("ExtractJSON(%q) = %q, %v; want %q, %v", tt.content, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestParseRejectsInvalidPayload(t *testing.T) {
	if _, err := Parse(`{"score": "high"}`, scoreSchema()); err == nil {
		t.Fatal("expected type mismatch to fail parse")
	}
	if _, err := Parse(`{"score": 0.3}`, scoreSchema()); err != nil {
		t.Fatalf("valid payload rejected: %v", err)
	}
}
