package schema

import (
	"strings"
	"testing"
)

func scoreSchema() Schema {
	min, max := Bounds(-1, 1)
	return Schema{
		Name: "sentiment",
		Fields: []Field{
			{Name: "score", Type: TypeNumber, Required: true, Min: min, Max: max},
			{Name: "reasoning", Type: TypeString},
		},
	}
}

func TestRenderListsFieldsAndConstraints(t *testing.T) {
	text := scoreSchema().Render()

	for _, want := range []string{
		"ONLY a JSON object",
		`"score" (number)`,
		"between -1 and 1",
		`"reasoning" (string, optional)`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("rendered contract missing %q:\n%s", want, text)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		payload map[string]any
		wantErr string
	}{
		{
			name:    "valid payload",
			payload: map[string]any{"score": 0.5, "reasoning": "looks fine"},
		},
		{
			name:    "optional field absent",
			payload: map[string]any{"score": -1.0},
		},
		{
			name:    "missing required field",
			payload: map[string]any{"reasoning": "no score"},
			wantErr: `missing required field "score"`,
		},
		{
			name:    "null counts as missing",
			payload: map[string]any{"score": nil},
			wantErr: `missing required field "score"`,
		},
		{
			name:    "wrong type",
			payload: map[string]any{"score": "very bullish"},
			wantErr: "expected number",
		},
		{
			name:    "above maximum",
			payload: map[string]any{"score": 1.5},
			wantErr: "above maximum",
		},
		{
			name:    "below minimum",
			payload: map[string]any{"score": -2.0},
			wantErr: "below minimum",
		},
	}

	s := scoreSchema()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Validate(tt.payload)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("expected valid, got %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidateCollectsAllProblems(t *testing.T) {
	s := Schema{
		Name: "multi",
		Fields: []Field{
			{Name: "a", Type: TypeNumber, Required: true},
			{Name: "b", Type: TypeBoolean, Required: true},
		},
	}

	err := s.Validate(map[string]any{"b": "yes"})
	if err == nil {
		t.Fatal("expected validation error")
	}
	msg := err.Error()
	if !strings.Contains(msg, `missing required field "a"`) || !strings.Contains(msg, `field "b"`) {
		t.Errorf("expected both problems reported, got %q", msg)
	}
}

func TestValidateEnumIsCaseInsensitive(t *testing.T) {
	s := Schema{
		Name: "action",
		Fields: []Field{
			{Name: "decision", Type: TypeString, Required: true, Enum: []string{"BUY", "SELL", "HOLD"}},
		},
	}

	if err := s.Validate(map[string]any{"decision": "buy"}); err != nil {
		t.Fatalf("lowercase enum value rejected: %v", err)
	}
	if err := s.Validate(map[string]any{"decision": "MAYBE"}); err == nil {
		t.Fatal("expected unknown enum value to be rejected")
	}
}

func TestValidateInteger(t *testing.T) {
	s := Schema{
		Name:   "count",
		Fields: []Field{{Name: "n", Type: TypeInteger, Required: true}},
	}

	if err := s.Validate(map[string]any{"n": 3.0}); err != nil {
		t.Fatalf("whole float rejected as integer: %v", err)
	}
	if err := s.Validate(map[string]any{"n": 3.5}); err == nil {
		t.Fatal("expected fractional value to be rejected as integer")
	}
}

func TestPayloadAccessors(t *testing.T) {
	payload := map[string]any{
		"score":   0.7,
		"label":   "up",
		"trusted": true,
	}

	if v, ok := Number(payload, "score"); !ok || v != 0.7 {
		t.Errorf("Number = %v, %v", v, ok)
	}
	if v, ok := Text(payload, "label"); !ok || v != "up" {
		t.Errorf("Text = %v, %v", v, ok)
	}
	if v, ok := Flag(payload, "trusted"); !ok || !v {
		t.Errorf("Flag = %v, %v", v, ok)
	}
	if _, ok := Number(payload, "absent"); ok {
		t.Error("Number reported a missing field as present")
	}
	if _, ok := Flag(payload, "label"); ok {
		t.Error("Flag accepted a string field")
	}
}

func TestDecode(t *testing.T) {
	type assessment struct {
		Epistemic float64 `json:"epistemic_score" validate:"gte=0,lte=100"`
		Aleatoric float64 `json:"aleatoric_score" validate:"gte=0,lte=100"`
	}

	got, err := Decode[assessment](map[string]any{"epistemic_score": 30.0, "aleatoric_score": 45.0})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Epistemic != 30 || got.Aleatoric != 45 {
		t.Errorf("decoded %+v", got)
	}

	if _, err := Decode[assessment](map[string]any{"epistemic_score": 130.0, "aleatoric_score": 45.0}); err == nil {
		t.Fatal("expected struct-tag validation to reject out-of-range value")
	}
}
