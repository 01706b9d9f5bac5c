package automation

import (
	"encoding/json"
	"testing"

	"github.com/ignite/notify-engine/internal/profile"
)

func TestConditionEval(t *testing.T) {
	attrs := profile.Attributes{
		"email_verified": true,
		"plan":           "enterprise",
		"logins":         float64(3),
		"billing": map[string]interface{}{
			"overdue": true,
		},
		"tags": []interface{}{"vip", "beta"},
	}

	tests := []struct {
		name string
		cond *Condition
		want bool
	}{
		{"exists hit", &Condition{Op: OpExists, Field: "plan"}, true},
		{"exists miss", &Condition{Op: OpExists, Field: "deleted_at"}, false},
		{"exists nested", &Condition{Op: OpExists, Field: "billing.overdue"}, true},
		{"equals string", &Condition{Op: OpEquals, Field: "plan", Value: "enterprise"}, true},
		{"equals mismatch", &Condition{Op: OpEquals, Field: "plan", Value: "free"}, false},
		{"equals bool", &Condition{Op: OpEquals, Field: "email_verified", Value: true}, true},
		{"equals missing field", &Condition{Op: OpEquals, Field: "nope", Value: "x"}, false},
		{"equals numeric coercion", &Condition{Op: OpEquals, Field: "logins", Value: 3}, true},
		{"equals array", &Condition{Op: OpEquals, Field: "tags", Value: []interface{}{"vip", "beta"}}, true},
		{"equals array mismatch", &Condition{Op: OpEquals, Field: "tags", Value: []interface{}{"vip"}}, false},
		{"equals object", &Condition{Op: OpEquals, Field: "billing", Value: map[string]interface{}{"overdue": true}}, true},
		{"greater_than hit", &Condition{Op: OpGreaterThan, Field: "logins", Value: 2}, true},
		{"greater_than equal", &Condition{Op: OpGreaterThan, Field: "logins", Value: 3}, false},
		{"greater_than non-numeric", &Condition{Op: OpGreaterThan, Field: "plan", Value: 1}, false},
		{
			"and all true",
			&Condition{Op: OpAnd, Args: []*Condition{
				{Op: OpExists, Field: "plan"},
				{Op: OpEquals, Field: "email_verified", Value: true},
			}},
			true,
		},
		{
			"and one false",
			&Condition{Op: OpAnd, Args: []*Condition{
				{Op: OpExists, Field: "plan"},
				{Op: OpEquals, Field: "plan", Value: "free"},
			}},
			false,
		},
		{
			"or one true",
			&Condition{Op: OpOr, Args: []*Condition{
				{Op: OpEquals, Field: "plan", Value: "free"},
				{Op: OpGreaterThan, Field: "logins", Value: 1},
			}},
			true,
		},
		{
			"or all false",
			&Condition{Op: OpOr, Args: []*Condition{
				{Op: OpEquals, Field: "plan", Value: "free"},
				{Op: OpExists, Field: "deleted_at"},
			}},
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.cond.Eval(attrs)
			if err != nil {
				t.Fatalf("Eval: %v", err)
			}
			if got != tt.want {
				t.Errorf("Eval = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConditionShortCircuit(t *testing.T) {
	// The invalid-op arg after the deciding one must never be reached.
	bad := &Condition{Op: "bogus"}

	and := &Condition{Op: OpAnd, Args: []*Condition{
		{Op: OpExists, Field: "missing"},
		bad,
	}}
	got, err := and.Eval(profile.Attributes{})
	if err != nil || got {
		t.Errorf("and short-circuit: got %v, %v; want false, nil", got, err)
	}

	or := &Condition{Op: OpOr, Args: []*Condition{
		{Op: OpExists, Field: "present"},
		bad,
	}}
	got, err = or.Eval(profile.Attributes{"present": 1})
	if err != nil || !got {
		t.Errorf("or short-circuit: got %v, %v; want true, nil", got, err)
	}
}

func TestConditionEvalUnknownOp(t *testing.T) {
	if _, err := (&Condition{Op: "matches"}).Eval(profile.Attributes{}); err == nil {
		t.Fatal("expected error for unknown op")
	}
}

func TestConditionSurvivesJSONRoundTrip(t *testing.T) {
	cond := &Condition{Op: OpAnd, Args: []*Condition{
		{Op: OpEquals, Field: "logins", Value: 3},
		{Op: OpExists, Field: "plan"},
	}}
	raw, err := json.Marshal(cond)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back Condition
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	attrs := profile.Attributes{"logins": float64(3), "plan": "pro"}
	got, err := back.Eval(attrs)
	if err != nil || !got {
		t.Errorf("round-tripped condition: got %v, %v; want true, nil", got, err)
	}
}

func TestConditionValidate(t *testing.T) {
	valid := &Condition{Op: OpOr, Args: []*Condition{
		{Op: OpExists, Field: "x"},
		{Op: OpGreaterThan, Field: "y", Value: 1},
	}}
	if err := valid.Validate(); err != nil {
		t.Errorf("valid tree rejected: %v", err)
	}

	invalid := []*Condition{
		{Op: OpExists},
		{Op: OpEquals, Field: "x"},
		{Op: OpAnd},
		{Op: "bogus"},
		{Op: OpOr, Args: []*Condition{{Op: "bogus"}}},
	}
	for i, c := range invalid {
		if err := c.Validate(); err == nil {
			t.Errorf("invalid tree %d accepted", i)
		}
	}
}
