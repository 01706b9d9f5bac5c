package automation

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/ignite/notify-engine/internal/profile"
)

// Condition operators.
const (
	OpExists      = "exists"
	OpEquals      = "equals"
	OpGreaterThan = "greater_than"
	OpAnd         = "and"
	OpOr          = "or"
)

// Condition is a serializable boolean expression over profile
// attributes. Leaf operators read a field; and/or combine sub-trees
// with short-circuit evaluation. Conditions are evaluated when the
// run reaches them, never earlier, so waits see fresh profile state.
type Condition struct {
	Op    string       `json:"op"`
	Field string       `json:"field,omitempty"`
	Value interface{}  `json:"value,omitempty"`
	Args  []*Condition `json:"args,omitempty"`
}

// Eval evaluates the condition against a snapshot of attributes.
func (c *Condition) Eval(attrs profile.Attributes) (bool, error) {
	switch c.Op {
	case OpExists:
		_, ok := attrs.Lookup(c.Field)
		return ok, nil

	case OpEquals:
		v, ok := attrs.Lookup(c.Field)
		if !ok {
			return false, nil
		}
		return valuesEqual(v, c.Value), nil

	case OpGreaterThan:
		v, ok := attrs.Lookup(c.Field)
		if !ok {
			return false, nil
		}
		got, gok := toFloat(v)
		want, wok := toFloat(c.Value)
		if !gok || !wok {
			return false, nil
		}
		return got > want, nil

	case OpAnd:
		for _, arg := range c.Args {
			ok, err := arg.Eval(attrs)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil

	case OpOr:
		for _, arg := range c.Args {
			ok, err := arg.Eval(attrs)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}
	return false, fmt.Errorf("unknown condition op %q", c.Op)
}

// Validate checks the tree shape without evaluating it.
func (c *Condition) Validate() error {
	switch c.Op {
	case OpExists:
		if c.Field == "" {
			return fmt.Errorf("condition %s requires a field", c.Op)
		}
	case OpEquals, OpGreaterThan:
		if c.Field == "" {
			return fmt.Errorf("condition %s requires a field", c.Op)
		}
		if c.Value == nil {
			return fmt.Errorf("condition %s on %q requires a value", c.Op, c.Field)
		}
	case OpAnd, OpOr:
		if len(c.Args) == 0 {
			return fmt.Errorf("condition %s requires at least one argument", c.Op)
		}
		for _, arg := range c.Args {
			if err := arg.Validate(); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unknown condition op %q", c.Op)
	}
	return nil
}

// valuesEqual compares with numeric coercion so 3 == 3.0 after a JSON
// round trip. Non-scalar values (JSON arrays and objects decode to
// uncomparable types) go through DeepEqual.
func valuesEqual(a, b interface{}) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
