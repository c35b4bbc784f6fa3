package approvalflow

import (
	"fmt"
)

type RuleType string

const (
	RuleFieldEquals    RuleType = "field_equals"
	RuleFieldInSet     RuleType = "field_in_set"
	RuleFieldThreshold RuleType = "field_threshold"
	RuleFieldsComplete RuleType = "fields_complete"
	RuleAlways         RuleType = "always"
	RuleAll            RuleType = "all"
	RuleAny            RuleType = "any"
)

// AutoProgressRule is a serializable predicate over attributes of the
// target entity. The engine evaluates it against a context map supplied
// by the caller; it is data, never executable code.
type AutoProgressRule struct {
	Type      RuleType           `json:"type"`
	Field     string             `json:"field,omitempty"`
	Value     any                `json:"value,omitempty"`
	Values    []any              `json:"values,omitempty"`
	Operator  string             `json:"operator,omitempty"`
	Threshold float64            `json:"threshold,omitempty"`
	Fields    []string           `json:"fields,omitempty"`
	Rules     []AutoProgressRule `json:"rules,omitempty"`
}

// Validate checks structural well-formedness. Called when a definition
// is registered, so a bad rule fails at save time, not at scan time.
func (r *AutoProgressRule) Validate() error {
	switch r.Type {
	case RuleFieldEquals:
		if r.Field == "" {
			return fmt.Errorf("%w: field_equals rule requires a field", ErrValidation)
		}
		switch r.Operator {
		case "", "=", "!=":
		default:
			return fmt.Errorf("%w: field_equals rule has unknown operator %q", ErrValidation, r.Operator)
		}
	case RuleFieldInSet:
		if r.Field == "" || len(r.Values) == 0 {
			return fmt.Errorf("%w: field_in_set rule requires a field and values", ErrValidation)
		}
	case RuleFieldThreshold:
		if r.Field == "" {
			return fmt.Errorf("%w: field_threshold rule requires a field", ErrValidation)
		}
		switch r.Operator {
		case ">=", "<=", ">", "<":
		default:
			return fmt.Errorf("%w: field_threshold rule has unknown operator %q", ErrValidation, r.Operator)
		}
	case RuleFieldsComplete:
		if len(r.Fields) == 0 {
			return fmt.Errorf("%w: fields_complete rule requires fields", ErrValidation)
		}
	case RuleAlways:
	case RuleAll, RuleAny:
		if len(r.Rules) == 0 {
			return fmt.Errorf("%w: %s rule requires sub-rules", ErrValidation, r.Type)
		}
		for i := range r.Rules {
			if err := r.Rules[i].Validate(); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("%w: unknown rule type %q", ErrValidation, r.Type)
	}

	return nil
}

// Evaluate applies the rule to the supplied entity attributes.
// A missing field makes equality and membership rules false rather than
// erroring; threshold rules need a numeric value and report an error
// otherwise, so the scanner can log and skip the instance.
func (r *AutoProgressRule) Evaluate(entityCtx map[string]any) (bool, error) {
	switch r.Type {
	case RuleAlways:
		return true, nil

	case RuleFieldEquals:
		value, ok := entityCtx[r.Field]
		if !ok {
			return false, nil
		}

		equal := equalValues(value, r.Value)
		if r.Operator == "!=" {
			return !equal, nil
		}

		return equal, nil

	case RuleFieldInSet:
		value, ok := entityCtx[r.Field]
		if !ok {
			return false, nil
		}
		for _, candidate := range r.Values {
			if equalValues(value, candidate) {
				return true, nil
			}
		}

		return false, nil

	case RuleFieldThreshold:
		value, ok := entityCtx[r.Field]
		if !ok {
			return false, fmt.Errorf("field %q not present in context", r.Field)
		}
		number, ok := toFloat(value)
		if !ok {
			return false, fmt.Errorf("field %q is not numeric: %v", r.Field, value)
		}

		switch r.Operator {
		case ">=":
			return number >= r.Threshold, nil
		case "<=":
			return number <= r.Threshold, nil
		case ">":
			return number > r.Threshold, nil
		case "<":
			return number < r.Threshold, nil
		default:
			return false, fmt.Errorf("unknown operator %q", r.Operator)
		}

	case RuleFieldsComplete:
		for _, field := range r.Fields {
			value, ok := entityCtx[field]
			if !ok || isEmptyValue(value) {
				return false, nil
			}
		}

		return true, nil

	case RuleAll:
		for i := range r.Rules {
			result, err := r.Rules[i].Evaluate(entityCtx)
			if err != nil {
				return false, err
			}
			if !result {
				return false, nil
			}
		}

		return true, nil

	case RuleAny:
		for i := range r.Rules {
			result, err := r.Rules[i].Evaluate(entityCtx)
			if err != nil {
				return false, err
			}
			if result {
				return true, nil
			}
		}

		return false, nil

	default:
		return false, fmt.Errorf("unknown rule type %q", r.Type)
	}
}

func equalValues(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
	}

	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint64:
		return float64(v), true
	default:
		return 0, false
	}
}

func isEmptyValue(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case []any:
		return len(v) == 0
	case map[string]any:
		return len(v) == 0
	default:
		return false
	}
}
