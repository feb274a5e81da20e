package pricing

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Operator is a comparison used by a rule condition.
type Operator string

const (
	OpGreater  Operator = "gt"
	OpLess     Operator = "lt"
	OpEqual    Operator = "eq"
	OpNotEqual Operator = "ne"
	OpBetween  Operator = "between"
	OpIn       Operator = "in"
)

// AdjustmentType selects how a fired rule changes the running price.
type AdjustmentType string

const (
	AdjustPercentage  AdjustmentType = "percentage"
	AdjustFixedAmount AdjustmentType = "fixed-amount"
	AdjustMultiplier  AdjustmentType = "multiplier"
)

// Condition compares one market factor against an operand.
// Value is a number for gt/lt, a number or string for eq/ne, a two-element
// numeric list for between (inclusive) and a list for in.
type Condition struct {
	Field    string   `json:"field" yaml:"field"`
	Operator Operator `json:"operator" yaml:"operator"`
	Value    any      `json:"value" yaml:"value"`
	Weight   float64  `json:"weight,omitempty" yaml:"weight"`
}

// Adjustment is the price change applied when every condition of a rule holds.
// Cap and Floor are percentages relative to the price before the rule ran,
// e.g. Cap 30 limits the rule to +30% and Floor -25 limits it to -25%.
// When Factor names a numeric market factor, the applied value is Value times
// that factor, so {percentage, -1, promotionalDiscount} takes the promotion off.
type Adjustment struct {
	Type   AdjustmentType `json:"type" yaml:"type"`
	Value  float64        `json:"value" yaml:"value"`
	Factor string         `json:"factor,omitempty" yaml:"factor"`
	Cap    *float64       `json:"cap,omitempty" yaml:"cap"`
	Floor  *float64       `json:"floor,omitempty" yaml:"floor"`
}

// Rule is a prioritized, conditional price adjustment. Lower priority runs first.
type Rule struct {
	ID         string      `json:"id" yaml:"id"`
	Name       string      `json:"name" yaml:"name"`
	Enabled    bool        `json:"enabled" yaml:"enabled"`
	Priority   int         `json:"priority" yaml:"priority"`
	Conditions []Condition `json:"conditions" yaml:"conditions"`
	Adjustment Adjustment  `json:"adjustment" yaml:"adjustment"`
}

var (
	ErrInvalidOperator   = errors.New("invalid condition operator")
	ErrInvalidOperand    = errors.New("invalid condition operand")
	ErrInvalidAdjustment = errors.New("invalid adjustment")
)

// Validate checks the rule's structure. Unknown factor fields are not an error:
// such conditions simply never match.
func (r Rule) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return errors.New("rule id is required")
	}
	for i, c := range r.Conditions {
		if err := c.validate(); err != nil {
			return fmt.Errorf("condition %d (%s): %w", i, c.Field, err)
		}
	}
	switch r.Adjustment.Type {
	case AdjustPercentage, AdjustFixedAmount:
	case AdjustMultiplier:
		if r.Adjustment.Value < 0 {
			return fmt.Errorf("%w: negative multiplier %v", ErrInvalidAdjustment, r.Adjustment.Value)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidAdjustment, r.Adjustment.Type)
	}
	if r.Adjustment.Factor != "" {
		if v, ok := DefaultFactors().lookup(r.Adjustment.Factor); !ok || !v.numeric {
			return fmt.Errorf("%w: factor %q is not a numeric market factor", ErrInvalidAdjustment, r.Adjustment.Factor)
		}
	}
	if r.Adjustment.Cap != nil && r.Adjustment.Floor != nil && *r.Adjustment.Cap < *r.Adjustment.Floor {
		return fmt.Errorf("%w: cap %v below floor %v", ErrInvalidAdjustment, *r.Adjustment.Cap, *r.Adjustment.Floor)
	}
	return nil
}

func (c Condition) validate() error {
	switch c.Operator {
	case OpGreater, OpLess:
		if _, ok := toNumber(c.Value); !ok {
			return fmt.Errorf("%w: %s needs a number", ErrInvalidOperand, c.Operator)
		}
	case OpEqual, OpNotEqual:
		if _, ok := toScalar(c.Value); !ok {
			return fmt.Errorf("%w: %s needs a number or string", ErrInvalidOperand, c.Operator)
		}
	case OpBetween:
		bounds, ok := toNumberList(c.Value)
		if !ok || len(bounds) != 2 || bounds[0] > bounds[1] {
			return fmt.Errorf("%w: between needs [low, high]", ErrInvalidOperand)
		}
	case OpIn:
		items, ok := toList(c.Value)
		if !ok || len(items) == 0 {
			return fmt.Errorf("%w: in needs a non-empty list", ErrInvalidOperand)
		}
		for _, it := range items {
			if _, ok := toScalar(it); !ok {
				return fmt.Errorf("%w: in list holds %T", ErrInvalidOperand, it)
			}
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidOperator, c.Operator)
	}
	return nil
}

// Matches evaluates the condition against the snapshot.
func (c Condition) Matches(f MarketFactors) bool {
	v, ok := f.lookup(c.Field)
	if !ok {
		return false
	}
	switch c.Operator {
	case OpGreater:
		n, ok := toNumber(c.Value)
		return ok && v.numeric && v.num > n
	case OpLess:
		n, ok := toNumber(c.Value)
		return ok && v.numeric && v.num < n
	case OpEqual:
		operand, ok := toScalar(c.Value)
		return ok && v.equals(operand)
	case OpNotEqual:
		operand, ok := toScalar(c.Value)
		return ok && !v.equals(operand)
	case OpBetween:
		bounds, ok := toNumberList(c.Value)
		return ok && len(bounds) == 2 && v.numeric && v.num >= bounds[0] && v.num <= bounds[1]
	case OpIn:
		items, ok := toList(c.Value)
		if !ok {
			return false
		}
		for _, it := range items {
			if operand, ok := toScalar(it); ok && v.equals(operand) {
				return true
			}
		}
	}
	return false
}

// Fires reports whether every condition holds. A rule without conditions always fires.
func (r Rule) Fires(f MarketFactors) bool {
	for _, c := range r.Conditions {
		if !c.Matches(f) {
			return false
		}
	}
	return true
}

// LoadRules returns the structurally valid subset of rules. Invalid rules are
// reported in the joined error and logged; the caller decides whether to abort.
func LoadRules(rules []Rule) ([]Rule, error) {
	valid := make([]Rule, 0, len(rules))
	var errs []error
	seen := make(map[string]bool, len(rules))
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("rule %q: %w", r.ID, err))
			continue
		}
		if seen[r.ID] {
			errs = append(errs, fmt.Errorf("rule %q: duplicate id", r.ID))
			continue
		}
		seen[r.ID] = true
		for _, c := range r.Conditions {
			if !KnownField(c.Field) {
				log.WithField("rule", r.ID).Warnf("Condition references unknown factor %q; rule will never fire", c.Field)
			}
		}
		valid = append(valid, r)
	}
	for _, err := range errs {
		log.Warnf("Skipping pricing rule: %v", err)
	}
	return valid, errors.Join(errs...)
}

func (v factorValue) equals(operand factorValue) bool {
	if v.numeric != operand.numeric {
		return false
	}
	if v.numeric {
		return v.num == operand.num
	}
	return strings.EqualFold(v.str, operand.str)
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

// toScalar turns an operand into a comparable value. Numeric strings stay strings
// so that eq "high" and eq 10 are never confused.
func toScalar(v any) (factorValue, bool) {
	if s, ok := v.(string); ok {
		return stringValue(s), true
	}
	if n, ok := toNumber(v); ok {
		return numberValue(n), true
	}
	return factorValue{}, false
}

func toList(v any) ([]any, bool) {
	switch l := v.(type) {
	case []any:
		return l, true
	case []string:
		out := make([]any, len(l))
		for i, s := range l {
			out[i] = s
		}
		return out, true
	case []float64:
		out := make([]any, len(l))
		for i, n := range l {
			out[i] = n
		}
		return out, true
	case []int:
		out := make([]any, len(l))
		for i, n := range l {
			out[i] = n
		}
		return out, true
	}
	return nil, false
}

func toNumberList(v any) ([]float64, bool) {
	items, ok := toList(v)
	if !ok {
		return nil, false
	}
	out := make([]float64, 0, len(items))
	for _, it := range items {
		n, ok := toNumber(it)
		if !ok {
			return nil, false
		}
		out = append(out, n)
	}
	return out, true
}
