package filter

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// MaxConditions is the maximum number of conditions per expression.
const MaxConditions = 32

// Expression is a conjunction of structured constraints. Every condition must
// hold for an item to be eligible; filters are hard — non-matching items are
// excluded outright, not down-ranked.
type Expression struct {
	conditions []Condition
}

// NewExpression validates and creates an Expression.
func NewExpression(conditions []Condition) (Expression, error) {
	if len(conditions) > MaxConditions {
		return Expression{}, fmt.Errorf("too many filter conditions (max %d)", MaxConditions)
	}
	return Expression{conditions: conditions}, nil
}

// Conditions returns the constraint list.
func (e Expression) Conditions() []Condition { return e.conditions }

// IsEmpty reports whether the expression has no conditions.
func (e Expression) IsEmpty() bool { return len(e.conditions) == 0 }

// Matches evaluates the expression against an item's tag and numeric fields.
// Used by backends without native predicate push-down.
func (e Expression) Matches(tags map[string]string, numerics map[string]float64) bool {
	for _, c := range e.conditions {
		if !c.matches(tags, numerics) {
			return false
		}
	}
	return true
}

// Canonical returns a deterministic string form of the expression, used for
// cache fingerprinting. Conditions are ordered by key then kind.
func (e Expression) Canonical() string {
	parts := make([]string, 0, len(e.conditions))
	for _, c := range e.conditions {
		parts = append(parts, c.canonical())
	}
	sort.Strings(parts)
	return strings.Join(parts, "&")
}

// Condition is a single constraint: exact match, enum membership,
// numeric range, or boolean flag.
type Condition struct {
	key       string
	match     string
	enum      []string
	rangeExpr *Range
	boolVal   *bool
}

// NewMatch creates an exact tag match condition.
func NewMatch(key, value string) (Condition, error) {
	if key == "" {
		return Condition{}, fmt.Errorf("filter key is required")
	}
	if value == "" {
		return Condition{}, fmt.Errorf("match value is required for key %q", key)
	}
	return Condition{key: key, match: value}, nil
}

// NewEnum creates a membership condition: the field must equal one of values.
func NewEnum(key string, values []string) (Condition, error) {
	if key == "" {
		return Condition{}, fmt.Errorf("filter key is required")
	}
	if len(values) == 0 {
		return Condition{}, fmt.Errorf("enum values are required for key %q", key)
	}
	sorted := make([]string, len(values))
	copy(sorted, values)
	sort.Strings(sorted)
	return Condition{key: key, enum: sorted}, nil
}

// NewRange creates a numeric range condition.
func NewRange(key string, r Range) (Condition, error) {
	if key == "" {
		return Condition{}, fmt.Errorf("filter key is required")
	}
	return Condition{key: key, rangeExpr: &r}, nil
}

// NewBool creates a boolean flag condition. Boolean fields are stored as the
// tags "true"/"false".
func NewBool(key string, value bool) (Condition, error) {
	if key == "" {
		return Condition{}, fmt.Errorf("filter key is required")
	}
	return Condition{key: key, boolVal: &value}, nil
}

// Key returns the field name.
func (c Condition) Key() string { return c.key }

// Match returns the exact match value.
func (c Condition) Match() string { return c.match }

// Enum returns the allowed values, sorted.
func (c Condition) Enum() []string { return c.enum }

// Range returns the numeric range expression.
func (c Condition) Range() *Range { return c.rangeExpr }

// Bool returns the boolean flag value.
func (c Condition) Bool() *bool { return c.boolVal }

// IsMatch reports whether this is an exact match condition.
func (c Condition) IsMatch() bool { return c.match != "" }

// IsEnum reports whether this is an enum membership condition.
func (c Condition) IsEnum() bool { return len(c.enum) > 0 }

// IsRange reports whether this is a numeric range condition.
func (c Condition) IsRange() bool { return c.rangeExpr != nil }

// IsBool reports whether this is a boolean flag condition.
func (c Condition) IsBool() bool { return c.boolVal != nil }

func (c Condition) matches(tags map[string]string, numerics map[string]float64) bool {
	switch {
	case c.IsMatch():
		return tags[c.key] == c.match
	case c.IsEnum():
		v, ok := tags[c.key]
		if !ok {
			return false
		}
		for _, e := range c.enum {
			if v == e {
				return true
			}
		}
		return false
	case c.IsRange():
		v, ok := numerics[c.key]
		if !ok {
			return false
		}
		return c.rangeExpr.contains(v)
	case c.IsBool():
		return tags[c.key] == strconv.FormatBool(*c.boolVal)
	}
	return false
}

func (c Condition) canonical() string {
	switch {
	case c.IsMatch():
		return c.key + "=" + c.match
	case c.IsEnum():
		return c.key + " in(" + strings.Join(c.enum, ",") + ")"
	case c.IsRange():
		return c.key + ":" + c.rangeExpr.canonical()
	case c.IsBool():
		return c.key + "?" + strconv.FormatBool(*c.boolVal)
	}
	return c.key
}

// Range is a numeric range with gt/gte/lt/lte boundaries.
type Range struct {
	gt  *float64
	gte *float64
	lt  *float64
	lte *float64
}

// NewRangeBounds validates and creates a Range.
// At least one boundary required. gt/gte and lt/lte are mutually exclusive.
func NewRangeBounds(gt, gte, lt, lte *float64) (Range, error) {
	if gt == nil && gte == nil && lt == nil && lte == nil {
		return Range{}, fmt.Errorf("at least one range boundary is required")
	}
	if gt != nil && gte != nil {
		return Range{}, fmt.Errorf("cannot specify both gt and gte")
	}
	if lt != nil && lte != nil {
		return Range{}, fmt.Errorf("cannot specify both lt and lte")
	}
	return Range{gt: gt, gte: gte, lt: lt, lte: lte}, nil
}

// GT returns the lower exclusive bound.
func (r Range) GT() *float64 { return r.gt }

// GTE returns the lower inclusive bound.
func (r Range) GTE() *float64 { return r.gte }

// LT returns the upper exclusive bound.
func (r Range) LT() *float64 { return r.lt }

// LTE returns the upper inclusive bound.
func (r Range) LTE() *float64 { return r.lte }

func (r Range) contains(v float64) bool {
	if r.gt != nil && v <= *r.gt {
		return false
	}
	if r.gte != nil && v < *r.gte {
		return false
	}
	if r.lt != nil && v >= *r.lt {
		return false
	}
	if r.lte != nil && v > *r.lte {
		return false
	}
	return true
}

func (r Range) canonical() string {
	var b strings.Builder
	if r.gt != nil {
		fmt.Fprintf(&b, "(%g", *r.gt)
	} else if r.gte != nil {
		fmt.Fprintf(&b, "[%g", *r.gte)
	} else {
		b.WriteString("[-inf")
	}
	b.WriteString(",")
	if r.lt != nil {
		fmt.Fprintf(&b, "%g)", *r.lt)
	} else if r.lte != nil {
		fmt.Fprintf(&b, "%g]", *r.lte)
	} else {
		b.WriteString("+inf]")
	}
	return b.String()
}
