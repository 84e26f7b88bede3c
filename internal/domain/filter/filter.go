// Package filter is the filter and ordering vocabulary shared by query plans
// and store gateways.
package filter

import "fmt"

// DocumentID is the pseudo field that addresses a document's own identifier.
const DocumentID = "__name__"

// MaxConditionsPerGroup is the maximum number of conditions in one OR group.
const MaxConditionsPerGroup = 30

// Op is a comparison operator supported natively by the store.
type Op string

// Comparison operators.
const (
	Eq               Op = "=="
	Ne               Op = "!="
	Lt               Op = "<"
	Lte              Op = "<="
	Gt               Op = ">"
	Gte              Op = ">="
	In               Op = "in"
	NotIn            Op = "not-in"
	ArrayContains    Op = "array-contains"
	ArrayContainsAny Op = "array-contains-any"
)

// Valid reports whether op is a known operator.
func (op Op) Valid() bool {
	switch op {
	case Eq, Ne, Lt, Lte, Gt, Gte, In, NotIn, ArrayContains, ArrayContainsAny:
		return true
	default:
		return false
	}
}

// IsInequality reports whether op counts toward the single-inequality-field limit.
func (op Op) IsInequality() bool {
	switch op {
	case Ne, Lt, Lte, Gt, Gte, NotIn:
		return true
	default:
		return false
	}
}

// Condition is a single (fieldPath, operator, value) clause. Field is a
// dotted store path; Value is already in the store's native value set.
type Condition struct {
	Field string
	Op    Op
	Value any
}

// New validates and creates a Condition.
func New(field string, op Op, value any) (Condition, error) {
	if field == "" {
		return Condition{}, fmt.Errorf("filter field is required")
	}
	if !op.Valid() {
		return Condition{}, fmt.Errorf("unknown operator %q for field %q", op, field)
	}
	switch op {
	case In, NotIn, ArrayContainsAny:
		if _, ok := value.([]any); !ok {
			return Condition{}, fmt.Errorf("operator %q on field %q requires a list value", op, field)
		}
	}
	return Condition{Field: field, Op: op, Value: value}, nil
}

func (c Condition) String() string {
	return fmt.Sprintf("%s %s %v", c.Field, c.Op, c.Value)
}

// Group is an OR-group: any of its conditions must match.
type Group []Condition

// Order is a single sort key.
type Order struct {
	Field      string
	Descending bool
}

func (o Order) String() string {
	if o.Descending {
		return o.Field + " desc"
	}
	return o.Field + " asc"
}

// InequalityFields returns the distinct fields compared with an inequality
// operator across plain conditions and OR groups, in first-seen order.
func InequalityFields(conds []Condition, groups []Group) []string {
	var out []string
	seen := map[string]bool{}
	add := func(c Condition) {
		if c.Op.IsInequality() && !seen[c.Field] {
			seen[c.Field] = true
			out = append(out, c.Field)
		}
	}
	for _, c := range conds {
		add(c)
	}
	for _, g := range groups {
		for _, c := range g {
			add(c)
		}
	}
	return out
}
