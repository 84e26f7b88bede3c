package filter

import "fmt"

// Aggregate is a flat aggregation the store can compute server-side.
type Aggregate string

// Aggregations.
const (
	Count   Aggregate = "count"
	Sum     Aggregate = "sum"
	Average Aggregate = "avg"
	Min     Aggregate = "min"
	Max     Aggregate = "max"
)

// Valid reports whether a is a known aggregation.
func (a Aggregate) Valid() bool {
	switch a {
	case Count, Sum, Average, Min, Max:
		return true
	default:
		return false
	}
}

// ParseAggregate parses the textual aggregation name.
func ParseAggregate(s string) (Aggregate, error) {
	a := Aggregate(s)
	if !a.Valid() {
		return "", fmt.Errorf("unknown aggregation %q", s)
	}
	return a, nil
}

// NeedsField reports whether the aggregation reads a field value.
func (a Aggregate) NeedsField() bool {
	return a != Count
}
