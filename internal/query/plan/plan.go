// Package plan is the store-aware query representation built step by step
// by the operator translators. Plans are copy-on-write: every mutator returns
// a new plan and leaves its receiver untouched, so a failed step never leaves
// a half-applied plan behind.
package plan

import (
	"fmt"
	"reflect"
	"slices"

	"github.com/kailas-cloud/docq/internal/domain"
	"github.com/kailas-cloud/docq/internal/domain/filter"
	"github.com/kailas-cloud/docq/internal/model"
	"github.com/kailas-cloud/docq/internal/query/expr"
)

// Value is either a literal native value or an expression resolved at
// execution time. Type is the declared type used to encode deferred values.
type Value struct {
	Literal any
	Expr    *expr.Expr
	Type    reflect.Type
}

// Literal wraps an already-encoded value.
func Literal(v any) Value { return Value{Literal: v} }

// Deferred wraps an expression evaluated when the query executes.
func Deferred(e *expr.Expr, t reflect.Type) Value { return Value{Expr: e, Type: t} }

// IsDeferred reports whether the value still needs resolution.
func (v Value) IsDeferred() bool { return v.Expr != nil }

func (v Value) String() string {
	if v.Expr != nil {
		return v.Expr.String()
	}
	return fmt.Sprintf("%v", v.Literal)
}

// Clause is one (fieldPath, operator, value) filter.
type Clause struct {
	Field string
	Op    filter.Op
	Value Value
}

func (c Clause) String() string {
	return fmt.Sprintf("%s %s %s", c.Field, c.Op, c.Value)
}

// SortKey is one ordering key.
type SortKey struct {
	Field      string
	Descending bool
}

// Aggregation requests a server-side aggregate.
type Aggregation struct {
	Field      string
	Kind       filter.Aggregate
	ResultType reflect.Type
}

// ReturnKind is the cardinality the caller expects.
type ReturnKind int

const (
	ReturnMany ReturnKind = iota
	ReturnFirst
	ReturnSingle
)

func (k ReturnKind) String() string {
	switch k {
	case ReturnFirst:
		return "first"
	case ReturnSingle:
		return "single"
	default:
		return "many"
	}
}

// Plan accumulates one logical query.
type Plan struct {
	frozen bool

	Entity     *model.Entity
	Collection string

	Filters  []Clause
	OrGroups [][]Clause
	Sorts    []SortKey

	Limit       *Value
	LimitToLast *Value
	Skip        *Value

	IdentifierOnly bool
	Identifier     Value

	Count  bool
	Exists bool

	Aggregation *Aggregation
	Projection  *Shape
	Includes    []*Include

	Return         ReturnKind
	DefaultOnEmpty bool
}

// New starts a plan over the given collection path.
func New(entity *model.Entity, collection string) *Plan {
	return &Plan{Entity: entity, Collection: collection}
}

func (p *Plan) clone() (*Plan, error) {
	if p.frozen {
		return nil, fmt.Errorf("%w: plan is frozen", domain.ErrInvalidPlan)
	}
	out := *p
	out.Filters = slices.Clone(p.Filters)
	out.OrGroups = slices.Clone(p.OrGroups)
	out.Sorts = slices.Clone(p.Sorts)
	out.Includes = slices.Clone(p.Includes)
	return &out, nil
}

// Frozen reports whether the plan has been handed to the builder.
func (p *Plan) Frozen() bool { return p.frozen }

// Freeze returns a read-only copy for lowering.
func (p *Plan) Freeze() *Plan {
	out := *p
	out.frozen = true
	return &out
}

// HasFilters reports whether any filter, OR group or identifier applies.
func (p *Plan) HasFilters() bool {
	return len(p.Filters) > 0 || len(p.OrGroups) > 0 || p.IdentifierOnly
}

// CanShortcut reports whether an identifier equality would become a lookup.
func (p *Plan) CanShortcut() bool {
	return !p.HasFilters() && p.Aggregation == nil && p.Projection == nil
}

// identifierClause re-expresses the identifier shortcut as a filter.
func (p *Plan) identifierClause() Clause {
	return Clause{Field: filter.DocumentID, Op: filter.Eq, Value: p.Identifier}
}

func (p *Plan) dropIdentifier() {
	if !p.IdentifierOnly {
		return
	}
	p.Filters = append([]Clause{p.identifierClause()}, p.Filters...)
	p.IdentifierOnly = false
	p.Identifier = Value{}
}

// WithIdentifier reduces the plan to a point lookup. It is only legal while
// no other filter applies.
func (p *Plan) WithIdentifier(id Value) (*Plan, error) {
	if !p.CanShortcut() {
		return nil, fmt.Errorf("%w: identifier lookup on a filtered plan", domain.ErrInvalidPlan)
	}
	out, err := p.clone()
	if err != nil {
		return nil, err
	}
	out.IdentifierOnly = true
	out.Identifier = id
	return out, nil
}

// WithFilter appends an AND-ed clause. A plan that was identifier-only turns
// back into a filtered query with the identifier as an equality clause.
func (p *Plan) WithFilter(c Clause) (*Plan, error) {
	out, err := p.clone()
	if err != nil {
		return nil, err
	}
	out.dropIdentifier()
	out.Filters = append(out.Filters, c)
	if err := out.checkInequality(); err != nil {
		return nil, err
	}
	return out, nil
}

// WithOrGroup adds a group of alternatives.
func (p *Plan) WithOrGroup(group []Clause) (*Plan, error) {
	if p.IdentifierOnly {
		return nil, domain.Unsupported("OR filter", "cannot combine OR with an identifier lookup")
	}
	if len(group) > filter.MaxConditionsPerGroup {
		return nil, domain.Unsupported("OR filter",
			fmt.Sprintf("%d alternatives exceed the limit of %d", len(group), filter.MaxConditionsPerGroup))
	}
	out, err := p.clone()
	if err != nil {
		return nil, err
	}
	out.OrGroups = append(out.OrGroups, slices.Clone(group))
	if err := out.checkInequality(); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Plan) checkInequality() error {
	seen := ""
	check := func(c Clause) error {
		if !c.Op.IsInequality() || c.Field == seen {
			return nil
		}
		if seen != "" {
			return domain.Unsupported("inequality filter",
				fmt.Sprintf("inequality on %q and %q; only one field may use inequality operators", seen, c.Field))
		}
		seen = c.Field
		return nil
	}
	for _, c := range p.Filters {
		if err := check(c); err != nil {
			return err
		}
	}
	for _, g := range p.OrGroups {
		for _, c := range g {
			if err := check(c); err != nil {
				return err
			}
		}
	}
	return nil
}

// WithSort replaces the ordering when first is set, otherwise appends to it.
func (p *Plan) WithSort(key SortKey, first bool) (*Plan, error) {
	out, err := p.clone()
	if err != nil {
		return nil, err
	}
	if first {
		out.Sorts = []SortKey{key}
	} else {
		out.Sorts = append(out.Sorts, key)
	}
	return out, nil
}

// WithLimit sets the number of rows to take from the front.
func (p *Plan) WithLimit(v Value) (*Plan, error) {
	if p.LimitToLast != nil {
		return nil, domain.Unsupported("Limit", "cannot combine with LimitToLast")
	}
	out, err := p.clone()
	if err != nil {
		return nil, err
	}
	out.Limit = &v
	return out, nil
}

// WithLimitToLast sets the number of rows to take from the end.
func (p *Plan) WithLimitToLast(v Value) (*Plan, error) {
	if p.Limit != nil {
		return nil, domain.Unsupported("LimitToLast", "cannot combine with Limit")
	}
	out, err := p.clone()
	if err != nil {
		return nil, err
	}
	out.LimitToLast = &v
	return out, nil
}

// WithSkip sets the number of leading rows to drop.
func (p *Plan) WithSkip(v Value) (*Plan, error) {
	out, err := p.clone()
	if err != nil {
		return nil, err
	}
	out.Skip = &v
	return out, nil
}

// AsCount marks the plan as a count query.
func (p *Plan) AsCount() (*Plan, error) {
	out, err := p.clone()
	if err != nil {
		return nil, err
	}
	out.Count = true
	return out, nil
}

// AsExists marks the plan as an existence query.
func (p *Plan) AsExists() (*Plan, error) {
	out, err := p.clone()
	if err != nil {
		return nil, err
	}
	out.Exists = true
	return out, nil
}

// WithAggregation requests a server-side aggregate.
func (p *Plan) WithAggregation(a Aggregation) (*Plan, error) {
	if p.Projection != nil {
		return nil, domain.Unsupported("aggregate", "cannot aggregate a projection")
	}
	out, err := p.clone()
	if err != nil {
		return nil, err
	}
	out.dropIdentifier()
	out.Aggregation = &a
	return out, nil
}

// WithProjection narrows the result to a shape.
func (p *Plan) WithProjection(s *Shape) (*Plan, error) {
	if p.Aggregation != nil {
		return nil, domain.Unsupported("projection", "cannot project an aggregate")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	out, err := p.clone()
	if err != nil {
		return nil, err
	}
	out.dropIdentifier()
	out.Projection = s
	return out, nil
}

// WithInclude adds a related-data fetch. A navigation already included is
// merged, never duplicated.
func (p *Plan) WithInclude(inc *Include) (*Plan, error) {
	out, err := p.clone()
	if err != nil {
		return nil, err
	}
	for i, existing := range out.Includes {
		if existing.Navigation == inc.Navigation && existing.Field == inc.Field {
			out.Includes[i] = existing.merge(inc)
			return out, nil
		}
	}
	out.Includes = append(out.Includes, inc)
	return out, nil
}

// WithReturn records first/single semantics.
func (p *Plan) WithReturn(kind ReturnKind, defaultOnEmpty bool) (*Plan, error) {
	out, err := p.clone()
	if err != nil {
		return nil, err
	}
	out.Return = kind
	out.DefaultOnEmpty = defaultOnEmpty
	return out, nil
}
