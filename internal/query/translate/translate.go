// Package translate turns query operators and their expression arguments
// into query plan mutations. Each operator either produces a new plan, or
// fails with a domain.UnsupportedError naming the construct. Aggregates over
// selectors the store cannot compute return ErrNotApplicable so the caller
// can fall back to evaluating them in memory.
package translate

import (
	"errors"
	"fmt"
	"reflect"
	"slices"

	"github.com/kailas-cloud/docq/internal/codec"
	"github.com/kailas-cloud/docq/internal/domain"
	"github.com/kailas-cloud/docq/internal/domain/filter"
	"github.com/kailas-cloud/docq/internal/model"
	"github.com/kailas-cloud/docq/internal/query/expr"
	"github.com/kailas-cloud/docq/internal/query/plan"
)

// ErrNotApplicable means the operator cannot run in the store but may be
// evaluated client-side.
var ErrNotApplicable = errors.New("translate: not applicable")

var (
	int64Type   = reflect.TypeFor[int64]()
	anyType     = reflect.TypeFor[any]()
	anyListType = reflect.TypeFor[[]any]()
)

// Translator applies operators to plans.
type Translator struct {
	codec *codec.Table
}

// New returns a translator that encodes literal values with table.
func New(table *codec.Table) *Translator {
	if table == nil {
		table = codec.Default
	}
	return &Translator{codec: table}
}

// Filter applies a predicate. AND-ed comparisons become individual clauses,
// an OR becomes a group of alternatives. A predicate that is exactly one
// identifier equality, applied to an unfiltered plan, becomes a point lookup.
func (t *Translator) Filter(p *plan.Plan, pred *expr.Expr) (*plan.Plan, error) {
	pred = expr.Fold(pred)
	if pred == nil {
		return nil, fmt.Errorf("%w: nil predicate", domain.ErrInvalidPlan)
	}
	terms := conjuncts(pred)
	if len(terms) == 1 && !isOr(terms[0]) {
		c, err := t.clause(p.Entity, terms[0])
		if err != nil {
			return nil, err
		}
		if c.Field == filter.DocumentID && c.Op == filter.Eq && p.CanShortcut() {
			return p.WithIdentifier(c.Value)
		}
		return p.WithFilter(c)
	}
	if p.IdentifierOnly && slices.ContainsFunc(terms, isOr) {
		return nil, domain.Unsupported("OR filter", "cannot combine OR with an identifier lookup")
	}
	for _, term := range terms {
		var err error
		if isOr(term) {
			p, err = t.orGroup(p, term)
		} else {
			p, err = t.and(p, term)
		}
		if err != nil {
			return nil, err
		}
	}
	return p, nil
}

func isOr(e *expr.Expr) bool {
	return e.Kind == expr.KindLogical && e.Logic == expr.Or
}

func conjuncts(e *expr.Expr) []*expr.Expr {
	if e.Kind != expr.KindLogical || e.Logic != expr.And {
		return []*expr.Expr{e}
	}
	var out []*expr.Expr
	for _, o := range e.Operands {
		out = append(out, conjuncts(o)...)
	}
	return out
}

func (t *Translator) and(p *plan.Plan, term *expr.Expr) (*plan.Plan, error) {
	c, err := t.clause(p.Entity, term)
	if err != nil {
		return nil, err
	}
	return p.WithFilter(c)
}

func (t *Translator) orGroup(p *plan.Plan, term *expr.Expr) (*plan.Plan, error) {
	if p.IdentifierOnly {
		return nil, domain.Unsupported("OR filter", "cannot combine OR with an identifier lookup")
	}
	var group []plan.Clause
	var walk func(e *expr.Expr) error
	walk = func(e *expr.Expr) error {
		if e.Kind == expr.KindLogical {
			if e.Logic == expr.And {
				return domain.Unsupported(e.String(), "AND nested inside OR")
			}
			for _, o := range e.Operands {
				if err := walk(o); err != nil {
					return err
				}
			}
			return nil
		}
		c, err := t.clause(p.Entity, e)
		if err != nil {
			return err
		}
		group = append(group, c)
		return nil
	}
	if err := walk(term); err != nil {
		return nil, err
	}
	return p.WithOrGroup(group)
}

var flipped = map[filter.Op]filter.Op{
	filter.Eq:  filter.Eq,
	filter.Ne:  filter.Ne,
	filter.Lt:  filter.Gt,
	filter.Lte: filter.Gte,
	filter.Gt:  filter.Lt,
	filter.Gte: filter.Lte,
}

// clause lowers one leaf comparison.
func (t *Translator) clause(e *model.Entity, leaf *expr.Expr) (plan.Clause, error) {
	switch leaf.Kind {
	case expr.KindCompare:
		l, r := expr.Unwrap(leaf.Left), expr.Unwrap(leaf.Right)
		lm, rm := l.Kind == expr.KindMember, r.Kind == expr.KindMember
		switch {
		case lm && rm:
			return plan.Clause{}, domain.Unsupported(leaf.String(), "comparing two members")
		case lm:
			return t.compare(e, l, leaf.Cmp, leaf.Right)
		case rm:
			op, ok := flipped[leaf.Cmp]
			if !ok {
				return plan.Clause{}, domain.Unsupported(leaf.String(), "operator cannot be reversed")
			}
			return t.compare(e, r, op, leaf.Left)
		default:
			return plan.Clause{}, domain.Unsupported(leaf.String(), "comparison without a member")
		}
	case expr.KindMember:
		res, err := e.Resolve(leaf.Path)
		if err != nil {
			return plan.Clause{}, err
		}
		if res.Type == nil || res.Type.Kind() != reflect.Bool {
			return plan.Clause{}, domain.Unsupported(leaf.String(), "non-boolean member used as a predicate")
		}
		return plan.Clause{Field: res.Path, Op: filter.Eq, Value: plan.Literal(true)}, nil
	case expr.KindCall:
		return t.call(e, leaf)
	default:
		return plan.Clause{}, domain.Unsupported(leaf.String(), "filter expression")
	}
}

func (t *Translator) compare(e *model.Entity, member *expr.Expr, op filter.Op, value *expr.Expr) (plan.Clause, error) {
	res, err := e.Resolve(member.Path)
	if err != nil {
		return plan.Clause{}, err
	}
	if res.Navigation != nil && res.Navigation.Many {
		return plan.Clause{}, domain.Unsupported(member.String(), "filtering on a child collection")
	}
	typ := res.Type
	if op == filter.In || op == filter.NotIn {
		typ = reflect.SliceOf(typ)
	}
	v, err := t.value(res, value, typ)
	if err != nil {
		return plan.Clause{}, err
	}
	return plan.Clause{Field: res.Path, Op: op, Value: v}, nil
}

// call lowers list membership: member.Contains(v) is array-contains and
// list.Contains(member) is in.
func (t *Translator) call(e *model.Entity, c *expr.Expr) (plan.Clause, error) {
	if c.Name != "Contains" && c.Name != "ContainsAny" || len(c.Operands) != 2 {
		return plan.Clause{}, domain.Unsupported(c.String(), "method call in filter")
	}
	recv, arg := expr.Unwrap(c.Operands[0]), expr.Unwrap(c.Operands[1])
	switch {
	case recv.Kind == expr.KindMember && arg.Kind != expr.KindMember:
		res, err := e.Resolve(recv.Path)
		if err != nil {
			return plan.Clause{}, err
		}
		var op filter.Op
		var typ reflect.Type
		switch {
		case res.Type != nil && res.Type.Kind() == reflect.Slice:
			op, typ = filter.ArrayContains, res.Type.Elem()
			if c.Name == "ContainsAny" {
				op, typ = filter.ArrayContainsAny, res.Type
			}
		case res.Field == nil && res.Type == anyType:
			// dynamic member: the element type is unknown until read
			op = filter.ArrayContains
			if c.Name == "ContainsAny" {
				op, typ = filter.ArrayContainsAny, anyListType
			}
		default:
			return plan.Clause{}, domain.Unsupported(c.String(), "Contains on a non-list member")
		}
		v, err := t.value(res, c.Operands[1], typ)
		if err != nil {
			return plan.Clause{}, err
		}
		return plan.Clause{Field: res.Path, Op: op, Value: v}, nil
	case arg.Kind == expr.KindMember && recv.Kind != expr.KindMember && c.Name == "Contains":
		return t.compare(e, arg, filter.In, c.Operands[0])
	default:
		return plan.Clause{}, domain.Unsupported(c.String(), "Contains must relate one member to a value")
	}
}

// value encodes a comparison value against the member's declared type, or
// defers it when it depends on parameters or closures.
func (t *Translator) value(res model.Resolved, v *expr.Expr, typ reflect.Type) (plan.Value, error) {
	v = expr.Fold(v)
	if expr.HasMember(v) {
		return plan.Value{}, domain.Unsupported(v.String(), "value depends on the document")
	}
	if v.Kind != expr.KindConstant {
		if !expr.IsDeferred(v) {
			return plan.Value{}, domain.Unsupported(v.String(), "value expression")
		}
		return plan.Deferred(v, typ), nil
	}
	n, err := t.Encode(res, v.Value, typ)
	if err != nil {
		return plan.Value{}, err
	}
	return plan.Literal(n), nil
}

// Encode converts a Go value into its stored form for comparison with the
// resolved member. Identifiers stay strings and reference fields accept a
// path or a Ref.
func (t *Translator) Encode(res model.Resolved, v any, typ reflect.Type) (any, error) {
	if res.Identifier {
		if rp, ok := refPath(v); ok {
			return rp, nil
		}
		if s, ok := v.(string); ok {
			return s, nil
		}
		if list, ok := v.([]string); ok {
			out := make([]any, len(list))
			for i, s := range list {
				out[i] = s
			}
			return out, nil
		}
		return nil, &domain.ConversionError{Field: res.Path, Value: v, Target: "identifier",
			Err: fmt.Errorf("identifiers are strings")}
	}
	if res.Field != nil && res.Field.Kind == model.KindReference {
		if rp, ok := refPath(v); ok {
			return codec.Reference{Path: rp}, nil
		}
		if s, ok := v.(string); ok {
			return codec.Reference{Path: s}, nil
		}
	}
	n, err := t.codec.EncodeAs(v, typ)
	if err != nil {
		var ce *domain.ConversionError
		if errors.As(err, &ce) && ce.Field == "" {
			ce.Field = res.Path
		}
		return nil, err
	}
	return n, nil
}

func refPath(v any) (string, bool) {
	if v == nil {
		return "", false
	}
	if rf, ok := v.(model.RefField); ok {
		return rf.RefPath(), true
	}
	rv := reflect.ValueOf(v)
	if !model.IsRef(rv.Type()) {
		return "", false
	}
	ptr := reflect.New(rv.Type())
	ptr.Elem().Set(rv)
	return ptr.Interface().(model.RefField).RefPath(), true
}

// Sort applies an ordering key. first replaces any existing ordering.
func (t *Translator) Sort(p *plan.Plan, key *expr.Expr, descending, first bool) (*plan.Plan, error) {
	m := expr.Unwrap(key)
	if m == nil || m.Kind != expr.KindMember {
		return nil, domain.Unsupported(key.String(), "ordering by a computed value")
	}
	res, err := p.Entity.Resolve(m.Path)
	if err != nil {
		return nil, err
	}
	if res.Navigation != nil && res.Navigation.Many {
		return nil, domain.Unsupported(key.String(), "ordering by a child collection")
	}
	return p.WithSort(plan.SortKey{Field: res.Path, Descending: descending}, first)
}

func (t *Translator) bound(op string, n *expr.Expr) (plan.Value, error) {
	n = expr.Fold(n)
	if n == nil {
		return plan.Value{}, fmt.Errorf("%w: %s without a count", domain.ErrInvalidPlan, op)
	}
	if expr.HasMember(n) {
		return plan.Value{}, domain.Unsupported(op, "count depends on the document")
	}
	if n.Kind != expr.KindConstant {
		return plan.Deferred(n, int64Type), nil
	}
	v, ok := codec.ToInt64(n.Value)
	if !ok || v < 0 {
		return plan.Value{}, fmt.Errorf("%w: %s count %v", domain.ErrInvalidPlan, op, n.Value)
	}
	return plan.Literal(v), nil
}

// Limit takes the first n rows.
func (t *Translator) Limit(p *plan.Plan, n *expr.Expr) (*plan.Plan, error) {
	v, err := t.bound("Limit", n)
	if err != nil {
		return nil, err
	}
	return p.WithLimit(v)
}

// LimitToLast takes the last n rows of the ordering.
func (t *Translator) LimitToLast(p *plan.Plan, n *expr.Expr) (*plan.Plan, error) {
	v, err := t.bound("LimitToLast", n)
	if err != nil {
		return nil, err
	}
	return p.WithLimitToLast(v)
}

// Skip drops the first n rows.
func (t *Translator) Skip(p *plan.Plan, n *expr.Expr) (*plan.Plan, error) {
	v, err := t.bound("Skip", n)
	if err != nil {
		return nil, err
	}
	return p.WithSkip(v)
}

// Count turns the plan into a count, optionally filtered by pred.
func (t *Translator) Count(p *plan.Plan, pred *expr.Expr) (*plan.Plan, error) {
	p, err := t.optionalFilter(p, pred)
	if err != nil {
		return nil, err
	}
	return p.AsCount()
}

// Any turns the plan into an existence check.
func (t *Translator) Any(p *plan.Plan, pred *expr.Expr) (*plan.Plan, error) {
	p, err := t.optionalFilter(p, pred)
	if err != nil {
		return nil, err
	}
	return p.AsExists()
}

// First requests at most one row. An identifier lookup already returns at
// most one, so no limit is added.
func (t *Translator) First(p *plan.Plan, pred *expr.Expr, orDefault bool) (*plan.Plan, error) {
	return t.cardinality(p, pred, plan.ReturnFirst, orDefault, 1)
}

// Single requests two rows so that a second match can be detected.
func (t *Translator) Single(p *plan.Plan, pred *expr.Expr, orDefault bool) (*plan.Plan, error) {
	return t.cardinality(p, pred, plan.ReturnSingle, orDefault, 2)
}

func (t *Translator) cardinality(p *plan.Plan, pred *expr.Expr, kind plan.ReturnKind, orDefault bool, limit int64) (*plan.Plan, error) {
	p, err := t.optionalFilter(p, pred)
	if err != nil {
		return nil, err
	}
	p, err = p.WithReturn(kind, orDefault)
	if err != nil {
		return nil, err
	}
	if p.IdentifierOnly || p.LimitToLast != nil {
		return p, nil
	}
	if p.Limit != nil && !p.Limit.IsDeferred() {
		if n, _ := p.Limit.Literal.(int64); n <= limit {
			return p, nil
		}
	}
	return p.WithLimit(plan.Literal(limit))
}

func (t *Translator) optionalFilter(p *plan.Plan, pred *expr.Expr) (*plan.Plan, error) {
	if pred == nil {
		return p, nil
	}
	return t.Filter(p, pred)
}

// Aggregate requests a store-side aggregate over a simple member selector.
// Any other selector returns ErrNotApplicable.
func (t *Translator) Aggregate(p *plan.Plan, kind filter.Aggregate, selector *expr.Expr, resultType reflect.Type) (*plan.Plan, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: aggregate %q", domain.ErrInvalidPlan, kind)
	}
	a := plan.Aggregation{Kind: kind, ResultType: resultType}
	if kind.NeedsField() {
		field, err := aggregateField(p.Entity, selector)
		if err != nil {
			return nil, err
		}
		a.Field = field
	}
	return p.WithAggregation(a)
}

func aggregateField(e *model.Entity, selector *expr.Expr) (string, error) {
	m := expr.Unwrap(selector)
	if m == nil || m.Kind != expr.KindMember || len(m.Path) == 0 {
		return "", ErrNotApplicable
	}
	res, err := e.Resolve(m.Path)
	if err != nil {
		return "", ErrNotApplicable
	}
	if res.Identifier || res.Navigation != nil {
		return "", ErrNotApplicable
	}
	if (res.Field == nil && !e.Dynamic) || (res.Field != nil && res.Field.Kind != model.KindScalar) {
		return "", ErrNotApplicable
	}
	return res.Path, nil
}
