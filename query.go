package docq

import (
	"context"
	"fmt"
	"maps"
	"reflect"

	"github.com/kailas-cloud/docq/internal/model"
	"github.com/kailas-cloud/docq/internal/pipeline"
	"github.com/kailas-cloud/docq/internal/query/expr"
	"github.com/kailas-cloud/docq/internal/query/plan"
)

// Query is an immutable query over a collection of T. Every operator
// returns a new Query; a translation error is kept and reported by the
// terminal operation.
type Query[T any] struct {
	s      *Session
	plan   *plan.Plan
	params map[string]any
	err    error
}

// From queries the root collection T is registered with.
func From[T any](s *Session) *Query[T] {
	e, err := s.c.entity(reflect.TypeFor[T]())
	if err != nil {
		return &Query[T]{s: s, err: err}
	}
	if e.Collection == "" {
		return &Query[T]{s: s, err: fmt.Errorf("%w: %s has no root collection, use FromCollection", ErrInvalidPlan, e)}
	}
	return &Query[T]{s: s, plan: plan.New(e, e.Collection)}
}

// FromCollection queries collectionPath, a root or child collection. With
// T = Document it queries schemaless documents.
func FromCollection[T any](s *Session, collectionPath string) *Query[T] {
	typ := reflect.TypeFor[T]()
	if typ.Kind() == reflect.Map {
		return &Query[T]{s: s, plan: plan.New(model.Dynamic(collectionPath), collectionPath)}
	}
	e, err := s.c.entity(typ)
	if err != nil {
		return &Query[T]{s: s, err: err}
	}
	return &Query[T]{s: s, plan: plan.New(e, collectionPath)}
}

func (q *Query[T]) next(p *plan.Plan, err error) *Query[T] {
	if q.err != nil {
		return q
	}
	out := &Query[T]{s: q.s, plan: p, params: q.params, err: err}
	if err != nil {
		out.plan = q.plan
	}
	return out
}

// Err returns the first error recorded while building the query.
func (q *Query[T]) Err() error { return q.err }

// Where filters by pred. Conditions joined with And become separate
// clauses; an Or becomes one disjunction group. An equality on the
// identifier of an otherwise unfiltered query becomes a point lookup.
func (q *Query[T]) Where(pred Expr) *Query[T] {
	if q.err != nil {
		return q
	}
	return q.next(q.s.c.tr.Filter(q.plan, pred.n))
}

// OrderBy replaces the ordering with key ascending.
func (q *Query[T]) OrderBy(key Expr) *Query[T] { return q.sort(key, false, true) }

// OrderByDesc replaces the ordering with key descending.
func (q *Query[T]) OrderByDesc(key Expr) *Query[T] { return q.sort(key, true, true) }

// ThenBy adds key ascending to the ordering.
func (q *Query[T]) ThenBy(key Expr) *Query[T] { return q.sort(key, false, false) }

// ThenByDesc adds key descending to the ordering.
func (q *Query[T]) ThenByDesc(key Expr) *Query[T] { return q.sort(key, true, false) }

func (q *Query[T]) sort(key Expr, desc, first bool) *Query[T] {
	if q.err != nil {
		return q
	}
	return q.next(q.s.c.tr.Sort(q.plan, key.n, desc, first))
}

// Limit keeps the first n results.
func (q *Query[T]) Limit(n int) *Query[T] { return q.LimitExpr(Value(int64(n))) }

// LimitExpr keeps the first n results, with n resolved at execution time.
func (q *Query[T]) LimitExpr(n Expr) *Query[T] {
	if q.err != nil {
		return q
	}
	return q.next(q.s.c.tr.Limit(q.plan, n.n))
}

// LimitToLast keeps the last n results of the ordering.
func (q *Query[T]) LimitToLast(n int) *Query[T] {
	if q.err != nil {
		return q
	}
	return q.next(q.s.c.tr.LimitToLast(q.plan, expr.Constant(int64(n))))
}

// Skip drops the first n results.
func (q *Query[T]) Skip(n int) *Query[T] { return q.SkipExpr(Value(int64(n))) }

// SkipExpr drops the first n results, with n resolved at execution time.
func (q *Query[T]) SkipExpr(n Expr) *Query[T] {
	if q.err != nil {
		return q
	}
	return q.next(q.s.c.tr.Skip(q.plan, n.n))
}

// Include loads a navigation with the results: a reference Field, or a
// child Collection optionally narrowed by Where, ordering, Skip and Take.
func (q *Query[T]) Include(nav Expression) *Query[T] {
	if q.err != nil {
		return q
	}
	return q.next(q.s.c.tr.Include(q.plan, nav.node()))
}

// WithParam binds a value for Param(name).
func (q *Query[T]) WithParam(name string, v any) *Query[T] {
	if q.err != nil {
		return q
	}
	out := *q
	out.params = maps.Clone(q.params)
	if out.params == nil {
		out.params = map[string]any{}
	}
	out.params[name] = v
	return &out
}

// LeftJoin accepts a join that follows a declared navigation from T to I
// and loads it like Include. Any other join is unsupported.
func LeftJoin[T, I any](q *Query[T], outerKey, innerKey Expr) *Query[T] {
	if q.err != nil {
		return q
	}
	inner, err := q.s.c.entity(reflect.TypeFor[I]())
	if err != nil {
		return q.next(nil, err)
	}
	return q.next(q.s.c.tr.LeftJoin(q.plan, inner, outerKey.n, innerKey.n))
}

func (q *Query[T]) execute(ctx context.Context, p *plan.Plan) (*pipeline.Exchange, error) {
	x := &pipeline.Exchange{Plan: p, Params: q.params, Tracker: q.s.tracker}
	if err := q.s.c.pipe.Execute(ctx, x); err != nil {
		return nil, err
	}
	return x, nil
}

// ToList returns every result.
func (q *Query[T]) ToList(ctx context.Context) ([]*T, error) {
	if q.err != nil {
		return nil, q.err
	}
	x, err := q.execute(ctx, q.plan)
	if err != nil {
		return nil, err
	}
	out := make([]*T, 0, len(x.Results))
	for _, v := range x.Results {
		t, err := entityOf[T](v)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// First returns the first result, failing with ErrNoElements when there is
// none.
func (q *Query[T]) First(ctx context.Context) (*T, error) { return q.one(ctx, plan.ReturnFirst, false) }

// FirstOrDefault returns the first result, or nil.
func (q *Query[T]) FirstOrDefault(ctx context.Context) (*T, error) {
	return q.one(ctx, plan.ReturnFirst, true)
}

// Single returns the only result, failing with ErrNoElements or
// ErrMultipleElements.
func (q *Query[T]) Single(ctx context.Context) (*T, error) { return q.one(ctx, plan.ReturnSingle, false) }

// SingleOrDefault returns the only result, or nil when there is none. More
// than one result fails with ErrMultipleElements.
func (q *Query[T]) SingleOrDefault(ctx context.Context) (*T, error) {
	return q.one(ctx, plan.ReturnSingle, true)
}

func (q *Query[T]) one(ctx context.Context, kind plan.ReturnKind, orDefault bool) (*T, error) {
	if q.err != nil {
		return nil, q.err
	}
	p, err := q.cardinality(q.plan, kind, orDefault)
	if err != nil {
		return nil, err
	}
	x, err := q.execute(ctx, p)
	if err != nil {
		return nil, err
	}
	if len(x.Results) == 0 {
		return nil, nil
	}
	return entityOf[T](x.Results[0])
}

func (q *Query[T]) cardinality(p *plan.Plan, kind plan.ReturnKind, orDefault bool) (*plan.Plan, error) {
	if kind == plan.ReturnSingle {
		return q.s.c.tr.Single(p, nil, orDefault)
	}
	return q.s.c.tr.First(p, nil, orDefault)
}

// Count returns the number of matching documents, computed by the store.
func (q *Query[T]) Count(ctx context.Context) (int64, error) {
	if q.err != nil {
		return 0, q.err
	}
	p, err := q.s.c.tr.Count(q.plan, nil)
	if err != nil {
		return 0, err
	}
	x, err := q.execute(ctx, p)
	if err != nil {
		return 0, err
	}
	n, _ := x.Scalar.(int64)
	return n, nil
}

// Any reports whether at least one document matches.
func (q *Query[T]) Any(ctx context.Context) (bool, error) {
	if q.err != nil {
		return false, q.err
	}
	p, err := q.s.c.tr.Any(q.plan, nil)
	if err != nil {
		return false, err
	}
	x, err := q.execute(ctx, p)
	if err != nil {
		return false, err
	}
	ok, _ := x.Scalar.(bool)
	return ok, nil
}

func entityOf[T any](v any) (*T, error) {
	switch x := v.(type) {
	case *T:
		return x, nil
	case T:
		return &x, nil
	default:
		return nil, fmt.Errorf("%w: result is %T, not %s", ErrInternal, v, reflect.TypeFor[T]())
	}
}
