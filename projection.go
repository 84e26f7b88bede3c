package docq

import (
	"context"
	"fmt"
	"reflect"

	"github.com/kailas-cloud/docq/internal/query/plan"
)

// Projection is a query whose results are shaped as P.
type Projection[P any] struct {
	s      *Session
	plan   *plan.Plan
	params map[string]any
	err    error
}

// Select projects the results of q into P. The selector is a Field, a
// Collection sequence, a Shape (P = Document) or a Record[P]. Only the
// selected members are read; child collections and their aggregates are
// loaded per result.
func Select[T, P any](q *Query[T], sel Expression) *Projection[P] {
	pr := &Projection[P]{s: q.s, plan: q.plan, params: q.params, err: q.err}
	if pr.err != nil {
		return pr
	}
	p, err := q.s.c.tr.Select(q.plan, sel.node(), reflect.TypeFor[P]())
	if err != nil {
		pr.err = err
		return pr
	}
	pr.plan = p
	return pr
}

// Err returns the first error recorded while building the projection.
func (q *Projection[P]) Err() error { return q.err }

// ToList returns every projected result.
func (q *Projection[P]) ToList(ctx context.Context) ([]P, error) {
	if q.err != nil {
		return nil, q.err
	}
	return q.run(ctx, q.plan)
}

// First returns the first projected result, failing with ErrNoElements.
func (q *Projection[P]) First(ctx context.Context) (P, error) {
	return q.one(ctx, plan.ReturnFirst)
}

// Single returns the only projected result, failing with ErrNoElements or
// ErrMultipleElements.
func (q *Projection[P]) Single(ctx context.Context) (P, error) {
	return q.one(ctx, plan.ReturnSingle)
}

func (q *Projection[P]) one(ctx context.Context, kind plan.ReturnKind) (P, error) {
	var zero P
	if q.err != nil {
		return zero, q.err
	}
	var (
		p   *plan.Plan
		err error
	)
	if kind == plan.ReturnSingle {
		p, err = q.s.c.tr.Single(q.plan, nil, false)
	} else {
		p, err = q.s.c.tr.First(q.plan, nil, false)
	}
	if err != nil {
		return zero, err
	}
	out, err := q.run(ctx, p)
	if err != nil {
		return zero, err
	}
	return out[0], nil
}

func (q *Projection[P]) run(ctx context.Context, p *plan.Plan) ([]P, error) {
	x, err := (&Query[P]{s: q.s, params: q.params}).execute(ctx, p)
	if err != nil {
		return nil, err
	}
	out := make([]P, 0, len(x.Results))
	for _, v := range x.Results {
		r, err := q.convert(v)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// convert accepts P, *P, nil and any stored value the codec can decode
// into P.
func (q *Projection[P]) convert(v any) (P, error) {
	var zero P
	switch x := v.(type) {
	case nil:
		return zero, nil
	case P:
		return x, nil
	case *P:
		if x == nil {
			return zero, nil
		}
		return *x, nil
	}
	rv, err := q.s.c.table.Decode(v, reflect.TypeFor[P]())
	if err != nil {
		return zero, fmt.Errorf("projection result %T: %w", v, err)
	}
	return rv.Interface().(P), nil
}
