package docq

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/kailas-cloud/docq/internal/codec"
	"github.com/kailas-cloud/docq/internal/db/eval"
	"github.com/kailas-cloud/docq/internal/domain/filter"
	"github.com/kailas-cloud/docq/internal/query/expr"
	"github.com/kailas-cloud/docq/internal/query/translate"
)

// Sum adds the selected member over the matching documents. An empty input
// sums to zero.
func Sum[R, T any](ctx context.Context, q *Query[T], sel Expr) (R, error) {
	return aggregate[R](ctx, q, filter.Sum, sel)
}

// Average averages the selected member. With no input it returns the zero
// value for a pointer R and ErrNoElements otherwise.
func Average[R, T any](ctx context.Context, q *Query[T], sel Expr) (R, error) {
	return aggregate[R](ctx, q, filter.Average, sel)
}

// Min returns the smallest selected value, with Average's empty-input rule.
func Min[R, T any](ctx context.Context, q *Query[T], sel Expr) (R, error) {
	return aggregate[R](ctx, q, filter.Min, sel)
}

// Max returns the largest selected value, with Average's empty-input rule.
func Max[R, T any](ctx context.Context, q *Query[T], sel Expr) (R, error) {
	return aggregate[R](ctx, q, filter.Max, sel)
}

func aggregate[R, T any](ctx context.Context, q *Query[T], kind filter.Aggregate, sel Expr) (R, error) {
	var zero R
	if q.err != nil {
		return zero, q.err
	}
	rt := reflect.TypeFor[R]()
	p, err := q.s.c.tr.Aggregate(q.plan, kind, sel.n, rt)
	if errors.Is(err, translate.ErrNotApplicable) {
		return fold[R](ctx, q, kind, sel)
	}
	if err != nil {
		return zero, err
	}
	x, err := q.execute(ctx, p)
	if err != nil {
		return zero, err
	}
	return scalarAs[R](q.s.c.table, x.Scalar)
}

// fold computes the aggregate in memory over the fetched rows, for
// selectors the store cannot evaluate.
func fold[R, T any](ctx context.Context, q *Query[T], kind filter.Aggregate, sel Expr) (R, error) {
	var zero R
	rows, err := q.ToList(ctx)
	if err != nil {
		return zero, err
	}
	values := make([]any, 0, len(rows))
	for _, row := range rows {
		v, err := expr.Eval(sel.n, rowEnv(row, q.params))
		if err != nil {
			return zero, fmt.Errorf("aggregate %s: %w", kind, err)
		}
		if v, err = q.s.c.table.Encode(v); err != nil {
			return zero, fmt.Errorf("aggregate %s: %w", kind, err)
		}
		if v != nil {
			values = append(values, v)
		}
	}

	if len(values) == 0 {
		if kind == filter.Sum {
			return scalarAs[R](q.s.c.table, int64(0))
		}
		if nullable(reflect.TypeFor[R]()) {
			return zero, nil
		}
		return zero, ErrNoElements
	}

	var out any
	switch kind {
	case filter.Sum, filter.Average:
		out, err = total(values, kind == filter.Average)
	case filter.Min, filter.Max:
		out = values[0]
		for _, v := range values[1:] {
			c := eval.Compare(v, out)
			if (kind == filter.Min && c < 0) || (kind == filter.Max && c > 0) {
				out = v
			}
		}
	default:
		err = fmt.Errorf("%w: aggregate %q", ErrInvalidPlan, kind)
	}
	if err != nil {
		return zero, err
	}
	return scalarAs[R](q.s.c.table, out)
}

func rowEnv(row any, params map[string]any) expr.Env {
	rv := reflect.ValueOf(row)
	if rv.Kind() == reflect.Pointer && !rv.IsNil() && rv.Elem().Kind() == reflect.Map {
		if doc, ok := rv.Elem().Interface().(Document); ok {
			return docEnv{doc: doc, params: params}
		}
	}
	return expr.StructEnv{Value: rv, Params: params}
}

// total sums numeric values, staying integral while every input is.
func total(values []any, average bool) (any, error) {
	var (
		ints     int64
		floats   float64
		integral = true
	)
	for _, v := range values {
		if n, ok := v.(int64); ok && integral {
			ints += n
			continue
		}
		f, ok := codec.ToFloat64(v)
		if !ok {
			return nil, fmt.Errorf("%w: cannot add %T", ErrUnsupported, v)
		}
		if integral {
			floats = float64(ints)
			integral = false
		}
		floats += f
	}
	if average {
		if integral {
			floats = float64(ints)
		}
		return floats / float64(len(values)), nil
	}
	if integral {
		return ints, nil
	}
	return floats, nil
}

func nullable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice:
		return true
	}
	return false
}

func scalarAs[R any](table *codec.Table, v any) (R, error) {
	var zero R
	switch x := v.(type) {
	case nil:
		return zero, nil
	case R:
		return x, nil
	}
	rv, err := table.Decode(v, reflect.TypeFor[R]())
	if err != nil {
		return zero, err
	}
	return rv.Interface().(R), nil
}

// docEnv evaluates member access against a schemaless document.
type docEnv struct {
	doc    Document
	params map[string]any
}

func (d docEnv) Param(name string) (any, bool) {
	v, ok := d.params[name]
	return v, ok
}

func (d docEnv) Member(path []string) (any, error) {
	var cur any = d.doc
	for _, seg := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, nil
		}
		cur = m[seg]
	}
	return cur, nil
}
