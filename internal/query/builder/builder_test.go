package builder

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/kailas-cloud/docq/internal/codec"
	"github.com/kailas-cloud/docq/internal/db"
	"github.com/kailas-cloud/docq/internal/domain"
	"github.com/kailas-cloud/docq/internal/domain/filter"
	"github.com/kailas-cloud/docq/internal/model"
	"github.com/kailas-cloud/docq/internal/query/expr"
	"github.com/kailas-cloud/docq/internal/query/plan"
	"github.com/kailas-cloud/docq/internal/query/translate"
)

type line struct {
	ID  string `docq:"id,id"`
	Qty int    `docq:"qty"`
}

type invoice struct {
	ID    string  `docq:"id,id"`
	Owner string  `docq:"owner"`
	Total float64 `docq:"total"`
	Lines []line  `docq:"lines,collection"`
}

type env struct {
	b  *Builder
	tr *translate.Translator
	e  *model.Entity
}

func newEnv(t *testing.T) env {
	t.Helper()
	e, err := model.NewRegistry().Register(reflect.TypeFor[invoice](), "invoices")
	if err != nil {
		t.Fatal(err)
	}
	return env{b: New(codec.Default), tr: translate.New(codec.Default), e: e}
}

func (v env) plan() *plan.Plan { return plan.New(v.e, "invoices") }

// must fails t when a plan operation errors: must(t)(tr.Limit(p, n)).
func must(t *testing.T) func(*plan.Plan, error) *plan.Plan {
	t.Helper()
	return func(p *plan.Plan, err error) *plan.Plan {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
		return p
	}
}

func TestBuild_Lookup(t *testing.T) {
	v := newEnv(t)
	p := must(t)(v.tr.Filter(v.plan(), expr.Compare(filter.Eq, expr.Member("ID"), expr.Parameter("id"))))
	l, err := v.b.Build(p, map[string]any{"id": "inv1"})
	if err != nil {
		t.Fatal(err)
	}
	if l.Kind != KindLookup || l.Path != "invoices/inv1" || l.Take != -1 {
		t.Errorf("lowered = %+v", l)
	}

	p = must(t)(v.tr.Skip(p, expr.Constant(1)))
	l, err = v.b.Build(p, map[string]any{"id": "inv1"})
	if err != nil {
		t.Fatal(err)
	}
	if l.Kind != KindLookup || l.Skip != 1 {
		t.Errorf("paged lookup = %+v", l)
	}
}

func TestBuild_LookupRejectsForeignPath(t *testing.T) {
	v := newEnv(t)
	p := must(t)(v.tr.Filter(v.plan(), expr.Compare(filter.Eq, expr.Member("ID"), expr.Constant("other/x"))))
	if _, err := v.b.Build(p, nil); !errors.Is(err, domain.ErrInvalidPlan) {
		t.Errorf("err = %v", err)
	}
}

func TestBuild_Collection(t *testing.T) {
	v := newEnv(t)
	p := must(t)(v.tr.Filter(v.plan(), expr.AndAlso(
		expr.Compare(filter.Eq, expr.Member("Owner"), expr.Parameter("owner")),
		expr.Compare(filter.Gt, expr.Member("Total"), expr.Constant(10)),
	)))
	p = must(t)(v.tr.Sort(p, expr.Member("Total"), true, true))
	p = must(t)(v.tr.Skip(p, expr.Constant(2)))
	p = must(t)(v.tr.Limit(p, expr.Parameter("n")))

	l, err := v.b.Build(p, map[string]any{"owner": "ann", "n": 5})
	if err != nil {
		t.Fatal(err)
	}
	want := &db.Query{
		Collection: "invoices",
		Filters: []filter.Condition{
			{Field: "owner", Op: filter.Eq, Value: "ann"},
			{Field: "total", Op: filter.Gt, Value: 10.0},
		},
		Orders: []filter.Order{{Field: "total", Descending: true}},
		Offset: 2,
		Limit:  5,
	}
	if l.Kind != KindCollection || !reflect.DeepEqual(l.Query, want) {
		t.Errorf("query = %+v, want %+v", l.Query, want)
	}
}

func TestBuild_UnboundParameter(t *testing.T) {
	v := newEnv(t)
	p := must(t)(v.tr.Filter(v.plan(), expr.Compare(filter.Eq, expr.Member("Owner"), expr.Parameter("owner"))))
	if _, err := v.b.Build(p, nil); !errors.Is(err, domain.ErrInvalidPlan) {
		t.Errorf("err = %v", err)
	}
}

func TestBuild_Aggregates(t *testing.T) {
	v := newEnv(t)

	l, err := v.b.Build(must(t)(v.tr.Count(v.plan(), nil)), nil)
	if err != nil {
		t.Fatal(err)
	}
	if l.Kind != KindAggregate || l.Aggregate.Aggregations[0].Alias != CountAlias || !l.Count {
		t.Errorf("count = %+v", l)
	}

	l, err = v.b.Build(must(t)(v.tr.Aggregate(v.plan(), filter.Average, expr.Member("Total"), nil)), nil)
	if err != nil {
		t.Fatal(err)
	}
	if a := l.Aggregate.Aggregations[0]; a.Kind != filter.Average || a.Field != "total" {
		t.Errorf("aggregation = %+v", a)
	}

	paged := must(t)(v.tr.Limit(v.plan(), expr.Constant(3)))
	if _, err := v.b.Build(must(t)(v.tr.Count(paged, nil)), nil); !errors.Is(err, domain.ErrUnsupported) {
		t.Errorf("paged count err = %v", err)
	}
}

func TestBuild_ExistsReadsOneRow(t *testing.T) {
	v := newEnv(t)
	l, err := v.b.Build(must(t)(v.tr.Any(v.plan(), expr.Compare(filter.Eq, expr.Member("Owner"), expr.Constant("ann")))), nil)
	if err != nil {
		t.Fatal(err)
	}
	if l.Kind != KindCollection || !l.Exists || l.Query.Limit != 1 {
		t.Errorf("exists = %+v", l)
	}
}

func TestBuild_ExistsOnIdentifierIsLookup(t *testing.T) {
	v := newEnv(t)
	p := must(t)(v.tr.Any(v.plan(), expr.Compare(filter.Eq, expr.Member("ID"), expr.Constant("inv1"))))
	l, err := v.b.Build(p, nil)
	if err != nil {
		t.Fatal(err)
	}
	if l.Kind != KindLookup || !l.Exists {
		t.Errorf("lowered = %+v", l)
	}
}

func TestBuild_LookupScalarsRejectPaging(t *testing.T) {
	v := newEnv(t)
	byID := must(t)(v.tr.Filter(v.plan(), expr.Compare(filter.Eq, expr.Member("ID"), expr.Constant("inv1"))))

	l, err := v.b.Build(must(t)(v.tr.Count(byID, nil)), nil)
	if err != nil {
		t.Fatal(err)
	}
	if l.Kind != KindLookup || !l.Count {
		t.Errorf("count = %+v", l)
	}

	tests := []struct {
		name  string
		paged *plan.Plan
		final func(*plan.Plan, *expr.Expr) (*plan.Plan, error)
	}{
		{"skip then count", must(t)(v.tr.Skip(byID, expr.Constant(1))), v.tr.Count},
		{"limit then count", must(t)(v.tr.Limit(byID, expr.Constant(0))), v.tr.Count},
		{"skip then any", must(t)(v.tr.Skip(byID, expr.Parameter("n"))), v.tr.Any},
		{"limit then any", must(t)(v.tr.Limit(byID, expr.Constant(5))), v.tr.Any},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := must(t)(tt.final(tt.paged, nil))
			if !p.IdentifierOnly {
				t.Fatalf("plan is not a lookup: %+v", p)
			}
			if _, err := v.b.Build(p, map[string]any{"n": 1}); !errors.Is(err, domain.ErrUnsupported) {
				t.Errorf("err = %v, want ErrUnsupported", err)
			}
		})
	}
}

func TestChildCollection(t *testing.T) {
	v := newEnv(t)
	sel := expr.New(nil, expr.Bind("Qty", expr.Sequence("Lines").With(expr.StepSum, expr.Member("Qty"))))
	p := must(t)(v.tr.Select(v.plan(), sel, nil))
	sub := p.Projection.Subcollections[0]

	l, err := v.b.ChildCollection("invoices/inv1", sub, nil)
	if err != nil {
		t.Fatal(err)
	}
	if l.Kind != KindAggregate || l.Aggregate.Query.Collection != "invoices/inv1/lines" {
		t.Errorf("lowered = %+v", l)
	}
}

type reader struct {
	get       func(ctx context.Context, path string) (*db.Document, error)
	exists    func(ctx context.Context, path string) (bool, error)
	runQuery  func(ctx context.Context, q *db.Query) ([]*db.Document, error)
	aggregate func(ctx context.Context, q *db.AggregateQuery) (map[string]any, error)
}

func (r *reader) Get(ctx context.Context, path string) (*db.Document, error) { return r.get(ctx, path) }
func (r *reader) Exists(ctx context.Context, path string) (bool, error)    { return r.exists(ctx, path) }
func (r *reader) List(ctx context.Context, collectionPath string) ([]*db.Document, error) {
	return r.runQuery(ctx, &db.Query{Collection: collectionPath})
}
func (r *reader) RunQuery(ctx context.Context, q *db.Query) ([]*db.Document, error) {
	return r.runQuery(ctx, q)
}
func (r *reader) Aggregate(ctx context.Context, q *db.AggregateQuery) (map[string]any, error) {
	return r.aggregate(ctx, q)
}

func TestRun_Lookup(t *testing.T) {
	r := &reader{
		get: func(_ context.Context, path string) (*db.Document, error) {
			if path == "invoices/missing" {
				return nil, &db.Error{Op: db.OpGet, Err: db.ErrNotFound}
			}
			return &db.Document{Path: path, Fields: map[string]any{}}, nil
		},
	}
	res, err := Run(context.Background(), r, &Lowered{Kind: KindLookup, Path: "invoices/a", Take: -1})
	if err != nil || len(res.Docs) != 1 {
		t.Fatalf("res = %+v, %v", res, err)
	}
	res, err = Run(context.Background(), r, &Lowered{Kind: KindLookup, Path: "invoices/missing", Take: -1})
	if err != nil || len(res.Docs) != 0 {
		t.Errorf("missing = %+v, %v", res, err)
	}
	res, err = Run(context.Background(), r, &Lowered{Kind: KindLookup, Path: "invoices/a", Skip: 1, Take: -1})
	if err != nil || len(res.Docs) != 0 {
		t.Errorf("skipped = %+v, %v", res, err)
	}
}

func TestRun_Count(t *testing.T) {
	r := &reader{
		aggregate: func(context.Context, *db.AggregateQuery) (map[string]any, error) {
			return map[string]any{CountAlias: int64(7)}, nil
		},
	}
	res, err := Run(context.Background(), r, &Lowered{Kind: KindAggregate, Count: true, Aggregate: &db.AggregateQuery{}})
	if err != nil || res.Count != 7 {
		t.Errorf("res = %+v, %v", res, err)
	}
}
