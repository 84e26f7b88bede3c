package navigation

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"testing"

	"go.uber.org/zap"

	"github.com/kailas-cloud/docq/internal/codec"
	"github.com/kailas-cloud/docq/internal/db"
	"github.com/kailas-cloud/docq/internal/db/memory"
	"github.com/kailas-cloud/docq/internal/domain/filter"
	"github.com/kailas-cloud/docq/internal/model"
	"github.com/kailas-cloud/docq/internal/query/builder"
	"github.com/kailas-cloud/docq/internal/query/expr"
	"github.com/kailas-cloud/docq/internal/query/plan"
	"github.com/kailas-cloud/docq/internal/query/translate"
)

type line struct {
	ID  string `docq:"id,id"`
	Qty int    `docq:"qty"`
}

type order struct {
	ID    string  `docq:"id,id"`
	Total float64 `docq:"total"`
	Lines []line  `docq:"lines,collection"`
}

type address struct {
	City  string           `docq:"city"`
	Depot model.Ref[order] `docq:"depot"`
}

type customer struct {
	ID      string           `docq:"id,id"`
	Name    string           `docq:"name"`
	Best    model.Ref[order] `docq:"best,ref"`
	Address address          `docq:"address"`
	Orders  []order          `docq:"orders,collection"`
}

type fixture struct {
	store *memory.Store
	tr    *translate.Translator
	e     *model.Entity
	r     *Resolver
	docs  []*db.Document
}

func setup(t *testing.T, pooled bool) fixture {
	t.Helper()
	ctx := context.Background()
	s := memory.New("test")
	b := s.Batch()
	b.Create("customers/c1", map[string]any{
		"name":    "ann",
		"best":    codec.Reference{Path: "customers/c1/orders/o1"},
		"address": map[string]any{"city": "Oslo", "depot": codec.Reference{Path: "customers/c1/orders/o2"}},
	})
	b.Create("customers/c2", map[string]any{"name": "bob", "best": codec.Reference{Path: "customers/c2/orders/gone"}})
	b.Create("customers/c1/orders/o1", map[string]any{"total": 10.0})
	b.Create("customers/c1/orders/o2", map[string]any{"total": 20.0})
	b.Create("customers/c1/orders/o1/lines/l1", map[string]any{"qty": int64(3)})
	if err := b.Commit(ctx); err != nil {
		t.Fatal(err)
	}
	e, err := model.NewRegistry().Register(reflect.TypeFor[customer](), "customers")
	if err != nil {
		t.Fatal(err)
	}
	docs, err := s.List(ctx, "customers")
	if err != nil {
		t.Fatal(err)
	}

	r := New(builder.New(nil), nil)
	if pooled {
		pool, err := NewPool(4, zap.NewNop())
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(pool.Release)
		r = New(builder.New(nil), pool)
	}
	return fixture{store: s, tr: translate.New(nil), e: e, r: r, docs: docs}
}

func (f fixture) load(t *testing.T, p *plan.Plan) sideView {
	t.Helper()
	side, err := f.r.Load(context.Background(), f.store, p.Freeze(), f.docs, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return sideView{side: side}
}

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

type sideView struct {
	side interface {
		Doc(string) (*db.Document, bool)
		Children(string, string) ([]*db.Document, bool)
		Aggregate(string, string) (any, bool)
	}
}

func (v sideView) children(t *testing.T, parent, name string) []string {
	t.Helper()
	docs, ok := v.side.Children(parent, name)
	if !ok {
		t.Fatalf("%s:%s was not loaded", parent, name)
	}
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.Path
	}
	sort.Strings(out)
	return out
}

func TestLoad_Includes(t *testing.T) {
	for _, pooled := range []bool{false, true} {
		f := setup(t, pooled)
		p := plan.New(f.e, "customers")
		p = must(t)(f.tr.Include(p, expr.Member("Orders")))
		p = must(t)(f.tr.Include(p, expr.Member("Best")))
		v := f.load(t, p)

		if got := v.children(t, "customers/c1", "Orders"); !reflect.DeepEqual(got, []string{"customers/c1/orders/o1", "customers/c1/orders/o2"}) {
			t.Errorf("pooled=%v c1 orders = %v", pooled, got)
		}
		if got := v.children(t, "customers/c2", "Orders"); len(got) != 0 {
			t.Errorf("pooled=%v c2 orders = %v", pooled, got)
		}
		if _, ok := v.side.Doc("customers/c1/orders/o1"); !ok {
			t.Errorf("pooled=%v referenced order not side-loaded", pooled)
		}
		if _, ok := v.side.Doc("customers/c2/orders/gone"); ok {
			t.Errorf("pooled=%v missing reference should stay unpopulated", pooled)
		}
	}
}

func TestLoad_NestedReference(t *testing.T) {
	f := setup(t, false)
	p := plan.New(f.e, "customers")
	p = must(t)(f.tr.Include(p, expr.Member("Address", "Depot")))
	p = must(t)(f.tr.Include(p, expr.Member("Best")))
	v := f.load(t, p)

	for _, want := range []string{"customers/c1/orders/o2", "customers/c1/orders/o1"} {
		if _, ok := v.side.Doc(want); !ok {
			t.Errorf("%s not side-loaded", want)
		}
	}
}

func TestLoad_FilteredInclude(t *testing.T) {
	f := setup(t, false)
	seq := expr.Sequence("Orders").
		With(expr.StepWhere, expr.Compare(filter.Gt, expr.Member("Total"), expr.Constant(15.0)))
	p := must(t)(f.tr.Include(plan.New(f.e, "customers"), seq))
	v := f.load(t, p)

	if got := v.children(t, "customers/c1", "Orders"); !reflect.DeepEqual(got, []string{"customers/c1/orders/o2"}) {
		t.Errorf("orders = %v", got)
	}
}

func TestLoad_ProjectionSubcollections(t *testing.T) {
	f := setup(t, true)
	sel := expr.New(nil,
		expr.Bind("Name", expr.Member("Name")),
		expr.Bind("OrderCount", expr.Sequence("Orders").With(expr.StepCount, nil)),
		expr.Bind("Orders", expr.Sequence("Orders").With(expr.StepSelect, expr.New(nil,
			expr.Bind("Total", expr.Member("Total")),
			expr.Bind("LineCount", expr.Sequence("Lines").With(expr.StepCount, nil)),
		))),
	)
	p := must(t)(f.tr.Select(plan.New(f.e, "customers"), sel, nil))
	v := f.load(t, p)

	if n, _ := v.side.Aggregate("customers/c1", "OrderCount"); n != int64(2) {
		t.Errorf("c1 OrderCount = %v", n)
	}
	if n, _ := v.side.Aggregate("customers/c2", "OrderCount"); n != int64(0) {
		t.Errorf("c2 OrderCount = %v", n)
	}
	if got := v.children(t, "customers/c1", "Orders"); len(got) != 2 {
		t.Errorf("orders = %v", got)
	}
	if n, _ := v.side.Aggregate("customers/c1/orders/o1", "LineCount"); n != int64(1) {
		t.Errorf("o1 LineCount = %v", n)
	}
	if n, _ := v.side.Aggregate("customers/c1/orders/o2", "LineCount"); n != int64(0) {
		t.Errorf("o2 LineCount = %v", n)
	}
}

func TestLoad_NothingToLoad(t *testing.T) {
	f := setup(t, false)
	side, err := f.r.Load(context.Background(), nil, plan.New(f.e, "customers"), f.docs, nil)
	if err != nil || side == nil {
		t.Fatalf("side = %v, err = %v", side, err)
	}
}

type failingReader struct{ db.Reader }

var errDown = errors.New("down")

func (failingReader) RunQuery(context.Context, *db.Query) ([]*db.Document, error) {
	return nil, errDown
}

func TestLoad_GatewayError(t *testing.T) {
	f := setup(t, true)
	p := must(t)(f.tr.Include(plan.New(f.e, "customers"), expr.Member("Orders")))
	_, err := f.r.Load(context.Background(), failingReader{f.store}, p, f.docs, nil)
	if !errors.Is(err, errDown) {
		t.Errorf("err = %v, want gateway error", err)
	}
}
