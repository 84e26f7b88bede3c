package memory

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/kailas-cloud/docq/internal/db"
	"github.com/kailas-cloud/docq/internal/domain/filter"
)

func seed(t *testing.T) *Store {
	t.Helper()
	s := New("test")
	ctx := context.Background()
	b := s.Batch()
	b.Create("users/a", map[string]any{"name": "ann", "age": int64(31)})
	b.Create("users/b", map[string]any{"name": "bob", "age": int64(25)})
	b.Create("users/a/orders/o1", map[string]any{"total": 10.0})
	b.Create("users/a/orders/o2", map[string]any{"total": 20.0})
	b.Create("users/a/orders/o1/lines/l1", map[string]any{"qty": int64(1)})
	b.Create("usersx/z", map[string]any{"name": "zed"})
	if err := b.Commit(ctx); err != nil {
		t.Fatal(err)
	}
	return s
}

func docPaths(docs []*db.Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.Path
	}
	return out
}

func TestList_DirectChildrenOnly(t *testing.T) {
	s := seed(t)
	ctx := context.Background()
	tests := []struct {
		collection string
		want       []string
	}{
		{"users", []string{"users/a", "users/b"}},
		{"users/a/orders", []string{"users/a/orders/o1", "users/a/orders/o2"}},
		{"users/a/orders/o1/lines", []string{"users/a/orders/o1/lines/l1"}},
		{"users/b/orders", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.collection, func(t *testing.T) {
			docs, err := s.List(ctx, tt.collection)
			if err != nil {
				t.Fatal(err)
			}
			if got := docPaths(docs); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGet_ReturnsCopy(t *testing.T) {
	s := seed(t)
	ctx := context.Background()
	d, err := s.Get(ctx, "users/a")
	if err != nil {
		t.Fatal(err)
	}
	d.Fields["name"] = "changed"
	again, _ := s.Get(ctx, "users/a")
	if again.Fields["name"] != "ann" {
		t.Error("stored document was mutated through a read")
	}
	if _, err := s.Get(ctx, "users/none"); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("err = %v", err)
	}
}

func TestRunQueryAndAggregate(t *testing.T) {
	s := seed(t)
	ctx := context.Background()
	docs, err := s.RunQuery(ctx, &db.Query{
		Collection: "users",
		Filters:    []filter.Condition{{Field: "age", Op: filter.Gt, Value: int64(26)}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := docPaths(docs); !reflect.DeepEqual(got, []string{"users/a"}) {
		t.Errorf("query = %v", got)
	}

	out, err := s.Aggregate(ctx, &db.AggregateQuery{
		Query:        db.Query{Collection: "users/a/orders"},
		Aggregations: []db.Aggregation{{Alias: "sum", Kind: filter.Sum, Field: "total"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if out["sum"] != 30.0 {
		t.Errorf("sum = %v", out["sum"])
	}
}

func TestBatch_Atomic(t *testing.T) {
	s := seed(t)
	ctx := context.Background()
	b := s.Batch()
	b.Set("users/c", map[string]any{"name": "cy"})
	b.Create("users/a", map[string]any{"name": "dup"})
	if err := b.Commit(ctx); !errors.Is(err, db.ErrExists) {
		t.Fatalf("err = %v, want ErrExists", err)
	}
	if ok, _ := s.Exists(ctx, "users/c"); ok {
		t.Error("failed batch must not apply earlier writes")
	}
}

func TestUpdate(t *testing.T) {
	s := seed(t)
	ctx := context.Background()
	if err := s.Update(ctx, "users/a", map[string]any{"age": int64(32), "addr.city": "Oslo"}); err != nil {
		t.Fatal(err)
	}
	d, _ := s.Get(ctx, "users/a")
	want := map[string]any{"name": "ann", "age": int64(32), "addr": map[string]any{"city": "Oslo"}}
	if !reflect.DeepEqual(d.Fields, want) {
		t.Errorf("fields = %v", d.Fields)
	}
	if err := s.Update(ctx, "users/none", map[string]any{"x": 1}); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("update missing err = %v", err)
	}
}

func TestDelete_LeavesChildren(t *testing.T) {
	s := seed(t)
	ctx := context.Background()
	if err := s.Delete(ctx, "users/a"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := s.Exists(ctx, "users/a/orders/o1"); !ok {
		t.Error("child documents are independent of their parent")
	}
}

func TestClosed(t *testing.T) {
	s := New("x")
	s.Close()
	if err := s.Ping(context.Background()); !errors.Is(err, db.ErrClosed) {
		t.Errorf("err = %v", err)
	}
}
