package eval

import (
	"testing"
	"time"

	"github.com/kailas-cloud/docq/internal/db"
	"github.com/kailas-cloud/docq/internal/domain/filter"
)

func docs() []*db.Document {
	return []*db.Document{
		{Path: "users/a", Fields: map[string]any{"name": "ann", "age": int64(31), "tags": []any{"vip"}, "addr": map[string]any{"city": "Oslo"}}},
		{Path: "users/b", Fields: map[string]any{"name": "bob", "age": int64(25), "tags": []any{}}},
		{Path: "users/c", Fields: map[string]any{"name": "cy", "age": 40.5, "addr": map[string]any{"city": "Rome"}}},
		{Path: "users/d", Fields: map[string]any{"name": "dee", "age": nil}},
	}
}

func paths(ds []*db.Document) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.Path
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestCompare_TypeOrder(t *testing.T) {
	ordered := []any{nil, false, true, int64(-1), 0.5, int64(2), time.Unix(0, 0), "a", "b", []byte("x")}
	for i := 0; i < len(ordered)-1; i++ {
		if Compare(ordered[i], ordered[i+1]) >= 0 {
			t.Errorf("Compare(%v, %v) should be negative", ordered[i], ordered[i+1])
		}
	}
	if Compare(int64(2), 2.0) != 0 {
		t.Error("int and float of equal value should compare equal")
	}
}

func TestMatch(t *testing.T) {
	tests := []struct {
		name string
		cond filter.Condition
		want []string
	}{
		{"eq", filter.Condition{Field: "name", Op: filter.Eq, Value: "bob"}, []string{"users/b"}},
		{"ne skips missing and null", filter.Condition{Field: "age", Op: filter.Ne, Value: int64(25)}, []string{"users/a", "users/c"}},
		{"gt mixed numbers", filter.Condition{Field: "age", Op: filter.Gt, Value: int64(30)}, []string{"users/a", "users/c"}},
		{"range ignores other types", filter.Condition{Field: "name", Op: filter.Lt, Value: int64(100)}, nil},
		{"nested", filter.Condition{Field: "addr.city", Op: filter.Eq, Value: "Rome"}, []string{"users/c"}},
		{"in", filter.Condition{Field: "name", Op: filter.In, Value: []any{"ann", "dee"}}, []string{"users/a", "users/d"}},
		{"not in", filter.Condition{Field: "name", Op: filter.NotIn, Value: []any{"ann", "dee"}}, []string{"users/b", "users/c"}},
		{"array contains", filter.Condition{Field: "tags", Op: filter.ArrayContains, Value: "vip"}, []string{"users/a"}},
		{"array contains any", filter.Condition{Field: "tags", Op: filter.ArrayContainsAny, Value: []any{"x", "vip"}}, []string{"users/a"}},
		{"document id", filter.Condition{Field: filter.DocumentID, Op: filter.Eq, Value: "c"}, []string{"users/c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, d := range docs() {
				if Match(d, tt.cond) {
					got = append(got, d.Path)
				}
			}
			if !equalStrings(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestApply(t *testing.T) {
	tests := []struct {
		name string
		q    db.Query
		want []string
	}{
		{"sort desc", db.Query{Orders: []filter.Order{{Field: "name", Descending: true}}}, []string{"users/d", "users/c", "users/b", "users/a"}},
		{"offset limit", db.Query{Orders: []filter.Order{{Field: "name"}}, Offset: 1, Limit: 2}, []string{"users/b", "users/c"}},
		{"limit to last", db.Query{Orders: []filter.Order{{Field: "name"}}, Limit: 1, LimitToLast: true}, []string{"users/d"}},
		{"offset past end", db.Query{Offset: 10}, []string{}},
		{"or group", db.Query{OrGroups: []filter.Group{{
			{Field: "name", Op: filter.Eq, Value: "ann"},
			{Field: "addr.city", Op: filter.Eq, Value: "Rome"},
		}}}, []string{"users/a", "users/c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := paths(Apply(docs(), &tt.q))
			if !equalStrings(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAggregate(t *testing.T) {
	out, err := Aggregate(docs(), []db.Aggregation{
		{Alias: "n", Kind: filter.Count},
		{Alias: "sum", Kind: filter.Sum, Field: "age"},
		{Alias: "avg", Kind: filter.Average, Field: "age"},
		{Alias: "min", Kind: filter.Min, Field: "age"},
		{Alias: "max", Kind: filter.Max, Field: "name"},
		{Alias: "none", Kind: filter.Average, Field: "missing"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if out["n"] != int64(4) {
		t.Errorf("count = %v", out["n"])
	}
	if out["sum"] != 96.5 {
		t.Errorf("sum = %v", out["sum"])
	}
	if out["avg"] != 96.5/3 {
		t.Errorf("avg = %v", out["avg"])
	}
	if out["min"] != int64(25) {
		t.Errorf("min = %v", out["min"])
	}
	if out["max"] != "dee" {
		t.Errorf("max = %v", out["max"])
	}
	if out["none"] != nil {
		t.Errorf("avg over nothing = %v", out["none"])
	}
}

func TestAggregate_IntegerSum(t *testing.T) {
	out, err := Aggregate(docs()[:2], []db.Aggregation{{Alias: "s", Kind: filter.Sum, Field: "age"}})
	if err != nil {
		t.Fatal(err)
	}
	if out["s"] != int64(56) {
		t.Errorf("sum = %#v, want int64(56)", out["s"])
	}
}
