// Package eval evaluates filters, orderings, pagination and aggregations over
// raw documents for gateways without a native query engine.
package eval

import (
	"bytes"
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/kailas-cloud/docq/internal/codec"
	"github.com/kailas-cloud/docq/internal/db"
	"github.com/kailas-cloud/docq/internal/domain/filter"
)

// Type ranks order values of different native types.
const (
	rankNull = iota
	rankBool
	rankNumber
	rankTime
	rankString
	rankBytes
	rankReference
	rankGeo
	rankList
	rankMap
	rankUnknown
)

func rank(v any) int {
	switch v.(type) {
	case nil:
		return rankNull
	case bool:
		return rankBool
	case int64, float64, int, int32:
		return rankNumber
	case time.Time:
		return rankTime
	case string:
		return rankString
	case []byte:
		return rankBytes
	case codec.Reference:
		return rankReference
	case codec.GeoPoint:
		return rankGeo
	case []any:
		return rankList
	case map[string]any:
		return rankMap
	default:
		return rankUnknown
	}
}

// Comparable reports whether a and b belong to the same type class.
func Comparable(a, b any) bool {
	return rank(a) == rank(b)
}

// Compare orders two native values: first by type class, then by value.
func Compare(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return cmp.Compare(ra, rb)
	}
	switch ra {
	case rankNull:
		return 0
	case rankBool:
		x, y := a.(bool), b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		default:
			return 1
		}
	case rankNumber:
		return compareNumbers(a, b)
	case rankTime:
		return a.(time.Time).Compare(b.(time.Time))
	case rankString:
		return strings.Compare(a.(string), b.(string))
	case rankBytes:
		return bytes.Compare(a.([]byte), b.([]byte))
	case rankReference:
		return strings.Compare(a.(codec.Reference).Path, b.(codec.Reference).Path)
	case rankGeo:
		x, y := a.(codec.GeoPoint), b.(codec.GeoPoint)
		if c := cmp.Compare(x.Latitude, y.Latitude); c != 0 {
			return c
		}
		return cmp.Compare(x.Longitude, y.Longitude)
	case rankList:
		x, y := a.([]any), b.([]any)
		for i := range min(len(x), len(y)) {
			if c := Compare(x[i], y[i]); c != 0 {
				return c
			}
		}
		return cmp.Compare(len(x), len(y))
	case rankMap:
		return compareMaps(a.(map[string]any), b.(map[string]any))
	default:
		return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
	}
}

func compareNumbers(a, b any) int {
	ai, aInt := codec.ToInt64(a)
	bi, bInt := codec.ToInt64(b)
	if aInt && bInt {
		return cmp.Compare(ai, bi)
	}
	return cmp.Compare(toFloat(a), toFloat(b))
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case int:
		return float64(n)
	case int32:
		return float64(n)
	default:
		return 0
	}
}

func compareMaps(x, y map[string]any) int {
	kx, ky := sortedKeys(x), sortedKeys(y)
	for i := range min(len(kx), len(ky)) {
		if c := strings.Compare(kx[i], ky[i]); c != 0 {
			return c
		}
		if c := Compare(x[kx[i]], y[ky[i]]); c != 0 {
			return c
		}
	}
	return cmp.Compare(len(kx), len(ky))
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Equal reports whether two native values are equal.
func Equal(a, b any) bool {
	return Compare(a, b) == 0
}

// Lookup reads a dotted field path from a field map.
func Lookup(fields map[string]any, dotted string) (any, bool) {
	cur := any(fields)
	for _, seg := range strings.Split(dotted, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Value reads a field from a document; filter.DocumentID yields the document id.
func Value(doc *db.Document, field string) (any, bool) {
	if field == filter.DocumentID {
		return doc.ID(), true
	}
	return Lookup(doc.Fields, field)
}

// Match reports whether doc satisfies one condition. Documents missing the
// field never match.
func Match(doc *db.Document, c filter.Condition) bool {
	v, ok := Value(doc, c.Field)
	if !ok {
		return false
	}
	switch c.Op {
	case filter.Eq:
		return Equal(v, c.Value)
	case filter.Ne:
		return v != nil && !Equal(v, c.Value)
	case filter.Lt:
		return Comparable(v, c.Value) && Compare(v, c.Value) < 0
	case filter.Lte:
		return Comparable(v, c.Value) && Compare(v, c.Value) <= 0
	case filter.Gt:
		return Comparable(v, c.Value) && Compare(v, c.Value) > 0
	case filter.Gte:
		return Comparable(v, c.Value) && Compare(v, c.Value) >= 0
	case filter.In:
		return contains(asList(c.Value), v)
	case filter.NotIn:
		return v != nil && !contains(asList(c.Value), v)
	case filter.ArrayContains:
		list, ok := v.([]any)
		return ok && contains(list, c.Value)
	case filter.ArrayContainsAny:
		list, ok := v.([]any)
		if !ok {
			return false
		}
		for _, want := range asList(c.Value) {
			if contains(list, want) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func asList(v any) []any {
	if l, ok := v.([]any); ok {
		return l
	}
	return nil
}

func contains(list []any, v any) bool {
	for _, item := range list {
		if Equal(item, v) {
			return true
		}
	}
	return false
}

// Matches applies the AND-ed filters and every OR group of q.
func Matches(doc *db.Document, q *db.Query) bool {
	for _, c := range q.Filters {
		if !Match(doc, c) {
			return false
		}
	}
	for _, g := range q.OrGroups {
		hit := false
		for _, c := range g {
			if Match(doc, c) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	return true
}

// Sort orders docs in place by orders, falling back to document path.
func Sort(docs []*db.Document, orders []filter.Order) {
	slices.SortStableFunc(docs, func(a, b *db.Document) int {
		for _, o := range orders {
			va, _ := Value(a, o.Field)
			vb, _ := Value(b, o.Field)
			c := Compare(va, vb)
			if o.Descending {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return strings.Compare(a.Path, b.Path)
	})
}

// Apply filters, sorts and paginates docs for q.
func Apply(docs []*db.Document, q *db.Query) []*db.Document {
	out := make([]*db.Document, 0, len(docs))
	for _, d := range docs {
		if Matches(d, q) {
			out = append(out, d)
		}
	}
	Sort(out, q.Orders)

	if q.Offset > 0 {
		if q.Offset >= len(out) {
			return out[:0]
		}
		out = out[q.Offset:]
	}
	if q.Limit > 0 && len(out) > q.Limit {
		if q.LimitToLast {
			out = out[len(out)-q.Limit:]
		} else {
			out = out[:q.Limit]
		}
	}
	return out
}

// Aggregate computes each aggregation over docs, keyed by alias.
func Aggregate(docs []*db.Document, aggs []db.Aggregation) (map[string]any, error) {
	out := make(map[string]any, len(aggs))
	for _, a := range aggs {
		v, err := aggregate(docs, a)
		if err != nil {
			return nil, err
		}
		out[a.Alias] = v
	}
	return out, nil
}

func aggregate(docs []*db.Document, a db.Aggregation) (any, error) {
	switch a.Kind {
	case filter.Count:
		return int64(len(docs)), nil
	case filter.Sum, filter.Average:
		var (
			isum    int64
			fsum    float64
			n       int
			integer = true
		)
		for _, d := range docs {
			v, ok := Value(d, a.Field)
			if !ok || rank(v) != rankNumber {
				continue
			}
			n++
			if i, ok := v.(int64); ok && integer {
				isum += i
			} else {
				if integer {
					fsum = float64(isum)
					integer = false
				}
				fsum += toFloat(v)
			}
		}
		if a.Kind == filter.Average {
			if n == 0 {
				return nil, nil
			}
			if integer {
				return float64(isum) / float64(n), nil
			}
			return fsum / float64(n), nil
		}
		if integer {
			return isum, nil
		}
		return fsum, nil
	case filter.Min, filter.Max:
		var best any
		found := false
		for _, d := range docs {
			v, ok := Value(d, a.Field)
			if !ok || v == nil {
				continue
			}
			if !found {
				best, found = v, true
				continue
			}
			c := Compare(v, best)
			if (a.Kind == filter.Min && c < 0) || (a.Kind == filter.Max && c > 0) {
				best = v
			}
		}
		return best, nil
	default:
		return nil, fmt.Errorf("unknown aggregation %q", a.Kind)
	}
}
