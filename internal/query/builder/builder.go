// Package builder lowers a finished plan into a concrete store request:
// a point lookup, a collection query or an aggregation query. Deferred
// values are resolved against the execution parameters here, so one plan
// can be executed many times.
package builder

import (
	"fmt"
	"strings"

	"github.com/kailas-cloud/docq/internal/codec"
	"github.com/kailas-cloud/docq/internal/db"
	"github.com/kailas-cloud/docq/internal/domain"
	"github.com/kailas-cloud/docq/internal/domain/filter"
	"github.com/kailas-cloud/docq/internal/domain/path"
	"github.com/kailas-cloud/docq/internal/model"
	"github.com/kailas-cloud/docq/internal/query/expr"
	"github.com/kailas-cloud/docq/internal/query/plan"
	"github.com/kailas-cloud/docq/internal/query/translate"
)

// Kind is the shape of the lowered request.
type Kind int

const (
	KindLookup Kind = iota
	KindCollection
	KindAggregate
)

func (k Kind) String() string {
	switch k {
	case KindLookup:
		return "lookup"
	case KindCollection:
		return "collection"
	case KindAggregate:
		return "aggregate"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// CountAlias is the alias of the aggregation produced for Count.
const CountAlias = "count"

// Lowered is one executable store request.
type Lowered struct {
	Kind Kind
	Plan *plan.Plan

	// Path is the document path of a lookup.
	Path string
	// Skip and Take apply in memory to the zero-or-one lookup result.
	Skip int64
	Take int64 // -1 means unbounded

	Query     *db.Query
	Aggregate *db.AggregateQuery

	// Count and Exists mark scalar results. A lookup answers them from the
	// presence of the document; a collection Exists reads at most one row.
	Count  bool
	Exists bool
}

// Builder lowers plans with a shared codec table.
type Builder struct {
	table *codec.Table
	tr    *translate.Translator
}

// New returns a builder encoding deferred values with table.
func New(table *codec.Table) *Builder {
	if table == nil {
		table = codec.Default
	}
	return &Builder{table: table, tr: translate.New(table)}
}

// Build lowers p against its own collection path.
func (b *Builder) Build(p *plan.Plan, params map[string]any) (*Lowered, error) {
	return b.BuildAt(p, p.Collection, params)
}

// BuildAt lowers p against collectionPath. Child collection plans are built
// once and lowered per parent document.
func (b *Builder) BuildAt(p *plan.Plan, collectionPath string, params map[string]any) (*Lowered, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: nil plan", domain.ErrInvalidPlan)
	}
	if collectionPath == "" {
		return nil, fmt.Errorf("%w: plan has no collection", domain.ErrInvalidPlan)
	}
	if p.IdentifierOnly {
		return b.lookup(p, collectionPath, params)
	}

	q, err := b.query(p, collectionPath, params)
	if err != nil {
		return nil, err
	}

	switch {
	case p.Count || p.Aggregation != nil:
		if q.Offset != 0 || q.Limit != 0 {
			return nil, domain.Unsupported("pagination", "Skip and Take cannot precede an aggregate")
		}
		agg := db.Aggregation{Alias: CountAlias, Kind: filter.Count}
		if p.Aggregation != nil {
			agg = db.Aggregation{Alias: string(p.Aggregation.Kind), Kind: p.Aggregation.Kind, Field: p.Aggregation.Field}
		}
		return &Lowered{
			Kind:      KindAggregate,
			Plan:      p,
			Aggregate: &db.AggregateQuery{Query: *q, Aggregations: []db.Aggregation{agg}},
			Count:     p.Count,
		}, nil
	case p.Exists:
		if q.Offset != 0 || q.Limit != 0 {
			return nil, domain.Unsupported("pagination", "Skip and Take cannot precede Any")
		}
		q.Limit = 1
		q.LimitToLast = false
		return &Lowered{Kind: KindCollection, Plan: p, Query: q, Exists: true}, nil
	default:
		return &Lowered{Kind: KindCollection, Plan: p, Query: q}, nil
	}
}

func (b *Builder) lookup(p *plan.Plan, collectionPath string, params map[string]any) (*Lowered, error) {
	idv, err := b.resolve(p.Entity, filter.DocumentID, p.Identifier, params)
	if err != nil {
		return nil, err
	}
	id, ok := idv.(string)
	if !ok || id == "" {
		return nil, fmt.Errorf("%w: identifier %v is not a document id", domain.ErrInvalidPlan, idv)
	}
	// a reference path is accepted as long as it points into this collection
	if strings.Contains(id, path.Separator) {
		if path.Parent(id) != collectionPath {
			return nil, fmt.Errorf("%w: %q is not in collection %q", domain.ErrInvalidPlan, id, collectionPath)
		}
		id = path.ID(id)
	}

	if (p.Count || p.Exists) && (p.Skip != nil || p.Limit != nil || p.LimitToLast != nil) {
		return nil, domain.Unsupported("pagination", "Skip and Take cannot precede Count or Any")
	}

	l := &Lowered{Kind: KindLookup, Plan: p, Path: path.Document(collectionPath, id), Take: -1,
		Count: p.Count, Exists: p.Exists}
	if p.Skip != nil {
		if l.Skip, err = b.bound(p.Skip, params); err != nil {
			return nil, err
		}
	}
	switch {
	case p.Limit != nil:
		l.Take, err = b.bound(p.Limit, params)
	case p.LimitToLast != nil:
		l.Take, err = b.bound(p.LimitToLast, params)
	}
	if err != nil {
		return nil, err
	}
	return l, nil
}

func (b *Builder) query(p *plan.Plan, collectionPath string, params map[string]any) (*db.Query, error) {
	q := &db.Query{Collection: collectionPath}
	for _, c := range p.Filters {
		cond, err := b.condition(p.Entity, c, params)
		if err != nil {
			return nil, err
		}
		q.Filters = append(q.Filters, cond)
	}
	for _, g := range p.OrGroups {
		group := make(filter.Group, 0, len(g))
		for _, c := range g {
			cond, err := b.condition(p.Entity, c, params)
			if err != nil {
				return nil, err
			}
			group = append(group, cond)
		}
		q.OrGroups = append(q.OrGroups, group)
	}
	for _, s := range p.Sorts {
		q.Orders = append(q.Orders, filter.Order{Field: s.Field, Descending: s.Descending})
	}
	if p.Skip != nil {
		n, err := b.bound(p.Skip, params)
		if err != nil {
			return nil, err
		}
		q.Offset = int(n)
	}
	switch {
	case p.Limit != nil:
		n, err := b.bound(p.Limit, params)
		if err != nil {
			return nil, err
		}
		q.Limit = int(n)
	case p.LimitToLast != nil:
		if len(p.Sorts) == 0 {
			return nil, domain.Unsupported("LimitToLast", "requires an ordering")
		}
		n, err := b.bound(p.LimitToLast, params)
		if err != nil {
			return nil, err
		}
		q.Limit = int(n)
		q.LimitToLast = true
	}
	return q, nil
}

func (b *Builder) condition(e *model.Entity, c plan.Clause, params map[string]any) (filter.Condition, error) {
	v, err := b.resolve(e, c.Field, c.Value, params)
	if err != nil {
		return filter.Condition{}, err
	}
	cond, err := filter.New(c.Field, c.Op, v)
	if err != nil {
		return filter.Condition{}, fmt.Errorf("%w: %w", domain.ErrInvalidPlan, err)
	}
	return cond, nil
}

// resolve returns the native value of v, evaluating and encoding deferred
// values against the member they are compared with.
func (b *Builder) resolve(e *model.Entity, field string, v plan.Value, params map[string]any) (any, error) {
	if !v.IsDeferred() {
		return v.Literal, nil
	}
	raw, err := expr.Resolve(v.Expr, params)
	if err != nil {
		return nil, err
	}
	res := model.Resolved{Path: field, Type: v.Type}
	if field == filter.DocumentID {
		res.Identifier = true
	} else if e != nil {
		if r, err := e.Resolve(strings.Split(field, ".")); err == nil {
			res = r
			res.Type = v.Type
		}
	}
	return b.tr.Encode(res, raw, v.Type)
}

func (b *Builder) bound(v *plan.Value, params map[string]any) (int64, error) {
	if !v.IsDeferred() {
		n, _ := v.Literal.(int64)
		return n, nil
	}
	raw, err := expr.Resolve(v.Expr, params)
	if err != nil {
		return 0, err
	}
	n, ok := codec.ToInt64(native(b.table, raw))
	if !ok || n < 0 {
		return 0, fmt.Errorf("%w: %s resolved to %v", domain.ErrInvalidPlan, v.Expr, raw)
	}
	return n, nil
}

func native(t *codec.Table, v any) any {
	n, err := t.Encode(v)
	if err != nil {
		return v
	}
	return n
}

// ChildCollection lowers a subcollection query below one parent document.
func (b *Builder) ChildCollection(parentPath string, sub *plan.Subcollection, params map[string]any) (*Lowered, error) {
	q := sub.Query
	if q == nil {
		q = plan.New(sub.Navigation.Target, sub.Collection())
	}
	if sub.Aggregation != nil {
		var err error
		if q, err = q.WithAggregation(*sub.Aggregation); err != nil {
			return nil, err
		}
	}
	return b.BuildAt(q, path.Collection(parentPath, sub.Collection()), params)
}

// IncludeCollection lowers a collection include below one parent document.
func (b *Builder) IncludeCollection(parentPath string, inc *plan.Include, params map[string]any) (*Lowered, error) {
	q := inc.Query
	if q == nil {
		q = plan.New(inc.Target, inc.Collection)
	}
	return b.BuildAt(q, path.Collection(parentPath, inc.Collection), params)
}
