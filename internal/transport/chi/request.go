package chi

import (
	"context"
	"fmt"

	"github.com/kailas-cloud/docq"
	"github.com/kailas-cloud/docq/internal/domain/filter"
)

// queryRequest is the body of POST /v1/query.
type queryRequest struct {
	Collection string               `json:"collection"`
	Where      []conditionRequest   `json:"where,omitempty"`
	Or         [][]conditionRequest `json:"or,omitempty"`
	OrderBy    []orderRequest       `json:"order_by,omitempty"`
	Limit      int                  `json:"limit,omitempty"`
	Skip       int                  `json:"skip,omitempty"`
	Select     []string             `json:"select,omitempty"`
	Count      bool                 `json:"count,omitempty"`
	Aggregate  *aggregateRequest    `json:"aggregate,omitempty"`
}

type conditionRequest struct {
	Field string `json:"field"`
	Op    string `json:"op"`
	Value any    `json:"value"`
}

type orderRequest struct {
	Field string `json:"field"`
	Desc  bool   `json:"desc,omitempty"`
}

type aggregateRequest struct {
	Kind  string `json:"kind"` // sum, avg, min, max
	Field string `json:"field"`
}

// queryResponse carries exactly one of "documents", "count" or "value".
type queryResponse map[string]any

func (c conditionRequest) expr() (docq.Expr, error) {
	if c.Field == "" {
		return docq.Expr{}, fmt.Errorf("%w: condition without field", docq.ErrInvalidPlan)
	}
	return docq.Condition(c.Field, c.Op, normalize(c.Value))
}

// build translates the request into a query over dynamic documents.
func (q *queryRequest) build(s *docq.Session) (*docq.Query[docq.Document], error) {
	query := docq.FromCollection[docq.Document](s, q.Collection)
	for _, c := range q.Where {
		x, err := c.expr()
		if err != nil {
			return nil, err
		}
		query = query.Where(x)
	}
	for _, group := range q.Or {
		alts := make([]docq.Expr, 0, len(group))
		for _, c := range group {
			x, err := c.expr()
			if err != nil {
				return nil, err
			}
			alts = append(alts, x)
		}
		query = query.Where(docq.Or(alts...))
	}
	for i, o := range q.OrderBy {
		key := docq.Field(o.Field)
		switch {
		case i == 0 && o.Desc:
			query = query.OrderByDesc(key)
		case i == 0:
			query = query.OrderBy(key)
		case o.Desc:
			query = query.ThenByDesc(key)
		default:
			query = query.ThenBy(key)
		}
	}
	if q.Skip > 0 {
		query = query.Skip(q.Skip)
	}
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}
	return query, query.Err()
}

func (q *queryRequest) execute(ctx context.Context, s *docq.Session, maxPage int) (queryResponse, error) {
	if q.Count && q.Aggregate != nil {
		return nil, fmt.Errorf("%w: count and aggregate are exclusive", docq.ErrInvalidPlan)
	}
	// An unbounded listing is capped; counts and aggregates are not paged.
	if q.Limit == 0 && !q.Count && q.Aggregate == nil {
		q.Limit = maxPage
	}
	query, err := q.build(s)
	if err != nil {
		return nil, err
	}

	switch {
	case q.Count:
		n, err := query.Count(ctx)
		if err != nil {
			return nil, err
		}
		return queryResponse{"count": n}, nil
	case q.Aggregate != nil:
		v, err := q.aggregate(ctx, query)
		if err != nil {
			return nil, err
		}
		return queryResponse{"value": v}, nil
	case len(q.Select) > 0:
		bindings := make([]docq.Binding, len(q.Select))
		for i, f := range q.Select {
			bindings[i] = docq.Bind(f, docq.Field(f))
		}
		docs, err := docq.Select[docq.Document, docq.Document](query, docq.Shape(bindings...)).ToList(ctx)
		if err != nil {
			return nil, err
		}
		return queryResponse{"documents": nonNil(docs)}, nil
	default:
		list, err := query.ToList(ctx)
		if err != nil {
			return nil, err
		}
		docs := make([]docq.Document, len(list))
		for i, d := range list {
			docs[i] = *d
		}
		return queryResponse{"documents": nonNil(docs)}, nil
	}
}

func (q *queryRequest) aggregate(ctx context.Context, query *docq.Query[docq.Document]) (any, error) {
	kind, err := filter.ParseAggregate(q.Aggregate.Kind)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", docq.ErrInvalidPlan, err)
	}
	sel := docq.Field(q.Aggregate.Field)
	switch kind {
	case filter.Sum:
		return docq.Sum[any](ctx, query, sel)
	case filter.Average:
		return docq.Average[any](ctx, query, sel)
	case filter.Min:
		return docq.Min[any](ctx, query, sel)
	case filter.Max:
		return docq.Max[any](ctx, query, sel)
	case filter.Count:
		n, err := query.Count(ctx)
		return n, err
	default:
		return nil, fmt.Errorf("%w: aggregate %q", docq.ErrInvalidPlan, kind)
	}
}

func nonNil(docs []docq.Document) []docq.Document {
	if docs == nil {
		return []docq.Document{}
	}
	return docs
}
