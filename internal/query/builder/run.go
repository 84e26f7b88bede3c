package builder

import (
	"context"
	"errors"

	"github.com/kailas-cloud/docq/internal/db"
)

// Result is the raw outcome of one lowered request.
type Result struct {
	Docs       []*db.Document
	Aggregates map[string]any
	Count      int64
	Exists     bool
}

// Run executes l against r.
func Run(ctx context.Context, r db.Reader, l *Lowered) (*Result, error) {
	switch l.Kind {
	case KindLookup:
		return runLookup(ctx, r, l)
	case KindAggregate:
		aggs, err := r.Aggregate(ctx, l.Aggregate)
		if err != nil {
			return nil, err
		}
		res := &Result{Aggregates: aggs}
		if l.Count {
			res.Count, _ = aggs[CountAlias].(int64)
		}
		return res, nil
	default:
		docs, err := r.RunQuery(ctx, l.Query)
		if err != nil {
			return nil, err
		}
		return &Result{Docs: docs, Exists: len(docs) > 0, Count: int64(len(docs))}, nil
	}
}

func runLookup(ctx context.Context, r db.Reader, l *Lowered) (*Result, error) {
	if l.Skip > 0 || l.Take == 0 {
		return &Result{}, nil
	}
	if l.Count || l.Exists {
		ok, err := r.Exists(ctx, l.Path)
		if err != nil {
			return nil, err
		}
		res := &Result{Exists: ok}
		if ok {
			res.Count = 1
		}
		return res, nil
	}
	doc, err := r.Get(ctx, l.Path)
	if errors.Is(err, db.ErrNotFound) {
		return &Result{}, nil
	}
	if err != nil {
		return nil, err
	}
	return &Result{Docs: []*db.Document{doc}, Exists: true, Count: 1}, nil
}
