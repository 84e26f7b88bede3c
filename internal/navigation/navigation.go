// Package navigation loads the related data a plan asks for beyond its
// primary documents: included references and child collections, and the
// rows and aggregates of projected subcollections. Independent fetches run
// concurrently on a bounded pool and are joined before materialization.
package navigation

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/kailas-cloud/docq/internal/codec"
	"github.com/kailas-cloud/docq/internal/db"
	"github.com/kailas-cloud/docq/internal/db/eval"
	"github.com/kailas-cloud/docq/internal/logger"
	"github.com/kailas-cloud/docq/internal/materialize"
	"github.com/kailas-cloud/docq/internal/metrics"
	"github.com/kailas-cloud/docq/internal/query/builder"
	"github.com/kailas-cloud/docq/internal/query/plan"
)

// Load kinds reported in metrics.
const (
	KindInclude       = "include"
	KindReference     = "reference"
	KindSubcollection = "subcollection"
	KindAggregate     = "aggregate"
)

// Resolver issues follow-up requests for includes and subcollections.
type Resolver struct {
	builder *builder.Builder
	pool    *ants.Pool
}

// New creates a resolver. Fetches run on pool; a nil pool runs them on
// the calling goroutine one after another.
func New(b *builder.Builder, pool *ants.Pool) *Resolver {
	return &Resolver{builder: b, pool: pool}
}

// NewPool creates the bounded pool used for side-load fetches.
func NewPool(size int, log *zap.Logger) (*ants.Pool, error) {
	if size <= 0 {
		size = 8
	}
	pool, err := ants.NewPool(size, ants.WithPanicHandler(func(v any) {
		log.Error("side-load task panic", zap.Any("panic", v))
	}))
	if err != nil {
		return nil, fmt.Errorf("create side-load pool: %w", err)
	}
	return pool, nil
}

// group runs tasks and keeps the first error.
type group struct {
	pool *ants.Pool
	wg   sync.WaitGroup
	mu   sync.Mutex
	err  error
}

func (g *group) fail(err error) {
	g.mu.Lock()
	if g.err == nil {
		g.err = err
	}
	g.mu.Unlock()
}

func (g *group) Go(fn func() error) {
	g.wg.Add(1)
	task := func() {
		defer g.wg.Done()
		if err := fn(); err != nil {
			g.fail(err)
		}
	}
	if g.pool == nil {
		task()
		return
	}
	if err := g.pool.Submit(task); err != nil {
		g.wg.Done()
		g.fail(fmt.Errorf("submit side-load task: %w", err))
	}
}

func (g *group) Wait() error {
	g.wg.Wait()
	return g.err
}

// Load fetches everything p needs for docs and returns the side-loaded set.
// A related document that does not exist leaves its navigation unpopulated;
// it never fails the parent.
func (r *Resolver) Load(ctx context.Context, reader db.Reader, p *plan.Plan, docs []*db.Document, params map[string]any) (*materialize.Sideload, error) {
	side := materialize.NewSideload()
	if len(docs) == 0 || (len(p.Includes) == 0 && (p.Projection == nil || len(p.Projection.Subcollections) == 0)) {
		return side, nil
	}

	g := &group{pool: r.pool}
	refs := map[string]bool{}
	for _, inc := range p.Includes {
		if inc.Many {
			for _, d := range docs {
				g.Go(func() error { return r.includeCollection(ctx, reader, side, d, inc, params) })
			}
			continue
		}
		for _, d := range docs {
			raw, _ := eval.Lookup(d.Fields, inc.Field)
			if target := referencePath(raw); target != "" {
				refs[target] = true
			}
		}
	}
	for target := range refs {
		g.Go(func() error { return r.reference(ctx, reader, side, target) })
	}

	// Subcollections load in waves: rows fetched in one wave may carry
	// element shapes whose own subcollections load in the next.
	var next []pending
	if p.Projection != nil {
		next = append(next, pending{shape: p.Projection, parents: docs})
	}
	for {
		var (
			mu   sync.Mutex
			more []pending
		)
		for _, w := range next {
			for _, sub := range w.shape.Subcollections {
				for _, parent := range w.parents {
					g.Go(func() error {
						nested, err := r.subcollection(ctx, reader, side, parent, sub, params)
						if nested != nil {
							mu.Lock()
							more = append(more, *nested)
							mu.Unlock()
						}
						return err
					})
				}
			}
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		if len(more) == 0 {
			return side, nil
		}
		next = more
	}
}

// pending is a shape whose subcollections still need loading for parents.
type pending struct {
	shape   *plan.Shape
	parents []*db.Document
}

func (r *Resolver) includeCollection(ctx context.Context, reader db.Reader, side *materialize.Sideload, parent *db.Document, inc *plan.Include, params map[string]any) error {
	l, err := r.builder.IncludeCollection(parent.Path, inc, params)
	if err != nil {
		return err
	}
	res, err := builder.Run(ctx, reader, l)
	if err != nil {
		return fmt.Errorf("include %s of %s: %w", inc.Navigation, parent.Path, err)
	}
	metrics.NavigationLoadsTotal.WithLabelValues(KindInclude).Inc()
	side.SetChildren(parent.Path, inc.Collection, inc.Navigation, res.Docs)
	return nil
}

func (r *Resolver) reference(ctx context.Context, reader db.Reader, side *materialize.Sideload, target string) error {
	doc, err := reader.Get(ctx, target)
	if errors.Is(err, db.ErrNotFound) {
		logger.FromContext(ctx).Debug("referenced document missing", zap.String("path", target))
		return nil
	}
	if err != nil {
		return fmt.Errorf("reference %s: %w", target, err)
	}
	metrics.NavigationLoadsTotal.WithLabelValues(KindReference).Inc()
	side.Add(doc)
	return nil
}

// subcollection loads the rows or the aggregate of one member below one
// parent. It returns the element shape still to load when the rows carry
// subcollections of their own.
func (r *Resolver) subcollection(ctx context.Context, reader db.Reader, side *materialize.Sideload, parent *db.Document, sub *plan.Subcollection, params map[string]any) (*pending, error) {
	l, err := r.builder.ChildCollection(parent.Path, sub, params)
	if err != nil {
		return nil, err
	}
	res, err := builder.Run(ctx, reader, l)
	if err != nil {
		return nil, fmt.Errorf("subcollection %s of %s: %w", sub.Name, parent.Path, err)
	}
	if sub.Aggregation != nil {
		metrics.NavigationLoadsTotal.WithLabelValues(KindAggregate).Inc()
		side.SetAggregate(parent.Path, sub.Name, aggregateValue(l, res))
		return nil, nil
	}
	metrics.NavigationLoadsTotal.WithLabelValues(KindSubcollection).Inc()
	side.SetChildren(parent.Path, sub.Collection(), sub.Name, res.Docs)
	if sub.Element != nil && len(sub.Element.Subcollections) > 0 && len(res.Docs) > 0 {
		return &pending{shape: sub.Element, parents: res.Docs}, nil
	}
	return nil, nil
}

func aggregateValue(l *builder.Lowered, res *builder.Result) any {
	if l.Aggregate == nil || len(l.Aggregate.Aggregations) == 0 {
		return res.Count
	}
	return res.Aggregates[l.Aggregate.Aggregations[0].Alias]
}

func referencePath(raw any) string {
	switch x := raw.(type) {
	case codec.Reference:
		return x.Path
	case string:
		return x
	default:
		return ""
	}
}
