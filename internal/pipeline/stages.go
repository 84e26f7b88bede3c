package pipeline

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kailas-cloud/docq/internal/db"
	"github.com/kailas-cloud/docq/internal/domain"
	"github.com/kailas-cloud/docq/internal/domain/path"
	"github.com/kailas-cloud/docq/internal/logger"
	"github.com/kailas-cloud/docq/internal/metrics"
	"github.com/kailas-cloud/docq/internal/model"
	"github.com/kailas-cloud/docq/internal/query/builder"
	"github.com/kailas-cloud/docq/internal/query/explain"
	"github.com/kailas-cloud/docq/internal/query/plan"
)

// contain is the outermost stage: it recovers panics, normalizes errors
// into the domain taxonomy and records the outcome.
func (p *Pipeline) contain(ctx context.Context, x *Exchange, next func(context.Context) error) (err error) {
	if x.ID == "" {
		x.ID = uuid.NewString()
	}
	log := logger.FromContextOr(ctx, p.log).With(zap.String("exchange_id", x.ID))
	ctx = logger.ContextWithLogger(ctx, log)

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.Error("pipeline panic", zap.Any("panic", r), zap.Stack("stack"))
			err = fmt.Errorf("%w: panic: %v", domain.ErrInternal, r)
		}
		err = normalize(err)

		kind := x.kind()
		status := "ok"
		if err != nil {
			status = "error"
			if errors.Is(err, domain.ErrGateway) || errors.Is(err, domain.ErrInternal) {
				log.Error("request failed", zap.String("kind", kind), zap.Error(err))
			} else {
				log.Debug("request rejected", zap.String("kind", kind), zap.Error(err))
			}
		}
		metrics.QueriesTotal.WithLabelValues(kind, status).Inc()
		metrics.QueryDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	}()
	return next(ctx)
}

var passthrough = []error{
	domain.ErrUnsupported,
	domain.ErrNotFound,
	domain.ErrConversion,
	domain.ErrGateway,
	domain.ErrNoElements,
	domain.ErrMultipleElements,
	domain.ErrInvalidPlan,
	domain.ErrInvalidSchema,
	domain.ErrInternal,
	context.Canceled,
	context.DeadlineExceeded,
}

// normalize maps store errors onto the domain taxonomy. Domain errors and
// cancellations pass through untouched.
func normalize(err error) error {
	if err == nil {
		return nil
	}
	for _, target := range passthrough {
		if errors.Is(err, target) {
			return err
		}
	}
	if errors.Is(err, db.ErrNotFound) {
		return fmt.Errorf("%w: %w", domain.ErrNotFound, err)
	}
	var dbErr *db.Error
	if errors.As(err, &dbErr) {
		return &domain.GatewayError{Op: dbErr.Op, Err: err}
	}
	if errors.Is(err, db.ErrExists) || errors.Is(err, db.ErrClosed) {
		return &domain.GatewayError{Op: db.OpCommit, Err: err}
	}
	return fmt.Errorf("%w: %w", domain.ErrInternal, err)
}

// resolve lowers the plan, or prepares the store writes of a write request.
func (p *Pipeline) resolve(ctx context.Context, x *Exchange, next func(context.Context) error) error {
	if x.IsWrite() {
		for _, w := range x.Writes {
			if err := p.resolveWrite(w); err != nil {
				return err
			}
		}
		return next(ctx)
	}
	l, err := p.builder.Build(x.Plan.Freeze(), x.Params)
	if err != nil {
		return err
	}
	x.Lowered = l
	return next(ctx)
}

func (p *Pipeline) resolveWrite(w *Write) error {
	e := w.Entity
	if e == nil {
		return fmt.Errorf("%w: write without a descriptor", domain.ErrInvalidSchema)
	}
	collection := w.Collection
	if collection == "" {
		collection = e.Collection
	}
	if w.Path == "" {
		id, err := identify(e, w)
		if err != nil {
			return err
		}
		w.Path = path.Document(collection, id)
	}
	if w.Kind == WriteRemove {
		return nil
	}
	fields, err := p.mat.Serialize(e, w.Value)
	if err != nil {
		return err
	}
	w.stored = fields
	if w.Fields == nil {
		w.Fields = fields
	}
	return nil
}

// identify reads the identifier of the written value. An added value with
// no identifier gets a generated one written back into it.
func identify(e *model.Entity, w *Write) (string, error) {
	if e.Dynamic {
		m, ok := w.Value.(map[string]any)
		if !ok {
			return "", fmt.Errorf("%w: dynamic document is %T", domain.ErrInvalidSchema, w.Value)
		}
		id, _ := m[model.DynamicID].(string)
		if id == "" && w.Kind == WriteAdd {
			id = path.NewID()
			m[model.DynamicID] = id
		}
		if id == "" {
			return "", fmt.Errorf("%w: document has no %q", domain.ErrInvalidPlan, model.DynamicID)
		}
		return id, nil
	}
	if !e.HasIdentifier() {
		return "", fmt.Errorf("%w: %s has no identifier member", domain.ErrInvalidSchema, e)
	}
	rv := reflect.ValueOf(w.Value)
	id := e.ID(rv)
	if id == "" && w.Kind == WriteAdd {
		if rv.Kind() != reflect.Pointer || rv.IsNil() {
			return "", fmt.Errorf("%w: add %s by pointer to receive a generated id", domain.ErrInvalidSchema, e)
		}
		id = path.NewID()
		e.SetID(rv, id)
	}
	if id == "" {
		return "", fmt.Errorf("%w: %s has an empty identifier", domain.ErrInvalidPlan, e)
	}
	if strings.Contains(id, path.Separator) {
		return "", fmt.Errorf("%w: identifier %q contains %q", domain.ErrInvalidPlan, id, path.Separator)
	}
	return id, nil
}

// logPlan logs the lowered request at the configured verbosity.
func (p *Pipeline) logPlan(ctx context.Context, x *Exchange, next func(context.Context) error) error {
	if p.verbosity == VerbosityOff {
		return next(ctx)
	}
	log := logger.FromContext(ctx)
	if x.IsWrite() {
		log.Debug("write batch", zap.Int("writes", len(x.Writes)))
		return next(ctx)
	}

	l := x.Lowered
	fields := []zap.Field{
		zap.String("kind", l.Kind.String()),
		zap.String("collection", l.Plan.Collection),
		zap.Int("includes", len(l.Plan.Includes)),
	}
	switch {
	case l.Kind == builder.KindLookup:
		fields = append(fields, zap.String("path", l.Path))
	case l.Query != nil:
		fields = append(fields, zap.Int("filters", len(l.Query.Filters)+len(l.Query.OrGroups)),
			zap.Int("limit", l.Query.Limit), zap.Int("skip", l.Query.Offset))
	case l.Aggregate != nil:
		fields = append(fields, zap.Int("filters", len(l.Aggregate.Query.Filters)+len(l.Aggregate.Query.OrGroups)))
	}
	if p.verbosity == VerbosityVerbose {
		var b strings.Builder
		explain.Lowered(&b, l)
		fields = append(fields, zap.String("explain", b.String()))
	}
	log.Debug("query", fields...)
	return next(ctx)
}

// execute issues the store request, then side-loads related data.
func (p *Pipeline) execute(ctx context.Context, x *Exchange, next func(context.Context) error) error {
	if x.IsWrite() {
		if err := p.commit(ctx, x.Writes); err != nil {
			return err
		}
		return next(ctx)
	}

	res, err := builder.Run(ctx, p.gw, x.Lowered)
	if err != nil {
		return err
	}
	x.Raw = res
	side, err := p.nav.Load(ctx, p.gw, x.Lowered.Plan, res.Docs, x.Params)
	if err != nil {
		return err
	}
	x.Side = side
	return next(ctx)
}

// commit applies every write in one atomic batch.
func (p *Pipeline) commit(ctx context.Context, writes []*Write) error {
	if len(writes) == 0 {
		return nil
	}
	b := p.gw.Batch()
	for _, w := range writes {
		switch w.Kind {
		case WriteAdd:
			b.Create(w.Path, w.Fields)
		case WriteUpdate:
			b.Update(w.Path, w.Fields)
		case WriteRemove:
			b.Delete(w.Path)
		}
	}
	if err := b.Commit(ctx); err != nil {
		return err
	}
	for _, w := range writes {
		metrics.WritesTotal.WithLabelValues(w.Kind.String()).Inc()
	}
	return nil
}

// convert turns raw documents and aggregates into caller values and
// enforces first/single cardinality.
func (p *Pipeline) convert(ctx context.Context, x *Exchange, next func(context.Context) error) error {
	if x.IsWrite() {
		return next(ctx)
	}
	l, res := x.Lowered, x.Raw
	pl := l.Plan
	switch {
	case l.Count:
		x.Scalar = res.Count
	case l.Exists:
		x.Scalar = res.Exists
	case pl.Aggregation != nil:
		v, err := p.aggregate(pl.Aggregation, res.Aggregates[string(pl.Aggregation.Kind)])
		if err != nil {
			return err
		}
		x.Scalar = v
	default:
		x.Results = make([]any, 0, len(res.Docs))
		x.Paths = make([]string, 0, len(res.Docs))
		for _, doc := range res.Docs {
			var (
				v   any
				err error
			)
			if pl.Projection != nil {
				v, err = p.mat.Project(ctx, pl.Projection, pl.Entity, doc, x.Side)
			} else {
				v, err = p.mat.Entity(ctx, pl.Entity, doc, x.Side)
			}
			if err != nil {
				return fmt.Errorf("materialize %s: %w", doc.Path, err)
			}
			x.Results = append(x.Results, v)
			x.Paths = append(x.Paths, doc.Path)
		}
		if err := cardinality(pl, len(x.Results)); err != nil {
			return err
		}
	}
	return next(ctx)
}

func cardinality(pl *plan.Plan, n int) error {
	if pl.Return == plan.ReturnMany {
		return nil
	}
	if n == 0 && !pl.DefaultOnEmpty {
		return domain.ErrNoElements
	}
	if pl.Return == plan.ReturnSingle && n > 1 {
		return domain.ErrMultipleElements
	}
	return nil
}

// aggregate decodes a store aggregate into the requested result type. An
// empty input yields nil for a nullable result and fails otherwise; sums
// of nothing are zero.
func (p *Pipeline) aggregate(a *plan.Aggregation, raw any) (any, error) {
	typ := a.ResultType
	if raw == nil {
		if typ == nil || nullable(typ) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %s over an empty sequence", domain.ErrNoElements, a.Kind)
	}
	if typ == nil {
		return raw, nil
	}
	v, err := p.mat.Table().Decode(raw, typ)
	if err != nil {
		return nil, err
	}
	return v.Interface(), nil
}

func nullable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice:
		return true
	default:
		return false
	}
}

// track resolves query results against the identity map and refreshes it
// after writes.
func (p *Pipeline) track(ctx context.Context, x *Exchange, next func(context.Context) error) error {
	t := x.Tracker
	if t == nil {
		return next(ctx)
	}
	if x.IsWrite() {
		for _, w := range x.Writes {
			if w.Kind == WriteRemove {
				t.Forget(w.Path)
				continue
			}
			t.Refresh(w.Path, w.Entity, w.Value, w.stored)
		}
		return next(ctx)
	}
	if x.Lowered.Plan.Projection != nil || x.Results == nil {
		return next(ctx)
	}
	e := x.Lowered.Plan.Entity
	for i, v := range x.Results {
		snapshot, err := p.mat.Serialize(e, v)
		if err != nil {
			return err
		}
		x.Results[i] = t.Attach(x.Paths[i], e, v, snapshot)
	}
	return next(ctx)
}
