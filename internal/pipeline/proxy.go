package pipeline

import (
	"context"
	"fmt"
	"reflect"

	"github.com/kailas-cloud/docq/internal/domain"
	"github.com/kailas-cloud/docq/internal/domain/path"
	"github.com/kailas-cloud/docq/internal/metrics"
	"github.com/kailas-cloud/docq/internal/model"
	"github.com/kailas-cloud/docq/internal/query/plan"
)

// proxy arms every reference reachable from the materialized entities so
// that an unloaded target is fetched on first Load.
func (p *Pipeline) proxy(ctx context.Context, x *Exchange, next func(context.Context) error) error {
	if x.IsWrite() || x.Lowered.Plan.Projection != nil || len(x.Results) == 0 {
		return next(ctx)
	}
	l := &lazyLoader{p: p, tracker: x.Tracker}
	seen := map[uintptr]bool{}
	for _, v := range x.Results {
		arm(reflect.ValueOf(v), l, seen)
	}
	return next(ctx)
}

// arm walks v and installs l on each reference field.
func arm(v reflect.Value, l model.Loader, seen map[uintptr]bool) {
	switch v.Kind() {
	case reflect.Pointer:
		if v.IsNil() || seen[v.Pointer()] {
			return
		}
		seen[v.Pointer()] = true
		arm(v.Elem(), l, seen)
	case reflect.Slice, reflect.Array:
		for i := range v.Len() {
			arm(v.Index(i), l, seen)
		}
	case reflect.Struct:
		if !v.CanAddr() {
			return
		}
		if ref, ok := v.Addr().Interface().(model.RefField); ok {
			ref.SetRefLoader(l)
			if target := ref.RefValue(); target != nil {
				arm(reflect.ValueOf(target), l, seen)
			}
			return
		}
		t := v.Type()
		for i := range t.NumField() {
			if t.Field(i).IsExported() {
				arm(v.Field(i), l, seen)
			}
		}
	}
}

// lazyLoader fetches a referenced document through the pipeline as an
// identifier lookup, sharing the session's identity map.
type lazyLoader struct {
	p       *Pipeline
	tracker *Tracker
}

func (l *lazyLoader) Load(ctx context.Context, ref string, target reflect.Type) (any, error) {
	if l.tracker != nil {
		if v, ok := l.tracker.Lookup(ref); ok {
			return v, nil
		}
	}
	e, ok := l.p.registry.Lookup(target)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not registered", domain.ErrInvalidSchema, target)
	}
	if err := path.Validate(ref); err != nil {
		return nil, fmt.Errorf("%w: reference %q: %w", domain.ErrInvalidPlan, ref, err)
	}
	pl, err := plan.New(e, path.Parent(ref)).WithIdentifier(plan.Literal(path.ID(ref)))
	if err != nil {
		return nil, err
	}
	x := &Exchange{Plan: pl, Tracker: l.tracker}
	if err := l.p.Execute(ctx, x); err != nil {
		return nil, err
	}
	metrics.NavigationLoadsTotal.WithLabelValues("lazy").Inc()
	if len(x.Results) == 0 {
		return nil, &domain.NotFoundError{Path: ref}
	}
	return x.Results[0], nil
}
