package materialize

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"go.uber.org/zap"

	"github.com/kailas-cloud/docq/internal/db"
	"github.com/kailas-cloud/docq/internal/db/eval"
	"github.com/kailas-cloud/docq/internal/domain"
	"github.com/kailas-cloud/docq/internal/domain/filter"
	"github.com/kailas-cloud/docq/internal/logger"
	"github.com/kailas-cloud/docq/internal/metrics"
	"github.com/kailas-cloud/docq/internal/model"
	"github.com/kailas-cloud/docq/internal/query/plan"
)

// Project materializes doc through a projection shape. Scalar shapes return
// the single member directly, anonymous shapes return map[string]any with
// dotted names nested, and record shapes return a pointer to the record
// struct.
//
// Subcollection members read rows from side by parent path and result name;
// aggregate members read the value recorded under
// "<documentPath>:<resultName>".
func (m *Materializer) Project(ctx context.Context, s *plan.Shape, owner *model.Entity, doc *db.Document, side *Sideload) (any, error) {
	if doc == nil {
		return nil, &domain.NotFoundError{Path: owner.Collection}
	}
	r := &run{side: side, visiting: map[string]bool{}}
	p := &projector{m: m, r: r, owner: owner, doc: doc}
	v, err := p.shape(ctx, s, "")
	if err != nil {
		return nil, err
	}
	metrics.DocumentsMaterializedTotal.WithLabelValues(owner.String()).Inc()
	return v, nil
}

type projector struct {
	m     *Materializer
	r     *run
	owner *model.Entity
	doc   *db.Document
}

// shape projects s; prefix is the dotted path of s inside the top-level
// shape, needed to rebuild aggregate keys.
func (p *projector) shape(ctx context.Context, s *plan.Shape, prefix string) (any, error) {
	switch s.Kind {
	case plan.ShapeScalar:
		return p.scalar(ctx, s, prefix)
	case plan.ShapeRecord:
		ptr := reflect.New(indirect(s.Type))
		if err := p.record(ctx, s, prefix, ptr.Elem()); err != nil {
			return nil, err
		}
		return ptr.Interface(), nil
	default:
		return p.anonymous(ctx, s, prefix)
	}
}

func (p *projector) scalar(ctx context.Context, s *plan.Shape, prefix string) (any, error) {
	if len(s.Subcollections) == 1 {
		return p.subcollection(ctx, s.Subcollections[0], prefix, nil)
	}
	if len(s.Fields) != 1 {
		return nil, fmt.Errorf("%w: scalar projection with %d members", domain.ErrInvalidPlan, len(s.Fields))
	}
	f := s.Fields[0]
	typ := f.Type
	if s.Type != nil {
		typ = s.Type
	}
	v, ok := p.value(ctx, f, typ)
	if !ok {
		if typ == nil {
			return nil, nil
		}
		return reflect.Zero(typ).Interface(), nil
	}
	return v.Interface(), nil
}

func (p *projector) anonymous(ctx context.Context, s *plan.Shape, prefix string) (map[string]any, error) {
	out := make(map[string]any, len(s.Fields)+len(s.Subcollections))
	nested := map[string]bool{}
	for _, f := range s.Fields {
		if head, _, ok := strings.Cut(f.Name, "."); ok {
			nested[head] = true
			continue
		}
		if v, ok := p.value(ctx, f, f.Type); ok {
			out[f.Name] = v.Interface()
		} else {
			out[f.Name] = nil
		}
	}
	for _, sub := range s.Subcollections {
		if head, _, ok := strings.Cut(sub.Name, "."); ok {
			nested[head] = true
			continue
		}
		v, err := p.subcollection(ctx, sub, prefix, nil)
		if err != nil {
			return nil, err
		}
		out[sub.Name] = v
	}
	for head := range nested {
		v, err := p.anonymous(ctx, s.Prefixed(head), prefix+head+".")
		if err != nil {
			return nil, err
		}
		out[head] = v
	}
	return out, nil
}

func (p *projector) record(ctx context.Context, s *plan.Shape, prefix string, dst reflect.Value) error {
	rt := dst.Type()
	nested := map[string]bool{}
	member := func(name string) (reflect.Value, error) {
		sf, ok := rt.FieldByName(name)
		if !ok || !sf.IsExported() {
			return reflect.Value{}, fmt.Errorf("%w: %s has no member %q", domain.ErrInvalidPlan, rt, name)
		}
		return dst.FieldByIndex(sf.Index), nil
	}

	for _, f := range s.Fields {
		if head, _, ok := strings.Cut(f.Name, "."); ok {
			nested[head] = true
			continue
		}
		fv, err := member(f.Name)
		if err != nil {
			return err
		}
		if v, ok := p.value(ctx, f, fv.Type()); ok {
			fv.Set(v)
		}
	}
	for _, sub := range s.Subcollections {
		if head, _, ok := strings.Cut(sub.Name, "."); ok {
			nested[head] = true
			continue
		}
		fv, err := member(sub.Name)
		if err != nil {
			return err
		}
		v, err := p.subcollection(ctx, sub, prefix, fv.Type())
		if err != nil {
			return err
		}
		if v == nil {
			continue
		}
		rv := reflect.ValueOf(v)
		if !rv.Type().AssignableTo(fv.Type()) {
			return fmt.Errorf("%w: member %s of %s cannot hold %s", domain.ErrInvalidPlan, sub.Name, rt, rv.Type())
		}
		fv.Set(rv)
	}
	for head := range nested {
		fv, err := member(head)
		if err != nil {
			return err
		}
		inner := s.Prefixed(head)
		switch st := indirect(fv.Type()); st.Kind() {
		case reflect.Struct:
			ptr := reflect.New(st)
			if err := p.record(ctx, inner, prefix+head+".", ptr.Elem()); err != nil {
				return err
			}
			fv.Set(pointerOrValue(ptr, fv.Type()))
		default:
			v, err := p.anonymous(ctx, inner, prefix+head+".")
			if err != nil {
				return err
			}
			if !reflect.TypeOf(v).AssignableTo(fv.Type()) {
				return fmt.Errorf("%w: member %s of %s cannot hold a nested projection", domain.ErrInvalidPlan, head, rt)
			}
			fv.Set(reflect.ValueOf(v))
		}
	}
	return nil
}

// value reads one stored member and decodes it to typ. Missing members
// report false; values that fail to convert are logged and report false.
func (p *projector) value(ctx context.Context, f plan.ShapeField, typ reflect.Type) (reflect.Value, bool) {
	raw, ok := eval.Value(p.doc, f.Source)
	if !ok || raw == nil {
		return reflect.Value{}, false
	}
	if typ == nil {
		return reflect.ValueOf(raw), true
	}
	if f.Source != filter.DocumentID && f.Field != nil && typ == f.Field.Type {
		switch f.Field.Kind {
		case model.KindReference, model.KindGeo, model.KindEmbedded:
			v, err := p.m.field(ctx, p.r, p.owner, &model.Field{
				Name: f.Source, GoName: f.Field.GoName, Index: f.Field.Index, Type: typ,
				Kind: f.Field.Kind, Embedded: f.Field.Embedded, List: f.Field.List,
				Target: f.Field.Target, Geo: f.Field.Geo,
			}, map[string]any{f.Source: raw})
			if err != nil {
				logger.FromContext(ctx).Warn("projection member not materialized",
					zap.String("field", f.Source),
					zap.Error(err),
				)
				return reflect.Value{}, false
			}
			return v, true
		}
	}
	v, err := p.m.table.Decode(raw, typ)
	if err != nil {
		p.m.degrade(ctx, p.owner, f.Source, typ, raw, err)
		return reflect.Value{}, false
	}
	return v, true
}

// storedMember reads a value the document itself carries under a result
// name, by stored name or by the Go name of a declared field.
func (p *projector) storedMember(name string) (any, bool) {
	if v, ok := eval.Lookup(p.doc.Fields, name); ok {
		return v, true
	}
	if f, ok := p.owner.Field(name); ok {
		return eval.Lookup(p.doc.Fields, f.Name)
	}
	return nil, false
}

// subcollection returns the aggregate or rows of a child collection member.
// typ, when set, is the declared type of the receiving record member.
func (p *projector) subcollection(ctx context.Context, sub *plan.Subcollection, prefix string, typ reflect.Type) (any, error) {
	name := prefix + sub.Name
	if sub.Aggregation != nil {
		v, ok := p.r.side.Aggregate(p.doc.Path, name)
		if !ok {
			v, ok = p.storedMember(name)
		}
		if !ok || v == nil {
			return nil, nil
		}
		if typ == nil {
			return v, nil
		}
		out, err := p.m.table.Decode(v, typ)
		if err != nil {
			p.m.degrade(ctx, p.owner, name, typ, v, err)
			return nil, nil
		}
		return out.Interface(), nil
	}

	docs, ok := p.r.side.Children(p.doc.Path, name)
	if !ok {
		return nil, nil
	}
	target := sub.Navigation.Target
	var elemType reflect.Type
	if typ != nil && typ.Kind() == reflect.Slice {
		elemType = typ.Elem()
	}

	items := make([]reflect.Value, 0, len(docs))
	for _, d := range docs {
		var (
			v   any
			err error
		)
		if sub.Element != nil {
			child := &projector{m: p.m, r: p.r, owner: target, doc: d}
			v, err = child.shape(ctx, sub.Element, "")
		} else {
			var rv reflect.Value
			rv, err = p.m.entity(ctx, p.r, target, d)
			if err == nil {
				v = rv.Interface()
			}
		}
		if err != nil {
			logger.FromContext(ctx).Warn("child document skipped",
				zap.String("member", name),
				zap.String("path", d.Path),
				zap.Error(err),
			)
			continue
		}
		items = append(items, reflect.ValueOf(v))
	}

	if elemType == nil {
		out := make([]any, len(items))
		for i, it := range items {
			out[i] = it.Interface()
		}
		return out, nil
	}
	out := reflect.MakeSlice(typ, 0, len(items))
	for _, it := range items {
		switch {
		case it.Type().AssignableTo(elemType):
			out = reflect.Append(out, it)
		case it.Kind() == reflect.Pointer && it.Type().Elem().AssignableTo(elemType):
			out = reflect.Append(out, it.Elem())
		default:
			return nil, fmt.Errorf("%w: member %s holds %s, rows are %s", domain.ErrInvalidPlan, name, typ, it.Type())
		}
	}
	return out.Interface(), nil
}

func indirect(t reflect.Type) reflect.Type {
	if t.Kind() == reflect.Pointer {
		return t.Elem()
	}
	return t
}
