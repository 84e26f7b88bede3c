// Package materialize turns raw documents into entities and projections,
// and entities back into native field maps for writes. Materialization
// follows the descriptors built by the model registry; nothing is
// discovered per document.
package materialize

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"

	"go.uber.org/zap"

	"github.com/kailas-cloud/docq/internal/codec"
	"github.com/kailas-cloud/docq/internal/db"
	"github.com/kailas-cloud/docq/internal/domain"
	"github.com/kailas-cloud/docq/internal/domain/path"
	"github.com/kailas-cloud/docq/internal/logger"
	"github.com/kailas-cloud/docq/internal/metrics"
	"github.com/kailas-cloud/docq/internal/model"
)

// Materializer converts between documents and Go values with one codec table.
type Materializer struct {
	table *codec.Table
}

// New returns a materializer using table, or codec.Default when nil.
func New(table *codec.Table) *Materializer {
	if table == nil {
		table = codec.Default
	}
	return &Materializer{table: table}
}

// Table returns the codec table in use.
func (m *Materializer) Table() *codec.Table { return m.table }

// run carries per-item state: the side-loaded documents and the reference
// paths currently being materialized, which stops reference cycles.
type run struct {
	side     *Sideload
	visiting map[string]bool
}

// Entity materializes doc as an instance of e. Typed entities come back as
// a pointer to the struct; dynamic entities as map[string]any with the
// document id under model.DynamicID.
//
// A single field that fails to convert is logged and left at its zero
// value. A missing document, an unconstructable type or a geo member
// without coordinate members fails the whole item.
func (m *Materializer) Entity(ctx context.Context, e *model.Entity, doc *db.Document, side *Sideload) (any, error) {
	r := &run{side: side, visiting: map[string]bool{}}
	v, err := m.entity(ctx, r, e, doc)
	if err != nil {
		return nil, err
	}
	metrics.DocumentsMaterializedTotal.WithLabelValues(e.String()).Inc()
	return v.Interface(), nil
}

func (m *Materializer) entity(ctx context.Context, r *run, e *model.Entity, doc *db.Document) (reflect.Value, error) {
	if doc == nil {
		return reflect.Value{}, &domain.NotFoundError{Path: e.Collection}
	}
	if e.Dynamic {
		fields := db.Clone(doc.Fields)
		if fields == nil {
			fields = map[string]any{}
		}
		fields[model.DynamicID] = doc.ID()
		return reflect.ValueOf(fields), nil
	}
	r.visiting[doc.Path] = true
	defer delete(r.visiting, doc.Path)
	return m.build(ctx, r, e, doc.Path, doc.Fields, nil)
}

// build constructs one struct value from a field map. docPath is empty for
// embedded values; point carries the coordinates of a geo value.
func (m *Materializer) build(ctx context.Context, r *run, e *model.Entity, docPath string, fields map[string]any, point *codec.GeoPoint) (reflect.Value, error) {
	var ptr reflect.Value
	if c := e.Constructor; c != nil {
		args := make([]reflect.Value, len(c.Bindings))
		for i, b := range c.Bindings {
			v, err := m.argument(ctx, r, e, b, docPath, fields, point)
			if err != nil {
				return reflect.Value{}, err
			}
			args[i] = v
		}
		out, err := c.Call(args)
		if err != nil {
			return reflect.Value{}, fmt.Errorf("%w: construct %s: %w", domain.ErrInvalidSchema, e, err)
		}
		ptr = out
	} else {
		ptr = e.New()
	}

	if docPath != "" {
		e.SetID(ptr, path.ID(docPath))
	}
	elem := ptr.Elem()
	for _, f := range e.Fields {
		if e.Constructor != nil && e.Constructor.Binds(f) {
			continue
		}
		v, err := m.field(ctx, r, e, f, fields)
		if err != nil {
			return reflect.Value{}, err
		}
		elem.FieldByIndex(f.Index).Set(v)
	}
	if docPath == "" {
		return ptr, nil
	}
	for _, n := range e.Navigations {
		if !n.Many || bindsNavigation(e.Constructor, n) {
			continue
		}
		if list, ok := m.children(ctx, r, n, docPath); ok {
			elem.FieldByIndex(n.Index).Set(list)
		}
	}
	return ptr, nil
}

func bindsNavigation(c *model.Constructor, n *model.Navigation) bool {
	if c == nil {
		return false
	}
	for _, b := range c.Bindings {
		if b.Navigation == n {
			return true
		}
	}
	return false
}

func (m *Materializer) argument(ctx context.Context, r *run, e *model.Entity, b model.Binding, docPath string, fields map[string]any, point *codec.GeoPoint) (reflect.Value, error) {
	var v reflect.Value
	switch b.Kind {
	case model.BindIdentifier:
		v = reflect.ValueOf(path.ID(docPath))
	case model.BindField:
		fv, err := m.field(ctx, r, e, b.Field, fields)
		if err != nil {
			return reflect.Value{}, err
		}
		v = fv
	case model.BindNavigation:
		list, ok := m.children(ctx, r, b.Navigation, docPath)
		if !ok {
			return reflect.Zero(b.Type), nil
		}
		v = list
	case model.BindLatitude, model.BindLongitude:
		var f float64
		if point != nil {
			f = point.Latitude
			if b.Kind == model.BindLongitude {
				f = point.Longitude
			}
		}
		v = reflect.ValueOf(f)
	}
	return assignable(v, b.Type, b.Param)
}

func assignable(v reflect.Value, typ reflect.Type, name string) (reflect.Value, error) {
	switch {
	case v.Type().AssignableTo(typ):
		return v, nil
	case v.Type().ConvertibleTo(typ):
		return v.Convert(typ), nil
	case v.Kind() == reflect.Pointer && v.Type().Elem().AssignableTo(typ):
		if v.IsNil() {
			return reflect.Zero(typ), nil
		}
		return v.Elem(), nil
	default:
		return reflect.Value{}, fmt.Errorf("%w: parameter %s takes %s, value is %s", domain.ErrInvalidSchema, name, typ, v.Type())
	}
}

// field decodes one stored field into a value of f.Type.
func (m *Materializer) field(ctx context.Context, r *run, e *model.Entity, f *model.Field, fields map[string]any) (reflect.Value, error) {
	zero := reflect.Zero(f.Type)
	raw, ok := fields[f.Name]
	if !ok || raw == nil {
		return zero, nil
	}
	switch f.Kind {
	case model.KindEmbedded:
		return m.embedded(ctx, r, e, f, raw)
	case model.KindReference:
		return m.reference(ctx, r, e, f, raw), nil
	case model.KindGeo:
		return m.geo(ctx, r, e, f, raw)
	default:
		v, err := m.table.Decode(raw, f.Type)
		if err != nil {
			m.degrade(ctx, e, f.Name, f.Type, raw, err)
			return zero, nil
		}
		return v, nil
	}
}

func (m *Materializer) embedded(ctx context.Context, r *run, e *model.Entity, f *model.Field, raw any) (reflect.Value, error) {
	if !f.List {
		sub, ok := raw.(map[string]any)
		if !ok {
			m.degrade(ctx, e, f.Name, f.Type, raw, nil)
			return reflect.Zero(f.Type), nil
		}
		ptr, err := m.build(ctx, r, f.Embedded, "", sub, nil)
		if err != nil {
			return reflect.Value{}, err
		}
		return pointerOrValue(ptr, f.Type), nil
	}

	list, ok := raw.([]any)
	if !ok {
		m.degrade(ctx, e, f.Name, f.Type, raw, nil)
		return reflect.Zero(f.Type), nil
	}
	out := reflect.MakeSlice(reflect.SliceOf(f.Type.Elem()), 0, len(list))
	for _, item := range list {
		sub, ok := item.(map[string]any)
		if !ok {
			m.degrade(ctx, e, f.Name, f.Type.Elem(), item, nil)
			continue
		}
		ptr, err := m.build(ctx, r, f.Embedded, "", sub, nil)
		if err != nil {
			return reflect.Value{}, err
		}
		out = reflect.Append(out, pointerOrValue(ptr, f.Type.Elem()))
	}
	if f.Type.Kind() == reflect.Array {
		arr := reflect.New(f.Type).Elem()
		reflect.Copy(arr, out)
		return arr, nil
	}
	return out, nil
}

// reference keeps the raw path and attaches the target when it was
// side-loaded. A target that is absent or cannot be built leaves the
// reference unresolved.
func (m *Materializer) reference(ctx context.Context, r *run, e *model.Entity, f *model.Field, raw any) reflect.Value {
	out := reflect.New(f.Type)
	rf := out.Interface().(model.RefField)

	var p string
	switch x := raw.(type) {
	case codec.Reference:
		p = x.Path
	case string:
		p = x
	default:
		m.degrade(ctx, e, f.Name, f.Type, raw, nil)
		return out.Elem()
	}
	rf.SetRefPath(p)

	doc, ok := r.side.Doc(p)
	if !ok || r.visiting[p] {
		return out.Elem()
	}
	target, err := m.entity(ctx, r, f.Target, doc)
	if err != nil {
		logger.FromContext(ctx).Warn("referenced document not materialized",
			zap.String("field", f.Name),
			zap.String("path", p),
			zap.Error(err),
		)
		return out.Elem()
	}
	rf.SetRefValue(target.Interface())
	return out.Elem()
}

var errIncompleteGeo = errors.New("no latitude and longitude members")

func (m *Materializer) geo(ctx context.Context, r *run, e *model.Entity, f *model.Field, raw any) (reflect.Value, error) {
	if f.Geo.Native {
		v, err := m.table.Decode(raw, f.Type)
		if err != nil {
			m.degrade(ctx, e, f.Name, f.Type, raw, err)
			return reflect.Zero(f.Type), nil
		}
		return v, nil
	}
	if !f.Geo.Complete() {
		return reflect.Value{}, fmt.Errorf("%w: geo member %s of %s: %w", domain.ErrInvalidSchema, f.GoName, e, errIncompleteGeo)
	}
	pt, ok := raw.(codec.GeoPoint)
	if !ok {
		m.degrade(ctx, e, f.Name, f.Type, raw, nil)
		return reflect.Zero(f.Type), nil
	}

	if f.Embedded == nil {
		return reflect.Value{}, fmt.Errorf("%w: geo member %s of %s is not a struct", domain.ErrInvalidSchema, f.GoName, e)
	}
	coords := make(map[string]any, 2)
	for _, sf := range f.Embedded.Fields {
		switch {
		case slices.Equal(sf.Index, f.Geo.Lat):
			coords[sf.Name] = pt.Latitude
		case slices.Equal(sf.Index, f.Geo.Lng):
			coords[sf.Name] = pt.Longitude
		}
	}
	ptr, err := m.build(ctx, r, f.Embedded, "", coords, &pt)
	if err != nil {
		return reflect.Value{}, err
	}
	return pointerOrValue(ptr, f.Type), nil
}

// children materializes the side-loaded rows of a child collection.
// The second result is false when the navigation was not loaded at all.
func (m *Materializer) children(ctx context.Context, r *run, n *model.Navigation, docPath string) (reflect.Value, bool) {
	docs, ok := r.side.Children(docPath, n.Name)
	if !ok {
		return reflect.Value{}, false
	}
	elemType := n.Target.Type
	if n.ElemPointer {
		elemType = reflect.PointerTo(elemType)
	}
	out := reflect.MakeSlice(reflect.SliceOf(elemType), 0, len(docs))
	for _, d := range docs {
		v, err := m.entity(ctx, r, n.Target, d)
		if err != nil {
			logger.FromContext(ctx).Warn("child document skipped",
				zap.String("navigation", n.Name),
				zap.String("path", d.Path),
				zap.Error(err),
			)
			continue
		}
		out = reflect.Append(out, pointerOrValue(v, elemType))
	}
	return out, true
}

func pointerOrValue(ptr reflect.Value, typ reflect.Type) reflect.Value {
	if typ.Kind() == reflect.Pointer {
		return ptr
	}
	return ptr.Elem()
}

// degrade records a field that kept its zero value.
func (m *Materializer) degrade(ctx context.Context, e *model.Entity, field string, target reflect.Type, value any, err error) {
	if err == nil {
		err = &domain.ConversionError{Field: field, Value: value, Target: target.String()}
	} else if ce := (*domain.ConversionError)(nil); errors.As(err, &ce) && ce.Field == "" {
		ce.Field = field
	}
	logger.FromContext(ctx).Warn("conversion failed, using default",
		zap.String("entity", e.String()),
		zap.String("field", field),
		zap.Any("value", value),
		zap.String("target_type", target.String()),
		zap.Error(err),
	)
	metrics.ConversionFailuresTotal.WithLabelValues(e.String(), field).Inc()
}
