package materialize

import (
	"fmt"
	"reflect"

	"github.com/kailas-cloud/docq/internal/codec"
	"github.com/kailas-cloud/docq/internal/domain"
	"github.com/kailas-cloud/docq/internal/model"
)

// Serialize produces the native field map stored for v, an instance of e.
// The identifier lives in the document path and child collections in their
// own documents, so neither is written. References are stored as
// codec.Reference and geo members as codec.GeoPoint.
func (m *Materializer) Serialize(e *model.Entity, v any) (map[string]any, error) {
	if e.Dynamic {
		fields, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: dynamic document is %T, not map[string]any", domain.ErrInvalidSchema, v)
		}
		out := make(map[string]any, len(fields))
		for k, x := range fields {
			if k == model.DynamicID {
				continue
			}
			n, err := m.table.Encode(x)
			if err != nil {
				return nil, withField(err, k)
			}
			out[k] = n
		}
		return out, nil
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, fmt.Errorf("%w: nil %s", domain.ErrInvalidSchema, e)
		}
		rv = rv.Elem()
	}
	if rv.Type() != e.Type {
		return nil, fmt.Errorf("%w: value is %s, descriptor is %s", domain.ErrInvalidSchema, rv.Type(), e)
	}
	if !rv.CanAddr() {
		cp := reflect.New(rv.Type()).Elem()
		cp.Set(rv)
		rv = cp
	}
	return m.serialize(e, rv, "")
}

func (m *Materializer) serialize(e *model.Entity, rv reflect.Value, prefix string) (map[string]any, error) {
	out := make(map[string]any, len(e.Fields))
	for _, f := range e.Fields {
		fv := rv.FieldByIndex(f.Index)
		n, err := m.serializeField(f, fv, prefix+f.Name)
		if err != nil {
			return nil, err
		}
		out[f.Name] = n
	}
	return out, nil
}

func (m *Materializer) serializeField(f *model.Field, fv reflect.Value, name string) (any, error) {
	switch f.Kind {
	case model.KindEmbedded:
		return m.serializeEmbedded(f, fv, name)
	case model.KindReference:
		rf := fv.Addr().Interface().(model.RefField)
		if rf.RefPath() == "" {
			return nil, nil
		}
		return codec.Reference{Path: rf.RefPath()}, nil
	case model.KindGeo:
		return serializeGeo(f, fv, name)
	default:
		n, err := m.table.EncodeValue(fv)
		if err != nil {
			return nil, withField(err, name)
		}
		return n, nil
	}
}

func (m *Materializer) serializeEmbedded(f *model.Field, fv reflect.Value, name string) (any, error) {
	if !f.List {
		if fv.Kind() == reflect.Pointer {
			if fv.IsNil() {
				return nil, nil
			}
			fv = fv.Elem()
		}
		return m.serialize(f.Embedded, fv, name+".")
	}
	if fv.Kind() == reflect.Slice && fv.IsNil() {
		return nil, nil
	}
	out := make([]any, 0, fv.Len())
	for i := range fv.Len() {
		item := fv.Index(i)
		if item.Kind() == reflect.Pointer {
			if item.IsNil() {
				out = append(out, nil)
				continue
			}
			item = item.Elem()
		}
		sub, err := m.serialize(f.Embedded, item, fmt.Sprintf("%s.%d.", name, i))
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, nil
}

func serializeGeo(f *model.Field, fv reflect.Value, name string) (any, error) {
	if fv.Kind() == reflect.Pointer {
		if fv.IsNil() {
			return nil, nil
		}
		fv = fv.Elem()
	}
	var pt codec.GeoPoint
	switch {
	case f.Geo.Native:
		pt = fv.Interface().(codec.GeoPoint)
	case f.Geo.Complete():
		pt = codec.GeoPoint{
			Latitude:  fv.FieldByIndex(f.Geo.Lat).Convert(reflect.TypeFor[float64]()).Float(),
			Longitude: fv.FieldByIndex(f.Geo.Lng).Convert(reflect.TypeFor[float64]()).Float(),
		}
	default:
		return nil, fmt.Errorf("%w: geo member %s: %w", domain.ErrInvalidSchema, name, errIncompleteGeo)
	}
	if err := pt.Validate(); err != nil {
		return nil, &domain.ConversionError{Field: name, Value: pt, Target: "geo point", Err: err}
	}
	return pt, nil
}

func withField(err error, name string) error {
	if ce, ok := err.(*domain.ConversionError); ok && ce.Field == "" {
		cp := *ce
		cp.Field = name
		return &cp
	}
	return err
}
