// Package codec maps typed Go values to the document store's native value
// set and back.
//
// The native set is: nil, bool, int64, float64, string, []byte, time.Time
// (always UTC), []any, map[string]any, Reference and GeoPoint. Every
// supported Go type has exactly one native representation and decoding that
// representation yields the original value.
package codec

import (
	"fmt"
	"math"
	"reflect"
	"time"

	"github.com/kailas-cloud/docq/internal/domain"
	"github.com/kailas-cloud/docq/internal/domain/geo"
)

// Tick is the unit of stored durations.
const Tick = 100 * time.Nanosecond

const (
	maxTicks = math.MaxInt64 / int64(Tick)
	minTicks = math.MinInt64 / int64(Tick)
)

// Reference is a stored pointer to another document.
type Reference struct {
	Path string
}

// GeoPoint is the native geo-coordinate value.
type GeoPoint = geo.Point

var (
	timeType      = reflect.TypeFor[time.Time]()
	durationType  = reflect.TypeFor[time.Duration]()
	referenceType = reflect.TypeFor[Reference]()
	geoType       = reflect.TypeFor[GeoPoint]()
	bytesType     = reflect.TypeFor[[]byte]()
	anyType       = reflect.TypeFor[any]()
)

// Table is the process-wide conversion table. It is read-only after
// NewTable returns and safe for concurrent use.
type Table struct {
	enums map[reflect.Type]*Enum
}

// NewTable builds a table with the given enum mappings.
func NewTable(enums ...*Enum) *Table {
	t := &Table{enums: make(map[reflect.Type]*Enum, len(enums))}
	for _, e := range enums {
		t.enums[e.typ] = e
	}
	return t
}

// Default is a table without enum mappings.
var Default = NewTable()

// IsEnum reports whether typ has a registered textual mapping.
func (t *Table) IsEnum(typ reflect.Type) bool {
	_, ok := t.enums[typ]
	return ok
}

// Encode converts v to its native representation.
func (t *Table) Encode(v any) (any, error) {
	return t.EncodeValue(reflect.ValueOf(v))
}

// EncodeValue converts rv to its native representation.
func (t *Table) EncodeValue(rv reflect.Value) (any, error) {
	if !rv.IsValid() {
		return nil, nil
	}
	typ := rv.Type()

	if e, ok := t.enums[typ]; ok {
		return e.encode(rv)
	}

	switch typ {
	case timeType:
		return rv.Interface().(time.Time).UTC(), nil
	case durationType:
		d := time.Duration(rv.Int())
		if d%Tick != 0 {
			return nil, conversionErr(d, "duration ticks", fmt.Errorf("%s is not a whole number of %s ticks", d, Tick))
		}
		return int64(d / Tick), nil
	case referenceType, geoType:
		return rv.Interface(), nil
	}

	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil, nil
		}
		return t.EncodeValue(rv.Elem())
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return nil, conversionErr(rv.Interface(), "int64", fmt.Errorf("unsigned value overflows int64"))
		}
		return int64(u), nil
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	case reflect.String:
		return rv.String(), nil
	case reflect.Slice:
		if rv.IsNil() {
			return nil, nil
		}
		if typ.Elem().Kind() == reflect.Uint8 && !t.IsEnum(typ.Elem()) {
			out := make([]byte, rv.Len())
			reflect.Copy(reflect.ValueOf(out), rv)
			return out, nil
		}
		return t.encodeList(rv)
	case reflect.Array:
		return t.encodeList(rv)
	case reflect.Map:
		if typ.Key().Kind() != reflect.String {
			return nil, conversionErr(rv.Interface(), "map[string]any", fmt.Errorf("map key must be a string"))
		}
		if rv.IsNil() {
			return nil, nil
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			v, err := t.EncodeValue(iter.Value())
			if err != nil {
				return nil, err
			}
			out[iter.Key().String()] = v
		}
		return out, nil
	default:
		return nil, conversionErr(rv.Interface(), "native value", fmt.Errorf("unsupported kind %s", rv.Kind()))
	}
}

// EncodeAs encodes v as a value of the declared type typ, converting
// between compatible Go types first (an untyped int against an enum field,
// a []int against a []Status). Lists are converted element-wise.
func (t *Table) EncodeAs(v any, typ reflect.Type) (any, error) {
	if v == nil || typ == nil {
		return t.Encode(v)
	}
	rv := reflect.ValueOf(v)
	if rv.Type() == typ {
		return t.EncodeValue(rv)
	}
	if typ.Kind() == reflect.Pointer {
		return t.EncodeAs(v, typ.Elem())
	}
	isList := func(k reflect.Kind) bool { return k == reflect.Slice || k == reflect.Array }
	if isList(typ.Kind()) && isList(rv.Kind()) && typ.Elem().Kind() != reflect.Uint8 {
		out := make([]any, rv.Len())
		for i := range rv.Len() {
			e, err := t.EncodeAs(rv.Index(i).Interface(), typ.Elem())
			if err != nil {
				return nil, err
			}
			out[i] = e
		}
		return out, nil
	}
	if rv.Type().ConvertibleTo(typ) && !(isNumeric(rv.Kind()) && typ.Kind() == reflect.String) {
		return t.EncodeValue(rv.Convert(typ))
	}
	return t.EncodeValue(rv)
}

func isNumeric(k reflect.Kind) bool {
	return (k >= reflect.Int && k <= reflect.Uint64) || k == reflect.Float32 || k == reflect.Float64
}

func (t *Table) encodeList(rv reflect.Value) (any, error) {
	out := make([]any, rv.Len())
	for i := range rv.Len() {
		v, err := t.EncodeValue(rv.Index(i))
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Decode converts a native value to typ.
func (t *Table) Decode(native any, typ reflect.Type) (reflect.Value, error) {
	out := reflect.New(typ).Elem()
	if err := t.DecodeInto(native, out); err != nil {
		return reflect.Value{}, err
	}
	return out, nil
}

// DecodeInto converts a native value and stores it in dst, which must be settable.
func (t *Table) DecodeInto(native any, dst reflect.Value) error {
	typ := dst.Type()
	if native == nil {
		dst.Set(reflect.Zero(typ))
		return nil
	}

	if e, ok := t.enums[typ]; ok {
		return e.decode(native, dst)
	}

	switch typ {
	case timeType:
		ts, ok := native.(time.Time)
		if !ok {
			return conversionErr(native, typ.String(), nil)
		}
		dst.Set(reflect.ValueOf(ts.UTC()))
		return nil
	case durationType:
		n, ok := toInt64(native)
		if !ok {
			return conversionErr(native, typ.String(), nil)
		}
		if n > maxTicks || n < minTicks {
			return conversionErr(native, typ.String(), fmt.Errorf("%d ticks overflow a duration", n))
		}
		dst.SetInt(int64(time.Duration(n) * Tick))
		return nil
	case referenceType:
		switch r := native.(type) {
		case Reference:
			dst.Set(reflect.ValueOf(r))
		case string:
			dst.Set(reflect.ValueOf(Reference{Path: r}))
		default:
			return conversionErr(native, typ.String(), nil)
		}
		return nil
	case geoType:
		p, ok := native.(GeoPoint)
		if !ok {
			return conversionErr(native, typ.String(), nil)
		}
		dst.Set(reflect.ValueOf(p))
		return nil
	}

	switch typ.Kind() {
	case reflect.Pointer:
		elem := reflect.New(typ.Elem())
		if err := t.DecodeInto(native, elem.Elem()); err != nil {
			return err
		}
		dst.Set(elem)
		return nil
	case reflect.Interface:
		v := reflect.ValueOf(native)
		if !v.Type().AssignableTo(typ) {
			return conversionErr(native, typ.String(), nil)
		}
		dst.Set(v)
		return nil
	case reflect.Bool:
		b, ok := native.(bool)
		if !ok {
			return conversionErr(native, typ.String(), nil)
		}
		dst.SetBool(b)
		return nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, ok := toInt64(native)
		if !ok || dst.OverflowInt(n) {
			return conversionErr(native, typ.String(), nil)
		}
		dst.SetInt(n)
		return nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		n, ok := toInt64(native)
		if !ok || n < 0 || dst.OverflowUint(uint64(n)) {
			return conversionErr(native, typ.String(), nil)
		}
		dst.SetUint(uint64(n))
		return nil
	case reflect.Float32, reflect.Float64:
		f, ok := toFloat64(native)
		if !ok || dst.OverflowFloat(f) {
			return conversionErr(native, typ.String(), nil)
		}
		dst.SetFloat(f)
		return nil
	case reflect.String:
		s, ok := native.(string)
		if !ok {
			return conversionErr(native, typ.String(), nil)
		}
		dst.SetString(s)
		return nil
	case reflect.Slice:
		if typ == bytesType || (typ.Elem().Kind() == reflect.Uint8 && !t.IsEnum(typ.Elem())) {
			if b, ok := native.([]byte); ok {
				out := reflect.MakeSlice(typ, len(b), len(b))
				reflect.Copy(out, reflect.ValueOf(b))
				dst.Set(out)
				return nil
			}
		}
		list, ok := asList(native)
		if !ok {
			return conversionErr(native, typ.String(), nil)
		}
		out := reflect.MakeSlice(typ, len(list), len(list))
		for i, item := range list {
			if err := t.DecodeInto(item, out.Index(i)); err != nil {
				return err
			}
		}
		dst.Set(out)
		return nil
	case reflect.Array:
		list, ok := asList(native)
		if !ok || len(list) != typ.Len() {
			return conversionErr(native, typ.String(), nil)
		}
		for i, item := range list {
			if err := t.DecodeInto(item, dst.Index(i)); err != nil {
				return err
			}
		}
		return nil
	case reflect.Map:
		m, ok := native.(map[string]any)
		if !ok || typ.Key().Kind() != reflect.String {
			return conversionErr(native, typ.String(), nil)
		}
		out := reflect.MakeMapWithSize(typ, len(m))
		for k, v := range m {
			ev := reflect.New(typ.Elem()).Elem()
			if err := t.DecodeInto(v, ev); err != nil {
				return err
			}
			out.SetMapIndex(reflect.ValueOf(k).Convert(typ.Key()), ev)
		}
		dst.Set(out)
		return nil
	default:
		return conversionErr(native, typ.String(), fmt.Errorf("unsupported kind %s", typ.Kind()))
	}
}

// IsNative reports whether typ maps to a single native scalar or list rather
// than an embedded document.
func IsNative(typ reflect.Type) bool {
	switch typ {
	case timeType, durationType, referenceType, geoType, bytesType, anyType:
		return true
	}
	switch typ.Kind() {
	case reflect.Pointer:
		return IsNative(typ.Elem())
	case reflect.Struct:
		return false
	case reflect.Slice, reflect.Array:
		return IsNative(typ.Elem())
	case reflect.Map:
		return typ.Key().Kind() == reflect.String && IsNative(typ.Elem())
	case reflect.Func, reflect.Chan, reflect.UnsafePointer, reflect.Complex64, reflect.Complex128:
		return false
	default:
		return true
	}
}

func asList(native any) ([]any, bool) {
	if l, ok := native.([]any); ok {
		return l, true
	}
	rv := reflect.ValueOf(native)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range rv.Len() {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// ToInt64 converts an integral native number to int64.
func ToInt64(native any) (int64, bool) { return toInt64(native) }

// ToFloat64 converts a native number to float64.
func ToFloat64(native any) (float64, bool) { return toFloat64(native) }

func toInt64(native any) (int64, bool) {
	switch n := native.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case float64:
		if n != math.Trunc(n) || n > math.MaxInt64 || n < math.MinInt64 {
			return 0, false
		}
		return int64(n), true
	default:
		return 0, false
	}
}

func toFloat64(native any) (float64, bool) {
	switch n := native.(type) {
	case float64:
		return n, true
	case int64:
		f := float64(n)
		if n > 1<<53 || n < -(1<<53) {
			return 0, false
		}
		return f, true
	case int:
		return toFloat64(int64(n))
	case int32:
		return float64(n), true
	default:
		return 0, false
	}
}

func conversionErr(value any, target string, cause error) error {
	return &domain.ConversionError{Value: value, Target: target, Err: cause}
}
