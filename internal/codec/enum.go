package codec

import (
	"fmt"
	"reflect"
)

// Integer is the set of underlying types an enum can be declared on.
type Integer interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 | ~uint | ~uint8 | ~uint16 | ~uint32
}

// Enum is a bijective mapping between an integer-backed Go type and the
// textual names stored in documents.
type Enum struct {
	typ    reflect.Type
	names  map[int64]string
	values map[string]int64
}

// NewEnum builds the mapping for E. Names must be unique.
func NewEnum[E Integer](names map[E]string) *Enum {
	e := &Enum{
		typ:    reflect.TypeFor[E](),
		names:  make(map[int64]string, len(names)),
		values: make(map[string]int64, len(names)),
	}
	for v, name := range names {
		if _, dup := e.values[name]; dup {
			panic(fmt.Sprintf("codec: duplicate enum name %q for %s", name, e.typ))
		}
		e.names[int64(v)] = name
		e.values[name] = int64(v)
	}
	return e
}

// Type returns the Go type the mapping is declared on.
func (e *Enum) Type() reflect.Type { return e.typ }

// Name returns the stored name of v.
func (e *Enum) Name(v int64) (string, bool) {
	name, ok := e.names[v]
	return name, ok
}

func (e *Enum) encode(rv reflect.Value) (any, error) {
	var key int64
	switch rv.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32:
		key = int64(rv.Uint())
	default:
		key = rv.Int()
	}
	name, ok := e.names[key]
	if !ok {
		return nil, conversionErr(rv.Interface(), "string", fmt.Errorf("no name registered for %s(%d)", e.typ, key))
	}
	return name, nil
}

func (e *Enum) decode(native any, dst reflect.Value) error {
	name, ok := native.(string)
	if !ok {
		return conversionErr(native, e.typ.String(), nil)
	}
	v, ok := e.values[name]
	if !ok {
		return conversionErr(native, e.typ.String(), fmt.Errorf("unknown enum name"))
	}
	switch dst.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32:
		dst.SetUint(uint64(v))
	default:
		dst.SetInt(v)
	}
	return nil
}
