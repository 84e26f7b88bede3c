package model

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/kailas-cloud/docq/internal/domain"
	"github.com/kailas-cloud/docq/internal/domain/geo"
)

// BindingKind says where a constructor parameter takes its value from.
type BindingKind int

const (
	BindIdentifier BindingKind = iota
	BindNavigation
	BindField
	BindLatitude
	BindLongitude
)

// Binding ties one constructor parameter to a descriptor member.
type Binding struct {
	Param      string
	Kind       BindingKind
	Type       reflect.Type
	Field      *Field
	Navigation *Navigation
}

// Constructor is a registered factory for a type. It returns T or *T and
// optionally an error.
type Constructor struct {
	Fn       reflect.Value
	Bindings []Binding

	returnsPointer bool
	returnsError   bool
}

var errorType = reflect.TypeFor[error]()

type ctorSpec struct {
	fn     reflect.Value
	params []string
}

func newCtorSpec(fn any, params []string) (reflect.Type, ctorSpec, error) {
	fv := reflect.ValueOf(fn)
	ft := fv.Type()
	if ft.Kind() != reflect.Func {
		return nil, ctorSpec{}, fmt.Errorf("%w: constructor is %s, not a func", domain.ErrInvalidSchema, ft)
	}
	if ft.NumIn() != len(params) {
		return nil, ctorSpec{}, fmt.Errorf("%w: constructor takes %d parameters, %d names given",
			domain.ErrInvalidSchema, ft.NumIn(), len(params))
	}
	if ft.NumOut() == 0 || ft.NumOut() > 2 || (ft.NumOut() == 2 && ft.Out(1) != errorType) {
		return nil, ctorSpec{}, fmt.Errorf("%w: constructor must return T, *T or (T, error)", domain.ErrInvalidSchema)
	}
	out := ft.Out(0)
	if out.Kind() == reflect.Pointer {
		out = out.Elem()
	}
	if out.Kind() != reflect.Struct {
		return nil, ctorSpec{}, fmt.Errorf("%w: constructor returns %s", domain.ErrInvalidSchema, ft.Out(0))
	}
	return out, ctorSpec{fn: fv, params: params}, nil
}

// bind matches parameter names case-insensitively against the identifier,
// navigations and stored or Go field names.
func (e *Entity) bind(spec ctorSpec) (*Constructor, error) {
	ft := spec.fn.Type()
	c := &Constructor{
		Fn:             spec.fn,
		returnsPointer: ft.Out(0).Kind() == reflect.Pointer,
		returnsError:   ft.NumOut() == 2,
	}
	for i, name := range spec.params {
		b, err := e.bindParam(name, ft.In(i))
		if err != nil {
			return nil, err
		}
		c.Bindings = append(c.Bindings, b)
	}
	return c, nil
}

func (e *Entity) bindParam(name string, typ reflect.Type) (Binding, error) {
	b := Binding{Param: name, Type: typ}
	if e.IDIndex != nil && strings.EqualFold(name, e.IDName) {
		b.Kind = BindIdentifier
		return b, nil
	}
	for _, n := range e.Navigations {
		if n.Many && (strings.EqualFold(name, n.Name) || strings.EqualFold(name, n.Collection)) {
			b.Kind, b.Navigation = BindNavigation, n
			return b, nil
		}
	}
	for _, f := range e.Fields {
		if strings.EqualFold(name, f.Name) || strings.EqualFold(name, f.GoName) {
			b.Kind, b.Field = BindField, f
			return b, nil
		}
	}
	switch geo.RoleOf(name) {
	case geo.RoleLatitude:
		b.Kind = BindLatitude
		return b, nil
	case geo.RoleLongitude:
		b.Kind = BindLongitude
		return b, nil
	}
	return b, fmt.Errorf("%w: constructor parameter %q of %s matches no identifier, navigation or field",
		domain.ErrInvalidSchema, name, e.Type)
}

// Call invokes the constructor and returns a pointer to the new value.
func (c *Constructor) Call(args []reflect.Value) (reflect.Value, error) {
	out := c.Fn.Call(args)
	if c.returnsError && !out[1].IsNil() {
		return reflect.Value{}, out[1].Interface().(error)
	}
	v := out[0]
	if c.returnsPointer {
		if v.IsNil() {
			return reflect.Value{}, fmt.Errorf("%w: constructor returned nil", domain.ErrInvalidSchema)
		}
		return v, nil
	}
	p := reflect.New(v.Type())
	p.Elem().Set(v)
	return p, nil
}

// Binds reports whether the constructor sets the given field.
func (c *Constructor) Binds(f *Field) bool {
	for _, b := range c.Bindings {
		if b.Field == f {
			return true
		}
	}
	return false
}
