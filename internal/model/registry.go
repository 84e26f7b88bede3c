package model

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/kailas-cloud/docq/internal/codec"
	"github.com/kailas-cloud/docq/internal/domain"
	"github.com/kailas-cloud/docq/internal/domain/geo"
)

// Registry builds and caches descriptors. Registration happens at startup;
// lookups are safe for concurrent use afterwards.
type Registry struct {
	mu       sync.RWMutex
	entities map[reflect.Type]*Entity
	ctors    map[reflect.Type]ctorSpec
	roots    map[string]*Entity
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entities: make(map[reflect.Type]*Entity),
		ctors:    make(map[reflect.Type]ctorSpec),
		roots:    make(map[string]*Entity),
	}
}

// Option configures a registration.
type Option func(*registerOptions)

type registerOptions struct {
	ctor   any
	params []string
}

// WithConstructor materializes the type through fn. params name fn's
// parameters in order; each binds to the identifier, a child-collection
// navigation or a field.
func WithConstructor(fn any, params ...string) Option {
	return func(o *registerOptions) {
		o.ctor = fn
		o.params = params
	}
}

// RegisterConstructor installs a constructor for an embedded or geo type.
// It must run before the types embedding it are registered.
func (r *Registry) RegisterConstructor(fn any, params ...string) error {
	typ, spec, err := newCtorSpec(fn, params)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctors[typ] = spec
	if e, ok := r.entities[typ]; ok {
		c, err := e.bind(spec)
		if err != nil {
			return err
		}
		e.Constructor = c
	}
	return nil
}

// Register describes typ as the document type of a root collection.
func (r *Registry) Register(typ reflect.Type, collection string, opts ...Option) (*Entity, error) {
	if typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}
	if collection == "" {
		return nil, fmt.Errorf("%w: collection is required for %s", domain.ErrInvalidSchema, typ)
	}
	var o registerOptions
	for _, opt := range opts {
		opt(&o)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if o.ctor != nil {
		ct, spec, err := newCtorSpec(o.ctor, o.params)
		if err != nil {
			return nil, err
		}
		if ct != typ {
			return nil, fmt.Errorf("%w: constructor builds %s, not %s", domain.ErrInvalidSchema, ct, typ)
		}
		r.ctors[typ] = spec
	}

	e, err := r.describe(typ)
	if err != nil {
		return nil, err
	}
	if e.IDIndex == nil {
		return nil, fmt.Errorf("%w: no field with `docq:\"...,id\"` tag in %s", domain.ErrInvalidSchema, typ)
	}
	if prev, ok := r.roots[collection]; ok && prev != e {
		return nil, fmt.Errorf("%w: collection %q already registered for %s", domain.ErrInvalidSchema, collection, prev.Type)
	}
	e.Collection = collection
	r.roots[collection] = e
	return e, nil
}

// Lookup returns the descriptor of typ, if it has been described.
func (r *Registry) Lookup(typ reflect.Type) (*Entity, bool) {
	if typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entities[typ]
	return e, ok
}

// Collection returns the descriptor registered for a root collection.
func (r *Registry) Collection(name string) (*Entity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.roots[name]
	return e, ok
}

// describe must be called with mu held. The descriptor is cached before its
// fields are walked so self-referencing types terminate.
func (r *Registry) describe(typ reflect.Type) (*Entity, error) {
	if e, ok := r.entities[typ]; ok {
		return e, nil
	}
	if typ.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: type %s is not a struct", domain.ErrInvalidSchema, typ)
	}

	e := newEntity(typ)
	r.entities[typ] = e

	for i := range typ.NumField() {
		f := typ.Field(i)
		if !f.IsExported() || f.Anonymous {
			continue
		}
		tag := f.Tag.Get(TagKey)
		if tag == "-" {
			continue
		}
		if err := r.applyTag(e, f, tag); err != nil {
			delete(r.entities, typ)
			return nil, err
		}
	}

	if e.IDIndex == nil {
		if f, ok := typ.FieldByName("ID"); ok && f.Type.Kind() == reflect.String && f.Tag.Get(TagKey) == "" {
			e.IDName, e.IDIndex = f.Name, f.Index
			delete(e.byGoName, f.Name)
			e.removeField(f.Name)
		}
	}

	if spec, ok := r.ctors[typ]; ok {
		c, err := e.bind(spec)
		if err != nil {
			delete(r.entities, typ)
			return nil, err
		}
		e.Constructor = c
	}
	return e, nil
}

// applyTag processes a single struct field's docq tag.
func (r *Registry) applyTag(e *Entity, f reflect.StructField, tag string) error {
	name, modifier, _ := strings.Cut(tag, ",")
	if name == "" {
		name = f.Name
	}

	switch modifier {
	case "id":
		if e.IDIndex != nil {
			return fmt.Errorf("%w: duplicate id tag on field %s", domain.ErrInvalidSchema, f.Name)
		}
		if f.Type.Kind() != reflect.String {
			return fmt.Errorf("%w: id field %s must be a string", domain.ErrInvalidSchema, f.Name)
		}
		e.IDName, e.IDIndex = f.Name, f.Index
		return nil
	case "collection":
		return r.addCollection(e, f, name)
	case "ref":
		if !IsRef(f.Type) {
			return fmt.Errorf("%w: ref field %s must be a Ref[T]", domain.ErrInvalidSchema, f.Name)
		}
		return r.addReference(e, f, name)
	case "geo":
		field := &Field{Name: name, GoName: f.Name, Index: f.Index, Type: f.Type, Kind: KindGeo, Geo: geoShape(f.Type)}
		if st := indirectType(f.Type); !field.Geo.Native && st.Kind() == reflect.Struct {
			sub, err := r.describe(st)
			if err != nil {
				return err
			}
			field.Embedded = sub
		}
		e.addField(field)
		return nil
	case "":
		return r.addInferred(e, f, name)
	default:
		return fmt.Errorf("%w: unknown modifier %q on field %s", domain.ErrInvalidSchema, modifier, f.Name)
	}
}

func (r *Registry) addInferred(e *Entity, f reflect.StructField, name string) error {
	typ := f.Type
	switch {
	case IsRef(typ):
		return r.addReference(e, f, name)
	case typ == reflect.TypeFor[codec.GeoPoint]():
		e.addField(&Field{Name: name, GoName: f.Name, Index: f.Index, Type: typ, Kind: KindGeo, Geo: geoShape(typ)})
		return nil
	case codec.IsNative(typ):
		e.addField(&Field{Name: name, GoName: f.Name, Index: f.Index, Type: typ, Kind: KindScalar})
		return nil
	}

	elem, list := typ, false
	if elem.Kind() == reflect.Slice || elem.Kind() == reflect.Array {
		elem, list = elem.Elem(), true
	}
	if elem.Kind() == reflect.Pointer {
		elem = elem.Elem()
	}
	if elem.Kind() != reflect.Struct {
		return fmt.Errorf("%w: field %s has unsupported type %s", domain.ErrInvalidSchema, f.Name, typ)
	}
	sub, err := r.describe(elem)
	if err != nil {
		return err
	}
	e.addField(&Field{Name: name, GoName: f.Name, Index: f.Index, Type: typ, Kind: KindEmbedded, Embedded: sub, List: list})
	return nil
}

func (r *Registry) addCollection(e *Entity, f reflect.StructField, name string) error {
	if f.Type.Kind() != reflect.Slice {
		return fmt.Errorf("%w: collection field %s must be a slice", domain.ErrInvalidSchema, f.Name)
	}
	elem, ptr := f.Type.Elem(), false
	if elem.Kind() == reflect.Pointer {
		elem, ptr = elem.Elem(), true
	}
	target, err := r.describe(elem)
	if err != nil {
		return err
	}
	e.addNavigation(&Navigation{
		Name: f.Name, Collection: name, Index: f.Index,
		Many: true, ElemPointer: ptr, Target: target,
	})
	return nil
}

func (r *Registry) addReference(e *Entity, f reflect.StructField, name string) error {
	target, err := r.describe(RefTargetOf(f.Type))
	if err != nil {
		return err
	}
	field := &Field{Name: name, GoName: f.Name, Index: f.Index, Type: f.Type, Kind: KindReference, Target: target}
	e.addField(field)
	e.References = append(e.References, name)
	e.addNavigation(&Navigation{Name: f.Name, Index: f.Index, Target: target, Field: field})
	return nil
}

func (e *Entity) removeField(goName string) {
	for i, f := range e.Fields {
		if f.GoName == goName {
			delete(e.byName, f.Name)
			e.Fields = append(e.Fields[:i], e.Fields[i+1:]...)
			return
		}
	}
}

// geoShape locates latitude and longitude members by stored or Go name.
func geoShape(typ reflect.Type) *GeoShape {
	g := &GeoShape{Type: typ}
	if typ == reflect.TypeFor[codec.GeoPoint]() {
		g.Native = true
		return g
	}
	st := indirectType(typ)
	if st.Kind() != reflect.Struct {
		return g
	}
	for i := range st.NumField() {
		f := st.Field(i)
		name, _, _ := strings.Cut(f.Tag.Get(TagKey), ",")
		role := geo.RoleOf(f.Name)
		if role == geo.RoleNone && name != "" {
			role = geo.RoleOf(name)
		}
		switch role {
		case geo.RoleLatitude:
			g.Lat = f.Index
		case geo.RoleLongitude:
			g.Lng = f.Index
		}
	}
	return g
}

func indirectType(t reflect.Type) reflect.Type {
	if t.Kind() == reflect.Pointer {
		return t.Elem()
	}
	return t
}
