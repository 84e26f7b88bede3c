package model

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/kailas-cloud/docq/internal/domain"
)

// Loader fetches a referenced document on demand.
type Loader interface {
	Load(ctx context.Context, path string, target reflect.Type) (any, error)
}

// RefField is implemented by *Ref[T]; the materializer and the proxy stage
// drive references through it without knowing T.
type RefField interface {
	RefPath() string
	SetRefPath(path string)
	RefTarget() reflect.Type
	RefValue() any
	SetRefValue(v any)
	SetRefLoader(l Loader)
}

var refFieldType = reflect.TypeFor[RefField]()

// IsRef reports whether typ is a Ref[T] instantiation.
func IsRef(typ reflect.Type) bool {
	return typ.Kind() == reflect.Struct && reflect.PointerTo(typ).Implements(refFieldType)
}

// RefTargetOf returns T for a Ref[T] type.
func RefTargetOf(typ reflect.Type) reflect.Type {
	return reflect.New(typ).Interface().(RefField).RefTarget()
}

// Ref is a cross-document reference to a T stored at Path.
type Ref[T any] struct {
	path   string
	value  *T
	loader Loader
}

// NewRef returns an unresolved reference to path.
func NewRef[T any](path string) Ref[T] {
	return Ref[T]{path: path}
}

// Path returns the referenced document path.
func (r Ref[T]) Path() string { return r.path }

// Value returns the referenced entity if it has been loaded.
func (r Ref[T]) Value() *T { return r.value }

// Loaded reports whether the target has been materialized.
func (r Ref[T]) Loaded() bool { return r.value != nil }

// Load returns the referenced entity, fetching it when it was not side-loaded.
// A missing target yields nil without error.
func (r *Ref[T]) Load(ctx context.Context) (*T, error) {
	if r.value != nil || r.path == "" {
		return r.value, nil
	}
	if r.loader == nil {
		return nil, fmt.Errorf("reference %q was not included and lazy loading is disabled", r.path)
	}
	v, err := r.loader.Load(ctx, r.path, reflect.TypeFor[T]())
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t, ok := v.(*T)
	if !ok {
		return nil, fmt.Errorf("%w: reference %q loaded %T", domain.ErrInternal, r.path, v)
	}
	r.value = t
	return t, nil
}

func (r *Ref[T]) RefPath() string { return r.path }
func (r *Ref[T]) SetRefPath(path string) { r.path = path }
func (r *Ref[T]) RefTarget() reflect.Type { return reflect.TypeFor[T]() }
func (r *Ref[T]) SetRefLoader(l Loader) { r.loader = l }
func (r *Ref[T]) RefValue() any {
	if r.value == nil {
		return nil
	}
	return r.value
}

func (r *Ref[T]) SetRefValue(v any) {
	if t, ok := v.(*T); ok {
		r.value = t
	}
}
