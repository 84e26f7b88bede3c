// Package model holds per-type schema descriptors. A descriptor is built once
// when a type is registered and drives translation, materialization and
// serialization as data rather than per-document reflection discovery.
package model

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/kailas-cloud/docq/internal/domain"
	"github.com/kailas-cloud/docq/internal/domain/filter"
)

// TagKey is the struct tag read by the registry.
const TagKey = "docq"

// FieldKind classifies a persisted field.
type FieldKind int

const (
	KindScalar FieldKind = iota
	KindEmbedded
	KindReference
	KindGeo
)

func (k FieldKind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindEmbedded:
		return "embedded"
	case KindReference:
		return "reference"
	case KindGeo:
		return "geo"
	default:
		return fmt.Sprintf("FieldKind(%d)", int(k))
	}
}

// Field is a persisted struct field.
type Field struct {
	Name   string // stored name
	GoName string
	Index  []int
	Type   reflect.Type
	Kind   FieldKind

	// Embedded describes the struct of a KindEmbedded field with pointer and
	// slice wrappers stripped. List marks a slice of embedded values.
	Embedded *Entity
	List     bool

	// Target is the referenced entity of a KindReference field.
	Target *Entity

	Geo *GeoShape
}

// GeoShape locates the coordinate members of a geo field.
type GeoShape struct {
	Type   reflect.Type
	Native bool  // field is codec.GeoPoint
	Lat    []int // nil when no latitude member is recognizable
	Lng    []int
}

// Complete reports whether both coordinate members were found.
func (g *GeoShape) Complete() bool {
	return g.Native || (g.Lat != nil && g.Lng != nil)
}

// Navigation is a related-data accessor: a child collection or a single
// cross-document reference.
type Navigation struct {
	Name        string // Go field name
	Collection  string // child collection name, empty for references
	Index       []int
	Many        bool
	ElemPointer bool
	Target      *Entity
	Field       *Field // reference field backing a single navigation
}

// Entity is the descriptor of one Go type.
type Entity struct {
	Type       reflect.Type
	Collection string
	Dynamic    bool

	IDName  string // Go name of the identifier field
	IDIndex []int

	Fields      []*Field
	Navigations []*Navigation
	Constructor *Constructor

	// References lists stored names of reference fields, used for
	// nested reference resolution inside embedded values.
	References []string

	byName   map[string]*Field
	byGoName map[string]*Field
	navs     map[string]*Navigation
}

func newEntity(typ reflect.Type) *Entity {
	return &Entity{
		Type:     typ,
		byName:   make(map[string]*Field),
		byGoName: make(map[string]*Field),
		navs:     make(map[string]*Navigation),
	}
}

func (e *Entity) String() string {
	if e.Dynamic {
		return "dynamic(" + e.Collection + ")"
	}
	return e.Type.String()
}

// Field looks a field up by Go name, then by stored name.
func (e *Entity) Field(name string) (*Field, bool) {
	if f, ok := e.byGoName[name]; ok {
		return f, true
	}
	f, ok := e.byName[name]
	return f, ok
}

// Navigation looks a navigation up by Go name or child collection name.
func (e *Entity) Navigation(name string) (*Navigation, bool) {
	n, ok := e.navs[name]
	return n, ok
}

// HasIdentifier reports whether the descriptor carries an identifier field.
func (e *Entity) HasIdentifier() bool {
	return e.Dynamic || e.IDIndex != nil
}

// IsIdentifier reports whether name refers to the identifier field.
func (e *Entity) IsIdentifier(name string) bool {
	if e.Dynamic {
		return name == DynamicID || name == filter.DocumentID
	}
	return e.IDIndex != nil && (name == e.IDName || name == filter.DocumentID)
}

// New allocates a zero value and returns a pointer to it.
func (e *Entity) New() reflect.Value {
	return reflect.New(e.Type)
}

// ID reads the identifier of v, a struct or pointer to struct.
func (e *Entity) ID(v reflect.Value) string {
	v = reflect.Indirect(v)
	if e.IDIndex == nil || !v.IsValid() {
		return ""
	}
	return v.FieldByIndex(e.IDIndex).String()
}

// SetID writes the identifier of v, which must be addressable.
func (e *Entity) SetID(v reflect.Value, id string) {
	v = reflect.Indirect(v)
	if e.IDIndex == nil {
		return
	}
	v.FieldByIndex(e.IDIndex).SetString(id)
}

// Resolved is the outcome of resolving a member path.
type Resolved struct {
	Path       string // stored dotted path, or filter.DocumentID
	Identifier bool
	Field      *Field
	Navigation *Navigation
	Type       reflect.Type
}

// Resolve maps a member path of Go (or stored) names to its stored path.
func (e *Entity) Resolve(path []string) (Resolved, error) {
	if len(path) == 0 {
		return Resolved{}, fmt.Errorf("%w: empty member path", domain.ErrInvalidPlan)
	}
	if len(path) == 1 && e.IsIdentifier(path[0]) {
		return Resolved{Path: filter.DocumentID, Identifier: true, Type: reflect.TypeFor[string]()}, nil
	}

	cur := e
	stored := make([]string, 0, len(path))
	for i, seg := range path {
		if cur.Dynamic {
			stored = append(stored, path[i:]...)
			return Resolved{Path: strings.Join(stored, "."), Type: reflect.TypeFor[any]()}, nil
		}
		last := i == len(path)-1
		if nav, ok := cur.navs[seg]; ok && nav.Many {
			if !last {
				return Resolved{}, domain.Unsupported(strings.Join(path, "."), "member access through a child collection")
			}
			return Resolved{Path: strings.Join(append(stored, nav.Collection), "."), Navigation: nav}, nil
		}
		f, ok := cur.Field(seg)
		if !ok {
			return Resolved{}, fmt.Errorf("%w: %s has no member %q", domain.ErrInvalidPlan, cur, seg)
		}
		stored = append(stored, f.Name)
		if last {
			r := Resolved{Path: strings.Join(stored, "."), Field: f, Type: f.Type}
			if f.Kind == KindReference {
				r.Navigation = cur.navs[f.GoName]
			}
			return r, nil
		}
		if f.Kind != KindEmbedded || f.List {
			return Resolved{}, domain.Unsupported(strings.Join(path, "."), "member access into a "+f.Kind.String()+" field")
		}
		cur = f.Embedded
	}
	return Resolved{}, fmt.Errorf("%w: unresolvable path %v", domain.ErrInvalidPlan, path)
}

func (e *Entity) addField(f *Field) {
	e.Fields = append(e.Fields, f)
	e.byName[f.Name] = f
	e.byGoName[f.GoName] = f
}

func (e *Entity) addNavigation(n *Navigation) {
	e.Navigations = append(e.Navigations, n)
	e.navs[n.Name] = n
	if n.Collection != "" {
		e.navs[n.Collection] = n
	}
}

// DynamicID is the key under which dynamic documents expose their identifier.
const DynamicID = "id"

// Dynamic returns a descriptor for untyped documents materialized as
// map[string]any.
func Dynamic(collection string) *Entity {
	e := newEntity(reflect.TypeFor[map[string]any]())
	e.Dynamic = true
	e.Collection = collection
	return e
}
