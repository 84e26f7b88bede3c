package plan

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/kailas-cloud/docq/internal/domain"
	"github.com/kailas-cloud/docq/internal/model"
)

// ShapeKind is what a projection returns.
type ShapeKind int

const (
	ShapeScalar ShapeKind = iota
	ShapeAnonymous
	ShapeRecord
)

func (k ShapeKind) String() string {
	switch k {
	case ShapeScalar:
		return "scalar"
	case ShapeAnonymous:
		return "anonymous"
	case ShapeRecord:
		return "record"
	default:
		return fmt.Sprintf("ShapeKind(%d)", int(k))
	}
}

// Shape describes a result narrower than a whole entity. Dotted result names
// group members into nested shapes when materialized; they never add depth to
// the storage query.
type Shape struct {
	Kind           ShapeKind
	Type           reflect.Type
	Fields         []ShapeField
	Subcollections []*Subcollection
}

// ShapeField copies one stored field into a result member.
type ShapeField struct {
	Source string // stored dotted path, or filter.DocumentID
	Name   string
	Type   reflect.Type // declared type of the source member
	Field  *model.Field // nil for the identifier
}

// Subcollection projects the documents of a child collection, or an
// aggregate over them, into one result member.
type Subcollection struct {
	Name        string
	Navigation  *model.Navigation
	Query       *Plan
	Element     *Shape // nil returns whole child entities
	Aggregation *Aggregation
}

// Collection returns the child collection name.
func (s *Subcollection) Collection() string { return s.Navigation.Collection }

// Validate checks that result names are unique within each shape.
func (s *Shape) Validate() error {
	seen := make(map[string]bool, len(s.Fields)+len(s.Subcollections))
	add := func(name string) error {
		if seen[name] {
			return fmt.Errorf("%w: duplicate projection member %q", domain.ErrInvalidPlan, name)
		}
		seen[name] = true
		return nil
	}
	for _, f := range s.Fields {
		if err := add(f.Name); err != nil {
			return err
		}
	}
	for _, sub := range s.Subcollections {
		if err := add(sub.Name); err != nil {
			return err
		}
		if sub.Element != nil {
			if err := sub.Element.Validate(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Prefixed returns the members whose names start with prefix+".", with the
// prefix stripped, as a nested shape.
func (s *Shape) Prefixed(prefix string) *Shape {
	p := prefix + "."
	out := &Shape{Kind: ShapeAnonymous}
	for _, f := range s.Fields {
		if rest, ok := strings.CutPrefix(f.Name, p); ok {
			f.Name = rest
			out.Fields = append(out.Fields, f)
		}
	}
	for _, sub := range s.Subcollections {
		if rest, ok := strings.CutPrefix(sub.Name, p); ok {
			cp := *sub
			cp.Name = rest
			out.Subcollections = append(out.Subcollections, &cp)
		}
	}
	return out
}

// Include requests a related navigation alongside the primary query.
type Include struct {
	Navigation string
	Many       bool
	Target     *model.Entity
	// Collection is the child collection name of a collection navigation.
	Collection string
	// Field is the stored name of the reference field of a single navigation.
	Field string
	// Query carries filter, sort, skip and take overrides for collections.
	Query *Plan
}

func (i *Include) merge(o *Include) *Include {
	if i.Query != nil || o.Query == nil {
		return i
	}
	out := *i
	out.Query = o.Query
	return &out
}

func (i *Include) String() string {
	kind := "reference"
	if i.Many {
		kind = "collection " + i.Collection
	}
	return i.Navigation + " (" + kind + ")"
}
