package pipeline

import (
	"github.com/kailas-cloud/docq/internal/materialize"
	"github.com/kailas-cloud/docq/internal/model"
	"github.com/kailas-cloud/docq/internal/query/builder"
	"github.com/kailas-cloud/docq/internal/query/plan"
)

// WriteKind is a session-level write.
type WriteKind int

const (
	WriteAdd WriteKind = iota
	WriteUpdate
	WriteRemove
)

func (k WriteKind) String() string {
	switch k {
	case WriteAdd:
		return "add"
	case WriteUpdate:
		return "update"
	default:
		return "remove"
	}
}

// Write is one pending change to an entity.
type Write struct {
	Kind   WriteKind
	Entity *model.Entity
	// Collection is the collection path the entity lives in.
	Collection string
	// Value is a pointer to the entity, or the map of a dynamic document.
	Value any
	// Fields restricts an update to the changed fields; nil writes every
	// field.
	Fields map[string]any

	// Path is filled in by the resolve stage.
	Path string

	stored map[string]any
}

// Exchange carries one request through the chain. A query sets Plan; a
// write sets Writes.
type Exchange struct {
	ID string

	Plan    *plan.Plan
	Params  map[string]any
	Tracker *Tracker // nil disables identity tracking

	Writes []*Write

	Lowered *builder.Lowered
	Raw     *builder.Result
	Side    *materialize.Sideload

	// Results holds materialized rows in store order; Paths holds the
	// document path of each row.
	Results []any
	Paths   []string
	// Scalar holds the value of count, exists and aggregate queries.
	Scalar any
}

// IsWrite reports whether the exchange commits writes.
func (x *Exchange) IsWrite() bool { return x.Plan == nil }

func (x *Exchange) kind() string {
	switch {
	case x.IsWrite():
		return "write"
	case x.Lowered != nil:
		return x.Lowered.Kind.String()
	default:
		return "unresolved"
	}
}
