package db

import (
	"context"
	"time"

	"github.com/kailas-cloud/docq/internal/domain/filter"
	"github.com/kailas-cloud/docq/internal/domain/path"
)

// Gateway is the store facade combining all sub-interfaces. The core never
// opens a connection itself; every read and write goes through a Gateway.
//
//nolint:interfacebloat // facade by design -- consumers use narrow sub-interfaces
type Gateway interface {
	Pinger
	Reader
	Writer
	Database() string
	Close()
	WaitForReady(ctx context.Context, timeout time.Duration) error
}

// Pinger checks store connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Reader provides document and collection reads.
type Reader interface {
	Get(ctx context.Context, path string) (*Document, error)
	Exists(ctx context.Context, path string) (bool, error)
	List(ctx context.Context, collectionPath string) ([]*Document, error)
	RunQuery(ctx context.Context, q *Query) ([]*Document, error)
	Aggregate(ctx context.Context, q *AggregateQuery) (map[string]any, error)
}

// Writer provides single-document writes and atomic batches.
type Writer interface {
	Create(ctx context.Context, path string, fields map[string]any) error
	Update(ctx context.Context, path string, fields map[string]any) error
	Delete(ctx context.Context, path string) error
	Batch() Batch
}

// Batch buffers writes until Commit applies them atomically. Dropping a
// batch without committing discards it.
type Batch interface {
	Create(path string, fields map[string]any)
	Set(path string, fields map[string]any)
	Update(path string, fields map[string]any)
	Delete(path string)
	Len() int
	Commit(ctx context.Context) error
}

// Document is a raw stored document. Fields hold native codec values.
type Document struct {
	Path   string
	Fields map[string]any
}

// ID returns the last path segment.
func (d *Document) ID() string { return path.ID(d.Path) }

// CollectionPath returns the path of the containing collection.
func (d *Document) CollectionPath() string { return path.Parent(d.Path) }

// Query is a filtered, sorted, paginated read of the direct children of a
// collection path.
type Query struct {
	Collection  string
	Filters     []filter.Condition
	OrGroups    []filter.Group
	Orders      []filter.Order
	Offset      int
	Limit       int // 0 means unlimited
	LimitToLast bool
}

// Aggregation is one named aggregate over the documents matched by a query.
type Aggregation struct {
	Alias string
	Kind  filter.Aggregate
	Field string
}

// AggregateQuery computes aggregations over a query; it is never paginated.
type AggregateQuery struct {
	Query        Query
	Aggregations []Aggregation
}

// WriteOp is the kind of a buffered batch write.
type WriteOp int

// Batch write kinds.
const (
	WriteCreate WriteOp = iota
	WriteSet
	WriteUpdate
	WriteDelete
)

func (op WriteOp) String() string {
	switch op {
	case WriteCreate:
		return "create"
	case WriteSet:
		return "set"
	case WriteUpdate:
		return "update"
	case WriteDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Write is one buffered batch operation.
type Write struct {
	Op     WriteOp
	Path   string
	Fields map[string]any
}

// Writes is a reusable Batch buffer; gateways embed it and implement Commit.
type Writes struct {
	ops []Write
}

func (w *Writes) Create(path string, fields map[string]any) {
	w.ops = append(w.ops, Write{Op: WriteCreate, Path: path, Fields: fields})
}

func (w *Writes) Set(path string, fields map[string]any) {
	w.ops = append(w.ops, Write{Op: WriteSet, Path: path, Fields: fields})
}

func (w *Writes) Update(path string, fields map[string]any) {
	w.ops = append(w.ops, Write{Op: WriteUpdate, Path: path, Fields: fields})
}

func (w *Writes) Delete(path string) {
	w.ops = append(w.ops, Write{Op: WriteDelete, Path: path})
}

func (w *Writes) Len() int { return len(w.ops) }

// Ops returns the buffered writes in order.
func (w *Writes) Ops() []Write { return w.ops }
