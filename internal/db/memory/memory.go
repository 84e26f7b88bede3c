// Package memory is an in-process gateway backed by an ordered B-tree of
// document paths. Queries run through the shared evaluator.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/btree"

	"github.com/kailas-cloud/docq/internal/db"
	"github.com/kailas-cloud/docq/internal/db/eval"
	"github.com/kailas-cloud/docq/internal/domain/path"
)

var _ db.Gateway = (*Store)(nil)

const btreeDegree = 32

type item struct {
	path   string
	fields map[string]any
}

func less(a, b item) bool { return a.path < b.path }

// Store keeps documents in memory.
type Store struct {
	name   string
	mu     sync.RWMutex
	tree   *btree.BTreeG[item]
	closed bool
}

// New returns an empty store identified by name.
func New(name string) *Store {
	return &Store{name: name, tree: btree.NewG[item](btreeDegree, less)}
}

func (s *Store) Database() string { return s.name }

func (s *Store) Ping(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return &db.Error{Op: db.OpPing, Err: db.ErrClosed}
	}
	return nil
}

func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// WaitForReady returns at once unless the store is closed.
func (s *Store) WaitForReady(ctx context.Context, _ time.Duration) error {
	return s.Ping(ctx)
}

func (s *Store) Get(_ context.Context, p string) (*db.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, &db.Error{Op: db.OpGet, Err: db.ErrClosed}
	}
	it, ok := s.tree.Get(item{path: p})
	if !ok {
		return nil, &db.Error{Op: db.OpGet, Err: fmt.Errorf("%s: %w", p, db.ErrNotFound)}
	}
	return &db.Document{Path: it.path, Fields: db.Clone(it.fields)}, nil
}

func (s *Store) Exists(_ context.Context, p string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false, &db.Error{Op: db.OpExists, Err: db.ErrClosed}
	}
	return s.tree.Has(item{path: p}), nil
}

// List returns the direct children of collectionPath in path order.
func (s *Store) List(_ context.Context, collectionPath string) ([]*db.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, &db.Error{Op: db.OpList, Err: db.ErrClosed}
	}
	return s.children(collectionPath), nil
}

// children scans [collection/, collection0) which holds every descendant,
// and keeps those exactly one level down.
func (s *Store) children(collectionPath string) []*db.Document {
	var out []*db.Document
	lo := item{path: collectionPath + path.Separator}
	hi := item{path: collectionPath + string(rune(path.Separator[0]+1))}
	s.tree.AscendRange(lo, hi, func(it item) bool {
		if path.IsDirectChild(collectionPath, it.path) {
			out = append(out, &db.Document{Path: it.path, Fields: db.Clone(it.fields)})
		}
		return true
	})
	return out
}

func (s *Store) RunQuery(ctx context.Context, q *db.Query) ([]*db.Document, error) {
	docs, err := s.List(ctx, q.Collection)
	if err != nil {
		return nil, &db.Error{Op: db.OpQuery, Err: err}
	}
	return eval.Apply(docs, q), nil
}

func (s *Store) Aggregate(ctx context.Context, q *db.AggregateQuery) (map[string]any, error) {
	docs, err := s.List(ctx, q.Query.Collection)
	if err != nil {
		return nil, &db.Error{Op: db.OpAggregate, Err: err}
	}
	return eval.Aggregate(eval.Apply(docs, &q.Query), q.Aggregations)
}

func (s *Store) Create(ctx context.Context, p string, fields map[string]any) error {
	b := s.Batch()
	b.Create(p, fields)
	return b.Commit(ctx)
}

func (s *Store) Update(ctx context.Context, p string, fields map[string]any) error {
	b := s.Batch()
	b.Update(p, fields)
	return b.Commit(ctx)
}

func (s *Store) Delete(ctx context.Context, p string) error {
	b := s.Batch()
	b.Delete(p)
	return b.Commit(ctx)
}

func (s *Store) Batch() db.Batch {
	return &batch{store: s}
}

type batch struct {
	db.Writes
	store *Store
}

// Commit validates every write against the current state plus the writes
// before it, then applies all of them. A failed batch changes nothing.
func (b *batch) Commit(_ context.Context) error {
	s := b.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return &db.Error{Op: db.OpCommit, Err: db.ErrClosed}
	}

	staged := make(map[string]*item)
	lookup := func(p string) (*item, bool) {
		if it, ok := staged[p]; ok {
			return it, it != nil
		}
		if it, ok := s.tree.Get(item{path: p}); ok {
			return &it, true
		}
		return nil, false
	}

	for _, w := range b.Ops() {
		if err := path.Validate(w.Path); err != nil {
			return &db.Error{Op: w.Op.String(), Err: err}
		}
		cur, exists := lookup(w.Path)
		switch w.Op {
		case db.WriteCreate:
			if exists {
				return &db.Error{Op: db.OpCreate, Err: fmt.Errorf("%s: %w", w.Path, db.ErrExists)}
			}
			staged[w.Path] = &item{path: w.Path, fields: db.Clone(w.Fields)}
		case db.WriteSet:
			staged[w.Path] = &item{path: w.Path, fields: db.Clone(w.Fields)}
		case db.WriteUpdate:
			if !exists {
				return &db.Error{Op: db.OpUpdate, Err: fmt.Errorf("%s: %w", w.Path, db.ErrNotFound)}
			}
			staged[w.Path] = &item{path: w.Path, fields: db.Merge(cur.fields, w.Fields)}
		case db.WriteDelete:
			staged[w.Path] = nil
		}
	}

	for p, it := range staged {
		if it == nil {
			s.tree.Delete(item{path: p})
			continue
		}
		s.tree.ReplaceOrInsert(*it)
	}
	return nil
}
