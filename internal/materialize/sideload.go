package materialize

import (
	"sync"

	"github.com/kailas-cloud/docq/internal/db"
	"github.com/kailas-cloud/docq/internal/domain/path"
)

// Sideload holds related documents fetched alongside a primary result:
// referenced documents by path, child collection rows by parent and member
// name, and aggregates computed per parent.
type Sideload struct {
	mu         sync.RWMutex
	byPath     map[string]*db.Document
	children   map[string][]*db.Document
	aggregates map[string]any
}

// NewSideload returns an empty sideload.
func NewSideload() *Sideload {
	return &Sideload{
		byPath:     make(map[string]*db.Document),
		children:   make(map[string][]*db.Document),
		aggregates: make(map[string]any),
	}
}

func key(parentPath, name string) string { return parentPath + ":" + name }

// Add registers referenced documents.
func (s *Sideload) Add(docs ...*db.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range docs {
		if d != nil {
			s.byPath[d.Path] = d
		}
	}
}

// Doc returns a side-loaded document.
func (s *Sideload) Doc(p string) (*db.Document, bool) {
	if s == nil {
		return nil, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.byPath[p]
	return d, ok
}

// SetChildren records the rows of child collection collection below
// parentPath for the result member name. Rows deeper than one level below
// the collection are dropped so grandchildren never leak into a parent's
// list.
func (s *Sideload) SetChildren(parentPath, collection, name string, docs []*db.Document) {
	colPath := path.Collection(parentPath, collection)
	kept := make([]*db.Document, 0, len(docs))
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range docs {
		if path.IsDirectChild(colPath, d.Path) {
			kept = append(kept, d)
			s.byPath[d.Path] = d
		}
	}
	s.children[key(parentPath, name)] = kept
}

// Children returns the rows recorded for a parent and member, and whether
// they were loaded at all.
func (s *Sideload) Children(parentPath, name string) ([]*db.Document, bool) {
	if s == nil {
		return nil, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs, ok := s.children[key(parentPath, name)]
	return docs, ok
}

// SetAggregate records an aggregate computed over a parent's child
// collection.
func (s *Sideload) SetAggregate(parentPath, name string, v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aggregates[key(parentPath, name)] = v
}

// Aggregate returns an aggregate recorded for a parent and member.
func (s *Sideload) Aggregate(parentPath, name string) (any, bool) {
	if s == nil {
		return nil, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.aggregates[key(parentPath, name)]
	return v, ok
}
