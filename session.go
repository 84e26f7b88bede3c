package docq

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/kailas-cloud/docq/internal/domain/path"
	"github.com/kailas-cloud/docq/internal/model"
	"github.com/kailas-cloud/docq/internal/pipeline"
)

// Session is a unit of work. Entities it loads are tracked by document
// path, so the same document always yields the same instance, and changes
// to tracked entities are written by SaveChanges.
//
// A Session is safe for concurrent use, but its writes are committed
// together.
type Session struct {
	c       *Client
	tracker *pipeline.Tracker

	mu      sync.Mutex
	pending []*pipeline.Write
}

// Add stages v, a pointer to a registered type, for creation in its root
// collection. An empty identifier is generated and written back into v.
func (s *Session) Add(v any) error {
	return s.stage(pipeline.WriteAdd, "", v)
}

// AddTo stages v for creation in collectionPath, which may be a child
// collection such as "users/u1/orders". Schemaless documents are added
// this way.
func (s *Session) AddTo(collectionPath string, v any) error {
	return s.stage(pipeline.WriteAdd, collectionPath, v)
}

// Update stages a full write of v. Tracked entities do not need it:
// SaveChanges writes their changed fields.
func (s *Session) Update(v any) error {
	return s.stage(pipeline.WriteUpdate, "", v)
}

// Remove stages the deletion of v. Documents in its child collections are
// kept.
func (s *Session) Remove(v any) error {
	return s.stage(pipeline.WriteRemove, "", v)
}

// RemoveFrom stages the deletion of v from collectionPath.
func (s *Session) RemoveFrom(collectionPath string, v any) error {
	return s.stage(pipeline.WriteRemove, collectionPath, v)
}

func (s *Session) stage(kind pipeline.WriteKind, collection string, v any) error {
	w := &pipeline.Write{Kind: kind, Collection: collection, Value: v}
	if doc, ok := v.(Document); ok {
		if collection == "" {
			if p, tracked := s.tracker.PathOf(doc); tracked {
				collection = path.Parent(p)
			} else {
				return fmt.Errorf("%w: schemaless documents need a collection path", ErrInvalidPlan)
			}
		}
		w.Entity = model.Dynamic(collection)
		w.Collection = collection
	} else {
		rv := reflect.ValueOf(v)
		if !rv.IsValid() || (rv.Kind() == reflect.Pointer && rv.IsNil()) {
			return fmt.Errorf("%w: nil entity", ErrInvalidPlan)
		}
		e, err := s.c.entity(rv.Type())
		if err != nil {
			return err
		}
		w.Entity = e
		if collection == "" && e.Collection == "" {
			if _, tracked := s.tracker.PathOf(v); !tracked {
				return fmt.Errorf("%w: %s lives in a child collection, use AddTo", ErrInvalidPlan, e)
			}
		}
	}
	if kind != pipeline.WriteAdd && collection == "" {
		if p, tracked := s.tracker.PathOf(v); tracked {
			w.Path = p
		}
	}

	s.mu.Lock()
	s.pending = append(s.pending, w)
	s.mu.Unlock()
	return nil
}

// SaveChanges commits staged writes and the changes of tracked entities in
// one atomic batch. On failure nothing is written and the staged writes
// remain for a retry or Discard.
func (s *Session) SaveChanges(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed, err := s.tracker.Changed(s.c.pipe.Materializer())
	if err != nil {
		return fmt.Errorf("save changes: %w", err)
	}
	explicit := make(map[string]bool, len(s.pending))
	for _, w := range s.pending {
		if w.Path != "" {
			explicit[w.Path] = true
		}
	}
	writes := make([]*pipeline.Write, 0, len(s.pending)+len(changed))
	for _, w := range s.pending {
		cp := *w
		writes = append(writes, &cp)
	}
	for _, w := range changed {
		if !explicit[w.Path] {
			writes = append(writes, w)
		}
	}
	if len(writes) == 0 {
		return nil
	}

	if err := s.c.pipe.Execute(ctx, &pipeline.Exchange{Writes: writes, Tracker: s.tracker}); err != nil {
		return fmt.Errorf("save changes: %w", err)
	}
	s.pending = nil
	return nil
}

// Pending returns the number of staged writes.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Discard drops staged writes. Tracked entities keep their in-memory
// changes; use Clear to stop tracking them.
func (s *Session) Discard() {
	s.mu.Lock()
	s.pending = nil
	s.mu.Unlock()
}

// Clear stops tracking every loaded entity.
func (s *Session) Clear() {
	s.tracker.Clear()
}
