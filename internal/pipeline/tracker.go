package pipeline

import (
	"reflect"
	"sort"
	"sync"

	"github.com/kailas-cloud/docq/internal/materialize"
	"github.com/kailas-cloud/docq/internal/metrics"
	"github.com/kailas-cloud/docq/internal/model"
)

// Tracker is a session identity map: one instance per document path, with
// the stored snapshot it was loaded or saved with.
type Tracker struct {
	mu      sync.Mutex
	entries map[string]*tracked
}

type tracked struct {
	entity   *model.Entity
	value    any
	snapshot map[string]any
}

// NewTracker returns an empty identity map.
func NewTracker() *Tracker {
	return &Tracker{entries: make(map[string]*tracked)}
}

// Lookup returns the tracked instance at path.
func (t *Tracker) Lookup(path string) (any, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[path]
	if !ok {
		return nil, false
	}
	return e.value, true
}

// Attach records v at path unless an instance is already tracked there, in
// which case the tracked instance wins and is returned.
func (t *Tracker) Attach(path string, e *model.Entity, v any, snapshot map[string]any) any {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.entries[path]; ok {
		return cur.value
	}
	t.entries[path] = &tracked{entity: e, value: v, snapshot: snapshot}
	metrics.TrackedEntities.Inc()
	return v
}

// Refresh replaces the snapshot at path, tracking v if it was not.
func (t *Tracker) Refresh(path string, e *model.Entity, v any, snapshot map[string]any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.entries[path]; ok {
		cur.value, cur.snapshot = v, snapshot
		return
	}
	t.entries[path] = &tracked{entity: e, value: v, snapshot: snapshot}
	metrics.TrackedEntities.Inc()
}

// Forget stops tracking path.
func (t *Tracker) Forget(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[path]; ok {
		delete(t.entries, path)
		metrics.TrackedEntities.Dec()
	}
}

// PathOf returns the path under which v is tracked.
func (t *Tracker) PathOf(v any) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for p, e := range t.entries {
		if sameInstance(e.value, v) {
			return p, true
		}
	}
	return "", false
}

func sameInstance(a, b any) bool {
	ra, rb := reflect.ValueOf(a), reflect.ValueOf(b)
	if ra.Kind() == reflect.Pointer && rb.Kind() == reflect.Pointer {
		return ra.Pointer() == rb.Pointer()
	}
	if ra.Kind() == reflect.Map && rb.Kind() == reflect.Map {
		return ra.Pointer() == rb.Pointer()
	}
	return false
}

// Len returns the number of tracked instances.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Clear forgets every instance.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	metrics.TrackedEntities.Sub(float64(len(t.entries)))
	clear(t.entries)
}

// Changed serializes every tracked instance and returns an update for each
// one whose stored fields differ from its snapshot. Updates carry only the
// changed top-level fields, in path order.
func (t *Tracker) Changed(m *materialize.Materializer) ([]*Write, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	paths := make([]string, 0, len(t.entries))
	for p := range t.entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var out []*Write
	for _, p := range paths {
		e := t.entries[p]
		cur, err := m.Serialize(e.entity, e.value)
		if err != nil {
			return nil, err
		}
		diff := make(map[string]any)
		for k, v := range cur {
			if old, ok := e.snapshot[k]; !ok || !reflect.DeepEqual(old, v) {
				diff[k] = v
			}
		}
		for k := range e.snapshot {
			if _, ok := cur[k]; !ok {
				diff[k] = nil
			}
		}
		if len(diff) == 0 {
			continue
		}
		out = append(out, &Write{Kind: WriteUpdate, Entity: e.entity, Value: e.value, Fields: diff, Path: p})
	}
	return out, nil
}
