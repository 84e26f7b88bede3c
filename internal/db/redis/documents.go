package redis

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/redis/rueidis"

	"github.com/kailas-cloud/docq/internal/db"
	"github.com/kailas-cloud/docq/internal/db/eval"
	"github.com/kailas-cloud/docq/internal/domain/path"
)

// errConflict reports a transaction aborted by the server.
var errConflict = errors.New("transaction aborted")

// Get reads one document.
func (s *Store) Get(ctx context.Context, p string) (*db.Document, error) {
	cmd := s.b().Get().Key(s.docKey(p)).Build()
	data, err := s.do(ctx, cmd).AsBytes()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, &db.Error{Op: db.OpGet, Err: fmt.Errorf("%s: %w", p, db.ErrNotFound)}
		}
		return nil, &db.Error{Op: db.OpGet, Err: err}
	}
	fields, err := unmarshalFields(data)
	if err != nil {
		return nil, &db.Error{Op: db.OpGet, Err: err}
	}
	return &db.Document{Path: p, Fields: fields}, nil
}

// Exists checks for a document without reading it.
func (s *Store) Exists(ctx context.Context, p string) (bool, error) {
	cmd := s.b().Exists().Key(s.docKey(p)).Build()
	n, err := s.do(ctx, cmd).AsInt64()
	if err != nil {
		return false, &db.Error{Op: db.OpExists, Err: err}
	}
	return n > 0, nil
}

// List reads every direct child of collectionPath in path order.
func (s *Store) List(ctx context.Context, collectionPath string) ([]*db.Document, error) {
	members, err := s.do(ctx, s.b().Smembers().Key(s.colKey(collectionPath)).Build()).AsStrSlice()
	if err != nil {
		return nil, &db.Error{Op: db.OpList, Err: err}
	}
	if len(members) == 0 {
		return nil, nil
	}
	slices.Sort(members)

	docs, err := s.mget(ctx, members)
	if err != nil {
		return nil, &db.Error{Op: db.OpList, Err: err}
	}
	out := make([]*db.Document, 0, len(docs))
	for _, p := range members {
		if d, ok := docs[p]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

// mget reads the documents at paths that exist.
func (s *Store) mget(ctx context.Context, paths []string) (map[string]*db.Document, error) {
	keys := make([]string, len(paths))
	for i, p := range paths {
		keys[i] = s.docKey(p)
	}
	msgs, err := s.do(ctx, s.b().Mget().Key(keys...).Build()).ToArray()
	if err != nil {
		return nil, err
	}
	out := make(map[string]*db.Document, len(msgs))
	for i, m := range msgs {
		if i >= len(paths) || m.IsNil() {
			continue
		}
		data, err := m.AsBytes()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", paths[i], err)
		}
		fields, err := unmarshalFields(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", paths[i], err)
		}
		out[paths[i]] = &db.Document{Path: paths[i], Fields: fields}
	}
	return out, nil
}

// RunQuery lists the collection and evaluates the query in process.
func (s *Store) RunQuery(ctx context.Context, q *db.Query) ([]*db.Document, error) {
	docs, err := s.List(ctx, q.Collection)
	if err != nil {
		return nil, &db.Error{Op: db.OpQuery, Err: err}
	}
	return eval.Apply(docs, q), nil
}

// Aggregate computes aggregations over the matched documents.
func (s *Store) Aggregate(ctx context.Context, q *db.AggregateQuery) (map[string]any, error) {
	docs, err := s.List(ctx, q.Query.Collection)
	if err != nil {
		return nil, &db.Error{Op: db.OpAggregate, Err: err}
	}
	out, err := eval.Aggregate(eval.Apply(docs, &q.Query), q.Aggregations)
	if err != nil {
		return nil, &db.Error{Op: db.OpAggregate, Err: err}
	}
	return out, nil
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

// Batch starts an atomic write batch.
func (s *Store) Batch() db.Batch {
	return &batch{store: s}
}

type batch struct {
	db.Writes
	store *Store
}

type staged struct {
	fields map[string]any // nil deletes
}

// Commit reads the current state of every document a create or update
// depends on, validates the whole batch, then applies it inside MULTI/EXEC.
func (b *batch) Commit(ctx context.Context) error {
	ops := b.Ops()
	if len(ops) == 0 {
		return nil
	}
	s := b.store

	var needed []string
	for _, w := range ops {
		if err := path.Validate(w.Path); err != nil {
			return &db.Error{Op: w.Op.String(), Err: err}
		}
		if w.Op == db.WriteCreate || w.Op == db.WriteUpdate {
			needed = append(needed, w.Path)
		}
	}
	current := map[string]*db.Document{}
	if len(needed) > 0 {
		var err error
		if current, err = s.mget(ctx, needed); err != nil {
			return &db.Error{Op: db.OpCommit, Err: err}
		}
	}

	state := make(map[string]*staged)
	var order []string
	lookup := func(p string) (map[string]any, bool) {
		if st, ok := state[p]; ok {
			return st.fields, st.fields != nil
		}
		if d, ok := current[p]; ok {
			return d.Fields, true
		}
		return nil, false
	}
	put := func(p string, fields map[string]any) {
		if _, ok := state[p]; !ok {
			order = append(order, p)
		}
		state[p] = &staged{fields: fields}
	}

	for _, w := range ops {
		cur, exists := lookup(w.Path)
		switch w.Op {
		case db.WriteCreate:
			if exists {
				return &db.Error{Op: db.OpCreate, Err: fmt.Errorf("%s: %w", w.Path, db.ErrExists)}
			}
			put(w.Path, db.Clone(w.Fields))
		case db.WriteSet:
			put(w.Path, db.Clone(w.Fields))
		case db.WriteUpdate:
			if !exists {
				return &db.Error{Op: db.OpUpdate, Err: fmt.Errorf("%s: %w", w.Path, db.ErrNotFound)}
			}
			put(w.Path, db.Merge(cur, w.Fields))
		case db.WriteDelete:
			put(w.Path, nil)
		}
	}

	cmds := make(rueidis.Commands, 0, 2*len(order)+2)
	cmds = append(cmds, s.b().Multi().Build())
	for _, p := range order {
		st := state[p]
		col := path.Parent(p)
		if st.fields == nil {
			cmds = append(cmds,
				s.b().Del().Key(s.docKey(p)).Build(),
				s.b().Srem().Key(s.colKey(col)).Member(p).Build())
			continue
		}
		data, err := marshalFields(st.fields)
		if err != nil {
			return &db.Error{Op: db.OpCommit, Err: fmt.Errorf("%s: %w", p, err)}
		}
		cmds = append(cmds,
			s.b().Set().Key(s.docKey(p)).Value(rueidis.BinaryString(data)).Build(),
			s.b().Sadd().Key(s.colKey(col)).Member(p).Build())
	}
	cmds = append(cmds, s.b().Exec().Build())

	results := s.client.DoMulti(ctx, cmds...)
	for _, res := range results {
		if err := res.Error(); err != nil {
			if isRedisErr(err, "execabort") {
				return &db.Error{Op: db.OpCommit, Err: fmt.Errorf("%w: %w", errConflict, err)}
			}
			return &db.Error{Op: db.OpCommit, Err: err}
		}
	}
	return nil
}
