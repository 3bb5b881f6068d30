// Package memory is an in-process record store. Sessions work on a private
// snapshot taken at Begin; constraints are checked again at Commit against
// whatever other sessions committed meanwhile, so two sessions racing on the
// same natural key see the loser fail with shared.ErrUniqueViolation.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/eppraise/eppraise/internal/store/shared"
)

var errSessionDone = errors.New("session already finished")

type rows map[string]shared.Fields

// Store keeps committed rows per table.
type Store struct {
	mu     sync.Mutex
	schema *shared.Schema
	tables map[string]rows
	seq    map[string]int64
}

// New creates an empty store for the schema.
func New(schema *shared.Schema) (*Store, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	s := &Store{
		schema: schema,
		tables: make(map[string]rows, len(schema.Tables)),
		seq:    make(map[string]int64),
	}
	for _, t := range schema.Tables {
		s.tables[t.Name] = make(rows)
	}
	return s, nil
}

// Begin opens a session over a snapshot of the committed state.
func (s *Store) Begin(ctx context.Context) (shared.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sess := &session{store: s}
	sess.snapshot()
	return sess, nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

func (s *Store) nextID(table string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq[table]++
	return s.seq[table]
}

func (s *Store) copyTables() map[string]rows {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]rows, len(s.tables))
	for name, rs := range s.tables {
		cp := make(rows, len(rs))
		for k, r := range rs {
			cp[k] = r.Clone()
		}
		out[name] = cp
	}
	return out
}

type opKind int

const (
	opInsert opKind = iota
	opUpdate
	opLink
)

type op struct {
	kind  opKind
	table *shared.Table
	key   string
	row   shared.Fields
}

type session struct {
	store *Store
	work  map[string]rows
	ops   []op
	done  bool
}

func (s *session) snapshot() {
	s.work = s.store.copyTables()
	s.ops = nil
}

func (s *session) check(ctx context.Context) error {
	if s.done {
		return errSessionDone
	}
	return ctx.Err()
}

func (s *session) Find(ctx context.Context, table *shared.Table, where shared.Fields) ([]shared.Fields, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	var out []shared.Fields
	for _, r := range s.work[table.Name] {
		if matches(r, where) {
			out = append(out, r.Clone())
		}
	}
	sortRows(table, out)
	return out, nil
}

func (s *session) Get(ctx context.Context, table *shared.Table, ids []int64) ([]shared.Fields, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	if table.AutoID == "" {
		return nil, fmt.Errorf("table %s has no surrogate id", table.Name)
	}
	var out []shared.Fields
	for _, id := range ids {
		if r, ok := s.work[table.Name][keyOf(table, shared.Fields{table.AutoID: id})]; ok {
			out = append(out, r.Clone())
		}
	}
	sortRows(table, out)
	return out, nil
}

func (s *session) All(ctx context.Context, table *shared.Table) ([]shared.Fields, error) {
	return s.Find(ctx, table, nil)
}

func (s *session) Insert(ctx context.Context, table *shared.Table, row shared.Fields) (shared.Fields, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	r := withDefaults(table, row)
	if table.AutoID != "" {
		r[table.AutoID] = s.store.nextID(table.Name)
	}
	key := keyOf(table, r)
	if err := insertInto(table, s.work[table.Name], key, r); err != nil {
		return nil, err
	}
	s.ops = append(s.ops, op{kind: opInsert, table: table, key: key, row: r.Clone()})
	return r.Clone(), nil
}

func (s *session) Update(ctx context.Context, table *shared.Table, id int64, set shared.Fields) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	key := keyOf(table, shared.Fields{table.AutoID: id})
	if err := updateIn(table, s.work[table.Name], key, set); err != nil {
		return err
	}
	s.ops = append(s.ops, op{kind: opUpdate, table: table, key: key, row: set.Clone()})
	return nil
}

func (s *session) Link(ctx context.Context, link shared.Link, selfID int64, otherIDs []int64) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	through, err := s.store.schema.Table(link.Through)
	if err != nil {
		return err
	}
	for _, other := range otherIDs {
		r := shared.Fields{link.Self: selfID, link.Other: other}
		key := keyOf(through, r)
		if _, ok := s.work[through.Name][key]; ok {
			continue
		}
		s.work[through.Name][key] = r
		s.ops = append(s.ops, op{kind: opLink, table: through, key: key, row: r.Clone()})
	}
	return nil
}

func (s *session) Linked(ctx context.Context, link shared.Link, selfID int64) ([]int64, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	var ids []int64
	for _, r := range s.work[link.Through] {
		if self, _ := shared.Int64(r[link.Self]); self == selfID {
			other, _ := shared.Int64(r[link.Other])
			ids = append(ids, other)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *session) Refresh(ctx context.Context) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	s.snapshot()
	return nil
}

// Commit replays the session's writes against the committed state. Either all
// of them apply or none do.
func (s *session) Commit() error {
	if s.done {
		return errSessionDone
	}
	s.done = true

	st := s.store
	st.mu.Lock()
	defer st.mu.Unlock()

	staged := make(map[string]rows)
	tableFor := func(name string) rows {
		if rs, ok := staged[name]; ok {
			return rs
		}
		cp := make(rows, len(st.tables[name]))
		for k, r := range st.tables[name] {
			cp[k] = r
		}
		staged[name] = cp
		return cp
	}

	for _, o := range s.ops {
		target := tableFor(o.table.Name)
		switch o.kind {
		case opInsert:
			if err := insertInto(o.table, target, o.key, o.row.Clone()); err != nil {
				return err
			}
		case opUpdate:
			if err := updateIn(o.table, target, o.key, o.row); err != nil {
				return err
			}
		case opLink:
			if _, ok := target[o.key]; !ok {
				target[o.key] = o.row.Clone()
			}
		}
	}
	for name, rs := range staged {
		st.tables[name] = rs
	}
	return nil
}

func (s *session) Rollback() error {
	s.done = true
	s.work = nil
	s.ops = nil
	return nil
}

func insertInto(table *shared.Table, target rows, key string, r shared.Fields) error {
	if _, ok := target[key]; ok {
		return fmt.Errorf("%w: %s primary key %s", shared.ErrUniqueViolation, table.Name, key)
	}
	if err := checkUnique(table, target, key, r); err != nil {
		return err
	}
	target[key] = r
	return nil
}

func updateIn(table *shared.Table, target rows, key string, set shared.Fields) error {
	cur, ok := target[key]
	if !ok {
		return fmt.Errorf("%w: %s %s", shared.ErrNotFound, table.Name, key)
	}
	next := cur.Clone()
	for k, v := range set {
		next[k] = v
	}
	if err := checkUnique(table, target, key, next); err != nil {
		return err
	}
	target[key] = next
	return nil
}

func checkUnique(table *shared.Table, target rows, key string, r shared.Fields) error {
	for _, col := range table.Unique() {
		v, ok := r[col]
		if !ok || v == nil {
			continue
		}
		for k, other := range target {
			if k != key && shared.Equal(other[col], v) {
				return fmt.Errorf("%w: %s.%s = %v", shared.ErrUniqueViolation, table.Name, col, v)
			}
		}
	}
	return nil
}

func withDefaults(table *shared.Table, row shared.Fields) shared.Fields {
	r := row.Clone()
	for _, c := range table.Columns {
		if _, ok := r[c.Name]; !ok && c.Default != nil {
			r[c.Name] = c.Default
		}
	}
	return r
}

func matches(r, where shared.Fields) bool {
	for k, v := range where {
		if !shared.Equal(r[k], v) {
			return false
		}
	}
	return true
}

func keyOf(table *shared.Table, r shared.Fields) string {
	parts := make([]string, len(table.PrimaryKey))
	for i, col := range table.PrimaryKey {
		v := r[col]
		if n, ok := shared.Int64(v); ok {
			v = n
		}
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, "/")
}

func sortRows(table *shared.Table, out []shared.Fields) {
	sort.Slice(out, func(i, j int) bool {
		for _, col := range table.PrimaryKey {
			a, aok := shared.Int64(out[i][col])
			b, bok := shared.Int64(out[j][col])
			if aok && bok {
				if a != b {
					return a < b
				}
				continue
			}
			as, bs := fmt.Sprint(out[i][col]), fmt.Sprint(out[j][col])
			if as != bs {
				return as < bs
			}
		}
		return false
	})
}
