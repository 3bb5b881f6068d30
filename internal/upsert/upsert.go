// Package upsert implements find-or-create-and-merge over schema-declared
// identifying columns.
package upsert

import (
	"context"
	"errors"
	"fmt"

	"github.com/eppraise/eppraise/internal/store/shared"
)

// Result describes what an upsert did.
type Result struct {
	// Row is the resulting row. Relation attributes named in the candidate
	// hold the full, merged id set.
	Row shared.Fields
	// Created is set when the row was inserted.
	Created bool
	// Updated is set when scalar columns of an existing row changed.
	Updated bool
	// Linked counts association edges added.
	Linked int
}

// Changed reports whether the upsert wrote anything.
func (r Result) Changed() bool {
	return r.Created || r.Updated || r.Linked > 0
}

// Upsert locates the row of table matching every identifying column present
// in candidate and merges candidate into it, or inserts candidate when no row
// matches. Scalar columns overwrite; relation attributes (table.ToMany) are
// extended, never replaced. A candidate without identifying columns is
// inserted unconditionally. More than one match yields
// shared.ErrAmbiguousMatch.
func Upsert(ctx context.Context, sess shared.Session, table *shared.Table, candidate shared.Fields) (Result, error) {
	scalars, relations, err := split(table, candidate)
	if err != nil {
		return Result{}, err
	}

	existing, err := lookup(ctx, sess, table, identifying(table, scalars))
	if err != nil {
		return Result{}, err
	}

	var res Result
	if existing == nil {
		row, err := sess.Insert(ctx, table, scalars)
		if err != nil {
			return Result{}, fmt.Errorf("insert %s: %w", table.Name, err)
		}
		res.Row, res.Created = row, true
	} else {
		res.Row = existing
		if set := changed(existing, scalars); len(set) > 0 {
			if err := sess.Update(ctx, table, existing.ID(), set); err != nil {
				return Result{}, fmt.Errorf("update %s %d: %w", table.Name, existing.ID(), err)
			}
			for k, v := range set {
				res.Row[k] = v
			}
			res.Updated = true
		}
	}

	for _, attr := range sortedKeys(relations) {
		n, merged, err := extend(ctx, sess, table, attr, res.Row.ID(), relations[attr])
		if err != nil {
			return Result{}, err
		}
		res.Linked += n
		res.Row[attr] = merged
	}
	return res, nil
}

func split(table *shared.Table, candidate shared.Fields) (shared.Fields, map[string][]int64, error) {
	scalars := make(shared.Fields, len(candidate))
	relations := make(map[string][]int64)
	for k, v := range candidate {
		if _, ok := table.ToMany[k]; !ok {
			scalars[k] = v
			continue
		}
		ids, ok := v.([]int64)
		if !ok {
			return nil, nil, fmt.Errorf("%s.%s: relation value must be []int64, got %T", table.Name, k, v)
		}
		relations[k] = ids
	}
	return scalars, relations, nil
}

func identifying(table *shared.Table, scalars shared.Fields) shared.Fields {
	where := shared.Fields{}
	for _, col := range table.Identifying() {
		if v, ok := scalars[col]; ok {
			where[col] = v
		}
	}
	return where
}

func lookup(ctx context.Context, sess shared.Session, table *shared.Table, where shared.Fields) (shared.Fields, error) {
	if len(where) == 0 {
		return nil, nil
	}
	rows, err := sess.Find(ctx, table, where)
	switch {
	case errors.Is(err, shared.ErrNotFound):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("lookup %s: %w", table.Name, err)
	case len(rows) > 1:
		return nil, fmt.Errorf("%w: %d %s rows for %v", shared.ErrAmbiguousMatch, len(rows), table.Name, where)
	case len(rows) == 1:
		return rows[0], nil
	}
	return nil, nil
}

func changed(existing, scalars shared.Fields) shared.Fields {
	set := shared.Fields{}
	for k, v := range scalars {
		if cur, ok := existing[k]; !ok || !shared.Equal(cur, v) {
			set[k] = v
		}
	}
	return set
}

// extend adds the ids missing from the row's relation and returns how many
// were added along with the merged id set.
func extend(ctx context.Context, sess shared.Session, table *shared.Table, attr string, id int64, ids []int64) (int, []int64, error) {
	link := table.ToMany[attr]
	have, err := sess.Linked(ctx, link, id)
	if err != nil {
		return 0, nil, fmt.Errorf("read %s.%s: %w", table.Name, attr, err)
	}
	known := make(map[int64]bool, len(have))
	for _, h := range have {
		known[h] = true
	}
	merged := append([]int64(nil), have...)
	var missing []int64
	for _, v := range ids {
		if !known[v] {
			known[v] = true
			missing = append(missing, v)
			merged = append(merged, v)
		}
	}
	if len(missing) == 0 {
		return 0, merged, nil
	}
	if err := sess.Link(ctx, link, id, missing); err != nil {
		return 0, nil, fmt.Errorf("extend %s.%s: %w", table.Name, attr, err)
	}
	return len(missing), merged, nil
}

func sortedKeys(m map[string][]int64) []string {
	keys := make(shared.Fields, len(m))
	for k := range m {
		keys[k] = nil
	}
	return keys.Keys()
}
