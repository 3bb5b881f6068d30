package upsert

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eppraise/eppraise/internal/model"
	"github.com/eppraise/eppraise/internal/store/memory"
	"github.com/eppraise/eppraise/internal/store/shared"
)

func newStore(t *testing.T) *memory.Store {
	t.Helper()
	st, err := memory.New(model.Schema)
	require.NoError(t, err)
	return st
}

func upsertOne(t *testing.T, st shared.Store, table *shared.Table, candidate shared.Fields) Result {
	t.Helper()
	ctx := context.Background()
	var res Result
	require.NoError(t, shared.Transaction(ctx, st, func(s shared.Session) error {
		var err error
		res, err = Upsert(ctx, s, table, candidate)
		return err
	}))
	return res
}

func count(t *testing.T, st shared.Store, table *shared.Table) int {
	t.Helper()
	ctx := context.Background()
	var n int
	require.NoError(t, shared.Transaction(ctx, st, func(s shared.Session) error {
		rows, err := s.All(ctx, table)
		n = len(rows)
		return err
	}))
	return n
}

func seedWatches(t *testing.T, st shared.Store, keywords ...string) []int64 {
	t.Helper()
	ids := make([]int64, len(keywords))
	for i, kw := range keywords {
		ids[i] = upsertOne(t, st, model.WatchTable, shared.Fields{"keywords": kw}).Row.ID()
	}
	return ids
}

func TestUpsert_InsertsThenIsIdempotent(t *testing.T) {
	st := newStore(t)
	w := seedWatches(t, st, "foo")[0]

	candidate := shared.Fields{"ebay_id": "1", "payload": []byte(`{"a":1}`), "watches": []int64{w}}
	first := upsertOne(t, st, model.ItemTable, candidate)
	require.True(t, first.Created)
	require.Equal(t, 1, first.Linked)

	second := upsertOne(t, st, model.ItemTable, candidate)
	assert.False(t, second.Changed(), "repeating an upsert writes nothing")
	assert.Equal(t, first.Row.ID(), second.Row.ID())
	assert.Equal(t, []int64{w}, second.Row["watches"])
	assert.Equal(t, 1, count(t, st, model.ItemTable))
	assert.Equal(t, 1, count(t, st, model.AssociationTable))
}

func TestUpsert_MergesAssociation(t *testing.T) {
	st := newStore(t)
	ids := seedWatches(t, st, "foo", "bar")

	upsertOne(t, st, model.ItemTable, shared.Fields{"ebay_id": "1", "watches": []int64{ids[0]}})
	res := upsertOne(t, st, model.ItemTable, shared.Fields{"ebay_id": "1", "watches": []int64{ids[1]}})

	assert.False(t, res.Created)
	assert.Equal(t, 1, res.Linked)
	assert.Equal(t, []int64{ids[0], ids[1]}, res.Row["watches"])
	assert.Equal(t, 1, count(t, st, model.ItemTable))
	assert.Equal(t, 2, count(t, st, model.AssociationTable))
}

func TestUpsert_OverwritesScalars(t *testing.T) {
	st := newStore(t)

	created := upsertOne(t, st, model.WatchTable, shared.Fields{"keywords": "foo"})
	require.Equal(t, true, created.Row["enabled"])

	res := upsertOne(t, st, model.WatchTable, shared.Fields{"keywords": "foo", "enabled": false})
	assert.True(t, res.Updated)
	assert.Equal(t, created.Row.ID(), res.Row.ID())
	assert.Equal(t, false, res.Row["enabled"])

	again := upsertOne(t, st, model.WatchTable, shared.Fields{"keywords": "foo", "enabled": false})
	assert.False(t, again.Updated)
}

func TestUpsert_NoIdentifyingColumnsAlwaysInserts(t *testing.T) {
	st := newStore(t)
	w := seedWatches(t, st, "foo")[0]

	q := shared.Fields{"watch_id": w, "keywords": "foo", "payload": []byte(`{}`)}
	upsertOne(t, st, model.QueryTable, q)
	upsertOne(t, st, model.QueryTable, q)
	assert.Equal(t, 2, count(t, st, model.QueryTable))
}

func TestUpsert_ByPrimaryKey(t *testing.T) {
	st := newStore(t)
	id := seedWatches(t, st, "foo")[0]

	res := upsertOne(t, st, model.WatchTable, shared.Fields{"id": id, "keywords": "foo"})
	assert.False(t, res.Created)
	assert.Equal(t, id, res.Row.ID())
}

func TestUpsert_AmbiguousMatch(t *testing.T) {
	st := newStore(t)
	seedWatches(t, st, "foo", "bar")
	ctx := context.Background()

	// A candidate whose identifying columns name two different rows.
	err := shared.Transaction(ctx, st, func(s shared.Session) error {
		_, err := Upsert(ctx, ambiguousSession{Session: s}, model.WatchTable, shared.Fields{"keywords": "foo"})
		return err
	})
	require.ErrorIs(t, err, shared.ErrAmbiguousMatch)
	assert.Equal(t, 2, count(t, st, model.WatchTable))
}

func TestUpsert_NotFoundFromFindInserts(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	require.NoError(t, shared.Transaction(ctx, st, func(s shared.Session) error {
		res, err := Upsert(ctx, notFoundSession{Session: s}, model.WatchTable, shared.Fields{"keywords": "foo"})
		require.NoError(t, err)
		assert.True(t, res.Created)
		return nil
	}))
}

func TestUpsert_RejectsMalformedRelation(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	err := shared.Transaction(ctx, st, func(s shared.Session) error {
		_, err := Upsert(ctx, s, model.ItemTable, shared.Fields{"ebay_id": "1", "watches": "1"})
		return err
	})
	require.Error(t, err)
}

// ambiguousSession answers every Find with all rows of the table.
type ambiguousSession struct {
	shared.Session
}

func (a ambiguousSession) Find(ctx context.Context, table *shared.Table, _ shared.Fields) ([]shared.Fields, error) {
	return a.Session.All(ctx, table)
}

// notFoundSession reports lookups as not found rather than empty.
type notFoundSession struct {
	shared.Session
}

func (notFoundSession) Find(context.Context, *shared.Table, shared.Fields) ([]shared.Fields, error) {
	return nil, shared.ErrNotFound
}
