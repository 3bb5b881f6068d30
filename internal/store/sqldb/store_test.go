package sqldb

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eppraise/eppraise/internal/model"
	"github.com/eppraise/eppraise/internal/store/shared"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := NewSqlite(shared.DbProviderConfig{
		DbType:       shared.DbTypeSqlite,
		ExtraDetails: map[string]interface{}{"path": ":memory:"},
	}, model.Schema, zap.NewNop(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestNewSqlite_RequiresPath(t *testing.T) {
	_, err := NewSqlite(shared.DbProviderConfig{DbType: shared.DbTypeSqlite}, model.Schema, zap.NewNop(), nil)
	require.Error(t, err)
}

func TestNewPostgres_RequiresConnStr(t *testing.T) {
	_, err := NewPostgres(shared.DbProviderConfig{DbType: shared.DbTypePostgres}, model.Schema, zap.NewNop(), nil)
	require.Error(t, err)
}

func TestInsertAndFind(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	var inserted shared.Fields
	require.NoError(t, shared.Transaction(ctx, st, func(s shared.Session) error {
		var err error
		inserted, err = s.Insert(ctx, model.WatchTable, shared.Fields{"keywords": "foo bar"})
		return err
	}))
	require.Equal(t, int64(1), inserted.ID())

	require.NoError(t, shared.Transaction(ctx, st, func(s shared.Session) error {
		rows, err := s.Find(ctx, model.WatchTable, shared.Fields{"keywords": "foo bar"})
		require.NoError(t, err)
		require.Len(t, rows, 1)

		w, err := model.WatchFromFields(rows[0])
		require.NoError(t, err)
		assert.Equal(t, model.Watch{ID: 1, Keywords: "foo bar", Enabled: true}, w)

		none, err := s.Find(ctx, model.WatchTable, shared.Fields{"keywords": "nothing"})
		require.NoError(t, err)
		assert.Empty(t, none)
		return nil
	}))
}

func TestInsert_UniqueViolation(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	sess, err := st.Begin(ctx)
	require.NoError(t, err)
	defer sess.Rollback()

	_, err = sess.Insert(ctx, model.ItemTable, shared.Fields{"ebay_id": "42", "payload": []byte(`{}`)})
	require.NoError(t, err)
	_, err = sess.Insert(ctx, model.ItemTable, shared.Fields{"ebay_id": "42", "payload": []byte(`{}`)})
	require.ErrorIs(t, err, shared.ErrUniqueViolation)
}

func TestQueryRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	retrieved := time.Date(2017, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, shared.Transaction(ctx, st, func(s shared.Session) error {
		w, err := s.Insert(ctx, model.WatchTable, shared.Fields{"keywords": "foo"})
		require.NoError(t, err)

		payload, err := model.EncodePayload(map[string]any{"ack": "Success"})
		require.NoError(t, err)
		q := model.Query{WatchID: w.ID(), Keywords: "foo", Retrieved: retrieved, Payload: payload}
		row, err := s.Insert(ctx, model.QueryTable, q.Fields())
		require.NoError(t, err)

		back, err := model.QueryFromFields(row)
		require.NoError(t, err)
		assert.True(t, retrieved.Equal(back.Retrieved))
		doc, err := back.Payload.Document()
		require.NoError(t, err)
		assert.Equal(t, "Success", doc["ack"])
		return nil
	}))
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	require.NoError(t, shared.Transaction(ctx, st, func(s shared.Session) error {
		w, err := s.Insert(ctx, model.WatchTable, shared.Fields{"keywords": "foo"})
		require.NoError(t, err)
		require.NoError(t, s.Update(ctx, model.WatchTable, w.ID(), shared.Fields{"enabled": false}))

		rows, err := s.Get(ctx, model.WatchTable, []int64{w.ID()})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		enabled, ok := shared.Bool(rows[0]["enabled"])
		require.True(t, ok)
		assert.False(t, enabled)

		err = s.Update(ctx, model.WatchTable, 999, shared.Fields{"enabled": true})
		assert.ErrorIs(t, err, shared.ErrNotFound)
		return nil
	}))
}

func TestLink_Idempotent(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	link := model.ItemTable.ToMany["watches"]

	require.NoError(t, shared.Transaction(ctx, st, func(s shared.Session) error {
		w1, err := s.Insert(ctx, model.WatchTable, shared.Fields{"keywords": "a"})
		require.NoError(t, err)
		w2, err := s.Insert(ctx, model.WatchTable, shared.Fields{"keywords": "b"})
		require.NoError(t, err)
		item, err := s.Insert(ctx, model.ItemTable, shared.Fields{"ebay_id": "1"})
		require.NoError(t, err)

		require.NoError(t, s.Link(ctx, link, item.ID(), []int64{w2.ID()}))
		require.NoError(t, s.Link(ctx, link, item.ID(), []int64{w1.ID(), w2.ID()}))

		ids, err := s.Linked(ctx, link, item.ID())
		require.NoError(t, err)
		assert.Equal(t, []int64{w1.ID(), w2.ID()}, ids)

		back, err := s.Linked(ctx, model.WatchTable.ToMany["items"], w1.ID())
		require.NoError(t, err)
		assert.Equal(t, []int64{item.ID()}, back)
		return nil
	}))
}

func TestRollback_DiscardsWrites(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	sess, err := st.Begin(ctx)
	require.NoError(t, err)
	_, err = sess.Insert(ctx, model.WatchTable, shared.Fields{"keywords": "gone"})
	require.NoError(t, err)
	require.NoError(t, sess.Rollback())
	require.NoError(t, sess.Rollback(), "second rollback is a no-op")

	require.NoError(t, shared.Transaction(ctx, st, func(s shared.Session) error {
		rows, err := s.All(ctx, model.WatchTable)
		require.NoError(t, err)
		assert.Empty(t, rows)
		return nil
	}))
}

func TestRefresh_DropsStagedWrites(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	sess, err := st.Begin(ctx)
	require.NoError(t, err)
	defer sess.Rollback()

	_, err = sess.Insert(ctx, model.WatchTable, shared.Fields{"keywords": "staged"})
	require.NoError(t, err)
	require.NoError(t, sess.Refresh(ctx))

	rows, err := sess.All(ctx, model.WatchTable)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestCreateTable_Postgres(t *testing.T) {
	quote := func(s string) string { return `"` + s + `"` }
	ddl, err := createTable(dialectPostgres, model.AssociationTable, quote)
	require.NoError(t, err)
	assert.Contains(t, ddl, `PRIMARY KEY ("watch_id", "item_id")`)
	assert.Contains(t, ddl, `REFERENCES "watch"("id")`)

	ddl, err = createTable(dialectPostgres, model.WatchTable, quote)
	require.NoError(t, err)
	assert.Contains(t, ddl, `"id" BIGSERIAL PRIMARY KEY`)
	assert.Contains(t, ddl, `"keywords" TEXT NOT NULL UNIQUE`)
	assert.Contains(t, ddl, `"enabled" BOOLEAN NOT NULL DEFAULT TRUE`)
}

func TestPostgresDriverRegistered(t *testing.T) {
	assert.Contains(t, sql.Drivers(), "postgres", "lib/pq registers the driver NewPostgres opens")
}
