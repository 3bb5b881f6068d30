package shared

import (
	"context"
	"fmt"
)

// Session is a unit of work against a store. Writes become visible to other
// sessions only after Commit. A session must end in exactly one Commit or
// Rollback; Rollback after Commit is a no-op.
type Session interface {
	// Find returns the rows whose columns equal every entry of where, ordered by primary key.
	Find(ctx context.Context, table *Table, where Fields) ([]Fields, error)
	// Get returns the rows with the given surrogate ids, ordered by id.
	Get(ctx context.Context, table *Table, ids []int64) ([]Fields, error)
	// All returns every row of the table ordered by primary key.
	All(ctx context.Context, table *Table) ([]Fields, error)
	// Insert stores a new row and returns it as persisted, defaults and id included.
	Insert(ctx context.Context, table *Table, row Fields) (Fields, error)
	// Update overwrites the given columns of the row with surrogate id.
	Update(ctx context.Context, table *Table, id int64, set Fields) error
	// Link adds join rows (selfID, otherID). Existing edges are left untouched.
	Link(ctx context.Context, link Link, selfID int64, otherIDs []int64) error
	// Linked returns the ids joined to selfID through link.
	Linked(ctx context.Context, link Link, selfID int64) ([]int64, error)
	// Refresh drops staged writes and re-reads committed state.
	Refresh(ctx context.Context) error
	Commit() error
	Rollback() error
}

// Store hands out sessions.
type Store interface {
	Begin(ctx context.Context) (Session, error)
	Close() error
}

// Transaction runs fn inside a session. The session is committed when fn
// returns nil and rolled back when fn fails or panics; it is released on
// every path.
func Transaction(ctx context.Context, st Store, fn func(Session) error) (err error) {
	sess, err := st.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin session: %w", err)
	}
	committed := false
	defer func() {
		if r := recover(); r != nil {
			_ = sess.Rollback()
			panic(r)
		}
		if !committed {
			_ = sess.Rollback()
		}
	}()

	if err = fn(sess); err != nil {
		return err
	}
	if err = sess.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}
