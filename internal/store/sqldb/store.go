// Package sqldb is the SQL record store, built on gorm with sqlite and
// postgres dialects. Tables are created from the declared schema; rows travel
// as column maps.
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/eppraise/eppraise/internal/store/shared"
)

var errSessionDone = errors.New("session already finished")

// Store hands out gorm transactions as sessions.
type Store struct {
	db      *gorm.DB
	schema  *shared.Schema
	logger  *zap.Logger
	cb      *gobreaker.CircuitBreaker
	commits metric.Int64Counter
}

// NewSqlite opens the sqlite database at extra_details.path.
func NewSqlite(config shared.DbProviderConfig, schema *shared.Schema, logger *zap.Logger, meter metric.Meter) (*Store, error) {
	path, ok := config.Detail("path")
	if !ok {
		return nil, fmt.Errorf("path is required for sqlite provider")
	}
	logger.Named("sqlite").Info("initializing sqlite provider", zap.String("path", path))
	return Open(sqlite.Open(path), schema, logger, meter)
}

// NewPostgres connects to extra_details.conn_str through lib/pq.
func NewPostgres(config shared.DbProviderConfig, schema *shared.Schema, logger *zap.Logger, meter metric.Meter) (*Store, error) {
	connStr, ok := config.Detail("conn_str")
	if !ok {
		return nil, fmt.Errorf("conn_str is required for postgres provider")
	}
	logger.Named("postgres").Info("initializing postgres provider")

	sqlDB, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	return Open(postgres.New(postgres.Config{Conn: sqlDB}), schema, logger, meter)
}

// Open initializes a store over an arbitrary gorm dialector and creates any
// missing tables.
func Open(dialector gorm.Dialector, schema *shared.Schema, logger *zap.Logger, meter metric.Meter) (*Store, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	if meter == nil {
		meter = noop.NewMeterProvider().Meter("sqldb")
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open GORM connection: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if db.Dialector.Name() == dialectSqlite {
		// One connection: a :memory: database exists per connection, and sqlite
		// serializes writers anyway.
		sqlDB.SetMaxOpenConns(1)
	}

	commits, err := meter.Int64Counter("store_commits_total",
		metric.WithDescription("Session commits by outcome"))
	if err != nil {
		return nil, fmt.Errorf("failed to create commit counter: %w", err)
	}

	s := &Store{
		db:      db,
		schema:  schema,
		logger:  logger.Named("sqldb"),
		commits: commits,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "RecordStore",
			MaxRequests: 5,
			Interval:    60 * time.Second,
			Timeout:     10 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures > 3
			},
		}),
	}
	if err := s.migrate(); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	s.logger.Info("record store initialized", zap.String("dialect", db.Dialector.Name()))
	return s, nil
}

func (s *Store) migrate() error {
	dialect := s.db.Dialector.Name()
	if dialect != dialectSqlite && dialect != dialectPostgres {
		return fmt.Errorf("unsupported dialect %q", dialect)
	}
	for _, t := range s.schema.Tables {
		ddl, err := createTable(dialect, t, s.quote)
		if err != nil {
			return err
		}
		if err := s.db.Exec(ddl).Error; err != nil {
			return fmt.Errorf("failed to create table %s: %w", t.Name, err)
		}
	}
	return nil
}

func (s *Store) quote(name string) string {
	return s.db.Statement.Quote(name)
}

// Begin starts a database transaction. Connection failures trip the breaker
// after repeated attempts.
func (s *Store) Begin(ctx context.Context) (shared.Session, error) {
	tx, err := s.cb.Execute(func() (interface{}, error) {
		tx := s.db.WithContext(ctx).Begin()
		return tx, tx.Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &session{store: s, tx: tx.(*gorm.DB)}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type session struct {
	store *Store
	tx    *gorm.DB
	done  bool
}

func (s *session) conn(ctx context.Context) (*gorm.DB, error) {
	if s.done {
		return nil, errSessionDone
	}
	return s.tx.WithContext(ctx), nil
}

func orderBy(db *gorm.DB, table *shared.Table) *gorm.DB {
	for _, col := range table.PrimaryKey {
		db = db.Order(clause.OrderByColumn{Column: clause.Column{Name: col}})
	}
	return db
}

func (s *session) Find(ctx context.Context, table *shared.Table, where shared.Fields) ([]shared.Fields, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	q := db.Table(table.Name)
	if len(where) > 0 {
		q = q.Where(map[string]interface{}(where))
	}
	var found []map[string]interface{}
	if err := orderBy(q, table).Find(&found).Error; err != nil {
		return nil, translate(err)
	}
	return toFields(found), nil
}

func (s *session) Get(ctx context.Context, table *shared.Table, ids []int64) ([]shared.Fields, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	if table.AutoID == "" {
		return nil, fmt.Errorf("table %s has no surrogate id", table.Name)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	var found []map[string]interface{}
	err = orderBy(db.Table(table.Name).Where(s.store.quote(table.AutoID)+" IN ?", ids), table).Find(&found).Error
	if err != nil {
		return nil, translate(err)
	}
	return toFields(found), nil
}

func (s *session) All(ctx context.Context, table *shared.Table) ([]shared.Fields, error) {
	return s.Find(ctx, table, nil)
}

func (s *session) Insert(ctx context.Context, table *shared.Table, row shared.Fields) (shared.Fields, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	cols := row.Keys()
	args := make([]interface{}, len(cols))
	quoted := make([]string, len(cols))
	marks := make([]string, len(cols))
	for i, col := range cols {
		quoted[i], marks[i], args[i] = s.store.quote(col), "?", row[col]
	}

	var stmt string
	if len(cols) == 0 {
		stmt = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", s.store.quote(table.Name))
	} else {
		stmt = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			s.store.quote(table.Name), strings.Join(quoted, ", "), strings.Join(marks, ", "))
	}

	if table.AutoID == "" {
		if err := db.Exec(stmt, args...).Error; err != nil {
			return nil, translate(err)
		}
		return row.Clone(), nil
	}

	var id int64
	if err := db.Raw(stmt+" RETURNING "+s.store.quote(table.AutoID), args...).Row().Scan(&id); err != nil {
		return nil, translate(err)
	}
	got, err := s.Get(ctx, table, []int64{id})
	if err != nil {
		return nil, err
	}
	if len(got) != 1 {
		return nil, fmt.Errorf("inserted %s row %d not readable", table.Name, id)
	}
	return got[0], nil
}

func (s *session) Update(ctx context.Context, table *shared.Table, id int64, set shared.Fields) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	res := db.Table(table.Name).
		Where(s.store.quote(table.AutoID)+" = ?", id).
		Updates(map[string]interface{}(set))
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s %d", shared.ErrNotFound, table.Name, id)
	}
	return nil
}

func (s *session) Link(ctx context.Context, link shared.Link, selfID int64, otherIDs []int64) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	if len(otherIDs) == 0 {
		return nil
	}
	edges := make([]map[string]interface{}, len(otherIDs))
	for i, other := range otherIDs {
		edges[i] = map[string]interface{}{link.Self: selfID, link.Other: other}
	}
	err = db.Table(link.Through).Clauses(clause.OnConflict{DoNothing: true}).Create(&edges).Error
	return translate(err)
}

func (s *session) Linked(ctx context.Context, link shared.Link, selfID int64) ([]int64, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	var ids []int64
	err = db.Table(link.Through).
		Where(s.store.quote(link.Self)+" = ?", selfID).
		Order(clause.OrderByColumn{Column: clause.Column{Name: link.Other}}).
		Pluck(link.Other, &ids).Error
	if err != nil {
		return nil, translate(err)
	}
	return ids, nil
}

// Refresh abandons the current transaction and starts a new one.
func (s *session) Refresh(ctx context.Context) error {
	if s.done {
		return errSessionDone
	}
	if err := s.tx.Rollback().Error; err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	tx := s.store.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		s.done = true
		return fmt.Errorf("failed to restart transaction: %w", tx.Error)
	}
	s.tx = tx
	return nil
}

func (s *session) Commit() error {
	if s.done {
		return errSessionDone
	}
	s.done = true
	err := translate(s.tx.Commit().Error)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	s.store.commits.Add(context.Background(), 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	return err
}

func (s *session) Rollback() error {
	if s.done {
		return nil
	}
	s.done = true
	if err := s.tx.Rollback().Error; err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

func toFields(found []map[string]interface{}) []shared.Fields {
	out := make([]shared.Fields, len(found))
	for i, m := range found {
		out[i] = shared.Fields(m)
	}
	return out
}
