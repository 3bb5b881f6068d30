// Package store selects and builds record store backends.
package store

import "github.com/eppraise/eppraise/internal/store/shared"

// Re-export shared types for convenience
type (
	Store            = shared.Store
	Session          = shared.Session
	Fields           = shared.Fields
	DbType           = shared.DbType
	DbProviderConfig = shared.DbProviderConfig
)

const (
	DbTypeMemory   = shared.DbTypeMemory
	DbTypeSqlite   = shared.DbTypeSqlite
	DbTypePostgres = shared.DbTypePostgres
)

var (
	ErrNotFound        = shared.ErrNotFound
	ErrAmbiguousMatch  = shared.ErrAmbiguousMatch
	ErrUniqueViolation = shared.ErrUniqueViolation
	Transaction        = shared.Transaction
)
