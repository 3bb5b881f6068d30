package store

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/eppraise/eppraise/internal/store/memory"
	"github.com/eppraise/eppraise/internal/store/shared"
	"github.com/eppraise/eppraise/internal/store/sqldb"
	"github.com/eppraise/eppraise/internal/telemetry"
)

// ProviderFactory creates record stores from a JSON provider document.
type ProviderFactory interface {
	CreateProvider(configJSON string, schema *shared.Schema) (Store, error)
}

// DbProviderFactory implements ProviderFactory for the built-in backends.
type DbProviderFactory struct {
	logger    *zap.Logger
	telemetry *telemetry.Telemetry
}

func NewDbProviderFactory(logger *zap.Logger, tel *telemetry.Telemetry) *DbProviderFactory {
	return &DbProviderFactory{
		logger:    logger.Named("factory"),
		telemetry: tel,
	}
}

func (f *DbProviderFactory) CreateProvider(configJSON string, schema *shared.Schema) (Store, error) {
	config, err := shared.ParseProviderConfig(configJSON)
	if err != nil {
		return nil, err
	}

	f.logger.Info("creating record store", zap.String("db_type", config.DbType.String()))

	if !config.DbType.IsValid() {
		return nil, fmt.Errorf("unsupported database type: %s", config.DbType)
	}

	meter := telemetry.MeterOf(f.telemetry)
	switch config.DbType {
	case shared.DbTypeMemory:
		f.logger.Info("using in-memory record store")
		return memory.New(schema)
	case shared.DbTypeSqlite:
		return sqldb.NewSqlite(config, schema, f.logger, meter)
	case shared.DbTypePostgres:
		return sqldb.NewPostgres(config, schema, f.logger, meter)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", config.DbType)
	}
}
