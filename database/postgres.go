package database

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/pkg/errors"
)

const (
	postgresCreateStoreQuery = `
		CREATE TABLE IF NOT EXISTS %s (
			version BIGINT PRIMARY KEY,
			name VARCHAR(120),
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
	`
	postgresDropStoreQuery    = "DROP TABLE IF EXISTS %s;"
	postgresInsertRecordQuery = "INSERT INTO %s (version, name) VALUES ($1, $2) ON CONFLICT (version) DO NOTHING;"
	postgresRemoveRecordQuery = "DELETE FROM %s WHERE version = $1;"
	postgresReadRecordsQuery  = "SELECT version, name, applied_at FROM %s ORDER BY version ASC;"
	postgresShowTablesQuery   = "SELECT tablename FROM pg_catalog.pg_tables WHERE schemaname = 'public' ORDER BY tablename;"
)

const PostgresDefaultLockKey int64 = 8442303

type PostgresOptions struct {
	CommonOptions
	LockKey int64
	NoLock  bool
}

type postgresLocker struct {
	lockKey int64
	noLock  bool
}

func (l *postgresLocker) lock(ctx context.Context, ex ctxExecutor) error {
	if l.noLock {
		return nil
	}

	if _, err := ex.ExecContext(ctx, "SELECT pg_advisory_lock($1)", l.lockKey); err != nil {
		return errors.Wrapf(err, "could not obtain Postgres advisory lock [%d]", l.lockKey)
	}

	return nil
}

func (l *postgresLocker) unlock(ctx context.Context, ex ctxExecutor) error {
	if l.noLock {
		return nil
	}

	if _, err := ex.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockKey); err != nil {
		return errors.Wrapf(err, "could not release Postgres advisory lock [%d]", l.lockKey)
	}

	return nil
}

type postgresDialect struct {
	migrationsTable string
}

func (d postgresDialect) createStoreQuery() string {
	return fmt.Sprintf(postgresCreateStoreQuery, d.migrationsTable)
}

func (d postgresDialect) dropStoreQuery() string {
	return fmt.Sprintf(postgresDropStoreQuery, d.migrationsTable)
}

func (d postgresDialect) insertRecordQuery() string {
	return fmt.Sprintf(postgresInsertRecordQuery, d.migrationsTable)
}

func (d postgresDialect) removeRecordQuery() string {
	return fmt.Sprintf(postgresRemoveRecordQuery, d.migrationsTable)
}

func (d postgresDialect) readRecordsQuery() string {
	return fmt.Sprintf(postgresReadRecordsQuery, d.migrationsTable)
}

func (d postgresDialect) showTablesQuery() string {
	return postgresShowTablesQuery
}

// NewPostgresGateway connects through the given connector and guards
// runs with a pg_advisory_lock keyed by options.LockKey.
func NewPostgresGateway(db *sql.DB, connector connector, options *PostgresOptions) (*SQLGateway, error) {
	if options.MigrationsTable == "" {
		options.MigrationsTable = DefaultMigrationsTable
	}

	if options.LockKey == 0 {
		options.LockKey = PostgresDefaultLockKey
	}

	return newSQLGateway(
		db,
		connector,
		postgresDialect{migrationsTable: options.MigrationsTable},
		&postgresLocker{lockKey: options.LockKey, noLock: options.NoLock},
	)
}
