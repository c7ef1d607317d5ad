package database

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
)

const (
	mysqlCreateStoreQuery = `
		CREATE TABLE IF NOT EXISTS %s (
			version BIGINT PRIMARY KEY,
			name VARCHAR(120),
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		) ENGINE=INNODB;
	`
	mysqlDropStoreQuery    = "DROP TABLE IF EXISTS %s;"
	mysqlInsertRecordQuery = "INSERT IGNORE INTO %s (version, name) VALUES (?, ?);"
	mysqlRemoveRecordQuery = "DELETE FROM %s WHERE version = ?;"
	mysqlReadRecordsQuery  = "SELECT version, name, applied_at FROM %s ORDER BY version ASC;"
	mysqlShowTablesQuery   = "SHOW TABLES;"
)

const MysqlDefaultLockKey = "strata_migrations"
const MysqlDefaultLockSeconds = 3

type MySQLOptions struct {
	CommonOptions
	LockKey string
	LockFor int
	NoLock  bool
}

type mySQLLocker struct {
	lockKey string
	lockFor int
	noLock  bool
}

func (l *mySQLLocker) lock(ctx context.Context, ex ctxExecutor) error {
	if l.noLock {
		return nil
	}

	if _, err := ex.ExecContext(ctx, "SELECT GET_LOCK(?, ?)", l.lockKey, l.lockFor); err != nil {
		return errors.Wrapf(err, "could not obtain [%s] exclusive MySQL DB lock for [%d] seconds", l.lockKey, l.lockFor)
	}

	return nil
}

func (l *mySQLLocker) unlock(ctx context.Context, ex ctxExecutor) error {
	if l.noLock {
		return nil
	}

	if _, err := ex.ExecContext(ctx, "SELECT RELEASE_LOCK(?)", l.lockKey); err != nil {
		return errors.Wrapf(err, "could not release [%s] exclusive MySQL DB lock", l.lockKey)
	}

	return nil
}

type mysqlDialect struct {
	migrationsTable string
}

func (d mysqlDialect) createStoreQuery() string {
	return fmt.Sprintf(mysqlCreateStoreQuery, d.migrationsTable)
}

func (d mysqlDialect) dropStoreQuery() string {
	return fmt.Sprintf(mysqlDropStoreQuery, d.migrationsTable)
}

func (d mysqlDialect) insertRecordQuery() string {
	return fmt.Sprintf(mysqlInsertRecordQuery, d.migrationsTable)
}

func (d mysqlDialect) removeRecordQuery() string {
	return fmt.Sprintf(mysqlRemoveRecordQuery, d.migrationsTable)
}

func (d mysqlDialect) readRecordsQuery() string {
	return fmt.Sprintf(mysqlReadRecordsQuery, d.migrationsTable)
}

func (d mysqlDialect) showTablesQuery() string {
	return mysqlShowTablesQuery
}

// NewMySQLGateway connects through the given connector and guards runs
// with GET_LOCK on options.LockKey.
func NewMySQLGateway(db *sql.DB, connector connector, options *MySQLOptions) (*SQLGateway, error) {
	if options.MigrationsTable == "" {
		options.MigrationsTable = DefaultMigrationsTable
	}

	if options.LockKey == "" {
		options.LockKey = MysqlDefaultLockKey
	}

	if options.LockFor == 0 {
		options.LockFor = MysqlDefaultLockSeconds
	}

	return newSQLGateway(
		db,
		connector,
		mysqlDialect{migrationsTable: options.MigrationsTable},
		&mySQLLocker{lockKey: options.LockKey, lockFor: options.LockFor, noLock: options.NoLock},
	)
}
