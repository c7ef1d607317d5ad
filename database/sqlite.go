package database

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const (
	sqliteCreateStoreQuery = `
		CREATE TABLE IF NOT EXISTS %s (
			version BIGINT PRIMARY KEY,
			name VARCHAR(120),
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
	`
	sqliteDropStoreQuery    = "DROP TABLE IF EXISTS %s;"
	sqliteInsertRecordQuery = "INSERT OR IGNORE INTO %s (version, name) VALUES (?, ?);"
	sqliteRemoveRecordQuery = "DELETE FROM %s WHERE version = ?;"
	sqliteReadRecordsQuery  = "SELECT version, name, applied_at FROM %s ORDER BY version ASC;"
	sqliteShowTablesQuery   = "SELECT name FROM sqlite_master WHERE type='table' ORDER BY name;"
)

type SqliteOptions struct {
	CommonOptions
}

type sqliteDialect struct {
	migrationsTable string
}

func (d sqliteDialect) createStoreQuery() string {
	return fmt.Sprintf(sqliteCreateStoreQuery, d.migrationsTable)
}

func (d sqliteDialect) dropStoreQuery() string {
	return fmt.Sprintf(sqliteDropStoreQuery, d.migrationsTable)
}

func (d sqliteDialect) insertRecordQuery() string {
	return fmt.Sprintf(sqliteInsertRecordQuery, d.migrationsTable)
}

func (d sqliteDialect) removeRecordQuery() string {
	return fmt.Sprintf(sqliteRemoveRecordQuery, d.migrationsTable)
}

func (d sqliteDialect) readRecordsQuery() string {
	return fmt.Sprintf(sqliteReadRecordsQuery, d.migrationsTable)
}

func (d sqliteDialect) showTablesQuery() string {
	return sqliteShowTablesQuery
}

// NewSqliteGateway relies on sqlite's own file locking plus the
// conflict-ignoring bookkeeping insert; no advisory lock exists.
func NewSqliteGateway(db *sql.DB, connector connector, options *SqliteOptions) (*SQLGateway, error) {
	if options.MigrationsTable == "" {
		options.MigrationsTable = DefaultMigrationsTable
	}

	return newSQLGateway(
		db,
		connector,
		sqliteDialect{migrationsTable: options.MigrationsTable},
		nullLocker{},
	)
}
