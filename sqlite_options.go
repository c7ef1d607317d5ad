package strata

import (
	"database/sql"
	"time"

	"github.com/stratadb/strata/database"
)

type SqliteOptionFunc func(*database.SqliteOptions, *database.ConnectOptions)

// UseSqlite runs migrations against a sqlite database. There is no
// advisory lock; the bookkeeping primary key arbitrates races.
func UseSqlite(db *sql.DB, options ...SqliteOptionFunc) OptionFunc {
	return func(m *Migrator) error {
		sqliteOpts := &database.SqliteOptions{
			CommonOptions: database.CommonOptions{
				MigrationsTable: database.DefaultMigrationsTable,
			},
		}

		connectOpts := database.NewDefaultConnectOptions()

		for _, oFunc := range options {
			oFunc(sqliteOpts, connectOpts)
		}

		connector := database.MakeRetryingConnector(connectOpts)
		gateway, err := database.NewSqliteGateway(db, connector, sqliteOpts)
		if err != nil {
			return err
		}

		m.gateway = gateway
		return nil
	}
}

func WithSqliteMigrationsTable(table string) SqliteOptionFunc {
	return func(sqliteOpts *database.SqliteOptions, connectOpts *database.ConnectOptions) {
		sqliteOpts.MigrationsTable = table
	}
}

func WithSqliteMaxConnectionAttempts(attempts int) SqliteOptionFunc {
	return func(sqliteOpts *database.SqliteOptions, connectOpts *database.ConnectOptions) {
		connectOpts.MaxAttempts = attempts
	}
}

func WithSqliteConnectionTimeout(timeout time.Duration) SqliteOptionFunc {
	return func(sqliteOpts *database.SqliteOptions, connectOpts *database.ConnectOptions) {
		connectOpts.MaxTimeout = timeout
	}
}
