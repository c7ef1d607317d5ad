package strata

import (
	"database/sql"
	"time"

	"github.com/stratadb/strata/database"
)

type MySQLOptionFunc func(*database.MySQLOptions, *database.ConnectOptions)

// UseMySQL runs migrations against a MySQL database, guarding every
// run with GET_LOCK.
func UseMySQL(db *sql.DB, options ...MySQLOptionFunc) OptionFunc {
	return func(m *Migrator) error {
		mysqlOpts := &database.MySQLOptions{
			CommonOptions: database.CommonOptions{
				MigrationsTable: database.DefaultMigrationsTable,
			},
			LockKey: database.MysqlDefaultLockKey,
			LockFor: database.MysqlDefaultLockSeconds,
		}

		connectOpts := database.NewDefaultConnectOptions()

		for _, oFunc := range options {
			oFunc(mysqlOpts, connectOpts)
		}

		connector := database.MakeRetryingConnector(connectOpts)
		gateway, err := database.NewMySQLGateway(db, connector, mysqlOpts)
		if err != nil {
			return err
		}

		m.gateway = gateway
		return nil
	}
}

func WithMySQLMigrationsTable(table string) MySQLOptionFunc {
	return func(mysqlOpts *database.MySQLOptions, connectOpts *database.ConnectOptions) {
		mysqlOpts.MigrationsTable = table
	}
}

func WithMySQLLockKey(key string) MySQLOptionFunc {
	return func(mysqlOpts *database.MySQLOptions, connectOpts *database.ConnectOptions) {
		mysqlOpts.LockKey = key
	}
}

func WithMySQLLockFor(seconds int) MySQLOptionFunc {
	return func(mysqlOpts *database.MySQLOptions, connectOpts *database.ConnectOptions) {
		mysqlOpts.LockFor = seconds
	}
}

func WithMySQLNoLock() MySQLOptionFunc {
	return func(mysqlOpts *database.MySQLOptions, connectOpts *database.ConnectOptions) {
		mysqlOpts.NoLock = true
	}
}

func WithMySQLMaxConnectionAttempts(attempts int) MySQLOptionFunc {
	return func(mysqlOpts *database.MySQLOptions, connectOpts *database.ConnectOptions) {
		connectOpts.MaxAttempts = attempts
	}
}

func WithMySQLConnectionTimeout(timeout time.Duration) MySQLOptionFunc {
	return func(mysqlOpts *database.MySQLOptions, connectOpts *database.ConnectOptions) {
		connectOpts.MaxTimeout = timeout
	}
}
