package strata

import (
	"database/sql"
	"time"

	"github.com/stratadb/strata/database"
)

type PostgresOptionFunc func(*database.PostgresOptions, *database.ConnectOptions)

// UsePostgres runs migrations against a Postgres database, guarding
// every run with an advisory lock.
func UsePostgres(db *sql.DB, options ...PostgresOptionFunc) OptionFunc {
	return func(m *Migrator) error {
		pgOpts := &database.PostgresOptions{
			CommonOptions: database.CommonOptions{
				MigrationsTable: database.DefaultMigrationsTable,
			},
			LockKey: database.PostgresDefaultLockKey,
		}

		connectOpts := database.NewDefaultConnectOptions()

		for _, oFunc := range options {
			oFunc(pgOpts, connectOpts)
		}

		connector := database.MakeRetryingConnector(connectOpts)
		gateway, err := database.NewPostgresGateway(db, connector, pgOpts)
		if err != nil {
			return err
		}

		m.gateway = gateway
		return nil
	}
}

func WithPostgresMigrationsTable(table string) PostgresOptionFunc {
	return func(pgOpts *database.PostgresOptions, connectOpts *database.ConnectOptions) {
		pgOpts.MigrationsTable = table
	}
}

func WithPostgresLockKey(key int64) PostgresOptionFunc {
	return func(pgOpts *database.PostgresOptions, connectOpts *database.ConnectOptions) {
		pgOpts.LockKey = key
	}
}

func WithPostgresNoLock() PostgresOptionFunc {
	return func(pgOpts *database.PostgresOptions, connectOpts *database.ConnectOptions) {
		pgOpts.NoLock = true
	}
}

func WithPostgresMaxConnectionAttempts(attempts int) PostgresOptionFunc {
	return func(pgOpts *database.PostgresOptions, connectOpts *database.ConnectOptions) {
		connectOpts.MaxAttempts = attempts
	}
}

func WithPostgresConnectionTimeout(timeout time.Duration) PostgresOptionFunc {
	return func(pgOpts *database.PostgresOptions, connectOpts *database.ConnectOptions) {
		connectOpts.MaxTimeout = timeout
	}
}
