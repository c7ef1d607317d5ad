package strata

import (
	"context"

	"github.com/pkg/errors"
	"github.com/stratadb/strata/database"
	"github.com/stratadb/strata/internal/logger"
	"github.com/stratadb/strata/migration"
	"github.com/stratadb/strata/registry"
)

var ErrGatewayNotInitialized = errors.New("database gateway has not been initialized")
var ErrRegistryNotInitialized = errors.New("migration registry has not been initialized")

type CloserFunc func() error

// Migrator reconciles the registered migration set with the versions
// recorded in the bookkeeping store and brings the database to the
// requested target.
type Migrator struct {
	lg      logger.Logger
	gateway database.Gateway
	reg     *registry.Registry
}

// NewMigrator wires a migrator from option callbacks. A database option
// (UsePostgres, UseMySQL or UseSqlite) and UseMigrations are required.
func NewMigrator(opts ...OptionFunc) (*Migrator, CloserFunc, error) {
	m := new(Migrator)
	m.lg = &logger.NullLogger{}

	for _, oFunc := range opts {
		if err := oFunc(m); err != nil {
			return nil, nil, err
		}
	}

	if m.gateway == nil {
		return nil, nil, ErrGatewayNotInitialized
	}

	if m.reg == nil {
		if gatewayErr := m.gateway.Close(); gatewayErr != nil {
			return nil, nil, errors.Wrap(ErrRegistryNotInitialized, gatewayErr.Error())
		}

		return nil, nil, ErrRegistryNotInitialized
	}

	m.gateway.SetLogger(m.lg)

	return m, m.close, nil
}

// Registry exposes the ordered set of registered migrations.
func (m *Migrator) Registry() *registry.Registry {
	return m.reg
}

// EnsureStore idempotently creates the bookkeeping store. Every run
// also does this on its own; calling it unconditionally is safe.
func (m *Migrator) EnsureStore(ctx context.Context) error {
	return m.gateway.CreateMigrationsTable(ctx)
}

// AppliedVersions reads the bookkeeping store, ascending by version.
func (m *Migrator) AppliedVersions(ctx context.Context) ([]migration.Record, error) {
	if err := m.gateway.CreateMigrationsTable(ctx); err != nil {
		return nil, err
	}

	return m.gateway.ReadRecords(ctx)
}

// Pending returns registered migrations without a committed record,
// preserving registry order.
func (m *Migrator) Pending(ctx context.Context) (migration.Migrations, error) {
	records, err := m.AppliedVersions(ctx)
	if err != nil {
		return nil, err
	}

	return database.ScheduleForMigration(m.reg.All(), records, database.Plan{}), nil
}

// Migrate applies the pending set up to the configured target, latest
// by default. When nothing is pending it returns an empty result and a
// nil error.
func (m *Migrator) Migrate(ctx context.Context, cfs ...ActionConfigurator) (migration.Migrations, error) {
	act := new(Action)
	for _, f := range cfs {
		f(act)
	}

	migrated, err := m.gateway.Migrate(ctx, m.reg.All(), database.Plan{Steps: act.steps, Target: act.target})
	if err != nil {
		m.lg.Error(err)
		return migrated, err
	}

	return migrated, nil
}

// Rollback reverts applied migrations strictly above the configured
// target, descending. Without a target everything is unwound. The
// request fails before any mutation if a scheduled migration is
// forward-only.
func (m *Migrator) Rollback(ctx context.Context, cfs ...ActionConfigurator) (migration.Migrations, error) {
	act := new(Action)
	for _, f := range cfs {
		f(act)
	}

	rolledBack, err := m.gateway.Rollback(ctx, m.reg.All(), database.Plan{Steps: act.steps, Target: act.target})
	if err != nil {
		m.lg.Error(err)
		return rolledBack, errors.Wrap(err, "could not rollback migrations")
	}

	return rolledBack, nil
}

// Refresh rolls the applied set back and migrates it again.
func (m *Migrator) Refresh(ctx context.Context, cfs ...ActionConfigurator) (migration.Migrations, migration.Migrations, error) {
	act := new(Action)
	for _, f := range cfs {
		f(act)
	}

	rolledBack, migrated, err := m.gateway.Refresh(ctx, m.reg.All(), database.Plan{Steps: act.steps, Target: act.target})
	if err != nil {
		m.lg.Error(err)
		return rolledBack, migrated, err
	}

	return rolledBack, migrated, nil
}

// ForceReset removes the bookkeeping record of one applied version so
// the next run reapplies it. The version must be registered and
// currently applied; the removal is logged.
func (m *Migrator) ForceReset(ctx context.Context, v migration.Version) error {
	if _, err := m.reg.Get(v); err != nil {
		return err
	}

	if err := m.gateway.ResetVersion(ctx, v); err != nil {
		m.lg.Error(err)
		return err
	}

	return nil
}

func (m *Migrator) close() error {
	if m.gateway == nil {
		return ErrGatewayNotInitialized
	}

	if err := m.gateway.Close(); err != nil {
		m.lg.Error(err)
		return err
	}

	return nil
}
