package cli

import (
	"context"

	"github.com/pkg/errors"
	strata "github.com/stratadb/strata"
	"github.com/stratadb/strata/migration"
)

var ErrUnsupportedDriver = errors.New("database driver is not supported")

type (
	CloserFunc func() error

	// Config is the resolved CLI configuration, from flags or from a
	// YAML file.
	Config struct {
		DatabaseURL     string
		MigrationsTable string
	}

	// ActionConfig narrows a single command invocation.
	ActionConfig struct {
		Steps  int
		Target string
	}

	App struct {
		migrator *strata.Migrator
	}
)

// NewFromYaml builds the app from a YAML configuration file; the
// migration list always comes from the binary, never from disk.
func NewFromYaml(path string, factories ...migration.Factory) (*App, CloserFunc, error) {
	cfg, err := createConfigFromYaml(path)
	if err != nil {
		return nil, nil, err
	}

	return New(cfg, factories...)
}

func New(cfg Config, factories ...migration.Factory) (*App, CloserFunc, error) {
	m, closer, err := createMigrator(cfg, factories...)
	if err != nil {
		return nil, nil, err
	}

	return &App{migrator: m}, CloserFunc(closer), nil
}

func (app *App) actionConfigurators(cfg ActionConfig) ([]strata.ActionConfigurator, error) {
	var configurators []strata.ActionConfigurator
	if cfg.Steps > 0 {
		configurators = append(configurators, strata.WithSteps(cfg.Steps))
	}

	if cfg.Target != "" {
		v, err := migration.VersionFromString(cfg.Target)
		if err != nil {
			return nil, err
		}

		configurators = append(configurators, strata.WithTarget(v))
	}

	return configurators, nil
}

// Migrate ensures the bookkeeping store exists and applies the pending
// set. A run with nothing pending succeeds and reports zero versions.
func (app *App) Migrate(ctx context.Context, cfg ActionConfig) (migration.Migrations, error) {
	configurators, err := app.actionConfigurators(cfg)
	if err != nil {
		return nil, err
	}

	if err := app.migrator.EnsureStore(ctx); err != nil {
		return nil, err
	}

	return app.migrator.Migrate(ctx, configurators...)
}

func (app *App) Rollback(ctx context.Context, cfg ActionConfig) (migration.Migrations, error) {
	configurators, err := app.actionConfigurators(cfg)
	if err != nil {
		return nil, err
	}

	return app.migrator.Rollback(ctx, configurators...)
}

func (app *App) Refresh(ctx context.Context, cfg ActionConfig) (migration.Migrations, migration.Migrations, error) {
	configurators, err := app.actionConfigurators(cfg)
	if err != nil {
		return nil, nil, err
	}

	return app.migrator.Refresh(ctx, configurators...)
}

func (app *App) Reset(ctx context.Context, version string) error {
	v, err := migration.VersionFromString(version)
	if err != nil {
		return err
	}

	return app.migrator.ForceReset(ctx, v)
}

// Status reports applied records and the pending set.
func (app *App) Status(ctx context.Context) ([]migration.Record, migration.Migrations, error) {
	applied, err := app.migrator.AppliedVersions(ctx)
	if err != nil {
		return nil, nil, err
	}

	pending, err := app.migrator.Pending(ctx)
	if err != nil {
		return applied, nil, err
	}

	return applied, pending, nil
}
