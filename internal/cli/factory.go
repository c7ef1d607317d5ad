package cli

import (
	"io/ioutil"
	"log"
	"os"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	strata "github.com/stratadb/strata"
	"github.com/stratadb/strata/migration"
	"github.com/xo/dburl"
	"gopkg.in/yaml.v2"
)

type (
	migratorFactory    func(db *sqlx.DB, cfg Config, factories ...migration.Factory) (*strata.Migrator, strata.CloserFunc, error)
	migratorFactoryMap map[string]migratorFactory

	migrationsSection struct {
		DatabaseURL string `yaml:"database_url"`
		Table       string `yaml:"table"`
	}

	configFile struct {
		Version    string            `yaml:"version"`
		Migrations migrationsSection `yaml:"migrations"`
	}
)

// createConfigFromYaml reads the CLI configuration; a value delimited
// with %% resolves to the named environment variable, so credentials
// stay out of the file.
func createConfigFromYaml(path string) (Config, error) {
	var cfg Config

	f, err := os.Open(path)
	if err != nil {
		return cfg, errors.Wrap(err, "could not open strata configuration file")
	}

	defer func() {
		_ = f.Close()
	}()

	b, err := ioutil.ReadAll(f)
	if err != nil {
		return cfg, errors.Wrap(err, "could not read strata configuration file")
	}

	var cfgFile configFile
	if err := yaml.Unmarshal(b, &cfgFile); err != nil {
		return cfg, errors.Wrap(err, "could not parse strata configuration file")
	}

	cfg.DatabaseURL = resolveEnvIndirection(cfgFile.Migrations.DatabaseURL)
	cfg.MigrationsTable = resolveEnvIndirection(cfgFile.Migrations.Table)

	if cfg.DatabaseURL == "" {
		return cfg, errors.New("database url was not defined")
	}

	return cfg, nil
}

func resolveEnvIndirection(v string) string {
	if strings.HasPrefix(v, "%%") && strings.HasSuffix(v, "%%") {
		return os.Getenv(strings.ReplaceAll(v, "%%", ""))
	}

	return v
}

func createPostgresMigrator(db *sqlx.DB, cfg Config, factories ...migration.Factory) (*strata.Migrator, strata.CloserFunc, error) {
	return strata.NewMigrator(
		strata.UsePostgres(db.DB, strata.WithPostgresMigrationsTable(cfg.MigrationsTable)),
		strata.UseMigrations(factories...),
		strata.UseColorLogger(log.New(os.Stdout, "", 0), false, false),
	)
}

func createMySQLMigrator(db *sqlx.DB, cfg Config, factories ...migration.Factory) (*strata.Migrator, strata.CloserFunc, error) {
	return strata.NewMigrator(
		strata.UseMySQL(db.DB, strata.WithMySQLMigrationsTable(cfg.MigrationsTable)),
		strata.UseMigrations(factories...),
		strata.UseColorLogger(log.New(os.Stdout, "", 0), false, false),
	)
}

func createSqliteMigrator(db *sqlx.DB, cfg Config, factories ...migration.Factory) (*strata.Migrator, strata.CloserFunc, error) {
	return strata.NewMigrator(
		strata.UseSqlite(db.DB, strata.WithSqliteMigrationsTable(cfg.MigrationsTable)),
		strata.UseMigrations(factories...),
		strata.UseColorLogger(log.New(os.Stdout, "", 0), false, false),
	)
}

func createMigrator(cfg Config, factories ...migration.Factory) (*strata.Migrator, strata.CloserFunc, error) {
	u, err := dburl.Parse(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "could not parse database url [%s]", cfg.DatabaseURL)
	}

	factoryMap := migratorFactoryMap{
		"postgres": createPostgresMigrator,
		"mysql":    createMySQLMigrator,
		"sqlite3":  createSqliteMigrator,
	}

	factory, ok := factoryMap[u.Driver]
	if !ok {
		return nil, nil, errors.Wrapf(ErrUnsupportedDriver, "[%s]", u.Driver)
	}

	db, err := sqlx.Open(u.Driver, u.DSN)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "could not open [%s] database", u.Driver)
	}

	m, closer, err := factory(db, cfg, factories...)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	wrapped := strata.CloserFunc(func() error {
		if err := closer(); err != nil {
			_ = db.Close()
			return err
		}

		return db.Close()
	})

	return m, wrapped, nil
}
