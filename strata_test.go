package strata_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	strata "github.com/stratadb/strata"
	"github.com/stratadb/strata/database"
	"github.com/stratadb/strata/migration"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// the users table lineage of the journaling backend, used as a
// realistic fixture throughout
func usersMigrations() []migration.Factory {
	return []migration.Factory{
		migration.New(1, "create users table",
			[]string{`
				CREATE TABLE IF NOT EXISTS users (
					id INTEGER PRIMARY KEY,
					email VARCHAR(255) UNIQUE NOT NULL,
					first_name VARCHAR(255),
					last_name VARCHAR(255),
					created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
				)`,
				"CREATE INDEX IF NOT EXISTS idx_users_email ON users(email)",
			},
			[]string{"DROP TABLE IF EXISTS users"},
		),
		migration.New(2, "add phone number to users",
			[]string{
				"ALTER TABLE users ADD COLUMN phone_number VARCHAR(20)",
				"CREATE INDEX IF NOT EXISTS idx_users_phone_number ON users(phone_number)",
			},
			[]string{"DROP INDEX IF EXISTS idx_users_phone_number"},
		),
		migration.New(3, "add approved to users",
			[]string{"ALTER TABLE users ADD COLUMN approved VARCHAR(50) NOT NULL DEFAULT 'PENDING_APPROVAL'"},
			nil,
		),
	}
}

func newSqliteMigrator(t *testing.T, path string, factories ...migration.Factory) (*strata.Migrator, *sqlx.DB) {
	t.Helper()

	db, err := sqlx.Open("sqlite3", path)
	require.NoError(t, err)

	m, closer, err := strata.NewMigrator(
		strata.UseSqlite(db.DB),
		strata.UseMigrations(factories...),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = closer()
		_ = db.Close()
	})

	return m, db
}

func Test_NewMigrator_RequiresGatewayAndRegistry(t *testing.T) {
	t.Run("no_gateway", func(t *testing.T) {
		_, _, err := strata.NewMigrator(strata.UseMigrations())
		assert.True(t, errors.Is(err, strata.ErrGatewayNotInitialized))
	})

	t.Run("no_registry", func(t *testing.T) {
		db, err := sqlx.Open("sqlite3", filepath.Join(t.TempDir(), "m.db"))
		require.NoError(t, err)
		defer db.Close()

		_, _, err = strata.NewMigrator(strata.UseSqlite(db.DB))
		assert.True(t, errors.Is(errors.Cause(err), strata.ErrRegistryNotInitialized))
	})
}

func Test_UsersTableScenario(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	m, db := newSqliteMigrator(t, path, usersMigrations()...)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, m.EnsureStore(ctx))

	migrated, err := m.Migrate(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"001_create_users_table",
		"002_add_phone_number_to_users",
		"003_add_approved_to_users",
	}, migrated.Keys())

	// the schema is actually there
	_, err = db.Exec("INSERT INTO users (email, phone_number, approved) VALUES ('a@b.c', '+1555', 'APPROVED')")
	require.NoError(t, err)

	records, err := m.AppliedVersions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, len(records))

	pending, err := m.Pending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 0)
}

func Test_MigrateIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	m, _ := newSqliteMigrator(t, path, usersMigrations()...)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	first, err := m.Migrate(ctx)
	require.NoError(t, err)
	require.Len(t, first, 3)

	before, err := m.AppliedVersions(ctx)
	require.NoError(t, err)

	second, err := m.Migrate(ctx)
	require.NoError(t, err)
	assert.Len(t, second, 0)

	after, err := m.AppliedVersions(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func Test_MigrateUpToTarget_ThenRest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	m, _ := newSqliteMigrator(t, path, usersMigrations()...)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	migrated, err := m.Migrate(ctx, strata.WithTarget(2))
	require.NoError(t, err)
	assert.Equal(t, []migration.Version{1, 2}, migrated.Versions())

	pending, err := m.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, []migration.Version{3}, pending.Versions())

	rest, err := m.Migrate(ctx)
	require.NoError(t, err)
	assert.Equal(t, []migration.Version{3}, rest.Versions())
}

func Test_RoundTrip_UpDownUp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	factories := []migration.Factory{
		migration.New(1, "create notes", []string{"CREATE TABLE notes (id INTEGER PRIMARY KEY, body TEXT)"}, []string{"DROP TABLE notes"}),
		migration.New(2, "create tags", []string{"CREATE TABLE tags (id INTEGER PRIMARY KEY, label TEXT)"}, []string{"DROP TABLE tags"}),
		migration.New(3, "create links", []string{"CREATE TABLE links (note_id INT, tag_id INT)"}, []string{"DROP TABLE links"}),
	}

	m, _ := newSqliteMigrator(t, path, factories...)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	migrated, err := m.Migrate(ctx)
	require.NoError(t, err)
	require.Len(t, migrated, 3)

	rolledBack, err := m.Rollback(ctx, strata.WithTarget(1))
	require.NoError(t, err)
	assert.Equal(t, []migration.Version{3, 2}, rolledBack.Versions())

	records, err := m.AppliedVersions(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, migration.Version(1), records[0].Version)

	// migrating again reapplies exactly the reverted units
	reapplied, err := m.Migrate(ctx)
	require.NoError(t, err)
	assert.Equal(t, []migration.Version{2, 3}, reapplied.Versions())

	records, err = m.AppliedVersions(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

func Test_Refresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	factories := []migration.Factory{
		migration.New(1, "create notes", []string{"CREATE TABLE notes (id INTEGER PRIMARY KEY)"}, []string{"DROP TABLE notes"}),
		migration.New(2, "create tags", []string{"CREATE TABLE tags (id INTEGER PRIMARY KEY)"}, []string{"DROP TABLE tags"}),
	}

	m, _ := newSqliteMigrator(t, path, factories...)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := m.Migrate(ctx)
	require.NoError(t, err)

	rolledBack, migrated, err := m.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, []migration.Version{2, 1}, rolledBack.Versions())
	assert.Equal(t, []migration.Version{1, 2}, migrated.Versions())
}

func Test_ForceReset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	factories := []migration.Factory{
		migration.New(1, "create notes", []string{"CREATE TABLE IF NOT EXISTS notes (id INTEGER PRIMARY KEY)"}, nil),
	}

	m, _ := newSqliteMigrator(t, path, factories...)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := m.Migrate(ctx)
	require.NoError(t, err)

	t.Run("unregistered_version_is_rejected", func(t *testing.T) {
		err := m.ForceReset(ctx, 42)
		assert.Error(t, err)
	})

	t.Run("reset_version_becomes_pending_and_reapplies", func(t *testing.T) {
		require.NoError(t, m.ForceReset(ctx, 1))

		pending, err := m.Pending(ctx)
		require.NoError(t, err)
		assert.Equal(t, []migration.Version{1}, pending.Versions())

		reapplied, err := m.Migrate(ctx)
		require.NoError(t, err)
		assert.Equal(t, []migration.Version{1}, reapplied.Versions())
	})
}

func Test_FuncMigrations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	up := func(ctx context.Context, ex migration.Executor) error {
		if _, err := ex.ExecContext(ctx, "CREATE TABLE counters (n INT)"); err != nil {
			return err
		}
		_, err := ex.ExecContext(ctx, "INSERT INTO counters (n) VALUES (?)", 1)
		return err
	}
	down := func(ctx context.Context, ex migration.Executor) error {
		_, err := ex.ExecContext(ctx, "DROP TABLE counters")
		return err
	}

	m, db := newSqliteMigrator(t, path, migration.NewFunc(1, "seed counters", up, down))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := m.Migrate(ctx)
	require.NoError(t, err)

	var n int
	require.NoError(t, db.Get(&n, "SELECT n FROM counters"))
	assert.Equal(t, 1, n)

	rolledBack, err := m.Rollback(ctx)
	require.NoError(t, err)
	assert.Len(t, rolledBack, 1)
}

func Test_ConcurrentMigrateRace_OneRecordNoHardFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	dsn := fmt.Sprintf("file:%s?_busy_timeout=10000", path)

	factories := []migration.Factory{
		migration.New(1, "create notes", []string{"CREATE TABLE IF NOT EXISTS notes (id INTEGER PRIMARY KEY)"}, nil),
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)

	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			db, err := sqlx.Open("sqlite3", dsn)
			if err != nil {
				errs[i] = err
				return
			}
			defer db.Close()

			m, closer, err := strata.NewMigrator(
				strata.UseSqlite(db.DB),
				strata.UseMigrations(factories...),
			)
			if err != nil {
				errs[i] = err
				return
			}
			defer closer()

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			_, errs[i] = m.Migrate(ctx)
		}(i)
	}

	wg.Wait()

	for i := range errs {
		assert.NoError(t, errs[i])
	}

	m, _ := newSqliteMigrator(t, dsn, factories...)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	records, err := m.AppliedVersions(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func Test_HaltOnFailure_SurfacesFailingVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	factories := []migration.Factory{
		migration.New(1, "create notes", []string{"CREATE TABLE notes (id INTEGER PRIMARY KEY)"}, nil),
		migration.New(2, "broken", []string{"NOT EVEN SQL"}, nil),
		migration.New(3, "create tags", []string{"CREATE TABLE tags (id INTEGER PRIMARY KEY)"}, nil),
	}

	m, _ := newSqliteMigrator(t, path, factories...)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	migrated, err := m.Migrate(ctx)
	require.Error(t, err)

	var failed *database.MigrationFailedError
	require.True(t, errors.As(err, &failed))
	assert.Equal(t, migration.Version(2), failed.Version)

	assert.Equal(t, []migration.Version{1}, migrated.Versions())

	records, err := m.AppliedVersions(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, migration.Version(1), records[0].Version)
}
