package database

import (
	"context"
	"database/sql"
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/stratadb/strata/internal/logger"
	"github.com/stratadb/strata/migration"
)

var ErrConnectionFailed = errors.New("database is unreachable")
var ErrNoRollbackDefined = errors.New("no rollback defined for migration")
var ErrVersionNotApplied = errors.New("version has not been applied")

// DefaultMigrationsTable is the conventional name of the bookkeeping
// store.
const DefaultMigrationsTable = "schema_migrations"

const (
	OperationMigrate  = "migrate"
	OperationRollback = "rollback"
	OperationRefresh  = "refresh"
	OperationReset    = "reset"
)

// MigrationFailedError reports the single migration whose transaction
// could not be committed. The transaction was rolled back in full;
// units committed earlier in the same run remain applied.
type MigrationFailedError struct {
	Version migration.Version
	Op      string
	Err     error
}

func (e *MigrationFailedError) Error() string {
	return fmt.Sprintf("could not %s version %s: %s", e.Op, e.Version, e.Err)
}

func (e *MigrationFailedError) Unwrap() error { return e.Err }

// Cause keeps compatibility with pkg/errors chains.
func (e *MigrationFailedError) Cause() error { return e.Err }

type ctxExecutor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

type CommonOptions struct {
	MigrationsTable string
}

// Plan bounds a single run. Target 0 means latest for a migration run
// and a full unwind for a rollback run. Steps 0 means unlimited.
type Plan struct {
	Steps  int
	Target migration.Version
}

// Gateway executes migration runs against one concrete database.
type Gateway interface {
	io.Closer

	SetLogger(logger.Logger)
	Migrate(ctx context.Context, migrations migration.Migrations, p Plan) (migration.Migrations, error)
	Rollback(ctx context.Context, migrations migration.Migrations, p Plan) (migration.Migrations, error)
	Refresh(ctx context.Context, migrations migration.Migrations, p Plan) (migration.Migrations, migration.Migrations, error)
	ResetVersion(ctx context.Context, v migration.Version) error

	ServiceGateway
}

// ServiceGateway is the bookkeeping surface used by tooling and tests.
type ServiceGateway interface {
	ReadRecords(ctx context.Context) ([]migration.Record, error)
	CreateMigrationsTable(ctx context.Context) error
	DropMigrationsTable(ctx context.Context) error
	ShowTables(ctx context.Context) ([]string, error)
}

// ScheduleForMigration computes the pending set: registry order is
// preserved, versions with a committed record are skipped, nothing is
// ever re-sorted by another criterion. Expects migrations sorted
// ascending by version.
func ScheduleForMigration(
	migrations migration.Migrations,
	records []migration.Record,
	p Plan,
) migration.Migrations {
	var scheduled migration.Migrations

	for i := range migrations {
		if p.Target != 0 && migrations[i].Version > p.Target {
			break
		}

		if migration.InRecords(migrations[i].Version, records) {
			continue
		}

		if p.Steps != 0 && len(scheduled) >= p.Steps {
			break
		}

		scheduled = append(scheduled, migrations[i])
	}

	return scheduled
}

// ScheduleForRollback selects applied versions strictly greater than
// the plan target, descending.
func ScheduleForRollback(
	migrations migration.Migrations,
	records []migration.Record,
	p Plan,
) migration.Migrations {
	var scheduled migration.Migrations

	for i := len(migrations) - 1; i >= 0; i-- {
		if migrations[i].Version <= p.Target {
			break
		}

		if !migration.InRecords(migrations[i].Version, records) {
			continue
		}

		if p.Steps != 0 && len(scheduled) >= p.Steps {
			break
		}

		scheduled = append(scheduled, migrations[i])
	}

	return scheduled
}

// ValidateRollback rejects a rollback request before any mutation when
// a scheduled unit is forward-only.
func ValidateRollback(scheduled migration.Migrations) error {
	for i := range scheduled {
		if !scheduled[i].CanRollback() {
			return errors.Wrapf(ErrNoRollbackDefined, "[%s]", scheduled[i].Key())
		}
	}

	return nil
}
