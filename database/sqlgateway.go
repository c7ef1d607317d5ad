package database

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
	"github.com/stratadb/strata/internal/logger"
	"github.com/stratadb/strata/migration"
)

type dialect interface {
	createStoreQuery() string
	dropStoreQuery() string
	insertRecordQuery() string
	removeRecordQuery() string
	readRecordsQuery() string
	showTablesQuery() string
}

// SQLGateway runs migrations over a single pinned connection. Every
// unit gets its own transaction; the whole run is serialized by the
// engine's advisory lock where one exists.
type SQLGateway struct {
	db      *sql.DB
	conn    *sql.Conn
	lg      logger.Logger
	locker  locker
	dialect dialect
}

var _ Gateway = (*SQLGateway)(nil)

func newSQLGateway(db *sql.DB, connector connector, d dialect, l locker) (*SQLGateway, error) {
	ctx, cancel := context.WithTimeout(context.Background(), connector.timeout())
	defer cancel()

	conn, err := connector.connect(ctx, db)
	if err != nil {
		return nil, err
	}

	return &SQLGateway{
		db:      db,
		conn:    conn,
		lg:      &logger.NullLogger{},
		locker:  l,
		dialect: d,
	}, nil
}

func (g *SQLGateway) Close() error {
	if g.conn != nil {
		return g.conn.Close()
	}

	return nil
}

func (g *SQLGateway) SetLogger(lg logger.Logger) {
	g.lg = lg
}

// Migrate applies every scheduled unit in ascending order, one
// transaction per unit. A failing unit halts the run; units committed
// before it stay applied and are returned alongside the error.
func (g *SQLGateway) Migrate(
	ctx context.Context,
	migrations migration.Migrations,
	p Plan,
) (migration.Migrations, error) {
	var migrated migration.Migrations

	f := func() error {
		records, err := g.readRecords(ctx)
		if err != nil {
			return err
		}

		scheduled := ScheduleForMigration(migrations, records, p)
		if len(scheduled) == 0 {
			g.lg.Debugf("nothing to migrate")
			return nil
		}

		for i := range scheduled {
			applied, err := g.migrateOne(ctx, scheduled[i])
			if err != nil {
				return err
			}

			if !applied {
				g.lg.Debugf("version %s already applied by another runner, skipping", scheduled[i].Version)
				continue
			}

			g.lg.Successf("migrated: %s", scheduled[i].Key())
			migrated = append(migrated, scheduled[i])
		}

		return nil
	}

	if err := g.execUnderLock(ctx, OperationMigrate, f); err != nil {
		return migrated, err
	}

	return migrated, nil
}

// Rollback reverts applied units strictly above the plan target in
// descending order. The whole request is rejected before any mutation
// if a scheduled unit is forward-only.
func (g *SQLGateway) Rollback(
	ctx context.Context,
	migrations migration.Migrations,
	p Plan,
) (migration.Migrations, error) {
	var rolledBack migration.Migrations

	f := func() error {
		records, err := g.readRecords(ctx)
		if err != nil {
			return err
		}

		scheduled := ScheduleForRollback(migrations, records, p)
		if len(scheduled) == 0 {
			g.lg.Debugf("nothing to rollback")
			return nil
		}

		if err := ValidateRollback(scheduled); err != nil {
			return err
		}

		for i := range scheduled {
			g.lg.Debugf("rolling back: %s", scheduled[i].Key())
			if err := g.rollbackOne(ctx, scheduled[i]); err != nil {
				return err
			}

			g.lg.Successf("rolled back: %s", scheduled[i].Key())
			rolledBack = append(rolledBack, scheduled[i])
		}

		return nil
	}

	if err := g.execUnderLock(ctx, OperationRollback, f); err != nil {
		return rolledBack, err
	}

	return rolledBack, nil
}

// Refresh reverts everything applied and then migrates the full set
// again, all under one lock acquisition.
func (g *SQLGateway) Refresh(
	ctx context.Context,
	migrations migration.Migrations,
	p Plan,
) (migration.Migrations, migration.Migrations, error) {
	var rolledBack migration.Migrations
	var migrated migration.Migrations

	f := func() error {
		records, err := g.readRecords(ctx)
		if err != nil {
			return err
		}

		scheduled := ScheduleForRollback(migrations, records, p)
		if err := ValidateRollback(scheduled); err != nil {
			return err
		}

		for i := range scheduled {
			if err := g.rollbackOne(ctx, scheduled[i]); err != nil {
				return err
			}

			g.lg.Successf("rolled back: %s", scheduled[i].Key())
			rolledBack = append(rolledBack, scheduled[i])
		}

		for i := len(scheduled) - 1; i >= 0; i-- {
			applied, err := g.migrateOne(ctx, scheduled[i])
			if err != nil {
				return err
			}

			if applied {
				g.lg.Successf("migrated: %s", scheduled[i].Key())
				migrated = append(migrated, scheduled[i])
			}
		}

		return nil
	}

	if err := g.execUnderLock(ctx, OperationRefresh, f); err != nil {
		return rolledBack, migrated, err
	}

	return rolledBack, migrated, nil
}

// ResetVersion removes the bookkeeping record for one applied version
// without touching the schema. It exists as the audited replacement for
// deleting rows from the store by hand; the next run will reapply the
// unit.
func (g *SQLGateway) ResetVersion(ctx context.Context, v migration.Version) error {
	f := func() error {
		records, err := g.readRecords(ctx)
		if err != nil {
			return err
		}

		if !migration.InRecords(v, records) {
			return errors.Wrapf(ErrVersionNotApplied, "[%s]", v)
		}

		tx, err := g.conn.BeginTx(ctx, &sql.TxOptions{})
		if err != nil {
			return errors.Wrap(err, "could not start reset transaction")
		}

		query := g.dialect.removeRecordQuery()
		g.lg.SQL(query, v)

		if _, err := tx.ExecContext(ctx, query, int64(v)); err != nil {
			_ = tx.Rollback()
			return &MigrationFailedError{Version: v, Op: OperationReset, Err: err}
		}

		if err := tx.Commit(); err != nil {
			_ = tx.Rollback()
			return &MigrationFailedError{Version: v, Op: OperationReset, Err: err}
		}

		g.lg.Successf("force reset version %s, it will be reapplied on the next run", v)
		return nil
	}

	return g.execUnderLock(ctx, OperationReset, f)
}

func (g *SQLGateway) ReadRecords(ctx context.Context) ([]migration.Record, error) {
	return g.readRecords(ctx)
}

func (g *SQLGateway) CreateMigrationsTable(ctx context.Context) error {
	query := g.dialect.createStoreQuery()
	g.lg.SQL(query)

	if _, err := g.conn.ExecContext(ctx, query); err != nil {
		return errors.Wrap(err, "could not create migrations table")
	}

	return nil
}

func (g *SQLGateway) DropMigrationsTable(ctx context.Context) error {
	query := g.dialect.dropStoreQuery()
	g.lg.SQL(query)

	if _, err := g.conn.ExecContext(ctx, query); err != nil {
		return errors.Wrap(err, "could not drop migrations table")
	}

	return nil
}

func (g *SQLGateway) ShowTables(ctx context.Context) ([]string, error) {
	rows, err := g.conn.QueryContext(ctx, g.dialect.showTablesQuery())
	if err != nil {
		return nil, errors.Wrap(err, "could not list tables")
	}

	defer rows.Close()

	var result []string
	for rows.Next() {
		var table string
		if err := rows.Scan(&table); err != nil {
			return result, err
		}
		result = append(result, table)
	}

	return result, rows.Err()
}

// migrateOne applies a single unit in its own transaction. Applying the
// schema change and inserting the bookkeeping record either both commit
// or both roll back. The insert ignores a conflicting record: zero rows
// affected means another runner committed this version first, in which
// case the transaction is abandoned and no error is reported.
func (g *SQLGateway) migrateOne(ctx context.Context, m *migration.Migration) (bool, error) {
	tx, err := g.conn.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return false, errors.Wrapf(err, "could not start transaction for version %s", m.Version)
	}

	if err := m.Apply(ctx, tx); err != nil {
		_ = tx.Rollback()
		return false, &MigrationFailedError{Version: m.Version, Op: OperationMigrate, Err: err}
	}

	query := g.dialect.insertRecordQuery()
	g.lg.SQL(query, int64(m.Version), m.Name)

	res, err := tx.ExecContext(ctx, query, int64(m.Version), m.Name)
	if err != nil {
		_ = tx.Rollback()
		return false, &MigrationFailedError{Version: m.Version, Op: OperationMigrate, Err: err}
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		_ = tx.Rollback()
		return false, nil
	}

	if err := tx.Commit(); err != nil {
		_ = tx.Rollback()
		return false, &MigrationFailedError{Version: m.Version, Op: OperationMigrate, Err: err}
	}

	return true, nil
}

func (g *SQLGateway) rollbackOne(ctx context.Context, m *migration.Migration) error {
	tx, err := g.conn.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return errors.Wrapf(err, "could not start transaction for version %s", m.Version)
	}

	if err := m.Revert(ctx, tx); err != nil {
		_ = tx.Rollback()
		return &MigrationFailedError{Version: m.Version, Op: OperationRollback, Err: err}
	}

	query := g.dialect.removeRecordQuery()
	g.lg.SQL(query, int64(m.Version))

	if _, err := tx.ExecContext(ctx, query, int64(m.Version)); err != nil {
		_ = tx.Rollback()
		return &MigrationFailedError{Version: m.Version, Op: OperationRollback, Err: err}
	}

	if err := tx.Commit(); err != nil {
		_ = tx.Rollback()
		return &MigrationFailedError{Version: m.Version, Op: OperationRollback, Err: err}
	}

	return nil
}

func (g *SQLGateway) readRecords(ctx context.Context) ([]migration.Record, error) {
	query := g.dialect.readRecordsQuery()
	g.lg.SQL(query)

	rows, err := g.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "could not read applied versions")
	}

	defer rows.Close()

	var records []migration.Record
	for rows.Next() {
		var r migration.Record
		var v int64
		if err := rows.Scan(&v, &r.Name, &r.AppliedAt); err != nil {
			return records, errors.Wrap(err, "could not scan applied version row")
		}

		r.Version = migration.Version(v)
		records = append(records, r)
	}

	return records, rows.Err()
}

// execUnderLock serializes a whole run against concurrent deployments
// and lazily creates the bookkeeping store before handing control to f.
func (g *SQLGateway) execUnderLock(ctx context.Context, operation string, f func() error) error {
	if err := g.locker.lock(ctx, g.conn); err != nil {
		return errors.Wrapf(err, "could not acquire lock for [%s]", operation)
	}

	if err := g.CreateMigrationsTable(ctx); err != nil {
		if unlockErr := g.locker.unlock(ctx, g.conn); unlockErr != nil {
			err = errors.Wrap(err, unlockErr.Error())
		}

		return err
	}

	if err := f(); err != nil {
		if unlockErr := g.locker.unlock(ctx, g.conn); unlockErr != nil {
			err = errors.Wrap(err, unlockErr.Error())
		}

		return err
	}

	return g.locker.unlock(ctx, g.conn)
}
