package migration

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
)

var ErrInvalidVersion = errors.New("invalid migration version")
var ErrInvalidName = errors.New("invalid migration name")

// Version identifies a single schema change. Versions form a strict
// total order across the registry.
type Version uint64

func (v Version) String() string {
	return fmt.Sprintf("%03d", uint64(v))
}

// VersionFromString parses a version out of a string such as "4",
// "004" or a full key like "004_change_approved_to_string".
func VersionFromString(s string) (Version, error) {
	if i := strings.IndexByte(s, '_'); i >= 0 {
		s = s[:i]
	}

	var n uint64
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil || n == 0 {
		return 0, errors.Wrapf(ErrInvalidVersion, "[%s]", s)
	}

	return Version(n), nil
}

// Record is one row of the bookkeeping store: a version whose forward
// change has been durably committed.
type Record struct {
	Version   Version
	Name      string
	AppliedAt time.Time
}

// Executor is the subset of *sql.Tx a migration body needs. Bodies
// always run inside a transaction opened by the runner.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// Func is a migration body expressed as Go code instead of SQL scripts.
type Func func(ctx context.Context, ex Executor) error

type (
	Migration struct {
		Version    Version
		Name       string
		Migrate    []string
		Rollback   []string
		MigrateFn  Func
		RollbackFn Func
	}

	Factory func() (*Migration, error)
)

// New creates a factory for a script based migration. An empty rollback
// slice makes the migration forward-only.
func New(version Version, name string, migrate, rollback []string) Factory {
	return func() (*Migration, error) {
		m := &Migration{
			Version:  version,
			Name:     name,
			Migrate:  migrate,
			Rollback: rollback,
		}

		if err := m.validate(); err != nil {
			return nil, err
		}

		return m, nil
	}
}

// NewFunc creates a factory for a migration whose bodies are Go
// functions. A nil down makes the migration forward-only.
func NewFunc(version Version, name string, up, down Func) Factory {
	return func() (*Migration, error) {
		m := &Migration{
			Version:    version,
			Name:       name,
			MigrateFn:  up,
			RollbackFn: down,
		}

		if err := m.validate(); err != nil {
			return nil, err
		}

		return m, nil
	}
}

func (m *Migration) validate() error {
	if m.Version == 0 {
		return errors.Wrapf(ErrInvalidVersion, "name [%s]", m.Name)
	}

	if m.Name == "" {
		return errors.Wrapf(ErrInvalidName, "version [%d]", m.Version)
	}

	return nil
}

// Key combines version and name the way the bookkeeping and the logs
// refer to a migration, e.g. 001_create_users_table.
func (m *Migration) Key() string {
	return m.Version.String() + "_" + strings.Replace(strings.ToLower(m.Name), " ", "_", -1)
}

// HasForward reports whether the migration carries any forward change.
func (m *Migration) HasForward() bool {
	return m.MigrateFn != nil || len(m.Migrate) > 0
}

// CanRollback reports whether a reverse procedure was defined.
func (m *Migration) CanRollback() bool {
	return m.RollbackFn != nil || len(m.Rollback) > 0
}

func (m *Migration) Apply(ctx context.Context, ex Executor) error {
	if m.MigrateFn != nil {
		return m.MigrateFn(ctx, ex)
	}

	for i := range m.Migrate {
		if _, err := ex.ExecContext(ctx, m.Migrate[i]); err != nil {
			return errors.Wrapf(err, "could not run migration [%s]", m.Key())
		}
	}

	return nil
}

func (m *Migration) Revert(ctx context.Context, ex Executor) error {
	if m.RollbackFn != nil {
		return m.RollbackFn(ctx, ex)
	}

	for i := range m.Rollback {
		if _, err := ex.ExecContext(ctx, m.Rollback[i]); err != nil {
			return errors.Wrapf(err, "could not rollback migration [%s]", m.Key())
		}
	}

	return nil
}

type Migrations []*Migration

func NewMigrations(factories ...Factory) (Migrations, error) {
	migrations := make(Migrations, len(factories))

	for i := range factories {
		m, err := factories[i]()
		if err != nil {
			return nil, err
		}

		migrations[i] = m
	}

	return migrations, nil
}

func (m Migrations) Keys() (result []string) {
	for i := range m {
		result = append(result, m[i].Key())
	}
	return result
}

func (m Migrations) Versions() (result []Version) {
	for i := range m {
		result = append(result, m[i].Version)
	}
	return result
}

func (m Migrations) Len() int {
	return len(m)
}

func (m Migrations) Less(i, j int) bool {
	return m[i].Version < m[j].Version
}

func (m Migrations) Swap(i, j int) {
	m[i], m[j] = m[j], m[i]
}

// InRecords reports whether version has a committed bookkeeping record.
func InRecords(version Version, records []Record) bool {
	for _, r := range records {
		if r.Version == version {
			return true
		}
	}

	return false
}
