package registry

import (
	"sort"

	"github.com/pkg/errors"
	"github.com/stratadb/strata/migration"
)

var ErrDuplicateVersion = errors.New("duplicate migration version")
var ErrNoForwardChange = errors.New("migration defines no forward change")
var ErrVersionNotFound = errors.New("migration version not found")
var ErrNoMigrations = errors.New("no migrations registered")

// Registry holds the authoritative ordered set of migration units.
// It is built once from an explicit registration list and validated
// eagerly, so ordering and uniqueness problems surface before any
// database interaction.
type Registry struct {
	migrations migration.Migrations
	byVersion  map[migration.Version]*migration.Migration
}

func New(factories ...migration.Factory) (*Registry, error) {
	migrations, err := migration.NewMigrations(factories...)
	if err != nil {
		return nil, err
	}

	byVersion := make(map[migration.Version]*migration.Migration, len(migrations))
	for _, m := range migrations {
		if !m.HasForward() {
			return nil, errors.Wrapf(ErrNoForwardChange, "[%s]", m.Key())
		}

		if _, ok := byVersion[m.Version]; ok {
			return nil, errors.Wrapf(ErrDuplicateVersion, "[%s]", m.Key())
		}

		byVersion[m.Version] = m
	}

	sort.Sort(migrations)

	return &Registry{migrations: migrations, byVersion: byVersion}, nil
}

// All returns every registered migration sorted ascending by version.
// The result is a copy; the registry itself never changes after New.
func (r *Registry) All() migration.Migrations {
	out := make(migration.Migrations, len(r.migrations))
	copy(out, r.migrations)
	return out
}

func (r *Registry) Get(v migration.Version) (*migration.Migration, error) {
	m, ok := r.byVersion[v]
	if !ok {
		return nil, errors.Wrapf(ErrVersionNotFound, "[%s]", v)
	}

	return m, nil
}

func (r *Registry) Len() int {
	return len(r.migrations)
}

// Latest returns the highest registered version.
func (r *Registry) Latest() (migration.Version, error) {
	if len(r.migrations) == 0 {
		return 0, ErrNoMigrations
	}

	return r.migrations[len(r.migrations)-1].Version, nil
}
