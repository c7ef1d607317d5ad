package strata

import (
	"github.com/stratadb/strata/internal/logger"
	"github.com/stratadb/strata/migration"
	"github.com/stratadb/strata/registry"
)

type OptionFunc func(*Migrator) error

// UseMigrations registers the explicit, statically validated migration
// list. Duplicate versions and units without a forward change are
// rejected here, before any database interaction.
func UseMigrations(factories ...migration.Factory) OptionFunc {
	return func(m *Migrator) error {
		r, err := registry.New(factories...)
		if err != nil {
			return err
		}

		m.reg = r
		return nil
	}
}

// UseRegistry installs an already built registry.
func UseRegistry(r *registry.Registry) OptionFunc {
	return func(m *Migrator) error {
		m.reg = r
		return nil
	}
}

func UseColorLogger(p logger.Printer, printSQL, printDebug bool) OptionFunc {
	return func(m *Migrator) error {
		m.lg = logger.NewColorLogger(p, printSQL, printDebug)
		return nil
	}
}

func UseLogger(p logger.Printer, printSQL, printDebug bool) OptionFunc {
	return func(m *Migrator) error {
		m.lg = logger.NewBWLogger(p, printSQL, printDebug)
		return nil
	}
}
