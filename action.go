package strata

import "github.com/stratadb/strata/migration"

type ActionConfigurator func(a *Action)

// Action bounds a single run. A zero target means latest when
// migrating and a full unwind when rolling back.
type Action struct {
	steps  int
	target migration.Version
}

// WithSteps limits the run to n migrations.
func WithSteps(n int) ActionConfigurator {
	return func(a *Action) {
		a.steps = n
	}
}

// WithTarget stops a migration run after the given version, or keeps
// every version up to and including it during a rollback.
func WithTarget(v migration.Version) ActionConfigurator {
	return func(a *Action) {
		a.target = v
	}
}
