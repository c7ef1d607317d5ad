package database

import "context"

// locker serializes whole migration runs racing against the same
// database. Implementations use the engine's advisory lock primitive.
type locker interface {
	lock(ctx context.Context, ex ctxExecutor) error
	unlock(ctx context.Context, ex ctxExecutor) error
}

// nullLocker is used for engines without an advisory lock, where the
// conflict-ignoring bookkeeping insert alone arbitrates races.
type nullLocker struct{}

func (nullLocker) lock(context.Context, ctxExecutor) error { return nil }

func (nullLocker) unlock(context.Context, ctxExecutor) error { return nil }
