package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	"github.com/stratadb/strata/internal/retry"
)

type ConnectOptions struct {
	MaxAttempts int
	MaxTimeout  time.Duration
	Step        time.Duration
}

func NewDefaultConnectOptions() *ConnectOptions {
	return &ConnectOptions{
		MaxAttempts: 30,
		MaxTimeout:  30 * time.Second,
		Step:        time.Second,
	}
}

type connector interface {
	connect(ctx context.Context, db *sql.DB) (*sql.Conn, error)
	timeout() time.Duration
}

// RetryingConnector obtains a dedicated connection from the pool,
// retrying with incremental backoff while the database comes up.
type RetryingConnector struct {
	options *ConnectOptions
}

func MakeRetryingConnector(options *ConnectOptions) RetryingConnector {
	return RetryingConnector{options: options}
}

func (c RetryingConnector) timeout() time.Duration {
	return c.options.MaxTimeout
}

func (c RetryingConnector) connect(ctx context.Context, db *sql.DB) (*sql.Conn, error) {
	var conn *sql.Conn
	if err := retry.Incremental(ctx, c.options.Step, c.options.MaxAttempts, func(attempt int) error {
		var err error
		conn, err = db.Conn(ctx)
		if err != nil {
			return retry.Again(err)
		}

		if err := conn.PingContext(ctx); err != nil {
			_ = conn.Close()
			return retry.Again(err)
		}

		return nil
	}); err != nil {
		return nil, errors.Wrap(ErrConnectionFailed, err.Error())
	}

	return conn, nil
}
