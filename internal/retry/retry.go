package retry

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

var ErrTooManyAttempts = errors.New("too many retry attempts")

type Callable func(attempt int) error

type retryableError struct {
	error
}

// Again marks err as retryable. Callables returning a plain error
// abort the loop immediately.
func Again(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{error: err}
}

type Attempts interface {
	Next() (time.Duration, bool)
	Current() int
}

func Start(ctx context.Context, a Attempts, cb Callable) error {
	for {
		err := cb(a.Current())
		if err == nil {
			return nil
		}

		var re *retryableError
		if !errors.As(err, &re) {
			return errors.Wrapf(err, "attempt %d failed", a.Current())
		}

		next, stop := a.Next()
		if stop {
			return errors.Wrap(ErrTooManyAttempts, re.Error())
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(next):
			continue
		}
	}
}

func Incremental(ctx context.Context, step time.Duration, maxAttempts int, cb Callable) error {
	return Start(ctx, IncrementalAttempts(step, maxAttempts), cb)
}

type incrementalAttempts struct {
	mu   sync.Mutex
	prev time.Duration
	step time.Duration
	max  int
	curr int
}

func IncrementalAttempts(step time.Duration, max int) Attempts {
	return &incrementalAttempts{step: step, max: max, curr: 1}
}

func (a *incrementalAttempts) Next() (time.Duration, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.curr++
	if a.curr > a.max {
		return 0, true
	}

	a.prev += a.step
	return a.prev, false
}

func (a *incrementalAttempts) Current() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.curr
}
