// Package retry executes network operations with bounded retries, a
// per-attempt timeout, and exponential backoff between attempts.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// HTTPError reports a non-2xx response status. It is retried identically to
// a transport-level failure.
type HTTPError struct {
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}

// Operation performs one network attempt and reports the response status and
// body. A non-2xx status should be returned as an *HTTPError alongside the
// status code so callers can distinguish HTTP failure from transport failure.
type Operation func(ctx context.Context) (status int, body []byte, err error)

// Policy bounds an execution: MaxRetries additional attempts after the
// first, delayed by BaseDelay * 2^attempt, each attempt capped at Timeout.
//
// The schedule carries no jitter so the observable delays stay exactly
// base, 2*base, 4*base. Production hardening may want randomization; see
// the open question recorded in DESIGN.md.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	Timeout    time.Duration
}

// Outcome is the terminal result of an execution. Err is nil only when some
// attempt succeeded; after exhaustion it carries the last attempt's error
// and StatusCode is 0.
type Outcome struct {
	Data       []byte
	StatusCode int
	Err        error
	Attempts   int
}

// Executor runs operations under a Policy. The zero value is not usable;
// construct with New.
type Executor struct {
	logger *slog.Logger
}

// New creates an Executor.
func New(logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{logger: logger}
}

// Execute runs op under p. It never panics and never returns a partial
// success: either some attempt's data and status, or the last error with
// status 0.
func (e *Executor) Execute(ctx context.Context, op Operation, p Policy) Outcome {
	schedule := newSchedule(p.BaseDelay)

	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		attempts++
		status, body, err := e.attempt(ctx, op, p.Timeout)
		if err == nil {
			return Outcome{Data: body, StatusCode: status, Attempts: attempts}
		}
		lastErr = err

		if attempt < p.MaxRetries {
			delay := schedule.NextBackOff()
			e.logger.Warn("request attempt failed, retrying",
				slog.String("error", err.Error()),
				slog.Int("attempt", attempts),
				slog.Duration("delay", delay))

			select {
			case <-ctx.Done():
				return Outcome{Err: ctx.Err(), Attempts: attempts}
			case <-time.After(delay):
			}
		}
	}

	return Outcome{Err: lastErr, Attempts: attempts}
}

// attempt runs a single try under the per-attempt timeout.
func (e *Executor) attempt(ctx context.Context, op Operation, timeout time.Duration) (int, []byte, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	status, body, err := op(ctx)
	if err != nil {
		return 0, nil, err
	}
	if status < 200 || status >= 300 {
		return 0, nil, &HTTPError{StatusCode: status}
	}
	return status, body, nil
}

// newSchedule builds the backoff source: base * 2^attempt, no jitter, no
// elapsed-time cutoff (the retry count is the only bound).
func newSchedule(base time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = 1 << 40 // effectively uncapped; the retry count bounds us
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
