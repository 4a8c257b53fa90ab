// Package request provides the unified request contract for the fleetcore
// data-access layer: cache lookup, read deduplication, retry with backoff,
// and offline capture of mutations, behind one call that never panics and
// never returns an unhandled failure.
package request

import (
	"errors"
	"time"
)

// Errors surfaced through Result.Err. Network and HTTP failures come
// wrapped from the retry executor; these sentinels cover the offline paths.
var (
	// ErrOfflineNoCache is returned for a read attempted offline with
	// nothing cached. It is never retried.
	ErrOfflineNoCache = errors.New("offline and no cached value available")

	// ErrOfflineMutation is returned for a mutation attempted offline with
	// offline capture disabled.
	ErrOfflineMutation = errors.New("offline and mutation queueing disabled")
)

// Result is the uniform outcome of every coordinated request. All failure
// is carried in Err; the coordinator's public surface never panics.
type Result struct {
	// Data is the opaque response body, nil on failure.
	Data []byte

	// Err is the typed failure, nil on success or when the request was
	// queued for later replay.
	Err error

	// StatusCode is the HTTP status of the successful attempt, 202 for a
	// queued mutation, and 0 after retry exhaustion or an offline miss.
	StatusCode int

	// ServedFromCache reports that Data came from the response cache with
	// no network access.
	ServedFromCache bool

	// Queued reports that the mutation was captured by the offline queue
	// and will be replayed on reconnect. QueuedID identifies the pending
	// mutation.
	Queued   bool
	QueuedID string

	// Timestamp records when the result was produced.
	Timestamp time.Time
}

// OK reports whether the request produced a usable outcome: a response,
// a cache hit, or offline acceptance.
func (r Result) OK() bool {
	return r.Err == nil
}
