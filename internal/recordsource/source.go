package recordsource

import (
	"context"
	"errors"
)

// RawRecord is one record as extracted from the remote feed, before the
// reconciler maps it onto a ShipmentRecord.
type RawRecord map[string]any

// RecordSource retrieves all currently-eligible records as of now. It never
// mutates persisted state; its only side effects are network I/O.
type RecordSource interface {
	FetchAll(ctx context.Context) ([]RawRecord, error)
}

// ErrSourceUnavailable is returned when authentication cannot be established
// or the remote resource stays unreachable after the single re-auth retry.
var ErrSourceUnavailable = errors.New("record source unavailable")

// errSessionExpired signals that the remote considered the session stale
// (401 or a redirect to the login surface). Internal to the page loop, which
// reacts by re-authenticating once.
var errSessionExpired = errors.New("session expired")
