package service

import (
	"errors"
	"fmt"

	"fleetsync/internal/client/bolt"
	"fleetsync/internal/client/heetch"
)

var (
	// ErrSessionExpired surfaces when portal cookies are missing,
	// stale, or rejected; the caller must run the login flow.
	ErrSessionExpired = errors.New("session expired")

	// ErrDateRangeRejected means the partner refused the window
	// and the range must be split before retrying.
	ErrDateRangeRejected = errors.New("date range rejected by partner")

	// ErrLoginPending means a login was started and a second
	// factor is still outstanding.
	ErrLoginPending = errors.New("login pending second factor")

	ErrUnknownProvider = errors.New("unknown provider")
	ErrUnknownResource = errors.New("resource not supported for provider")
)

// FatalError aborts the remaining steps of a multi-resource sync: the
// later resources cannot be interpreted without the failed one.
type FatalError struct {
	Resource string
	Err      error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal %s sync failure: %v", e.Resource, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// classify maps raw client errors onto the sync taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, heetch.ErrSessionExpired) {
		return fmt.Errorf("%w: %v", ErrSessionExpired, err)
	}
	var boltErr *bolt.APIError
	if errors.As(err, &boltErr) && boltErr.IsDateRange() {
		return fmt.Errorf("%w: %v", ErrDateRangeRejected, err)
	}
	return err
}
