package presence

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingContext is logged when a snapshot arrives without a community.
	ErrMissingContext = errors.New("no community context available for snapshot")
	// ErrNoContext is returned by roster queries made outside a community.
	ErrNoContext = errors.New("must be used in a monitored community")
	// ErrNotMonitored is returned by roster queries made in a community other
	// than the one being tracked.
	ErrNotMonitored = errors.New("this community is not the one being monitored")
)

// LookupError reports a failed display name lookup during a roster query.
type LookupError struct {
	ID  EntityID
	Err error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("lookup %s: %v", e.ID, e.Err)
}

func (e *LookupError) Unwrap() error {
	return e.Err
}
