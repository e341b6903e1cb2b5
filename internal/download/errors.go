package download

import (
	"errors"
	"fmt"
)

// ErrCanceled is the terminal state of an explicitly canceled
// download. It is distinct from failure so callers can report it
// without alarming the user.
var ErrCanceled = errors.New("download canceled")

// InProgressError rejects a second download for a tool that already
// has one in flight.
type InProgressError struct {
	Tool          string
	ActiveVersion string
}

func (e *InProgressError) Error() string {
	return fmt.Sprintf("%s: download of %s already in progress", e.Tool, e.ActiveVersion)
}
