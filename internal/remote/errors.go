package remote

import (
	"fmt"
	"strings"
)

// Attempt records one failed mirror try.
type Attempt struct {
	Mirror string
	Err    error
}

// MirrorsExhaustedError reports that every configured mirror failed for
// a fetch or download. It carries the full attempt list so the failure
// can be surfaced mirror by mirror.
type MirrorsExhaustedError struct {
	Tool     string
	Attempts []Attempt
}

func (e *MirrorsExhaustedError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: all %d mirrors failed", e.Tool, len(e.Attempts))
	for _, a := range e.Attempts {
		fmt.Fprintf(&b, "; %s: %v", a.Mirror, a.Err)
	}
	return b.String()
}
