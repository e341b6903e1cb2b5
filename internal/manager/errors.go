package manager

import "fmt"

// VersionNotFoundError rejects an operation on a version the tool does
// not have installed (or a tool that is not configured).
type VersionNotFoundError struct {
	Tool    string
	Version string
}

func (e *VersionNotFoundError) Error() string {
	if e.Version == "" {
		return fmt.Sprintf("tool not configured: %s", e.Tool)
	}
	return fmt.Sprintf("%s %s is not installed", e.Tool, e.Version)
}

// InvalidStateError rejects an operation that would violate a locked,
// current or system invariant.
type InvalidStateError struct {
	Tool    string
	Version string
	Reason  string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Tool, e.Version, e.Reason)
}
