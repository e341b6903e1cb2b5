package config

import "fmt"

// ConfigError reports an unreadable or malformed persisted config. It
// is recoverable: the store falls back to the bundled defaults and
// stays usable.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %v (using defaults)", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// FilesystemError reports a failed write to durable storage. The prior
// persisted file is left untouched.
type FilesystemError struct {
	Op   string
	Path string
	Err  error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error { return e.Err }

// DuplicateToolError reports an AddTool for a name that already has a
// template.
type DuplicateToolError struct {
	Name string
}

func (e *DuplicateToolError) Error() string {
	return fmt.Sprintf("tool %q already configured", e.Name)
}
