package system

import (
	"os"

	clog "github.com/charmbracelet/log"
)

// Logger is the shared application logger for CLI output.
// It prints to stderr with timestamps enabled for better UX.
var Logger = clog.NewWithOptions(os.Stderr, clog.Options{
	ReportTimestamp: true,
})

// SetVerbose switches the shared logger to debug level.
func SetVerbose(v bool) {
	if v {
		Logger.SetLevel(clog.DebugLevel)
	} else {
		Logger.SetLevel(clog.InfoLevel)
	}
}

// IsElevated reports whether the process runs with root privileges.
// Machine-scope environment mutation requires it.
func IsElevated() bool {
	return os.Geteuid() == 0
}
