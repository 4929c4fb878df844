//go:build unix

package signals

import (
	"os"
	"syscall"
)

// ShutdownSignals returns the signals that stop serve. SIGTERM comes from
// process managers.
func ShutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt, syscall.SIGTERM}
}

// ReloadSignals returns the signals that make serve re-read its config.
func ReloadSignals() []os.Signal {
	return []os.Signal{syscall.SIGHUP}
}
