//go:build !unix

package signals

import "os"

// ShutdownSignals returns the signals that stop serve. Only Interrupt
// exists off Unix.
func ShutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}

// ReloadSignals is empty off Unix; edit the config file instead.
func ReloadSignals() []os.Signal {
	return nil
}
