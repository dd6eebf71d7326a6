//go:build !unix

package shutdown

import "os"

// shutdownSignals returns the signals that start shutdown. Only Interrupt is
// available on non-Unix platforms.
func shutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}
