//go:build unix

package shutdown

import (
	"os"

	"golang.org/x/sys/unix"
)

// shutdownSignals returns the signals that start shutdown. On Unix this
// includes SIGTERM, the signal sent by process managers and container
// runtimes to request a graceful stop.
func shutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt, unix.SIGTERM}
}
