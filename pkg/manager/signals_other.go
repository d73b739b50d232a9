//go:build !unix

package manager

import "os"

// defaultSignals are the OS signals that trigger a graceful shutdown.
var defaultSignals = []os.Signal{os.Interrupt}
