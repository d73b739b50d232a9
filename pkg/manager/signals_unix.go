//go:build unix

package manager

import (
	"os"
	"syscall"
)

// defaultSignals are the OS signals that trigger a graceful shutdown.
var defaultSignals = []os.Signal{syscall.SIGHUP, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM}
