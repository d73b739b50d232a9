// Package logging builds the logr.Logger values used across this module.
package logging

import (
	"io"
	"log"
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
)

// Discard returns a logger that drops everything.
// It is the default for every type in this module.
func Discard() logr.Logger {
	return logr.Discard()
}

// New returns a stdr-backed logger writing to w (stderr when nil).
// Messages logged at V(n) are emitted when n <= verbosity.
func New(w io.Writer, verbosity int) logr.Logger {
	if w == nil {
		w = os.Stderr
	}
	stdr.SetVerbosity(verbosity)
	return stdr.NewWithOptions(log.New(w, "", log.LstdFlags), stdr.Options{LogCaller: stdr.None})
}

// Named returns l with name appended, or l itself when name is empty.
func Named(l logr.Logger, name string) logr.Logger {
	if name == "" {
		return l
	}
	return l.WithName(name)
}
