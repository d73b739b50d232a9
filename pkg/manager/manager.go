package manager

import (
	"context"

	"github.com/Phillezi/daemonutils/pkg/terminator"

	"github.com/tedsuo/ifrit"
)

// StopHandler is implemented by anything that can receive a stop request.
// Stop must not block; it asks the component to cancel pending work, shut
// itself down and release its termination token.
type StopHandler interface {
	Stop()
}

// Manager controls the shutdown lifecycle of a daemon and its signal
// handling. Run must be called from the main goroutine; for a manager
// driven by someone else see Coordinator.
type Manager interface {
	Coordinator
	// Start begins listening for termination signals and stop events.
	Start() error
	// Run starts the manager and blocks until every token owner has
	// released its reference.
	Run() error
	// Runner exposes the manager as an ifrit process.
	Runner() ifrit.Runner
}

// Coordinator is the part of a Manager handed to code that registers
// runners.
type Coordinator interface {
	Graceful
	// Subscribe registers h to receive the stop request broadcast. It
	// returns the coordinator so registrations can be chained.
	Subscribe(h StopHandler) Coordinator
	// Trigger requests shutdown from inside the process. It never blocks
	// and may be called any number of times.
	Trigger()
	// Context returns a context that is cancelled when shutdown begins.
	Context() context.Context
}

// Graceful tracks the owners that must finish before termination.
type Graceful interface {
	// CloneToken mints a new reference on the termination token. The owner
	// must Release it when it has stopped.
	CloneToken() *terminator.Token

	// Add registers an owner and returns the function that releases it.
	Add() DoneFunc

	// Go runs f on a new goroutine that holds a token reference until f
	// returns. f receives Context.
	Go(f func(ctx context.Context))

	// Wait returns a channel that is closed once the termination action ran.
	Wait() <-chan struct{}

	// Done reports whether termination has happened.
	Done() bool
}

// DoneFunc signals that a registered owner has completed shutdown.
type DoneFunc func()
