// Package runner schedules externally supplied task units.
//
// Two variants are provided. A Loop invokes its task repeatedly and lets the
// task's return value choose the delay before the next invocation. A Delay
// hands work to a task unit's inbox and waits for the task to message back,
// through a Handle, when it wants to run again.
//
// Every runner owns one clone of a terminator.Token and releases it exactly
// once when it terminates. Stop is the stop request: it never blocks, may be
// called at any time and any number of times, and guarantees that no
// scheduled invocation fires afterwards.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Phillezi/daemonutils/pkg/logging"
	"github.com/Phillezi/daemonutils/pkg/metrics"
	"github.com/Phillezi/daemonutils/pkg/terminator"

	"code.cloudfoundry.org/clock"
	"github.com/go-logr/logr"
	"github.com/google/uuid"
)

var (
	// ErrAlreadyStarted is returned by Start on a runner that is running.
	ErrAlreadyStarted = errors.New("runner already started")

	// ErrStopped is returned by Start on a runner that has been stopped.
	ErrStopped = errors.New("runner stopped")
)

// Option configures a runner.
type Option func(*base)

// WithName sets the name used in logs and metrics.
func WithName(name string) Option {
	return func(b *base) {
		b.name = name
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logr.Logger) Option {
	return func(b *base) {
		b.logger = l
	}
}

// WithClock sets the clock used for scheduling (useful for tests).
func WithClock(c clock.Clock) Option {
	return func(b *base) {
		b.clock = c
	}
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *base) {
		b.metrics = m
	}
}

const (
	stateNew int32 = iota
	stateRunning
	stateStopped
)

// base carries the lifecycle shared by both runner variants.
type base struct {
	id      string
	kind    string
	name    string
	logger  logr.Logger
	clock   clock.Clock
	metrics *metrics.Metrics
	token   *terminator.Token

	ctx    context.Context
	cancel context.CancelFunc

	state    atomic.Int32
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func (b *base) init(kind string, token *terminator.Token, opts []Option) {
	b.id = uuid.NewString()
	b.kind = kind
	b.name = fmt.Sprintf("%s-%s", kind, b.id[:8])
	b.logger = logging.Discard()
	b.clock = clock.NewClock()
	b.token = token
	b.stopCh = make(chan struct{})
	b.doneCh = make(chan struct{})
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.WithValues("runner", b.name, "id", b.id)
	b.ctx, b.cancel = context.WithCancel(context.Background())
}

// ID returns the runner's unique identifier.
func (b *base) ID() string {
	return b.id
}

// Name returns the runner's name.
func (b *base) Name() string {
	return b.name
}

// Stop requests the runner to cancel pending work and terminate.
// It does not wait; use Done to observe termination.
func (b *base) Stop() {
	b.stopOnce.Do(func() {
		b.logger.V(1).Info("stop requested")
		b.cancel()
		close(b.stopCh)
	})
	// never started: nobody else will release the token
	if b.state.CompareAndSwap(stateNew, stateStopped) {
		b.finish()
	}
}

// Done returns a channel that is closed once the runner has terminated and
// released its token.
func (b *base) Done() <-chan struct{} {
	return b.doneCh
}

func (b *base) start(run func()) error {
	if b.state.CompareAndSwap(stateNew, stateRunning) {
		b.logger.Info("runner started")
		go func() {
			defer b.finish()
			run()
		}()
		return nil
	}
	if b.state.Load() == stateRunning {
		return ErrAlreadyStarted
	}
	return ErrStopped
}

func (b *base) finish() {
	b.state.Store(stateStopped)
	b.cancel()
	if b.token != nil {
		b.token.Release()
	}
	close(b.doneCh)
	b.logger.Info("runner stopped")
}

func (b *base) stopping() bool {
	select {
	case <-b.stopCh:
		return true
	default:
		return false
	}
}

// wait blocks for d on the runner's clock. It returns false when a stop
// request arrived first; the timer is cancelled in that case.
func (b *base) wait(d time.Duration) bool {
	t := b.clock.NewTimer(d)
	select {
	case <-b.stopCh:
		t.Stop()
		return false
	case <-t.C():
		return true
	}
}
