package manager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync/atomic"
	"time"

	"github.com/Phillezi/daemonutils/pkg/logging"
	"github.com/Phillezi/daemonutils/pkg/metrics"
	"github.com/Phillezi/daemonutils/pkg/terminator"

	"github.com/go-logr/logr"
	"github.com/tedsuo/ifrit"
)

var (
	// ErrAlreadyStarted is returned by Start when the manager is running.
	ErrAlreadyStarted = errors.New("shutdown manager already started")

	// ErrShutdown is returned by Start after termination.
	ErrShutdown = errors.New("shutdown manager already terminated")
)

// Option defines a functional option for Manager.
type Option func(*ManagerImpl)

// ManagerImpl is the concrete implementation of Manager.
type ManagerImpl struct {
	broadcaster

	token     *terminator.Token
	parentCtx context.Context
	ctx       context.Context
	cancel    context.CancelFunc

	logger     logr.Logger
	prompt     io.Writer
	onExit     func(code int)
	signalCh   <-chan os.Signal
	signals    []os.Signal
	completion chan<- struct{}
	metrics    *metrics.Metrics

	events  chan struct{}
	started atomic.Bool
}

// NewManager creates a new manager with functional options.
func NewManager(opts ...Option) Manager {
	m := &ManagerImpl{
		broadcaster: broadcaster{stallTimeout: defaultStallTimeout},
		parentCtx:   context.Background(),
		logger:      logging.Discard(),
		signals:     defaultSignals,
		events:      make(chan struct{}, 1),
	}

	for _, opt := range opts {
		opt(m)
	}

	m.ctx, m.cancel = context.WithCancel(m.parentCtx)
	m.broadcaster.logger = m.logger
	m.broadcaster.metrics = m.metrics

	observe := terminator.WithObserver(m.metrics.SetLiveRefs)
	if m.completion != nil {
		m.token = terminator.NewWithChannel(m.completion, observe)
	} else {
		m.token = terminator.New(func() {
			m.logger.Info("all runners stopped, terminating")
		}, observe)
	}

	return m
}

// WithLogger sets a custom logger.
func WithLogger(l logr.Logger) Option {
	return func(m *ManagerImpl) {
		m.logger = l
	}
}

// WithPrompt enables prompt output to the given writer.
func WithPrompt(enabled bool, w ...io.Writer) Option {
	return func(m *ManagerImpl) {
		if enabled {
			var wr io.Writer = os.Stderr
			for _, ww := range w {
				if ww != nil {
					wr = ww
					break
				}
			}
			m.prompt = wr
		}
	}
}

// WithOnExit sets a callback invoked by Run with the exit code once
// termination happened.
func WithOnExit(f func(code int)) Option {
	return func(m *ManagerImpl) {
		m.onExit = f
	}
}

// WithSignalChannel allows using a custom channel for shutdown signals (useful for tests)
func WithSignalChannel(ch <-chan os.Signal) Option {
	return func(m *ManagerImpl) {
		m.signalCh = ch
	}
}

// WithSignals overrides the OS signals that trigger shutdown.
func WithSignals(sigs ...os.Signal) Option {
	return func(m *ManagerImpl) {
		m.signals = sigs
	}
}

// WithContext sets a parent context; cancelling it triggers shutdown.
func WithContext(ctx context.Context) Option {
	return func(mi *ManagerImpl) {
		mi.parentCtx = ctx
	}
}

// WithCompletionChannel routes termination through ch: instead of ending
// Run silently, exactly one notification is sent on ch when the last
// token reference is released, so the caller can tear down other
// resources first.
func WithCompletionChannel(ch chan<- struct{}) Option {
	return func(m *ManagerImpl) {
		m.completion = ch
	}
}

// WithStopTimeout bounds how long the broadcast waits on one subscriber's
// Stop before notifying the next one. The default is one second.
func WithStopTimeout(d time.Duration) Option {
	return func(m *ManagerImpl) {
		if d > 0 {
			m.stallTimeout = d
		}
	}
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *ManagerImpl) {
		m.metrics = mt
	}
}

// Context returns the manager's context.
func (m *ManagerImpl) Context() context.Context {
	return m.ctx
}

// Subscribe registers h for the stop request broadcast.
func (m *ManagerImpl) Subscribe(h StopHandler) Coordinator {
	m.subscribe(h)
	return m
}

// CloneToken mints a new reference on the termination token.
func (m *ManagerImpl) CloneToken() *terminator.Token {
	return m.token.Clone()
}

// Add registers an owner that must finish before termination.
func (m *ManagerImpl) Add() DoneFunc {
	return m.CloneToken().Release
}

func (m *ManagerImpl) Go(f func(ctx context.Context)) {
	tok := m.CloneToken()
	go func() {
		defer tok.Release()
		f(m.ctx)
	}()
}

// Wait returns a channel that is closed once every owner has released its
// token reference.
func (m *ManagerImpl) Wait() <-chan struct{} {
	return m.token.Done()
}

func (m *ManagerImpl) Done() bool {
	select {
	case <-m.token.Done():
		return true
	default:
		return false
	}
}

// Trigger delivers an in-process stop event.
func (m *ManagerImpl) Trigger() {
	select {
	case m.events <- struct{}{}:
	default:
	}
}

// Start registers for termination signals and starts the manager's event
// loop. Signals and stop events are handled identically.
func (m *ManagerImpl) Start() error {
	if m.Done() {
		return ErrShutdown
	}
	if !m.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	var sigCh <-chan os.Signal
	stopSignals := func() {}
	if m.signalCh != nil {
		// Use provided channel (mocked for tests)
		sigCh = m.signalCh
	} else {
		if len(m.signals) == 0 {
			m.started.Store(false)
			return fmt.Errorf("register signal handler: %w", errNoSignals)
		}
		c := make(chan os.Signal, len(m.signals))
		signal.Notify(c, m.signals...)
		stopSignals = func() { signal.Stop(c) }
		sigCh = c
	}

	m.logger.Info("shutdown manager started")
	go m.loop(sigCh, stopSignals)
	return nil
}

var errNoSignals = errors.New("no termination signals configured")

// Run starts signal monitoring and blocks until shutdown is complete.
func (m *ManagerImpl) Run() error {
	if err := m.Start(); err != nil {
		return err
	}

	<-m.Wait()

	if m.onExit != nil {
		m.onExit(0)
	}

	return nil
}

// Runner returns an ifrit.Runner that starts the manager, reports ready,
// turns ifrit signals into stop events and exits once terminated.
func (m *ManagerImpl) Runner() ifrit.Runner {
	return ifrit.RunFunc(func(signals <-chan os.Signal, ready chan<- struct{}) error {
		if err := m.Start(); err != nil {
			return err
		}
		close(ready)
		for {
			select {
			case sig := <-signals:
				m.logger.Info("received ifrit signal", "signal", sig)
				m.Trigger()
			case <-m.Wait():
				return nil
			}
		}
	})
}

func (m *ManagerImpl) loop(sigCh <-chan os.Signal, stopSignals func()) {
	defer stopSignals()

	var cause string
	select {
	case sig, ok := <-sigCh:
		cause = "signal channel closed"
		if ok {
			cause = sig.String()
		}
		m.logger.Info("received shutdown signal", "signal", cause)
	case <-m.events:
		cause = "stop requested"
		m.logger.Info("received stop event")
	case <-m.parentCtx.Done():
		cause = "context canceled"
		m.logger.Info("context canceled externally")
	}

	m.shutdown(cause)

	// Keep absorbing triggers until termination so a repeated signal does
	// not fall through to the default handler.
	for {
		select {
		case sig, ok := <-sigCh:
			if !ok {
				sigCh = nil
				continue
			}
			m.logger.Info("shutdown already in progress, ignoring signal", "signal", sig)
		case <-m.events:
			m.logger.V(1).Info("shutdown already in progress, ignoring stop event")
		case <-m.token.Done():
			return
		}
	}
}

func (m *ManagerImpl) shutdown(cause string) {
	m.cancel()

	if m.prompt != nil {
		shutdownNotice(m.prompt, cause, m.pending())
	}

	n := m.broadcast()
	m.logger.Info("stop requests sent", "subscribers", n)

	m.token.Release()
}
