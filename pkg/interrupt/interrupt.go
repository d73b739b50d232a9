package interrupt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Phillezi/daemonutils/pkg/manager"
	"github.com/Phillezi/daemonutils/pkg/runner"
)

type InterruptConfig struct {
	baseContext context.Context
	manOpts     []manager.Option
	runnerOpts  []runner.Option
}

type Option func(ic *InterruptConfig)

func WithBaseContext(ctx context.Context) Option {
	return func(ic *InterruptConfig) {
		ic.baseContext = ctx
	}
}

func WithManagerOpts(opts ...manager.Option) Option {
	return func(ic *InterruptConfig) {
		ic.manOpts = opts
	}
}

// WithRunnerOpts sets options applied to every runner built by the
// StartWith helpers.
func WithRunnerOpts(opts ...runner.Option) Option {
	return func(ic *InterruptConfig) {
		ic.runnerOpts = opts
	}
}

func newConfig(opts []Option) InterruptConfig {
	ic := InterruptConfig{
		baseContext: context.Background(),
	}
	for _, opt := range opts {
		opt(&ic)
	}
	return ic
}

// Cancellable returns a manager whose shutdown can also be requested with
// the returned cancel func. Run must still be called on the returned
// manager from the main goroutine.
func Cancellable(opts ...Option) (manager.Manager, context.CancelFunc) {
	ic := newConfig(opts)
	ctx, cancel := context.WithCancel(ic.baseContext)
	m := manager.NewManager(append(ic.manOpts, manager.WithContext(ctx))...)
	return m, cancel
}

// Main runs mainFunc to register runners, then runs the manager until every
// runner has stopped. It must be called from the main goroutine.
func Main(mainFunc func(m manager.Coordinator), opts ...Option) error {
	assertMainGoroutine("interrupt.Main")

	m, cancel := Cancellable(opts...)
	defer cancel()

	mainFunc(m)

	return m.Run()
}

// DelayTarget is a task unit inbox served by one Delay runner, with the
// backoff used when the inbox is full.
type DelayTarget struct {
	Inbox   chan<- runner.Work
	Backoff time.Duration
}

// StartWithDelayers builds, subscribes and starts one Delay runner per
// target, then starts the manager.
func StartWithDelayers(targets []DelayTarget, opts ...Option) (manager.Manager, error) {
	ic := newConfig(opts)
	m := manager.NewManager(append(ic.manOpts, manager.WithContext(ic.baseContext))...)

	starters := make([]func() error, 0, len(targets))
	for _, t := range targets {
		d := runner.NewDelay(t.Inbox, m.CloneToken(), t.Backoff, ic.runnerOpts...)
		m.Subscribe(d)
		starters = append(starters, d.Start)
	}
	return m, start(m, starters)
}

// StartWithLoopers builds, subscribes and starts one Loop runner per task,
// then starts the manager.
func StartWithLoopers(tasks []runner.LoopTask, opts ...Option) (manager.Manager, error) {
	ic := newConfig(opts)
	m := manager.NewManager(append(ic.manOpts, manager.WithContext(ic.baseContext))...)

	starters := make([]func() error, 0, len(tasks))
	for _, task := range tasks {
		l := runner.NewLoop(task, m.CloneToken(), ic.runnerOpts...)
		m.Subscribe(l)
		starters = append(starters, l.Start)
	}
	return m, start(m, starters)
}

// start runs every starter, then the manager. When a starter fails the
// manager is still started with a pending stop event, so every runner
// subscribed so far is stopped; callers can wait on m.Wait() for that.
func start(m manager.Manager, starters []func() error) error {
	for i, s := range starters {
		if err := s(); err != nil {
			m.Trigger()
			return errors.Join(fmt.Errorf("start runner %d: %w", i, err), startManager(m))
		}
	}
	return startManager(m)
}

func startManager(m manager.Manager) error {
	if err := m.Start(); err != nil {
		return fmt.Errorf("start shutdown manager: %w", err)
	}
	return nil
}
