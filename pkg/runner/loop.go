package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/Phillezi/daemonutils/pkg/terminator"
)

// LoopTask is a task unit driven by a Loop. The returned duration is the
// delay before the next invocation; zero or less means run again at once.
type LoopTask interface {
	Loop(ctx context.Context) time.Duration
}

// LoopFunc adapts a function to LoopTask.
type LoopFunc func(ctx context.Context) time.Duration

// Loop implements LoopTask.
func (f LoopFunc) Loop(ctx context.Context) time.Duration {
	return f(ctx)
}

// Loop invokes its task repeatedly, waiting between invocations for as long
// as the task asks.
//
// A task that always returns zero is invoked back-to-back with no wait in
// between. That busy loop is intentional; no floor delay is applied.
type Loop struct {
	base
	task LoopTask
}

// NewLoop creates a Loop that owns token and releases it on termination.
func NewLoop(task LoopTask, token *terminator.Token, opts ...Option) *Loop {
	l := &Loop{task: task}
	l.init("loop", token, opts)
	return l
}

// Start invokes the task immediately and keeps scheduling it until Stop.
func (l *Loop) Start() error {
	return l.start(l.run)
}

func (l *Loop) run() {
	for !l.stopping() {
		delay := l.invoke()
		if delay <= 0 {
			continue
		}
		l.logger.V(1).Info("next invocation scheduled", "delay", delay)
		if !l.wait(delay) {
			return
		}
	}
}

// invoke runs the task once. A panicking task is logged and treated as
// having asked for no delay.
func (l *Loop) invoke() (delay time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error(fmt.Errorf("%v", r), "task panicked")
			delay = 0
		}
	}()
	l.metrics.Invoked(l.kind, l.name)
	return l.task.Loop(l.ctx)
}
