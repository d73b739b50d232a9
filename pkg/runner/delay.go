package runner

import (
	"context"
	"time"

	"github.com/Phillezi/daemonutils/pkg/terminator"
)

// Work is delivered to a Delay's task unit. The task unit answers through
// Handle when it wants the next delivery.
type Work struct {
	Handle Handle
}

// Handle is a back-reference to a Delay runner. It is a plain value that
// may be copied and used from any goroutine.
type Handle struct {
	timing chan<- time.Duration
	done   <-chan struct{}
}

// Later asks the runner to deliver the next work unit after d.
// It reports false if the runner has already terminated, in which case the
// request is discarded.
func (h Handle) Later(d time.Duration) bool {
	if h.done == nil {
		return false
	}
	select {
	case <-h.done:
		return false
	default:
	}
	select {
	case h.timing <- d:
		return true
	case <-h.done:
		return false
	}
}

// Immediately asks the runner to deliver the next work unit right away.
func (h Handle) Immediately() bool {
	return h.Later(0)
}

// Delay delivers work to a task unit's inbox and lets the task unit decide,
// out of band, when the next delivery happens.
//
// When the inbox cannot take the work (it is full, nil or closed) the same
// delivery is retried after a fixed backoff.
type Delay struct {
	base
	inbox   chan<- Work
	backoff time.Duration
	timing  chan time.Duration
}

// NewDelay creates a Delay that owns token and releases it on termination.
func NewDelay(inbox chan<- Work, token *terminator.Token, backoff time.Duration, opts ...Option) *Delay {
	d := &Delay{
		inbox:   inbox,
		backoff: backoff,
		timing:  make(chan time.Duration, 1),
	}
	d.init("delay", token, opts)
	return d
}

// Handle returns the back-reference passed to the task unit with each
// delivery.
func (d *Delay) Handle() Handle {
	return Handle{timing: d.timing, done: d.doneCh}
}

// Start attempts the first delivery immediately.
func (d *Delay) Start() error {
	return d.start(d.run)
}

func (d *Delay) run() {
	for !d.stopping() {
		if !d.deliver() {
			if !d.wait(d.backoff) {
				return
			}
			continue
		}

		var next time.Duration
		select {
		case <-d.stopCh:
			return
		case next = <-d.timing:
		}
		if next > 0 {
			d.logger.V(1).Info("next delivery scheduled", "delay", next)
			if !d.wait(next) {
				return
			}
		}
	}
}

func (d *Delay) deliver() bool {
	if !d.send(Work{Handle: d.Handle()}) {
		d.logger.V(1).Info("task inbox unavailable, retrying", "backoff", d.backoff)
		d.metrics.DeliveryFailed(d.name)
		return false
	}
	d.metrics.Invoked(d.kind, d.name)
	return true
}

// send offers w to the inbox without blocking. A closed inbox means the
// task unit has gone away and is reported like a full one.
func (d *Delay) send(w Work) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case d.inbox <- w:
		return true
	default:
		return false
	}
}

// Serve runs fn for every work unit received on inbox, one at a time,
// until ctx is done or inbox is closed. It is a convenience for writing
// task units that live on their own goroutine.
func Serve(ctx context.Context, inbox <-chan Work, fn func(ctx context.Context, w Work)) {
	for {
		select {
		case <-ctx.Done():
			return
		case w, ok := <-inbox:
			if !ok {
				return
			}
			fn(ctx, w)
		}
	}
}
