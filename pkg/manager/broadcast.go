package manager

import (
	"fmt"
	"sync"
	"time"

	"github.com/Phillezi/daemonutils/pkg/metrics"

	"github.com/go-logr/logr"
)

// broadcaster owns the ordered subscriber list. The list is drained exactly
// once; subscribers added afterwards are never notified.
type broadcaster struct {
	mu          sync.Mutex
	subscribers []StopHandler
	drained     bool

	stallTimeout time.Duration
	logger       logr.Logger
	metrics      *metrics.Metrics
}

const defaultStallTimeout = time.Second

func (b *broadcaster) subscribe(h StopHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.drained {
		b.logger.Info("subscriber registered after shutdown began, it will not be notified")
		return
	}
	b.subscribers = append(b.subscribers, h)
}

func (b *broadcaster) pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

func (b *broadcaster) drain() []StopHandler {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subscribers
	b.subscribers = nil
	b.drained = true
	return subs
}

// broadcast sends the stop request to every subscriber in subscription
// order and returns how many were notified.
func (b *broadcaster) broadcast() int {
	subs := b.drain()
	for _, h := range subs {
		b.notify(h)
	}
	return len(subs)
}

// notify is fire-and-forget: a failing subscriber is logged and skipped,
// and one that has not returned from Stop within stallTimeout is left
// running while the broadcast moves on to the next subscriber.
func (b *broadcaster) notify(h StopHandler) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error(fmt.Errorf("%v", r), "stop request failed", "subscriber", fmt.Sprintf("%T", h))
			}
		}()
		h.Stop()
		b.metrics.StopSent()
	}()

	t := time.NewTimer(b.stallTimeout)
	defer t.Stop()
	select {
	case <-done:
	case <-t.C:
		b.logger.Info("subscriber blocked in Stop, continuing broadcast",
			"subscriber", fmt.Sprintf("%T", h), "timeout", b.stallTimeout)
	}
}
