// Package terminator provides the reference-counted termination token that
// gates process exit.
//
// A Token is created once, cloned to every component that must finish
// before the process may end, and released by each of them on its own
// termination path. The handle whose release drops the live count from one
// to zero runs the termination action.
package terminator

import (
	"sync"
	"sync/atomic"
)

// Option configures a Token at construction.
type Option func(*state)

// WithObserver registers fn to be called with the live reference count
// after every change.
func WithObserver(fn func(refs int64)) Option {
	return func(s *state) {
		s.observe = fn
	}
}

type state struct {
	refs    atomic.Int64
	action  func()
	observe func(refs int64)
	fired   chan struct{}
}

// Token is one owning reference to a shared termination action.
// The zero value is not usable; use New or NewWithChannel.
type Token struct {
	s    *state
	once sync.Once
}

// New returns the first reference of a token that runs action when the
// last reference is released.
func New(action func(), opts ...Option) *Token {
	s := &state{
		action: action,
		fired:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.refs.Store(1)
	s.notify(1)
	return &Token{s: s}
}

// NewWithChannel returns a token whose action sends exactly one
// notification on ch. The send runs on its own goroutine so the releasing
// component never blocks on the consumer.
func NewWithChannel(ch chan<- struct{}, opts ...Option) *Token {
	return New(func() {
		go func() { ch <- struct{}{} }()
	}, opts...)
}

// Clone returns a new reference to the same token. Cloning a token that
// has already fired yields an inert handle whose Release does nothing.
func (t *Token) Clone() *Token {
	for {
		n := t.s.refs.Load()
		if n <= 0 {
			c := &Token{s: t.s}
			c.once.Do(func() {})
			return c
		}
		if t.s.refs.CompareAndSwap(n, n+1) {
			t.s.notify(n + 1)
			return &Token{s: t.s}
		}
	}
}

// Release drops this reference. It is safe to call more than once and from
// any goroutine; only the first call on a handle counts.
func (t *Token) Release() {
	t.once.Do(func() {
		n := t.s.refs.Add(-1)
		t.s.notify(n)
		if n == 0 {
			if t.s.action != nil {
				t.s.action()
			}
			close(t.s.fired)
		}
	})
}

// Done returns a channel that is closed once the termination action ran.
func (t *Token) Done() <-chan struct{} {
	return t.s.fired
}

// Refs reports the current number of live references.
func (t *Token) Refs() int64 {
	return t.s.refs.Load()
}

func (s *state) notify(n int64) {
	if s.observe != nil {
		s.observe(n)
	}
}
