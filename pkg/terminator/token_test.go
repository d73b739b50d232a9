package terminator_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Phillezi/daemonutils/pkg/terminator"

	"github.com/stretchr/testify/require"
)

func TestToken_FiresOnlyAfterLastRelease(t *testing.T) {
	const k = 5

	var fired atomic.Int32
	root := terminator.New(func() { fired.Add(1) })

	clones := make([]*terminator.Token, 0, k)
	for range k {
		clones = append(clones, root.Clone())
	}
	require.EqualValues(t, k+1, root.Refs())

	for _, c := range clones {
		c.Release()
	}
	require.Zero(t, fired.Load(), "action fired before the last reference was released")

	select {
	case <-root.Done():
		t.Fatal("Done closed before the last release")
	default:
	}

	root.Release()
	require.EqualValues(t, 1, fired.Load())
	require.Zero(t, root.Refs())

	select {
	case <-root.Done():
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Done not closed after the last release")
	}
}

func TestToken_ReleaseIsIdempotentPerHandle(t *testing.T) {
	var fired atomic.Int32
	root := terminator.New(func() { fired.Add(1) })
	c := root.Clone()

	c.Release()
	c.Release()
	c.Release()
	require.EqualValues(t, 1, root.Refs(), "repeated release of one handle must count once")
	require.Zero(t, fired.Load())

	root.Release()
	root.Release()
	require.EqualValues(t, 1, fired.Load())
}

func TestToken_AnyReleaseSiteCanBeLast(t *testing.T) {
	for last := range 4 {
		var fired atomic.Int32
		root := terminator.New(func() { fired.Add(1) })
		handles := []*terminator.Token{root, root.Clone(), root.Clone(), root.Clone()}

		for i, h := range handles {
			if i != last {
				h.Release()
			}
		}
		require.Zero(t, fired.Load())
		handles[last].Release()
		require.EqualValues(t, 1, fired.Load(), "release site %d", last)
	}
}

func TestToken_ConcurrentRelease(t *testing.T) {
	const n = 200

	var fired atomic.Int32
	root := terminator.New(func() { fired.Add(1) })

	handles := make([]*terminator.Token, n)
	for i := range handles {
		handles[i] = root.Clone()
	}

	var wg sync.WaitGroup
	for _, h := range handles {
		wg.Go(func() {
			h.Release()
			h.Release()
		})
	}
	wg.Go(root.Release)
	wg.Wait()

	require.EqualValues(t, 1, fired.Load())
}

func TestToken_CloneAfterFiredIsInert(t *testing.T) {
	var fired atomic.Int32
	root := terminator.New(func() { fired.Add(1) })
	root.Release()

	late := root.Clone()
	require.Zero(t, root.Refs())
	late.Release()
	require.Zero(t, root.Refs(), "count must never go negative")
	require.EqualValues(t, 1, fired.Load())
}

func TestToken_ChannelRouted(t *testing.T) {
	ch := make(chan struct{})
	root := terminator.NewWithChannel(ch)
	c := root.Clone()

	root.Release()
	select {
	case <-ch:
		t.Fatal("notification before the last release")
	case <-time.After(20 * time.Millisecond):
	}

	// Unbuffered channel nobody reads yet: release must not block.
	c.Release()

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("no notification on completion channel")
	}

	select {
	case <-ch:
		t.Fatal("more than one notification")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestToken_Observer(t *testing.T) {
	var mu sync.Mutex
	var seen []int64
	root := terminator.New(nil, terminator.WithObserver(func(refs int64) {
		mu.Lock()
		seen = append(seen, refs)
		mu.Unlock()
	}))
	c := root.Clone()
	c.Release()
	root.Release()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []int64{1, 2, 1, 0}, seen)
}
