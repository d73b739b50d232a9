package interrupt

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/Phillezi/daemonutils/pkg/manager"
	"github.com/Phillezi/daemonutils/pkg/runner"

	"github.com/stretchr/testify/require"
)

func TestStart_FailedRunnerStopsTheOthers(t *testing.T) {
	m := manager.NewManager(manager.WithSignalChannel(make(chan os.Signal)))

	task := runner.LoopFunc(func(context.Context) time.Duration { return time.Minute })
	started := runner.NewLoop(task, m.CloneToken())
	pending := runner.NewLoop(task, m.CloneToken())
	m.Subscribe(started).Subscribe(pending)

	errBoom := errors.New("boom")
	err := start(m, []func() error{
		started.Start,
		func() error { return errBoom },
		pending.Start,
	})
	require.ErrorIs(t, err, errBoom)

	select {
	case <-m.Wait():
	case <-time.After(time.Second):
		t.Fatal("manager did not terminate after a failed start")
	}
	for _, l := range []*runner.Loop{started, pending} {
		select {
		case <-l.Done():
		default:
			t.Fatalf("runner %s still running", l.Name())
		}
	}
}
