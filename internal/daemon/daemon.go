// Package daemon wires configured runners, the shutdown manager and the
// HTTP control endpoint into the tickd process.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Phillezi/daemonutils/internal/config"
	"github.com/Phillezi/daemonutils/pkg/logging"
	"github.com/Phillezi/daemonutils/pkg/manager"
	"github.com/Phillezi/daemonutils/pkg/metrics"
	"github.com/Phillezi/daemonutils/pkg/runner"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

// Daemon is a configured tickd instance.
type Daemon struct {
	cfg        config.Config
	logger     logr.Logger
	registry   *prometheus.Registry
	manager    manager.Manager
	completion chan struct{}
	starters   []func() error
	server     *http.Server
}

// New builds the daemon. Extra manager options are appended to the ones
// derived from cfg.
func New(cfg config.Config, logger logr.Logger, opts ...manager.Option) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	d := &Daemon{
		cfg:        cfg,
		logger:     logger,
		registry:   prometheus.NewRegistry(),
		completion: make(chan struct{}, 1),
	}
	mt := metrics.New(d.registry)

	d.manager = manager.NewManager(append([]manager.Option{
		manager.WithLogger(logging.Named(logger, "manager")),
		manager.WithMetrics(mt),
		manager.WithCompletionChannel(d.completion),
		manager.WithPrompt(cfg.Prompt),
	}, opts...)...)

	for _, rc := range cfg.Runners {
		ropts := []runner.Option{
			runner.WithName(rc.Name),
			runner.WithLogger(logging.Named(logger, "runner")),
			runner.WithMetrics(mt),
		}
		switch rc.Kind {
		case config.KindLoop:
			l := runner.NewLoop(d.loopTask(rc), d.manager.CloneToken(), ropts...)
			d.manager.Subscribe(l)
			d.starters = append(d.starters, l.Start)
		case config.KindDelay:
			inbox := make(chan runner.Work, rc.Queue)
			d.manager.Go(d.delayTask(rc, inbox))
			r := runner.NewDelay(inbox, d.manager.CloneToken(), rc.Backoff, ropts...)
			d.manager.Subscribe(r)
			d.starters = append(d.starters, r.Start)
		}
	}

	if cfg.HTTP.Address != "" {
		d.server = &http.Server{
			Addr:              cfg.HTTP.Address,
			Handler:           d.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	return d, nil
}

// Manager returns the daemon's shutdown manager.
func (d *Daemon) Manager() manager.Manager {
	return d.manager
}

// Handler returns the HTTP control surface.
func (d *Daemon) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if d.manager.Context().Err() != nil {
			http.Error(w, "shutting down", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	r.Post("/stop", func(w http.ResponseWriter, r *http.Request) {
		d.logger.Info("stop requested over http", "remote", r.RemoteAddr)
		d.manager.Trigger()
		w.WriteHeader(http.StatusAccepted)
	})
	r.Handle("/metrics", promhttp.HandlerFor(d.registry, promhttp.HandlerOpts{}))

	return r
}

// Run starts every runner and the manager, serves HTTP when configured, and
// returns once all runners have stopped and the server has been shut down.
// If a runner fails to start, shutdown is triggered for the runners
// already registered and the start error is returned once they stopped.
func (d *Daemon) Run() error {
	g := new(errgroup.Group)
	aborted := make(chan struct{})

	if d.server != nil {
		g.Go(func() error {
			d.logger.Info("http server starting", "addr", d.server.Addr)
			if err := d.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				d.manager.Trigger()
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		select {
		case <-d.completion:
			d.logger.Info("all runners stopped")
		case <-aborted:
		}
		if d.server == nil {
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := d.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		d.logger.Info("http server stopped")
		return nil
	})

	var startErr error
	for _, start := range d.starters {
		if err := start(); err != nil {
			startErr = fmt.Errorf("start runner: %w", err)
			d.manager.Trigger()
			break
		}
	}
	if err := d.manager.Start(); err != nil {
		close(aborted)
		return errors.Join(startErr, fmt.Errorf("start shutdown manager: %w", err), g.Wait())
	}

	return errors.Join(startErr, g.Wait())
}

func (d *Daemon) loopTask(rc config.RunnerConfig) runner.LoopTask {
	return runner.LoopFunc(func(ctx context.Context) time.Duration {
		d.logger.Info(rc.Message, "runner", rc.Name)
		return rc.Interval
	})
}

// delayTask is the task unit behind a delay runner: it serves the inbox
// until shutdown begins and answers each delivery with the configured
// interval.
func (d *Daemon) delayTask(rc config.RunnerConfig, inbox <-chan runner.Work) func(ctx context.Context) {
	return func(ctx context.Context) {
		runner.Serve(ctx, inbox, func(ctx context.Context, w runner.Work) {
			d.logger.Info(rc.Message, "runner", rc.Name)
			w.Handle.Later(rc.Interval)
		})
	}
}
