package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/gofrs/flock"

	"docflow/internal/config"
	"docflow/internal/logging"
	"docflow/internal/metrics"
	"docflow/internal/preflight"
	"docflow/internal/queue"
	"docflow/internal/workflow"
)

// Daemon runs the workflow workers and the HTTP surface, and enforces
// single-instance execution per data directory.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *queue.Store
	workflow *workflow.Manager
	remote   preflight.Pinger
	metrics  *metrics.Metrics

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	api     *apiServer
}

// Status represents daemon runtime information.
type Status struct {
	Running        bool
	PID            int
	Workflow       workflow.StatusSummary
	DatabaseDriver string
	LockFilePath   string
	Checks         []preflight.Result
}

// Option customizes a Daemon.
type Option func(*Daemon)

// WithRemote registers the remote worker for preflight reachability checks.
func WithRemote(p preflight.Pinger) Option {
	return func(d *Daemon) { d.remote = p }
}

// WithMetrics exposes the given registry on /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Daemon) { d.metrics = m }
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *queue.Store, logger *slog.Logger, wf *workflow.Manager, opts ...Option) (*Daemon, error) {
	if cfg == nil || store == nil || logger == nil || wf == nil {
		return nil, errors.New("daemon requires config, store, logger, and workflow manager")
	}

	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		workflow: wf,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.metrics == nil {
		d.metrics = metrics.New()
	}
	return d, nil
}

// Start acquires the daemon lock, then launches the workflow workers and the
// HTTP server.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another docflow daemon instance is already running")
	}

	for _, failed := range preflight.Failed(d.checks(ctx)) {
		d.logger.Warn("preflight check failed",
			logging.String("check", failed.Name),
			logging.String("detail", failed.Detail),
			logging.EventType("preflight_failed"),
			logging.ErrorHint("workers keep running; fix the dependency and watch /api/status"),
		)
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	if err := d.workflow.Start(d.ctx); err != nil {
		d.abortStart()
		return fmt.Errorf("start workflow: %w", err)
	}

	srv, err := newAPIServer(d.cfg, d, d.logger)
	if err != nil {
		d.workflow.Stop()
		d.abortStart()
		return err
	}
	if err := srv.start(d.ctx); err != nil {
		d.workflow.Stop()
		d.abortStart()
		return err
	}
	d.api = srv

	d.running.Store(true)
	d.logger.Info("docflow daemon started",
		logging.String("lock", d.lockPath),
		logging.String("database", d.store.Driver()),
		logging.String("api", d.APIAddr()),
	)
	return nil
}

func (d *Daemon) abortStart() {
	_ = d.lock.Unlock()
	if d.cancel != nil {
		d.cancel()
	}
	d.ctx = nil
	d.cancel = nil
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	d.api.stop()
	d.api = nil
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.workflow.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock",
			logging.Error(err),
			logging.EventType("lock_release_failed"),
			logging.ErrorHint("remove the lock file if no daemon is running"),
		)
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("docflow daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// APIAddr returns the address the HTTP server listens on, or "" when it is
// disabled or not started.
func (d *Daemon) APIAddr() string {
	if d.api == nil || d.api.listener == nil {
		return ""
	}
	return d.api.listener.Addr().String()
}

// Status returns the current daemon status including fresh preflight results.
func (d *Daemon) Status(ctx context.Context) Status {
	return Status{
		Running:        d.running.Load(),
		PID:            os.Getpid(),
		Workflow:       d.workflow.Status(ctx),
		DatabaseDriver: d.store.Driver(),
		LockFilePath:   d.lockPath,
		Checks:         d.checks(ctx),
	}
}

func (d *Daemon) checks(ctx context.Context) []preflight.Result {
	return preflight.RunAll(ctx, d.cfg, preflight.Targets{
		Database: d.store,
		Remote:   d.remote,
	})
}
