package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"docflow/internal/artifacts"
	"docflow/internal/config"
	"docflow/internal/failures"
	"docflow/internal/handlers"
	"docflow/internal/logging"
	"docflow/internal/metrics"
	"docflow/internal/notifications"
	"docflow/internal/queue"
	"docflow/internal/stageexec"
)

// Worker names.
const (
	WorkerScheduler = "scheduler"
	WorkerProcessor = "processor"
	WorkerPoller    = "poller"
	WorkerRecovery  = "recovery"
	WorkerCleanup   = "cleanup"
)

// Manager owns the orchestration workers and their lifecycles.
type Manager struct {
	deps      *deps
	completer *completer

	scheduler *Scheduler
	processor *Processor
	poller    *Poller
	recovery  *Recovery
	cleanup   *Cleanup

	workers           []*workerState
	retentionSchedule string

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	cron    *cron.Cron
	lastErr error
}

type workerState struct {
	name     string
	interval time.Duration
	tick     func(context.Context) (int, error)

	lastRun   time.Time
	lastErr   error
	runs      int64
	processed int64
}

// ManagerOption configures optional Manager behavior.
type ManagerOption func(*managerOptions)

type managerOptions struct {
	notifier notifications.Service
	metrics  *metrics.Metrics
}

// WithNotifier replaces the notifier built from config.
func WithNotifier(notifier notifications.Service) ManagerOption {
	return func(o *managerOptions) {
		o.notifier = notifier
	}
}

// WithMetrics records worker activity into m.
func WithMetrics(m *metrics.Metrics) ManagerOption {
	return func(o *managerOptions) {
		o.metrics = m
	}
}

// NewManager wires the workers over the store, remote worker and artifact
// store.
func NewManager(cfg *config.Config, store *queue.Store, client RemoteWorker, arts *artifacts.Store, logger *slog.Logger, opts ...ManagerOption) *Manager {
	options := &managerOptions{}
	for _, opt := range opts {
		opt(options)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	notifier := options.notifier
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}

	shared := &deps{
		cfg:       cfg,
		store:     store,
		tracker:   stageexec.NewTracker(store, logger),
		remote:    client,
		artifacts: arts,
		failures:  failures.NewHandler(store, cfg, options.metrics, notifier, logger),
		sources:   handlers.NewSourceLocator(store),
		notifier:  notifier,
		metrics:   options.metrics,
		logger:    logging.NewComponentLogger(logger, "workflow-manager"),
	}
	withLogger := func(worker string) *deps {
		d := *shared
		d.logger = workerLogger(logger, worker)
		return &d
	}
	done := &completer{deps: withLogger("completer")}

	m := &Manager{
		deps:      shared,
		completer: done,
		scheduler: &Scheduler{
			deps:      withLogger(WorkerScheduler),
			batchSize: cfg.Scheduler.BatchSize,
		},
		processor: &Processor{
			deps:      withLogger(WorkerProcessor),
			completer: done,
			batchSize: cfg.Processor.BatchSize,
		},
		poller: &Poller{
			deps:       withLogger(WorkerPoller),
			completer:  done,
			batchSize:  cfg.Poller.BatchSize,
			staleAfter: config.Minutes(cfg.Poller.StaleAfter),
		},
		recovery: &Recovery{
			deps:        withLogger(WorkerRecovery),
			stuckAfter:  config.Minutes(cfg.Recovery.StuckAfter),
			retryWindow: config.Minutes(cfg.Recovery.RetryWindow),
			cancelAfter: config.Minutes(cfg.Recovery.CancelAfter),
			retryDelay:  config.Seconds(cfg.Recovery.RetryDelay),
		},
		cleanup: &Cleanup{
			deps:          withLogger(WorkerCleanup),
			batchSize:     cfg.Cleanup.BatchSize,
			gracePeriod:   config.Minutes(cfg.Cleanup.GracePeriod),
			retryAfter:    time.Duration(cfg.Cleanup.RetryAfter) * time.Hour,
			retentionDays: cfg.Cleanup.RetentionDays,
		},
		retentionSchedule: cfg.Cleanup.RetentionSchedule,
	}
	m.workers = []*workerState{
		{name: WorkerScheduler, interval: config.Seconds(cfg.Scheduler.Interval), tick: m.scheduler.Tick},
		{name: WorkerProcessor, interval: config.Seconds(cfg.Processor.Interval), tick: m.processor.Tick},
		{name: WorkerPoller, interval: config.Seconds(cfg.Poller.Interval), tick: m.poller.Tick},
		{name: WorkerRecovery, interval: config.Seconds(cfg.Recovery.Interval), tick: m.recovery.Tick},
		{name: WorkerCleanup, interval: config.Seconds(cfg.Cleanup.Interval), tick: m.cleanup.Tick},
	}
	return m
}

// Scheduler returns the scheduling worker.
func (m *Manager) Scheduler() *Scheduler { return m.scheduler }

// Processor returns the dispatch worker.
func (m *Manager) Processor() *Processor { return m.processor }

// Poller returns the remote status worker.
func (m *Manager) Poller() *Poller { return m.poller }

// Recovery returns the stuck-job worker.
func (m *Manager) Recovery() *Recovery { return m.recovery }

// Cleanup returns the remote cleanup worker.
func (m *Manager) Cleanup() *Cleanup { return m.cleanup }

// Tracker returns the stage execution tracker.
func (m *Manager) Tracker() *stageexec.Tracker { return m.deps.tracker }
