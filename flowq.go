package flowq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/petrijr/flowq/internal/config"
	"github.com/petrijr/flowq/internal/executor"
	"github.com/petrijr/flowq/internal/httpapi"
	"github.com/petrijr/flowq/internal/jobqueue"
	"github.com/petrijr/flowq/internal/lock"
	"github.com/petrijr/flowq/internal/persistence"
	"github.com/petrijr/flowq/internal/reconcile"
	"github.com/petrijr/flowq/internal/simulation"
	"github.com/petrijr/flowq/internal/watcher"
	"github.com/petrijr/flowq/pkg/api"
	"github.com/petrijr/flowq/pkg/worker"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Job                  = api.Job
	QueueName            = api.QueueName
	Observer             = api.Observer
	LoggingObserver      = api.LoggingObserver
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
	CompositeObserver    = api.CompositeObserver
	NoopObserver         = api.NoopObserver
	EngineHTTPResponse   = api.EngineHTTPResponse
	WebhookSimulation    = api.WebhookSimulation

	// Settings is the process configuration, usually from LoadSettings.
	Settings = config.Config
)

var (
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver

	LoadSettings    = config.Load
	DefaultSettings = config.Default
)

const (
	QueueOneTime         = api.QueueOneTime
	QueueScheduled       = api.QueueScheduled
	QueueWebhook         = api.QueueWebhook
	QueueUserInteraction = api.QueueUserInteraction
)

// Deps are the collaborators owned by the rest of the platform. Handshake,
// Paused and Interactions are optional.
type Deps struct {
	Flows        api.FlowStore
	Versions     api.FlowVersionStore
	Hooks        api.TriggerHooks
	Handshake    api.HandshakeResolver
	Extractor    api.PayloadExtractor
	Runs         api.RunStarter
	Paused       api.PausedRunLister
	Resumer      api.RunResumer
	Engine       api.FlowEngine
	Poller       api.TriggerPoller
	Interactions api.InteractionHandler
}

func (d Deps) validate() error {
	var missing []string
	check := func(name string, ok bool) {
		if !ok {
			missing = append(missing, name)
		}
	}
	check("Flows", d.Flows != nil)
	check("Versions", d.Versions != nil)
	check("Hooks", d.Hooks != nil)
	check("Extractor", d.Extractor != nil)
	check("Runs", d.Runs != nil)
	check("Resumer", d.Resumer != nil)
	check("Engine", d.Engine != nil)
	check("Poller", d.Poller != nil)
	if len(missing) > 0 {
		return fmt.Errorf("flowq: missing dependencies: %v", missing)
	}
	return nil
}

// Runtime is one flowq node: queue backend, response watcher, simulation
// coordinator, executors and worker, composed once at boot.
type Runtime struct {
	settings Settings
	logger   *slog.Logger

	backend     jobqueue.Backend
	manager     *jobqueue.Manager
	watcher     *watcher.Watcher
	coordinator *simulation.Coordinator
	worker      *worker.Worker
	reconciler  *reconcile.Reconciler
	server      *httpapi.Server

	conns *connections

	mu      sync.Mutex
	started bool
}

// New builds a Runtime from settings. Connections that are not supplied
// through options are opened from the settings and closed by Stop.
func New(ctx context.Context, settings Settings, deps Deps, opts ...Option) (*Runtime, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}

	o := newOptions(opts)
	conns := &connections{opts: o}
	rt, err := build(ctx, settings, deps, o, conns)
	if err != nil {
		if cerr := conns.close(); cerr != nil {
			o.logger.Warn("runtime_connection_close_failed", slog.Any("error", cerr))
		}
		return nil, err
	}
	return rt, nil
}

func build(ctx context.Context, settings Settings, deps Deps, o *runtimeOptions, conns *connections) (*Runtime, error) {
	logger := o.logger

	var (
		backend   jobqueue.Backend
		transport watcher.Transport
	)
	switch settings.QueueMode {
	case config.QueueModeRedis:
		client, err := conns.redisClient(settings)
		if err != nil {
			return nil, err
		}
		// The backend owns its client and closes it when the worker stops.
		backend = jobqueue.NewRedisBackend(conns.dedicatedRedisClient(client), jobqueue.RedisOptions{
			LockDurations: settings.LockDurations(),
			Logger:        logger,
		})
		transport = watcher.NewRedisTransport(client, logger)
	default:
		backend = jobqueue.NewInMemoryBackend(jobqueue.WithLogger(logger))
		transport = watcher.NewMemoryTransport()
	}

	store, err := openSimulationStore(ctx, settings, conns)
	if err != nil {
		return nil, err
	}
	locker, err := openLocker(settings, conns)
	if err != nil {
		return nil, err
	}

	manager := jobqueue.NewManager(backend, logger)
	w := watcher.New(transport, watcher.Options{Logger: logger})
	coordinator := simulation.NewCoordinator(simulation.Config{
		Store:    store,
		Locker:   locker,
		Versions: deps.Versions,
		Hooks:    deps.Hooks,
		Logger:   logger,
	})

	registry := executor.NewRegistry().
		Register(api.QueueOneTime, executor.NewFlowExecutor(deps.Versions, deps.Engine, settings.FlowTimeout, logger)).
		Register(api.QueueWebhook, executor.NewWebhookExecutor(executor.WebhookConfig{
			Flows:       deps.Flows,
			Versions:    deps.Versions,
			Handshake:   deps.Handshake,
			Extractor:   deps.Extractor,
			Runs:        deps.Runs,
			Simulations: coordinator,
			Watcher:     w,
			Timeout:     settings.WebhookTimeout,
			Logger:      logger,
		})).
		Register(api.QueueScheduled, executor.NewRepeatingExecutor(executor.RepeatingConfig{
			Flows:       deps.Flows,
			Versions:    deps.Versions,
			Hooks:       deps.Hooks,
			Poller:      deps.Poller,
			Runs:        deps.Runs,
			Resumer:     deps.Resumer,
			Remover:     manager,
			MaxFailures: settings.MaxScheduleFailures,
			Timeout:     settings.TriggerTimeout,
			FlowTimeout: settings.FlowTimeout,
			Logger:      logger,
		}))

	queues := []api.QueueName{api.QueueOneTime, api.QueueScheduled, api.QueueWebhook}
	if deps.Interactions != nil {
		registry.Register(api.QueueUserInteraction, executor.NewUserInteractionExecutor(deps.Interactions))
		queues = append(queues, api.QueueUserInteraction)
	}

	wk := worker.NewWithConfig(backend, registry, worker.Config{
		Queues:       queues,
		Concurrency:  settings.WorkerConcurrency,
		PollInterval: settings.PollInterval,
		Observer:     o.observer,
		Logger:       logger,
	})

	rt := &Runtime{
		settings:    settings,
		logger:      logger,
		backend:     backend,
		manager:     manager,
		watcher:     w,
		coordinator: coordinator,
		worker:      wk,
		conns:       conns,
		server: httpapi.NewServer(httpapi.Config{
			Producer:       manager,
			Watcher:        w,
			Simulations:    coordinator,
			WebhookTimeout: settings.WebhookTimeout,
			Logger:         logger,
		}),
	}
	if settings.QueueMode == config.QueueModeMemory {
		rt.reconciler = &reconcile.Reconciler{
			Flows:    deps.Flows,
			Versions: deps.Versions,
			Hooks:    deps.Hooks,
			Paused:   deps.Paused,
			Queue:    manager,
			Logger:   logger,
		}
	}
	return rt, nil
}

func openSimulationStore(ctx context.Context, settings Settings, conns *connections) (persistence.SimulationStore, error) {
	switch settings.SimulationStore {
	case config.StoreSQLite:
		db, err := conns.sqlDB("sqlite", settings.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return persistence.NewSQLiteSimulationStore(db)
	case config.StorePostgres:
		db, err := conns.sqlDB("pgx", settings.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return persistence.NewPostgresSimulationStore(db)
	case config.StoreMongo:
		client, err := conns.mongoClient(ctx, settings.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return persistence.NewMongoSimulationStore(ctx, client, settings.MongoDatabase, "")
	case config.StoreRedis:
		client, err := conns.redisClient(settings)
		if err != nil {
			return nil, err
		}
		return persistence.NewRedisSimulationStore(client, ""), nil
	default:
		return persistence.NewInMemorySimulationStore(), nil
	}
}

func openLocker(settings Settings, conns *connections) (lock.Locker, error) {
	switch settings.LockMode {
	case config.LockRedis:
		client, err := conns.redisClient(settings)
		if err != nil {
			return nil, err
		}
		return lock.NewRedisLocker(client, "", 0), nil
	case config.LockPostgres:
		db, err := conns.sqlDB("pgx", settings.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return lock.NewPostgresLocker(db), nil
	default:
		return lock.NewMemoryLocker(), nil
	}
}

// Start initializes the backend, subscribes the watcher, reconciles
// schedules in memory queue mode and starts the worker.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return errors.New("flowq: runtime already started")
	}

	if err := r.backend.Init(ctx); err != nil {
		return fmt.Errorf("init backend: %w", err)
	}
	if err := r.watcher.Start(ctx); err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	if r.reconciler != nil {
		if _, err := r.reconciler.Run(ctx); err != nil {
			_ = r.watcher.Stop()
			return fmt.Errorf("reconcile: %w", err)
		}
	}
	if err := r.worker.Start(ctx); err != nil {
		_ = r.watcher.Stop()
		return err
	}

	r.started = true
	r.logger.InfoContext(ctx, "runtime_started",
		slog.String("queue_mode", r.settings.QueueMode),
		slog.String("handler_id", r.watcher.HandlerID()),
		slog.String("worker_id", r.worker.ID()),
		slog.Int("concurrency", r.settings.WorkerConcurrency),
	)
	return nil
}

// Stop drains the worker until ctx is done, then unsubscribes the watcher
// and closes connections opened by New.
func (r *Runtime) Stop(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		return errors.Join(r.backend.Close(), r.conns.close())
	}
	r.started = false

	var errs []error
	if err := r.worker.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := r.watcher.Stop(); err != nil {
		errs = append(errs, err)
	}
	if err := r.conns.close(); err != nil {
		errs = append(errs, err)
	}
	r.logger.Info("runtime_stopped", slog.Any("error", errors.Join(errs...)))
	return errors.Join(errs...)
}

// Manager is the producer facade for enqueueing jobs.
func (r *Runtime) Manager() *jobqueue.Manager { return r.manager }

// Watcher routes flow responses to synchronous webhook callers. Flow
// engines publish through it.
func (r *Runtime) Watcher() *watcher.Watcher { return r.watcher }

// Simulations manages trigger test sessions.
func (r *Runtime) Simulations() *simulation.Coordinator { return r.coordinator }

// Worker is the node's job consumer.
func (r *Runtime) Worker() *worker.Worker { return r.worker }

// Handler serves webhook ingress and the simulation API.
func (r *Runtime) Handler() http.Handler { return r.server.Handler() }
