package app

import (
	"context"

	"github.com/hashicorp/go-multierror"

	"task-router/internal/brokers"
	"task-router/internal/circuitbreaker"
	"task-router/internal/common/logging"
	"task-router/internal/config"
	"task-router/internal/locks"
	"task-router/internal/redis"
	"task-router/internal/relay"
	"task-router/internal/sources/imap"
	"task-router/internal/sources/schedule"
	"task-router/internal/storage"
	"task-router/internal/tasks"
)

// App holds all the application dependencies
type App struct {
	Config    *config.Config
	Storage   storage.Storage
	Redis     *redis.Client
	Locks     locks.Manager
	Broker    brokers.Broker
	Breakers  *circuitbreaker.GoBreakerManager
	Emitter   *relay.Emitter
	Engine    *tasks.Engine
	Listener  *relay.Listener
	Scheduler *schedule.Scheduler
	IMAP      *imap.Source
	Logger    logging.Logger

	reloaders []reloader
	cancel    context.CancelFunc
}

// New creates a new application instance with all dependencies
func New(cfg *config.Config) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logging.GetGlobalLogger().WithFields(logging.String("component", "app")),
	}
	app.Breakers = circuitbreaker.NewGoBreakerManager(app.Logger)

	// Initialize components in order of dependency
	if err := app.initializeStorage(); err != nil {
		return nil, err
	}

	if err := app.initializeRedis(); err != nil {
		app.Cleanup()
		return nil, err
	}

	if err := app.initializeLocks(); err != nil {
		app.Cleanup()
		return nil, err
	}

	if err := app.initializeBroker(context.Background()); err != nil {
		app.Cleanup()
		return nil, err
	}

	app.Emitter = relay.NewEmitter(app.Broker,
		app.Breakers.GetOrCreate("relay:"+app.Broker.Name(), circuitbreaker.BrokerConfig), app.Logger)

	app.Engine = tasks.NewEngine(app.Storage, app.Storage, app.Emitter, app.Locks, tasks.Config{
		ErrorThreshold:  cfg.Engine.ErrorThreshold,
		ProviderTimeout: cfg.Engine.ProviderTimeout,
		RelayTimeout:    cfg.Engine.RelayTimeout,
	}, app.Logger)

	providers, err := app.buildProviders()
	if err != nil {
		app.Cleanup()
		return nil, err
	}
	app.Engine.SetDataProviders(providers)

	app.Listener = relay.NewListener(app.Broker, app.Storage, app.Engine, app.Logger)

	if err := app.initializeSources(); err != nil {
		app.Cleanup()
		return nil, err
	}

	return app, nil
}

// Start subscribes to the trigger subjects and starts the event sources.
// Everything started here stops when Shutdown is called.
func (app *App) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	app.cancel = cancel

	if err := app.Listener.Start(ctx); err != nil {
		return err
	}
	app.Logger.Info("Listening for trigger events", logging.Strings("subjects", app.Listener.Subjects()))

	return app.startSources(ctx)
}

// Shutdown stops the consumers and the event sources
func (app *App) Shutdown(ctx context.Context) error {
	if app.cancel != nil {
		app.cancel()
	}
	if app.Scheduler != nil {
		app.Scheduler.Stop()
	}
	return nil
}

// Cleanup releases all resources
func (app *App) Cleanup() error {
	var result *multierror.Error

	if app.Broker != nil {
		if err := app.Broker.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if app.Locks != nil {
		if err := app.Locks.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if app.Redis != nil {
		if err := app.Redis.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if app.Storage != nil {
		if err := app.Storage.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
