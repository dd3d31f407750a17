package app

import (
	"time"

	"task-router/internal/common/cache"
	"task-router/internal/common/logging"
	"task-router/internal/providers"
	httpprovider "task-router/internal/providers/http"
	"task-router/internal/providers/ical"
	"task-router/internal/providers/redishash"
	"task-router/internal/providers/vcard"
	"task-router/internal/tasks"
)

// Names of the file backed providers as used in ad placeholders
const (
	VCardProviderName = "VCARD"
	ICalProviderName  = "ICAL"
)

// buildProviders creates every configured data provider, each behind its own circuit breaker
func (app *App) buildProviders() ([]tasks.DataProvider, error) {
	cfg := app.Config.Providers
	var list []tasks.DataProvider

	if cfg.HTTPURL != "" {
		p, err := httpprovider.New(httpprovider.Config{
			Name:     cfg.HTTPName,
			BaseURL:  cfg.HTTPURL,
			Types:    cfg.HTTPTypes,
			Token:    cfg.HTTPToken,
			Timeout:  app.Config.Engine.ProviderTimeout,
			CacheTTL: cfg.HTTPCacheTTL,

			MaxIdleConnsPerHost: cfg.HTTPMaxIdleConns,
			InsecureSkipVerify:  cfg.HTTPInsecureSkipVerify,
		}, cache.New(app.Redis, cfg.HTTPCacheTTL, "provider:"), app.Logger)
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}

	if len(cfg.RedisTypes) > 0 {
		p, err := redishash.New(cfg.RedisName, app.Redis, cfg.RedisTypes...)
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}

	if cfg.VCardFile != "" {
		p, err := vcard.NewFromFile(VCardProviderName, cfg.VCardFile)
		if err != nil {
			return nil, err
		}
		app.Logger.Info("Loaded contacts", logging.Int("count", p.Len()))
		list = append(list, p)
		app.reloaders = append(app.reloaders, p)
	}

	if cfg.ICalFile != "" {
		p, err := ical.NewFromFile(ICalProviderName, cfg.ICalFile, time.Local)
		if err != nil {
			return nil, err
		}
		app.Logger.Info("Loaded calendar events", logging.Int("count", p.Len()))
		list = append(list, p)
		app.reloaders = append(app.reloaders, p)
	}

	guarded := make([]tasks.DataProvider, len(list))
	names := make([]string, len(list))
	for i, p := range list {
		guarded[i] = providers.Guard(p, app.Breakers)
		names[i] = p.Name()
	}
	app.Logger.Info("Data providers configured", logging.Strings("providers", names))
	return guarded, nil
}

type reloader interface {
	Name() string
	Reload() error
}

// ReloadProviders re-reads the file backed providers. A failed reload keeps the previous data.
func (app *App) ReloadProviders() {
	for _, r := range app.reloaders {
		if err := r.Reload(); err != nil {
			app.Logger.Error("Failed to reload provider", err, logging.String("provider", r.Name()))
			continue
		}
		app.Logger.Info("Reloaded provider", logging.String("provider", r.Name()))
	}
}
