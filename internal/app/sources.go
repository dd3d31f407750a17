package app

import (
	"context"

	"task-router/internal/common/logging"
	"task-router/internal/sources/imap"
	"task-router/internal/sources/schedule"
)

// initializeSources creates the timed event scheduler and the mailbox
// source. Both publish through the relay so their events reach every
// instance consuming the bus, not just this one.
func (app *App) initializeSources() error {
	entries, err := schedule.ParseEntries(app.Config.ScheduledEvents)
	if err != nil {
		return err
	}
	if len(entries) > 0 {
		scheduler, err := schedule.New(entries, app.Emitter, app.Logger,
			schedule.WithSendTimeout(app.Config.Engine.RelayTimeout))
		if err != nil {
			return err
		}
		app.Scheduler = scheduler
		app.Logger.Info("Scheduled events configured", logging.Int("entries", len(entries)))
	}

	if app.Config.IMAP.Enabled() {
		c := app.Config.IMAP
		source, err := imap.New(&imap.Config{
			Host:         c.Host,
			Port:         c.Port,
			UseTLS:       c.UseTLS,
			Username:     c.Username,
			Password:     c.Password,
			Token:        c.Token,
			Auth:         c.Auth,
			Folder:       c.Folder,
			PollInterval: c.PollInterval,
			Subject:      c.Subject,
		}, app.Emitter, app.Logger)
		if err != nil {
			return err
		}
		app.IMAP = source
	}
	return nil
}

func (app *App) startSources(ctx context.Context) error {
	if app.Scheduler != nil {
		if err := app.Scheduler.Start(ctx); err != nil {
			return err
		}
	}
	if app.IMAP != nil {
		if err := app.IMAP.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}
