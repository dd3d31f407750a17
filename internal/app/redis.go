package app

import (
	"task-router/internal/common/logging"
	"task-router/internal/locks"
	"task-router/internal/redis"
)

func (app *App) initializeRedis() error {
	if !app.Config.Redis.Enabled() {
		app.Logger.Info("Redis: Not configured (local locks, no provider cache)")
		return nil
	}

	redisClient, err := redis.NewClient(&redis.Config{
		Address:  app.Config.Redis.Address,
		Password: app.Config.Redis.Password,
		DB:       app.Config.Redis.DB,
		PoolSize: app.Config.Redis.PoolSize,
	})
	if err != nil {
		return err
	}

	app.Redis = redisClient
	app.Logger.Info("Redis: Connected", logging.String("address", app.Config.Redis.Address))
	return nil
}

func (app *App) initializeLocks() error {
	manager, err := locks.NewManager(app.Config.LockBackend, app.Redis)
	if err != nil {
		return err
	}
	app.Locks = manager
	app.Logger.Info("Task locks: Enabled", logging.String("backend", app.Config.LockBackend))
	return nil
}
