package app

import (
	"context"

	"tapit-auth/internal/config"
	"tapit-auth/internal/db"
	"tapit-auth/internal/logger"
	"tapit-auth/internal/redis"
)

type Infra struct {
	DB    *db.DB
	Redis *redis.Client
}

func setupInfra(ctx context.Context, cfg config.Config) (*Infra, error) {
	database, err := db.Open(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, err
	}

	if err := db.RunMigration(ctx, database.DB); err != nil {
		_ = database.Close()
		return nil, err
	}

	logger.Info("database ready", nil)

	redisClient, err := redis.New(ctx, cfg.RedisAddr, cfg.RedisPassword)
	if err != nil {
		_ = database.Close()
		return nil, err
	}

	logger.Info("redis ready", map[string]any{"addr": cfg.RedisAddr})

	return &Infra{
		DB:    database,
		Redis: redisClient,
	}, nil
}

// Close releases the database pool and the Redis connection.
func (i *Infra) Close() error {
	dbErr := i.DB.Close()
	redisErr := i.Redis.Close()
	if dbErr != nil {
		return dbErr
	}
	return redisErr
}
