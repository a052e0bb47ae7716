package db

import (
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/Lorenzo-Protocol/lorenzo-bridge-bonder/config"
)

const (
	BackendLevelDB = "leveldb"
	BackendMysql   = "mysql"
	BackendRedis   = "redis"
)

// Open returns the store handle selected by cfg.Backend. The caller owns it and must Close it.
func Open(cfg config.Database) (IDB, error) {
	switch cfg.Backend {
	case BackendLevelDB, "":
		return NewLevelDB(cfg.Dir)
	case BackendMysql:
		return NewMysqlDB(cfg)
	case BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return NewRedisDB(client, cfg.RedisNamespace), nil
	default:
		return nil, fmt.Errorf("unknown database backend %q", cfg.Backend)
	}
}
