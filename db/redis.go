package db

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/go-redis/redis/v8"
)

const redisScanCount = 500

// RedisDB keeps every key under a namespace prefix so several bonders can share one server.
type RedisDB struct {
	client    redis.UniversalClient
	namespace string
}

func NewRedisDB(client redis.UniversalClient, namespace string) *RedisDB {
	return &RedisDB{client: client, namespace: namespace}
}

func (r *RedisDB) key(key []byte) string {
	return r.namespace + string(key)
}

func (r *RedisDB) Put(key []byte, value []byte) error {
	return r.client.Set(context.Background(), r.key(key), value, 0).Err()
}

func (r *RedisDB) Delete(key []byte) error {
	return r.client.Del(context.Background(), r.key(key)).Err()
}

func (r *RedisDB) Has(key []byte) (bool, error) {
	n, err := r.client.Exists(context.Background(), r.key(key)).Result()
	if err != nil {
		return false, err
	}

	return n > 0, nil
}

func (r *RedisDB) Get(key []byte) ([]byte, error) {
	val, err := r.client.Get(context.Background(), r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}

	return val, err
}

func (r *RedisDB) Iterate(prefix []byte, fn func(key, value []byte) (bool, error)) error {
	ctx := context.Background()
	match := escapeGlob(r.key(prefix)) + "*"

	var keys []string
	var cursor uint64
	for {
		batch, next, err := r.client.Scan(ctx, cursor, match, redisScanCount).Result()
		if err != nil {
			return err
		}
		keys = append(keys, batch...)
		if next == 0 {
			break
		}
		cursor = next
	}
	// SCAN gives no ordering guarantee
	sort.Strings(keys)

	for _, k := range keys {
		val, err := r.client.Get(ctx, k).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return err
		}
		more, err := fn([]byte(strings.TrimPrefix(k, r.namespace)), val)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}

	return nil
}

func (r *RedisDB) Write(batch *Batch) error {
	_, err := r.client.TxPipelined(context.Background(), func(pipe redis.Pipeliner) error {
		for _, op := range batch.ops {
			if op.delete {
				pipe.Del(context.Background(), r.key(op.key))
			} else {
				pipe.Set(context.Background(), r.key(op.key), op.value, 0)
			}
		}
		return nil
	})

	return err
}

func (r *RedisDB) Close() error {
	return r.client.Close()
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func escapeGlob(s string) string {
	return globEscaper.Replace(s)
}
