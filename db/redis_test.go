package db

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
)

func TestRedisDB(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()

	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	database := NewRedisDB(client, "bonder:")
	defer database.Close()

	testKeyValueStore(t, database)

	// keys live under the namespace
	require.True(t, server.Exists("bonder:b:1"))
}
