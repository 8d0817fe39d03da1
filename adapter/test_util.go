package adapter

import (
	"net"
	"testing"

	"github.com/bootjp/pendingq/persistence"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type testNode struct {
	persistence *persistence.Persistence
	server      *RedisServer
	addr        string
}

func createNode(t *testing.T, cfg persistence.Config) *testNode {
	t.Helper()
	p, err := persistence.Open(cfg)
	require.NoError(t, err)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := NewRedisServer(l, p)
	go func() {
		_ = srv.Run()
	}()

	t.Cleanup(func() {
		srv.Stop()
		_ = p.Shutdown()
	})
	return &testNode{persistence: p, server: srv, addr: l.Addr().String()}
}

func newClient(t *testing.T, n *testNode) *redis.Client {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{
		Addr:     n.addr,
		PoolSize: 1,
	})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}
