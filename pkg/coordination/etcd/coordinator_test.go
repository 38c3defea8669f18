package etcd_test

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"drapo/pkg/coordination/etcd"
)

// closedAddr returns a loopback address nothing listens on.
func closedAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func TestNewEtcdCoordinator_UnreachableClusterFailsFast(t *testing.T) {
	start := time.Now()

	c, err := etcd.NewEtcdCoordinator([]string{closedAddr(t)}, 5, zap.NewNop(), etcd.WithDialTimeout(300*time.Millisecond))

	require.Error(t, err)
	assert.Nil(t, c)
	assert.Contains(t, err.Error(), "lease")
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestNewEtcdCoordinator_NoEndpoints(t *testing.T) {
	c, err := etcd.NewEtcdCoordinator(nil, 5, nil)

	require.Error(t, err)
	assert.Nil(t, c)
}
