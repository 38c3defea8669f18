package probe_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"drapo/pkg/executor/probe"
)

func TestTCPProber_Reachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	p := probe.NewTCPProber(time.Second, zap.NewNop())
	assert.True(t, p.Reachable(context.Background(), "127.0.0.1", port))
}

func TestTCPProber_UnreachableLogsWarning(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	core, logs := observer.New(zapcore.WarnLevel)
	p := probe.NewTCPProber(500*time.Millisecond, zap.New(core))

	assert.False(t, p.Reachable(context.Background(), "127.0.0.1", port))
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "server unreachable", logs.All()[0].Message)
}

func TestTCPProber_DefaultTimeout(t *testing.T) {
	p := probe.NewTCPProber(0, nil)
	assert.Equal(t, probe.DefaultTimeout, p.Timeout)
}

func TestFunc(t *testing.T) {
	var calls int
	p := probe.Func(func(ctx context.Context, host string, port int) bool {
		calls++
		return host == "db" && port == 5432
	})
	assert.True(t, p.Reachable(context.Background(), "db", 5432))
	assert.False(t, p.Reachable(context.Background(), "db", 1))
	assert.Equal(t, 2, calls)
}
