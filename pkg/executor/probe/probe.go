// Package probe checks whether a TCP endpoint accepts connections.
package probe

import (
	"context"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"

	"drapo/pkg/logger"
)

// DefaultTimeout bounds a single connection attempt.
const DefaultTimeout = 5 * time.Second

// Prober reports whether host:port is reachable.
type Prober interface {
	Reachable(ctx context.Context, host string, port int) bool
}

// TCPProber dials once per call and closes the connection immediately.
type TCPProber struct {
	Timeout time.Duration
	log     *zap.Logger
	dialer  func(ctx context.Context, network, address string) (net.Conn, error)
}

func NewTCPProber(timeout time.Duration, log *zap.Logger) *TCPProber {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	d := &net.Dialer{}
	return &TCPProber{Timeout: timeout, log: log.Named("probe"), dialer: d.DialContext}
}

func (p *TCPProber) Reachable(ctx context.Context, host string, port int) bool {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	dctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	conn, err := p.dialer(dctx, "tcp", addr)
	if err != nil {
		logger.FromContext(ctx, p.log).Warn("server unreachable", zap.String("address", addr), zap.Error(err))
		return false
	}
	_ = conn.Close()
	return true
}

// Func adapts a function to the Prober interface.
type Func func(ctx context.Context, host string, port int) bool

func (f Func) Reachable(ctx context.Context, host string, port int) bool {
	return f(ctx, host, port)
}
