// Package etcd elects the active scheduler through an etcd lease.
package etcd

import (
	"context"
	"errors"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
	"go.uber.org/zap"

	"drapo/pkg/coordination"
)

// ElectionPrefix is prepended to every election name.
const ElectionPrefix = "/drapo/elections/"

// DefaultDialTimeout bounds the connection and the initial lease grant.
const DefaultDialTimeout = 5 * time.Second

type EtcdCoordinator struct {
	client  *clientv3.Client
	session *concurrency.Session
	log     *zap.Logger
}

type options struct {
	dialTimeout time.Duration
}

// Option customizes NewEtcdCoordinator.
type Option func(*options)

// WithDialTimeout replaces DefaultDialTimeout.
func WithDialTimeout(d time.Duration) Option {
	return func(o *options) { o.dialTimeout = d }
}

func NewEtcdCoordinator(endpoints []string, ttl int, log *zap.Logger, opts ...Option) (*EtcdCoordinator, error) {
	o := options{dialTimeout: DefaultDialTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if log == nil {
		log = zap.NewNop()
	}

	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: o.dialTimeout,
		Logger:      log.Named("etcd-client"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}

	// Grant the lease up front so an unreachable cluster fails fast instead
	// of blocking session creation.
	ctx, cancel := context.WithTimeout(context.Background(), o.dialTimeout)
	lease, err := cli.Grant(ctx, int64(ttl))
	cancel()
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("failed to grant lease: %w", err)
	}

	// The session keeps the lease alive; losing it ends leadership.
	sess, err := concurrency.NewSession(cli, concurrency.WithLease(lease.ID))
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("failed to create concurrency session: %w", err)
	}

	log.Info("connected to etcd", zap.Strings("endpoints", endpoints), zap.Int("ttl", ttl))
	return &EtcdCoordinator{
		client:  cli,
		session: sess,
		log:     log,
	}, nil
}

func (c *EtcdCoordinator) Close() error {
	if c.session != nil {
		c.session.Close()
	}
	return c.client.Close()
}

// Done is closed when the lease behind every election is lost.
func (c *EtcdCoordinator) Done() <-chan struct{} {
	return c.session.Done()
}

func (c *EtcdCoordinator) NewElection(name string) coordination.Election {
	e := concurrency.NewElection(c.session, ElectionPrefix+name)
	return &EtcdElection{election: e, name: name, log: c.log}
}

// EtcdElection wraps the etcd concurrency.Election struct
type EtcdElection struct {
	election *concurrency.Election
	name     string
	log      *zap.Logger
}

func (e *EtcdElection) Campaign(ctx context.Context, value string) error {
	e.log.Info("campaigning for leadership", zap.String("election", e.name), zap.String("value", value))
	if err := e.election.Campaign(ctx, value); err != nil {
		return fmt.Errorf("campaign %s: %w", e.name, err)
	}
	return nil
}

func (e *EtcdElection) Resign(ctx context.Context) error {
	return e.election.Resign(ctx)
}

func (e *EtcdElection) Leader(ctx context.Context) (string, error) {
	resp, err := e.election.Leader(ctx)
	if err != nil {
		if errors.Is(err, concurrency.ErrElectionNoLeader) {
			return "", coordination.ErrNoLeader
		}
		return "", err
	}
	if len(resp.Kvs) == 0 {
		return "", coordination.ErrNoLeader
	}
	return string(resp.Kvs[0].Value), nil
}
