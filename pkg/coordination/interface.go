// Package coordination guarantees that only one scheduler fires flows.
package coordination

import (
	"context"
	"errors"
	"sync"
)

// ErrNoLeader is returned by Leader when nobody holds the election.
var ErrNoLeader = errors.New("election has no leader")

// Coordinator handles distributed coordination tasks.
type Coordinator interface {
	// NewElection creates a new election instance for a given campaign name.
	NewElection(name string) Election

	// Close terminates the coordinator connection.
	Close() error
}

// Election represents a single leader election campaign.
type Election interface {
	// Campaign starts the process of trying to become leader.
	// It blocks until leadership is acquired or an error occurs.
	Campaign(ctx context.Context, value string) error

	// Resign releases leadership.
	Resign(ctx context.Context) error

	// Leader returns the current leader's value (if any).
	Leader(ctx context.Context) (string, error)
}

// Local is a Coordinator for a single process. Its elections are won
// immediately unless another election of the same name in this process
// holds them.
type Local struct {
	mu     sync.Mutex
	owners map[string]string
	freed  map[string]chan struct{}
}

func NewLocal() *Local {
	return &Local{owners: map[string]string{}, freed: map[string]chan struct{}{}}
}

func (l *Local) NewElection(name string) Election {
	return &localElection{parent: l, name: name}
}

func (l *Local) Close() error { return nil }

type localElection struct {
	parent *Local
	name   string
	held   bool
}

func (e *localElection) Campaign(ctx context.Context, value string) error {
	l := e.parent
	for {
		l.mu.Lock()
		if _, taken := l.owners[e.name]; !taken {
			l.owners[e.name] = value
			l.freed[e.name] = make(chan struct{})
			l.mu.Unlock()
			e.held = true
			return nil
		}
		freed := l.freed[e.name]
		l.mu.Unlock()

		select {
		case <-freed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (e *localElection) Resign(ctx context.Context) error {
	if !e.held {
		return nil
	}
	l := e.parent
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.owners, e.name)
	close(l.freed[e.name])
	delete(l.freed, e.name)
	e.held = false
	return nil
}

func (e *localElection) Leader(ctx context.Context) (string, error) {
	l := e.parent
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.owners[e.name]
	if !ok {
		return "", ErrNoLeader
	}
	return v, nil
}
