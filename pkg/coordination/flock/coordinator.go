// Package flock elects the active scheduler on one host with an advisory
// file lock.
package flock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"drapo/pkg/coordination"
)

// DefaultRetryDelay is how often a blocked campaign retries the lock.
const DefaultRetryDelay = time.Second

// Coordinator hands out elections backed by lock files next to path.
// The election name is appended to the file name so distinct elections
// never share a lock.
type Coordinator struct {
	path       string
	retryDelay time.Duration
	log        *zap.Logger
}

func NewCoordinator(path string, retryDelay time.Duration, log *zap.Logger) (*Coordinator, error) {
	if path == "" {
		return nil, errors.New("lock file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	if retryDelay <= 0 {
		retryDelay = DefaultRetryDelay
	}
	return &Coordinator{path: path, retryDelay: retryDelay, log: log}, nil
}

func (c *Coordinator) NewElection(name string) coordination.Election {
	lockPath := c.path
	if name != "" {
		lockPath = c.path + "." + name
	}
	return &Election{
		lock:       flock.New(lockPath),
		ownerPath:  lockPath + ".owner",
		retryDelay: c.retryDelay,
		log:        c.log.With(zap.String("lock", lockPath)),
	}
}

func (c *Coordinator) Close() error { return nil }

// Election holds the lock while leader. The leader's value is written to
// a sidecar file so other processes can read it.
type Election struct {
	lock       *flock.Flock
	ownerPath  string
	retryDelay time.Duration
	log        *zap.Logger
}

func (e *Election) Campaign(ctx context.Context, value string) error {
	ok, err := e.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		holder, _ := e.Leader(ctx)
		e.log.Info("lock held by another instance, waiting", zap.String("holder", holder))
		ok, err = e.lock.TryLockContext(ctx, e.retryDelay)
		if err != nil {
			return fmt.Errorf("acquire lock: %w", err)
		}
		if !ok {
			return ctx.Err()
		}
	}
	if err := os.WriteFile(e.ownerPath, []byte(value), 0o644); err != nil {
		_ = e.lock.Unlock()
		return fmt.Errorf("write lock owner: %w", err)
	}
	e.log.Info("lock acquired", zap.String("value", value))
	return nil
}

func (e *Election) Resign(ctx context.Context) error {
	if !e.lock.Locked() {
		return nil
	}
	if err := os.Remove(e.ownerPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		e.log.Warn("failed to remove lock owner file", zap.Error(err))
	}
	if err := e.lock.Unlock(); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

func (e *Election) Leader(ctx context.Context) (string, error) {
	data, err := os.ReadFile(e.ownerPath)
	if errors.Is(err, os.ErrNotExist) {
		return "", coordination.ErrNoLeader
	}
	if err != nil {
		return "", err
	}
	v := strings.TrimSpace(string(data))
	if v == "" {
		return "", coordination.ErrNoLeader
	}
	return v, nil
}
