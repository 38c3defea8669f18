package storage

import (
	"context"
	"errors"

	"drapo/pkg/models"
)

var (
	ErrNotFound    = errors.New("record not found")
	ErrQueueClosed = errors.New("queue closed")
)

// DefaultGroup is the consumer group the dispatcher reads from.
const DefaultGroup = "drapo-dispatchers"

// Queue carries flow triggers from producers (cron, API, CLI) to the
// dispatcher that runs them one at a time.
type Queue interface {
	// Push adds a trigger to the pending queue.
	Push(ctx context.Context, trigger *models.Trigger) error

	// Pop waits briefly for the next trigger. It returns a nil trigger and a
	// nil error when nothing arrived in time.
	Pop(ctx context.Context, group string, consumer string) (string, *models.Trigger, error)

	// Ack acknowledges a trigger as processed.
	Ack(ctx context.Context, group string, msgID string) error

	// EnsureGroup ensures the consumer group exists.
	EnsureGroup(ctx context.Context, group string) error

	Close() error
}

// LogStore archives the transcript of a flow run.
type LogStore interface {
	// Store saves logs under key and returns a reference path/URL
	Store(ctx context.Context, key string, logs []byte) (string, error)
	// Retrieve fetches logs by reference
	Retrieve(ctx context.Context, reference string) ([]byte, error)
}
