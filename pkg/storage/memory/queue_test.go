package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drapo/pkg/models"
	"drapo/pkg/storage"
	"drapo/pkg/storage/memory"
)

func TestQueue_FIFOAndAck(t *testing.T) {
	q := memory.NewQueue(4, 50*time.Millisecond)
	ctx := context.Background()
	require.NoError(t, q.EnsureGroup(ctx, storage.DefaultGroup))

	require.NoError(t, q.Push(ctx, models.NewTrigger("a", models.TriggerCLI)))
	require.NoError(t, q.Push(ctx, models.NewTrigger("b", models.TriggerAPI)))
	assert.Equal(t, 2, q.Len())

	id, tr, err := q.Pop(ctx, storage.DefaultGroup, "c1")
	require.NoError(t, err)
	require.NotNil(t, tr)
	assert.Equal(t, "a", tr.Flow)
	assert.Equal(t, 1, q.Pending())

	require.NoError(t, q.Ack(ctx, storage.DefaultGroup, id))
	assert.Zero(t, q.Pending())
	assert.ErrorIs(t, q.Ack(ctx, storage.DefaultGroup, id), storage.ErrNotFound)

	_, tr, err = q.Pop(ctx, storage.DefaultGroup, "c1")
	require.NoError(t, err)
	assert.Equal(t, "b", tr.Flow)
}

func TestQueue_PopTimesOutEmpty(t *testing.T) {
	q := memory.NewQueue(1, 10*time.Millisecond)

	id, tr, err := q.Pop(context.Background(), storage.DefaultGroup, "c1")

	assert.NoError(t, err)
	assert.Nil(t, tr)
	assert.Empty(t, id)
}

func TestQueue_Close(t *testing.T) {
	q := memory.NewQueue(1, time.Second)
	require.NoError(t, q.Close())
	require.NoError(t, q.Close())

	assert.ErrorIs(t, q.Push(context.Background(), models.NewTrigger("a", models.TriggerCLI)), storage.ErrQueueClosed)
	_, _, err := q.Pop(context.Background(), storage.DefaultGroup, "c1")
	assert.ErrorIs(t, err, storage.ErrQueueClosed)
}

func TestQueue_PushRespectsContext(t *testing.T) {
	q := memory.NewQueue(1, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, q.Push(ctx, models.NewTrigger("a", models.TriggerCLI)))

	cancel()
	assert.ErrorIs(t, q.Push(ctx, models.NewTrigger("b", models.TriggerCLI)), context.Canceled)
}
