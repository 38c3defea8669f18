package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "drapo/pkg/resilience"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type sleepRecorder struct{ calls []time.Duration }

func (s *sleepRecorder) Sleep(_ context.Context, d time.Duration) error {
	s.calls = append(s.calls, d)
	return nil
}

func TestGatePolicy_FirstCheckSucceeds(t *testing.T) {
	var sleeps sleepRecorder
	p := GatePolicy{Interval: 10 * time.Minute}

	n, err := p.Wait(context.Background(), sleeps.Sleep, func(int) bool { return true }, nil)

	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, sleeps.calls)
}

func TestGatePolicy_SleepsBetweenFailures(t *testing.T) {
	var sleeps sleepRecorder
	var retries []int
	p := GatePolicy{Interval: time.Minute}

	n, err := p.Wait(context.Background(), sleeps.Sleep,
		func(attempt int) bool { return attempt == 4 },
		func(attempt int, wait time.Duration) { retries = append(retries, attempt) },
	)

	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, []time.Duration{time.Minute, time.Minute, time.Minute}, sleeps.calls)
	assert.Equal(t, []int{1, 2, 3}, retries)
}

func TestGatePolicy_MaxAttempts(t *testing.T) {
	var sleeps sleepRecorder
	p := GatePolicy{Interval: time.Second, MaxAttempts: 3}

	n, err := p.Wait(context.Background(), sleeps.Sleep, func(int) bool { return false }, nil)

	assert.ErrorIs(t, err, ErrAttemptsExhausted)
	assert.Equal(t, 3, n)
	assert.Len(t, sleeps.calls, 2)
}

func TestGatePolicy_ZeroIntervalNeverSleeps(t *testing.T) {
	var sleeps sleepRecorder
	p := GatePolicy{}

	n, err := p.Wait(context.Background(), sleeps.Sleep, func(attempt int) bool { return attempt == 5 }, nil)

	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Empty(t, sleeps.calls)
}

func TestGatePolicy_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := GatePolicy{Interval: time.Hour}

	_, err := p.Wait(ctx, func(ctx context.Context, d time.Duration) error {
		cancel()
		return Sleep(ctx, d)
	}, func(int) bool { return false }, nil)

	assert.ErrorIs(t, err, context.Canceled)
}

func TestSleep(t *testing.T) {
	require.NoError(t, Sleep(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
}

func TestCircuitBreaker_InitialState(t *testing.T) {
	cb := NewCircuitBreaker("test", DefaultCircuitBreakerConfig())
	assert.Equal(t, CircuitClosed, cb.State())
	assert.Equal(t, "closed", cb.State().String())
}

func TestCircuitBreaker_OpensAfterFailures(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	cb := NewCircuitBreaker("archive", CircuitBreakerConfig{FailureThreshold: 2, Cooldown: time.Minute, Clock: clock})
	boom := errors.New("boom")

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, cb.Execute(context.Background(), func(context.Context) error { return boom }), boom)
	}
	assert.Equal(t, CircuitOpen, cb.State())

	called := false
	err := cb.Execute(context.Background(), func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestCircuitBreaker_HalfOpenTrial(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	cb := NewCircuitBreaker("archive", CircuitBreakerConfig{FailureThreshold: 1, Cooldown: time.Minute, Clock: clock})
	boom := errors.New("boom")

	_ = cb.Execute(context.Background(), func(context.Context) error { return boom })
	require.Equal(t, CircuitOpen, cb.State())

	clock.Advance(time.Minute)
	assert.Equal(t, CircuitHalfOpen, cb.State())

	// A failed trial reopens.
	_ = cb.Execute(context.Background(), func(context.Context) error { return boom })
	assert.Equal(t, CircuitOpen, cb.State())

	clock.Advance(time.Minute)
	require.NoError(t, cb.Execute(context.Background(), func(context.Context) error { return nil }))
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker("archive", CircuitBreakerConfig{FailureThreshold: 1, Cooldown: time.Hour})
	_ = cb.Execute(context.Background(), func(context.Context) error { return errors.New("x") })
	require.Equal(t, CircuitOpen, cb.State())

	cb.Reset()
	assert.Equal(t, CircuitClosed, cb.State())
}
