package circuitbreaker

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBackend = errors.New("backend down")

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestClosedPassesThrough(t *testing.T) {
	b := New(PublishConfig("test"), quiet())

	calls := 0
	err := b.Execute(func() error { calls++; return nil })
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, StateClosed, b.State())
}

func TestTripsAfterConsecutiveFailures(t *testing.T) {
	cfg := PublishConfig("test")
	cfg.TripAfter = 3
	b := New(cfg, quiet())

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, b.Execute(func() error { return errBackend }), errBackend)
	}
	assert.Equal(t, StateOpen, b.State())

	// Open breaker fails fast without calling the backend.
	calls := 0
	err := b.Execute(func() error { calls++; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.Equal(t, 0, calls)
}

func TestSuccessResetsConsecutiveFailures(t *testing.T) {
	cfg := PublishConfig("test")
	cfg.TripAfter = 3
	b := New(cfg, quiet())

	b.Execute(func() error { return errBackend })
	b.Execute(func() error { return errBackend })
	b.Execute(func() error { return nil })
	b.Execute(func() error { return errBackend })
	b.Execute(func() error { return errBackend })

	assert.Equal(t, StateClosed, b.State())
}

func TestHalfOpenRecovery(t *testing.T) {
	cfg := PublishConfig("test")
	cfg.TripAfter = 1
	cfg.Timeout = 10 * time.Millisecond
	b := New(cfg, quiet())

	require.Error(t, b.Execute(func() error { return errBackend }))
	assert.Equal(t, StateOpen, b.State())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, b.State())

	// A successful probe closes the breaker.
	require.NoError(t, b.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, b.State())
}

func TestHalfOpenFailureReopens(t *testing.T) {
	cfg := PublishConfig("test")
	cfg.TripAfter = 1
	cfg.Timeout = 10 * time.Millisecond
	b := New(cfg, quiet())

	require.Error(t, b.Execute(func() error { return errBackend }))
	time.Sleep(20 * time.Millisecond)

	require.Error(t, b.Execute(func() error { return errBackend }))
	assert.Equal(t, StateOpen, b.State())
}
