package errors

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	// Given: a circuit breaker with max 3 failures
	cb := NewCircuitBreaker("embedder",
		WithMaxFailures(3),
		WithResetTimeout(1*time.Second),
	)

	// When: recording 3 failures
	for i := 0; i < 3; i++ {
		_ = cb.Execute(func() error {
			return errors.New("error")
		})
	}

	// Then: circuit is open
	assert.Equal(t, StateOpen, cb.State())

	// And: requests are rejected
	err := cb.Execute(func() error {
		return nil // Would succeed if called
	})
	assert.Error(t, err)
	assert.True(t, errors.Is(err, ErrCircuitOpen))
}

func TestCircuitBreaker_RecoversAfterTimeout(t *testing.T) {
	// Given: an open circuit breaker
	cb := NewCircuitBreaker("embedder",
		WithMaxFailures(2),
		WithResetTimeout(50*time.Millisecond),
	)

	// Trip the circuit
	for i := 0; i < 2; i++ {
		_ = cb.Execute(func() error {
			return errors.New("error")
		})
	}
	require.Equal(t, StateOpen, cb.State())

	// When: waiting past the reset timeout
	time.Sleep(60 * time.Millisecond)

	// Then: circuit is half-open and a success closes it
	assert.Equal(t, StateHalfOpen, cb.State())

	err := cb.Execute(func() error {
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.Failures())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	// Given: a half-open circuit breaker
	cb := NewCircuitBreaker("embedder",
		WithMaxFailures(1),
		WithResetTimeout(20*time.Millisecond),
	)
	_ = cb.Execute(func() error { return errors.New("error") })
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, StateHalfOpen, cb.State())

	// When: the test request fails
	err := cb.Execute(func() error { return errors.New("still down") })

	// Then: circuit reopens
	assert.Error(t, err)
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker("embedder", WithMaxFailures(3))

	_ = cb.Execute(func() error { return errors.New("error") })
	_ = cb.Execute(func() error { return errors.New("error") })
	assert.Equal(t, 2, cb.Failures())

	_ = cb.Execute(func() error { return nil })
	assert.Equal(t, 0, cb.Failures())
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_Allow(t *testing.T) {
	cb := NewCircuitBreaker("embedder", WithMaxFailures(1), WithResetTimeout(1*time.Hour))

	assert.True(t, cb.Allow())

	cb.RecordFailure()
	assert.False(t, cb.Allow())
}

func TestCircuitExecuteWithResult_FallbackWhenOpen(t *testing.T) {
	// Given: an open circuit
	cb := NewCircuitBreaker("embedder", WithMaxFailures(1), WithResetTimeout(1*time.Hour))
	cb.RecordFailure()
	require.Equal(t, StateOpen, cb.State())

	called := false

	// When: executing with a fallback
	result, err := CircuitExecuteWithResult(cb,
		func() ([]float32, error) {
			called = true
			return []float32{1}, nil
		},
		func() ([]float32, error) {
			return nil, ProviderUnavailable("circuit open", ErrCircuitOpen)
		},
	)

	// Then: the primary function was never called
	assert.False(t, called)
	assert.Nil(t, result)
	assert.True(t, IsUnavailable(err))
}

func TestCircuitExecuteWithResult_PassthroughWhenClosed(t *testing.T) {
	cb := NewCircuitBreaker("embedder")

	result, err := CircuitExecuteWithResult(cb,
		func() (string, error) { return "ok", nil },
		func() (string, error) { return "fallback", nil },
	)

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
}
