package unitrunner

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() log.Logger {
	return log.NewLogger(log.DiscardHandler())
}

// TestDefaultTestScheduler_RunOnce tests the scheduler without an interval
func TestDefaultTestScheduler_RunOnce(t *testing.T) {
	var calls atomic.Int32
	scheduler := NewDefaultTestScheduler(0, testLogger())
	scheduler.RegisterCallback(func(ctx context.Context) error {
		calls.Add(1)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, scheduler.Start(ctx))
	assert.Equal(t, int32(1), calls.Load())

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load(), "Expected callback to be called exactly once")
	assert.NoError(t, scheduler.WaitForShutdown(ctx))
}

// TestDefaultTestScheduler_Periodic tests the scheduler in periodic mode
func TestDefaultTestScheduler_Periodic(t *testing.T) {
	callChan := make(chan struct{}, 10)
	expectedCalls := 4

	scheduler := NewDefaultTestScheduler(10*time.Millisecond, testLogger())
	scheduler.RegisterCallback(func(ctx context.Context) error {
		select {
		case callChan <- struct{}{}:
		default:
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, scheduler.Start(ctx))

	for i := 0; i < expectedCalls; i++ {
		select {
		case <-callChan:
		case <-time.After(time.Second):
			t.Fatalf("Timed out waiting for callback execution %d/%d", i+1, expectedCalls)
		}
	}

	require.NoError(t, scheduler.Stop())
	assert.True(t, scheduler.Stopped())
	require.NoError(t, scheduler.WaitForShutdown(ctx))

	// drain anything sent before the loop exited
	for len(callChan) > 0 {
		<-callChan
	}
	select {
	case <-callChan:
		t.Fatal("callback called after stop")
	case <-time.After(50 * time.Millisecond):
	}
}

// TestDefaultTestScheduler_CallbackError tests that the first run's error is returned
func TestDefaultTestScheduler_CallbackError(t *testing.T) {
	expectedError := errors.New("test callback error")
	for _, interval := range []time.Duration{0, time.Hour} {
		scheduler := NewDefaultTestScheduler(interval, testLogger())
		scheduler.RegisterCallback(func(ctx context.Context) error {
			return expectedError
		})

		err := scheduler.Start(context.Background())
		assert.Equal(t, expectedError, err)
		assert.NoError(t, scheduler.WaitForShutdown(context.Background()))
	}
}

// TestDefaultTestScheduler_NoCallback tests that an error is returned when no callback is registered
func TestDefaultTestScheduler_NoCallback(t *testing.T) {
	scheduler := NewDefaultTestScheduler(0, testLogger())

	err := scheduler.Start(context.Background())
	assert.ErrorContains(t, err, "callback must be registered")
}

// TestDefaultTestScheduler_AlreadyStopped tests that Stop() is idempotent
func TestDefaultTestScheduler_AlreadyStopped(t *testing.T) {
	scheduler := NewDefaultTestScheduler(time.Hour, testLogger())
	scheduler.RegisterCallback(func(ctx context.Context) error { return nil })

	assert.NoError(t, scheduler.Stop())
	assert.NoError(t, scheduler.Stop())

	require.NoError(t, scheduler.Start(context.Background()))
	assert.NoError(t, scheduler.Stop())
	assert.NoError(t, scheduler.Stop())
	assert.NoError(t, scheduler.WaitForShutdown(context.Background()))
}

// TestDefaultTestScheduler_ContextCancel tests that cancelling the start context ends the loop
func TestDefaultTestScheduler_ContextCancel(t *testing.T) {
	scheduler := NewDefaultTestScheduler(time.Hour, testLogger())
	scheduler.RegisterCallback(func(ctx context.Context) error { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, scheduler.Start(ctx))
	cancel()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	require.NoError(t, scheduler.WaitForShutdown(waitCtx))
	assert.True(t, scheduler.Stopped())
}
