package coordinator

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type countingRunner struct {
	calls atomic.Int32
	err   error
	panic bool
	block bool
}

func (r *countingRunner) Run(ctx context.Context) (*Summary, error) {
	r.calls.Add(1)
	if r.panic {
		panic("run exploded")
	}
	if r.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if r.err != nil {
		return nil, r.err
	}
	return &Summary{RunID: "run"}, nil
}

func TestNewTicker_Validation(t *testing.T) {
	_, err := NewTicker(nil, time.Second, nil)
	assert.Error(t, err)

	_, err = NewTicker(&countingRunner{}, 0, nil)
	assert.Error(t, err)
}

func TestTicker_RunsUntilStopped(t *testing.T) {
	runner := &countingRunner{}
	tk, err := NewTicker(runner, 10*time.Millisecond, nil)
	require.NoError(t, err)

	require.NoError(t, tk.Start())
	assert.True(t, tk.Running())
	assert.Error(t, tk.Start(), "double start")

	require.Eventually(t, func() bool { return runner.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)

	tk.Stop()
	assert.False(t, tk.Running())
	after := runner.calls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, runner.calls.Load(), "no runs after stop")

	tk.Stop()
}

func TestTicker_SurvivesFailuresAndPanics(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)

	for name, runner := range map[string]*countingRunner{
		"error": {err: errors.New("list failed")},
		"panic": {panic: true},
	} {
		t.Run(name, func(t *testing.T) {
			tk, err := NewTicker(runner, 10*time.Millisecond, zap.New(core))
			require.NoError(t, err)
			require.NoError(t, tk.Start())
			defer tk.Stop()

			require.Eventually(t, func() bool { return runner.calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
		})
	}

	assert.NotZero(t, logs.FilterMessage("scheduled run failed").Len())
	assert.NotZero(t, logs.FilterMessage("scheduled run panicked, continuing").Len())
}

func TestTicker_StopCancelsInFlightRun(t *testing.T) {
	runner := &countingRunner{block: true}
	tk, err := NewTicker(runner, 10*time.Millisecond, nil, WithRunTimeout(time.Hour))
	require.NoError(t, err)
	require.NoError(t, tk.Start())

	require.Eventually(t, func() bool { return runner.calls.Load() >= 1 }, 2*time.Second, 5*time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		tk.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return while a run was in flight")
	}
}
