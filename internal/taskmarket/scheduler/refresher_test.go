package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trigg3rX/taskmarket/pkg/logging"
	"github.com/trigg3rX/taskmarket/pkg/types"
)

type funcSyncer func(ctx context.Context) (*types.Snapshot, error)

func (f funcSyncer) Synchronize(ctx context.Context) (*types.Snapshot, error) {
	return f(ctx)
}

func TestNewRefresher_RejectsNonPositiveInterval(t *testing.T) {
	_, err := NewRefresher(funcSyncer(nil), 0, 0, logging.NewNoOpLogger())
	assert.Error(t, err)
}

func TestRefresher_RunsOnInterval(t *testing.T) {
	var calls atomic.Int32
	r, err := NewRefresher(funcSyncer(func(ctx context.Context) (*types.Snapshot, error) {
		calls.Add(1)
		return &types.Snapshot{}, nil
	}), time.Second, 0, logging.NewNoOpLogger())
	require.NoError(t, err)

	require.NoError(t, r.Start(context.Background()))
	assert.Error(t, r.Start(context.Background()), "second start")

	assert.Eventually(t, func() bool { return calls.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)
	r.Stop()
	r.Stop()

	n := calls.Load()
	time.Sleep(1200 * time.Millisecond)
	assert.Equal(t, n, calls.Load(), "no refresh after stop")
}

func TestRefresher_SkipsWhileRefreshIsRunning(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	r, err := NewRefresher(funcSyncer(func(ctx context.Context) (*types.Snapshot, error) {
		calls.Add(1)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil, errors.New("interrupted")
	}), time.Second, time.Minute, logging.NewNoOpLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, r.Start(ctx))

	require.Eventually(t, func() bool { return calls.Load() == 1 }, 3*time.Second, 20*time.Millisecond)
	time.Sleep(1500 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())

	close(release)
	cancel()
	assert.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.cancel == nil
	}, time.Second, 10*time.Millisecond)
}
