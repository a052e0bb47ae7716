package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPollerRunsUntilCancelled(t *testing.T) {
	var runs atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	p := New("counter", time.Millisecond, func(context.Context) error {
		if runs.Add(1) == 3 {
			cancel()
		}
		return nil
	}, zap.NewNop())

	require.NoError(t, p.Run(ctx))
	require.GreaterOrEqual(t, runs.Load(), int32(3))
}

func TestPollerStopsOnError(t *testing.T) {
	var runs atomic.Int32
	boom := errors.New("boom")
	p := New("failing", time.Millisecond, func(context.Context) error {
		if runs.Add(1) == 2 {
			return boom
		}
		return nil
	}, zap.NewNop())

	err := p.Run(context.Background())
	require.ErrorIs(t, err, boom)
	require.Equal(t, int32(2), runs.Load())
}

func TestSupervisorCancelsOnFirstFailure(t *testing.T) {
	boom := errors.New("boom")

	var mu sync.Mutex
	var fatal []string
	s := NewSupervisor(context.Background(), zap.NewNop(), func(task string, err error) {
		mu.Lock()
		defer mu.Unlock()
		fatal = append(fatal, task)
	})

	s.Poll(New("healthy", time.Millisecond, func(context.Context) error { return nil }, zap.NewNop()))
	s.Go("broken", func(context.Context) error { return boom })

	err := s.Wait()
	require.ErrorIs(t, err, boom)
	require.Contains(t, err.Error(), "broken")
	require.Error(t, s.Context().Err())
	require.Equal(t, []string{"broken"}, fatal)
}

func TestSupervisorCleanShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewSupervisor(ctx, zap.NewNop(), nil)
	s.Poll(New("idle", time.Hour, func(context.Context) error { return nil }, zap.NewNop()))

	cancel()
	require.NoError(t, s.Wait())
}
