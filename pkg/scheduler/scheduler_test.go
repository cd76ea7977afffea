package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/syncer"
)

type countingSyncer struct {
	calls  atomic.Int32
	resets atomic.Int32
	err    error
}

func (s *countingSyncer) Reset(context.Context) error {
	s.resets.Add(1)
	return nil
}

func (s *countingSyncer) Sync(context.Context) (*syncer.Outcome, error) {
	n := s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return &syncer.Outcome{CycleID: "c", Applied: int(n)}, nil
}

type fakeLocker struct {
	mu   sync.Mutex
	held bool
	keys []string
}

func (l *fakeLocker) WithLock(ctx context.Context, key string, _ time.Duration, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	if l.held {
		l.mu.Unlock()
		return redis.ErrLockNotAcquired
	}
	l.keys = append(l.keys, key)
	l.mu.Unlock()
	return fn(ctx)
}

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func TestScheduler_RunOnce(t *testing.T) {
	t.Run("without locker", func(t *testing.T) {
		s := &countingSyncer{}
		outcome, err := NewScheduler(s, nil, Config{}, testLogger()).RunOnce(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, outcome.Applied)
	})

	t.Run("under lock", func(t *testing.T) {
		s := &countingSyncer{}
		locker := &fakeLocker{}
		_, err := NewScheduler(s, locker, Config{}, testLogger()).RunOnce(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []string{LockKey}, locker.keys)
	})

	t.Run("lock held elsewhere", func(t *testing.T) {
		s := &countingSyncer{}
		_, err := NewScheduler(s, &fakeLocker{held: true}, Config{}, testLogger()).RunOnce(context.Background())
		assert.ErrorIs(t, err, ErrSyncLocked)
		assert.Zero(t, s.calls.Load())
	})

	t.Run("reset under lock", func(t *testing.T) {
		s := &countingSyncer{}
		sched := NewScheduler(s, &fakeLocker{held: true}, Config{}, testLogger())
		assert.ErrorIs(t, sched.Reset(context.Background()), ErrSyncLocked)
		assert.Zero(t, s.resets.Load())

		sched = NewScheduler(s, &fakeLocker{}, Config{}, testLogger())
		require.NoError(t, sched.Reset(context.Background()))
		assert.Equal(t, int32(1), s.resets.Load())
	})

	t.Run("sync error passes through", func(t *testing.T) {
		s := &countingSyncer{err: syncer.ErrFetchFailed}
		_, err := NewScheduler(s, &fakeLocker{}, Config{}, testLogger()).RunOnce(context.Background())
		assert.True(t, errors.Is(err, syncer.ErrFetchFailed))
	})
}

func TestScheduler_StartStop(t *testing.T) {
	s := &countingSyncer{}
	sched := NewScheduler(s, nil, Config{Interval: 10 * time.Millisecond, Jitter: 0.5}, testLogger())

	require.NoError(t, sched.Start(context.Background()))
	assert.True(t, sched.IsRunning())
	assert.ErrorIs(t, sched.Start(context.Background()), ErrSchedulerAlreadyRunning)

	assert.Eventually(t, func() bool { return s.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, sched.Stop(ctx))
	assert.False(t, sched.IsRunning())

	after := s.calls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, s.calls.Load())

	// restartable after stop
	require.NoError(t, sched.Start(context.Background()))
	require.NoError(t, sched.Stop(ctx))
}

func TestScheduler_Defaults(t *testing.T) {
	sched := NewScheduler(&countingSyncer{}, nil, Config{Jitter: 2}, testLogger())
	assert.Equal(t, DefaultInterval, sched.config.Interval)
	assert.Equal(t, DefaultLockTTL, sched.config.LockTTL)
	assert.Equal(t, DefaultJitter, sched.config.Jitter)

	for range 20 {
		d := sched.next()
		assert.GreaterOrEqual(t, d, time.Duration(float64(DefaultInterval)*0.9))
		assert.LessOrEqual(t, d, time.Duration(float64(DefaultInterval)*1.1))
	}
}
