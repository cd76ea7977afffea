// Package scheduler runs sync cycles on an interval, single-flight across instances.
package scheduler

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/syncer"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

var (
	ErrSchedulerAlreadyRunning = errors.New("scheduler already running")
	// ErrSyncLocked is returned when another instance holds the sync lock.
	ErrSyncLocked = errors.New("sync locked by another instance")
)

const (
	DefaultInterval = 5 * time.Minute
	DefaultLockTTL  = 10 * time.Minute
	DefaultJitter   = 0.1

	LockKey = "sync"
)

type Syncer interface {
	Sync(ctx context.Context) (*syncer.Outcome, error)
	Reset(ctx context.Context) error
}

type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error
}

type Config struct {
	Interval time.Duration
	LockTTL  time.Duration
	// Jitter spreads ticks by up to this fraction of Interval so instances do not align.
	Jitter float64
}

type Scheduler struct {
	syncer Syncer
	locker Locker
	config Config
	logger ectologger.Logger

	stopCh   chan struct{}
	stoppedC chan struct{}
	running  bool
	mu       sync.RWMutex
}

// NewScheduler builds a scheduler. A nil locker keeps cycles single-flight within this process only.
func NewScheduler(s Syncer, locker Locker, config Config, logger ectologger.Logger) *Scheduler {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.LockTTL <= 0 {
		config.LockTTL = DefaultLockTTL
	}
	if config.Jitter < 0 || config.Jitter >= 1 {
		config.Jitter = DefaultJitter
	}

	return &Scheduler{
		syncer: s,
		locker: locker,
		config: config,
		logger: logger,
	}
}

// RunOnce runs one cycle under the distributed lock.
func (s *Scheduler) RunOnce(ctx context.Context) (*syncer.Outcome, error) {
	ctx, span := tracing.StartSpan(ctx, "scheduler.Scheduler.RunOnce")
	defer span.End()

	var outcome *syncer.Outcome
	err := s.withLock(ctx, func(ctx context.Context) error {
		var err error
		outcome, err = s.syncer.Sync(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

// Reset wipes local state under the same lock as RunOnce.
func (s *Scheduler) Reset(ctx context.Context) error {
	ctx, span := tracing.StartSpan(ctx, "scheduler.Scheduler.Reset")
	defer span.End()

	return s.withLock(ctx, s.syncer.Reset)
}

func (s *Scheduler) withLock(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.locker == nil {
		return fn(ctx)
	}
	err := s.locker.WithLock(ctx, LockKey, s.config.LockTTL, fn)
	if errors.Is(err, redis.ErrLockNotAcquired) {
		metrics.SchedulerLockContention.Inc()
		return ErrSyncLocked
	}
	return err
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrSchedulerAlreadyRunning
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.stoppedC = make(chan struct{})

	s.logger.WithContext(ctx).Infof("Starting scheduler: interval=%s lock_ttl=%s", s.config.Interval, s.config.LockTTL)
	go s.loop(ctx, s.stopCh, s.stoppedC)
	return nil
}

// Stop signals the loop and waits for the running cycle to finish or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	stopCh, stoppedC := s.stopCh, s.stoppedC
	s.mu.Unlock()

	s.logger.WithContext(ctx).Info("Stopping scheduler...")
	close(stopCh)

	select {
	case <-stoppedC:
		s.logger.WithContext(ctx).Info("Scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.WithContext(ctx).Warn("Scheduler shutdown timed out")
		return ctx.Err()
	}
}

func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Scheduler) next() time.Duration {
	if s.config.Jitter == 0 {
		return s.config.Interval
	}
	spread := float64(s.config.Interval) * s.config.Jitter
	return s.config.Interval + time.Duration((rand.Float64()*2-1)*spread)
}

func (s *Scheduler) loop(ctx context.Context, stopCh <-chan struct{}, stoppedC chan<- struct{}) {
	defer close(stoppedC)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-stopCh:
			s.logger.WithContext(ctx).Debug("Scheduler loop stopping")
			return
		case <-ctx.Done():
			return
		case <-timer.C:
			s.tick(ctx)
			timer.Reset(s.next())
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	outcome, err := s.RunOnce(ctx)
	switch {
	case err == nil:
		s.logger.WithContext(ctx).WithFields(map[string]any{
			"cycle_id": outcome.CycleID,
			"mode":     outcome.Mode,
			"applied":  outcome.Applied,
			"deleted":  outcome.Deleted,
		}).Info("Scheduled sync completed")
	case errors.Is(err, ErrSyncLocked), errors.Is(err, syncer.ErrCycleInProgress):
		s.logger.WithContext(ctx).WithError(err).Debug("Scheduled sync skipped")
	default:
		s.logger.WithContext(ctx).WithError(err).WithField("transient", syncer.IsTransient(err)).Error("Scheduled sync failed")
	}
}
