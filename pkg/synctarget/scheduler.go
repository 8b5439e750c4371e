package synctarget

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/sundew/internal/repositories/synctarget"
	"github.com/Ramsey-B/sundew/pkg/metrics"
	"github.com/Ramsey-B/sundew/pkg/redis"
	"github.com/Ramsey-B/sundew/pkg/tracing"
)

var (
	// ErrSchedulerAlreadyRunning is returned when starting a running scheduler
	ErrSchedulerAlreadyRunning = errors.New("scheduler already running")
)

const (
	// DefaultPollInterval is the default interval between scheduling cycles
	DefaultPollInterval = 30 * time.Second

	// DefaultLockTTL covers the window between enqueue and the runner taking
	// its own advisory lock
	DefaultLockTTL = 60 * time.Second

	// DefaultEnqueueJitter is the upper bound of the random delay before each
	// enqueue, so targets sharing a period do not publish in lockstep
	DefaultEnqueueJitter = 250 * time.Millisecond

	// SyncTaskStream is the Redis stream sync tasks are enqueued onto
	SyncTaskStream = "sundew:sync-tasks"

	// LockKeyPrefix is the prefix for scheduler enqueue locks
	LockKeyPrefix = "scheduler:target:"
)

// SchedulerConfig holds scheduler configuration
type SchedulerConfig struct {
	PollInterval  time.Duration
	LockTTL       time.Duration
	EnqueueJitter time.Duration
	Stream        string
}

// Scheduler polls for due sync targets and enqueues them. A small random
// jitter before each enqueue spreads out targets that share a period. The
// Redis lock only dedupes enqueueing across scheduler instances; mutual
// exclusion of the sync run itself is the runner's advisory lock.
type Scheduler struct {
	repo    *synctarget.Repository
	streams *redis.Streams
	locker  *redis.Locker
	config  SchedulerConfig
	logger  ectologger.Logger

	stopCh   chan struct{}
	stoppedC chan struct{}
	running  bool
	mu       sync.RWMutex
}

// NewScheduler creates a new scheduler
func NewScheduler(
	repo *synctarget.Repository,
	streams *redis.Streams,
	locker *redis.Locker,
	config SchedulerConfig,
	logger ectologger.Logger,
) *Scheduler {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.LockTTL <= 0 {
		config.LockTTL = DefaultLockTTL
	}
	if config.EnqueueJitter <= 0 {
		config.EnqueueJitter = DefaultEnqueueJitter
	}
	if config.Stream == "" {
		config.Stream = SyncTaskStream
	}

	return &Scheduler{
		repo:     repo,
		streams:  streams,
		locker:   locker,
		config:   config,
		logger:   logger,
		stopCh:   make(chan struct{}),
		stoppedC: make(chan struct{}),
	}
}

// Start starts the scheduler
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrSchedulerAlreadyRunning
	}
	s.running = true
	s.mu.Unlock()

	s.logger.WithContext(ctx).Infof("Starting sync scheduler: poll_interval=%s stream=%s",
		s.config.PollInterval, s.config.Stream)

	go s.pollLoop(ctx)
	return nil
}

// Stop stops the scheduler gracefully
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)

	select {
	case <-s.stoppedC:
		s.logger.WithContext(ctx).Info("Sync scheduler stopped gracefully")
	case <-ctx.Done():
		s.logger.WithContext(ctx).Warn("Sync scheduler shutdown timed out")
		return ctx.Err()
	}
	return nil
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Scheduler) pollLoop(ctx context.Context) {
	defer close(s.stoppedC)

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	// Run immediately on start
	s.runSchedulingCycle(ctx)

	for {
		select {
		case <-s.stopCh:
			s.logger.WithContext(ctx).Debug("Sync scheduler poll loop stopping")
			return
		case <-ticker.C:
			s.runSchedulingCycle(ctx)
		}
	}
}

func (s *Scheduler) runSchedulingCycle(ctx context.Context) {
	ctx, span := tracing.StartSpan(ctx, "synctarget.Scheduler.runSchedulingCycle")
	defer span.End()

	start := time.Now()

	targets, err := s.repo.ListDue(ctx, time.Now().UTC())
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("Failed to list due sync targets")
		return
	}
	if len(targets) == 0 {
		s.logger.WithContext(ctx).Debug("No sync targets due")
		return
	}

	scheduled := 0
	skipped := 0
	for i := range targets {
		if err := s.scheduleTarget(ctx, targets[i].ID, targets[i].OrganizationID); err != nil {
			if errors.Is(err, redis.ErrLockNotAcquired) {
				skipped++
				continue
			}
			s.logger.WithContext(ctx).WithError(err).Warnf("Failed to schedule sync target %s", targets[i].ID)
			continue
		}
		scheduled++
		metrics.SyncTargetsScheduled.Inc()
	}

	s.logger.WithContext(ctx).Infof("Sync scheduling cycle completed: scheduled=%d skipped=%d duration=%s",
		scheduled, skipped, time.Since(start))
}

func (s *Scheduler) scheduleTarget(ctx context.Context, targetID, organizationID string) error {
	time.Sleep(enqueueJitter(s.config.EnqueueJitter))

	lock, err := s.locker.Acquire(ctx, LockKeyPrefix+targetID, s.config.LockTTL)
	if err != nil {
		return err
	}
	defer lock.Release(ctx)

	task := &redis.SyncTaskMessage{
		SyncTargetID:   targetID,
		OrganizationID: organizationID,
	}
	if _, err := s.streams.Publish(ctx, s.config.Stream, task); err != nil {
		return err
	}
	return nil
}

// enqueueJitter returns a random delay in [0, max)
func enqueueJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(max)))
}
