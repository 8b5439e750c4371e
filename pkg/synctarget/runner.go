package synctarget

import (
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"net/http"
	"sync"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/sundew/internal/repositories/organization"
	"github.com/Ramsey-B/sundew/internal/repositories/serviceintegration"
	"github.com/Ramsey-B/sundew/internal/repositories/synctarget"
	"github.com/Ramsey-B/sundew/pkg/database"
	"github.com/Ramsey-B/sundew/pkg/metrics"
	"github.com/Ramsey-B/sundew/pkg/redis"
	"github.com/Ramsey-B/sundew/pkg/replicator"
	"github.com/Ramsey-B/sundew/pkg/tracing"
)

const (
	// RunnerGroup is the consumer group for the sync task stream
	RunnerGroup = "sundew-sync-runner"

	// consumeBlock is how long one read blocks waiting for tasks
	consumeBlock = 5 * time.Second
)

// Runner consumes sync tasks and executes them. Each run holds a Postgres
// advisory lock keyed by the target id, so overlapping runs of one target
// collapse to a silent no-op even across processes.
type Runner struct {
	targets      *synctarget.Repository
	integrations *serviceintegration.Repository
	orgs         *organization.Repository
	registry     *replicator.Registry
	exporter     *Exporter
	locker       *database.AdvisoryLocker
	streams      *redis.Streams
	stream       string
	logger       ectologger.Logger

	consumer string
	stopCh   chan struct{}
	stoppedC chan struct{}
	running  bool
	mu       sync.RWMutex
}

// NewRunner creates a sync task runner
func NewRunner(
	targets *synctarget.Repository,
	integrations *serviceintegration.Repository,
	orgs *organization.Repository,
	registry *replicator.Registry,
	exporter *Exporter,
	locker *database.AdvisoryLocker,
	streams *redis.Streams,
	stream string,
	logger ectologger.Logger,
) *Runner {
	if stream == "" {
		stream = SyncTaskStream
	}
	return &Runner{
		targets:      targets,
		integrations: integrations,
		orgs:         orgs,
		registry:     registry,
		exporter:     exporter,
		locker:       locker,
		streams:      streams,
		stream:       stream,
		logger:       logger,
		consumer:     "runner-" + uuid.New().String()[:8],
		stopCh:       make(chan struct{}),
		stoppedC:     make(chan struct{}),
	}
}

// Start begins consuming sync tasks
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return errors.New("runner already running")
	}
	r.running = true
	r.mu.Unlock()

	if err := r.streams.CreateConsumerGroup(ctx, r.stream, RunnerGroup); err != nil {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
		return err
	}

	r.logger.WithContext(ctx).Infof("Starting sync runner: stream=%s consumer=%s", r.stream, r.consumer)
	go r.consumeLoop(ctx)
	return nil
}

// Stop stops the runner gracefully
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	r.mu.Unlock()

	close(r.stopCh)

	select {
	case <-r.stoppedC:
		r.logger.WithContext(ctx).Info("Sync runner stopped gracefully")
	case <-ctx.Done():
		r.logger.WithContext(ctx).Warn("Sync runner shutdown timed out")
		return ctx.Err()
	}
	return nil
}

func (r *Runner) consumeLoop(ctx context.Context) {
	defer close(r.stoppedC)

	for {
		select {
		case <-r.stopCh:
			return
		default:
		}

		messages, err := r.streams.Consume(ctx, r.stream, RunnerGroup, r.consumer, 10, consumeBlock)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			r.logger.WithContext(ctx).WithError(err).Error("Failed to consume sync tasks")
			select {
			case <-r.stopCh:
				return
			case <-time.After(time.Second):
			}
			continue
		}

		for _, msg := range messages {
			r.handleMessage(ctx, msg)
			if err := r.streams.Ack(ctx, r.stream, RunnerGroup, msg.ID); err != nil {
				r.logger.WithContext(ctx).WithError(err).Warnf("Failed to ack sync task %s", msg.ID)
			}
		}
	}
}

func (r *Runner) handleMessage(ctx context.Context, msg redis.StreamMessage) {
	raw, err := json.Marshal(msg.Payload)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Warnf("Dropping malformed sync task %s", msg.ID)
		return
	}
	var task redis.SyncTaskMessage
	if err := json.Unmarshal(raw, &task); err != nil || task.SyncTargetID == "" {
		r.logger.WithContext(ctx).WithError(err).Warnf("Dropping malformed sync task %s", msg.ID)
		return
	}

	start := time.Now()
	err = r.RunTarget(ctx, task.SyncTargetID)
	switch {
	case errors.Is(err, database.ErrLockNotAcquired):
		metrics.RecordSyncRun("skipped", time.Since(start).Seconds())
	case err != nil:
		metrics.RecordSyncRun("failed", time.Since(start).Seconds())
		r.logger.WithContext(ctx).WithError(err).Errorf("Sync run failed for target %s", task.SyncTargetID)
	default:
		metrics.RecordSyncRun("success", time.Since(start).Seconds())
	}
}

// RunTarget executes one sync run under the target's advisory lock. A target,
// integration, or organization that was deleted between enqueue and run is a
// no-op. A held lock means a run is already in flight; that is also a no-op,
// surfaced as ErrLockNotAcquired.
func (r *Runner) RunTarget(ctx context.Context, targetID string) error {
	ctx, span := tracing.StartSpan(ctx, "synctarget.Runner.RunTarget")
	defer span.End()

	return r.locker.WithLock(ctx, lockKey(targetID), func(ctx context.Context) error {
		target, err := r.targets.Get(ctx, targetID)
		if err != nil {
			return err
		}
		if target == nil {
			r.logger.WithContext(ctx).Debugf("Sync target %s vanished before run, skipping", targetID)
			return nil
		}

		integration, err := r.integrations.Get(ctx, target.OrganizationID, target.ServiceIntegrationID)
		if err != nil {
			if isNotFound(err) {
				r.logger.WithContext(ctx).Debugf("Sync target %s references a deleted integration, skipping", targetID)
				return nil
			}
			return err
		}
		org, err := r.orgs.Get(ctx, target.OrganizationID)
		if err != nil {
			if isNotFound(err) {
				r.logger.WithContext(ctx).Debugf("Sync target %s references a deleted organization, skipping", targetID)
				return nil
			}
			return err
		}
		connector, err := r.registry.Lookup(integration.ServiceName)
		if err != nil {
			return err
		}

		spec := replicator.TableSpec{
			Table:        integration.TableName,
			RemoteKey:    connector.RemoteKeyColumn(),
			Denormalized: connector.DenormalizedColumns(),
		}

		if err := r.exporter.Export(ctx, org, target, spec); err != nil {
			return err
		}
		return r.targets.MarkSynced(ctx, target.ID, time.Now().UTC())
	})
}

// isNotFound reports whether err is a 404 from a repository lookup
func isNotFound(err error) bool {
	return httperror.IsHTTPError(err) && httperror.GetStatusCode(err) == http.StatusNotFound
}

// lockKey folds a target id into the advisory lock keyspace
func lockKey(targetID string) int32 {
	h := fnv.New32a()
	h.Write([]byte(targetID))
	return int32(h.Sum32())
}

