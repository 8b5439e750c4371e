package database

import (
	"context"
	"errors"

	"github.com/Gobusters/ectologger"
)

// ErrLockNotAcquired is returned when an advisory lock is already held by
// another session.
var ErrLockNotAcquired = errors.New("advisory lock not acquired")

// Advisory lock keyspaces. Postgres advisory locks share one global (int,int)
// namespace per database, so each concern gets its own class id to keep
// unrelated features from colliding.
const (
	LockKeyspaceSyncTarget int32 = 1025
	LockKeyspaceBackfill   int32 = 1026
)

// AdvisoryLocker provides session-scoped Postgres advisory locks. Locks are
// visible across connections and processes and release automatically when the
// holding session dies, so a crashed worker never wedges its key.
type AdvisoryLocker struct {
	db       DB
	logger   ectologger.Logger
	keyspace int32
}

func NewAdvisoryLocker(db DB, logger ectologger.Logger, keyspace int32) *AdvisoryLocker {
	return &AdvisoryLocker{
		db:       db,
		logger:   logger,
		keyspace: keyspace,
	}
}

// WithLock runs fn while holding the advisory lock for key. If the lock is
// already held elsewhere it returns ErrLockNotAcquired without running fn.
// The lock is taken on a dedicated connection pinned for the duration of fn,
// since pg_advisory_unlock must run on the session that acquired the lock.
func (l *AdvisoryLocker) WithLock(ctx context.Context, key int32, fn func(ctx context.Context) error) error {
	conn, err := l.db.Connx(ctx)
	if err != nil {
		l.logger.WithContext(ctx).WithError(err).Error("Failed to check out connection for advisory lock")
		return err
	}
	defer conn.Close()

	var acquired bool
	if err := conn.GetContext(ctx, &acquired, "SELECT pg_try_advisory_lock($1, $2)", l.keyspace, key); err != nil {
		l.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"keyspace": l.keyspace, "key": key}).Error("Failed to acquire advisory lock")
		return err
	}
	if !acquired {
		l.logger.WithContext(ctx).WithFields(map[string]any{"keyspace": l.keyspace, "key": key}).Debug("Advisory lock held elsewhere, skipping")
		return ErrLockNotAcquired
	}

	defer func() {
		var released bool
		if err := conn.GetContext(context.WithoutCancel(ctx), &released, "SELECT pg_advisory_unlock($1, $2)", l.keyspace, key); err != nil {
			l.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"keyspace": l.keyspace, "key": key}).Error("Failed to release advisory lock")
		}
	}()

	return fn(ctx)
}
