// Package idempotency guards operations so they run at most once (or at most
// once per interval) for a given string key. Useful for protecting against
// requests dispatched multiple times and for making async jobs safe to
// republish: a failed job can be retried, but work that already ran is not
// re-run.
package idempotency

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/Ramsey-B/sundew/pkg/database"
	"github.com/Ramsey-B/sundew/pkg/tracing"
)

// ErrAmbientTransaction is returned when Execute is called inside an open
// transaction. The guard row must commit before concurrent callers can see
// it; nested inside a caller's transaction the guarantee would be meaningless
// (a rollback after the side effect would re-permit execution).
var ErrAmbientTransaction = errors.New("idempotency cannot run inside an ambient transaction")

// Result is the outcome of an Execute call. When the guard suppressed the
// block, Executed is false and Value holds the previously stored result in
// stored mode (nil otherwise).
type Result struct {
	Executed bool
	Value    any
}

type idempotencyRow struct {
	Key          string          `db:"key"`
	LastRun      *time.Time      `db:"last_run"`
	StoredResult json.RawMessage `db:"stored_result"`
}

// Idempotency builds guards against the shared idempotencies table.
type Idempotency struct {
	db     database.DB
	logger ectologger.Logger
}

func New(db database.DB, logger ectologger.Logger) *Idempotency {
	return &Idempotency{
		db:     db,
		logger: logger,
	}
}

// OnceEver guards the block to run at most once for a key, ever.
func (i *Idempotency) OnceEver() *Guard {
	return &Guard{parent: i, onceEver: true}
}

// Every guards the block to run at most once per interval for a key.
func (i *Idempotency) Every(interval time.Duration) *Guard {
	return &Guard{parent: i, every: interval}
}

// Guard is a configured idempotency mode. Guards are cheap values; build one
// per call site.
type Guard struct {
	parent   *Idempotency
	onceEver bool
	every    time.Duration
	stored   bool
}

// Stored makes Execute persist the block's result as JSON and return it on
// suppressed calls.
func (g *Guard) Stored() *Guard {
	g.stored = true
	return g
}

// Execute runs fn under the key's guard. Concurrent callers with the same key
// serialize on a row lock so exactly one runs per eligible window; callers
// with different keys never block each other.
func (g *Guard) Execute(ctx context.Context, key string, fn func(ctx context.Context) (any, error)) (Result, error) {
	ctx, span := tracing.StartSpan(ctx, "idempotency.Guard.Execute")
	defer span.End()

	if database.InTransaction(ctx) {
		return Result{}, ErrAmbientTransaction
	}

	log := g.parent.logger.WithContext(ctx).WithField("idempotency_key", key)

	// The row must be committed before the lock is taken, so other callers
	// can observe and queue on it.
	if _, err := g.parent.db.ExecContext(ctx,
		"INSERT INTO idempotencies (key) VALUES ($1) ON CONFLICT (key) DO NOTHING", key,
	); err != nil {
		log.WithError(err).Error("Failed to insert idempotency row")
		return Result{}, errors.Wrap(err, "insert idempotency row")
	}

	tx, err := g.parent.db.BeginTxx(ctx, nil)
	if err != nil {
		log.WithError(err).Error("Failed to begin idempotency transaction")
		return Result{}, errors.Wrap(err, "begin idempotency transaction")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var row idempotencyRow
	if err := tx.GetContext(ctx, &row,
		"SELECT key, last_run, stored_result FROM idempotencies WHERE key = $1 FOR UPDATE", key,
	); err != nil {
		log.WithError(err).Error("Failed to lock idempotency row")
		return Result{}, errors.Wrap(err, "lock idempotency row")
	}

	if row.LastRun != nil {
		eligible := !g.onceEver && time.Now().After(row.LastRun.Add(g.every))
		if !eligible {
			log.Debug("Idempotency guard suppressed execution")
			result := Result{Executed: false}
			if g.stored && row.StoredResult != nil {
				result.Value = row.StoredResult
			}
			if err := tx.Commit(); err != nil {
				return Result{}, errors.Wrap(err, "commit idempotency transaction")
			}
			return result, nil
		}
	}

	value, err := fn(ctx)
	if err != nil {
		return Result{}, err
	}
	if err := g.recordRun(ctx, tx, key, value); err != nil {
		log.WithError(err).Error("Failed to record idempotency run")
		return Result{}, err
	}
	if err := tx.Commit(); err != nil {
		return Result{}, errors.Wrap(err, "commit idempotency transaction")
	}
	return Result{Executed: true, Value: value}, nil
}

func (g *Guard) recordRun(ctx context.Context, tx *sqlx.Tx, key string, value any) error {
	if g.stored {
		stored, err := json.Marshal(value)
		if err != nil {
			return errors.Wrap(err, "marshal stored result")
		}
		_, err = tx.ExecContext(ctx,
			"UPDATE idempotencies SET last_run = now(), stored_result = $2 WHERE key = $1", key, string(stored))
		return errors.Wrap(err, "update idempotency row")
	}
	_, err := tx.ExecContext(ctx, "UPDATE idempotencies SET last_run = now() WHERE key = $1", key)
	return errors.Wrap(err, "update idempotency row")
}
