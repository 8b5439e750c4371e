package replicator

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Gobusters/ectologger"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/Ramsey-B/sundew/pkg/database"
	"github.com/Ramsey-B/sundew/pkg/models"
	"github.com/Ramsey-B/sundew/pkg/tracing"
)

// PGStore writes mirror rows to each organization's own Postgres database,
// resolved through the connection cache by the organization's admin URL.
type PGStore struct {
	cache  *database.ConnectionCache
	logger ectologger.Logger
}

func NewPGStore(cache *database.ConnectionCache, logger ectologger.Logger) *PGStore {
	return &PGStore{
		cache:  cache,
		logger: logger,
	}
}

// CreateTable emits CREATE TABLE plus one index per indexed column. The pk
// surrogate and raw data columns are always present; the remote key column is
// UNIQUE NOT NULL.
func (s *PGStore) CreateTable(ctx context.Context, org *models.Organization, spec TableSpec) error {
	ctx, span := tracing.StartSpan(ctx, "replicator.PGStore.CreateTable")
	defer span.End()

	db, err := s.cache.Get(org.AdminConnectionURL)
	if err != nil {
		return err
	}

	table := pq.QuoteIdentifier(spec.Table)
	lines := []string{
		fmt.Sprintf("CREATE TABLE %s (", table),
		"  pk bigserial PRIMARY KEY,",
		"  data jsonb NOT NULL,",
		fmt.Sprintf("  %s %s UNIQUE NOT NULL", pq.QuoteIdentifier(spec.RemoteKey.Name), spec.RemoteKey.Type),
	}
	for _, col := range spec.Denormalized {
		modifier := ""
		if col.Required {
			modifier = " NOT NULL"
		}
		lines = append(lines, fmt.Sprintf(",  %s %s%s", pq.QuoteIdentifier(col.Name), col.Type, modifier))
	}
	lines = append(lines, ");")
	for _, col := range spec.Denormalized {
		if !col.Index {
			continue
		}
		lines = append(lines, fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS %s ON %s (%s);",
			pq.QuoteIdentifier(col.Name+"_idx"), table, pq.QuoteIdentifier(col.Name),
		))
	}

	if _, err := db.ExecContext(ctx, strings.Join(lines, "\n")); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"table": spec.Table, "organization_id": org.ID}).Error("Failed to create mirror table")
		return errors.Wrapf(err, "create table %s", spec.Table)
	}
	return nil
}

// Upsert inserts the row, overwriting on remote key conflict. With a guard,
// the overwrite only happens when the stored guard column is strictly less
// than the incoming one; a rejected overwrite reports Changed false.
func (s *PGStore) Upsert(ctx context.Context, org *models.Organization, spec TableSpec, row Row, guard *UpdateGuard) (UpsertOutcome, error) {
	ctx, span := tracing.StartSpan(ctx, "replicator.PGStore.Upsert")
	defer span.End()

	db, err := s.cache.Get(org.AdminConnectionURL)
	if err != nil {
		return UpsertOutcome{}, err
	}

	columns := []string{"data", spec.RemoteKey.Name}
	for _, col := range spec.Denormalized {
		columns = append(columns, col.Name)
	}

	quoted := make([]string, len(columns))
	placeholders := make([]string, len(columns))
	args := make([]any, len(columns))
	assignments := make([]string, 0, len(columns))
	for i, name := range columns {
		quoted[i] = pq.QuoteIdentifier(name)
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = normalizeArg(row[name])
		if name != spec.RemoteKey.Name {
			assignments = append(assignments, fmt.Sprintf("%s = EXCLUDED.%s", quoted[i], quoted[i]))
		}
	}

	table := pq.QuoteIdentifier(spec.Table)
	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		table,
		strings.Join(quoted, ", "),
		strings.Join(placeholders, ", "),
		pq.QuoteIdentifier(spec.RemoteKey.Name),
		strings.Join(assignments, ", "),
	)
	if guard != nil {
		guardCol := pq.QuoteIdentifier(guard.Column)
		query += fmt.Sprintf(" WHERE %s.%s < EXCLUDED.%s", table, guardCol, guardCol)
	}
	query += " RETURNING (xmax = 0) AS inserted"

	var inserted bool
	if err := db.GetContext(ctx, &inserted, query, args...); err != nil {
		// A guarded upsert that loses to the stored row returns nothing.
		if err == sql.ErrNoRows {
			return UpsertOutcome{Inserted: false, Changed: false}, nil
		}
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"table": spec.Table, "organization_id": org.ID}).Error("Failed to upsert mirror row")
		return UpsertOutcome{}, errors.Wrapf(err, "upsert into %s", spec.Table)
	}
	return UpsertOutcome{Inserted: inserted, Changed: true}, nil
}

// normalizeArg converts values the driver would misinterpret: raw JSON and
// decoded JSON containers go over the wire as jsonb text, not bytea.
func normalizeArg(value any) any {
	switch v := value.(type) {
	case json.RawMessage:
		return string(v)
	case map[string]any, []any:
		b, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		return string(b)
	default:
		return value
	}
}
