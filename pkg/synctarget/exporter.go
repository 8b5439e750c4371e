package synctarget

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/Ramsey-B/sundew/pkg/database"
	"github.com/Ramsey-B/sundew/pkg/httpclient"
	"github.com/Ramsey-B/sundew/pkg/models"
	"github.com/Ramsey-B/sundew/pkg/replicator"
	"github.com/Ramsey-B/sundew/pkg/tracing"
)

// Exporter copies a replicated table to a sync target destination. Postgres
// destinations get a mirrored table upserted page by page; HTTPS destinations
// get each page POSTed as a JSON array. Pages are keyset paginated on pk, so a
// failed run resumes cleanly on its next period.
type Exporter struct {
	cache  *database.ConnectionCache
	client *httpclient.Client
	logger ectologger.Logger
}

// NewExporter creates an exporter
func NewExporter(cache *database.ConnectionCache, client *httpclient.Client, logger ectologger.Logger) *Exporter {
	return &Exporter{
		cache:  cache,
		client: client,
		logger: logger,
	}
}

// Export runs one full export of the target's table
func (e *Exporter) Export(ctx context.Context, org *models.Organization, target *models.SyncTarget, spec replicator.TableSpec) error {
	ctx, span := tracing.StartSpan(ctx, "synctarget.Exporter.Export")
	defer span.End()

	if strings.HasPrefix(target.ConnectionURL, "https://") {
		return e.exportHTTP(ctx, org, target, spec)
	}
	return e.exportPostgres(ctx, org, target, spec)
}

// destinationTable returns the schema-qualified, quoted destination table name
func destinationTable(target *models.SyncTarget, spec replicator.TableSpec) string {
	table := target.Table
	if table == "" {
		table = spec.Table
	}
	schema := target.Schema
	if schema == "" {
		schema = "public"
	}
	return pq.QuoteIdentifier(schema) + "." + pq.QuoteIdentifier(table)
}

// columnNames returns the exported column order: remote key, denormalized
// columns, then the raw payload
func columnNames(spec replicator.TableSpec) []string {
	names := []string{spec.RemoteKey.Name}
	for _, col := range spec.Denormalized {
		names = append(names, col.Name)
	}
	return append(names, "data")
}

func (e *Exporter) exportPostgres(ctx context.Context, org *models.Organization, target *models.SyncTarget, spec replicator.TableSpec) error {
	source, err := e.cache.Get(org.ReadonlyConnectionURL)
	if err != nil {
		return fmt.Errorf("failed to connect to source database: %w", err)
	}
	dest, err := e.cache.Get(target.ConnectionURL)
	if err != nil {
		return fmt.Errorf("failed to connect to destination database: %w", err)
	}

	if err := e.ensureDestinationTable(ctx, dest, target, spec); err != nil {
		return err
	}

	cols := columnNames(spec)
	upsert := buildDestinationUpsert(destinationTable(target, spec), spec.RemoteKey.Name, cols)

	lastPK := int64(0)
	exported := 0
	for {
		rows, maxPK, err := e.fetchPage(ctx, source, spec, cols, lastPK, target.PageSize)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			break
		}

		tx, err := dest.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin destination transaction: %w", err)
		}
		for _, row := range rows {
			args := make([]any, 0, len(cols))
			for _, col := range cols {
				args = append(args, row[col])
			}
			if _, err := tx.ExecContext(ctx, upsert, args...); err != nil {
				tx.Rollback()
				return fmt.Errorf("failed to upsert destination row: %w", err)
			}
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit destination page: %w", err)
		}

		exported += len(rows)
		lastPK = maxPK
	}

	e.logger.WithContext(ctx).WithFields(map[string]any{"target": target.ID, "rows": exported}).Info("Exported sync target to database")
	return nil
}

func (e *Exporter) ensureDestinationTable(ctx context.Context, dest *sqlx.DB, target *models.SyncTarget, spec replicator.TableSpec) error {
	defs := []string{
		fmt.Sprintf("%s %s UNIQUE NOT NULL", pq.QuoteIdentifier(spec.RemoteKey.Name), spec.RemoteKey.Type),
	}
	for _, col := range spec.Denormalized {
		defs = append(defs, fmt.Sprintf("%s %s", pq.QuoteIdentifier(col.Name), col.Type))
	}
	defs = append(defs, "data jsonb NOT NULL")

	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", destinationTable(target, spec), strings.Join(defs, ", "))
	if _, err := dest.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to ensure destination table: %w", err)
	}
	return nil
}

// buildDestinationUpsert builds the page upsert statement. Every column except
// the conflict key takes the incoming value; the destination carries no update
// guard because the source rows already won theirs.
func buildDestinationUpsert(table, remoteKey string, cols []string) string {
	quoted := make([]string, len(cols))
	placeholders := make([]string, len(cols))
	var sets []string
	for i, col := range cols {
		quoted[i] = pq.QuoteIdentifier(col)
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		if col != remoteKey {
			sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", pq.QuoteIdentifier(col), pq.QuoteIdentifier(col)))
		}
	}
	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		table,
		strings.Join(quoted, ", "),
		strings.Join(placeholders, ", "),
		pq.QuoteIdentifier(remoteKey),
		strings.Join(sets, ", "),
	)
}

// fetchPage reads one keyset page from the source mirror table
func (e *Exporter) fetchPage(ctx context.Context, source *sqlx.DB, spec replicator.TableSpec, cols []string, afterPK int64, pageSize int) ([]map[string]any, int64, error) {
	if pageSize <= 0 {
		pageSize = 500
	}

	quoted := make([]string, len(cols))
	for i, col := range cols {
		quoted[i] = pq.QuoteIdentifier(col)
	}
	query := fmt.Sprintf(
		"SELECT pk, %s FROM %s WHERE pk > $1 ORDER BY pk LIMIT $2",
		strings.Join(quoted, ", "),
		pq.QuoteIdentifier(spec.Table),
	)

	rows, err := source.QueryxContext(ctx, query, afterPK, pageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read source page: %w", err)
	}
	defer rows.Close()

	var page []map[string]any
	maxPK := afterPK
	for rows.Next() {
		row := map[string]any{}
		if err := rows.MapScan(row); err != nil {
			return nil, 0, fmt.Errorf("failed to scan source row: %w", err)
		}
		if pk, ok := row["pk"].(int64); ok && pk > maxPK {
			maxPK = pk
		}
		delete(row, "pk")
		page = append(page, row)
	}
	return page, maxPK, rows.Err()
}

func (e *Exporter) exportHTTP(ctx context.Context, org *models.Organization, target *models.SyncTarget, spec replicator.TableSpec) error {
	source, err := e.cache.Get(org.ReadonlyConnectionURL)
	if err != nil {
		return fmt.Errorf("failed to connect to source database: %w", err)
	}

	cols := columnNames(spec)
	lastPK := int64(0)
	exported := 0
	for {
		rows, maxPK, err := e.fetchPage(ctx, source, spec, cols, lastPK, target.PageSize)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			break
		}

		payload, err := json.Marshal(map[string]any{
			"table": spec.Table,
			"rows":  normalizeRows(rows),
		})
		if err != nil {
			return fmt.Errorf("failed to marshal export page: %w", err)
		}

		resp, err := e.client.PostJSON(ctx, target.ConnectionURL, payload, nil)
		if err != nil {
			return fmt.Errorf("failed to post export page: %w", err)
		}
		if !resp.IsSuccess() {
			return fmt.Errorf("export endpoint returned %d", resp.StatusCode)
		}

		exported += len(rows)
		lastPK = maxPK
	}

	e.logger.WithContext(ctx).WithFields(map[string]any{"target": target.ID, "rows": exported}).Info("Exported sync target over HTTP")
	return nil
}

// normalizeRows converts driver byte slices into JSON-friendly values
func normalizeRows(rows []map[string]any) []map[string]any {
	for _, row := range rows {
		for key, value := range row {
			raw, ok := value.([]byte)
			if !ok {
				continue
			}
			var decoded any
			if err := json.Unmarshal(raw, &decoded); err == nil {
				row[key] = decoded
			} else {
				row[key] = string(raw)
			}
		}
	}
	return rows
}
