package replicator

import (
	"context"

	"github.com/Ramsey-B/sundew/pkg/models"
)

// UpdateGuard restricts conflict overwrites: the stored row is only replaced
// when its guard column value is strictly less than the incoming one. Equal
// values do not overwrite, so re-delivering an identical payload is a no-op.
type UpdateGuard struct {
	Column string
}

// TableSpec is everything the row store needs to know about one connector's
// mirror table.
type TableSpec struct {
	Table        string
	RemoteKey    Column
	Denormalized []Column
}

// Row is one computed mirror row: the raw payload under "data", the remote
// key value, and every denormalized column value.
type Row map[string]any

// UpsertOutcome reports what an upsert actually did. A guard rejection is a
// clean no-op, not an error: Changed is false and nothing fans out.
type UpsertOutcome struct {
	Inserted bool
	Changed  bool
}

// RowStore is the write path to an organization's mirror database. The
// Postgres implementation lives in pgstore.go; tests substitute an in-memory
// store.
type RowStore interface {
	CreateTable(ctx context.Context, org *models.Organization, spec TableSpec) error
	Upsert(ctx context.Context, org *models.Organization, spec TableSpec, row Row, guard *UpdateGuard) (UpsertOutcome, error)
}
