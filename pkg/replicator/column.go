package replicator

import (
	"fmt"
	"time"

	"github.com/Ramsey-B/sundew/pkg/extractor"
)

// ColumnType is the SQL type of a denormalized mirror table column.
type ColumnType string

const (
	TypeText      ColumnType = "text"
	TypeInteger   ColumnType = "integer"
	TypeBigint    ColumnType = "bigint"
	TypeDecimal   ColumnType = "numeric"
	TypeTimestamp ColumnType = "timestamptz"
	TypeDate      ColumnType = "date"
	TypeBoolean   ColumnType = "boolean"
	TypeObject    ColumnType = "jsonb"
)

// Converter derives a column value from the raw payload when a plain path
// lookup is not enough. It must be a pure function.
type Converter func(body map[string]any) (any, error)

// Defaulter produces a value for a column whose path is absent from the
// payload.
type Defaulter func() any

// DefaultNow is the defaulter for timestamp columns that should fall back to
// the ingestion time.
func DefaultNow() any {
	return time.Now().UTC()
}

// Column describes one denormalized field of a connector's mirror table.
// The zero Path means the column name itself is the payload key. Enrichment
// columns resolve against the secondary enrichment payload instead of the
// webhook body.
type Column struct {
	Name           string
	Type           ColumnType
	Path           []string
	FromEnrichment bool
	Converter      Converter
	Defaulter      Defaulter
	Index          bool
	Required       bool
}

func (c Column) effectivePath() []string {
	if len(c.Path) > 0 {
		return c.Path
	}
	return []string{c.Name}
}

// ComputeValue resolves the stored value for this column. Resolution order:
// converter, then path lookup (against the enrichment payload for enrichment
// columns), then defaulter. A required column with no resolvable value is an
// error; anything else resolves to nil.
func (c Column) ComputeValue(body, enrichment map[string]any) (any, error) {
	if c.Converter != nil {
		value, err := c.Converter(body)
		if err != nil {
			return nil, fmt.Errorf("column %s: converter: %w", c.Name, err)
		}
		return value, nil
	}

	source := body
	if c.FromEnrichment {
		source = enrichment
	}
	if value, found := extractor.Lookup(source, c.effectivePath()...); found {
		return value, nil
	}

	if c.Defaulter != nil {
		return c.Defaulter(), nil
	}
	if c.Required {
		return nil, fmt.Errorf("column %s: required value missing from payload", c.Name)
	}
	return nil, nil
}
