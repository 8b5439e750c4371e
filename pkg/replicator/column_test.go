package replicator

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestColumnComputeValue(t *testing.T) {
	body := map[string]any{
		"id":     "acc_1",
		"amount": float64(42),
		"nested": map[string]any{"deep": "value"},
		"null":   nil,
	}

	tests := []struct {
		name    string
		column  Column
		want    any
		wantErr string
	}{
		{
			name:   "name as implicit path",
			column: Column{Name: "id", Type: TypeText},
			want:   "acc_1",
		},
		{
			name:   "explicit path",
			column: Column{Name: "deep_value", Type: TypeText, Path: []string{"nested", "deep"}},
			want:   "value",
		},
		{
			name:   "explicit null is stored as null",
			column: Column{Name: "null", Type: TypeText, Required: true},
			want:   nil,
		},
		{
			name:   "missing optional resolves to nil",
			column: Column{Name: "absent", Type: TypeText},
			want:   nil,
		},
		{
			name:    "missing required errors",
			column:  Column{Name: "absent", Type: TypeText, Required: true},
			wantErr: "column absent: required value missing from payload",
		},
		{
			name: "converter wins over path",
			column: Column{Name: "id", Type: TypeText, Converter: func(body map[string]any) (any, error) {
				return "converted", nil
			}},
			want: "converted",
		},
		{
			name: "converter error is wrapped",
			column: Column{Name: "id", Type: TypeText, Converter: func(body map[string]any) (any, error) {
				return nil, errors.New("bad shape")
			}},
			wantErr: "column id: converter: bad shape",
		},
		{
			name:   "defaulter fills missing value",
			column: Column{Name: "absent", Type: TypeText, Defaulter: func() any { return "fallback" }},
			want:   "fallback",
		},
		{
			name:   "defaulter satisfies required",
			column: Column{Name: "absent", Type: TypeText, Required: true, Defaulter: func() any { return "fallback" }},
			want:   "fallback",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.column.ComputeValue(body, nil)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantErr, err.Error())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestColumnComputeValue_EnrichmentSource(t *testing.T) {
	body := map[string]any{"region": "from-body"}
	enrichment := map[string]any{"region": "from-enrichment"}

	col := Column{Name: "region", Type: TypeText, FromEnrichment: true}
	got, err := col.ComputeValue(body, enrichment)
	require.NoError(t, err)
	assert.Equal(t, "from-enrichment", got)

	t.Run("nil enrichment falls through to defaulter", func(t *testing.T) {
		col := Column{Name: "region", Type: TypeText, FromEnrichment: true, Defaulter: func() any { return "unknown" }}
		got, err := col.ComputeValue(body, nil)
		require.NoError(t, err)
		assert.Equal(t, "unknown", got)
	})
}

func TestDefaultNow(t *testing.T) {
	before := time.Now().UTC()
	value := DefaultNow()
	after := time.Now().UTC()

	ts, ok := value.(time.Time)
	require.True(t, ok)
	assert.False(t, ts.Before(before))
	assert.False(t, ts.After(after))
	assert.Equal(t, time.UTC, ts.Location())
}
