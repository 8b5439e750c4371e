package synctarget

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Ramsey-B/sundew/pkg/models"
	"github.com/Ramsey-B/sundew/pkg/replicator"
)

func testSpec() replicator.TableSpec {
	return replicator.TableSpec{
		Table:     "fake_v1_abc123",
		RemoteKey: replicator.Column{Name: "my_id", Type: replicator.TypeText, Required: true},
		Denormalized: []replicator.Column{
			{Name: "at", Type: replicator.TypeTimestamp},
		},
	}
}

func TestColumnNames(t *testing.T) {
	assert.Equal(t, []string{"my_id", "at", "data"}, columnNames(testSpec()))
}

func TestDestinationTable(t *testing.T) {
	tests := []struct {
		name   string
		target models.SyncTarget
		want   string
	}{
		{
			name:   "defaults to source table and public schema",
			target: models.SyncTarget{},
			want:   `"public"."fake_v1_abc123"`,
		},
		{
			name:   "explicit schema and table",
			target: models.SyncTarget{Schema: "mirror", Table: "accounts"},
			want:   `"mirror"."accounts"`,
		},
		{
			name:   "identifiers are quoted",
			target: models.SyncTarget{Schema: "public", Table: `weird"name`},
			want:   `"public"."weird""name"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, destinationTable(&tt.target, testSpec()))
		})
	}
}

func TestBuildDestinationUpsert(t *testing.T) {
	got := buildDestinationUpsert(`"public"."accounts"`, "my_id", []string{"my_id", "at", "data"})
	want := `INSERT INTO "public"."accounts" ("my_id", "at", "data") VALUES ($1, $2, $3) ON CONFLICT ("my_id") DO UPDATE SET "at" = EXCLUDED."at", "data" = EXCLUDED."data"`
	assert.Equal(t, want, got)
}

func TestNormalizeRows(t *testing.T) {
	rows := []map[string]any{
		{
			"my_id": "r1",
			"data":  []byte(`{"id":"r1","amount":42}`),
			"note":  []byte("not json"),
			"count": int64(3),
		},
	}

	normalized := normalizeRows(rows)

	assert.Equal(t, map[string]any{"id": "r1", "amount": float64(42)}, normalized[0]["data"])
	assert.Equal(t, "not json", normalized[0]["note"])
	assert.Equal(t, int64(3), normalized[0]["count"])
}
