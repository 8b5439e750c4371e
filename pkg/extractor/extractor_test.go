package extractor

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, raw string) map[string]any {
	t.Helper()
	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &payload))
	return payload
}

func TestLookup(t *testing.T) {
	payload := decode(t, `{
		"id": "acc_1",
		"amount": 42,
		"meta": {"region": {"code": "us-east-1"}, "note": null},
		"tags": ["a", "b"]
	}`)

	tests := []struct {
		name      string
		path      []string
		want      any
		wantFound bool
	}{
		{name: "top level string", path: []string{"id"}, want: "acc_1", wantFound: true},
		{name: "top level number", path: []string{"amount"}, want: float64(42), wantFound: true},
		{name: "nested path", path: []string{"meta", "region", "code"}, want: "us-east-1", wantFound: true},
		{name: "present but null", path: []string{"meta", "note"}, want: nil, wantFound: true},
		{name: "missing top level key", path: []string{"nope"}, want: nil, wantFound: false},
		{name: "missing nested key", path: []string{"meta", "nope"}, want: nil, wantFound: false},
		{name: "non-object intermediate", path: []string{"id", "deeper"}, want: nil, wantFound: false},
		{name: "array intermediate", path: []string{"tags", "0"}, want: nil, wantFound: false},
		{name: "empty path", path: nil, want: nil, wantFound: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, found := Lookup(payload, tt.path...)
			assert.Equal(t, tt.wantFound, found)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLookupString(t *testing.T) {
	payload := decode(t, `{"id": "acc_1", "amount": 42, "note": null}`)

	t.Run("string value", func(t *testing.T) {
		got, found := LookupString(payload, "id")
		assert.True(t, found)
		assert.Equal(t, "acc_1", got)
	})

	t.Run("non-string value", func(t *testing.T) {
		_, found := LookupString(payload, "amount")
		assert.False(t, found)
	})

	t.Run("null value", func(t *testing.T) {
		_, found := LookupString(payload, "note")
		assert.False(t, found)
	})

	t.Run("missing key", func(t *testing.T) {
		_, found := LookupString(payload, "nope")
		assert.False(t, found)
	})
}
