package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestJSONBScan(t *testing.T) {
	var col JSONB[payload]
	require.NoError(t, col.Scan([]byte(`{"name":"acct","count":2}`)))
	assert.Equal(t, payload{Name: "acct", Count: 2}, col.GetValue())
}

func TestJSONBScan_NonBytes(t *testing.T) {
	var col JSONB[payload]
	err := col.Scan("not bytes")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected []byte")
}

func TestJSONBValue(t *testing.T) {
	col := JSONB[payload]{Data: payload{Name: "acct", Count: 2}}
	value, err := col.Value()
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"acct","count":2}`, string(value.([]byte)))
}
