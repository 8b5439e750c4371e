package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func TestGet(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	client := NewClient(DefaultConfig(), testLogger())
	resp, err := client.Get(context.Background(), server.URL, map[string]string{"Authorization": "Bearer token"})
	require.NoError(t, err)

	assert.True(t, resp.IsSuccess())
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.ContentType)
	assert.JSONEq(t, `{"ok":true}`, string(resp.Body))
	assert.Equal(t, int64(len(resp.Body)), resp.ContentLength)
}

func TestPostJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "s3cret", r.Header.Get("X-Custom-Secret"))
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	client := NewClient(DefaultConfig(), testLogger())
	resp, err := client.PostJSON(context.Background(), server.URL, []byte(`{"id":"r1"}`), map[string]string{
		"X-Custom-Secret": "s3cret",
	})
	require.NoError(t, err)
	assert.True(t, resp.IsSuccess())
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestIsSuccess(t *testing.T) {
	assert.True(t, (&Response{StatusCode: 200}).IsSuccess())
	assert.True(t, (&Response{StatusCode: 299}).IsSuccess())
	assert.False(t, (&Response{StatusCode: 302}).IsSuccess())
	assert.False(t, (&Response{StatusCode: 500}).IsSuccess())
	assert.False(t, (&Response{StatusCode: 0}).IsSuccess())
}

func TestDo_RequestError(t *testing.T) {
	client := NewClient(DefaultConfig(), testLogger())
	_, err := client.Get(context.Background(), "http://127.0.0.1:1", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request failed")
}
