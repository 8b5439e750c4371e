package replicator

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSecretHeaderVerifier(t *testing.T) {
	verifier := SecretHeaderVerifier{Header: "X-Test-Secret", Secret: "hunter2hunter2"}

	tests := []struct {
		name   string
		header string
		want   bool
	}{
		{name: "matching secret", header: "hunter2hunter2", want: true},
		{name: "wrong secret", header: "nope", want: false},
		{name: "absent header", header: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", nil)
			if tt.header != "" {
				r.Header.Set("X-Test-Secret", tt.header)
			}
			assert.Equal(t, tt.want, verifier.Verify(r, nil))
		})
	}

	t.Run("unconfigured secret rejects everything", func(t *testing.T) {
		verifier := SecretHeaderVerifier{Header: "X-Test-Secret"}
		r := httptest.NewRequest(http.MethodPost, "/", nil)
		r.Header.Set("X-Test-Secret", "")
		assert.False(t, verifier.Verify(r, nil))
	})
}

func TestHMACSHA256Verifier(t *testing.T) {
	secret := "signing-secret"
	body := []byte(`{"id":"acc_1","amount":42}`)

	sign := func(secret string, body []byte) string {
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(body)
		return hex.EncodeToString(mac.Sum(nil))
	}

	verifier := HMACSHA256Verifier{Header: "X-Signature", Secret: secret}

	t.Run("valid signature", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", nil)
		r.Header.Set("X-Signature", sign(secret, body))
		assert.True(t, verifier.Verify(r, body))
	})

	t.Run("signature over different body", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", nil)
		r.Header.Set("X-Signature", sign(secret, []byte(`{}`)))
		assert.False(t, verifier.Verify(r, body))
	})

	t.Run("signature with different secret", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", nil)
		r.Header.Set("X-Signature", sign("other", body))
		assert.False(t, verifier.Verify(r, body))
	})

	t.Run("unconfigured secret rejects everything", func(t *testing.T) {
		verifier := HMACSHA256Verifier{Header: "X-Signature"}
		r := httptest.NewRequest(http.MethodPost, "/", nil)
		r.Header.Set("X-Signature", sign("", body))
		assert.False(t, verifier.Verify(r, body))
	})
}

func TestNoopVerifier(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", nil)
	assert.True(t, NoopVerifier{}.Verify(r, []byte("anything")))
}

func TestWebhookResponses(t *testing.T) {
	ok := WebhookOK()
	assert.Equal(t, http.StatusAccepted, ok.Status)
	assert.Equal(t, "ok", ok.Body)
	assert.Equal(t, "text/plain", ok.Headers["Content-Type"])

	unauthorized := WebhookUnauthorized()
	assert.Equal(t, http.StatusUnauthorized, unauthorized.Status)
	assert.Empty(t, unauthorized.Body)
}
