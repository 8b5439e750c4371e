package replicator

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
)

// WebhookResponse is the triple handed back to the HTTP layer for an inbound
// webhook. Authentication failures are encoded here as a 401, never raised as
// errors.
type WebhookResponse struct {
	Status  int
	Headers map[string]string
	Body    string
}

func WebhookOK() WebhookResponse {
	return WebhookResponse{
		Status:  http.StatusAccepted,
		Headers: map[string]string{"Content-Type": "text/plain"},
		Body:    "ok",
	}
}

func WebhookUnauthorized() WebhookResponse {
	return WebhookResponse{
		Status:  http.StatusUnauthorized,
		Headers: map[string]string{"Content-Type": "text/plain"},
		Body:    "",
	}
}

// Verifier authenticates an inbound webhook request. Verification runs
// against the raw body bytes before any re-serialization, since signature
// schemes are whitespace sensitive.
type Verifier interface {
	Verify(r *http.Request, rawBody []byte) bool
}

// SecretHeaderVerifier compares a shared secret against a named header.
type SecretHeaderVerifier struct {
	Header string
	Secret string
}

func (v SecretHeaderVerifier) Verify(r *http.Request, rawBody []byte) bool {
	if v.Secret == "" {
		return false
	}
	provided := r.Header.Get(v.Header)
	return subtle.ConstantTimeCompare([]byte(provided), []byte(v.Secret)) == 1
}

// HMACSHA256Verifier checks a hex-encoded HMAC-SHA256 signature of the raw
// body carried in a named header.
type HMACSHA256Verifier struct {
	Header string
	Secret string
}

func (v HMACSHA256Verifier) Verify(r *http.Request, rawBody []byte) bool {
	if v.Secret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(v.Secret))
	mac.Write(rawBody)
	computed := hex.EncodeToString(mac.Sum(nil))
	provided := r.Header.Get(v.Header)
	return hmac.Equal([]byte(computed), []byte(provided))
}

// NoopVerifier accepts every request. Used by connectors without webhook
// support, whose data only arrives via backfill.
type NoopVerifier struct{}

func (NoopVerifier) Verify(*http.Request, []byte) bool {
	return true
}
