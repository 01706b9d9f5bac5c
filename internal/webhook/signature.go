// Package webhook ingests delivery and engagement events from provider
// callbacks: signature verification, dedupe, and translation into
// tracker and profile updates.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// ErrInvalidSignature is returned when the payload signature does not
// match. The payload is never parsed in that case.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// SignPayload computes the hex HMAC-SHA256 of the raw body. Providers
// are configured with the shared secret and send the result in the
// X-Signature header.
func SignPayload(secret string, payload []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// VerifySignature checks the received signature against the raw body
// using a constant-time comparison.
func VerifySignature(secret string, payload []byte, signature string) error {
	if signature == "" {
		return ErrInvalidSignature
	}
	want := SignPayload(secret, payload)
	if !hmac.Equal([]byte(want), []byte(signature)) {
		return ErrInvalidSignature
	}
	return nil
}
