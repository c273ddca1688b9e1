// Package webhook fans gateway events out to subscriber URLs with
// HMAC-signed bodies, persistent delivery rows, and a polling retry
// worker. A producing request never blocks on delivery.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Sign computes the delivery signature header value:
// sha256=<lowercase-hex(HMAC-SHA256(secret, body))>.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a received signature against the body in
// constant time.
func VerifySignature(secret string, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(signature))
}
