package webhook

import (
	"strings"
	"testing"
)

func TestSignFormat(t *testing.T) {
	sig := Sign("topsecret", []byte(`{"hello":"world"}`))

	if !strings.HasPrefix(sig, "sha256=") {
		t.Fatalf("signature = %q, want sha256= prefix", sig)
	}
	hexPart := strings.TrimPrefix(sig, "sha256=")
	if len(hexPart) != 64 {
		t.Errorf("hex digest length = %d, want 64", len(hexPart))
	}
	if hexPart != strings.ToLower(hexPart) {
		t.Error("digest must be lowercase hex")
	}
}

func TestSignIsDeterministicAndKeyed(t *testing.T) {
	body := []byte(`{"n":1}`)

	if Sign("k1", body) != Sign("k1", body) {
		t.Error("same key and body must produce the same signature")
	}
	if Sign("k1", body) == Sign("k2", body) {
		t.Error("different keys must produce different signatures")
	}
	if Sign("k1", body) == Sign("k1", []byte(`{"n":2}`)) {
		t.Error("different bodies must produce different signatures")
	}
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"event":"x"}`)
	sig := Sign("secret", body)

	if !VerifySignature("secret", body, sig) {
		t.Error("valid signature rejected")
	}
	if VerifySignature("wrong", body, sig) {
		t.Error("signature verified with the wrong key")
	}
	if VerifySignature("secret", []byte("tampered"), sig) {
		t.Error("signature verified for a tampered body")
	}
}
