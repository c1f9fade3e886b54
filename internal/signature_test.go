package internal

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"
)

func hexHMAC(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyPrefixedSignature(t *testing.T) {
	body := []byte(`{"action":"created"}`)
	sig := "sha256=" + hexHMAC("topsecret", body)

	if !VerifyPrefixedSignature("topsecret", body, sig) {
		t.Fatalf("expected valid signature to verify")
	}
	if VerifyPrefixedSignature("topsecret", body, "sha256=deadbeef") {
		t.Fatalf("expected bogus signature to fail")
	}
	if VerifyPrefixedSignature("topsecret", body, hexHMAC("topsecret", body)) {
		t.Fatalf("expected unprefixed signature to fail")
	}
	if VerifyPrefixedSignature("", body, sig) {
		t.Fatalf("expected empty secret to fail")
	}
	if VerifyPrefixedSignature("topsecret", body, "") {
		t.Fatalf("expected empty signature to fail")
	}
}

func TestVerifyBareSignature(t *testing.T) {
	body := []byte(`{"action":"update"}`)
	if !VerifyBareSignature("s3cret", body, hexHMAC("s3cret", body)) {
		t.Fatalf("expected valid signature to verify")
	}
	if VerifyBareSignature("s3cret", body, hexHMAC("other", body)) {
		t.Fatalf("expected wrong-secret signature to fail")
	}
}

func TestVerifyToken(t *testing.T) {
	if !VerifyToken("token-1", "token-1") {
		t.Fatalf("expected matching token to verify")
	}
	if VerifyToken("token-1", "token-2") {
		t.Fatalf("expected mismatched token to fail")
	}
	if VerifyToken("", "") {
		t.Fatalf("expected empty secret to fail")
	}
}

func TestVerifyTimestampedSignature(t *testing.T) {
	secret := "signing"
	body := []byte(`{"type":"event_callback"}`)
	now := time.Unix(1700000600, 0)

	sign := func(ts int64) string {
		base := fmt.Sprintf("v0:%d:%s", ts, body)
		return "v0=" + hexHMAC(secret, []byte(base))
	}

	ts := now.Unix() - 10
	if !VerifyTimestampedSignature(secret, body, fmt.Sprintf("%d", ts), sign(ts), now) {
		t.Fatalf("expected fresh signature to verify")
	}

	// The replay window is inclusive: exactly 300 s of skew accepts.
	ts = now.Unix() - 300
	if !VerifyTimestampedSignature(secret, body, fmt.Sprintf("%d", ts), sign(ts), now) {
		t.Fatalf("expected 300s-old signature to verify")
	}
	ts = now.Unix() - 301
	if VerifyTimestampedSignature(secret, body, fmt.Sprintf("%d", ts), sign(ts), now) {
		t.Fatalf("expected 301s-old signature to fail")
	}
	ts = now.Unix() + 301
	if VerifyTimestampedSignature(secret, body, fmt.Sprintf("%d", ts), sign(ts), now) {
		t.Fatalf("expected future-skewed signature to fail")
	}

	ts = now.Unix()
	if VerifyTimestampedSignature(secret, body, "not-a-number", sign(ts), now) {
		t.Fatalf("expected unparsable timestamp to fail")
	}
	if VerifyTimestampedSignature(secret, body, fmt.Sprintf("%d", ts), hexHMAC(secret, body), now) {
		t.Fatalf("expected missing v0 prefix to fail")
	}
}
