package internal

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MaxSignatureSkew bounds the age of a replay-guarded request timestamp.
const MaxSignatureSkew = 300 * time.Second

// VerifyPrefixedSignature checks an HMAC-SHA256 signature carried as
// "sha256=" + hex(HMAC(secret, body)). Comparison is constant-time.
func VerifyPrefixedSignature(secret string, body []byte, signature string) bool {
	if signature == "" || secret == "" {
		return false
	}
	if !strings.HasPrefix(signature, "sha256=") {
		return false
	}
	received := strings.TrimPrefix(signature, "sha256=")
	return hmacEqualHex(secret, body, received)
}

// VerifyBareSignature checks an HMAC-SHA256 signature carried as bare hex
// with no prefix.
func VerifyBareSignature(secret string, body []byte, signature string) bool {
	if signature == "" || secret == "" {
		return false
	}
	return hmacEqualHex(secret, body, signature)
}

// VerifyToken compares a shared token header against the configured secret
// in constant time.
func VerifyToken(secret, token string) bool {
	if secret == "" || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(secret), []byte(token)) == 1
}

// VerifyTimestampedSignature checks the replay-guarded chat envelope:
// signature "v0=" + hex(HMAC(secret, "v0:" + ts + ":" + body)), where ts is
// unix seconds and must be within MaxSignatureSkew of now.
func VerifyTimestampedSignature(secret string, body []byte, timestamp, signature string, now time.Time) bool {
	if signature == "" || secret == "" || timestamp == "" {
		return false
	}
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	skew := now.Unix() - ts
	if skew < 0 {
		skew = -skew
	}
	if time.Duration(skew)*time.Second > MaxSignatureSkew {
		return false
	}
	if !strings.HasPrefix(signature, "v0=") {
		return false
	}
	received := strings.TrimPrefix(signature, "v0=")
	base := fmt.Sprintf("v0:%s:%s", timestamp, body)
	return hmacEqualHex(secret, []byte(base), received)
}

func hmacEqualHex(secret string, body []byte, receivedHex string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(receivedHex), []byte(expected))
}
