// Package crypto provides HMAC-SHA256 authentication for custody gateway
// requests and cross-node relay envelopes.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// HMACAuth holds the credentials required for HMAC-authenticated requests
// against the custody gateway.
type HMACAuth struct {
	Key    string // API key
	Secret string // API secret
}

// Headers returns the HTTP headers for a custody gateway request. The
// signature is HMAC-SHA256(secret, timestamp+method+path+body) encoded as
// base64.
//
// Returned header keys:
//   - X-PULSE-API-KEY
//   - X-PULSE-TIMESTAMP
//   - X-PULSE-SIGNATURE
func (h *HMACAuth) Headers(method, path, body string) map[string]string {
	return h.HeadersAt(method, path, body, time.Now().Unix())
}

// HeadersAt is like Headers but lets the caller supply the Unix timestamp
// (useful for deterministic testing).
func (h *HMACAuth) HeadersAt(method, path, body string, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)

	message := ts + method + path + body
	sig := SignMessage([]byte(h.Secret), message)

	return map[string]string{
		"X-PULSE-API-KEY":   h.Key,
		"X-PULSE-TIMESTAMP": ts,
		"X-PULSE-SIGNATURE": sig,
	}
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", redact(h.Key), redact(h.Secret))
}

// SignMessage computes HMAC-SHA256 of message using key and returns the
// result as a base64 standard-encoded string.
func SignMessage(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// VerifyMessage reports whether sig is a valid signature of message under
// key, comparing in constant time.
func VerifyMessage(key []byte, message, sig string) bool {
	want, err := base64.StdEncoding.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return hmac.Equal(mac.Sum(nil), want)
}
