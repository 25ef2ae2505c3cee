// Package crypto signs outbound requests to the engine's collaborators.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// Header names carried by signed requests.
const (
	HeaderKey       = "X-Api-Key"
	HeaderTimestamp = "X-Timestamp"
	HeaderSignature = "X-Signature"
)

// HMACAuth signs requests for the payment collaborator and the notification
// webhook. The signature is hex(HMAC-SHA256(secret, timestamp+method+path+body)).
type HMACAuth struct {
	Key    string
	Secret string
}

// Headers returns the signing headers for a request sent now.
func (h *HMACAuth) Headers(method, path string, body []byte) map[string]string {
	return h.HeadersAt(method, path, body, time.Now().Unix())
}

// HeadersAt is like Headers with a caller-supplied Unix timestamp.
func (h *HMACAuth) HeadersAt(method, path string, body []byte, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)
	return map[string]string{
		HeaderKey:       h.Key,
		HeaderTimestamp: ts,
		HeaderSignature: sign([]byte(h.Secret), ts, method, path, body),
	}
}

// Verify reports whether sig is the signature of the request under secret,
// comparing in constant time.
func Verify(secret, ts, method, path string, body []byte, sig string) bool {
	want := sign([]byte(secret), ts, method, path, body)
	return hmac.Equal([]byte(want), []byte(sig))
}

func sign(key []byte, ts, method, path string, body []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(ts + method + path))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
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
