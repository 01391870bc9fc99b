package providers

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"
	"net/url"
	"sort"
	"strings"
)

// HashFunc selects the HMAC hash
type HashFunc func() hash.Hash

var (
	SHA256 HashFunc = sha256.New
	SHA512 HashFunc = sha512.New
)

// CanonicalQuery renders values as key=value pairs sorted by key byte
// order and percent-encoded. Empty values are skipped. Both the signing
// and the verifying side must produce the identical string.
func CanonicalQuery(values url.Values) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		if values.Get(k) == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(values.Get(k)))
	}
	return b.String()
}

// SignHMAC computes the hex-encoded HMAC of payload under secret
func SignHMAC(h HashFunc, secret, payload string) string {
	mac := hmac.New(h, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyHMAC checks a hex signature in constant time
func VerifyHMAC(h HashFunc, secret, payload, signature string) bool {
	expected := SignHMAC(h, secret, payload)
	return hmac.Equal([]byte(strings.ToLower(signature)), []byte(expected))
}
