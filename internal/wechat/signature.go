package wechat

import (
	"crypto/sha1"
	"crypto/subtle"
	"encoding/hex"
	"sort"
)

// CheckSignature verifies an inbound webhook signature: SHA-1 over the
// lexicographically sorted concatenation of the verify token, timestamp,
// and nonce, compared in constant time against the hex signature the
// platform sent.
func CheckSignature(verifyToken, signature, timestamp, nonce string) bool {
	parts := []string{verifyToken, timestamp, nonce}
	sort.Strings(parts)
	sum := sha1.Sum([]byte(parts[0] + parts[1] + parts[2]))
	want := hex.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(want), []byte(signature)) == 1
}
