package util

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// ContentHash returns the hex sha256 over the concatenation of parts.
func ContentHash(parts ...[]byte) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ETag returns a short content fingerprint of b (xxhash64, hex).
func ETag(b []byte) string {
	return strconv.FormatUint(xxhash.Sum64(b), 16)
}
