package contentstore

import (
	"crypto/sha256"
	"strings"

	"github.com/mr-tron/base58"
)

// Content addresses are CIDv0: base58btc over a sha2-256 multihash
// (0x12 0x20 prefix). Identical bytes always yield the same address, so
// publishing is idempotent by construction.
const (
	multihashSHA256 = 0x12
	sha256Length    = 0x20
)

func Address(data []byte) string {
	sum := sha256.Sum256(data)
	mh := make([]byte, 2, 2+len(sum))
	mh[0], mh[1] = multihashSHA256, sha256Length
	mh = append(mh, sum[:]...)
	return base58.Encode(mh)
}

// ValidAddress reports whether s is a well-formed sha2-256 content
// address, tolerating ipfs:// and gateway-path prefixes.
func ValidAddress(s string) bool {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "ipfs://")
	if i := strings.Index(s, "/ipfs/"); i >= 0 {
		s = s[i+len("/ipfs/"):]
	}
	if s == "" {
		return false
	}
	raw, err := base58.Decode(s)
	if err != nil {
		return false
	}
	return len(raw) == 2+sha256Length && raw[0] == multihashSHA256 && raw[1] == sha256Length
}
