package tuple

import "crypto/sha256"

// ShortKeyLen is the fixed length of a short key: the spec's 255-byte
// representative used for in-tree routing of oversized keys.
const ShortKeyLen = 255

// shortKeyPrefixLen is 255 - 32 (sha256.Size): the lexical prefix kept
// intact so short keys still sort consistently with the first 223
// bytes of the real key, per spec §4.5/§9.
const shortKeyPrefixLen = ShortKeyLen - sha256.Size

// IsOversized reports whether key must be routed via its short key
// rather than stored verbatim in the tree (key length > 255).
func IsOversized(key []byte) bool {
	return len(key) > 255
}

// ShortKey derives the 255-byte short key for an oversized key: the
// first 223 bytes of key, followed by SHA-256(key). Collisions on the
// first 223 bytes are disambiguated by the hash; a lookup must still
// verify the full key against the overflow tuple before trusting a
// match (see pkg/tree).
func ShortKey(key []byte) []byte {
	out := make([]byte, 0, ShortKeyLen)
	out = append(out, key[:shortKeyPrefixLen]...)
	sum := sha256.Sum256(key)
	out = append(out, sum[:]...)
	return out
}
