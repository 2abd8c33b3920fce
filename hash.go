package ivxp

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// HashBytes returns the SHA-256 of content as 64-char lowercase hex.
func HashBytes(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// HashString hashes the UTF-8 bytes of content.
func HashString(content string) string {
	return HashBytes([]byte(content))
}

// HashJSON hashes the canonical JSON encoding of v: object keys sorted,
// minimal separators. Reordering keys of an equivalent object yields the
// same hash.
func HashJSON(v interface{}) (string, error) {
	canonical, err := canonicalJSON(v)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize value: %w", err)
	}
	return HashBytes(canonical), nil
}

// canonicalJSON round-trips v through encoding/json. Go's encoder already
// emits map keys in sorted order with no insignificant whitespace; the
// round-trip normalizes struct field order into map-key order as well.
func canonicalJSON(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var norm interface{}
	if err := json.Unmarshal(raw, &norm); err != nil {
		return nil, err
	}
	return json.Marshal(norm)
}
