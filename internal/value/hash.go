package value

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for fingerprint computation.
// Version suffix enables future algorithm migration.
const (
	domainValue = "facet/value/v1"
)

// Fingerprint computes a stable content hash of a value.
//
// The orchestrator compares fingerprints to decide whether a recomputed
// value actually changed; identical fingerprints skip the cache rewrite so
// cached_at only moves when the value does.
//
// Format: SHA256(domain + 0x00 + canonical JSON), hex encoded.
// The null byte separator prevents domain/data boundary ambiguity.
func Fingerprint(v Value) (string, error) {
	canonical, err := MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}

	h := sha256.New()
	h.Write([]byte(domainValue))
	h.Write([]byte{0x00})
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}
