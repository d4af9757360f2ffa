package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DomainSnapshot is the domain prefix for snapshot digests.
// The version suffix allows future algorithm migration.
const DomainSnapshot = "tandem/snapshot/v1"

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Digest returns the content digest of v's canonical JSON under
// DomainSnapshot. Two engine states with the same digest are observably
// identical.
func Digest(v any) (string, error) {
	canonical, err := MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("Digest: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainSnapshot, canonical), nil
}
