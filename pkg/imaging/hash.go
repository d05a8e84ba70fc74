package imaging

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashBytes returns the hex SHA-256 of the raw uploaded bytes. Hashing
// happens before optimization so a re-optimized resubmission of the
// same photo still matches its earlier hash.
func HashBytes(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
