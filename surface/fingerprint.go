package surface

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// cborEncMode uses canonical encoding so the same surface always serializes
// to the same bytes, regardless of map iteration order.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("surface: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Fingerprint returns a stable hex digest of the surface model. Re-running
// generation on an unchanged surface stamps the same fingerprint into every
// emitted file, which makes idempotence checkable byte-for-byte.
func Fingerprint(s *Surface) (string, error) {
	data, err := cborEncMode.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("encoding surface: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
