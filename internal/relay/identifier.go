package relay

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

const identifierHashLen = 8

// DeriveIdentifier names the relay stream for a source. The same source
// always yields the same identifier.
func DeriveIdentifier(prefix, source string) string {
	sum := blake2b.Sum256([]byte(source))
	return prefix + hex.EncodeToString(sum[:])[:identifierHashLen]
}

// CameraSource builds the relay source marker for a camera resource.
func CameraSource(resourceID string) string {
	return CameraSourceScheme + resourceID
}
