package cryptoutil

import (
	"crypto/sha256"
	"encoding/hex"
)

// SHA256Hex is the content address used in manifests and SSM release pointers
func SHA256Hex(data []byte) string {
	d := digest(data)
	return hex.EncodeToString(d)
}

// digest is what KMS signs in place of the full message
func digest(msg []byte) []byte {
	sum := sha256.Sum256(msg)
	return sum[:]
}
