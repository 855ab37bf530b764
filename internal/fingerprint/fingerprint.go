// Package fingerprint recognizes build artifacts whose names embed a content
// hash, <stem>.<hexhash>.<ext>. Detection is purely syntactic; content is
// never re-hashed.
package fingerprint

import (
	"crypto/md5"
	"encoding/hex"
	"path"
	"strings"
)

// DefaultHashLength is the hex length of an MD5 digest, the hash the build
// step uses when fingerprinting assets.
const DefaultHashLength = 32

type Detector struct {
	HashLength int
}

// New returns a Detector for hashLength hex characters, or DefaultHashLength when <= 0
func New(hashLength int) Detector {
	if hashLength <= 0 {
		hashLength = DefaultHashLength
	}
	return Detector{HashLength: hashLength}
}

// IsFingerprinted reports whether the base name of name is <stem>.<hash>.<ext>
// with a hash of exactly HashLength hex characters. Directory components are
// ignored, so "css/site.<hash>.css" qualifies.
func (d Detector) IsFingerprinted(name string) bool {
	n := d.HashLength
	if n <= 0 {
		n = DefaultHashLength
	}
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))

	parts := strings.Split(base, ".")
	if len(parts) < 3 {
		return false
	}
	stem, hash, ext := parts[0], parts[len(parts)-2], parts[len(parts)-1]
	if stem == "" || ext == "" {
		return false
	}
	return len(hash) == n && isHex(hash)
}

// IsFingerprinted uses a Detector with DefaultHashLength
func IsFingerprinted(name string) bool {
	return Detector{HashLength: DefaultHashLength}.IsFingerprinted(name)
}

// Fingerprint inserts the MD5 of data between the stem and the final extension of
// name, matching the build step's convention. Names without an extension get
// the hash appended as a suffix segment, which IsFingerprinted does not accept.
func Fingerprint(name string, data []byte) string {
	sum := md5.Sum(data)
	h := hex.EncodeToString(sum[:])

	dir, base := path.Split(name)
	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	return dir + stem + "." + h + ext
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
