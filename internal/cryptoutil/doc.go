// Package cryptoutil provides the digest and signing primitives used when
// publishing a deploy manifest.
//
// It supports:
//   - SHA-256 content addresses
//   - KMS-backed detached signatures over a SHA-256 digest
package cryptoutil
