// Package redact strips credentials from values before they reach logs or error messages.
package redact

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
)

const placeholder = "[REDACTED]"

var (
	// SAS signatures and S3 presign parameters. Case-insensitive since S3 clients vary.
	signedParamPattern = regexp.MustCompile(`(?i)([?&](?:sig|x-amz-signature|x-amz-credential|x-amz-security-token|token)=)[^&#\s]*`)
	// A proxied HLS URL carries the container token as its last path segment.
	proxyTokenPattern = regexp.MustCompile(`(/hlsProxy/[^/\s]+/)[^/?#\s]+`)
)

// URL returns raw with every signing parameter and proxy token replaced.
func URL(raw string) string {
	out := signedParamPattern.ReplaceAllString(raw, "${1}"+placeholder)
	return proxyTokenPattern.ReplaceAllString(out, "${1}"+placeholder)
}

// Fingerprint returns a short stable hash of a secret, so log lines can be correlated without
// exposing it.
func Fingerprint(secret string) string {
	if secret == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])[:8]
}
