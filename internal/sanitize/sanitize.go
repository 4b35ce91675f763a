// Package sanitize turns account identifiers into safe NATS subject tokens
// and Redis key segments, and validates identifiers accepted over HTTP.
//
// Subject tokens must not contain '.', '*', '>' or whitespace. Token keeps
// identifiers that are already safe unchanged, so the common case reads
// naturally on the wire; anything rewritten gets a hash suffix so two
// distinct identifiers never share a token.
package sanitize

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	// MaxTokenLength bounds a token, including any hash suffix.
	MaxTokenLength = 64

	// HashSuffixLength is the length of "_" plus eight hex characters.
	HashSuffixLength = 9

	// DefaultToken is used for an empty identifier.
	DefaultToken = "default"
)

// Token returns s as a single subject token / key segment.
//
// Examples:
//
//	"acct-1"        -> "acct-1"
//	"acme.support"  -> "acme_support_3f2a9c1d"
//	""              -> "default"
func Token(s string) string {
	if s == "" {
		return DefaultToken
	}

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if safeRune(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	token := b.String()
	if token == s && len(token) <= MaxTokenLength {
		return token
	}

	token = strings.Trim(token, "_")
	if limit := MaxTokenLength - HashSuffixLength; len(token) > limit {
		token = strings.TrimRight(token[:limit], "_")
	}
	return token + hashSuffix(s)
}

func safeRune(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-'
}

func hashSuffix(s string) string {
	sum := sha256.Sum256([]byte(s))
	return "_" + hex.EncodeToString(sum[:])[:8]
}
