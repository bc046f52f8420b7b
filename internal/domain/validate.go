package domain

import (
	"crypto/rand"
	"encoding/hex"
	"regexp"
	"strings"
)

var (
	domainPattern    = regexp.MustCompile(`^(?:[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z]{2,}$`)
	subdomainPattern = regexp.MustCompile(`^[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?$`)
	nonAlnum         = regexp.MustCompile(`[^a-z0-9]`)
)

var reserved = map[string]struct{}{
	"www": {}, "api": {}, "app": {}, "admin": {}, "dashboard": {}, "mail": {}, "email": {},
	"support": {}, "help": {}, "docs": {}, "blog": {}, "dev": {}, "staging": {}, "test": {},
	"demo": {}, "cdn": {}, "assets": {}, "static": {}, "media": {}, "ftp": {}, "secure": {},
}

func IsValidDomain(d string) bool {
	return len(d) <= 253 && domainPattern.MatchString(d)
}

func IsReservedSubdomain(s string) bool {
	_, ok := reserved[strings.ToLower(s)]
	return ok
}

// IsValidSubdomain checks label syntax, the 3..63 length window and the
// reserved list.
func IsValidSubdomain(s string) bool {
	return len(s) >= 3 && len(s) <= 63 &&
		subdomainPattern.MatchString(s) &&
		!IsReservedSubdomain(s)
}

// SuggestSubdomain derives an available-looking slug from a display name.
func SuggestSubdomain(base string) string {
	clean := nonAlnum.ReplaceAllString(strings.ToLower(base), "")
	if len(clean) > 20 {
		clean = clean[:20]
	}
	b := make([]byte, 2)
	_, _ = rand.Read(b)
	return clean + hex.EncodeToString(b)
}

// GenerateVerificationToken returns 32 random bytes, hex encoded.
func GenerateVerificationToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
