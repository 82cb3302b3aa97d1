package client

import (
	"strings"

	"github.com/goliatone/go-entree"
)

// CookieState classifies a raw cookie value
type CookieState int

const (
	CookieMissing CookieState = iota
	CookieAnonymous
	CookieInvalid
	// CookieBare is a token without the local checksum
	CookieBare
	CookieSigned
	CookieMismatch
)

// SignCookie returns "token|checksum"
func SignCookie(token, key string) string {
	return token + entree.CookieChecksumSeparator + entree.ShortChecksum(token, key)
}

// ParseCookie splits raw into token and state. Only CookieBare and
// CookieSigned carry a token.
func ParseCookie(raw, key string) (string, CookieState) {
	switch raw {
	case "":
		return "", CookieMissing
	case AnonymousValue:
		return "", CookieAnonymous
	case InvalidValue:
		return "", CookieInvalid
	}

	token, checksum, found := strings.Cut(raw, entree.CookieChecksumSeparator)
	if !found {
		return raw, CookieBare
	}

	if !entree.VerifyChecksum(token, key, entree.ShortChecksumLength, checksum) {
		return token, CookieMismatch
	}
	return token, CookieSigned
}
