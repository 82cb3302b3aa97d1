package entree

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

const (
	// ChecksumLength is the default checksum size, also the token value size
	ChecksumLength = 40
	// ShortChecksumLength is used by cookies and next url signatures
	ShortChecksumLength = 10
	// CookieChecksumSeparator splits token and checksum in client cookies
	CookieChecksumSeparator = "|"
)

var tokenCleaner = regexp.MustCompile(`[^A-Z0-9]+`)

// CalcChecksum returns the upper case hex HMAC-SHA256 of value keyed
// by key, truncated to length characters.
func CalcChecksum(value, key string, length int) string {
	if length <= 0 {
		length = ChecksumLength
	}

	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(value))
	sum := strings.ToUpper(hex.EncodeToString(mac.Sum(nil)))

	if length > len(sum) {
		length = len(sum)
	}
	return sum[:length]
}

// ShortChecksum is CalcChecksum with ShortChecksumLength
func ShortChecksum(value, key string) string {
	return CalcChecksum(value, key, ShortChecksumLength)
}

// VerifyChecksum compares candidate with the expected checksum in constant time
func VerifyChecksum(value, key string, length int, candidate string) bool {
	expected := CalcChecksum(value, key, length)
	return hmac.Equal([]byte(expected), []byte(candidate))
}

// SiteTokenChecksum is the checksum a relying site sends along a token
// when it asks for the profile bound to it.
func SiteTokenChecksum(siteID int64, token, secret string) string {
	return CalcChecksum(fmt.Sprintf("%d:%s", siteID, token), secret, ChecksumLength)
}

// SanitizeToken drops every character that can not be part of a token value
func SanitizeToken(raw string) string {
	return tokenCleaner.ReplaceAllString(raw, "")
}

// SignNextURL encodes path so that only the authority and the owner of
// secret can produce it.
func SignNextURL(path, secret string) string {
	raw := path + ":" + ShortChecksum(path, secret)
	return base64.URLEncoding.EncodeToString([]byte(raw))
}

// VerifyNextURL decodes a value produced by SignNextURL. Anything that
// does not decode or verify resolves to an empty path.
func VerifyNextURL(encoded, secret string) string {
	if encoded == "" {
		return ""
	}

	raw, err := decodeB64(encoded)
	if err != nil {
		return ""
	}

	idx := strings.LastIndex(raw, ":")
	if idx < 0 {
		return ""
	}

	path, checksum := raw[:idx], raw[idx+1:]
	if !VerifyChecksum(path, secret, ShortChecksumLength, checksum) {
		return ""
	}

	return path
}

// EncodeEmail encodes an email for use in a link path
func EncodeEmail(email string) string {
	return base64.URLEncoding.EncodeToString([]byte(email))
}

// DecodeEmail reverses EncodeEmail, it also accepts the standard alphabet
func DecodeEmail(encoded string) (string, error) {
	return decodeB64(encoded)
}

func decodeB64(encoded string) (string, error) {
	encoded = strings.TrimSpace(encoded)
	for _, enc := range []*base64.Encoding{
		base64.URLEncoding,
		base64.StdEncoding,
		base64.RawURLEncoding,
		base64.RawStdEncoding,
	} {
		if out, err := enc.DecodeString(encoded); err == nil {
			return string(out), nil
		}
	}
	return "", fmt.Errorf("unable to decode %q", encoded)
}

// ResolveNextURL joins the site url with the path signed in encoded.
// Invalid or missing values resolve to the site root.
func ResolveNextURL(siteURL, secret, encoded string) string {
	path := VerifyNextURL(encoded, secret)
	return strings.TrimRight(siteURL, "/") + "/" + strings.TrimLeft(path, "/")
}
