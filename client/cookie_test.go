package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCookie(t *testing.T) {
	key := "cookie-key"
	signed := SignCookie("tok-123", key)

	tests := []struct {
		name  string
		raw   string
		token string
		state CookieState
	}{
		{name: "missing", raw: "", state: CookieMissing},
		{name: "anonymous", raw: AnonymousValue, state: CookieAnonymous},
		{name: "invalid", raw: InvalidValue, state: CookieInvalid},
		{name: "bare", raw: "tok-123", token: "tok-123", state: CookieBare},
		{name: "signed", raw: signed, token: "tok-123", state: CookieSigned},
		{name: "tampered", raw: "tok-999|" + signed[len("tok-123|"):], token: "tok-999", state: CookieMismatch},
		{name: "wrong key", raw: SignCookie("tok-123", "other"), token: "tok-123", state: CookieMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, state := ParseCookie(tt.raw, key)
			assert.Equal(t, tt.state, state)
			assert.Equal(t, tt.token, token)
		})
	}
}

func TestSignCookieFormat(t *testing.T) {
	signed := SignCookie("abc", "key")
	assert.Len(t, signed, len("abc|")+10)
	assert.Equal(t, "abc|", signed[:4])
}
