package entree_test

import (
	"strings"
	"testing"

	"github.com/goliatone/go-entree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalcChecksum(t *testing.T) {
	sum := entree.CalcChecksum("user@example.com", "secret", 40)
	assert.Len(t, sum, 40)
	assert.Equal(t, strings.ToUpper(sum), sum)
	assert.Equal(t, sum, entree.CalcChecksum("user@example.com", "secret", 40))
	assert.NotEqual(t, sum, entree.CalcChecksum("user@example.com", "other", 40))

	assert.Equal(t, sum[:10], entree.ShortChecksum("user@example.com", "secret"))
	assert.Len(t, entree.CalcChecksum("x", "k", 0), entree.ChecksumLength)
	assert.Len(t, entree.CalcChecksum("x", "k", 500), 64)
}

func TestVerifyChecksum(t *testing.T) {
	sum := entree.ShortChecksum("token", "secret")
	assert.True(t, entree.VerifyChecksum("token", "secret", entree.ShortChecksumLength, sum))
	assert.False(t, entree.VerifyChecksum("token", "secret", entree.ShortChecksumLength, "ABCDEF0123"))
	assert.False(t, entree.VerifyChecksum("token", "secret", entree.ShortChecksumLength, ""))
}

func TestSiteTokenChecksum(t *testing.T) {
	got := entree.SiteTokenChecksum(7, "ABC", "s3cret")
	assert.Equal(t, entree.CalcChecksum("7:ABC", "s3cret", 40), got)
}

func TestSanitizeToken(t *testing.T) {
	assert.Equal(t, "ABC123", entree.SanitizeToken(" abc-ABC/12 3; "))
	assert.Equal(t, "", entree.SanitizeToken("lower only"))
}

func TestNextURLRoundTrip(t *testing.T) {
	encoded := entree.SignNextURL("articles/42", "site-secret")
	assert.Equal(t, "articles/42", entree.VerifyNextURL(encoded, "site-secret"))
	assert.Equal(t, "", entree.VerifyNextURL(encoded, "other-secret"))
	assert.Equal(t, "", entree.VerifyNextURL("%%%", "site-secret"))
	assert.Equal(t, "", entree.VerifyNextURL("", "site-secret"))
}

func TestEmailEncoding(t *testing.T) {
	encoded := entree.EncodeEmail("user+tag@example.com")
	decoded, err := entree.DecodeEmail(encoded)
	require.NoError(t, err)
	assert.Equal(t, "user+tag@example.com", decoded)

	_, err = entree.DecodeEmail("***")
	assert.Error(t, err)
}
