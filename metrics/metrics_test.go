package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-entree"
)

func TestCollectorCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.TokenIssued(string(entree.TokenAuth))
	c.TokenIssued(string(entree.TokenAuth))
	c.LoginAttempt(entree.OutcomeLocked)
	c.ProfileFetch(entree.OutcomeDenied)
	c.MailSent("verify", false)
	c.RateLimited()

	assert.Equal(t, 2.0, testutil.ToFloat64(c.tokensIssued.WithLabelValues(string(entree.TokenAuth))))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.loginAttempts.WithLabelValues(entree.OutcomeLocked)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.profileFetch.WithLabelValues(entree.OutcomeDenied)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.mailSent.WithLabelValues("verify", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.rateLimited))
}

func TestCollectorRegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewCollector(reg)
	assert.Panics(t, func() { NewCollector(reg) })
}

func TestServeMux(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.ProfileFetch(entree.OutcomeSuccess)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	NewServeMux(reg).ServeHTTP(w, req)

	res := w.Result()
	require.Equal(t, http.StatusOK, res.StatusCode)

	body, _ := io.ReadAll(res.Body)
	assert.Contains(t, string(body), `entree_profile_fetch_total{outcome="success"} 1`)
}
