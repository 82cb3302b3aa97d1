// Package metrics exposes authority counters to Prometheus.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/goliatone/go-entree"
)

const namespace = "entree"

// Collector records authority activity, it satisfies entree.Metrics
type Collector struct {
	tokensIssued  *prometheus.CounterVec
	loginAttempts *prometheus.CounterVec
	profileFetch  *prometheus.CounterVec
	mailSent      *prometheus.CounterVec
	rateLimited   prometheus.Counter
}

var _ entree.Metrics = (*Collector)(nil)

// NewCollector registers every counter in reg
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		tokensIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_issued_total",
			Help:      "Tokens issued by type.",
		}, []string{"type"}),
		loginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "login_attempts_total",
			Help:      "Password checks by outcome.",
		}, []string{"outcome"}),
		profileFetch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "profile_fetch_total",
			Help:      "Profile fetches answered to relying sites by outcome.",
		}, []string{"outcome"}),
		mailSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mail_sent_total",
			Help:      "Mail deliveries by kind and result.",
		}, []string{"kind", "ok"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter.",
		}),
	}

	reg.MustRegister(
		c.tokensIssued,
		c.loginAttempts,
		c.profileFetch,
		c.mailSent,
		c.rateLimited,
	)

	return c
}

func (c *Collector) TokenIssued(tokenType string) {
	c.tokensIssued.WithLabelValues(tokenType).Inc()
}

func (c *Collector) LoginAttempt(outcome string) {
	c.loginAttempts.WithLabelValues(outcome).Inc()
}

func (c *Collector) ProfileFetch(outcome string) {
	c.profileFetch.WithLabelValues(outcome).Inc()
}

func (c *Collector) MailSent(kind string, ok bool) {
	c.mailSent.WithLabelValues(kind, strconv.FormatBool(ok)).Inc()
}

// RateLimited counts a rejected request
func (c *Collector) RateLimited() {
	c.rateLimited.Inc()
}

// Handler serves the scrape endpoint for gatherer
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// NewServeMux mounts Handler at /metrics
func NewServeMux(gatherer prometheus.Gatherer) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
