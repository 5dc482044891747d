package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Token resolution kinds.
const (
	KindPrimary   = "primary"
	KindTrusted   = "trusted"
	KindFederated = "federated"
	KindNone      = "none"
)

// Outcome labels.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

var tokenResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "gisauth_token_resolutions_total",
	Help: "Token resolutions by kind of credential presented",
}, []string{"kind", "status"})

var tokenResolutionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "gisauth_token_resolution_duration_seconds",
	Help:    "Time to resolve a token for a URL",
	Buckets: prometheus.ExponentialBucketsRange(0.0001, 30, 20),
}, []string{"kind", "status"})

var federationCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "gisauth_federation_cache_lookups_total",
	Help: "Federation trust cache lookups",
}, []string{"result"})

var refreshes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "gisauth_refreshes_total",
	Help: "Credential refreshes by path",
}, []string{"path", "status"})

var dedupCalls = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "gisauth_pending_calls_total",
	Help: "Deduplicated acquisitions, split by whether the result was shared",
}, []string{"purpose", "shared"})

var oauthFlows = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "gisauth_oauth_flows_total",
	Help: "Completed OAuth2 flows by terminal state",
}, []string{"state"})

var bridgeRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "gisauth_bridge_requests_total",
	Help: "Cross-frame credential requests answered by the host",
}, []string{"result"})

func status(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusOK
}

// ObserveResolution records one GetToken call.
func ObserveResolution(kind string, started time.Time, err error) {
	s := status(err)
	tokenResolutions.WithLabelValues(kind, s).Inc()
	tokenResolutionDuration.WithLabelValues(kind, s).Observe(time.Since(started).Seconds())
}

// CacheHit records a live federation cache entry.
func CacheHit() {
	federationCacheLookups.WithLabelValues("hit").Inc()
}

// CacheMiss records an absent or expired federation cache entry.
func CacheMiss() {
	federationCacheLookups.WithLabelValues("miss").Inc()
}

// ObserveRefresh records a refresh attempt through path.
func ObserveRefresh(path string, err error) {
	refreshes.WithLabelValues(path, status(err)).Inc()
}

// ObserveDedup matches pending.Observer.
func ObserveDedup(purpose string, shared bool, _ error) {
	label := "false"
	if shared {
		label = "true"
	}
	dedupCalls.WithLabelValues(purpose, label).Inc()
}

// ObserveFlow records a flow reaching a terminal state.
func ObserveFlow(state string) {
	oauthFlows.WithLabelValues(state).Inc()
}

// ObserveBridgeRequest records how the host answered a credential request.
func ObserveBridgeRequest(result string) {
	bridgeRequests.WithLabelValues(result).Inc()
}

// Handler exposes the default registry for scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}
