// Package metrics holds the prometheus collectors shared by the HTTP layer,
// the DNS workflow and the webhook dispatcher. A nil *Metrics records nothing.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	HTTPRequests        *prometheus.CounterVec
	HTTPLatency         *prometheus.HistogramVec
	RateLimitRejections *prometheus.CounterVec
	TenantLookups       *prometheus.CounterVec
	DNSOperations       *prometheus.CounterVec
	DomainTransitions   *prometheus.CounterVec
	WebhookDeliveries   *prometheus.CounterVec
	BotsBlocked         prometheus.Counter
	ClientErrors        *prometheus.CounterVec
}

// New registers the collectors on reg, or on the default registerer when
// reg is nil.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tenantgate_http_requests_total",
			Help: "HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),
		HTTPLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tenantgate_http_request_duration_seconds",
			Help:    "Latency of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		RateLimitRejections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tenantgate_ratelimit_rejections_total",
			Help: "Requests rejected by the rate limiter",
		}, []string{"tier"}),
		TenantLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tenantgate_tenant_lookups_total",
			Help: "Host based tenant lookups by outcome",
		}, []string{"result"}),
		DNSOperations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tenantgate_dns_operations_total",
			Help: "DNS provider workflow steps by action and outcome",
		}, []string{"action", "result"}),
		DomainTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tenantgate_domain_status_transitions_total",
			Help: "Domain status transitions by target status",
		}, []string{"status"}),
		WebhookDeliveries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tenantgate_webhook_deliveries_total",
			Help: "Webhook delivery attempts by outcome",
		}, []string{"result"}),
		BotsBlocked: f.NewCounter(prometheus.CounterOpts{
			Name: "tenantgate_bots_blocked_total",
			Help: "Requests rejected by bot detection",
		}),
		ClientErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tenantgate_client_errors_total",
			Help: "Error reports received from clients by level",
		}, []string{"level"}),
	}
}

func (m *Metrics) ObserveRequest(method, route string, status int, seconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPLatency.WithLabelValues(route).Observe(seconds)
}

func (m *Metrics) IncRateLimited(tier string) {
	if m == nil {
		return
	}
	m.RateLimitRejections.WithLabelValues(tier).Inc()
}

func (m *Metrics) IncTenantLookup(result string) {
	if m == nil {
		return
	}
	m.TenantLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) IncDNSOperation(action string, ok bool) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.DNSOperations.WithLabelValues(action, result).Inc()
}

func (m *Metrics) IncDomainTransition(status string) {
	if m == nil {
		return
	}
	m.DomainTransitions.WithLabelValues(status).Inc()
}

func (m *Metrics) IncWebhookDelivery(result string) {
	if m == nil {
		return
	}
	m.WebhookDeliveries.WithLabelValues(result).Inc()
}

func (m *Metrics) IncBotBlocked() {
	if m == nil {
		return
	}
	m.BotsBlocked.Inc()
}

func (m *Metrics) IncClientError(level string) {
	if m == nil {
		return
	}
	m.ClientErrors.WithLabelValues(level).Inc()
}
