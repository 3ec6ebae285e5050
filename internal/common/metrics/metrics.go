package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Registry holds metrics on a private registry. New builds the set the ops
// API serves; NewJob builds the set one signing command pushes. Recording a
// series the registry does not carry is a no-op, as is any call on a nil
// *Registry.
type Registry struct {
	registry            *prometheus.Registry
	transactionsTotal   *prometheus.CounterVec
	receiptWaitSeconds  prometheus.Histogram
	permitsSignedTotal  *prometheus.CounterVec
	permitVerifications *prometheus.CounterVec
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestSeconds  *prometheus.HistogramVec
}

func New() *Registry {
	verified := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "buddyguard_permit_verifications_total",
		Help: "Offline permit verifications served by the ops API",
	}, []string{"result"})

	httpTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "buddyguard_http_requests_total",
		Help: "Ops API requests",
	}, []string{"method", "route", "status"})

	httpSeconds := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "buddyguard_http_request_duration_seconds",
		Help:    "Ops API request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	r := prometheus.NewRegistry()
	r.MustRegister(verified, httpTotal, httpSeconds)

	return &Registry{
		registry:            r,
		permitVerifications: verified,
		httpRequestsTotal:   httpTotal,
		httpRequestSeconds:  httpSeconds,
	}
}

func NewJob() *Registry {
	txs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "buddyguard_transactions_total",
		Help: "Transactions submitted, by action and outcome",
	}, []string{"action", "status"})

	wait := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "buddyguard_receipt_wait_seconds",
		Help:    "Time from broadcast to receipt",
		Buckets: []float64{1, 2, 5, 10, 20, 40, 80, 160},
	})

	signed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "buddyguard_permits_signed_total",
		Help: "EIP-2612 permits signed",
	}, []string{"result"})

	r := prometheus.NewRegistry()
	r.MustRegister(txs, wait, signed)

	return &Registry{
		registry:           r,
		transactionsTotal:  txs,
		receiptWaitSeconds: wait,
		permitsSignedTotal: signed,
	}
}

func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the registry for tests.
func (m *Registry) Gatherer() prometheus.Gatherer {
	return m.registry
}

// Push replaces the job's group on the Pushgateway at url with the
// registry's current values.
func (m *Registry) Push(url, job string, grouping map[string]string) error {
	if m == nil {
		return nil
	}
	pusher := push.New(url, job).Gatherer(m.registry)
	for name, value := range grouping {
		pusher = pusher.Grouping(name, value)
	}
	return pusher.Push()
}

func (m *Registry) IncTransaction(action, status string) {
	if m == nil || m.transactionsTotal == nil {
		return
	}
	m.transactionsTotal.WithLabelValues(action, status).Inc()
}

func (m *Registry) ObserveReceiptWait(d time.Duration) {
	if m == nil || m.receiptWaitSeconds == nil {
		return
	}
	m.receiptWaitSeconds.Observe(d.Seconds())
}

func (m *Registry) IncPermitSigned(result string) {
	if m == nil || m.permitsSignedTotal == nil {
		return
	}
	m.permitsSignedTotal.WithLabelValues(result).Inc()
}

func (m *Registry) IncPermitVerification(result string) {
	if m == nil || m.permitVerifications == nil {
		return
	}
	m.permitVerifications.WithLabelValues(result).Inc()
}

// Middleware records request counts and latency by route template.
func (m *Registry) Middleware() gin.HandlerFunc {
	if m == nil || m.httpRequestsTotal == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpRequestSeconds.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
