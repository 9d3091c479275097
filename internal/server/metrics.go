package server

import (
	"math/big"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metricsRegistry struct {
	registry           *prometheus.Registry
	requestsTotal      *prometheus.CounterVec
	replaysTotal       *prometheus.CounterVec
	executionsTotal    *prometheus.CounterVec
	retryAttemptsTotal *prometheus.CounterVec
	authFailuresTotal  prometheus.Counter
	dlqDepth           prometheus.Gauge
	escrowBalance      prometheus.Gauge
}

func newMetricsRegistry() *metricsRegistry {
	m := &metricsRegistry{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oracleescrow_requests_total",
			Help: "API requests by route and HTTP status",
		}, []string{"route", "code"}),
		replaysTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oracleescrow_idempotent_replays_total",
			Help: "Responses served from the idempotency store",
		}, []string{"route"}),
		executionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oracleescrow_executions_total",
			Help: "executeContract calls by outcome",
		}, []string{"outcome"}),
		retryAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oracleescrow_retry_attempts_total",
			Help: "Retry attempts for escrow execution",
		}, []string{"result"}),
		authFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oracleescrow_auth_failures_total",
			Help: "Requests rejected for a missing or bad signature",
		}),
		dlqDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "oracleescrow_dlq_depth",
			Help: "Number of items in the DLQ",
		}),
		escrowBalance: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "oracleescrow_escrow_balance_wei",
			Help: "Escrow balance at the last read",
		}),
	}
	m.registry.MustRegister(
		m.requestsTotal,
		m.replaysTotal,
		m.executionsTotal,
		m.retryAttemptsTotal,
		m.authFailuresTotal,
		m.dlqDepth,
		m.escrowBalance,
	)
	return m
}

func (m *metricsRegistry) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metricsRegistry) incRequest(route string, code int) {
	m.requestsTotal.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

func (m *metricsRegistry) incReplay(route string) {
	m.replaysTotal.WithLabelValues(route).Inc()
}

func (m *metricsRegistry) incExecution(outcome string) {
	m.executionsTotal.WithLabelValues(outcome).Inc()
}

func (m *metricsRegistry) incRetry(result string) {
	m.retryAttemptsTotal.WithLabelValues(result).Inc()
}

func (m *metricsRegistry) incAuthFailure() {
	m.authFailuresTotal.Inc()
}

func (m *metricsRegistry) setDLQDepth(depth int) {
	m.dlqDepth.Set(float64(depth))
}

func (m *metricsRegistry) setBalance(wei *big.Int) {
	if wei == nil {
		return
	}
	f, _ := new(big.Float).SetInt(wei).Float64()
	m.escrowBalance.Set(f)
}
