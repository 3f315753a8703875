package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type MetricsCollector struct {
	registry          *prometheus.Registry
	operationsTotal   *prometheus.CounterVec
	operationDuration prometheus.Histogram
	reserveBalance    prometheus.Gauge
	userBalance       *prometheus.GaugeVec
	activeLoans       prometheus.Gauge
	logger            *slog.Logger
}

func NewMetricsCollector(logger *slog.Logger) *MetricsCollector {
	if logger == nil {
		logger = slog.Default()
	}

	registry := prometheus.NewRegistry()

	collector := &MetricsCollector{
		registry: registry,
		operationsTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_operations_total",
			Help: "Total number of ledger operations by operation and outcome",
		}, []string{"operation", "outcome"}),
		operationDuration: promauto.With(registry).NewHistogram(prometheus.HistogramOpts{
			Name:    "ledger_operation_duration_seconds",
			Help:    "Time taken to apply a ledger operation",
			Buckets: prometheus.DefBuckets,
		}),
		reserveBalance: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
			Name: "ledger_reserve_balance",
			Help: "Current reserve balance in base units",
		}),
		userBalance: promauto.With(registry).NewGaugeVec(prometheus.GaugeOpts{
			Name: "ledger_user_balance",
			Help: "Current user balance in base units",
		}, []string{"owner"}),
		activeLoans: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
			Name: "ledger_active_loans",
			Help: "Number of loans currently outstanding",
		}),
		logger: logger,
	}

	return collector
}

func (m *MetricsCollector) RecordOperation(operation string, duration time.Duration, success bool) {
	outcome := "ok"
	if !success {
		outcome = "error"
	}
	m.operationsTotal.WithLabelValues(operation, outcome).Inc()
	m.operationDuration.Observe(duration.Seconds())
}

func (m *MetricsCollector) SetReserveBalance(balance uint64) {
	m.reserveBalance.Set(float64(balance))
}

func (m *MetricsCollector) SetUserBalance(owner string, balance uint64) {
	m.userBalance.WithLabelValues(owner).Set(float64(balance))
}

func (m *MetricsCollector) LoanOpened() {
	m.activeLoans.Inc()
}

func (m *MetricsCollector) LoanRepaid() {
	m.activeLoans.Dec()
}

func (m *MetricsCollector) GetHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *MetricsCollector) StartMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.GetHandler())

	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		m.logger.Info("Starting metrics server", slog.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.logger.Error("Metrics server failed", slog.String("error", err.Error()))
		}
	}()

	return server
}

func (m *MetricsCollector) Shutdown(ctx context.Context) error {
	m.logger.Info("Metrics collector shutdown complete")
	return nil
}
