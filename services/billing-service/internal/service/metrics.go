package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	webhooksTotal     *prometheus.CounterVec
	commissionAmount  prometheus.Histogram
	paymentsTotal     *prometheus.CounterVec
	vouchersExpired   *prometheus.CounterVec
	sweepFailures     prometheus.Counter
	sweepDuration     prometheus.Histogram
	routerRemovals    *prometheus.CounterVec
	vouchersCancelled prometheus.Counter
}

// NewMetrics registers the billing collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		webhooksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_webhooks_total",
				Help: "Payment webhook deliveries by event and outcome",
			},
			[]string{"event", "status"},
		),

		commissionAmount: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "billing_commission_amount",
				Help:    "Commission charged per voucher sale",
				Buckets: []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000},
			},
		),

		paymentsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_payments_total",
				Help: "Committed voucher payments by method",
			},
			[]string{"method"},
		),

		vouchersExpired: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_vouchers_expired_total",
				Help: "Vouchers expired by the sweep, by reason",
			},
			[]string{"reason"},
		),

		sweepFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "billing_sweep_failures_total",
				Help: "Vouchers the sweep failed to expire",
			},
		),

		sweepDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "billing_sweep_duration_seconds",
				Help:    "Duration of an expiry sweep run",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
			},
		),

		routerRemovals: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_router_removals_total",
				Help: "Hotspot user removals on routers by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),

		vouchersCancelled: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "billing_vouchers_cancelled_total",
				Help: "Vouchers cancelled by operators",
			},
		),
	}
}

func (m *Metrics) IncrementWebhook(event, status string) {
	m.webhooksTotal.WithLabelValues(event, status).Inc()
}

func (m *Metrics) ObservePayment(method string, commission float64) {
	m.paymentsTotal.WithLabelValues(method).Inc()
	m.commissionAmount.Observe(commission)
}

func (m *Metrics) IncrementExpired(reason string) {
	m.vouchersExpired.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncrementSweepFailures() {
	m.sweepFailures.Inc()
}

func (m *Metrics) ObserveSweepDuration(seconds float64) {
	m.sweepDuration.Observe(seconds)
}

func (m *Metrics) IncrementRouterRemoval(provider, outcome string) {
	m.routerRemovals.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) IncrementCancelled() {
	m.vouchersCancelled.Inc()
}
