package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"receiv3/pkg/domain"
)

// Metrics provides observability for the funding pool engine. Volumes are
// reported in whole tokens.
type Metrics struct {
	PoolsCreated       prometheus.Counter
	Investments        prometheus.Counter
	InvestedVolume     prometheus.Counter
	PoolsFilled        prometheus.Counter
	DisbursedVolume    prometheus.Counter
	Repayments         prometheus.Counter
	RepaidVolume       prometheus.Counter
	FeesCollected      prometheus.Counter
	PausedRejections   *prometheus.CounterVec
	StatusSyncFailures *prometheus.CounterVec
	Compensations      *prometheus.CounterVec
	OperationDuration  *prometheus.HistogramVec
}

// New registers the engine metrics against reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		PoolsCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "receiv3_pools_created_total",
			Help: "Total number of funding pools created",
		}),
		Investments: f.NewCounter(prometheus.CounterOpts{
			Name: "receiv3_pool_investments_total",
			Help: "Total number of accepted investments",
		}),
		InvestedVolume: f.NewCounter(prometheus.CounterOpts{
			Name: "receiv3_pool_invested_tokens_total",
			Help: "Total payment asset escrowed by investments",
		}),
		PoolsFilled: f.NewCounter(prometheus.CounterOpts{
			Name: "receiv3_pools_filled_total",
			Help: "Total number of pools that reached their target",
		}),
		DisbursedVolume: f.NewCounter(prometheus.CounterOpts{
			Name: "receiv3_pool_disbursed_tokens_total",
			Help: "Total payment asset disbursed to exporters",
		}),
		Repayments: f.NewCounter(prometheus.CounterOpts{
			Name: "receiv3_pool_repayments_total",
			Help: "Total number of processed repayments",
		}),
		RepaidVolume: f.NewCounter(prometheus.CounterOpts{
			Name: "receiv3_pool_repaid_tokens_total",
			Help: "Total payment asset received as repayment",
		}),
		FeesCollected: f.NewCounter(prometheus.CounterOpts{
			Name: "receiv3_pool_fees_tokens_total",
			Help: "Total platform fee and rounding residual swept to the platform wallet",
		}),
		PausedRejections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "receiv3_pool_paused_rejections_total",
			Help: "Operations rejected while the engine was paused",
		}, []string{"operation"}),
		StatusSyncFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "receiv3_pool_invoice_sync_failures_total",
			Help: "Invoice status updates that failed after funds moved",
		}, []string{"status"}),
		Compensations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "receiv3_pool_compensations_total",
			Help: "Operations rolled back after a transfer or store failure",
		}, []string{"operation"}),
		OperationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "receiv3_pool_operation_duration_seconds",
			Help:    "Duration of pool engine mutations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"operation"}),
	}
}

func tokens(a domain.Amount) float64 {
	return float64(a) / float64(domain.Unit)
}

func (m *Metrics) IncrementPoolCreated() { m.PoolsCreated.Inc() }

func (m *Metrics) RecordInvestment(amount domain.Amount, filled bool) {
	m.Investments.Inc()
	m.InvestedVolume.Add(tokens(amount))
	if filled {
		m.PoolsFilled.Inc()
	}
}

func (m *Metrics) RecordDisbursement(amount domain.Amount) {
	m.DisbursedVolume.Add(tokens(amount))
}

// RecordRepayment counts a repayment of total, of which swept went to the
// platform wallet.
func (m *Metrics) RecordRepayment(total, swept domain.Amount) {
	m.Repayments.Inc()
	m.RepaidVolume.Add(tokens(total))
	m.FeesCollected.Add(tokens(swept))
}

func (m *Metrics) IncrementPausedRejection(operation string) {
	m.PausedRejections.WithLabelValues(operation).Inc()
}

func (m *Metrics) IncrementStatusSyncFailure(status string) {
	m.StatusSyncFailures.WithLabelValues(status).Inc()
}

func (m *Metrics) IncrementCompensation(operation string) {
	m.Compensations.WithLabelValues(operation).Inc()
}

// ObserveOperation records the duration of operation started at start.
func (m *Metrics) ObserveOperation(operation string, start time.Time) {
	m.OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
