package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the invoice registry.
type Metrics struct {
	Minted          prometheus.Counter
	Verified        prometheus.Counter
	Burned          prometheus.Counter
	StatusChanges   *prometheus.CounterVec
	MintDuration    prometheus.Histogram
	RejectedMutates *prometheus.CounterVec
}

// New registers the registry metrics against reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Minted: f.NewCounter(prometheus.CounterOpts{
			Name: "receiv3_invoices_minted_total",
			Help: "Total number of invoices minted",
		}),
		Verified: f.NewCounter(prometheus.CounterOpts{
			Name: "receiv3_invoices_verified_total",
			Help: "Total number of shipments verified",
		}),
		Burned: f.NewCounter(prometheus.CounterOpts{
			Name: "receiv3_invoices_burned_total",
			Help: "Total number of settled invoices burned",
		}),
		StatusChanges: f.NewCounterVec(prometheus.CounterOpts{
			Name: "receiv3_invoice_status_changes_total",
			Help: "Invoice status transitions by target status",
		}, []string{"status"}),
		MintDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "receiv3_invoice_mint_duration_seconds",
			Help:    "Duration of MintInvoice operations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		RejectedMutates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "receiv3_invoice_rejected_total",
			Help: "Rejected registry mutations by operation and error code",
		}, []string{"operation", "code"}),
	}
}

func (m *Metrics) IncrementMinted()   { m.Minted.Inc() }
func (m *Metrics) IncrementVerified() { m.Verified.Inc() }
func (m *Metrics) IncrementBurned()   { m.Burned.Inc() }

func (m *Metrics) IncrementStatusChange(status string) {
	m.StatusChanges.WithLabelValues(status).Inc()
}

// ObserveMint records the duration of a MintInvoice call started at start.
func (m *Metrics) ObserveMint(start time.Time) {
	m.MintDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncrementRejected(operation, code string) {
	m.RejectedMutates.WithLabelValues(operation, code).Inc()
}
