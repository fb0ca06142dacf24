package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	units        *prometheus.CounterVec
	unitDuration *prometheus.HistogramVec
	rowsWritten  *prometheus.CounterVec
	outliers     prometheus.Counter
	skippedDates *prometheus.CounterVec
	retries      *prometheus.CounterVec
	errorsTotal  *prometheus.CounterVec
}

// New registers the pipeline collectors on reg; nil means the default registry.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Recorder{
		units: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finfactor_units_total",
				Help: "Pipeline units processed by stage and result",
			},
			[]string{"stage", "result"},
		),
		unitDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "finfactor_unit_duration_seconds",
				Help:    "Wall time of one pipeline unit",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"stage"},
		),
		rowsWritten: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finfactor_rows_written_total",
				Help: "Rows appended per output table",
			},
			[]string{"table"},
		),
		outliers: f.NewCounter(prometheus.CounterOpts{
			Name: "finfactor_outliers_total",
			Help: "Cross-section rows given a zero weight",
		}),
		skippedDates: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finfactor_skipped_dates_total",
				Help: "Trading dates skipped by the scaling stage",
			},
			[]string{"reason"},
		),
		retries: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finfactor_storage_retries_total",
				Help: "Retried storage operations",
			},
			[]string{"op"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finfactor_errors_total",
				Help: "Errors encountered by kind",
			},
			[]string{"type"},
		),
	}
}

func (r *Recorder) RecordUnit(stage, result string, seconds float64) {
	r.units.WithLabelValues(stage, result).Inc()
	r.unitDuration.WithLabelValues(stage).Observe(seconds)
}

func (r *Recorder) RecordRowsWritten(table string, n int) {
	r.rowsWritten.WithLabelValues(table).Add(float64(n))
}

func (r *Recorder) RecordOutliers(n int) {
	r.outliers.Add(float64(n))
}

func (r *Recorder) RecordSkippedDate(reason string) {
	r.skippedDates.WithLabelValues(reason).Inc()
}

func (r *Recorder) RecordRetry(op string) {
	r.retries.WithLabelValues(op).Inc()
}

func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}
