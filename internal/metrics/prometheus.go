package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusRecorder implements the Recorder interface using Prometheus metrics.
type PrometheusRecorder struct {
	answersTotal     *prometheus.CounterVec
	oracleDuration   *prometheus.HistogramVec
	mappingGapsTotal *prometheus.CounterVec
	completedTotal   *prometheus.CounterVec
}

// NewPrometheusRecorder registers the flow metrics with reg. A nil reg
// uses the default registerer.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &PrometheusRecorder{
		answersTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "configurator_answers_total",
				Help: "Total number of processed answers by phase and outcome",
			},
			[]string{"phase", "outcome"},
		),
		oracleDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "configurator_oracle_duration_seconds",
				Help:    "Duration of oracle validation calls in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider", "status"},
		),
		mappingGapsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "configurator_mapping_gaps_total",
				Help: "Total number of values missing from accepted extractions",
			},
			[]string{"phase"},
		),
		completedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "configurator_conversations_completed_total",
				Help: "Total number of completed conversations by commercial interest",
			},
			[]string{"interested"},
		),
	}
}

// ObserveAnswer implements Recorder.
func (p *PrometheusRecorder) ObserveAnswer(phase, outcome string) {
	p.answersTotal.WithLabelValues(phase, outcome).Inc()
}

// ObserveOracle implements Recorder.
func (p *PrometheusRecorder) ObserveOracle(provider, status string, duration time.Duration) {
	p.oracleDuration.WithLabelValues(provider, status).Observe(duration.Seconds())
}

// ObserveMappingGaps implements Recorder.
func (p *PrometheusRecorder) ObserveMappingGaps(phase string, gaps int) {
	p.mappingGapsTotal.WithLabelValues(phase).Add(float64(gaps))
}

// ObserveCompletion implements Recorder.
func (p *PrometheusRecorder) ObserveCompletion(interested bool) {
	p.completedTotal.WithLabelValues(strconv.FormatBool(interested)).Inc()
}
