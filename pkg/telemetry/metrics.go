package telemetry

import (
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "dbt_pulse"

// Metrics records dbt invocations and pipeline outcomes. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry    *prometheus.Registry
	invocations *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	pipelines   *prometheus.CounterVec
	lastRun     *prometheus.GaugeVec
}

// New creates a registry holding the pipeline metrics. Labels are attached
// to every series as constant labels (client, project, target, ...).
func New(labels map[string]string) *Metrics {
	constLabels := prometheus.Labels(labels)
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "invocations_total",
			Help:        "dbt process invocations by action and result.",
			ConstLabels: constLabels,
		}, []string{"action", "success"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "invocation_duration_seconds",
			Help:        "Wall time of dbt process invocations.",
			ConstLabels: constLabels,
			Buckets:     prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"action"}),
		pipelines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "pipelines_total",
			Help:        "Pipeline runs by requested action and failed stage.",
			ConstLabels: constLabels,
		}, []string{"action", "failed_stage"}),
		lastRun: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "last_pipeline_timestamp_seconds",
			Help:        "Unix time of the last finished pipeline run by action and success.",
			ConstLabels: constLabels,
		}, []string{"action", "success"}),
	}
	m.registry.MustRegister(m.invocations, m.duration, m.pipelines, m.lastRun)
	return m
}

// ObserveInvocation records one finished dbt process.
func (m *Metrics) ObserveInvocation(action string, success bool, d time.Duration) {
	if m == nil {
		return
	}
	m.invocations.WithLabelValues(action, strconv.FormatBool(success)).Inc()
	m.duration.WithLabelValues(action).Observe(d.Seconds())
}

// ObservePipeline records one finished pipeline. failedStage is empty on success.
func (m *Metrics) ObservePipeline(action, failedStage string, at time.Time) {
	if m == nil {
		return
	}
	if failedStage == "" {
		failedStage = "none"
	}
	m.pipelines.WithLabelValues(action, failedStage).Inc()
	m.lastRun.WithLabelValues(action, strconv.FormatBool(failedStage == "none")).Set(float64(at.Unix()))
}

// Registry exposes the underlying registry, e.g. for an HTTP handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes all metrics in the text exposition format, suitable
// for the node exporter textfile collector. The file is replaced atomically.
func (m *Metrics) WriteTextfile(filename string) error {
	if m == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(filename, m.registry); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}
