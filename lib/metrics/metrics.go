package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PipelineOutcomesTotal tracks finished match pipelines by outcome
	PipelineOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediator_pipeline_outcomes_total",
			Help: "Total number of patient matching pipelines, by pipeline and outcome",
		},
		[]string{"pipeline", "status"}, // "sync", "async" / "success", "failed"
	)

	// PipelineFailuresTotal tracks pipeline failures by kind
	PipelineFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediator_pipeline_failures_total",
			Help: "Total number of pipeline failures, by failure kind",
		},
		[]string{"kind"},
	)

	// IdentityResolutionsTotal tracks MPI lookups
	IdentityResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediator_identity_resolutions_total",
			Help: "Total number of patient identities resolved against the MPI",
		},
		[]string{"result"}, // "found", "created", "error"
	)

	// UpstreamCallDuration tracks calls to the MPI, the FHIR store and the broker
	UpstreamCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mediator_upstream_call_duration_seconds",
			Help:    "Duration of calls to upstream services in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"upstream", "operation"},
	)

	// BrokerPublishTotal tracks messages handed to the broker
	BrokerPublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediator_broker_publish_total",
			Help: "Total number of messages published to the broker",
		},
		[]string{"topic", "status"},
	)

	// SummaryFetchesTotal tracks patient summary fetches
	SummaryFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediator_summary_fetches_total",
			Help: "Total number of patient summary fetches",
		},
		[]string{"status"}, // "success", "not_found", "error"
	)
)

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func RecordPipelineOutcome(pipeline string, successful bool) {
	status := "failed"
	if successful {
		status = "success"
	}
	PipelineOutcomesTotal.WithLabelValues(pipeline, status).Inc()
}

func RecordFailure(kind string) {
	PipelineFailuresTotal.WithLabelValues(kind).Inc()
}

func RecordIdentityResolution(created bool, err error) {
	switch {
	case err != nil:
		IdentityResolutionsTotal.WithLabelValues("error").Inc()
	case created:
		IdentityResolutionsTotal.WithLabelValues("created").Inc()
	default:
		IdentityResolutionsTotal.WithLabelValues("found").Inc()
	}
}

func RecordBrokerPublish(topic string, err error) {
	BrokerPublishTotal.WithLabelValues(topic, statusLabel(err)).Inc()
}

func RecordSummaryFetch(status string) {
	SummaryFetchesTotal.WithLabelValues(status).Inc()
}

// ObserveUpstreamCall records the duration since start. Use it with defer:
//
//	defer metrics.ObserveUpstreamCall("fhir-store", "transaction", time.Now())
func ObserveUpstreamCall(upstream, operation string, start time.Time) {
	UpstreamCallDuration.WithLabelValues(upstream, operation).Observe(time.Since(start).Seconds())
}

// Handler serves the default Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
