package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ExecutionsTotal counts finished pipeline executions.
	// Labels: status (completed/failed/cancelled), failure_kind (empty on success)
	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voxscribe_executions_total",
			Help: "Total number of finished pipeline executions by outcome",
		},
		[]string{"status", "failure_kind"},
	)

	// StageDuration observes per-stage wall time in seconds.
	// Labels: stage (audio_prepare/speech_to_text/temporal_align/diarize/...)
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "voxscribe_stage_duration_seconds",
			Help:    "Pipeline stage duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"stage"},
	)

	// ActiveExecutions tracks in-flight pipeline runs.
	ActiveExecutions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "voxscribe_active_executions",
			Help: "Number of pipeline executions currently running",
		},
	)

	// DeviceMemoryBytes reports accelerator memory occupancy after the
	// latest snapshot. Labels: kind (allocated/reserved)
	DeviceMemoryBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "voxscribe_device_memory_bytes",
			Help: "Accelerator memory occupancy in bytes by kind",
		},
		[]string{"kind"},
	)

	// SuggestionsTotal counts speaker identity suggestions by disposition.
	// Labels: action (offered/accepted/rejected/created_profile/suppressed)
	SuggestionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voxscribe_speaker_suggestions_total",
			Help: "Total number of speaker identity suggestions by disposition",
		},
		[]string{"action"},
	)

	// MonitorFindingsTotal counts consistency findings per sweep.
	// Labels: kind (stuck_execution/stuck_recording/orphaned_execution/abandoned_file)
	MonitorFindingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voxscribe_monitor_findings_total",
			Help: "Total number of consistency findings by kind",
		},
		[]string{"kind"},
	)
)

// RecordExecutionFinished records one finished pipeline execution.
func RecordExecutionFinished(status, failureKind string) {
	ExecutionsTotal.WithLabelValues(status, failureKind).Inc()
}

// RecordStageDuration records one stage's wall time in seconds.
func RecordStageDuration(stage string, durationSeconds float64) {
	StageDuration.WithLabelValues(stage).Observe(durationSeconds)
}

// SetDeviceMemory publishes the latest accelerator memory snapshot.
func SetDeviceMemory(allocated, reserved uint64) {
	DeviceMemoryBytes.WithLabelValues("allocated").Set(float64(allocated))
	DeviceMemoryBytes.WithLabelValues("reserved").Set(float64(reserved))
}

// RecordSuggestion records one speaker suggestion disposition.
func RecordSuggestion(action string) {
	SuggestionsTotal.WithLabelValues(action).Inc()
}

// RecordMonitorFinding records one consistency finding.
func RecordMonitorFinding(kind string) {
	MonitorFindingsTotal.WithLabelValues(kind).Inc()
}
