package observability

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Snapshot attempt outcomes.
const (
	OutcomeAcknowledged = "acknowledged"
	OutcomeExists       = "exists"
	OutcomeTransient    = "transient"
	OutcomeFatal        = "fatal"
)

// Metrics holds the run metrics:
// - Jobs: how many ran, how long they took, how many failed
// - Snapshots: creation attempts by outcome and polls until a final state
// - Deletions and alias actions applied to the cluster
// - Notifications delivered to the webhook
type Metrics struct {
	meter    metric.Meter
	provider *sdkmetric.MeterProvider
	registry *prometheus.Registry

	// Job metrics
	JobDuration    metric.Float64Histogram
	JobsTotal      metric.Int64Counter
	JobErrorsTotal metric.Int64Counter
	JobsSkipped    metric.Int64Counter

	// Snapshot metrics
	SnapshotAttempts metric.Int64Counter
	SnapshotPolls    metric.Int64Histogram
	SnapshotsTotal   metric.Int64Counter

	// Index maintenance metrics
	IndicesDeleted metric.Int64Counter
	AliasActions   metric.Int64Counter

	// Notification metrics
	NotifyDuration  metric.Float64Histogram
	NotifyDelivered metric.Int64Counter
	NotifyFailed    metric.Int64Counter
}

// NewMetrics creates all metrics on a dedicated Prometheus registry.
func NewMetrics(ctx context.Context) (*Metrics, error) {
	registry := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter("indexctl")
	m := &Metrics{meter: meter, provider: provider, registry: registry}

	// Job metrics
	m.JobDuration, err = meter.Float64Histogram(
		"indexctl_job_duration_seconds",
		metric.WithDescription("Job execution duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 5, 10, 30, 60, 300, 600, 1800, 3600),
	)
	if err != nil {
		return nil, err
	}

	m.JobsTotal, err = meter.Int64Counter(
		"indexctl_jobs_total",
		metric.WithDescription("Total number of jobs run"),
	)
	if err != nil {
		return nil, err
	}

	m.JobErrorsTotal, err = meter.Int64Counter(
		"indexctl_job_errors_total",
		metric.WithDescription("Total number of jobs that reported a failure"),
	)
	if err != nil {
		return nil, err
	}

	m.JobsSkipped, err = meter.Int64Counter(
		"indexctl_jobs_skipped_total",
		metric.WithDescription("Total number of playbook records with an unknown job type"),
	)
	if err != nil {
		return nil, err
	}

	// Snapshot metrics
	m.SnapshotAttempts, err = meter.Int64Counter(
		"indexctl_snapshot_attempts_total",
		metric.WithDescription("Snapshot creation calls by outcome"),
	)
	if err != nil {
		return nil, err
	}

	m.SnapshotPolls, err = meter.Int64Histogram(
		"indexctl_snapshot_polls",
		metric.WithDescription("Status polls until a snapshot reached a final state"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 30, 60, 180, 360, 999),
	)
	if err != nil {
		return nil, err
	}

	m.SnapshotsTotal, err = meter.Int64Counter(
		"indexctl_snapshots_total",
		metric.WithDescription("Snapshots requested, by final state"),
	)
	if err != nil {
		return nil, err
	}

	// Index maintenance metrics
	m.IndicesDeleted, err = meter.Int64Counter(
		"indexctl_indices_deleted_total",
		metric.WithDescription("Expired indices deleted"),
	)
	if err != nil {
		return nil, err
	}

	m.AliasActions, err = meter.Int64Counter(
		"indexctl_alias_actions_total",
		metric.WithDescription("Alias actions submitted"),
	)
	if err != nil {
		return nil, err
	}

	// Notification metrics
	m.NotifyDuration, err = meter.Float64Histogram(
		"indexctl_notify_duration_seconds",
		metric.WithDescription("Webhook delivery latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, err
	}

	m.NotifyDelivered, err = meter.Int64Counter(
		"indexctl_notify_delivered_total",
		metric.WithDescription("Total events successfully delivered"),
	)
	if err != nil {
		return nil, err
	}

	m.NotifyFailed, err = meter.Int64Counter(
		"indexctl_notify_failed_total",
		metric.WithDescription("Total events failed after retries"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordJob records a finished job.
func (m *Metrics) RecordJob(ctx context.Context, jobType string, success bool, durationSeconds float64) {
	attrs := metric.WithAttributes(jobAttr(jobType), successAttr(success))
	m.JobDuration.Record(ctx, durationSeconds, attrs)
	m.JobsTotal.Add(ctx, 1, attrs)

	if !success {
		m.JobErrorsTotal.Add(ctx, 1, metric.WithAttributes(jobAttr(jobType)))
	}
}

// RecordJobSkipped records a record that no handler accepted.
func (m *Metrics) RecordJobSkipped(ctx context.Context, jobType string) {
	m.JobsSkipped.Add(ctx, 1, metric.WithAttributes(jobAttr(jobType)))
}

// RecordSnapshotAttempt records one snapshot creation call.
func (m *Metrics) RecordSnapshotAttempt(ctx context.Context, repository, outcome string) {
	m.SnapshotAttempts.Add(ctx, 1, metric.WithAttributes(repositoryAttr(repository), outcomeAttr(outcome)))
}

// RecordSnapshotResult records the final state of a snapshot and how many
// polls it took. polls is zero when completion was not tracked.
func (m *Metrics) RecordSnapshotResult(ctx context.Context, repository, state string, polls int) {
	attrs := metric.WithAttributes(repositoryAttr(repository), stateAttr(state))
	m.SnapshotsTotal.Add(ctx, 1, attrs)
	if polls > 0 {
		m.SnapshotPolls.Record(ctx, int64(polls), attrs)
	}
}

// RecordIndexDeleted records an attempted index deletion.
func (m *Metrics) RecordIndexDeleted(ctx context.Context, success bool) {
	m.IndicesDeleted.Add(ctx, 1, WithSuccess(success))
}

// RecordAliasActions records a batch of alias actions.
func (m *Metrics) RecordAliasActions(ctx context.Context, count int, success bool) {
	m.AliasActions.Add(ctx, int64(count), WithSuccess(success))
}

// RecordNotifyDelivered records a successful webhook delivery with its duration.
func (m *Metrics) RecordNotifyDelivered(ctx context.Context, eventType string, durationSeconds float64) {
	attrs := metric.WithAttributes(eventAttr(eventType))
	m.NotifyDelivered.Add(ctx, 1, attrs)
	m.NotifyDuration.Record(ctx, durationSeconds, attrs)
}

// RecordNotifyFailed records a failed webhook delivery.
func (m *Metrics) RecordNotifyFailed(ctx context.Context, eventType string) {
	m.NotifyFailed.Add(ctx, 1, metric.WithAttributes(eventAttr(eventType)))
}

// WriteTextfile writes the current values in the Prometheus text format,
// for collection by the node_exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}

// Shutdown flushes and stops the meter provider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	return m.provider.Shutdown(ctx)
}
