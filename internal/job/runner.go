package job

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"indexctl/internal/cluster"
	"indexctl/internal/confirm"
	"indexctl/internal/snapshot"
	"indexctl/pkg/cloudevent"
)

// Settings are the global values backup jobs fall back to.
type Settings struct {
	Repository       string // snapshot repository name
	RepositoryBody   any    // repository creation body
	SnapshotTemplate any    // default snapshot body, rendered with {index}
}

// Notifier delivers lifecycle events. Delivery failures are the notifier's
// concern and never fail a job.
type Notifier interface {
	Notify(ctx context.Context, event *cloudevent.CloudEvent)
}

// Metrics receives job measurements.
type Metrics interface {
	RecordJob(ctx context.Context, jobType string, success bool, durationSeconds float64)
	RecordJobSkipped(ctx context.Context, jobType string)
	RecordIndexDeleted(ctx context.Context, success bool)
	RecordAliasActions(ctx context.Context, count int, success bool)
}

// Result is the outcome of one record.
type Result struct {
	Record   Record
	Skipped  bool
	Duration time.Duration
	Err      error
}

// Summary aggregates a playbook run.
type Summary struct {
	Succeeded int
	Failed    int
	Skipped   int
	Results   []Result
}

// OK reports whether no job failed.
func (s Summary) OK() bool {
	return s.Failed == 0
}

type handler func(ctx context.Context, rec Record) error

// Runner executes playbook records one at a time in document order.
type Runner struct {
	client    cluster.Client
	snapshots *snapshot.Orchestrator
	settings  Settings
	force     bool
	confirmer confirm.Confirmer
	notifier  Notifier
	events    *EventBuilder
	metrics   Metrics
	now       func() time.Time
	logger    *slog.Logger
	handlers  map[Type]handler
}

// Option configures a Runner.
type Option func(*Runner)

// WithForce deletes without asking.
func WithForce(force bool) Option {
	return func(r *Runner) { r.force = force }
}

// WithConfirmer sets the confirmer asked before each deletion.
func WithConfirmer(c confirm.Confirmer) Option {
	return func(r *Runner) { r.confirmer = c }
}

// WithNotifier sets the lifecycle event notifier.
func WithNotifier(n Notifier, events *EventBuilder) Option {
	return func(r *Runner) {
		r.notifier = n
		r.events = events
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithClock sets the clock used for retention and snapshot naming.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l.With("component", "job") }
}

// NewRunner creates a runner. Without a confirmer, deletions are declined
// unless forced.
func NewRunner(client cluster.Client, snapshots *snapshot.Orchestrator, settings Settings, opts ...Option) *Runner {
	r := &Runner{
		client:    client,
		snapshots: snapshots,
		settings:  settings,
		confirmer: confirm.Decline,
		now:       time.Now,
		logger:    slog.With("component", "job"),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.handlers = map[Type]handler{
		TypeBackup:  r.runBackup,
		TypeDelete:  r.runDelete,
		TypeAliases: r.runAliases,
	}
	return r
}

// Run executes records in order. A failing job is logged and the run
// continues; only context cancellation stops it early.
func (r *Runner) Run(ctx context.Context, records []Record) Summary {
	var sum Summary
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			r.logger.Warn("Run cancelled", "remaining", len(records)-len(sum.Results), "error", err)
			break
		}

		res := r.runOne(ctx, rec)
		switch {
		case res.Skipped:
			sum.Skipped++
		case res.Err != nil:
			sum.Failed++
		default:
			sum.Succeeded++
		}
		sum.Results = append(sum.Results, res)
	}

	r.logger.Info("Playbook finished",
		"succeeded", sum.Succeeded,
		"failed", sum.Failed,
		"skipped", sum.Skipped,
	)
	return sum
}

func (r *Runner) runOne(ctx context.Context, rec Record) Result {
	logger := r.logger.With("job", rec.Type.String(), "position", rec.Position)

	h, ok := r.handlers[rec.Type]
	if !ok {
		logger.Debug("Skipping record with unknown job type", "name", rec.Name)
		if r.metrics != nil {
			r.metrics.RecordJobSkipped(ctx, rec.Name)
		}
		return Result{Record: rec, Skipped: true}
	}

	r.notify(ctx, func(b *EventBuilder) *cloudevent.CloudEvent { return b.BuildStartEvent(rec) })
	logger.Info("Job started")

	start := time.Now()
	err := h(ctx, rec)
	duration := time.Since(start)

	if err != nil {
		logger.Error("Job failed", "duration", duration, "error", err)
	} else {
		logger.Info("Job finished", "duration", duration)
	}
	if r.metrics != nil {
		r.metrics.RecordJob(ctx, rec.Type.String(), err == nil, duration.Seconds())
	}
	r.notify(ctx, func(b *EventBuilder) *cloudevent.CloudEvent { return b.BuildFinishEvent(rec, duration, err) })

	return Result{Record: rec, Duration: duration, Err: err}
}

func (r *Runner) notify(ctx context.Context, build func(b *EventBuilder) *cloudevent.CloudEvent) {
	if r.notifier == nil || r.events == nil {
		return
	}
	r.notifier.Notify(ctx, build(r.events))
}

func (r *Runner) confirmOrForce(ctx context.Context, prompt string) (bool, error) {
	if r.force {
		return true, nil
	}
	ok, err := r.confirmer.Confirm(ctx, prompt)
	if err != nil {
		return false, fmt.Errorf("confirmation failed: %w", err)
	}
	return ok, nil
}
