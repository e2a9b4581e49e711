// Package snapshot drives snapshot creation against a cluster: repository
// provisioning, creation with bounded linear backoff, and completion polling.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"indexctl/internal/apperrors"
	"indexctl/internal/cluster"
	"indexctl/internal/confirm"
	"indexctl/internal/observability"
	"indexctl/pkg/backoff"
)

var errNotAcknowledged = errors.New("snapshot creation not acknowledged")

// Config controls retries and polling. Zero values take defaults.
type Config struct {
	MaxAttempts  int           // create calls before giving up (default: 10)
	Step         time.Duration // backoff step per failed attempt (default: 600s)
	PollInterval time.Duration // delay between status polls (default: 10s)
	MaxPolls     int           // status polls before giving up (default: 999)
	StopStates   []string      // states that end polling (default: SUCCESS)
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 10
	}
	if c.Step <= 0 {
		c.Step = 600 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 10 * time.Second
	}
	if c.MaxPolls <= 0 {
		c.MaxPolls = 999
	}
	if len(c.StopStates) == 0 {
		c.StopStates = []string{cluster.StateSuccess}
	}
	return c
}

// Descriptor identifies a snapshot to create.
type Descriptor struct {
	Repository string
	Name       string
	Body       any
}

// Result is the outcome of Run.
type Result struct {
	Descriptor
	Created   bool   // the cluster accepted the snapshot or it already existed
	State     string // last observed state, empty when not polled
	Completed bool   // State is a stop state
	Polls     int
	Err       error
}

// OK reports whether the snapshot was created and, when waited for, reached
// a stop state.
func (r Result) OK(waited bool) bool {
	return r.Created && (!waited || r.Completed)
}

// Metrics receives snapshot measurements.
type Metrics interface {
	RecordSnapshotAttempt(ctx context.Context, repository, outcome string)
	RecordSnapshotResult(ctx context.Context, repository, state string, polls int)
}

// Orchestrator creates snapshots through a cluster client.
type Orchestrator struct {
	client    cluster.Client
	cfg       Config
	force     bool
	confirmer confirm.Confirmer
	metrics   Metrics
	sleep     func(ctx context.Context, d time.Duration) error
	rnd       func() float64
	logger    *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithForce skips confirmation before creating a repository.
func WithForce(force bool) Option {
	return func(o *Orchestrator) { o.force = force }
}

// WithConfirmer sets the confirmer asked before creating a repository.
func WithConfirmer(c confirm.Confirmer) Option {
	return func(o *Orchestrator) { o.confirmer = c }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithSleep replaces the blocking delay used between retries and polls.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) { o.sleep = fn }
}

// WithRand replaces the jitter source, which must return values in [0, 1).
func WithRand(fn func() float64) Option {
	return func(o *Orchestrator) { o.rnd = fn }
}

// New creates an orchestrator. Without a confirmer, repository creation is
// declined unless forced.
func New(client cluster.Client, cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		client:    client,
		cfg:       cfg.withDefaults(),
		confirmer: confirm.Decline,
		sleep:     sleepContext,
		logger:    slog.With("component", "snapshot"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// EnsureRepository makes sure the repository exists, creating it with body
// when missing. It reports whether the repository is known to exist.
// Failures are logged; callers proceed either way.
func (o *Orchestrator) EnsureRepository(ctx context.Context, name string, body any) bool {
	logger := o.logger.With("repository", name)

	_, err := o.client.GetRepository(ctx, name)
	if err == nil {
		return true
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		logger.Error("Failed to check snapshot repository", "error", err)
		return false
	}

	if !o.force {
		ok, err := o.confirmer.Confirm(ctx, fmt.Sprintf("Snapshot repository %q does not exist. Create it?", name))
		if err != nil {
			logger.Error("Confirmation failed", "error", err)
			return false
		}
		if !ok {
			logger.Info("Repository creation declined")
			return false
		}
	}

	logger.Debug("Creating snapshot repository")
	ack, err := o.client.CreateRepository(ctx, name, body)
	if err != nil {
		logger.Error("Failed to create snapshot repository", "error", err)
		return false
	}
	if !ack {
		logger.Error("Snapshot repository creation not acknowledged")
		return false
	}
	logger.Info("Snapshot repository created")
	return true
}

// Create starts the snapshot, retrying transient failures. Before each retry
// the snapshot is looked up, and an existing snapshot counts as created.
// Not-found and validation errors fail immediately.
func (o *Orchestrator) Create(ctx context.Context, d Descriptor) (bool, error) {
	logger := o.logger.With("repository", d.Repository, "snapshot", d.Name)

	for attempt := 0; ; attempt++ {
		ack, err := o.client.CreateSnapshot(ctx, d.Repository, d.Name, d.Body)
		if err == nil && ack {
			o.recordAttempt(ctx, d.Repository, observability.OutcomeAcknowledged)
			logger.Debug("Snapshot creation acknowledged", "attempt", attempt+1)
			return true, nil
		}
		if err != nil && !apperrors.IsRetryable(err) {
			o.recordAttempt(ctx, d.Repository, observability.OutcomeFatal)
			logger.Error("Snapshot creation failed", "error", err)
			return false, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		if err == nil {
			err = errNotAcknowledged
		}
		o.recordAttempt(ctx, d.Repository, observability.OutcomeTransient)

		if o.exists(ctx, d) {
			o.recordAttempt(ctx, d.Repository, observability.OutcomeExists)
			logger.Debug("Snapshot already exists")
			return true, nil
		}

		calls := attempt + 1
		if calls >= o.cfg.MaxAttempts {
			logger.Error("Snapshot creation failed, attempts exhausted", "attempts", calls, "error", err)
			return false, fmt.Errorf("snapshot %s/%s not created after %d attempts: %w", d.Repository, d.Name, calls, err)
		}

		wait := backoff.Linear(attempt, &backoff.LinearConfig{Step: o.cfg.Step}, o.rnd)
		logger.Warn("Snapshot creation failed, retrying",
			"attempt", calls,
			"backoff", wait,
			"error", err,
		)
		if err := o.sleep(ctx, wait); err != nil {
			return false, err
		}
	}
}

func (o *Orchestrator) exists(ctx context.Context, d Descriptor) bool {
	info, err := o.client.GetSnapshot(ctx, d.Repository, d.Name)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			o.logger.Debug("Snapshot lookup failed", "snapshot", d.Name, "error", err)
		}
		return false
	}
	return info != nil
}

// Wait polls the snapshot until it reaches a stop state or the poll budget
// is spent. It returns the last observed state and the number of polls.
func (o *Orchestrator) Wait(ctx context.Context, repository, name string) (string, int) {
	logger := o.logger.With("repository", repository, "snapshot", name)

	var state string
	for poll := 1; poll <= o.cfg.MaxPolls; poll++ {
		info, err := o.client.GetSnapshot(ctx, repository, name)
		switch {
		case err == nil:
			if info.State != state {
				logger.Debug("Snapshot state", "state", info.State, "poll", poll)
			}
			state = info.State
			if slices.Contains(o.cfg.StopStates, state) {
				return state, poll
			}
		case ctx.Err() != nil:
			return state, poll
		default:
			logger.Warn("Snapshot status check failed", "poll", poll, "error", err)
		}

		if poll == o.cfg.MaxPolls {
			break
		}
		if err := o.sleep(ctx, o.cfg.PollInterval); err != nil {
			return state, poll
		}
	}

	logger.Warn("Snapshot did not reach a stop state", "state", state, "polls", o.cfg.MaxPolls)
	return state, o.cfg.MaxPolls
}

// Run creates the snapshot and, when wait is set, polls it to completion.
func (o *Orchestrator) Run(ctx context.Context, d Descriptor, wait bool) Result {
	res := Result{Descriptor: d}
	res.Created, res.Err = o.Create(ctx, d)
	if !res.Created {
		o.recordResult(ctx, d.Repository, cluster.StateFailed, 0)
		return res
	}
	if wait {
		res.State, res.Polls = o.Wait(ctx, d.Repository, d.Name)
		res.Completed = slices.Contains(o.cfg.StopStates, res.State)
	}
	o.recordResult(ctx, d.Repository, res.State, res.Polls)
	return res
}

func (o *Orchestrator) recordAttempt(ctx context.Context, repository, outcome string) {
	if o.metrics != nil {
		o.metrics.RecordSnapshotAttempt(ctx, repository, outcome)
	}
}

func (o *Orchestrator) recordResult(ctx context.Context, repository, state string, polls int) {
	if o.metrics != nil {
		o.metrics.RecordSnapshotResult(ctx, repository, state, polls)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
