package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"indexctl/internal/cluster"
	"indexctl/internal/config"
	"indexctl/internal/confirm"
	"indexctl/internal/container"
	"indexctl/internal/health"
	"indexctl/internal/job"
	"indexctl/internal/notify"
	"indexctl/internal/observability"
	"indexctl/internal/resolver"
	"indexctl/internal/snapshot"
	"indexctl/internal/template"

	"github.com/google/uuid"
)

const eventSource = "indexctl"

// app holds everything a command needs after the settings are loaded.
type app struct {
	opts       *options
	settings   *config.Settings
	env        template.Environment
	cluster    *cluster.ES
	runner     *job.Runner
	metrics    *observability.Metrics
	containers *container.Runner
}

// newApp loads the settings and wires the cluster client, the snapshot
// orchestrator and the job runner.
func newApp(ctx context.Context, opts *options, confirmer confirm.Confirmer) (*app, error) {
	containers := container.NewRunner()
	res := resolver.New(resolver.WithDirective(resolver.KindDocker, containers))

	settings, env, err := config.Load(ctx, opts.configPath, res)
	if err != nil {
		_ = containers.Close()
		return nil, err
	}

	client, err := cluster.NewES(cluster.Config{
		Addresses: settings.Elasticsearch.Addresses(),
		Username:  settings.Elasticsearch.Username,
		Password:  settings.Elasticsearch.Password,
		Timeout:   settings.Elasticsearch.Timeout,
	})
	if err != nil {
		_ = containers.Close()
		return nil, err
	}

	metrics, err := observability.NewMetrics(ctx)
	if err != nil {
		_ = containers.Close()
		return nil, err
	}

	snapshotTemplate, err := settings.Snapshot.SnapshotTemplate()
	if err != nil {
		_ = containers.Close()
		return nil, err
	}

	snapshots := snapshot.New(client, snapshot.Config{
		MaxAttempts:  settings.Snapshot.Retry.MaxAttempts,
		Step:         settings.Snapshot.Retry.Step,
		PollInterval: settings.Snapshot.Poll.Interval,
		MaxPolls:     settings.Snapshot.Poll.MaxPolls,
		StopStates:   settings.Snapshot.Poll.StopStates,
	},
		snapshot.WithForce(opts.force),
		snapshot.WithConfirmer(confirmer),
		snapshot.WithMetrics(metrics),
	)

	runnerOpts := []job.Option{
		job.WithForce(opts.force),
		job.WithConfirmer(confirmer),
		job.WithMetrics(metrics),
	}
	if settings.Notify.URL != "" {
		webhook := notify.New(notify.Config{
			URL:        settings.Notify.URL,
			SigningKey: settings.Notify.Key,
			Events:     settings.Notify.Events,
		}, notify.WithMetrics(metrics))
		runnerOpts = append(runnerOpts, job.WithNotifier(webhook, job.NewEventBuilder(uuid.NewString(), eventSource)))
	}

	runner := job.NewRunner(client, snapshots, job.Settings{
		Repository:       settings.Snapshot.Repository,
		RepositoryBody:   settings.Snapshot.Body,
		SnapshotTemplate: snapshotTemplate,
	}, runnerOpts...)

	return &app{
		opts:       opts,
		settings:   settings,
		env:        env,
		cluster:    client,
		runner:     runner,
		metrics:    metrics,
		containers: containers,
	}, nil
}

// preflight fails when the cluster cannot accept work.
func (a *app) preflight(ctx context.Context) (*health.Response, error) {
	checkOpts := []health.Option{health.WithTimeout(a.settings.Elasticsearch.Timeout)}
	if repo := a.settings.Snapshot.Repository; repo != "" {
		checkOpts = append(checkOpts, health.WithRepository(a.cluster, repo))
	}

	response := health.NewChecker(a.cluster, checkOpts...).Check(ctx)
	for name, check := range response.Checks {
		if check.Status != health.StatusHealthy {
			slog.Warn("Preflight check not healthy", "check", name, "status", check.Status, "message", check.Message)
		}
	}
	if !response.IsUsable() {
		return response, errors.New("cluster is not ready")
	}
	return response, nil
}

// run executes records and converts failed jobs into an error.
func (a *app) run(ctx context.Context, records []job.Record) error {
	summary := a.runner.Run(ctx, records)
	if !summary.OK() {
		return fmt.Errorf("%d of %d jobs failed", summary.Failed, len(summary.Results))
	}
	return nil
}

// close writes the metrics textfile and releases clients.
func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.opts.metricsFile != "" {
		if err := a.metrics.WriteTextfile(a.opts.metricsFile); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.metrics.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := a.containers.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
