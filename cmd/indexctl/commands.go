package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"indexctl/internal/config"
	"indexctl/internal/confirm"
	"indexctl/internal/job"
	"indexctl/internal/template"

	"github.com/spf13/cobra"
)

// confirmer is replaced in tests.
var confirmer = confirm.Default

// withApp runs fn with a loaded app and a context cancelled on SIGINT or
// SIGTERM.
func withApp(cmd *cobra.Command, opts *options, fn func(ctx context.Context, a *app) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, opts, confirmer())
	if err != nil {
		return err
	}
	runErr := fn(ctx, a)
	// Metrics are flushed even when the run was interrupted.
	closeErr := a.close(context.WithoutCancel(ctx))
	return errors.Join(runErr, closeErr)
}

func newPlaybookCmd(opts *options) *cobra.Command {
	var (
		playbookPath  string
		skipPreflight bool
	)
	cmd := &cobra.Command{
		Use:   "playbook",
		Short: "Run every job of a playbook in order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				raw, err := config.LoadPlaybook(playbookPath, a.env)
				if err != nil {
					return err
				}
				if !skipPreflight {
					if _, err := a.preflight(ctx); err != nil {
						return err
					}
				}
				return a.run(ctx, job.Decode(raw))
			})
		},
	}
	cmd.Flags().StringVarP(&playbookPath, "playbook", "p", "playbook.yaml", "playbook file")
	cmd.Flags().BoolVar(&skipPreflight, "skip-preflight", false, "do not check the cluster before running")
	return cmd
}

func newCheckCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check that the cluster and snapshot repository are reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				response, err := a.preflight(ctx)
				out, marshalErr := json.MarshalIndent(response, "", "  ")
				if marshalErr != nil {
					return marshalErr
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
				return err
			})
		},
	}
}

func newExecCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exec",
		Short: "Run a single job built from flags",
	}
	cmd.AddCommand(
		newExecBackupCmd(opts),
		newExecDeleteCmd(opts),
		newExecAliasesCmd(opts),
	)
	return cmd
}

// execJob renders fields with the settings environment and runs them as a
// one-record playbook.
func execJob(cmd *cobra.Command, opts *options, fields map[string]any) error {
	return withApp(cmd, opts, func(ctx context.Context, a *app) error {
		rendered, err := template.Render(fields, a.env)
		if err != nil {
			return err
		}
		m, _ := rendered.(map[string]any)
		return a.run(ctx, []job.Record{job.NewRecord(0, m)})
	})
}

func newExecBackupCmd(opts *options) *cobra.Command {
	var (
		indices []string
		include []string
		name    string
		body    string
		noWait  bool
	)
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Snapshot indices into the configured repository",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return execJob(cmd, opts, backupFields(indices, include, name, body, !noWait))
		},
	}
	cmd.Flags().StringSliceVarP(&indices, "index", "i", nil, "index names or patterns")
	cmd.Flags().StringSliceVar(&include, "include", nil, "prefixes gathered into one snapshot")
	cmd.Flags().StringVarP(&name, "name", "n", "", "snapshot name")
	cmd.Flags().StringVar(&body, "body", "", "snapshot body as YAML or JSON")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "do not wait for the snapshot to finish")
	cmd.MarkFlagsOneRequired("index", "include")
	return cmd
}

func newExecDeleteCmd(opts *options) *cobra.Command {
	var (
		indices []string
		save    int
	)
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete indices older than the retention window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return execJob(cmd, opts, deleteFields(indices, save))
		},
	}
	cmd.Flags().StringSliceVarP(&indices, "index", "i", nil, "index name prefixes")
	cmd.Flags().IntVar(&save, "save", 0, "retention window in days")
	_ = cmd.MarkFlagRequired("index")
	_ = cmd.MarkFlagRequired("save")
	return cmd
}

func newExecAliasesCmd(opts *options) *cobra.Command {
	var add, remove []string
	cmd := &cobra.Command{
		Use:   "aliases",
		Short: "Add or remove index aliases in one atomic update",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fields, err := aliasFields(add, remove)
			if err != nil {
				return err
			}
			return execJob(cmd, opts, fields)
		},
	}
	cmd.Flags().StringArrayVar(&add, "add", nil, "add an alias, as index=alias")
	cmd.Flags().StringArrayVar(&remove, "remove", nil, "remove an alias, as index=alias")
	return cmd
}

func backupFields(indices, include []string, name, body string, wait bool) map[string]any {
	fields := map[string]any{
		"job":  job.TypeBackup.String(),
		"wait": wait,
	}
	if len(indices) > 0 {
		fields["index"] = toAny(indices)
	}
	if len(include) > 0 {
		fields["include"] = toAny(include)
	}
	if name != "" {
		fields["name"] = name
	}
	if body != "" {
		fields["body"] = body
	}
	return fields
}

func deleteFields(indices []string, save int) map[string]any {
	return map[string]any{
		"job":   job.TypeDelete.String(),
		"index": toAny(indices),
		"save":  save,
	}
}

func aliasFields(add, remove []string) (map[string]any, error) {
	var actions []any
	for _, spec := range []struct {
		op    string
		pairs []string
	}{{"remove", remove}, {"add", add}} {
		for _, pair := range spec.pairs {
			index, alias, ok := strings.Cut(pair, "=")
			if !ok || index == "" || alias == "" {
				return nil, fmt.Errorf("invalid alias %q, expected index=alias", pair)
			}
			actions = append(actions, map[string]any{
				spec.op: map[string]any{"index": index, "alias": alias},
			})
		}
	}
	if len(actions) == 0 {
		return nil, errors.New("at least one --add or --remove is required")
	}
	return map[string]any{
		"job":     job.TypeAliases.String(),
		"actions": actions,
	}, nil
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
