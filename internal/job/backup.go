package job

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"indexctl/internal/apperrors"
	"indexctl/internal/snapshot"
	"indexctl/internal/template"
	"indexctl/pkg/cloudevent"
)

// snapshotGroup is one snapshot to create and the indices it covers.
type snapshotGroup struct {
	name    string
	indices []string
}

func (r *Runner) runBackup(ctx context.Context, rec Record) error {
	repo := r.settings.Repository
	if repo == "" {
		return apperrors.Validation("snapshot.repository", "a snapshot repository is required for backup jobs")
	}
	logger := r.logger.With("job", rec.Type.String(), "position", rec.Position, "repository", repo)

	body, err := rec.Body()
	if err != nil {
		return err
	}
	if body == nil {
		body = r.settings.SnapshotTemplate
	}

	groups, err := r.snapshotGroups(ctx, rec)
	if err != nil {
		return err
	}
	if len(groups) == 0 {
		logger.Warn("No indices matched, nothing to snapshot")
		return nil
	}

	r.snapshots.EnsureRepository(ctx, repo, r.settings.RepositoryBody)

	wait := rec.Wait()
	var failed []string
	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			return err
		}

		rendered, err := template.Render(body, template.Environment{
			"index": template.Text(strings.Join(g.indices, ",")),
		})
		if err != nil {
			logger.Error("Failed to render snapshot body", "snapshot", g.name, "error", err)
			failed = append(failed, g.name)
			continue
		}

		res := r.snapshots.Run(ctx, snapshot.Descriptor{Repository: repo, Name: g.name, Body: rendered}, wait)
		r.notify(ctx, func(b *EventBuilder) *cloudevent.CloudEvent { return b.BuildSnapshotEvent(rec, res) })

		switch {
		case res.OK(wait):
			logger.Info("Snapshot created", "snapshot", g.name, "indices", len(g.indices), "state", res.State)
		case res.Created:
			logger.Warn("Snapshot did not complete", "snapshot", g.name, "state", res.State)
			failed = append(failed, g.name)
		default:
			logger.Error("Snapshot failed", "snapshot", g.name, "error", res.Err)
			failed = append(failed, g.name)
		}
	}

	if len(failed) > 0 {
		return fmt.Errorf("%d of %d snapshots failed: %s", len(failed), len(groups), strings.Join(failed, ", "))
	}
	return nil
}

// snapshotGroups resolves the indices a backup job covers:
//   - include: every index matching each prefix, in one combined snapshot
//   - a single wildcard name: one snapshot per matching index
//   - names plus an explicit snapshot name: one combined snapshot
//   - names: one snapshot per index, named after it
func (r *Runner) snapshotGroups(ctx context.Context, rec Record) ([]snapshotGroup, error) {
	include, err := rec.Include()
	if err != nil {
		return nil, err
	}
	if len(include) > 0 {
		var indices []string
		for _, prefix := range include {
			matched, err := r.matchIndices(ctx, strings.TrimSuffix(prefix, "*")+"*")
			if err != nil {
				return nil, err
			}
			indices = append(indices, matched...)
		}
		slices.Sort(indices)
		indices = slices.Compact(indices)
		if len(indices) == 0 {
			return nil, nil
		}

		name := rec.SnapshotName()
		if name == "" {
			name = strings.TrimSuffix(strings.TrimSuffix(include[0], "*"), "-") + "-" + r.now().UTC().Format("2006.01.02")
		}
		return []snapshotGroup{{name: name, indices: indices}}, nil
	}

	names, err := rec.Indices()
	if err != nil {
		return nil, err
	}
	if len(names) == 1 && strings.Contains(names[0], "*") {
		names, err = r.matchIndices(ctx, names[0])
		if err != nil {
			return nil, err
		}
	}

	if name := rec.SnapshotName(); name != "" && len(names) > 0 {
		return []snapshotGroup{{name: name, indices: names}}, nil
	}
	groups := make([]snapshotGroup, 0, len(names))
	for _, n := range names {
		groups = append(groups, snapshotGroup{name: n, indices: []string{n}})
	}
	return groups, nil
}

func (r *Runner) matchIndices(ctx context.Context, pattern string) ([]string, error) {
	infos, err := r.client.GetIndexSettings(ctx, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to list indices matching %s: %w", pattern, err)
	}
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name)
	}
	return names, nil
}
