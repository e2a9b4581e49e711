package job

import (
	"context"
	"errors"
	"fmt"
)

var errAliasesNotAcknowledged = errors.New("alias update not acknowledged")

// aliasAction is the loggable part of one alias action.
type aliasAction struct {
	op    string
	index string
	alias string
}

func (r *Runner) runAliases(ctx context.Context, rec Record) error {
	actions, err := rec.Actions()
	if err != nil {
		return err
	}
	logger := r.logger.With("job", rec.Type.String(), "position", rec.Position)

	ack, err := r.client.UpdateAliases(ctx, actions)
	if err == nil && !ack {
		err = errAliasesNotAcknowledged
	}
	if r.metrics != nil {
		r.metrics.RecordAliasActions(ctx, len(actions), err == nil)
	}
	if err != nil {
		logger.Error("Alias update failed", "actions", len(actions), "error", err)
		return err
	}

	for _, a := range describeActions(actions) {
		logger.Info("Alias updated", "action", a.op, "index", a.index, "alias", a.alias)
	}
	return nil
}

// describeActions flattens actions such as {"add": {"index": "a", "alias": "b"}}.
// Plural forms (indices, aliases) are joined.
func describeActions(actions []any) []aliasAction {
	var out []aliasAction
	for _, raw := range actions {
		action, _ := raw.(map[string]any)
		for op, spec := range action {
			fields, _ := spec.(map[string]any)
			out = append(out, aliasAction{
				op:    op,
				index: field(fields, "index", "indices"),
				alias: field(fields, "alias", "aliases"),
			})
		}
	}
	return out
}

func field(fields map[string]any, singular, plural string) string {
	if v, ok := fields[singular]; ok {
		return fmt.Sprint(v)
	}
	if v, ok := fields[plural]; ok {
		if list, err := stringList(v); err == nil {
			return fmt.Sprint(list)
		}
		return fmt.Sprint(v)
	}
	return ""
}
