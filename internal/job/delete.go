package job

import (
	"context"
	"fmt"
	"strings"
	"time"

	"indexctl/internal/cluster"
	"indexctl/internal/retention"
	"indexctl/pkg/cloudevent"
)

func (r *Runner) runDelete(ctx context.Context, rec Record) error {
	names, err := rec.Indices()
	if err != nil {
		return err
	}
	days, err := rec.SaveDays()
	if err != nil {
		return err
	}
	logger := r.logger.With("job", rec.Type.String(), "position", rec.Position, "save", days)

	now := r.now()
	failures := 0
	for _, name := range names {
		infos, err := r.client.GetIndexSettings(ctx, name+"*")
		if err != nil {
			logger.Error("Failed to list indices", "prefix", name, "error", err)
			failures++
			continue
		}

		dates := make(map[string]int64, len(infos))
		byName := make(map[string]cluster.IndexInfo, len(infos))
		for _, info := range infos {
			dates[info.Name] = info.CreationDate
			byName[info.Name] = info
		}
		expired := retention.FilterExpired(dates, days, now)
		logger.Debug("Retention evaluated", "prefix", name, "indices", len(dates), "expired", len(expired))

		for _, index := range retention.Sorted(expired) {
			if err := ctx.Err(); err != nil {
				return err
			}
			created := time.UnixMilli(expired[index]).UTC()
			ilog := logger.With("index", index, "created", created.Format(time.RFC3339))

			prompt := fmt.Sprintf("Delete index %s created %s?", index, created.Format(time.DateOnly))
			if protections := byName[index].Protections(); len(protections) > 0 {
				ilog.Warn("Expired index is protected", "protections", protections)
				prompt = fmt.Sprintf("Delete index %s created %s (%s)?", index, created.Format(time.DateOnly), strings.Join(protections, ", "))
			}

			ok, err := r.confirmOrForce(ctx, prompt)
			if err != nil {
				ilog.Error("Index not deleted", "error", err)
				failures++
				continue
			}
			if !ok {
				ilog.Info("Index deletion declined")
				continue
			}

			ack, err := r.client.DeleteIndex(ctx, index)
			if err == nil && !ack {
				err = fmt.Errorf("deletion of %s not acknowledged", index)
			}
			if r.metrics != nil {
				r.metrics.RecordIndexDeleted(ctx, err == nil)
			}
			if err != nil {
				ilog.Error("Failed to delete index", "error", err)
				failures++
				continue
			}

			ilog.Info("Index deleted")
			r.notify(ctx, func(b *EventBuilder) *cloudevent.CloudEvent {
				return b.BuildIndexDeletedEvent(rec, index, expired[index])
			})
		}
	}

	if failures > 0 {
		return fmt.Errorf("%d index deletions failed", failures)
	}
	return nil
}
