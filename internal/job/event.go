package job

import (
	"fmt"
	"sync/atomic"
	"time"

	"indexctl/internal/snapshot"
	"indexctl/pkg/cloudevent"
)

// Event types for job lifecycle notifications
const (
	EventTypeStart          = "indexctl.job.start"
	EventTypeFinish         = "indexctl.job.finish"
	EventTypeIndexDeleted   = "indexctl.index.deleted"
	EventTypeSnapshotFinish = "indexctl.snapshot.finish"
)

// EventBuilder builds CloudEvents for one playbook run.
type EventBuilder struct {
	source string
	runID  string
	seq    atomic.Int64
}

// NewEventBuilder creates a new EventBuilder.
func NewEventBuilder(runID, source string) *EventBuilder {
	return &EventBuilder{
		source: source,
		runID:  runID,
	}
}

// Build creates a new CloudEvent with the given type, subject and data.
func (b *EventBuilder) Build(eventType, subject string, data map[string]any) *cloudevent.CloudEvent {
	eventID := fmt.Sprintf("%s-%d", b.runID, b.seq.Add(1))
	data["runId"] = b.runID
	return cloudevent.New(eventType, b.source, subject, eventID, data)
}

// BuildStartEvent creates a job start event.
func (b *EventBuilder) BuildStartEvent(rec Record) *cloudevent.CloudEvent {
	data := map[string]any{
		"job":      rec.Type.String(),
		"position": rec.Position,
	}
	return b.Build(EventTypeStart, rec.ID(), data)
}

// BuildFinishEvent creates a job finish event.
func (b *EventBuilder) BuildFinishEvent(rec Record, duration time.Duration, err error) *cloudevent.CloudEvent {
	data := map[string]any{
		"job":             rec.Type.String(),
		"position":        rec.Position,
		"success":         err == nil,
		"durationSeconds": duration.Seconds(),
	}
	if err != nil {
		data["error"] = err.Error()
	}
	return b.Build(EventTypeFinish, rec.ID(), data)
}

// BuildIndexDeletedEvent creates an index deletion event.
func (b *EventBuilder) BuildIndexDeletedEvent(rec Record, index string, created int64) *cloudevent.CloudEvent {
	data := map[string]any{
		"index":        index,
		"creationDate": time.UnixMilli(created).UTC().Format(time.RFC3339),
	}
	return b.Build(EventTypeIndexDeleted, rec.ID(), data)
}

// BuildSnapshotEvent creates a snapshot completion event.
func (b *EventBuilder) BuildSnapshotEvent(rec Record, res snapshot.Result) *cloudevent.CloudEvent {
	data := map[string]any{
		"repository": res.Repository,
		"snapshot":   res.Name,
		"created":    res.Created,
		"state":      res.State,
		"polls":      res.Polls,
	}
	if res.Err != nil {
		data["error"] = res.Err.Error()
	}
	return b.Build(EventTypeSnapshotFinish, rec.ID(), data)
}
