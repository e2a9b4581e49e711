package testutil

import (
	"context"
	"errors"
	"testing"

	"indexctl/internal/apperrors"
	"indexctl/internal/cluster"
)

func TestFakeCluster_Snapshots(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := NewFakeCluster()
	f.CreateErrs = []error{apperrors.Transport("snapshot.create", errors.New("timeout"))}
	f.PollStates = []string{cluster.StateInProgress, cluster.StateSuccess}

	if _, err := f.GetSnapshot(ctx, "r", "s"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := f.CreateSnapshot(ctx, "r", "s", nil); !errors.Is(err, apperrors.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if ack, err := f.CreateSnapshot(ctx, "r", "s", nil); err != nil || !ack {
		t.Fatalf("CreateSnapshot() = %v, %v", ack, err)
	}

	var states []string
	for range 3 {
		info, err := f.GetSnapshot(ctx, "r", "s")
		if err != nil {
			t.Fatal(err)
		}
		states = append(states, info.State)
	}
	want := []string{cluster.StateInProgress, cluster.StateSuccess, cluster.StateSuccess}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("poll states = %v, want %v", states, want)
			break
		}
	}
	if len(f.CreateCalls) != 2 {
		t.Errorf("expected 2 create calls, got %d", len(f.CreateCalls))
	}
}

func TestFakeCluster_GetIndexSettings(t *testing.T) {
	t.Parallel()
	f := NewFakeCluster()
	f.AddIndex("logs-2023-02", 2)
	f.AddIndex("logs-2023-01", 1)
	f.AddIndex("metrics-2023-01", 3)

	infos, err := f.GetIndexSettings(context.Background(), "logs-*")
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 2 || infos[0].Name != "logs-2023-01" || infos[1].Name != "logs-2023-02" {
		t.Errorf("unexpected indices %v", infos)
	}

	infos, _ = f.GetIndexSettings(context.Background(), "metrics-2023-01")
	if len(infos) != 1 {
		t.Errorf("expected exact match, got %v", infos)
	}
}

func TestLogBuffer(t *testing.T) {
	t.Parallel()
	logger, logs := NewLogger(t)
	logger.Info("Alias updated", "index", "a", "alias", "current")
	logger.Debug("other")

	recs := logs.Records("Alias updated")
	if len(recs) != 1 || recs[0]["index"] != "a" {
		t.Errorf("Records() = %v", recs)
	}
	if len(logs.Records("")) != 2 {
		t.Errorf("expected 2 records in %s", logs.String())
	}
}
