// Package cluster defines the search-cluster operations used by jobs and an
// Elasticsearch implementation of them.
package cluster

import (
	"context"
	"slices"
)

// Snapshot states reported by the cluster.
const (
	StateInProgress = "IN_PROGRESS"
	StateSuccess    = "SUCCESS"
	StatePartial    = "PARTIAL"
	StateFailed     = "FAILED"
)

// SnapshotInfo is the observed state of a snapshot.
type SnapshotInfo struct {
	Repository string
	Name       string
	State      string
	Indices    []string
}

// IndexInfo is the subset of index settings used for retention decisions.
type IndexInfo struct {
	Name         string
	CreationDate int64 // epoch milliseconds
	Frozen       bool
	Blocks       map[string]bool // e.g. "write", "read_only"
}

// Protections lists what guards the index against writes: "frozen" and
// every active block, sorted. Empty for an ordinary index.
func (i IndexInfo) Protections() []string {
	var out []string
	if i.Frozen {
		out = append(out, "frozen")
	}
	for block, on := range i.Blocks {
		if on {
			out = append(out, block)
		}
	}
	slices.Sort(out)
	return out
}

// Client is the cluster API used by the job runner.
//
// Errors are classified with apperrors: a missing resource is ErrNotFound,
// network failures and overloaded-cluster responses are ErrTransport.
type Client interface {
	// GetSnapshot returns the snapshot or ErrNotFound.
	GetSnapshot(ctx context.Context, repository, name string) (*SnapshotInfo, error)

	// GetRepository returns the repository definitions matching name, or
	// ErrNotFound when there are none.
	GetRepository(ctx context.Context, name string) (map[string]any, error)

	// CreateRepository registers a snapshot repository and reports whether
	// the cluster acknowledged it.
	CreateRepository(ctx context.Context, name string, body any) (bool, error)

	// CreateSnapshot starts a snapshot and reports whether the cluster
	// accepted it.
	CreateSnapshot(ctx context.Context, repository, name string, body any) (bool, error)

	// GetIndexSettings lists the indices matching pattern.
	GetIndexSettings(ctx context.Context, pattern string) ([]IndexInfo, error)

	// DeleteIndex removes an index. An index that is already gone counts as
	// deleted.
	DeleteIndex(ctx context.Context, name string) (bool, error)

	// UpdateAliases applies add/remove alias actions atomically.
	UpdateAliases(ctx context.Context, actions []any) (bool, error)

	// Ready checks that the cluster is reachable.
	Ready(ctx context.Context) error
}
