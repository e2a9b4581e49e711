// Package testutil provides an in-memory cluster and log capture for tests.
package testutil

import (
	"context"
	"slices"
	"strings"
	"sync"

	"indexctl/internal/apperrors"
	"indexctl/internal/cluster"
)

// CreateCall records one CreateSnapshot invocation.
type CreateCall struct {
	Repository string
	Name       string
	Body       any
}

// FakeCluster is an in-memory cluster.Client. Exported fields configure
// behavior and record calls; guard access with Lock when tests run
// concurrently with the code under test.
type FakeCluster struct {
	mu sync.Mutex

	Repositories map[string]any
	Snapshots    map[string]*cluster.SnapshotInfo // keyed by repository/name
	Indices      map[string]cluster.IndexInfo

	// CreateErrs are returned by successive CreateSnapshot calls; a nil entry
	// or an exhausted list means success.
	CreateErrs []error
	// Unacknowledged makes successful CreateSnapshot calls report no ack.
	Unacknowledged bool
	// PollStates are reported by successive GetSnapshot calls once the
	// snapshot exists; the last state sticks.
	PollStates []string

	RepositoryErr       error
	CreateRepositoryErr error
	DeleteErrs          map[string]error
	AliasErr            error
	AliasUnacknowledged bool
	ReadyErr            error

	CreateCalls      []CreateCall
	GetSnapshotCalls int
	CreatedRepos     []string
	Deleted          []string
	AliasCalls       [][]any
}

// NewFakeCluster creates an empty fake cluster.
func NewFakeCluster() *FakeCluster {
	return &FakeCluster{
		Repositories: map[string]any{},
		Snapshots:    map[string]*cluster.SnapshotInfo{},
		Indices:      map[string]cluster.IndexInfo{},
		DeleteErrs:   map[string]error{},
	}
}

// Lock acquires the fake's mutex.
func (f *FakeCluster) Lock() { f.mu.Lock() }

// Unlock releases the fake's mutex.
func (f *FakeCluster) Unlock() { f.mu.Unlock() }

// AddIndex registers an index created at createdMs epoch milliseconds.
func (f *FakeCluster) AddIndex(name string, createdMs int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Indices[name] = cluster.IndexInfo{Name: name, CreationDate: createdMs}
}

// AddSnapshot registers an existing snapshot.
func (f *FakeCluster) AddSnapshot(repository, name, state string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Snapshots[repository+"/"+name] = &cluster.SnapshotInfo{Repository: repository, Name: name, State: state}
}

// GetSnapshot implements cluster.Client.
func (f *FakeCluster) GetSnapshot(_ context.Context, repository, name string) (*cluster.SnapshotInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.GetSnapshotCalls++

	info, ok := f.Snapshots[repository+"/"+name]
	if !ok {
		return nil, apperrors.NotFound("snapshot", repository+"/"+name)
	}
	if len(f.PollStates) > 0 {
		info.State = f.PollStates[0]
		if len(f.PollStates) > 1 {
			f.PollStates = f.PollStates[1:]
		}
	}
	out := *info
	return &out, nil
}

// GetRepository implements cluster.Client.
func (f *FakeCluster) GetRepository(_ context.Context, name string) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.RepositoryErr != nil {
		return nil, f.RepositoryErr
	}
	body, ok := f.Repositories[name]
	if !ok {
		return nil, apperrors.NotFound("repository", name)
	}
	return map[string]any{name: body}, nil
}

// CreateRepository implements cluster.Client.
func (f *FakeCluster) CreateRepository(_ context.Context, name string, body any) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CreatedRepos = append(f.CreatedRepos, name)
	if f.CreateRepositoryErr != nil {
		return false, f.CreateRepositoryErr
	}
	f.Repositories[name] = body
	return true, nil
}

// CreateSnapshot implements cluster.Client.
func (f *FakeCluster) CreateSnapshot(_ context.Context, repository, name string, body any) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CreateCalls = append(f.CreateCalls, CreateCall{Repository: repository, Name: name, Body: body})

	if len(f.CreateErrs) > 0 {
		err := f.CreateErrs[0]
		f.CreateErrs = f.CreateErrs[1:]
		if err != nil {
			return false, err
		}
	}
	if f.Unacknowledged {
		return false, nil
	}
	f.Snapshots[repository+"/"+name] = &cluster.SnapshotInfo{
		Repository: repository,
		Name:       name,
		State:      cluster.StateInProgress,
	}
	return true, nil
}

// GetIndexSettings implements cluster.Client. A trailing '*' matches by
// prefix; anything else matches exactly.
func (f *FakeCluster) GetIndexSettings(_ context.Context, pattern string) ([]cluster.IndexInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	prefix, wildcard := strings.CutSuffix(pattern, "*")
	var out []cluster.IndexInfo
	for name, info := range f.Indices {
		if (wildcard && strings.HasPrefix(name, prefix)) || name == pattern {
			out = append(out, info)
		}
	}
	slices.SortFunc(out, func(a, b cluster.IndexInfo) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

// DeleteIndex implements cluster.Client.
func (f *FakeCluster) DeleteIndex(_ context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.DeleteErrs[name]; err != nil {
		return false, err
	}
	delete(f.Indices, name)
	f.Deleted = append(f.Deleted, name)
	return true, nil
}

// UpdateAliases implements cluster.Client.
func (f *FakeCluster) UpdateAliases(_ context.Context, actions []any) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.AliasCalls = append(f.AliasCalls, actions)
	if f.AliasErr != nil {
		return false, f.AliasErr
	}
	return !f.AliasUnacknowledged, nil
}

// Ready implements cluster.Client.
func (f *FakeCluster) Ready(context.Context) error {
	return f.ReadyErr
}

var _ cluster.Client = (*FakeCluster)(nil)
