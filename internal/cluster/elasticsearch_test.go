package cluster

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"indexctl/internal/apperrors"
	"indexctl/pkg/circuitbreaker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Body   string
}

type fakeCluster struct {
	mu       sync.Mutex
	requests []recordedRequest
	handler  func(w http.ResponseWriter, r *http.Request)
}

func (f *fakeCluster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery, Body: string(body)})
	f.mu.Unlock()

	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")
	f.handler(w, r)
}

func (f *fakeCluster) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeCluster) last() recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func newTestClient(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*ES, *fakeCluster) {
	t.Helper()
	fake := &fakeCluster{handler: handler}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	c, err := NewES(Config{
		Addresses: []string{srv.URL},
		Timeout:   5 * time.Second,
		Breaker:   circuitbreaker.Config{Threshold: 2, Cooldown: time.Minute},
	})
	require.NoError(t, err)
	return c, fake
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestNewES_RequiresAddress(t *testing.T) {
	t.Parallel()
	_, err := NewES(Config{})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestES_GetSnapshot(t *testing.T) {
	t.Parallel()
	c, fake := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"snapshots": []any{map[string]any{"snapshot": "logs-2023.10.01", "state": "SUCCESS", "indices": []string{"logs-2023.10.01"}}},
		})
	})

	info, err := c.GetSnapshot(context.Background(), "backups", "logs-2023.10.01")
	require.NoError(t, err)
	assert.Equal(t, StateSuccess, info.State)
	assert.Equal(t, "backups", info.Repository)
	assert.Equal(t, []string{"logs-2023.10.01"}, info.Indices)
	assert.Equal(t, "/_snapshot/backups/logs-2023.10.01", fake.last().Path)
}

func TestES_GetSnapshot_Missing(t *testing.T) {
	t.Parallel()
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"error":  map[string]any{"type": "snapshot_missing_exception", "reason": "[backups:nope] is missing"},
			"status": 404,
		})
	})

	_, err := c.GetSnapshot(context.Background(), "backups", "nope")
	require.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.Contains(t, err.Error(), "backups/nope")
}

func TestES_GetRepository(t *testing.T) {
	t.Parallel()
	c, fake := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/_snapshot/backups" {
			writeJSON(w, http.StatusOK, map[string]any{"backups": map[string]any{"type": "fs"}})
			return
		}
		writeJSON(w, http.StatusNotFound, map[string]any{
			"error": map[string]any{"type": "repository_missing_exception", "reason": "[other] missing"},
		})
	})

	repos, err := c.GetRepository(context.Background(), "backups")
	require.NoError(t, err)
	assert.Contains(t, repos, "backups")
	assert.Equal(t, http.MethodGet, fake.last().Method)

	_, err = c.GetRepository(context.Background(), "other")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestES_CreateRepository(t *testing.T) {
	t.Parallel()
	c, fake := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"acknowledged": true})
	})

	body := map[string]any{"type": "fs", "settings": map[any]any{"location": "/backups"}}
	ack, err := c.CreateRepository(context.Background(), "backups", body)
	require.NoError(t, err)
	assert.True(t, ack)

	req := fake.last()
	assert.Equal(t, http.MethodPut, req.Method)
	assert.Equal(t, "/_snapshot/backups", req.Path)
	assert.JSONEq(t, `{"type":"fs","settings":{"location":"/backups"}}`, req.Body)
}

func TestES_CreateSnapshot(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		response map[string]any
		want     bool
	}{
		{"accepted", map[string]any{"accepted": true}, true},
		{"completed", map[string]any{"snapshot": map[string]any{"snapshot": "s", "state": "SUCCESS"}}, true},
		{"empty", map[string]any{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c, fake := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, tt.response)
			})

			ack, err := c.CreateSnapshot(context.Background(), "backups", "s", map[string]any{"indices": "logs-*"})
			require.NoError(t, err)
			assert.Equal(t, tt.want, ack)

			req := fake.last()
			assert.Equal(t, "/_snapshot/backups/s", req.Path)
			assert.JSONEq(t, `{"indices":"logs-*"}`, req.Body)
		})
	}
}

func TestES_CreateSnapshot_ServerError(t *testing.T) {
	t.Parallel()
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "unavailable"})
	})

	_, err := c.CreateSnapshot(context.Background(), "backups", "s", nil)
	require.ErrorIs(t, err, apperrors.ErrTransport)
	assert.True(t, apperrors.IsRetryable(err))
}

func TestES_GetIndexSettings(t *testing.T) {
	t.Parallel()
	c, fake := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"logs-2023-02": map[string]any{"settings": map[string]any{"index": map[string]any{
				"creation_date": "1696118400000",
			}}},
			"logs-2023-01": map[string]any{"settings": map[string]any{"index": map[string]any{
				"creation_date": "1690000000000",
				"frozen":        "true",
				"blocks":        map[string]any{"write": "true"},
			}}},
			"broken": map[string]any{"settings": map[string]any{"index": map[string]any{}}},
		})
	})

	infos, err := c.GetIndexSettings(context.Background(), "logs-*")
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "logs-2023-01", infos[0].Name)
	assert.Equal(t, int64(1690000000000), infos[0].CreationDate)
	assert.True(t, infos[0].Frozen)
	assert.True(t, infos[0].Blocks["write"])
	assert.Equal(t, "logs-2023-02", infos[1].Name)
	assert.False(t, infos[1].Frozen)

	assert.Equal(t, "/logs-*/_settings", fake.last().Path)
}

func TestES_DeleteIndex(t *testing.T) {
	t.Parallel()
	c, fake := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/gone" {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": map[string]any{"type": "index_not_found_exception", "reason": "no such index"}})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"acknowledged": true})
	})

	ack, err := c.DeleteIndex(context.Background(), "logs-2023-01")
	require.NoError(t, err)
	assert.True(t, ack)
	assert.Equal(t, http.MethodDelete, fake.last().Method)

	ack, err = c.DeleteIndex(context.Background(), "gone")
	require.NoError(t, err)
	assert.True(t, ack)
}

func TestES_UpdateAliases(t *testing.T) {
	t.Parallel()
	c, fake := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"acknowledged": true})
	})

	actions := []any{
		map[string]any{"add": map[string]any{"index": "logs-2023-10", "alias": "logs-current"}},
		map[string]any{"remove": map[string]any{"index": "logs-2023-09", "alias": "logs-current"}},
	}
	ack, err := c.UpdateAliases(context.Background(), actions)
	require.NoError(t, err)
	assert.True(t, ack)

	req := fake.last()
	assert.Equal(t, "/_aliases", req.Path)
	assert.JSONEq(t, `{"actions":[{"add":{"index":"logs-2023-10","alias":"logs-current"}},{"remove":{"index":"logs-2023-09","alias":"logs-current"}}]}`, req.Body)
}

func TestES_BreakerOpensOnTransportErrors(t *testing.T) {
	t.Parallel()
	c, fake := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "boom"})
	})

	for range 2 {
		_, err := c.CreateSnapshot(context.Background(), "backups", "s", nil)
		require.ErrorIs(t, err, apperrors.ErrTransport)
	}
	calls := fake.count()

	_, err := c.CreateSnapshot(context.Background(), "backups", "s", nil)
	require.ErrorIs(t, err, circuitbreaker.ErrOpen)
	assert.ErrorIs(t, err, apperrors.ErrTransport)
	assert.Equal(t, calls, fake.count(), "open breaker must not reach the cluster")

	stats := c.BreakerStats()
	assert.Equal(t, 1, stats.Open)
}

func TestES_NotFoundDoesNotTripBreaker(t *testing.T) {
	t.Parallel()
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": map[string]any{"type": "x", "reason": "missing"}})
	})

	for range 5 {
		_, err := c.GetSnapshot(context.Background(), "backups", "s")
		require.ErrorIs(t, err, apperrors.ErrNotFound)
	}
	assert.Equal(t, 0, c.BreakerStats().Open)
}

func TestES_Ready(t *testing.T) {
	t.Parallel()
	c, fake := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	require.NoError(t, c.Ready(context.Background()))
	assert.Equal(t, http.MethodHead, fake.last().Method)
}

func TestErrorReason(t *testing.T) {
	t.Parallel()
	tests := []struct {
		body string
		want string
	}{
		{`{"error":{"type":"t","reason":"r"}}`, "t: r"},
		{`{"error":"plain"}`, "plain"},
		{"not json\n", "not json"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, errorReason(strings.NewReader(tt.body)))
	}
}

func TestEncodeBody(t *testing.T) {
	t.Parallel()
	b, err := encodeBody(nil)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(b))

	b, err = encodeBody(map[any]any{"a": []any{map[any]any{1: "x"}}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":[{"1":"x"}]}`, string(b))
}

func TestIndexInfo_Protections(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		info IndexInfo
		want []string
	}{
		{"plain", IndexInfo{Name: "a"}, nil},
		{"frozen", IndexInfo{Name: "a", Frozen: true}, []string{"frozen"}},
		{"blocks", IndexInfo{Name: "a", Blocks: map[string]bool{"write": true, "read_only": true, "read": false}}, []string{"read_only", "write"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.info.Protections())
		})
	}
}
