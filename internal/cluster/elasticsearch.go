package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"indexctl/internal/apperrors"
	"indexctl/internal/retention"
	"indexctl/pkg/circuitbreaker"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// API groups guarded by separate circuit breakers, so a failing snapshot
// repository does not block index maintenance.
const (
	groupSnapshot = "snapshot"
	groupIndices  = "indices"
	groupCluster  = "cluster"
)

// Config holds connection settings for an Elasticsearch cluster.
type Config struct {
	Addresses []string
	Username  string
	Password  string
	Timeout   time.Duration     // per-request timeout (default: 30s)
	Transport http.RoundTripper // optional, for tests and custom TLS
	Breaker   circuitbreaker.Config
}

// ES implements Client with the official Elasticsearch client.
type ES struct {
	es       *elasticsearch.Client
	timeout  time.Duration
	breakers *circuitbreaker.Registry
	logger   *slog.Logger
}

// NewES creates an Elasticsearch client. Retries are left to callers.
func NewES(cfg Config) (*ES, error) {
	if len(cfg.Addresses) == 0 {
		return nil, apperrors.Validation("elasticsearch.url", "at least one cluster address is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:    cfg.Addresses,
		Username:     cfg.Username,
		Password:     cfg.Password,
		Transport:    cfg.Transport,
		DisableRetry: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}

	return &ES{
		es:       client,
		timeout:  cfg.Timeout,
		breakers: circuitbreaker.NewRegistry(cfg.Breaker),
		logger:   slog.With("component", "cluster"),
	}, nil
}

// BreakerStats reports circuit breaker states across API groups.
func (c *ES) BreakerStats() circuitbreaker.Stats {
	return c.breakers.Stats()
}

type request struct {
	group    string
	op       string
	resource string
	id       string
	call     func(ctx context.Context) (*esapi.Response, error)
	out      any
}

// do runs an API call behind the group's breaker and decodes a 2xx body
// into req.out.
func (c *ES) do(ctx context.Context, req request) error {
	breaker := c.breakers.Get(req.group)
	err := breaker.Guard(func() error {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		res, err := req.call(callCtx)
		if err != nil {
			return apperrors.Transport(req.op, err)
		}
		defer res.Body.Close()

		if res.IsError() {
			return apperrors.FromStatus(req.op, req.resource, req.id, res.StatusCode, errorReason(res.Body))
		}
		if req.out == nil {
			_, _ = io.Copy(io.Discard, res.Body)
			return nil
		}
		if err := json.NewDecoder(res.Body).Decode(req.out); err != nil {
			return apperrors.Internal(req.op, fmt.Errorf("failed to decode response: %w", err))
		}
		return nil
	}, func(err error) bool {
		return errors.Is(err, apperrors.ErrTransport)
	})

	if errors.Is(err, circuitbreaker.ErrOpen) {
		c.logger.Warn("Cluster call rejected, circuit open", "op", req.op, "group", req.group)
		return apperrors.Transport(req.op, err)
	}
	return err
}

// errorReason extracts error.reason from an error body, falling back to the
// raw body.
func errorReason(body io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(body, 64*1024))
	var parsed struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(raw, &parsed); err == nil && len(parsed.Error) > 0 {
		var detail struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		}
		if err := json.Unmarshal(parsed.Error, &detail); err == nil && detail.Reason != "" {
			return detail.Type + ": " + detail.Reason
		}
		var plain string
		if err := json.Unmarshal(parsed.Error, &plain); err == nil {
			return plain
		}
	}
	return strings.TrimSpace(string(raw))
}

type ackResponse struct {
	Acknowledged bool            `json:"acknowledged"`
	Accepted     bool            `json:"accepted"`
	Snapshot     json.RawMessage `json:"snapshot"`
}

// GetSnapshot implements Client.
func (c *ES) GetSnapshot(ctx context.Context, repository, name string) (*SnapshotInfo, error) {
	var out struct {
		Snapshots []struct {
			Snapshot string   `json:"snapshot"`
			State    string   `json:"state"`
			Indices  []string `json:"indices"`
		} `json:"snapshots"`
	}
	err := c.do(ctx, request{
		group:    groupSnapshot,
		op:       "snapshot.get",
		resource: "snapshot",
		id:       repository + "/" + name,
		call: func(ctx context.Context) (*esapi.Response, error) {
			return c.es.Snapshot.Get(repository, []string{name}, c.es.Snapshot.Get.WithContext(ctx))
		},
		out: &out,
	})
	if err != nil {
		return nil, err
	}
	for _, s := range out.Snapshots {
		if s.Snapshot == name {
			return &SnapshotInfo{Repository: repository, Name: s.Snapshot, State: s.State, Indices: s.Indices}, nil
		}
	}
	return nil, apperrors.NotFound("snapshot", repository+"/"+name)
}

// GetRepository implements Client.
func (c *ES) GetRepository(ctx context.Context, name string) (map[string]any, error) {
	out := map[string]any{}
	err := c.do(ctx, request{
		group:    groupSnapshot,
		op:       "snapshot.get_repository",
		resource: "repository",
		id:       name,
		call: func(ctx context.Context) (*esapi.Response, error) {
			opts := []func(*esapi.SnapshotGetRepositoryRequest){c.es.Snapshot.GetRepository.WithContext(ctx)}
			if name != "" {
				opts = append(opts, c.es.Snapshot.GetRepository.WithRepository(name))
			}
			return c.es.Snapshot.GetRepository(opts...)
		},
		out: &out,
	})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, apperrors.NotFound("repository", name)
	}
	return out, nil
}

// CreateRepository implements Client.
func (c *ES) CreateRepository(ctx context.Context, name string, body any) (bool, error) {
	payload, err := encodeBody(body)
	if err != nil {
		return false, apperrors.Validation("snapshot.body", err.Error())
	}
	var out ackResponse
	err = c.do(ctx, request{
		group:    groupSnapshot,
		op:       "snapshot.create_repository",
		resource: "repository",
		id:       name,
		call: func(ctx context.Context) (*esapi.Response, error) {
			return c.es.Snapshot.CreateRepository(name, bytes.NewReader(payload), c.es.Snapshot.CreateRepository.WithContext(ctx))
		},
		out: &out,
	})
	if err != nil {
		return false, err
	}
	return out.Acknowledged, nil
}

// CreateSnapshot implements Client.
func (c *ES) CreateSnapshot(ctx context.Context, repository, name string, body any) (bool, error) {
	payload, err := encodeBody(body)
	if err != nil {
		return false, apperrors.Validation("body", err.Error())
	}
	var out ackResponse
	err = c.do(ctx, request{
		group:    groupSnapshot,
		op:       "snapshot.create",
		resource: "repository",
		id:       repository,
		call: func(ctx context.Context) (*esapi.Response, error) {
			return c.es.Snapshot.Create(repository, name,
				c.es.Snapshot.Create.WithBody(bytes.NewReader(payload)),
				c.es.Snapshot.Create.WithContext(ctx),
			)
		},
		out: &out,
	})
	if err != nil {
		return false, err
	}
	return out.Accepted || out.Acknowledged || len(out.Snapshot) > 0, nil
}

// GetIndexSettings implements Client.
func (c *ES) GetIndexSettings(ctx context.Context, pattern string) ([]IndexInfo, error) {
	var out map[string]struct {
		Settings struct {
			Index struct {
				CreationDate string         `json:"creation_date"`
				Frozen       string         `json:"frozen"`
				Blocks       map[string]any `json:"blocks"`
			} `json:"index"`
		} `json:"settings"`
	}
	err := c.do(ctx, request{
		group:    groupIndices,
		op:       "indices.get_settings",
		resource: "index",
		id:       pattern,
		call: func(ctx context.Context) (*esapi.Response, error) {
			return c.es.Indices.GetSettings(
				c.es.Indices.GetSettings.WithIndex(pattern),
				c.es.Indices.GetSettings.WithAllowNoIndices(true),
				c.es.Indices.GetSettings.WithIgnoreUnavailable(true),
				c.es.Indices.GetSettings.WithContext(ctx),
			)
		},
		out: &out,
	})
	if err != nil {
		return nil, err
	}

	infos := make([]IndexInfo, 0, len(out))
	for name, entry := range out {
		idx := entry.Settings.Index
		created, err := retention.ParseCreationDate(idx.CreationDate)
		if err != nil {
			c.logger.Warn("Skipping index with unreadable creation date", "index", name, "error", err)
			continue
		}
		info := IndexInfo{
			Name:         name,
			CreationDate: created,
			Frozen:       idx.Frozen == "true",
		}
		for block, v := range idx.Blocks {
			if info.Blocks == nil {
				info.Blocks = map[string]bool{}
			}
			info.Blocks[block] = fmt.Sprint(v) == "true"
		}
		infos = append(infos, info)
	}
	slices.SortFunc(infos, func(a, b IndexInfo) int { return strings.Compare(a.Name, b.Name) })
	return infos, nil
}

// DeleteIndex implements Client.
func (c *ES) DeleteIndex(ctx context.Context, name string) (bool, error) {
	var out ackResponse
	err := c.do(ctx, request{
		group:    groupIndices,
		op:       "indices.delete",
		resource: "index",
		id:       name,
		call: func(ctx context.Context) (*esapi.Response, error) {
			return c.es.Indices.Delete([]string{name}, c.es.Indices.Delete.WithContext(ctx))
		},
		out: &out,
	})
	if errors.Is(err, apperrors.ErrNotFound) {
		c.logger.Debug("Index already gone", "index", name)
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return out.Acknowledged, nil
}

// UpdateAliases implements Client.
func (c *ES) UpdateAliases(ctx context.Context, actions []any) (bool, error) {
	payload, err := encodeBody(map[string]any{"actions": actions})
	if err != nil {
		return false, apperrors.Validation("actions", err.Error())
	}
	var out ackResponse
	err = c.do(ctx, request{
		group:    groupIndices,
		op:       "indices.update_aliases",
		resource: "alias",
		id:       "",
		call: func(ctx context.Context) (*esapi.Response, error) {
			return c.es.Indices.UpdateAliases(bytes.NewReader(payload), c.es.Indices.UpdateAliases.WithContext(ctx))
		},
		out: &out,
	})
	if err != nil {
		return false, err
	}
	return out.Acknowledged, nil
}

// Ready implements Client.
func (c *ES) Ready(ctx context.Context) error {
	return c.do(ctx, request{
		group:    groupCluster,
		op:       "ping",
		resource: "cluster",
		call: func(ctx context.Context) (*esapi.Response, error) {
			return c.es.Ping(c.es.Ping.WithContext(ctx))
		},
	})
}

// encodeBody marshals a decoded YAML tree as JSON. Mappings with non-string
// keys are converted first.
func encodeBody(body any) ([]byte, error) {
	if body == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(jsonable(body))
}

func jsonable(v any) any {
	switch n := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(n))
		for k, val := range n {
			out[fmt.Sprint(k)] = jsonable(val)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(n))
		for k, val := range n {
			out[k] = jsonable(val)
		}
		return out
	case []any:
		out := make([]any, len(n))
		for i, val := range n {
			out[i] = jsonable(val)
		}
		return out
	default:
		return v
	}
}

var _ Client = (*ES)(nil)
