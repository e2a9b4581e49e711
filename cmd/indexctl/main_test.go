package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"indexctl/internal/confirm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeES answers the handful of endpoints the commands use.
type fakeES struct {
	mu       sync.Mutex
	requests []string
	aliases  []any
}

func newFakeES(t *testing.T) (*fakeES, *httptest.Server) {
	t.Helper()
	f := &fakeES{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.requests = append(f.requests, r.Method+" "+r.URL.Path)
		f.mu.Unlock()

		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodHead && r.URL.Path == "/":
		case r.Method == http.MethodPost && r.URL.Path == "/_aliases":
			var body struct {
				Actions []any `json:"actions"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			f.mu.Lock()
			f.aliases = append(f.aliases, body.Actions...)
			f.mu.Unlock()
			fmt.Fprint(w, `{"acknowledged":true}`)
		case r.Method == http.MethodGet && r.URL.Path == "/logs-*/_settings":
			fmt.Fprint(w, `{
				"logs-2020.01.01": {"settings": {"index": {"creation_date": "1577836800000"}}},
				"logs-2999.01.01": {"settings": {"index": {"creation_date": "32472144000000"}}}
			}`)
		case r.Method == http.MethodPut:
			fmt.Fprint(w, `{"acknowledged":true,"accepted":true}`)
		case r.Method == http.MethodDelete:
			fmt.Fprint(w, `{"acknowledged":true}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"error":{"reason":"no handler"},"status":404}`)
		}
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeES) has(request string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.requests {
		if r == request {
			return true
		}
	}
	return false
}

func (f *fakeES) hasPrefix(prefix string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.requests {
		if strings.HasPrefix(r, prefix) {
			return true
		}
	}
	return false
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	err := cmd.Execute()
	return out.String(), err
}

func declineAll(t *testing.T) {
	t.Helper()
	prev := confirmer
	confirmer = func() confirm.Confirmer { return confirm.Decline }
	t.Cleanup(func() { confirmer = prev })
}

func TestPlaybookCommand(t *testing.T) {
	declineAll(t)
	fake, srv := newFakeES(t)
	dir := t.TempDir()
	configPath := writeFile(t, dir, "config.yaml", fmt.Sprintf(`
elasticsearch:
  url: %s
env:
  prefix: logs
`, srv.URL))
	playbook := writeFile(t, dir, "playbook.yaml", `
- job: aliases
  actions:
    - add: {index: "{prefix}-2024", alias: current}
- job: reindex
`)
	metricsFile := filepath.Join(dir, "indexctl.prom")

	_, err := execute(t, "-q", "-c", configPath, "--metrics-file", metricsFile, "playbook", "-p", playbook)
	require.NoError(t, err)

	assert.True(t, fake.has("HEAD /"), "expected a preflight ping")
	require.Len(t, fake.aliases, 1)
	assert.Equal(t, map[string]any{"add": map[string]any{"index": "logs-2024", "alias": "current"}}, fake.aliases[0])

	metrics, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(metrics), "indexctl_jobs_total")
	assert.Contains(t, string(metrics), "indexctl_jobs_skipped_total")
}

func TestExecDelete(t *testing.T) {
	tests := []struct {
		name    string
		force   bool
		deleted bool
	}{
		{"forced", true, true},
		{"declined", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			declineAll(t)
			fake, srv := newFakeES(t)
			configPath := writeFile(t, t.TempDir(), "config.yaml", "elasticsearch:\n  url: "+srv.URL+"\n")

			args := []string{"-q", "-c", configPath, "exec", "delete", "--index", "logs-", "--save", "7"}
			if tt.force {
				args = append(args, "--force")
			}
			_, err := execute(t, args...)
			require.NoError(t, err)

			assert.Equal(t, tt.deleted, fake.has("DELETE /logs-2020.01.01"))
			assert.False(t, fake.has("DELETE /logs-2999.01.01"), "recent index must be kept")
		})
	}
}

func TestExecBackup_IncludeOnly(t *testing.T) {
	declineAll(t)
	fake, srv := newFakeES(t)
	configPath := writeFile(t, t.TempDir(), "config.yaml", fmt.Sprintf(`
elasticsearch:
  url: %s
snapshot:
  repository: backups
`, srv.URL))

	_, err := execute(t, "-q", "-c", configPath, "--force", "exec", "backup", "--include", "logs-", "--no-wait")
	require.NoError(t, err)

	assert.True(t, fake.has("GET /logs-*/_settings"))
	assert.True(t, fake.hasPrefix("PUT /_snapshot/backups/logs-"), "expected one combined snapshot")
}

func TestExecBackup_RequiresIndexOrInclude(t *testing.T) {
	_, srv := newFakeES(t)
	configPath := writeFile(t, t.TempDir(), "config.yaml", "elasticsearch:\n  url: "+srv.URL+"\n")

	_, err := execute(t, "-q", "-c", configPath, "exec", "backup", "--name", "nightly")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "index")
}

func TestExecAliases_RequiresAction(t *testing.T) {
	_, srv := newFakeES(t)
	configPath := writeFile(t, t.TempDir(), "config.yaml", "elasticsearch:\n  url: "+srv.URL+"\n")

	out, err := execute(t, "-q", "-c", configPath, "exec", "aliases")
	require.Error(t, err)
	assert.Contains(t, out, "at least one --add or --remove")
}

func TestCheckCommand(t *testing.T) {
	_, srv := newFakeES(t)
	configPath := writeFile(t, t.TempDir(), "config.yaml", fmt.Sprintf(`
elasticsearch:
  url: %s
snapshot:
  repository: backups
`, srv.URL))

	out, err := execute(t, "-q", "-c", configPath, "check")
	require.NoError(t, err)

	var response struct {
		Status string `json:"status"`
		Checks map[string]struct {
			Status string `json:"status"`
		} `json:"checks"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &response))
	assert.Equal(t, "degraded", response.Status)
	assert.Equal(t, "healthy", response.Checks["cluster"].Status)
	assert.Equal(t, "degraded", response.Checks["repository"].Status)
}

func TestMissingConfig(t *testing.T) {
	_, err := execute(t, "-q", "-c", filepath.Join(t.TempDir(), "missing.yaml"), "check")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read settings")
}

func TestAliasFields(t *testing.T) {
	t.Parallel()
	fields, err := aliasFields([]string{"logs-2=logs"}, []string{"logs-1=logs"})
	require.NoError(t, err)
	assert.Equal(t, "aliases", fields["job"])
	assert.Equal(t, []any{
		map[string]any{"remove": map[string]any{"index": "logs-1", "alias": "logs"}},
		map[string]any{"add": map[string]any{"index": "logs-2", "alias": "logs"}},
	}, fields["actions"])

	_, err = aliasFields([]string{"no-separator"}, nil)
	assert.Error(t, err)
}

func TestBackupFields(t *testing.T) {
	t.Parallel()
	fields := backupFields([]string{"a", "b"}, nil, "nightly", "", false)
	assert.Equal(t, map[string]any{
		"job":   "backup",
		"index": []any{"a", "b"},
		"wait":  false,
		"name":  "nightly",
	}, fields)

	fields = backupFields(nil, []string{"logs-"}, "", "", true)
	assert.NotContains(t, fields, "index")
	assert.Equal(t, []any{"logs-"}, fields["include"])
}

func TestNewLogger(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer

	logger, closeLog, err := newLogger(&options{logFormat: "json"}, &buf)
	require.NoError(t, err)
	logger.Debug("hidden")
	logger.Info("shown", "k", "v")
	require.NoError(t, closeLog())
	assert.NotContains(t, buf.String(), "hidden")
	assert.True(t, strings.Contains(buf.String(), `"msg":"shown"`), buf.String())

	buf.Reset()
	logger, _, err = newLogger(&options{quiet: true, verbosity: 2}, &buf)
	require.NoError(t, err)
	logger.Error("dropped")
	assert.Empty(t, buf.String())

	_, _, err = newLogger(&options{logFormat: "xml"}, &buf)
	assert.Error(t, err)
}

func TestNewLogger_File(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "indexctl.log")

	logger, closeLog, err := newLogger(&options{logFile: path, verbosity: 2}, nil)
	require.NoError(t, err)
	logger.Debug("to file")
	require.NoError(t, closeLog())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to file")
}

func TestLogLevel(t *testing.T) {
	t.Parallel()
	assert.Equal(t, slog.LevelInfo, logLevel(0))
	assert.Equal(t, slog.LevelInfo, logLevel(1))
	assert.Equal(t, slog.LevelDebug, logLevel(2))
	assert.Equal(t, slog.LevelDebug, logLevel(5))
}
