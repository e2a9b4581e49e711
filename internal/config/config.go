// Package config loads the settings file and playbooks.
package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"indexctl/internal/apperrors"
	"indexctl/internal/resolver"
	"indexctl/internal/template"

	"gopkg.in/yaml.v3"
)

// DefaultSnapshotTemplate is the snapshot creation body used when neither the
// settings nor the job provide one. {index} is the snapshotted index list.
const DefaultSnapshotTemplate = `{"indices": "{index}", "ignore_unavailable": true, "include_global_state": false}`

// Settings is the decoded settings file.
type Settings struct {
	Elasticsearch ClusterSettings  `yaml:"elasticsearch"`
	Snapshot      SnapshotSettings `yaml:"snapshot"`
	Notify        NotifySettings   `yaml:"notify"`
}

// ClusterSettings holds connection settings for the search cluster.
type ClusterSettings struct {
	URL      string        `yaml:"url"`
	URLs     []string      `yaml:"urls"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	Timeout  time.Duration `yaml:"timeout"`
}

// SnapshotSettings configures backup jobs.
type SnapshotSettings struct {
	Repository string         `yaml:"repository"`
	Body       map[string]any `yaml:"body"`     // repository creation body
	Template   any            `yaml:"template"` // default snapshot creation body
	Poll       PollSettings   `yaml:"poll"`
	Retry      RetrySettings  `yaml:"retry"`
}

// PollSettings configures snapshot completion polling.
type PollSettings struct {
	Interval   time.Duration `yaml:"interval"`
	MaxPolls   int           `yaml:"max_polls"`
	StopStates []string      `yaml:"stop_states"`
}

// RetrySettings configures snapshot creation retries.
type RetrySettings struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Step        time.Duration `yaml:"step"`
}

// NotifySettings configures the lifecycle event webhook. An empty URL
// disables notifications.
type NotifySettings struct {
	URL     string   `yaml:"url"`
	Key     string   `yaml:"key"`
	KeyFile string   `yaml:"key_file"`
	Events  []string `yaml:"events"`
}

// Addresses returns the configured cluster addresses.
func (c ClusterSettings) Addresses() []string {
	var out []string
	if c.URL != "" {
		out = append(out, c.URL)
	}
	for _, u := range c.URLs {
		if u != "" && u != c.URL {
			out = append(out, u)
		}
	}
	if len(out) == 0 {
		out = []string{"http://localhost:9200"}
	}
	return out
}

// SnapshotTemplate returns the default snapshot creation body as a tree.
func (s SnapshotSettings) SnapshotTemplate() (any, error) {
	switch t := s.Template.(type) {
	case nil:
		return parseInline(DefaultSnapshotTemplate)
	case string:
		return parseInline(t)
	default:
		return t, nil
	}
}

func parseInline(doc string) (any, error) {
	var out any
	if err := yaml.Unmarshal([]byte(doc), &out); err != nil {
		return nil, apperrors.Validation("snapshot.template", err.Error())
	}
	return out, nil
}

// Load reads the settings file at path. The env section is resolved first,
// removed, and used to render the rest of the document. The resolved
// environment is returned for rendering playbooks.
func Load(ctx context.Context, path string, r *resolver.Resolver) (*Settings, template.Environment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read settings: %w", err)
	}

	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, nil, apperrors.Validation("settings", fmt.Sprintf("%s: %v", path, err))
	}
	if doc == nil {
		doc = map[string]any{}
	}

	var envSection map[string]any
	if raw, ok := doc["env"]; ok && raw != nil {
		envSection, ok = raw.(map[string]any)
		if !ok {
			return nil, nil, apperrors.Validation("env", fmt.Sprintf("expected a mapping, got %T", raw))
		}
	}
	delete(doc, "env")

	if r == nil {
		r = resolver.New()
	}
	env := r.Resolve(ctx, envSection)

	rendered, err := template.Render(doc, env)
	if err != nil {
		return nil, nil, err
	}

	// Round trip through YAML so rendered native values decode like
	// hand-written ones.
	out, err := yaml.Marshal(rendered)
	if err != nil {
		return nil, nil, apperrors.Internal("config.load", err)
	}
	var settings Settings
	if err := yaml.Unmarshal(out, &settings); err != nil {
		return nil, nil, apperrors.Validation("settings", err.Error())
	}

	settings.applyEnv()
	return &settings, env, nil
}

// applyEnv lets the process environment override connection settings.
func (s *Settings) applyEnv() {
	if urls := GetListEnv(EnvURL); len(urls) > 0 {
		s.Elasticsearch.URL = ""
		s.Elasticsearch.URLs = urls
	}
	s.Elasticsearch.Username = GetEnv(EnvUsername, s.Elasticsearch.Username)
	if password := GetSecretFile(GetEnv(EnvPasswordFile, "")); password != "" {
		s.Elasticsearch.Password = password
	}
	s.Elasticsearch.Timeout = GetDurationEnv(EnvTimeout, s.Elasticsearch.Timeout)
	s.Snapshot.Retry.MaxAttempts = GetIntEnv(EnvMaxAttempts, s.Snapshot.Retry.MaxAttempts)

	if s.Notify.Key == "" {
		s.Notify.Key = GetSecretFile(GetEnv(EnvNotifyKey, s.Notify.KeyFile))
	}
}

// LoadPlaybook reads a playbook, a YAML sequence of job records, and renders
// it with env.
func LoadPlaybook(path string, env template.Environment) ([]map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read playbook: %w", err)
	}
	return ParsePlaybook(data, env)
}

// ParsePlaybook decodes and renders playbook data.
func ParsePlaybook(data []byte, env template.Environment) ([]map[string]any, error) {
	var records []map[string]any
	if err := yaml.Unmarshal(data, &records); err != nil {
		return nil, apperrors.Validation("playbook", err.Error())
	}

	out := make([]map[string]any, 0, len(records))
	for i, rec := range records {
		if rec == nil {
			continue
		}
		rendered, err := template.Render(rec, env)
		if err != nil {
			return nil, fmt.Errorf("playbook record %d: %w", i, err)
		}
		m, ok := rendered.(map[string]any)
		if !ok {
			return nil, apperrors.Validation("playbook", fmt.Sprintf("record %d is not a mapping", i))
		}
		out = append(out, m)
	}
	return out, nil
}
