// Package job decodes playbook records and runs them against the cluster.
package job

import (
	"fmt"
	"strconv"
	"strings"

	"indexctl/internal/apperrors"
	"indexctl/internal/retention"

	"gopkg.in/yaml.v3"
)

// Type is the closed set of job kinds a playbook may contain.
type Type int

const (
	TypeUnknown Type = iota
	TypeBackup
	TypeDelete
	TypeAliases
)

// ParseType maps a job discriminator to a Type. Unrecognised names map to
// TypeUnknown.
func ParseType(s string) Type {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "backup":
		return TypeBackup
	case "delete":
		return TypeDelete
	case "aliases":
		return TypeAliases
	default:
		return TypeUnknown
	}
}

func (t Type) String() string {
	switch t {
	case TypeBackup:
		return "backup"
	case TypeDelete:
		return "delete"
	case TypeAliases:
		return "aliases"
	default:
		return "unknown"
	}
}

// Record is one rendered playbook entry.
type Record struct {
	Type     Type
	Name     string // job discriminator as written
	Position int    // index in the playbook
	Fields   map[string]any
}

// NewRecord wraps a rendered playbook mapping.
func NewRecord(position int, fields map[string]any) Record {
	name, _ := fields["job"].(string)
	return Record{
		Type:     ParseType(name),
		Name:     name,
		Position: position,
		Fields:   fields,
	}
}

// Decode wraps every playbook mapping in document order.
func Decode(raw []map[string]any) []Record {
	records := make([]Record, len(raw))
	for i, fields := range raw {
		records[i] = NewRecord(i, fields)
	}
	return records
}

// ID identifies the record in logs and events, e.g. "delete-2".
func (r Record) ID() string {
	name := r.Name
	if name == "" {
		name = r.Type.String()
	}
	return fmt.Sprintf("%s-%d", name, r.Position)
}

// Indices returns the index field as a list. A single name is a one-element
// list.
func (r Record) Indices() ([]string, error) {
	names, err := stringList(r.Fields["index"])
	if err != nil {
		return nil, apperrors.Validation("index", err.Error())
	}
	if len(names) == 0 {
		return nil, apperrors.Validation("index", "at least one index is required")
	}
	return names, nil
}

// Include returns the prefixes gathered into one combined snapshot.
func (r Record) Include() ([]string, error) {
	prefixes, err := stringList(r.Fields["include"])
	if err != nil {
		return nil, apperrors.Validation("include", err.Error())
	}
	return prefixes, nil
}

// SnapshotName returns the explicit snapshot name, if any.
func (r Record) SnapshotName() string {
	name, _ := r.Fields["name"].(string)
	return strings.TrimSpace(name)
}

// Body returns the snapshot body template, or nil when the record has none.
// A string body is parsed as an inline YAML or JSON document.
func (r Record) Body() (any, error) {
	body, ok := r.Fields["body"]
	if !ok || body == nil {
		return nil, nil
	}
	text, isText := body.(string)
	if !isText {
		return body, nil
	}
	var parsed any
	if err := yaml.Unmarshal([]byte(text), &parsed); err != nil {
		return nil, apperrors.Validation("body", err.Error())
	}
	return parsed, nil
}

// Wait reports whether snapshot completion should be polled. Defaults to
// true. YAML 1.1 words such as "no" and "off" arrive as strings and are
// honoured; any other unrecognised string keeps the default.
func (r Record) Wait() bool {
	switch v := r.Fields["wait"].(type) {
	case bool:
		return v
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "no", "n", "off":
			return false
		case "yes", "y", "on":
			return true
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		return err != nil || b
	default:
		return true
	}
}

// SaveDays returns the retention window in days.
func (r Record) SaveDays() (int, error) {
	v, ok := r.Fields["save"]
	if !ok || v == nil {
		return 0, apperrors.Validation("save", "retention days are required")
	}
	days, err := retention.ParseDays(v)
	if err != nil {
		return 0, apperrors.Validation("save", err.Error())
	}
	return days, nil
}

// Actions returns the alias action list.
func (r Record) Actions() ([]any, error) {
	actions, ok := r.Fields["actions"].([]any)
	if !ok || len(actions) == 0 {
		return nil, apperrors.Validation("actions", "a non-empty list of alias actions is required")
	}
	for i, a := range actions {
		if _, ok := a.(map[string]any); !ok {
			return nil, apperrors.Validation("actions", fmt.Sprintf("action %d is not a mapping", i))
		}
	}
	return actions, nil
}

func stringList(v any) ([]string, error) {
	switch s := v.(type) {
	case nil:
		return nil, nil
	case string:
		if strings.TrimSpace(s) == "" {
			return nil, nil
		}
		return []string{strings.TrimSpace(s)}, nil
	case []string:
		return s, nil
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			name, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected a list of names, found %T", item)
			}
			out = append(out, name)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected a name or a list of names, got %T", v)
	}
}
