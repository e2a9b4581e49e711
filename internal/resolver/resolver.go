// Package resolver builds the template environment from a settings env section.
//
// Each env entry is either a literal (scalar, list or plain mapping) or a
// single-key directive mapping such as {shell: "date +%Y.%m.%d"}. Directives
// run external processes or evaluate expressions, so the env section must
// come from a trusted source.
package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"indexctl/internal/template"
)

// Directive computes a variable value from its spec.
type Directive interface {
	Evaluate(ctx context.Context, spec any) (string, error)
}

// DirectiveFunc adapts a function to the Directive interface.
type DirectiveFunc func(ctx context.Context, spec any) (string, error)

// Evaluate calls f.
func (f DirectiveFunc) Evaluate(ctx context.Context, spec any) (string, error) {
	return f(ctx, spec)
}

// Directive kinds registered by New.
const (
	KindShell  = "shell"
	KindExec   = "exec"
	KindExpr   = "expr"
	KindPython = "python"
	KindDocker = "docker" // not registered by New, see container.Runner
)

const defaultTimeout = time.Minute

// Resolver evaluates env sections.
type Resolver struct {
	directives map[string]Directive
	timeout    time.Duration
	logger     *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithDirective registers d under kind, replacing any existing directive.
func WithDirective(kind string, d Directive) Option {
	return func(r *Resolver) {
		r.directives[kind] = d
	}
}

// WithTimeout bounds each directive evaluation (default: 1m).
func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// New creates a resolver with the shell, exec, expr and python directives.
func New(opts ...Option) *Resolver {
	r := &Resolver{
		directives: map[string]Directive{
			KindShell:  DirectiveFunc(runShell),
			KindExec:   DirectiveFunc(runExec),
			KindExpr:   DirectiveFunc(evalExpr),
			KindPython: DirectiveFunc(rejectPython),
		},
		timeout: defaultTimeout,
		logger:  slog.With("component", "resolver"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Kinds returns the registered directive kinds.
func (r *Resolver) Kinds() []string {
	kinds := make([]string, 0, len(r.directives))
	for k := range r.directives {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

// Resolve evaluates every entry of env once. Directive failures are logged
// and fall back to the raw directive spec as text.
func (r *Resolver) Resolve(ctx context.Context, env map[string]any) template.Environment {
	out := make(template.Environment, len(env))
	names := make([]string, 0, len(env))
	for name := range env {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		out[name] = r.resolveEntry(ctx, name, env[name])
	}
	r.logger.Debug("Environment resolved", "variables", out.Keys())
	return out
}

func (r *Resolver) resolveEntry(ctx context.Context, name string, raw any) template.Value {
	kind, spec, ok := r.directive(raw)
	if !ok {
		return template.Literal(raw)
	}

	logger := r.logger.With("variable", name, "directive", kind)
	evalCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	value, err := r.directives[kind].Evaluate(evalCtx, spec)
	if err != nil {
		logger.Error("Directive failed, using raw spec", "error", err)
		return template.Text(rawSpec(spec))
	}
	logger.Debug("Directive evaluated")
	return template.Text(value)
}

// directive reports whether raw is a single-key mapping naming a registered
// directive kind.
func (r *Resolver) directive(raw any) (string, any, bool) {
	var kind string
	var spec any
	switch m := raw.(type) {
	case map[string]any:
		if len(m) != 1 {
			return "", nil, false
		}
		for k, v := range m {
			kind, spec = k, v
		}
	case map[any]any:
		if len(m) != 1 {
			return "", nil, false
		}
		for k, v := range m {
			s, isString := k.(string)
			if !isString {
				return "", nil, false
			}
			kind, spec = s, v
		}
	default:
		return "", nil, false
	}
	if _, known := r.directives[kind]; !known {
		return "", nil, false
	}
	return kind, spec, true
}

// rawSpec renders a directive spec for use as a fallback value.
func rawSpec(spec any) string {
	switch s := spec.(type) {
	case string:
		return s
	case []any:
		parts := make([]string, len(s))
		for i, p := range s {
			parts[i] = fmt.Sprint(p)
		}
		return strings.Join(parts, " ")
	case []string:
		return strings.Join(s, " ")
	case map[string]any:
		if cmd, ok := s["command"]; ok {
			return rawSpec(cmd)
		}
	}
	if b, err := json.Marshal(spec); err == nil {
		return string(b)
	}
	return fmt.Sprint(spec)
}
