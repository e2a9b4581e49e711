// Package template substitutes {name} placeholders into decoded YAML trees.
//
// Rendering walks the tree and rewrites string leaves and string mapping
// keys in place of a text round trip, so numbers stay numbers and braces
// that do not name a variable are left alone.
package template

import (
	"fmt"
	"reflect"
	"slices"
	"strings"

	"indexctl/internal/apperrors"
)

// Value is a resolved environment variable.
type Value struct {
	v       any
	literal bool
}

// Literal wraps a value taken verbatim from configuration. A placeholder
// that makes up a whole string is replaced by the native value.
func Literal(v any) Value {
	return Value{v: v, literal: true}
}

// Text wraps the string output of a computed directive.
func Text(s string) Value {
	return Value{v: s}
}

// IsLiteral reports whether the value came from a literal scalar.
func (v Value) IsLiteral() bool { return v.literal }

// Raw returns the unwrapped value.
func (v Value) Raw() any { return v.v }

// String formats the value for insertion into a larger string.
func (v Value) String() string {
	if s, ok := v.v.(string); ok {
		return s
	}
	if v.v == nil {
		return ""
	}
	return fmt.Sprint(v.v)
}

// Environment maps variable names to resolved values.
type Environment map[string]Value

// With returns a copy of env extended by other. Keys in other win.
func (e Environment) With(other Environment) Environment {
	out := make(Environment, len(e)+len(other))
	for k, v := range e {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Keys returns the variable names in sorted order.
func (e Environment) Keys() []string {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Render substitutes env into data. When no placeholder in data names an env
// key, data is returned as is. Subtrees without substitutions are shared with
// the input.
func Render(data any, env Environment) (any, error) {
	matched := Matching(data, env)
	if len(matched) == 0 {
		return data, nil
	}
	r := renderer{env: matched}
	out, _, err := r.walk(data, "")
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Matching returns the subset of env whose placeholders occur in data.
func Matching(data any, env Environment) Environment {
	if len(env) == 0 {
		return nil
	}
	found := Environment{}
	visitStrings(data, func(s string) {
		for _, name := range placeholderNames(s) {
			if v, ok := env[name]; ok {
				found[name] = v
			}
		}
	})
	return found
}

type renderer struct {
	env Environment
}

func (r renderer) walk(node any, path string) (any, bool, error) {
	switch n := node.(type) {
	case nil:
		return nil, false, nil
	case string:
		return r.renderString(n)
	case map[string]any:
		return r.walkStringMap(n, path)
	case map[any]any:
		return r.walkAnyMap(n, path)
	case map[string]string:
		generic := make(map[string]any, len(n))
		for k, v := range n {
			generic[k] = v
		}
		out, changed, err := r.walkStringMap(generic, path)
		if !changed || err != nil {
			return n, false, err
		}
		return out, true, nil
	case []any:
		return r.walkSlice(n, path)
	case []string:
		generic := make([]any, len(n))
		for i, v := range n {
			generic[i] = v
		}
		out, changed, err := r.walkSlice(generic, path)
		if !changed || err != nil {
			return n, false, err
		}
		return out, true, nil
	case []map[string]any:
		generic := make([]any, len(n))
		for i, v := range n {
			generic[i] = v
		}
		out, changed, err := r.walkSlice(generic, path)
		if !changed || err != nil {
			return n, false, err
		}
		return out, true, nil
	}

	switch reflect.ValueOf(node).Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return nil, false, apperrors.Render(path, fmt.Sprintf("unsupported value of type %T", node))
	}
	return node, false, nil
}

func (r renderer) walkStringMap(m map[string]any, path string) (any, bool, error) {
	out := make(map[string]any, len(m))
	changed := false
	for _, k := range sortedKeys(m) {
		childPath := joinPath(path, k)
		v, vChanged, err := r.walk(m[k], childPath)
		if err != nil {
			return nil, false, err
		}
		key, kChanged, err := r.renderKey(k, childPath)
		if err != nil {
			return nil, false, err
		}
		if _, dup := out[key]; dup {
			return nil, false, apperrors.Render(childPath, fmt.Sprintf("key %q already present after substitution", key))
		}
		out[key] = v
		changed = changed || vChanged || kChanged
	}
	if !changed {
		return m, false, nil
	}
	return out, true, nil
}

func (r renderer) walkAnyMap(m map[any]any, path string) (any, bool, error) {
	out := make(map[any]any, len(m))
	changed := false
	for k, val := range m {
		childPath := joinPath(path, fmt.Sprint(k))
		v, vChanged, err := r.walk(val, childPath)
		if err != nil {
			return nil, false, err
		}
		key := k
		if s, ok := k.(string); ok {
			rendered, kChanged, err := r.renderKey(s, childPath)
			if err != nil {
				return nil, false, err
			}
			key = rendered
			changed = changed || kChanged
		}
		if _, dup := out[key]; dup {
			return nil, false, apperrors.Render(childPath, fmt.Sprintf("key %v already present after substitution", key))
		}
		out[key] = v
		changed = changed || vChanged
	}
	if !changed {
		return m, false, nil
	}
	return out, true, nil
}

func (r renderer) walkSlice(s []any, path string) (any, bool, error) {
	out := make([]any, len(s))
	changed := false
	for i, item := range s {
		v, itemChanged, err := r.walk(item, fmt.Sprintf("%s[%d]", path, i))
		if err != nil {
			return nil, false, err
		}
		out[i] = v
		changed = changed || itemChanged
	}
	if !changed {
		return s, false, nil
	}
	return out, true, nil
}

func (r renderer) renderKey(k, path string) (string, bool, error) {
	v, changed, err := r.renderString(k)
	if err != nil || !changed {
		return k, false, err
	}
	if s, ok := v.(string); ok {
		return s, true, nil
	}
	return fmt.Sprint(v), true, nil
}

// renderString substitutes placeholders in s. A string that is exactly one
// placeholder of a literal value becomes that value.
func (r renderer) renderString(s string) (any, bool, error) {
	if name, ok := wholePlaceholder(s); ok {
		if v, found := r.env[name]; found {
			if v.IsLiteral() {
				return v.Raw(), true, nil
			}
			return v.String(), true, nil
		}
	}

	var b strings.Builder
	changed := false
	rest := s
	for {
		start, end, name := nextPlaceholder(rest)
		if start < 0 {
			b.WriteString(rest)
			break
		}
		v, found := r.env[name]
		if !found {
			b.WriteString(rest[:end])
			rest = rest[end:]
			continue
		}
		b.WriteString(rest[:start])
		b.WriteString(v.String())
		rest = rest[end:]
		changed = true
	}
	if !changed {
		return s, false, nil
	}
	return b.String(), true, nil
}

// nextPlaceholder finds the first {name} in s where name holds no braces.
// It returns the start and end offsets of the braces and the name.
func nextPlaceholder(s string) (int, int, string) {
	offset := 0
	for {
		open := strings.IndexByte(s[offset:], '{')
		if open < 0 {
			return -1, -1, ""
		}
		open += offset
		closing := strings.IndexByte(s[open+1:], '}')
		if closing < 0 {
			return -1, -1, ""
		}
		closing += open + 1
		name := s[open+1 : closing]
		if strings.IndexByte(name, '{') >= 0 {
			offset = open + 1
			continue
		}
		return open, closing + 1, name
	}
}

func wholePlaceholder(s string) (string, bool) {
	start, end, name := nextPlaceholder(s)
	return name, start == 0 && end == len(s)
}

func placeholderNames(s string) []string {
	var names []string
	for {
		start, _, name := nextPlaceholder(s)
		if start < 0 {
			return names
		}
		names = append(names, name)
		s = s[start+1:]
	}
}

func visitStrings(node any, fn func(string)) {
	switch n := node.(type) {
	case string:
		fn(n)
	case map[string]any:
		for k, v := range n {
			fn(k)
			visitStrings(v, fn)
		}
	case map[any]any:
		for k, v := range n {
			if s, ok := k.(string); ok {
				fn(s)
			}
			visitStrings(v, fn)
		}
	case map[string]string:
		for k, v := range n {
			fn(k)
			fn(v)
		}
	case []any:
		for _, v := range n {
			visitStrings(v, fn)
		}
	case []string:
		for _, v := range n {
			fn(v)
		}
	case []map[string]any:
		for _, v := range n {
			visitStrings(v, fn)
		}
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}
