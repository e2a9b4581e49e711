package resolver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/expr-lang/expr"
)

var errPythonUnsupported = errors.New("python directives are not evaluated, use an expr directive")

func runShell(ctx context.Context, spec any) (string, error) {
	command, ok := spec.(string)
	if !ok || strings.TrimSpace(command) == "" {
		return "", fmt.Errorf("shell directive expects a command string, got %T", spec)
	}
	return run(exec.CommandContext(ctx, "/bin/sh", "-c", command))
}

func runExec(ctx context.Context, spec any) (string, error) {
	argv, err := toArgv(spec)
	if err != nil {
		return "", err
	}
	return run(exec.CommandContext(ctx, argv[0], argv[1:]...))
}

func run(cmd *exec.Cmd) (string, error) {
	// Children of a killed shell may keep the output pipe open.
	cmd.WaitDelay = time.Second
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("%s: %w", cmd.Path, err)
	}
	return NormalizeOutput(out), nil
}

// NormalizeOutput right-trims every output line and concatenates them.
func NormalizeOutput(out []byte) string {
	lines := strings.Split(string(out), "\n")
	var b strings.Builder
	for _, line := range lines {
		b.WriteString(strings.TrimRight(line, " \t\r"))
	}
	return b.String()
}

func toArgv(spec any) ([]string, error) {
	var argv []string
	switch s := spec.(type) {
	case string:
		argv = strings.Fields(s)
	case []string:
		argv = s
	case []any:
		for _, a := range s {
			argv = append(argv, fmt.Sprint(a))
		}
	default:
		return nil, fmt.Errorf("exec directive expects a string or list, got %T", spec)
	}
	if len(argv) == 0 {
		return nil, errors.New("exec directive has no command")
	}
	return argv, nil
}

// exprEnv is the evaluation scope for expr directives. Only these names and
// the expr builtins are visible.
func exprEnv() map[string]any {
	return map[string]any{
		"env": os.Getenv,
		"hostname": func() string {
			name, _ := os.Hostname()
			return name
		},
		"today": func() time.Time {
			return time.Now().Truncate(24 * time.Hour)
		},
	}
}

func evalExpr(ctx context.Context, spec any) (string, error) {
	code, ok := spec.(string)
	if !ok {
		return "", fmt.Errorf("expr directive expects an expression string, got %T", spec)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	env := exprEnv()
	program, err := expr.Compile(code, expr.Env(env))
	if err != nil {
		return "", err
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return "", err
	}
	if t, ok := out.(time.Time); ok {
		return t.Format(time.RFC3339), nil
	}
	return fmt.Sprint(out), nil
}

func rejectPython(context.Context, any) (string, error) {
	return "", errPythonUnsupported
}
