package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/quailyquaily/turnstile/tools"
)

// BashTool runs a single shell command line via `sh -c`. Commands are
// screened against DenyTokens (command words) and DenyPaths (file
// references) before execution.
type BashTool struct {
	Enabled         bool
	Timeout         time.Duration
	MaxOutputBytes  int64
	WorkDir         string
	DenyTokens      []string
	DenyPaths       []string
	RequireApproval bool
}

func NewBashTool(enabled bool, timeout time.Duration, maxOutputBytes int64) *BashTool {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if maxOutputBytes <= 0 {
		maxOutputBytes = 128 * 1024
	}
	return &BashTool{
		Enabled:        enabled,
		Timeout:        timeout,
		MaxOutputBytes: maxOutputBytes,
	}
}

func (t *BashTool) Name() string { return "bash" }

func (t *BashTool) Description() string {
	return "Runs a shell command line (sh -c) and returns combined stdout/stderr (truncated)."
}

func (t *BashTool) ParameterSchema() string {
	s := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "Shell command line to run.",
			},
			"timeout_seconds": map[string]any{
				"type":        "number",
				"description": "Optional timeout override in seconds.",
			},
			"working_directory": map[string]any{
				"type":        "string",
				"description": "Optional working directory for the command.",
			},
		},
		"required": []string{"command"},
	}
	b, _ := json.MarshalIndent(s, "", "  ")
	return string(b)
}

// NeedsApproval defers to the configured flag; the guard's policy layer
// may still require approval independently.
func (t *BashTool) NeedsApproval(_ context.Context, _ map[string]any, _ string) (bool, error) {
	return t != nil && t.RequireApproval, nil
}

func (t *BashTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	if !t.Enabled {
		return "", fmt.Errorf("bash tool is disabled (enable via config: tools.bash.enabled=true)")
	}

	command, _ := params["command"].(string)
	command = strings.TrimSpace(command)
	if command == "" {
		return "", fmt.Errorf("missing required param: command")
	}

	if offending, ok := bashCommandDeniedTokens(command, t.DenyTokens); ok {
		return "", fmt.Errorf("bash denied: command uses blocked token %q", offending)
	}
	if offending, ok := bashCommandDenied(command, t.DenyPaths); ok {
		return "", fmt.Errorf("bash denied: command references blocked path %q", offending)
	}

	timeout := t.Timeout
	if v, ok := params["timeout_seconds"]; ok {
		if secs, ok := asFloat64(v); ok && secs > 0 {
			timeout = time.Duration(secs * float64(time.Second))
		}
	}

	workDir := t.WorkDir
	if v, ok := params["working_directory"].(string); ok && strings.TrimSpace(v) != "" {
		workDir = expandHomePath(v)
	}

	return t.runCommand(ctx, command, workDir, timeout)
}

func (t *BashTool) runCommand(ctx context.Context, command, workDir string, timeout time.Duration) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	if strings.TrimSpace(workDir) != "" {
		cmd.Dir = workDir
	}

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	runErr := cmd.Run()

	out := buf.Bytes()
	truncated := false
	if t.MaxOutputBytes > 0 && int64(len(out)) > t.MaxOutputBytes {
		out = out[:t.MaxOutputBytes]
		truncated = true
	}

	var b strings.Builder
	b.Write(bytes.ToValidUTF8(out, []byte("\n[non-utf8 output]\n")))
	if truncated {
		b.WriteString("\n[output truncated]")
	}

	if runCtx.Err() == context.DeadlineExceeded {
		return b.String(), fmt.Errorf("command timed out after %s", timeout)
	}
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			return b.String(), fmt.Errorf("command exited with code %d", exitErr.ExitCode())
		}
		return b.String(), runErr
	}
	return b.String(), nil
}

// ShellRunner adapts BashTool to the shell-call handler shape: each
// command in the action runs sequentially, stopping at the first
// failure.
type ShellRunner struct {
	Bash *BashTool
}

func (s *ShellRunner) Name() string { return "bash" }

func (s *ShellRunner) Execute(ctx context.Context, action tools.ShellAction) (string, error) {
	if s == nil || s.Bash == nil {
		return "", fmt.Errorf("shell runner has no bash tool")
	}
	if !s.Bash.Enabled {
		return "", fmt.Errorf("bash tool is disabled (enable via config: tools.bash.enabled=true)")
	}
	if len(action.Commands) == 0 {
		return "", fmt.Errorf("shell action has no commands")
	}

	timeout := s.Bash.Timeout
	if action.TimeoutMS > 0 {
		timeout = time.Duration(action.TimeoutMS) * time.Millisecond
	}
	workDir := s.Bash.WorkDir
	if strings.TrimSpace(action.WorkingDirectory) != "" {
		workDir = expandHomePath(action.WorkingDirectory)
	}

	var b strings.Builder
	for i, command := range action.Commands {
		command = strings.TrimSpace(command)
		if command == "" {
			continue
		}
		if offending, ok := bashCommandDeniedTokens(command, s.Bash.DenyTokens); ok {
			return b.String(), fmt.Errorf("shell denied: command uses blocked token %q", offending)
		}
		if offending, ok := bashCommandDenied(command, s.Bash.DenyPaths); ok {
			return b.String(), fmt.Errorf("shell denied: command references blocked path %q", offending)
		}
		out, err := s.Bash.runCommand(ctx, command, workDir, timeout)
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(out)
		if err != nil {
			return b.String(), fmt.Errorf("command %d/%d failed: %w", i+1, len(action.Commands), err)
		}
	}
	return b.String(), nil
}

// containsTokenBoundary reports whether needle occurs in cmd delimited
// by non-token characters on both sides, so "config.yaml" matches
// `cat ./config.yaml` but not `cat config.yaml.bak`.
func containsTokenBoundary(cmd, needle string) bool {
	if needle == "" {
		return false
	}
	for start := 0; start <= len(cmd)-len(needle); {
		idx := strings.Index(cmd[start:], needle)
		if idx < 0 {
			return false
		}
		idx += start
		end := idx + len(needle)
		beforeOK := idx == 0 || !isTokenChar(cmd[idx-1])
		afterOK := end >= len(cmd) || !isTokenChar(cmd[end])
		if beforeOK && afterOK {
			return true
		}
		start = idx + 1
	}
	return false
}

func isTokenChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z':
		return true
	case c >= 'A' && c <= 'Z':
		return true
	case c >= '0' && c <= '9':
		return true
	case c == '_' || c == '.' || c == '-':
		return true
	}
	return false
}

// bashCommandDenied screens a command line against denied path entries.
func bashCommandDenied(cmd string, denyPaths []string) (string, bool) {
	for _, d := range denyPaths {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		if containsTokenBoundary(cmd, d) {
			return d, true
		}
	}
	return "", false
}

// bashCommandDeniedTokens screens a command line against denied command
// words, case-insensitively.
func bashCommandDeniedTokens(cmd string, tokens []string) (string, bool) {
	lower := strings.ToLower(cmd)
	for _, tok := range tokens {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		if containsTokenBoundary(lower, strings.ToLower(tok)) {
			return tok, true
		}
	}
	return "", false
}
