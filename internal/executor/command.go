package executor

import (
	"context"
	"errors"
	"io"
	"os/exec"
	"strings"
)

// Command is the opaque payload capability. The executor never inspects a
// payload; it only runs it and reads the exit code. Combined stdout/stderr
// goes to out.
type Command interface {
	Run(ctx context.Context, out io.Writer) (exitCode int, err error)
}

// ScriptCommand runs a payload script file through /bin/sh.
type ScriptCommand struct {
	Path string
	Dir  string
}

func (c ScriptCommand) Run(ctx context.Context, out io.Writer) (int, error) {
	// #nosec G204 -- the payload is the proposal's stored script, run unmodified
	cmd := exec.CommandContext(ctx, "/bin/sh", c.Path)
	cmd.Dir = c.Dir
	cmd.Stdout = out
	cmd.Stderr = out
	return runWait(cmd)
}

// ShellCommand runs a payload given as a command string. It avoids invoking
// a shell when not necessary and respects an explicit shell invocation
// already present in the command string (e.g. "sh -c 'echo hi'"), avoiding
// double-wrapping with another shell.
type ShellCommand struct {
	Command string
	Dir     string
}

func (c ShellCommand) Run(ctx context.Context, out io.Writer) (int, error) {
	cmdStr := strings.TrimSpace(c.Command)
	var cmd *exec.Cmd
	switch {
	case cmdStr == "":
		// #nosec G204
		cmd = exec.CommandContext(ctx, "/bin/true")
	case hasExplicitShell(cmdStr):
		_, afterC, _ := parseExplicitShell(cmdStr)
		// Always use absolute shell path to avoid PATH dependency.
		// #nosec G204
		cmd = exec.CommandContext(ctx, "/bin/sh", "-c", afterC)
	case strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~"):
		// #nosec G204
		cmd = exec.CommandContext(ctx, "/bin/sh", "-c", cmdStr)
	default:
		parts := strings.Fields(cmdStr)
		// #nosec G204
		cmd = exec.CommandContext(ctx, parts[0], parts[1:]...)
	}
	cmd.Dir = c.Dir
	cmd.Stdout = out
	cmd.Stderr = out
	return runWait(cmd)
}

func hasExplicitShell(cmdStr string) bool {
	_, _, ok := parseExplicitShell(cmdStr)
	return ok
}

// parseExplicitShell detects patterns like "sh -c <ARG>" or "/bin/sh -c
// <ARG>" at the beginning of cmdStr. It returns (shellPath, afterCArg, true)
// when matched, preserving the substring after "-c " verbatim except for one
// pair of wrapping quotes.
func parseExplicitShell(cmdStr string) (string, string, bool) {
	trim := strings.TrimLeft(cmdStr, " \t")
	candidates := []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c "}
	for _, p := range candidates {
		if strings.HasPrefix(trim, p) {
			after := trim[len(p):]
			if n := len(after); n >= 2 {
				if (after[0] == '\'' && after[n-1] == '\'') || (after[0] == '"' && after[n-1] == '"') {
					after = after[1 : n-1]
				}
			}
			return strings.Fields(p)[0], after, true
		}
	}
	return "", "", false
}

// runWait starts and waits for cmd, translating a nonzero exit into a code
// rather than an error. A -1 code with a non-nil error means the payload
// could not be run at all (or was killed by a context deadline).
func runWait(cmd *exec.Cmd) (int, error) {
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return -1, err
	}
	return 0, nil
}
