package crawl

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
)

// RunResult is what a finished crawler process left behind.
type RunResult struct {
	Output   []byte
	ExitCode int
}

// Runner starts processes. Run returns an error only when the process could
// not be started; a non-zero exit is reported through RunResult.ExitCode.
type Runner interface {
	LookPath(name string) (string, error)
	Run(ctx context.Context, dir, name string, args []string) (RunResult, error)
}

// ExecRunner runs processes with os/exec.
type ExecRunner struct{}

// LookPath resolves name against PATH.
func (ExecRunner) LookPath(name string) (string, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("look up %s: %w", name, err)
	}
	return path, nil
}

// Run executes name with args in dir and captures combined output. A
// cancelled ctx prevents the start, but a started process always runs to
// completion.
func (ExecRunner) Run(ctx context.Context, dir, name string, args []string) (RunResult, error) {
	if err := ctx.Err(); err != nil {
		return RunResult{}, fmt.Errorf("start %s: %w", name, err)
	}
	var out bytes.Buffer
	// #nosec G204 -- the binary comes from process config and args are built, not shell-interpolated.
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return RunResult{Output: out.Bytes()}, nil
	case errors.As(err, &exitErr):
		return RunResult{Output: out.Bytes(), ExitCode: exitErr.ExitCode()}, nil
	default:
		return RunResult{Output: out.Bytes()}, fmt.Errorf("start %s: %w", name, err)
	}
}
