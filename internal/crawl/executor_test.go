package crawl

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-mirror/internal/mirror"
)

type fakeIDs struct {
	mu sync.Mutex
	n  int
}

func (f *fakeIDs) NewID() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	return "run" + string(rune('0'+f.n)), nil
}

type fakeRunner struct {
	mu       sync.Mutex
	missing  bool
	startErr error
	silent   map[string]bool
	output   string
	exitCode int
	calls    [][]string
}

func (f *fakeRunner) LookPath(name string) (string, error) {
	if f.missing {
		return "", errors.New("executable file not found in $PATH")
	}
	return "/usr/bin/" + name, nil
}

func (f *fakeRunner) Run(_ context.Context, _ string, _ string, args []string) (RunResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string(nil), args...))
	f.mu.Unlock()
	if f.startErr != nil {
		return RunResult{}, f.startErr
	}
	rawURL := args[len(args)-1]
	var scratch string
	for _, a := range args {
		if v, ok := strings.CutPrefix(a, "--directory-prefix="); ok {
			scratch = v
		}
	}
	if !f.silent[rawURL] && !contains(args, "--spider") {
		dir := OutputDir(scratch, rawURL)
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return RunResult{}, err
		}
		if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html></html>"), 0o600); err != nil {
			return RunResult{}, err
		}
	}
	return RunResult{Output: []byte(f.output), ExitCode: f.exitCode}, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func newTestExecutor(t *testing.T, runner Runner) (*Executor, string) {
	t.Helper()
	root := t.TempDir()
	return NewExecutor(runner, &fakeIDs{}, Config{ScratchRoot: root, HomeURL: "https://example.com"}, zap.NewNop()), root
}

func TestExecutorRunCrawlsEveryURL(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{exitCode: 8, output: "some 404s"}
	exec, root := newTestExecutor(t, runner)

	out, err := exec.Run(context.Background(), mirror.Settings{}, []string{
		"https://example.com/",
		"https://docs.example.com/",
	}, true)
	require.NoError(t, err)

	require.Equal(t, filepath.Join(root, "site-mirror-run1"), out.ScratchDir)
	require.Len(t, out.Results, 2)
	for _, r := range out.Results {
		require.True(t, r.Succeeded)
		require.Equal(t, "some 404s", r.RawLog)
	}
	require.DirExists(t, filepath.Join(out.ScratchDir, "example.com"))
	require.DirExists(t, filepath.Join(out.ScratchDir, "docs.example.com"))
	require.Len(t, runner.calls, 2)
	require.Contains(t, runner.calls[0], "--recursive")
}

func TestExecutorRunMissingDependency(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{missing: true}
	exec, _ := newTestExecutor(t, runner)

	_, err := exec.Run(context.Background(), mirror.Settings{}, []string{"https://example.com/"}, false)
	require.ErrorIs(t, err, mirror.ErrDependencyUnavailable)
	require.Empty(t, runner.calls)
}

func TestExecutorRunStartFailureIsDependencyError(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{startErr: errors.New("permission denied")}
	exec, _ := newTestExecutor(t, runner)

	_, err := exec.Run(context.Background(), mirror.Settings{}, []string{"https://example.com/"}, false)
	require.ErrorIs(t, err, mirror.ErrDependencyUnavailable)
}

func TestExecutorRunAbortsOnMissingOutput(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{
		output: "Connecting to broken.example.com... failed",
		silent: map[string]bool{"https://broken.example.com/": true},
	}
	exec, _ := newTestExecutor(t, runner)

	out, err := exec.Run(context.Background(), mirror.Settings{}, []string{
		"https://example.com/",
		"https://broken.example.com/",
		"https://never.example.com/",
	}, false)

	var crawlErr *mirror.CrawlFailedError
	require.ErrorAs(t, err, &crawlErr)
	require.Equal(t, "https://broken.example.com/", crawlErr.URL)
	require.Contains(t, crawlErr.Output, "failed")
	require.Len(t, runner.calls, 2)
	require.Len(t, out.Results, 2)
	require.False(t, out.Results[1].Succeeded)
	require.NotEmpty(t, out.ScratchDir)
}

func TestExecutorDryRunSummarizes(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{output: strings.Join([]string{
		"Spider mode enabled. Check if remote file exists.",
		"  HTTP/1.1 200 OK",
		"  HTTP/1.1 301 Moved Permanently",
		"  HTTP/1.1 200 OK",
		"  HTTP/2 404 Not Found",
		"Rejecting 'https://example.com/feed/'.",
		"Not following https://example.com/private/ because robots.txt forbids it.",
	}, "\n")}
	exec, root := newTestExecutor(t, runner)

	summary, err := exec.DryRun(context.Background(), mirror.Settings{}, []string{"https://example.com/"}, true)
	require.NoError(t, err)
	require.Equal(t, map[int]int{200: 2, 301: 1, 404: 1}, summary.StatusCodes)
	require.Equal(t, 2, summary.Exclusions)
	require.Contains(t, runner.calls[0], "--spider")

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestExecutorDryRunMissingDependency(t *testing.T) {
	t.Parallel()

	exec, _ := newTestExecutor(t, &fakeRunner{missing: true})
	_, err := exec.DryRun(context.Background(), mirror.Settings{}, []string{"https://example.com/"}, false)
	require.ErrorIs(t, err, mirror.ErrDependencyUnavailable)
}
