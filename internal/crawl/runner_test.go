package crawl

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-mirror/internal/clock/system"
	"github.com/JakeFAU/site-mirror/internal/mirror"
	"github.com/JakeFAU/site-mirror/internal/schedule"
)

// slowCrawler writes a stand-in crawl program that sleeps before creating
// the per-host output directory under its --directory-prefix.
func slowCrawler(t *testing.T, delay string) string {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	script := `#!/bin/sh
for a in "$@"; do
  case "$a" in
    --directory-prefix=*) p="${a#--directory-prefix=}" ;;
  esac
done
sleep ` + delay + `
mkdir -p "$p/example.com"
echo done
`
	bin := filepath.Join(t.TempDir(), "fake-wget")
	require.NoError(t, os.WriteFile(bin, []byte(script), 0o755)) // #nosec G306 -- test executable
	return bin
}

func TestExecRunnerIgnoresCancelAfterStart(t *testing.T) {
	t.Parallel()

	bin := slowCrawler(t, "0.3")
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	res, err := ExecRunner{}.Run(ctx, dir, bin, []string{"--directory-prefix=" + dir})
	require.NoError(t, err)
	require.Zero(t, res.ExitCode)
	require.Contains(t, string(res.Output), "done")
	require.DirExists(t, filepath.Join(dir, "example.com"))
}

func TestExecRunnerRefusesCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ExecRunner{}.Run(ctx, t.TempDir(), "true", nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestCrawlCompletesAcrossSchedulerStop(t *testing.T) {
	t.Parallel()

	bin := slowCrawler(t, "0.5")
	e := NewExecutor(ExecRunner{}, &fakeIDs{}, Config{
		Binary:      bin,
		ScratchRoot: t.TempDir(),
		HomeURL:     "https://example.com",
	}, zap.NewNop())

	type outcome struct {
		out Output
		err error
	}
	started := make(chan struct{})
	done := make(chan outcome, 1)

	s := schedule.New(system.Clock{}, zap.NewNop())
	s.Handle("mirror", func(ctx context.Context) {
		close(started)
		out, err := e.Run(ctx, mirror.Settings{}, []string{"https://example.com/"}, false)
		done <- outcome{out: out, err: err}
	})
	s.Start()
	s.Schedule("mirror", time.Now())

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("trigger did not fire")
	}
	time.Sleep(100 * time.Millisecond)
	s.Stop()

	select {
	case got := <-done:
		require.NoError(t, got.err)
		require.Len(t, got.out.Results, 1)
		require.True(t, got.out.Results[0].Succeeded)
		require.True(t, strings.HasSuffix(got.out.Results[0].RawLog, "done\n"))
	default:
		t.Fatal("Stop returned while the crawl was still running")
	}
}
