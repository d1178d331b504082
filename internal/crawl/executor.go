package crawl

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-mirror/internal/metrics"
	"github.com/JakeFAU/site-mirror/internal/mirror"
)

// DefaultBinary is the crawl program looked up on PATH.
const DefaultBinary = "wget"

const scratchPrefix = "site-mirror-"

var (
	statusLine    = regexp.MustCompile(`^\s*HTTP/\d(?:\.\d)?\s+(\d{3})\b`)
	exclusionLine = regexp.MustCompile(`(?i)\b(rejecting|rejected|not following|disallowed by robots|excluded by robots)\b`)
)

// Config controls the executor.
type Config struct {
	Binary      string
	ScratchRoot string
	HomeURL     string
}

// Output is the result of a full crawl across a run's base URLs.
type Output struct {
	ScratchDir string
	Results    []mirror.CrawlResult
}

// Executor runs the crawler once per base URL into a fresh scratch directory.
type Executor struct {
	runner Runner
	ids    mirror.IDGenerator
	cfg    Config
	logger *zap.Logger
}

// NewExecutor constructs an Executor. A nil runner uses ExecRunner.
func NewExecutor(runner Runner, ids mirror.IDGenerator, cfg Config, logger *zap.Logger) *Executor {
	if runner == nil {
		runner = ExecRunner{}
	}
	if cfg.Binary == "" {
		cfg.Binary = DefaultBinary
	}
	if cfg.ScratchRoot == "" {
		cfg.ScratchRoot = os.TempDir()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{runner: runner, ids: ids, cfg: cfg, logger: logger}
}

// Binary returns the crawl program name.
func (e *Executor) Binary() string {
	return e.cfg.Binary
}

// Check verifies the crawl program can be found.
func (e *Executor) Check() error {
	if _, err := e.runner.LookPath(e.cfg.Binary); err != nil {
		return fmt.Errorf("%w: %v", mirror.ErrDependencyUnavailable, err)
	}
	return nil
}

// Args returns the invocation for rawURL as it would run in scratchDir.
func (e *Executor) Args(s mirror.Settings, rawURL, scratchDir string, recursive bool) []string {
	return BuildArgs(s, rawURL, Options{
		Recursive:  recursive,
		ScratchDir: scratchDir,
		HomeURL:    e.cfg.HomeURL,
	})
}

// PreviewArgs returns the invocation for rawURL with a placeholder scratch
// directory, for display only.
func (e *Executor) PreviewArgs(s mirror.Settings, rawURL string, recursive bool) []string {
	return e.Args(s, rawURL, filepath.Join(e.cfg.ScratchRoot, scratchPrefix+"XXXXXXXX"), recursive)
}

// Run crawls urls in order. The returned Output is populated even on
// failure so the caller can clean up the scratch directory.
func (e *Executor) Run(ctx context.Context, s mirror.Settings, urls []string, recursive bool) (Output, error) {
	if err := e.Check(); err != nil {
		return Output{}, err
	}
	scratch, err := e.scratchDir()
	if err != nil {
		return Output{}, err
	}
	out := Output{ScratchDir: scratch}

	for _, rawURL := range urls {
		args := e.Args(s, rawURL, scratch, recursive)
		e.logger.Info("crawl started", zap.String("url", rawURL), zap.Bool("recursive", recursive))

		res, err := e.runner.Run(ctx, e.cfg.ScratchRoot, e.cfg.Binary, args)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return out, fmt.Errorf("crawl %s: %w", rawURL, ctxErr)
			}
			return out, fmt.Errorf("%w: %v", mirror.ErrDependencyUnavailable, err)
		}
		if res.ExitCode != 0 {
			e.logger.Debug("crawler exited non-zero",
				zap.String("url", rawURL),
				zap.Int("exit_code", res.ExitCode),
			)
		}

		result := mirror.CrawlResult{
			URL:        rawURL,
			ScratchDir: scratch,
			RawLog:     string(res.Output),
		}
		produced := isDir(OutputDir(scratch, rawURL))
		metrics.ObserveCrawl(rawURL, produced)
		if !produced {
			out.Results = append(out.Results, result)
			return out, &mirror.CrawlFailedError{URL: rawURL, Output: result.RawLog}
		}
		result.Succeeded = true
		out.Results = append(out.Results, result)
		e.logger.Info("crawl finished", zap.String("url", rawURL), zap.Int("exit_code", res.ExitCode))
	}
	return out, nil
}

// DryRun probes urls without downloading and summarizes what the crawler
// saw. It writes nothing outside a throwaway scratch directory.
func (e *Executor) DryRun(ctx context.Context, s mirror.Settings, urls []string, recursive bool) (mirror.DryRunSummary, error) {
	summary := mirror.DryRunSummary{StatusCodes: map[int]int{}}
	if err := e.Check(); err != nil {
		return summary, err
	}
	scratch, err := e.scratchDir()
	if err != nil {
		return summary, err
	}
	defer e.Cleanup(scratch)

	for _, rawURL := range urls {
		args := BuildArgs(s, rawURL, Options{
			Recursive:  recursive,
			ScratchDir: scratch,
			HomeURL:    e.cfg.HomeURL,
			Spider:     true,
		})
		res, err := e.runner.Run(ctx, e.cfg.ScratchRoot, e.cfg.Binary, args)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return summary, fmt.Errorf("probe %s: %w", rawURL, ctxErr)
			}
			return summary, fmt.Errorf("%w: %v", mirror.ErrDependencyUnavailable, err)
		}
		summarize(&summary, string(res.Output))
	}
	return summary, nil
}

// Cleanup removes a scratch directory and everything under it.
func (e *Executor) Cleanup(scratch string) {
	if scratch == "" {
		return
	}
	if err := os.RemoveAll(scratch); err != nil {
		e.logger.Warn("scratch cleanup failed", zap.String("dir", scratch), zap.Error(err))
	}
}

func (e *Executor) scratchDir() (string, error) {
	id, err := e.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("scratch dir id: %w", err)
	}
	return filepath.Join(e.cfg.ScratchRoot, scratchPrefix+id), nil
}

func summarize(summary *mirror.DryRunSummary, log string) {
	for _, line := range strings.Split(log, "\n") {
		if m := statusLine.FindStringSubmatch(line); m != nil {
			code, err := strconv.Atoi(m[1])
			if err == nil {
				summary.StatusCodes[code]++
			}
			continue
		}
		if exclusionLine.MatchString(line) {
			summary.Exclusions++
		}
	}
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
