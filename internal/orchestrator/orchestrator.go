// Package orchestrator turns triggers into mirror runs. Triggers collapse
// into one pending job that fires after a trailing debounce; a fired job
// runs only while holding the run lock and is pushed back by a fixed retry
// delay when another run holds it.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-mirror/internal/catalog"
	"github.com/JakeFAU/site-mirror/internal/crawl"
	"github.com/JakeFAU/site-mirror/internal/metrics"
	"github.com/JakeFAU/site-mirror/internal/mirror"
	"github.com/JakeFAU/site-mirror/internal/publish"
	"github.com/JakeFAU/site-mirror/internal/schedule"
	"github.com/JakeFAU/site-mirror/internal/state"
)

// Trigger names registered with the scheduler.
const (
	TriggerRun       = "mirror.run"
	TriggerScheduled = "mirror.scheduled"
	TriggerExpire    = "mirror.expire"
)

// Event types published after state changes.
const (
	EventPublished = "mirror.published"
	EventFailed    = "mirror.failed"
	EventExpired   = "mirror.expired"
)

// ScheduledReason is the changelog entry for recurring runs.
const ScheduledReason = "Scheduled mirror"

// DestinationLayout is the time format of a mirror's directory under the
// destination root.
const DestinationLayout = "2006/01/2/15-04-05"

// Defaults for Config.
const (
	DefaultDebounce     = 10 * time.Second
	DefaultRetry        = 3 * time.Minute
	DefaultExpirySpec   = "@hourly"
	DefaultDestRoot     = "mirrors"
	tracerName          = "github.com/JakeFAU/site-mirror/internal/orchestrator"
	releaseGraceTimeout = 30 * time.Second
)

// Scheduler delivers named triggers.
type Scheduler interface {
	Handle(name string, h schedule.Handler)
	Schedule(name string, at time.Time)
	Clear(name string)
	Next(name string) (time.Time, bool)
	Recurring(name, spec string) error
	NextRecurring(name string) (time.Time, bool)
}

// SettingsSource resolves and persists operator settings.
type SettingsSource interface {
	Resolve(ctx context.Context) mirror.Settings
	Save(ctx context.Context, input map[string]string) (map[string]string, error)
}

// Crawler runs the external crawl program.
type Crawler interface {
	Binary() string
	Check() error
	PreviewArgs(s mirror.Settings, rawURL string, recursive bool) []string
	Run(ctx context.Context, s mirror.Settings, urls []string, recursive bool) (crawl.Output, error)
	DryRun(ctx context.Context, s mirror.Settings, urls []string, recursive bool) (mirror.DryRunSummary, error)
	Cleanup(scratch string)
}

// Publisher moves a scratch tree into storage.
type Publisher interface {
	Publish(ctx context.Context, scratchDir, destDir string) (publish.Report, error)
}

// Catalog records and expires mirrors.
type Catalog interface {
	Record(ctx context.Context, destDir string, changelog []string) (string, error)
	Expire(ctx context.Context, now time.Time) (int, error)
	List(ctx context.Context, page, perPage int) (catalog.Page, error)
	PublicURL(destDir string) string
}

// Notifier publishes lifecycle events.
type Notifier interface {
	Publish(ctx context.Context, eventType string, payload any) (string, error)
}

// Config tunes orchestration timing.
type Config struct {
	Debounce        time.Duration
	Retry           time.Duration
	DestinationRoot string
	ExpirySpec      string
}

// Deps groups the collaborators of an Orchestrator.
type Deps struct {
	State     state.Store
	Scheduler Scheduler
	Settings  SettingsSource
	Crawler   Crawler
	Publisher Publisher
	Catalog   Catalog
	Notifier  Notifier
	Clock     mirror.Clock
	IDs       mirror.IDGenerator
	Logger    *zap.Logger
}

// Orchestrator owns the trigger to run pipeline.
type Orchestrator struct {
	cfg Config
	Deps
}

// RunEvent is published after a run finishes.
type RunEvent struct {
	ArtifactID  string    `json:"artifact_id,omitempty"`
	StoragePath string    `json:"storage_path,omitempty"`
	PublicURL   string    `json:"public_url,omitempty"`
	Changelog   []string  `json:"changelog"`
	Files       int       `json:"files"`
	Failures    int       `json:"failures"`
	Error       string    `json:"error,omitempty"`
	FinishedAt  time.Time `json:"finished_at"`
}

// Preview is the operator diagnostic for the current settings.
type Preview struct {
	Binary         string                `json:"binary"`
	Available      bool                  `json:"available"`
	Recursive      bool                  `json:"recursive"`
	Commands       []string              `json:"commands"`
	RejectPattern  string                `json:"reject_pattern"`
	AllowedDomains map[string][]string   `json:"allowed_domains"`
	DryRun         *mirror.DryRunSummary `json:"dry_run,omitempty"`
	DryRunError    string                `json:"dry_run_error,omitempty"`
}

// New constructs an Orchestrator and registers its trigger handlers.
func New(cfg Config, deps Deps) *Orchestrator {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.Retry <= 0 {
		cfg.Retry = DefaultRetry
	}
	if cfg.DestinationRoot == "" {
		cfg.DestinationRoot = DefaultDestRoot
	}
	if cfg.ExpirySpec == "" {
		cfg.ExpirySpec = DefaultExpirySpec
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	o := &Orchestrator{cfg: cfg, Deps: deps}

	o.Scheduler.Handle(TriggerRun, func(ctx context.Context) {
		if err := o.Fire(ctx); err != nil {
			o.Logger.Debug("scheduled run finished with error", zap.Error(err))
		}
	})
	o.Scheduler.Handle(TriggerScheduled, func(ctx context.Context) {
		if _, err := o.enqueue(ctx, ScheduledReason, "scheduled", false, true); err != nil {
			o.Logger.Error("scheduled enqueue failed", zap.Error(err))
		}
	})
	o.Scheduler.Handle(TriggerExpire, func(ctx context.Context) {
		if _, err := o.Expire(ctx); err != nil {
			o.Logger.Warn("mirror expiry incomplete", zap.Error(err))
		}
	})
	return o
}

// Enqueue records a trigger reason and restarts the debounce delay.
func (o *Orchestrator) Enqueue(ctx context.Context, reason string) (mirror.PendingJob, error) {
	return o.enqueue(ctx, reason, "debounced", false, false)
}

// RunNow queues a manual run due immediately. Repeated requests collapse
// into the same pending job, and an in-progress run still defers it.
func (o *Orchestrator) RunNow(ctx context.Context, reason string) (mirror.PendingJob, error) {
	return o.enqueue(ctx, reason, "manual", true, true)
}

func (o *Orchestrator) enqueue(ctx context.Context, reason, kind string, manual, immediate bool) (mirror.PendingJob, error) {
	job, err := o.State.Enqueue(ctx, reason, state.EnqueueOptions{
		Now:       o.Clock.Now(),
		Debounce:  o.cfg.Debounce,
		Retry:     o.cfg.Retry,
		Manual:    manual,
		Immediate: immediate,
	})
	if err != nil {
		return mirror.PendingJob{}, fmt.Errorf("enqueue mirror: %w", err)
	}
	o.Scheduler.Schedule(TriggerRun, job.DueAt)
	metrics.ObserveTrigger(kind)
	o.Logger.Info("mirror queued",
		zap.String("reason", reason),
		zap.String("kind", kind),
		zap.Time("due_at", job.DueAt),
		zap.Int("pending_changes", len(job.Changelog)),
	)
	return job, nil
}

// Fire attempts to start the pending run. Contention and duplicate
// deliveries are handled here and return nil; the returned error is the
// run's own failure, which is also persisted as the last error.
func (o *Orchestrator) Fire(ctx context.Context) error {
	_, err := o.fire(ctx)
	return err
}

// RunSync queues a manual run and executes it on the calling goroutine
// without arming a timer. It returns mirror.ErrLockContention when another
// run holds the lock; the queued reason then waits for that run to finish.
func (o *Orchestrator) RunSync(ctx context.Context, reason string) error {
	if _, err := o.State.Enqueue(ctx, reason, state.EnqueueOptions{
		Now:       o.Clock.Now(),
		Debounce:  o.cfg.Debounce,
		Retry:     o.cfg.Retry,
		Manual:    true,
		Immediate: true,
	}); err != nil {
		return fmt.Errorf("enqueue mirror: %w", err)
	}
	metrics.ObserveTrigger("manual")
	ran, err := o.fire(ctx)
	if err != nil {
		return err
	}
	if !ran {
		return mirror.ErrLockContention
	}
	return nil
}

func (o *Orchestrator) fire(ctx context.Context) (bool, error) {
	token, err := o.IDs.NewID()
	if err != nil {
		return false, fmt.Errorf("run token: %w", err)
	}
	now := o.Clock.Now()

	job, err := o.State.Acquire(ctx, now, token)
	switch {
	case errors.Is(err, mirror.ErrLockContention):
		due := now.Add(o.cfg.Retry)
		if perr := o.State.Postpone(ctx, due); perr != nil {
			return false, fmt.Errorf("postpone mirror: %w", perr)
		}
		o.Scheduler.Schedule(TriggerRun, due)
		metrics.ObserveLockContention()
		o.Logger.Info("mirror already running, retrying later", zap.Time("due_at", due))
		return false, nil
	case errors.Is(err, mirror.ErrNoPendingJob):
		o.Logger.Debug("run fired with nothing pending")
		return false, nil
	case errors.Is(err, state.ErrNotDue):
		if pending, perr := o.State.Pending(ctx); perr == nil && pending != nil {
			o.Scheduler.Schedule(TriggerRun, pending.DueAt)
		}
		return false, nil
	case err != nil:
		return false, fmt.Errorf("acquire run lock: %w", err)
	}

	metrics.SetRunInProgress(true)
	// Once the lock is held the run completes even if ctx is cancelled.
	runErr := o.execute(context.WithoutCancel(ctx), job, now)
	metrics.SetRunInProgress(false)

	// The run has finished either way; release even if ctx was cancelled.
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseGraceTimeout)
	defer cancel()
	o.finish(releaseCtx, token, runErr)
	return true, runErr
}

func (o *Orchestrator) finish(ctx context.Context, token string, runErr error) {
	pending, err := o.State.Release(ctx, token)
	if err != nil {
		o.Logger.Error("run lock release failed", zap.Error(err))
	}
	if pending != nil {
		o.Scheduler.Schedule(TriggerRun, pending.DueAt)
	}

	if runErr != nil {
		if err := o.State.SetLastError(ctx, runErr.Error()); err != nil {
			o.Logger.Error("persist last error failed", zap.Error(err))
		}
		return
	}
	if err := o.State.ClearLastError(ctx); err != nil {
		o.Logger.Error("clear last error failed", zap.Error(err))
	}
}

func (o *Orchestrator) execute(ctx context.Context, job mirror.PendingJob, started time.Time) (err error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "mirror.run")
	defer span.End()
	span.SetAttributes(
		attribute.Int("mirror.changes", len(job.Changelog)),
		attribute.Bool("mirror.manual", job.Manual),
	)

	event := RunEvent{Changelog: job.Changelog}
	defer func() {
		status := metrics.RunSucceeded
		var crawlErr *mirror.CrawlFailedError
		switch {
		case err == nil:
		case errors.Is(err, mirror.ErrDependencyUnavailable):
			status = metrics.RunDependencyUnavailable
		case errors.As(err, &crawlErr):
			status = metrics.RunCrawlFailed
		default:
			status = metrics.RunErrored
		}
		metrics.ObserveRun(status, o.Clock.Now().Sub(started))

		event.FinishedAt = o.Clock.Now().UTC()
		eventType := EventPublished
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, status)
			event.Error = err.Error()
			eventType = EventFailed
			o.Logger.Warn("mirror run failed", zap.String("status", status), zap.Error(err))
		}
		o.notify(ctx, eventType, event)
	}()

	settings := o.Settings.Resolve(ctx)
	recursive := settings.Recursive(job.Manual)
	o.Logger.Info("mirror run started",
		zap.Strings("urls", settings.StartingURLs),
		zap.Bool("recursive", recursive),
		zap.Strings("changelog", job.Changelog),
	)

	out, err := o.Crawler.Run(ctx, settings, settings.StartingURLs, recursive)
	if err != nil {
		o.Crawler.Cleanup(out.ScratchDir)
		return err
	}

	dest := path.Join(o.cfg.DestinationRoot, started.Format(DestinationLayout))
	report, err := o.Publisher.Publish(ctx, out.ScratchDir, dest)
	if err != nil {
		o.Crawler.Cleanup(out.ScratchDir)
		return fmt.Errorf("publish mirror: %w", err)
	}
	metrics.ObservePublish(len(report.Files), len(report.Failures))
	event.Files = len(report.Files)
	event.Failures = len(report.Failures)

	id, err := o.Catalog.Record(ctx, dest, job.Changelog)
	if err != nil {
		return err
	}
	event.ArtifactID = id
	event.StoragePath = dest
	event.PublicURL = o.Catalog.PublicURL(dest)
	span.SetAttributes(attribute.String("mirror.artifact_id", id))
	o.Logger.Info("mirror run finished",
		zap.String("artifact_id", id),
		zap.String("dest", dest),
		zap.Int("files", event.Files),
		zap.Int("failures", event.Failures),
	)
	return nil
}

// Expire removes mirrors past their retention window.
func (o *Orchestrator) Expire(ctx context.Context) (int, error) {
	removed, err := o.Catalog.Expire(ctx, o.Clock.Now())
	metrics.ObserveExpired(removed)
	if removed > 0 {
		o.notify(ctx, EventExpired, map[string]int{"removed": removed})
	}
	return removed, err
}

// Resume re-arms triggers after a restart: the pending job's timer, the
// recurring mirror schedule and the expiry schedule.
func (o *Orchestrator) Resume(ctx context.Context) error {
	pending, err := o.State.Pending(ctx)
	if err != nil {
		return fmt.Errorf("load pending job: %w", err)
	}
	if pending != nil {
		o.Scheduler.Schedule(TriggerRun, pending.DueAt)
		o.Logger.Info("pending mirror resumed", zap.Time("due_at", pending.DueAt))
	}
	if err := o.Scheduler.Recurring(TriggerExpire, o.cfg.ExpirySpec); err != nil {
		return fmt.Errorf("schedule expiry: %w", err)
	}
	return o.Reschedule(ctx)
}

// Reschedule installs the recurring mirror from the current settings.
func (o *Orchestrator) Reschedule(ctx context.Context) error {
	s := o.Settings.Resolve(ctx)
	spec, err := schedule.MirrorSpec(s.ScheduleTime, s.ScheduleFrequency, o.Clock.Now())
	if err != nil {
		return err
	}
	if err := o.Scheduler.Recurring(TriggerScheduled, spec); err != nil {
		return fmt.Errorf("schedule mirror: %w", err)
	}
	return nil
}

// SaveSettings stores operator settings and re-arms the recurring mirror.
func (o *Orchestrator) SaveSettings(ctx context.Context, input map[string]string) (map[string]string, error) {
	saved, err := o.Settings.Save(ctx, input)
	if err != nil {
		return nil, err
	}
	if err := o.Reschedule(ctx); err != nil {
		return saved, err
	}
	return saved, nil
}

// CurrentSettings returns the resolved settings.
func (o *Orchestrator) CurrentSettings(ctx context.Context) mirror.Settings {
	return o.Settings.Resolve(ctx)
}

// Status reports the pending job, the lock and the last fatal error.
func (o *Orchestrator) Status(ctx context.Context) (mirror.Status, error) {
	var st mirror.Status
	pending, err := o.State.Pending(ctx)
	if err != nil {
		return st, err
	}
	lock, err := o.State.Lock(ctx, o.Clock.Now())
	if err != nil {
		return st, err
	}
	lastErr, err := o.State.LastError(ctx)
	if err != nil {
		return st, err
	}
	st.Pending, st.Lock, st.LastError = pending, lock, lastErr
	if next, ok := o.Scheduler.Next(TriggerRun); ok {
		st.NextRun = &next
	}
	if next, ok := o.Scheduler.NextRecurring(TriggerScheduled); ok {
		st.NextScheduled = &next
	}
	return st, nil
}

// List returns a page of recorded mirrors.
func (o *Orchestrator) List(ctx context.Context, page, perPage int) (catalog.Page, error) {
	return o.Catalog.List(ctx, page, perPage)
}

// Preview assembles the crawler invocation for the current settings
// without running it. With dryRun it also probes the site.
func (o *Orchestrator) Preview(ctx context.Context, dryRun bool) Preview {
	s := o.Settings.Resolve(ctx)
	recursive := s.Recursive(true)
	p := Preview{
		Binary:         o.Crawler.Binary(),
		Available:      o.Crawler.Check() == nil,
		Recursive:      recursive,
		Commands:       make([]string, 0, len(s.StartingURLs)),
		RejectPattern:  crawl.BuildRejectPattern(s.RejectPatterns),
		AllowedDomains: make(map[string][]string, len(s.StartingURLs)),
	}
	for _, u := range s.StartingURLs {
		p.Commands = append(p.Commands, crawl.CommandLine(p.Binary, o.Crawler.PreviewArgs(s, u, recursive)))
		p.AllowedDomains[u] = crawl.AllowedDomains(s, u)
	}
	if dryRun {
		summary, err := o.Crawler.DryRun(ctx, s, s.StartingURLs, recursive)
		if err != nil {
			p.DryRunError = err.Error()
		} else {
			p.DryRun = &summary
		}
	}
	return p
}

func (o *Orchestrator) notify(ctx context.Context, eventType string, payload any) {
	if o.Notifier == nil {
		return
	}
	if _, err := o.Notifier.Publish(ctx, eventType, payload); err != nil {
		o.Logger.Warn("event publish failed", zap.String("event", eventType), zap.Error(err))
	}
}
