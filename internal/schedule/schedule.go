// Package schedule delivers named triggers: one-shot timers whose fire time
// can be atomically replaced, and recurring cron entries.
package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-mirror/internal/mirror"
)

// Handler runs when a named trigger fires.
type Handler func(ctx context.Context)

type timer struct {
	t   *time.Timer
	gen uint64
	at  time.Time
}

// Scheduler owns every trigger for the process.
type Scheduler struct {
	mu       sync.Mutex
	clock    mirror.Clock
	logger   *zap.Logger
	handlers map[string]Handler
	timers   map[string]*timer
	gen      uint64
	stopped  bool

	cron    *cron.Cron
	parser  cron.Parser
	entries map[string]cron.EntryID

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Scheduler. Triggers only fire after Start.
func New(clock mirror.Clock, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	cl := cronLogger{logger.Sugar()}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		clock:    clock,
		logger:   logger,
		handlers: make(map[string]Handler),
		timers:   make(map[string]*timer),
		cron:     cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cl)), cron.WithLogger(cl)),
		parser:   parser,
		entries:  make(map[string]cron.EntryID),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Handle registers the handler for a trigger name.
func (s *Scheduler) Handle(name string, h Handler) {
	s.mu.Lock()
	s.handlers[name] = h
	s.mu.Unlock()
}

// Start begins delivering recurring triggers.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels pending timers and waits for running handlers to return.
// Handler contexts stay live until then; a started run is never cut short.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for name, tm := range s.timers {
		tm.t.Stop()
		delete(s.timers, name)
	}
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.wg.Wait()
	s.cancel()
}

// Schedule arranges for name to fire once at at, replacing any earlier
// fire time for the same name.
func (s *Scheduler) Schedule(name string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.timers[name]; ok {
		old.t.Stop()
	}
	s.gen++
	gen := s.gen
	delay := at.Sub(s.clock.Now())
	if delay < 0 {
		delay = 0
	}
	s.timers[name] = &timer{
		gen: gen,
		at:  at,
		t:   time.AfterFunc(delay, func() { s.fireTimer(name, gen) }),
	}
	s.logger.Debug("trigger scheduled", zap.String("name", name), zap.Time("at", at))
}

// Clear removes a pending one-shot trigger.
func (s *Scheduler) Clear(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tm, ok := s.timers[name]; ok {
		tm.t.Stop()
		delete(s.timers, name)
	}
}

// Next returns the pending one-shot fire time for name.
func (s *Scheduler) Next(name string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tm, ok := s.timers[name]
	if !ok {
		return time.Time{}, false
	}
	return tm.at, true
}

// Recurring installs or replaces a cron entry for name. An empty spec
// removes it.
func (s *Scheduler) Recurring(name, spec string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.entries[name]; ok {
		s.cron.Remove(id)
		delete(s.entries, name)
	}
	if spec == "" {
		return nil
	}
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	s.entries[name] = s.cron.Schedule(sched, cron.FuncJob(func() { s.run(name) }))
	s.logger.Info("recurring trigger installed",
		zap.String("name", name),
		zap.String("spec", spec),
		zap.Time("next_run", sched.Next(s.clock.Now())),
	)
	return nil
}

// NextRecurring returns the next fire time of a recurring entry.
func (s *Scheduler) NextRecurring(name string) (time.Time, bool) {
	s.mu.Lock()
	id, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	entry := s.cron.Entry(id)
	if !entry.Valid() {
		return time.Time{}, false
	}
	if entry.Next.IsZero() {
		return entry.Schedule.Next(s.clock.Now()), true
	}
	return entry.Next, true
}

func (s *Scheduler) fireTimer(name string, gen uint64) {
	s.mu.Lock()
	tm, ok := s.timers[name]
	if !ok || tm.gen != gen {
		s.mu.Unlock()
		return
	}
	delete(s.timers, name)
	s.mu.Unlock()
	s.run(name)
}

func (s *Scheduler) run(name string) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	h, ok := s.handlers[name]
	if !ok {
		s.mu.Unlock()
		s.logger.Warn("trigger fired without handler", zap.String("name", name))
		return
	}
	// Add under mu so Stop cannot begin waiting between the check and the Add.
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("trigger handler panicked", zap.String("name", name), zap.Any("panic", r))
		}
	}()
	s.logger.Debug("trigger fired", zap.String("name", name))
	h(s.ctx)
}

type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
