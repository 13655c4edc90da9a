// Package jobs triggers maintenance work (overdue checks, daily summary,
// history pruning) on cron or interval schedules via robfig/cron.
//
// A job never overlaps itself: a trigger arriving while the previous run is
// still in flight is skipped and recorded as such.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "homesched/pkg/logx"
)

var (
	ErrUnknownJob = errors.New("unknown job")
	ErrBusy       = errors.New("job already running")
)

type Config struct {
	Enabled        bool
	Timezone       string // IANA name; empty means Local
	DefaultTimeout time.Duration
	HistorySize    int
}

// Job is the unit of work. ctx carries the per-run timeout.
type Job func(ctx context.Context) error

type HistoryItem struct {
	Name     string
	Started  time.Time
	Duration time.Duration
	Skipped  bool
	Error    string
}

type JobInfo struct {
	Name    string
	Spec    string
	Timeout time.Duration
	Next    time.Time
	Prev    time.Time
	Running bool
}

type Snapshot struct {
	Enabled  bool
	Timezone string
	Jobs     []JobInfo
	History  []HistoryItem
}

type def struct {
	name    string
	spec    string
	timeout time.Duration
	job     Job
	entryID cron.EntryID
	running atomic.Bool
}

type Service struct {
	mu     sync.Mutex
	log    logx.Logger
	cfg    Config
	loc    *time.Location
	parser cron.Parser
	c      *cron.Cron
	defs   map[string]*def

	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log: log.With(logx.String("comp", "jobs")),
		// Both 5-field and 6-field (seconds) specs are accepted.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		defs:   map[string]*def{},
	}
	s.cfg = normalize(cfg)
	s.loc = s.loadLocation(s.cfg.Timezone)
	return s
}

func normalize(cfg Config) Config {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = time.Minute
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 100
	}
	return cfg
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Location is the zone cron specs are evaluated in.
func (s *Service) Location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loc
}

// Apply swaps config; a timezone change re-registers every job on a new
// cron instance.
func (s *Service) Apply(cfg Config) {
	cfg = normalize(cfg)
	s.mu.Lock()
	defer s.mu.Unlock()
	tzChanged := strings.TrimSpace(s.cfg.Timezone) != strings.TrimSpace(cfg.Timezone)
	s.cfg = cfg
	if !tzChanged {
		return
	}
	s.loc = s.loadLocation(cfg.Timezone)
	if s.c == nil {
		return
	}
	old := s.c
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for _, d := range s.defs {
		s.registerLocked(d)
	}
	s.c.Start()
	old.Stop()
	s.log.Info("timezone changed; jobs re-registered", logx.String("tz", s.loc.String()))
}

// Start begins triggering. It is a no-op when disabled or already started.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil || !s.cfg.Enabled {
		return
	}
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for _, d := range s.defs {
		s.registerLocked(d)
	}
	s.c.Start()
	s.log.Info("jobs started", logx.String("tz", s.loc.String()), logx.Int("jobs", len(s.defs)))
}

// Stop halts triggering, cancels running jobs and waits for them until ctx
// is done. Definitions are kept for the next Start.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	cancel := s.runCancel
	for _, d := range s.defs {
		d.entryID = 0
	}
	s.mu.Unlock()
	if c == nil {
		return
	}

	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	if cancel != nil {
		cancel()
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("jobs still running at stop deadline")
	}
	s.log.Info("jobs stopped")
}

// AddSchedule registers name with a cron, duration or HH:MM interval spec.
// Registering an existing name replaces it.
func (s *Service) AddSchedule(name, spec string, timeout time.Duration, job Job) error {
	ps, err := ParseSchedule(spec)
	if err != nil {
		return err
	}
	if ps.Kind == SpecInterval {
		return s.AddInterval(name, ps.Every, timeout, job)
	}
	return s.AddCron(name, ps.Cron, timeout, job)
}

func (s *Service) AddCron(name, spec string, timeout time.Duration, job Job) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name required")
	}
	if job == nil {
		return errors.New("job required")
	}
	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("job %s: invalid spec %q: %w", name, spec, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(name)
	d := &def{name: name, spec: spec, timeout: timeout, job: job}
	s.defs[name] = d
	if s.c != nil {
		s.registerLocked(d)
	}
	s.log.Debug("job registered", logx.String("name", name), logx.String("spec", spec))
	return nil
}

func (s *Service) AddInterval(name string, every, timeout time.Duration, job Job) error {
	if every <= 0 {
		return errors.New("interval must be > 0")
	}
	return s.AddCron(name, "@every "+every.String(), timeout, job)
}

// AddDaily runs job every day at HH:MM in the service timezone.
func (s *Service) AddDaily(name, atHHMM string, timeout time.Duration, job Job) error {
	h, m, err := parseHHMM(atHHMM)
	if err != nil {
		return err
	}
	return s.AddCron(name, fmt.Sprintf("%d %d * * *", m, h), timeout, job)
}

// Remove unregisters name and reports whether it existed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(strings.TrimSpace(name))
}

func (s *Service) removeLocked(name string) bool {
	d, ok := s.defs[name]
	if !ok {
		return false
	}
	if s.c != nil && d.entryID != 0 {
		s.c.Remove(d.entryID)
	}
	delete(s.defs, name)
	return true
}

func (s *Service) registerLocked(d *def) {
	id, err := s.c.AddFunc(d.spec, func() { s.trigger(d) })
	if err != nil {
		s.log.Error("job register failed", logx.String("name", d.name), logx.String("spec", d.spec), logx.Err(err))
		return
	}
	d.entryID = id
}

func (s *Service) trigger(d *def) {
	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	s.wg.Add(1)
	defer s.wg.Done()
	if err := s.run(ctx, d); err != nil && !errors.Is(err, ErrBusy) {
		s.log.Warn("job failed", logx.String("name", d.name), logx.Err(err))
	}
}

// RunNow runs name synchronously, outside its schedule.
func (s *Service) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	d, ok := s.defs[strings.TrimSpace(name)]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.run(ctx, d)
}

func (s *Service) run(ctx context.Context, d *def) (err error) {
	start := time.Now()
	if !d.running.CompareAndSwap(false, true) {
		s.log.Debug("job skipped; previous run in flight", logx.String("name", d.name))
		s.record(HistoryItem{Name: d.name, Started: start, Skipped: true})
		return ErrBusy
	}
	defer d.running.Store(false)

	timeout := d.timeout
	if timeout <= 0 {
		s.mu.Lock()
		timeout = s.cfg.DefaultTimeout
		s.mu.Unlock()
	}
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", d.name, r)
		}
		item := HistoryItem{Name: d.name, Started: start, Duration: time.Since(start)}
		if err != nil {
			item.Error = err.Error()
		}
		s.record(item)
	}()
	return d.job(rctx)
}

func (s *Service) record(item HistoryItem) {
	s.mu.Lock()
	limit := s.cfg.HistorySize
	s.mu.Unlock()
	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > limit {
		s.history = s.history[len(s.history)-limit:]
	}
	s.hmu.Unlock()
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{Enabled: s.cfg.Enabled, Timezone: s.loc.String()}
	for _, d := range s.defs {
		info := JobInfo{Name: d.name, Spec: d.spec, Timeout: d.timeout, Running: d.running.Load()}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			info.Next, info.Prev = e.Next, e.Prev
		}
		snap.Jobs = append(snap.Jobs, info)
	}
	s.mu.Unlock()
	sort.Slice(snap.Jobs, func(i, j int) bool { return snap.Jobs[i].Name < snap.Jobs[j].Name })

	s.hmu.Lock()
	snap.History = append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return snap
}

func (s *Service) loadLocation(tz string) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
