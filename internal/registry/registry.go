package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shopmesh/syncd/internal/cron"
)

// Config defines registry tuning
type Config struct {
	// Fire-command channel capacity and send timeout
	InboxBufferSize  int           `toml:"inbox_buffer_size"`
	InboxSendTimeout time.Duration `toml:"inbox_send_timeout"`

	// Timeout around one scheduled dispatch
	DispatchTimeout time.Duration `toml:"dispatch_timeout"`

	// Next-run delay applied when cron evaluation fails at rearm time.
	// A schedule is never silently stopped; this keeps it ticking while
	// the failure is investigated.
	FallbackInterval time.Duration `toml:"fallback_interval"`
}

// DefaultConfig returns production defaults
func DefaultConfig() Config {
	return Config{
		InboxBufferSize:  256,
		InboxSendTimeout: 5 * time.Second,
		DispatchTimeout:  2 * time.Minute,
		FallbackInterval: time.Hour,
	}
}

// Submitter starts the sync work a schedule fire asks for. Implemented by
// the job dispatcher.
type Submitter interface {
	SubmitScheduled(ctx context.Context, tenantID, storeID, target string, batchSize int) ([]string, error)
}

// Clock abstracts time for tests
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the wall clock
func SystemClock() Clock { return systemClock{} }

// Registry owns the cron schedules and their timers. Each enabled schedule
// holds exactly one armed timer keyed by schedule id; a fire posts a command
// to the inbox and rearms, and the executor goroutine performs the dispatch.
// Rearming never depends on dispatch success. A schedule found disabled at
// fire time neither posts nor rearms, so a timer that pops in the window
// before DisableSchedule's Stop takes effect stays silent.
type Registry struct {
	config    Config
	store     ScheduleStore
	submitter Submitter
	clock     Clock
	logger    *slog.Logger
	inbox     *Inbox

	mu      sync.Mutex
	timers  map[string]*time.Timer
	running bool

	wg       sync.WaitGroup
	fires    sync.WaitGroup
	stopOnce sync.Once
}

// New creates a registry over the given schedule store and submitter
func New(cfg Config, store ScheduleStore, submitter Submitter, clock Clock, logger *slog.Logger) *Registry {
	if clock == nil {
		clock = SystemClock()
	}
	return &Registry{
		config:    cfg,
		store:     store,
		submitter: submitter,
		clock:     clock,
		logger:    logger,
		inbox:     NewInbox(cfg.InboxBufferSize, cfg.InboxSendTimeout, logger),
		timers:    make(map[string]*time.Timer),
	}
}

// Start loads persisted schedules, arms every enabled one, and launches the
// executor goroutine.
func (r *Registry) Start() error {
	schedules, err := r.store.List()
	if err != nil {
		return fmt.Errorf("load schedules: %w", err)
	}

	r.mu.Lock()
	r.running = true
	now := r.clock.Now()
	armed := 0
	for _, s := range schedules {
		if !s.Enabled {
			continue
		}
		// Next-run times persisted before a restart may be stale
		if !s.NextRunAt.After(now) {
			s.NextRunAt = r.computeNextRun(s.CronExpr, now)
			if err := r.store.Update(s); err != nil {
				r.logger.Error("failed to persist recomputed next run",
					"schedule_id", s.ID,
					"error", err)
			}
		}
		r.armLocked(s)
		armed++
	}
	r.mu.Unlock()

	r.wg.Add(1)
	go r.runExecutor()

	r.logger.Info("schedule registry started",
		"schedules", len(schedules),
		"armed", armed)
	return nil
}

// Shutdown stops all timers and waits for the executor to drain
func (r *Registry) Shutdown() {
	r.stopOnce.Do(func() {
		r.mu.Lock()
		r.running = false
		for id, t := range r.timers {
			t.Stop()
			delete(r.timers, id)
		}
		r.mu.Unlock()

		// Timer callbacks already past the running check may still be in
		// a timed inbox send; wait them out before closing the channel.
		r.fires.Wait()
		r.inbox.Close()
		r.wg.Wait()
		r.logger.Info("schedule registry stopped")
	})
}

// AddSchedule validates and persists a new schedule. If the registry is
// running and the schedule is enabled its timer is armed before returning.
func (r *Registry) AddSchedule(s ScheduleConfig) (*ScheduleConfig, error) {
	if err := validateSchedule(&s); err != nil {
		return nil, fmt.Errorf("add schedule: %w", err)
	}
	if err := cron.Validate(s.CronExpr); err != nil {
		return nil, fmt.Errorf("add schedule: %w", err)
	}

	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	now := r.clock.Now()
	s.CreatedAt = now
	s.UpdatedAt = now
	s.LastRunAt = nil
	s.NextRunAt = r.computeNextRun(s.CronExpr, now)

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.store.Insert(&s); err != nil {
		return nil, fmt.Errorf("add schedule: %w", err)
	}
	if r.running && s.Enabled {
		r.armLocked(&s)
	}

	r.logger.Info("schedule added",
		"schedule_id", s.ID,
		"name", s.Name,
		"cron", s.CronExpr,
		"enabled", s.Enabled,
		"next_run", s.NextRunAt)
	return &s, nil
}

// UpdateSchedule applies a partial update. The patch is validated in full
// before anything changes, so an invalid cron expression leaves the stored
// schedule and its timer untouched. A cron change recomputes the next run.
func (r *Registry) UpdateSchedule(id string, patch Patch) (*ScheduleConfig, error) {
	if patch.CronExpr != nil {
		if err := cron.Validate(*patch.CronExpr); err != nil {
			return nil, fmt.Errorf("update schedule: %w", err)
		}
	}
	if patch.JobType != nil && !patch.JobType.Valid() {
		return nil, fmt.Errorf("update schedule: unknown job type %q", *patch.JobType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.store.Get(id)
	if err != nil {
		return nil, fmt.Errorf("update schedule: %w", err)
	}

	if patch.Name != nil {
		s.Name = *patch.Name
	}
	if patch.StoreID != nil {
		s.StoreID = *patch.StoreID
	}
	if patch.Target != nil {
		s.Target = *patch.Target
	}
	if patch.JobType != nil {
		s.JobType = *patch.JobType
	}
	if patch.Options != nil {
		s.Options = *patch.Options
	}
	if patch.CronExpr != nil && *patch.CronExpr != s.CronExpr {
		s.CronExpr = *patch.CronExpr
		s.NextRunAt = r.computeNextRun(s.CronExpr, r.clock.Now())
	}
	if patch.Enabled != nil {
		s.Enabled = *patch.Enabled
	}
	s.UpdatedAt = r.clock.Now()

	if err := r.store.Update(s); err != nil {
		return nil, fmt.Errorf("update schedule: %w", err)
	}

	if r.running && s.Enabled {
		r.armLocked(s)
	} else {
		r.cancelLocked(id)
	}

	r.logger.Info("schedule updated",
		"schedule_id", s.ID,
		"cron", s.CronExpr,
		"enabled", s.Enabled,
		"next_run", s.NextRunAt)
	return s, nil
}

// RemoveSchedule cancels the schedule's timer and deletes it
func (r *Registry) RemoveSchedule(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cancelLocked(id)
	if err := r.store.Delete(id); err != nil {
		return fmt.Errorf("remove schedule: %w", err)
	}
	r.logger.Info("schedule removed", "schedule_id", id)
	return nil
}

// EnableSchedule turns a schedule on and arms its timer
func (r *Registry) EnableSchedule(id string) (*ScheduleConfig, error) {
	enabled := true
	return r.UpdateSchedule(id, Patch{Enabled: &enabled})
}

// DisableSchedule turns a schedule off and cancels its timer. The schedule
// and its history stay in the store.
func (r *Registry) DisableSchedule(id string) (*ScheduleConfig, error) {
	enabled := false
	return r.UpdateSchedule(id, Patch{Enabled: &enabled})
}

// GetSchedule returns one schedule by id
func (r *Registry) GetSchedule(id string) (*ScheduleConfig, error) {
	return r.store.Get(id)
}

// ListSchedules returns all schedules
func (r *Registry) ListSchedules() ([]*ScheduleConfig, error) {
	return r.store.List()
}

// TriggerNow dispatches a schedule's sync immediately, independent of its
// timer and enabled state. The armed timer, if any, is not disturbed.
func (r *Registry) TriggerNow(ctx context.Context, id string) ([]string, error) {
	r.mu.Lock()
	s, err := r.store.Get(id)
	r.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("trigger now: %w", err)
	}

	r.logger.Info("manual trigger",
		"schedule_id", s.ID,
		"name", s.Name)

	batchIDs, err := r.submitter.SubmitScheduled(ctx, s.TenantID, s.StoreID, s.Target, s.Options.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("trigger now: %w", err)
	}

	now := r.clock.Now()
	r.mu.Lock()
	if cur, gerr := r.store.Get(id); gerr == nil {
		cur.LastRunAt = &now
		if uerr := r.store.Update(cur); uerr != nil {
			r.logger.Error("failed to persist last run",
				"schedule_id", id,
				"error", uerr)
		}
	}
	r.mu.Unlock()

	return batchIDs, nil
}

// Stats returns the registry's polling snapshot with upcoming fires sorted
// soonest first.
func (r *Registry) Stats() (Stats, error) {
	schedules, err := r.store.List()
	if err != nil {
		return Stats{}, fmt.Errorf("registry stats: %w", err)
	}

	st := Stats{Inbox: r.inbox.Stats()}
	for _, s := range schedules {
		st.TotalSchedules++
		if s.Enabled {
			st.EnabledSchedules++
			st.NextRuns = append(st.NextRuns, NextRun{
				ScheduleID: s.ID,
				Name:       s.Name,
				At:         s.NextRunAt,
			})
		} else {
			st.DisabledSchedules++
		}
	}
	sort.Slice(st.NextRuns, func(i, j int) bool {
		return st.NextRuns[i].At.Before(st.NextRuns[j].At)
	})

	r.mu.Lock()
	st.ActiveTimers = len(r.timers)
	r.mu.Unlock()

	return st, nil
}

// armLocked replaces the schedule's timer with one firing at NextRunAt.
// Callers hold r.mu.
func (r *Registry) armLocked(s *ScheduleConfig) {
	if t, ok := r.timers[s.ID]; ok {
		t.Stop()
	}
	d := s.NextRunAt.Sub(r.clock.Now())
	if d < 0 {
		d = 0
	}
	id := s.ID
	r.timers[id] = time.AfterFunc(d, func() { r.fire(id) })
}

// cancelLocked stops and forgets the schedule's timer. Callers hold r.mu.
func (r *Registry) cancelLocked(id string) {
	if t, ok := r.timers[id]; ok {
		t.Stop()
		delete(r.timers, id)
	}
}

// fire runs on the timer goroutine: post the command, advance the run
// bookkeeping, rearm. Dispatch happens on the executor. The timed inbox
// send happens outside r.mu so a backlogged executor never stalls other
// schedules or registry calls; the fires group keeps Shutdown from closing
// the inbox underneath an in-flight send.
func (r *Registry) fire(id string) {
	now := r.clock.Now()

	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	s, err := r.store.Get(id)
	if err != nil {
		// Removed while the timer was in flight
		r.cancelLocked(id)
		r.mu.Unlock()
		return
	}
	if !s.Enabled {
		// Disabled after the timer popped but before Stop took effect
		r.cancelLocked(id)
		r.mu.Unlock()
		return
	}
	r.fires.Add(1)
	r.mu.Unlock()

	r.inbox.Send(FireCommand{ScheduleID: id, FiredAt: now})
	r.fires.Done()

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}
	s, err = r.store.Get(id)
	if err != nil || !s.Enabled {
		r.cancelLocked(id)
		return
	}

	s.LastRunAt = &now
	s.NextRunAt = r.computeNextRun(s.CronExpr, now)
	if err := r.store.Update(s); err != nil {
		r.logger.Error("failed to persist run bookkeeping",
			"schedule_id", id,
			"error", err)
	}
	r.armLocked(s)
}

// computeNextRun evaluates the cron expression. Evaluation failure on a
// stored expression is a bug worth shouting about, but the schedule keeps
// ticking on the fallback interval instead of dying quietly.
func (r *Registry) computeNextRun(expr string, after time.Time) time.Time {
	sched, err := cron.Parse(expr)
	if err == nil {
		next, nerr := sched.Next(after)
		if nerr == nil {
			return next
		}
		err = nerr
	}

	r.logger.Error("cron evaluation failed, applying fallback interval",
		"cron", expr,
		"fallback", r.config.FallbackInterval,
		"error", err)
	return after.Add(r.config.FallbackInterval)
}

// runExecutor consumes fire commands until the inbox closes
func (r *Registry) runExecutor() {
	defer r.wg.Done()
	for cmd := range r.inbox.Chan() {
		r.inbox.Received()
		r.execute(cmd)
	}
}

// execute performs one scheduled dispatch. Failures are logged and dropped;
// the schedule's cadence is owned by the timer, never by dispatch outcomes.
func (r *Registry) execute(cmd FireCommand) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("dispatch panic recovered",
				"schedule_id", cmd.ScheduleID,
				"panic", rec)
		}
	}()

	s, err := r.store.Get(cmd.ScheduleID)
	if err != nil {
		r.logger.Warn("fired schedule no longer exists",
			"schedule_id", cmd.ScheduleID)
		return
	}
	if !s.Enabled {
		// Disabled while the command sat in the inbox
		r.logger.Info("skipping dispatch for disabled schedule",
			"schedule_id", s.ID,
			"name", s.Name)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.config.DispatchTimeout)
	defer cancel()

	batchIDs, err := r.submitter.SubmitScheduled(ctx, s.TenantID, s.StoreID, s.Target, s.Options.BatchSize)
	if err != nil {
		r.logger.Error("scheduled dispatch failed",
			"schedule_id", s.ID,
			"name", s.Name,
			"error", err)
		return
	}

	r.logger.Info("scheduled dispatch complete",
		"schedule_id", s.ID,
		"name", s.Name,
		"job_type", string(s.JobType),
		"batches", len(batchIDs),
		"fired_at", cmd.FiredAt)
}
