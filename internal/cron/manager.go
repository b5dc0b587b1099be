// Package cron runs named tasks on cron schedules and keeps per-job run state
// in memory for status queries and manual triggers.
package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	robfig "github.com/robfig/cron/v3"

	"github.com/at-ishikawa/langner-review/internal/apperrors"
)

// TaskFunc is the unit of work a job runs.
type TaskFunc func(ctx context.Context) error

// JobSpec describes when a job runs and which task it runs.
type JobSpec struct {
	// Schedule is a 5-field cron expression or a descriptor such as @daily or @every 1h.
	Schedule string
	TaskName string
	Enabled  bool
	// Timezone is an IANA name. Empty means UTC.
	Timezone string
}

// RunResult is the outcome of the last completed run of a job.
type RunResult struct {
	Success bool   `json:"success" yaml:"success"`
	Error   string `json:"error,omitempty" yaml:"error,omitempty"`
}

// TriggerResult is the outcome of a manual trigger.
type TriggerResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Skipped bool   `json:"skipped,omitempty"`
	// Err keeps the classified error for callers that map it to a status.
	Err error `json:"-"`
}

// JobStatus is a snapshot of a job.
type JobStatus struct {
	Name           string     `json:"name" yaml:"name"`
	Schedule       string     `json:"schedule" yaml:"schedule"`
	Timezone       string     `json:"timezone" yaml:"timezone"`
	TaskName       string     `json:"task" yaml:"task"`
	Enabled        bool       `json:"enabled" yaml:"enabled"`
	Running        bool       `json:"running" yaml:"running"`
	LastRunAt      *time.Time `json:"lastRunAt,omitempty" yaml:"lastRunAt,omitempty"`
	LastResult     *RunResult `json:"lastResult,omitempty" yaml:"lastResult,omitempty"`
	NextRunAt      *time.Time `json:"nextRunAt,omitempty" yaml:"nextRunAt,omitempty"`
	RunCount       int        `json:"runCount" yaml:"runCount"`
	LastDurationMs int64      `json:"lastDurationMs" yaml:"lastDurationMs"`
	SkippedRuns    int        `json:"skippedRuns" yaml:"skippedRuns"`
	LastSkippedAt  *time.Time `json:"lastSkippedAt,omitempty" yaml:"lastSkippedAt,omitempty"`
}

type job struct {
	name     string
	spec     JobSpec
	schedule robfig.Schedule
	entryID  robfig.EntryID

	running       bool
	lastRunAt     *time.Time
	lastResult    *RunResult
	runCount      int
	lastDuration  time.Duration
	skippedRuns   int
	lastSkippedAt *time.Time
}

// Manager schedules jobs. The zero value is not usable; use NewManager.
type Manager struct {
	mu      sync.Mutex
	tasks   map[string]TaskFunc
	jobs    map[string]*job
	cron    *robfig.Cron
	started bool
	now     func() time.Time

	// inflight counts running tasks, scheduled and manual
	inflight int
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the clock used for recorded timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{
		tasks: make(map[string]TaskFunc),
		jobs:  make(map[string]*job),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.cron = robfig.New(
		robfig.WithLocation(time.UTC),
		robfig.WithLogger(slogLogger{}),
	)
	return m
}

// RegisterTask makes fn available to jobs under name. Registering the same
// name again replaces the task for subsequent runs.
func (m *Manager) RegisterTask(name string, fn TaskFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[name] = fn
}

// ParseSchedule validates a schedule in the given timezone.
func ParseSchedule(schedule, timezone string) (robfig.Schedule, error) {
	if timezone == "" {
		timezone = "UTC"
	}
	if _, err := time.LoadLocation(timezone); err != nil {
		return nil, apperrors.Validation("invalid timezone %q: %v", timezone, err)
	}
	sched, err := robfig.ParseStandard("CRON_TZ=" + timezone + " " + schedule)
	if err != nil {
		return nil, apperrors.Validation("invalid cron expression %q: %v", schedule, err)
	}
	return sched, nil
}

// AddJob adds or replaces a job. If the manager is started and the job is
// enabled it is scheduled immediately.
func (m *Manager) AddJob(name string, spec JobSpec) error {
	if name == "" {
		return apperrors.Validation("job name is required")
	}
	if spec.Timezone == "" {
		spec.Timezone = "UTC"
	}
	sched, err := ParseSchedule(spec.Schedule, spec.Timezone)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[spec.TaskName]; !ok {
		return apperrors.Validation("task %q is not registered", spec.TaskName)
	}

	j := &job{name: name, spec: spec, schedule: sched}
	if old, ok := m.jobs[name]; ok {
		m.unscheduleLocked(old)
		j.running = old.running
		j.lastRunAt = old.lastRunAt
		j.lastResult = old.lastResult
		j.runCount = old.runCount
		j.lastDuration = old.lastDuration
		j.skippedRuns = old.skippedRuns
		j.lastSkippedAt = old.lastSkippedAt
	}
	m.jobs[name] = j
	if m.started && spec.Enabled {
		m.scheduleLocked(j)
	}
	slog.Default().Debug("cron job added",
		"job", name,
		"schedule", spec.Schedule,
		"timezone", spec.Timezone,
		"enabled", spec.Enabled)
	return nil
}

// SetEnabled enables or disables a job.
func (m *Manager) SetEnabled(name string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[name]
	if !ok {
		return apperrors.NotFound("job", name)
	}
	if j.spec.Enabled == enabled {
		return nil
	}
	j.spec.Enabled = enabled
	if !m.started {
		return nil
	}
	if enabled {
		m.scheduleLocked(j)
	} else {
		m.unscheduleLocked(j)
	}
	return nil
}

// StartAll starts the timers of every enabled job. Calling it twice is a no-op.
func (m *Manager) StartAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	for _, j := range m.jobs {
		if j.spec.Enabled {
			m.scheduleLocked(j)
		}
	}
	m.started = true
	m.cron.Start()
	slog.Default().Info("cron scheduler started", "jobs", len(m.jobs))
}

// StopAll stops every timer and waits for in-flight runs until ctx is done.
// Scheduled runs that fire after it is called are dropped.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	var stopped context.Context
	if m.started {
		stopped = m.cron.Stop()
		for _, j := range m.jobs {
			m.unscheduleLocked(j)
		}
		m.started = false
	}
	m.mu.Unlock()

	if stopped != nil {
		select {
		case <-stopped.Done():
		case <-ctx.Done():
			return fmt.Errorf("waiting for cron timers to stop: %w", ctx.Err())
		}
	}

	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()
	for {
		m.mu.Lock()
		inflight := m.inflight
		m.mu.Unlock()
		if inflight == 0 {
			slog.Default().Info("cron scheduler stopped")
			return nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return fmt.Errorf("waiting for %d running cron jobs: %w", inflight, ctx.Err())
		}
	}
}

const drainPollInterval = 10 * time.Millisecond

// TriggerJob runs a job now and waits for it. It never panics; failures are
// reported in the result.
func (m *Manager) TriggerJob(ctx context.Context, name string) TriggerResult {
	m.mu.Lock()
	_, ok := m.jobs[name]
	m.mu.Unlock()
	if !ok {
		err := apperrors.NotFound("job", name)
		return TriggerResult{Error: err.Error(), Err: err}
	}

	result, ran := m.run(ctx, name, triggerManual)
	if !ran {
		return TriggerResult{Skipped: true, Error: "job is already running"}
	}
	return result
}

// GetJobStatus returns the status of one job.
func (m *Manager) GetJobStatus(name string) (JobStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[name]
	if !ok {
		return JobStatus{}, apperrors.NotFound("job", name)
	}
	return m.statusLocked(j), nil
}

// GetAllJobsStatus returns the status of every job ordered by name.
func (m *Manager) GetAllJobsStatus() []JobStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	statuses := make([]JobStatus, 0, len(m.jobs))
	for _, j := range m.jobs {
		statuses = append(statuses, m.statusLocked(j))
	}
	sort.Slice(statuses, func(i, k int) bool {
		return statuses[i].Name < statuses[k].Name
	})
	return statuses
}

func (m *Manager) statusLocked(j *job) JobStatus {
	status := JobStatus{
		Name:           j.name,
		Schedule:       j.spec.Schedule,
		Timezone:       j.spec.Timezone,
		TaskName:       j.spec.TaskName,
		Enabled:        j.spec.Enabled,
		Running:        j.running,
		LastRunAt:      j.lastRunAt,
		RunCount:       j.runCount,
		LastDurationMs: j.lastDuration.Milliseconds(),
		SkippedRuns:    j.skippedRuns,
		LastSkippedAt:  j.lastSkippedAt,
	}
	if j.lastResult != nil {
		r := *j.lastResult
		status.LastResult = &r
	}
	if m.started && j.spec.Enabled {
		next := j.schedule.Next(m.now())
		if j.entryID != 0 {
			if e := m.cron.Entry(j.entryID); !e.Next.IsZero() {
				next = e.Next
			}
		}
		status.NextRunAt = &next
	}
	return status
}

func (m *Manager) scheduleLocked(j *job) {
	if j.entryID != 0 {
		return
	}
	name := j.name
	j.entryID = m.cron.Schedule(j.schedule, robfig.FuncJob(func() {
		m.run(context.Background(), name, triggerSchedule)
	}))
}

func (m *Manager) unscheduleLocked(j *job) {
	if j.entryID == 0 {
		return
	}
	m.cron.Remove(j.entryID)
	j.entryID = 0
}

const (
	triggerSchedule = "schedule"
	triggerManual   = "manual"
)

// run executes the job's task unless a run is already in flight. The second
// return value is false when the run was skipped.
func (m *Manager) run(ctx context.Context, name, trigger string) (TriggerResult, bool) {
	m.mu.Lock()
	j, ok := m.jobs[name]
	if !ok {
		m.mu.Unlock()
		return TriggerResult{}, false
	}
	if trigger == triggerSchedule && !m.started {
		m.mu.Unlock()
		slog.Default().Debug("cron scheduler stopped, dropping scheduled run", "job", name)
		return TriggerResult{}, false
	}
	if j.running {
		at := m.now()
		j.skippedRuns++
		j.lastSkippedAt = &at
		m.mu.Unlock()
		slog.Default().Warn("cron job still running, skipping run",
			"job", name,
			"trigger", trigger)
		return TriggerResult{}, false
	}
	task := m.tasks[j.spec.TaskName]
	j.running = true
	m.inflight++
	m.mu.Unlock()

	startedAt := m.now()
	slog.Default().Info("cron job started", "job", name, "trigger", trigger)
	err := runTask(ctx, task)
	duration := m.now().Sub(startedAt)

	result := TriggerResult{Success: err == nil}
	if err != nil {
		result.Err = apperrors.TaskExecution(name, err)
		result.Error = result.Err.Error()
		slog.Default().Error("cron job failed",
			"job", name,
			"trigger", trigger,
			"duration", duration,
			"error", err)
	} else {
		slog.Default().Info("cron job finished",
			"job", name,
			"trigger", trigger,
			"duration", duration)
	}

	m.mu.Lock()
	// the job may have been replaced by AddJob while it ran
	if cur, ok := m.jobs[name]; ok {
		j = cur
	}
	j.running = false
	m.inflight--
	j.runCount++
	j.lastRunAt = &startedAt
	j.lastDuration = duration
	j.lastResult = &RunResult{Success: result.Success, Error: result.Error}
	m.mu.Unlock()
	return result, true
}

func runTask(ctx context.Context, task TaskFunc) (err error) {
	if task == nil {
		return fmt.Errorf("no task registered")
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return task(ctx)
}

// slogLogger adapts slog to the robfig/cron logger.
type slogLogger struct{}

func (slogLogger) Info(msg string, keysAndValues ...any) {
	slog.Default().Debug("cron: "+msg, keysAndValues...)
}

func (slogLogger) Error(err error, msg string, keysAndValues ...any) {
	slog.Default().Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
