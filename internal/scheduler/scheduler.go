package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/logging"
)

// Task is one unit of background work: a feed refresh or a retention prune.
type Task func(ctx context.Context) error

type JobConfig struct {
	Name         string
	Schedule     string
	Timeout      time.Duration
	AllowOverlap bool
	RunOnStart   bool
}

type JobStatus struct {
	Name      string    `json:"name"`
	Schedule  string    `json:"schedule"`
	NextRun   time.Time `json:"next_run,omitempty"`
	LastRun   time.Time `json:"last_run,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	Running   bool      `json:"running"`
}

// Scheduler runs tasks on cron schedules. Each run gets its own timeout,
// overlapping runs are skipped unless allowed, and a panicking task is
// logged instead of taking the daemon down.
type Scheduler struct {
	logger *logging.Logger
	cron   *cron.Cron
	mu     sync.Mutex
	jobs   map[string]*job
	ctx    context.Context
}

func New(logger *logging.Logger) *Scheduler {
	return &Scheduler{
		logger: logger,
		cron:   cron.New(cron.WithLogger(cronLogger{logger})),
		jobs:   make(map[string]*job),
		ctx:    context.Background(),
	}
}

func (s *Scheduler) AddJob(cfg JobConfig, task Task) error {
	if cfg.Name == "" {
		return fmt.Errorf("job name is required")
	}
	if task == nil {
		return fmt.Errorf("job %q has no task", cfg.Name)
	}
	sched, err := parseSchedule(cfg.Schedule)
	if err != nil {
		return err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[cfg.Name]; exists {
		return fmt.Errorf("job %q already exists", cfg.Name)
	}

	j := &job{cfg: cfg, task: task}
	j.entry = s.cron.Schedule(sched, cron.FuncJob(func() { s.executeJob(s.baseContext(), j) }))
	s.jobs[cfg.Name] = j
	return nil
}

func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	var onStart []*job
	for _, j := range s.jobs {
		if j.cfg.RunOnStart {
			onStart = append(onStart, j)
		}
	}
	s.mu.Unlock()

	for _, j := range onStart {
		go s.executeJob(ctx, j)
	}
	s.cron.Start()
}

// Stop halts the schedule and waits for running jobs to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// RunOnce executes a job immediately, outside its schedule.
func (s *Scheduler) RunOnce(ctx context.Context, name string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %q not found", name)
	}
	return s.executeJob(ctx, j)
}

func (s *Scheduler) NextRun(name string) time.Time {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}
	}
	return s.cron.Entry(j.entry).Next
}

func (s *Scheduler) ListJobs() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobStatus, 0, len(s.jobs))
	for _, j := range s.jobs {
		status := j.status()
		status.NextRun = s.cron.Entry(j.entry).Next
		out = append(out, status)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

func (s *Scheduler) baseContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

func (s *Scheduler) executeJob(ctx context.Context, j *job) (err error) {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if !j.cfg.AllowOverlap {
		if !j.running.CompareAndSwap(false, true) {
			s.logger.Warn("job skipped due to overlap", logging.F("job", j.cfg.Name))
			return fmt.Errorf("job %q is already running", j.cfg.Name)
		}
		defer j.running.Store(false)
	}

	runCtx, cancel := context.WithTimeout(ctx, j.cfg.Timeout)
	defer cancel()

	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("job panic recovered",
				logging.F("job", j.cfg.Name),
				logging.F("panic", r),
				logging.F("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("job %q panicked: %v", j.cfg.Name, r)
		}
		j.record(started, err)
	}()

	err = j.task(runCtx)
	finished := time.Now()

	if err != nil {
		s.logger.Error("job failed",
			logging.F("job", j.cfg.Name),
			logging.F("error", err.Error()),
			logging.F("duration", finished.Sub(started).String()),
		)
		return err
	}

	s.logger.Info("job completed",
		logging.F("job", j.cfg.Name),
		logging.F("duration", finished.Sub(started).String()),
	)
	return nil
}

type job struct {
	cfg     JobConfig
	task    Task
	entry   cron.EntryID
	running atomic.Bool

	mu      sync.Mutex
	lastRun time.Time
	lastErr string
}

func (j *job) record(started time.Time, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.lastRun = started
	j.lastErr = ""
	if err != nil {
		j.lastErr = err.Error()
	}
}

func (j *job) status() JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return JobStatus{
		Name:      j.cfg.Name,
		Schedule:  j.cfg.Schedule,
		LastRun:   j.lastRun,
		LastError: j.lastErr,
		Running:   j.running.Load(),
	}
}

// parseSchedule accepts standard five-field cron expressions, descriptors
// such as @daily, "@every <duration>" and a bare duration.
func parseSchedule(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("schedule is required")
	}
	if interval, err := time.ParseDuration(expr); err == nil {
		if interval <= 0 {
			return nil, fmt.Errorf("schedule interval must be positive")
		}
		return cron.Every(interval), nil
	}
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("unsupported schedule %q: %w", expr, err)
	}
	return sched, nil
}

// cronLogger routes cron's internal messages to the daemon logger.
type cronLogger struct {
	logger *logging.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.logger.Debug("cron: "+msg, fields(keysAndValues)...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.logger.Error("cron: "+msg, append(fields(keysAndValues), logging.F("error", err.Error()))...)
}

func fields(kv []interface{}) []logging.Field {
	out := make([]logging.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logging.F(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
