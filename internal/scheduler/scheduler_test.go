package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/logging"
)

type testTask struct {
	delay  time.Duration
	panic  bool
	fail   bool
	called atomic.Int32
}

func (t *testTask) Run(ctx context.Context) error {
	t.called.Add(1)
	if t.panic {
		panic("boom")
	}
	if t.delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(t.delay):
		}
	}
	if t.fail {
		return errors.New("failed")
	}
	return nil
}

func TestParseSchedule(t *testing.T) {
	for _, expr := range []string{"@every 1s", "1s", "*/5 * * * *", "@daily", "0 3 * * 1"} {
		if _, err := parseSchedule(expr); err != nil {
			t.Fatalf("expected %q to parse: %v", expr, err)
		}
	}
	for _, expr := range []string{"", "-1s", "every day", "* * *"} {
		if _, err := parseSchedule(expr); err == nil {
			t.Fatalf("expected %q to be rejected", expr)
		}
	}
}

func TestOverlapPrevention(t *testing.T) {
	task := &testTask{delay: 100 * time.Millisecond}
	s := New(logging.Discard())
	if err := s.AddJob(JobConfig{Name: "job", Schedule: "@hourly", Timeout: time.Second}, task.Run); err != nil {
		t.Fatalf("add job: %v", err)
	}

	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		close(started)
		done <- s.RunOnce(context.Background(), "job")
	}()
	<-started
	time.Sleep(20 * time.Millisecond)

	if err := s.RunOnce(context.Background(), "job"); err == nil {
		t.Fatalf("expected overlapping run to be skipped")
	}
	if err := <-done; err != nil {
		t.Fatalf("first run: %v", err)
	}
	if got := task.called.Load(); got != 1 {
		t.Fatalf("expected one run, got %d", got)
	}
}

func TestRunOnStartAndStatus(t *testing.T) {
	task := &testTask{fail: true}
	s := New(logging.Discard())
	if err := s.AddJob(JobConfig{Name: "feeds", Schedule: "@every 1h", RunOnStart: true}, task.Run); err != nil {
		t.Fatalf("add job: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	deadline := time.Now().Add(time.Second)
	for task.called.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if task.called.Load() == 0 {
		t.Fatalf("expected job to run on start")
	}

	var status JobStatus
	for time.Now().Before(deadline) {
		if jobs := s.ListJobs(); len(jobs) == 1 && jobs[0].LastError != "" {
			status = jobs[0]
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if status.LastError != "failed" {
		t.Fatalf("expected last error to be recorded, got %+v", status)
	}
	if next := s.NextRun("feeds"); next.Before(time.Now()) {
		t.Fatalf("expected next run in the future, got %s", next)
	}
}

func TestPanicRecovery(t *testing.T) {
	task := &testTask{panic: true}
	s := New(logging.Discard())
	if err := s.AddJob(JobConfig{Name: "job", Schedule: "@daily", Timeout: 50 * time.Millisecond}, task.Run); err != nil {
		t.Fatalf("add job: %v", err)
	}
	if err := s.RunOnce(context.Background(), "job"); err == nil {
		t.Fatalf("expected panic to surface as an error")
	}
	if err := s.RunOnce(context.Background(), "job"); err == nil {
		t.Fatalf("expected second run to panic too")
	}
	if got := task.called.Load(); got != 2 {
		t.Fatalf("expected two runs, got %d", got)
	}
}

func TestTimeoutCancelsTask(t *testing.T) {
	task := &testTask{delay: time.Second}
	s := New(logging.Discard())
	if err := s.AddJob(JobConfig{Name: "slow", Schedule: "@daily", Timeout: 20 * time.Millisecond}, task.Run); err != nil {
		t.Fatalf("add job: %v", err)
	}
	err := s.RunOnce(context.Background(), "slow")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestAddJobValidation(t *testing.T) {
	s := New(logging.Discard())
	noop := func(context.Context) error { return nil }
	if err := s.AddJob(JobConfig{Schedule: "@daily"}, noop); err == nil {
		t.Fatalf("expected missing name to fail")
	}
	if err := s.AddJob(JobConfig{Name: "a", Schedule: "@daily"}, nil); err == nil {
		t.Fatalf("expected missing task to fail")
	}
	if err := s.AddJob(JobConfig{Name: "a", Schedule: "@daily"}, noop); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.AddJob(JobConfig{Name: "a", Schedule: "@daily"}, noop); err == nil {
		t.Fatalf("expected duplicate job to fail")
	}
	if err := s.RunOnce(context.Background(), "missing"); err == nil {
		t.Fatalf("expected unknown job to fail")
	}
}
