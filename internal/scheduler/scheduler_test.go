package scheduler

import (
	"context"
	"testing"

	"discord-file-relay/internal/config"
)

// dummySweeper implements Sweeper but does nothing
type dummySweeper struct {
	calls int
}

func (d *dummySweeper) RefreshExpired(ctx context.Context) (int, error) {
	d.calls++
	return 0, nil
}

func TestSchedulerRestart(t *testing.T) {
	cfg := &config.SchedulerConfig{IntervalMinutes: 60}
	sched := NewScheduler(cfg, &dummySweeper{})

	if err := sched.Start(); err != nil {
		t.Fatalf("first start failed: %v", err)
	}
	if !sched.IsRunning() {
		t.Fatalf("scheduler should be running after Start")
	}
	if err := sched.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if sched.IsRunning() {
		t.Fatalf("scheduler should not be running after Stop")
	}
	if err := sched.Start(); err != nil {
		t.Fatalf("second start failed: %v", err)
	}
	if !sched.IsRunning() {
		t.Fatalf("scheduler should be running after second Start")
	}
	// context should be active
	if sched.ctx == nil || sched.ctx.Err() != nil {
		t.Fatalf("scheduler context should be active after restart")
	}
	sched.Stop()
}

func TestSchedulerDoubleStart(t *testing.T) {
	cfg := &config.SchedulerConfig{IntervalMinutes: 60}
	sched := NewScheduler(cfg, &dummySweeper{})

	if err := sched.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer sched.Stop()

	if err := sched.Start(); err == nil {
		t.Fatalf("second Start without Stop should fail")
	}
}

func TestSchedulerRunOnce(t *testing.T) {
	cfg := &config.SchedulerConfig{IntervalMinutes: 60}
	sweeper := &dummySweeper{}
	sched := NewScheduler(cfg, sweeper)

	if err := sched.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer sched.Stop()

	if err := sched.RunOnce(); err != nil {
		t.Fatalf("run once failed: %v", err)
	}
	sched.Wait()
	if sweeper.calls != 1 {
		t.Fatalf("expected exactly one sweep, got %d", sweeper.calls)
	}
}

func TestSchedulerNextRunWhenStopped(t *testing.T) {
	cfg := &config.SchedulerConfig{IntervalMinutes: 60}
	sched := NewScheduler(cfg, &dummySweeper{})

	if !sched.GetNextRun().IsZero() {
		t.Fatalf("next run should be zero while stopped")
	}

	if err := sched.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer sched.Stop()

	if sched.GetNextRun().IsZero() {
		t.Fatalf("next run should be scheduled while running")
	}
}
