package cron

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/dualcart-backend/pkg/logger"
	"github.com/angelmondragon/dualcart-backend/pkg/metrics"
)

type fakeLock struct {
	acquired bool
	held     bool
	releases int
}

func (f *fakeLock) Acquire(context.Context) (bool, error) {
	if f.held {
		return false, nil
	}
	f.acquired = true
	return true, nil
}

func (f *fakeLock) Release(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	f.acquired = false
	f.releases++
	return nil
}

type testJob struct {
	name  string
	err   error
	panic bool
	runs  int
	run   func(ctx context.Context) error
}

func (t *testJob) Name() string { return t.name }

func (t *testJob) Run(ctx context.Context) error {
	t.runs++
	if t.panic {
		panic("boom")
	}
	if t.run != nil {
		return t.run(ctx)
	}
	return t.err
}

func newTestCronService(t *testing.T, lock Lock, reg *prometheus.Registry, jobs ...Job) *Service {
	t.Helper()
	registry, err := NewRegistry(jobs...)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	var m *metrics.CronJobMetrics
	if reg != nil {
		m = metrics.NewCronJobMetrics(reg)
	}
	service, err := NewService(ServiceParams{
		Logger:   logger.New(logger.Options{ServiceName: "cron-test", Output: io.Discard}),
		Registry: registry,
		Lock:     lock,
		Metrics:  m,
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	return service
}

func TestRunCycleRunsAllJobsEvenOnFailure(t *testing.T) {
	success := &testJob{name: "success"}
	failure := &testJob{name: "fail", err: errors.New("boom")}
	lock := &fakeLock{}
	service := newTestCronService(t, lock, nil, success, failure)

	report, err := service.runCycle(context.Background(), service.registry.Jobs())
	if err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if success.runs != 1 || failure.runs != 1 {
		t.Fatalf("expected each job once, got success=%d fail=%d", success.runs, failure.runs)
	}
	if report.Ran != 2 || len(report.Failed) != 1 || report.Failed[0] != "fail" {
		t.Fatalf("unexpected report %+v", report)
	}
	if lock.acquired || lock.releases != 1 {
		t.Fatalf("lock should be released once, got releases=%d", lock.releases)
	}
}

func TestRunCycleSkipsWhenLockHeld(t *testing.T) {
	job := &testJob{name: "expiry"}
	service := newTestCronService(t, &fakeLock{held: true}, nil, job)

	report, err := service.runCycle(context.Background(), service.registry.Jobs())
	if err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if !report.Skipped || job.runs != 0 {
		t.Fatalf("expected skipped cycle, got %+v runs=%d", report, job.runs)
	}
}

func TestPanickingJobIsRecordedAsFailure(t *testing.T) {
	reg := prometheus.NewRegistry()
	after := &testJob{name: "after"}
	service := newTestCronService(t, &fakeLock{}, reg, &testJob{name: "explodes", panic: true}, after)

	report, err := service.runCycle(context.Background(), service.registry.Jobs())
	if err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if after.runs != 1 {
		t.Fatalf("jobs after a panic should still run")
	}
	if len(report.Failed) != 1 || report.Failed[0] != "explodes" {
		t.Fatalf("unexpected report %+v", report)
	}
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != "dualcart_cron_job_runs_total" {
			continue
		}
		failures := 0.0
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "outcome" && l.GetValue() == metrics.JobFailed {
					failures += m.GetCounter().GetValue()
				}
			}
		}
		if failures != 1 {
			t.Fatalf("expected one failure, got %v", failures)
		}
		return
	}
	t.Fatalf("job runs counter not exported")
}

func TestRunOnceSelectsJobsAndReportsFailure(t *testing.T) {
	expiry := &testJob{name: "expiry"}
	retention := &testJob{name: "retention", err: errors.New("db down")}
	service := newTestCronService(t, &fakeLock{}, nil, expiry, retention)

	if _, err := service.RunOnce(context.Background(), "expiry"); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if expiry.runs != 1 || retention.runs != 0 {
		t.Fatalf("only the selected job should run")
	}

	if _, err := service.RunOnce(context.Background()); err == nil {
		t.Fatalf("expected failing job to surface an error")
	}
	if _, err := service.RunOnce(context.Background(), "nope"); err == nil {
		t.Fatalf("expected unknown job error")
	}
}

func TestJobTimeoutBoundsEachJob(t *testing.T) {
	var deadline bool
	job := &testJob{name: "slow", run: func(ctx context.Context) error {
		_, deadline = ctx.Deadline()
		return nil
	}}
	service := newTestCronService(t, &fakeLock{}, nil, job)
	service.jobTimeout = time.Second

	if _, err := service.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if !deadline {
		t.Fatalf("expected job context to carry a deadline")
	}
}

func TestLockReleasedAfterCancellation(t *testing.T) {
	lock := &fakeLock{}
	ctx, cancel := context.WithCancel(context.Background())
	job := &testJob{name: "cancels", run: func(context.Context) error {
		cancel()
		return nil
	}}
	service := newTestCronService(t, lock, nil, job, &testJob{name: "never"})

	report, err := service.runCycle(ctx, service.registry.Jobs())
	if err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if report.Ran != 1 {
		t.Fatalf("expected cycle to stop after cancellation, ran %d", report.Ran)
	}
	if lock.releases != 1 {
		t.Fatalf("expected lock release despite canceled context")
	}
}
