package cron

import (
	"context"
	"fmt"
	"strings"
)

// Job is one reconciliation sweep. Names double as metric labels and as the
// values accepted by the cron-worker -jobs flag.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Registry holds jobs in run order.
type Registry struct {
	jobs  []Job
	index map[string]Job
}

// NewRegistry registers jobs in the given order. Nil entries are skipped and a
// repeated name is an error.
func NewRegistry(jobs ...Job) (*Registry, error) {
	r := &Registry{index: make(map[string]Job, len(jobs))}
	for _, job := range jobs {
		if err := r.Register(job); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// CartJobs are the reconciliation sweeps the cron worker runs each tick.
type CartJobs struct {
	Expiry      Job
	Abandonment Job
	Collapse    Job
	Retention   Job
}

// NewCartRegistry registers the sweeps in run order. Expiry goes first so
// carts it migrates are aged by abandonment and settled by collapse within
// the same tick; retention trims the outbox rows the others wrote last.
func NewCartRegistry(jobs CartJobs) (*Registry, error) {
	return NewRegistry(jobs.Expiry, jobs.Abandonment, jobs.Collapse, jobs.Retention)
}

func (r *Registry) Register(job Job) error {
	if job == nil {
		return nil
	}
	name := job.Name()
	if name == "" {
		return fmt.Errorf("cron job %T has no name", job)
	}
	if _, ok := r.index[name]; ok {
		return fmt.Errorf("cron job %q registered twice", name)
	}
	r.index[name] = job
	r.jobs = append(r.jobs, job)
	return nil
}

// Jobs returns a copy of the registered jobs in run order.
func (r *Registry) Jobs() []Job {
	return append([]Job(nil), r.jobs...)
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.jobs))
	for _, job := range r.jobs {
		names = append(names, job.Name())
	}
	return names
}

// Select narrows the registry to the named jobs, keeping registration order.
// An empty selection returns every job.
func (r *Registry) Select(names ...string) ([]Job, error) {
	if len(names) == 0 {
		return r.Jobs(), nil
	}
	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := r.index[name]; !ok {
			return nil, fmt.Errorf("unknown cron job %q (have %s)", name, strings.Join(r.Names(), ", "))
		}
		wanted[name] = true
	}
	selected := make([]Job, 0, len(wanted))
	for _, job := range r.jobs {
		if wanted[job.Name()] {
			selected = append(selected, job)
		}
	}
	return selected, nil
}
