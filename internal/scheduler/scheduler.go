// ///////////////////////////////////////////////////////////////////////////
//
// # TableHash - Merkle digests for sorted tables
//
// Copyright (C) 2023 - 2026, pgEdge (https://www.pgedge.com/)
//
// This software is released under the PostgreSQL License:
// https://opensource.org/license/postgresql
//
// ///////////////////////////////////////////////////////////////////////////

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/pgedge/tablehash/pkg/logger"
)

type Job struct {
	Name       string
	Frequency  time.Duration
	Cron       string
	RunOnStart bool
	// Timeout bounds a single run; zero means the run may take as long as
	// the scheduler lives.
	Timeout time.Duration
	Task    func(context.Context) error
}

func (j Job) definition() (gocron.JobDefinition, error) {
	switch {
	case j.Task == nil:
		return nil, fmt.Errorf("scheduler: job %q has no task", j.Name)
	case j.Cron != "":
		return gocron.CronJob(j.Cron, false), nil
	case j.Frequency > 0:
		return gocron.DurationJob(j.Frequency), nil
	default:
		return nil, fmt.Errorf("scheduler: job %q requires either frequency or cron", j.Name)
	}
}

// JobStatus summarises the runs of one job so far.
type JobStatus struct {
	Name     string
	Runs     int
	Failures int
	LastRun  time.Time
	LastErr  error
}

type Manager struct {
	scheduler gocron.Scheduler
	jobs      []Job

	mu     sync.Mutex
	status map[string]*JobStatus
}

func NewManager() (*Manager, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	return &Manager{scheduler: sched, status: make(map[string]*JobStatus)}, nil
}

func (m *Manager) AddJob(job Job) {
	m.jobs = append(m.jobs, job)
}

// Status returns a snapshot ordered by job name.
func (m *Manager) Status() []JobStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]JobStatus, 0, len(m.status))
	for _, st := range m.status {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (m *Manager) record(name string, at time.Time, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.status[name]
	if !ok {
		st = &JobStatus{Name: name}
		m.status[name] = st
	}
	st.Runs++
	st.LastRun = at
	st.LastErr = err
	if err != nil {
		st.Failures++
	}
}

func (m *Manager) runOnce(ctx context.Context, job Job) {
	if ctx.Err() != nil {
		return
	}
	runCtx := ctx
	if job.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}
	start := time.Now()
	err := job.Task(runCtx)
	if err != nil {
		logger.Error("scheduler: job %s failed: %v", job.Name, err)
	} else {
		logger.Debug("scheduler: job %s finished in %s", job.Name, time.Since(start).Round(time.Millisecond))
	}
	m.record(job.Name, start, err)
}

// Run schedules every job and blocks until ctx is done. A comparison that
// is still running when its next tick arrives is rescheduled, never run
// concurrently with itself: both runs would create the same output tables.
func (m *Manager) Run(ctx context.Context) error {
	if len(m.jobs) == 0 {
		logger.Info("scheduler: no jobs registered; exiting")
		return nil
	}

	defs := make([]gocron.JobDefinition, len(m.jobs))
	for i, job := range m.jobs {
		def, err := job.definition()
		if err != nil {
			return err
		}
		defs[i] = def
	}

	for i, job := range m.jobs {
		opts := []gocron.JobOption{
			gocron.WithName(job.Name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		}
		if job.RunOnStart {
			opts = append(opts, gocron.WithStartAt(gocron.WithStartImmediately()))
		}

		gJob, err := m.scheduler.NewJob(defs[i], gocron.NewTask(func() { m.runOnce(ctx, job) }), opts...)
		if err != nil {
			_ = m.scheduler.Shutdown()
			return fmt.Errorf("scheduler: schedule job %q: %w", job.Name, err)
		}
		logger.Info("scheduler: job %s scheduled (ID: %s)", job.Name, gJob.ID())
	}

	m.scheduler.Start()
	<-ctx.Done()
	logger.Info("scheduler: shutting down")
	if err := m.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("scheduler shutdown: %w", err)
	}
	for _, st := range m.Status() {
		logger.Info("scheduler: job %s ran %d times, %d failed", st.Name, st.Runs, st.Failures)
	}
	return nil
}

func RunJobs(ctx context.Context, jobs []Job) error {
	manager, err := NewManager()
	if err != nil {
		return err
	}
	for _, job := range jobs {
		manager.AddJob(job)
	}
	return manager.Run(ctx)
}

func ParseFrequency(raw string) (time.Duration, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, errors.New("frequency string cannot be empty")
	}
	d, err := time.ParseDuration(trimmed)
	if err != nil {
		return 0, fmt.Errorf("parse frequency %q: %w", raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("frequency must be positive: %s", raw)
	}
	return d, nil
}
