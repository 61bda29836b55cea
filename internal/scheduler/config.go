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
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pgedge/tablehash/internal/consistency/mtree"
	"github.com/pgedge/tablehash/pkg/config"
	"github.com/pgedge/tablehash/pkg/logger"
)

// TaskFactory returns a task preconfigured with the store, digester
// and hashing defaults.
type TaskFactory func() *mtree.MerkleTask

type scheduleSpec struct {
	frequency time.Duration
	cron      string
}

func BuildJobsFromConfig(cfg *config.Config, newTask TaskFactory) ([]Job, error) {
	if cfg == nil {
		return nil, fmt.Errorf("scheduler: configuration is not initialised")
	}
	if newTask == nil {
		return nil, fmt.Errorf("scheduler: no task factory")
	}

	jobDefs := make(map[string]config.JobDef, len(cfg.ScheduleJobs))
	for _, def := range cfg.ScheduleJobs {
		jobDefs[def.Name] = def
	}

	var jobs []Job
	for _, sched := range cfg.ScheduleConfig {
		if !sched.Enabled {
			continue
		}
		def, ok := jobDefs[sched.JobName]
		if !ok {
			return nil, fmt.Errorf("scheduler: job definition %q not found", sched.JobName)
		}
		spec, err := specFromConfig(sched)
		if err != nil {
			return nil, fmt.Errorf("scheduler: job %q: %w", def.Name, err)
		}
		job, err := buildCompareJob(def, spec, newTask)
		if err != nil {
			return nil, fmt.Errorf("scheduler: job %q: %w", def.Name, err)
		}
		jobs = append(jobs, job)
	}

	return jobs, nil
}

func specFromConfig(def config.SchedDef) (scheduleSpec, error) {
	var spec scheduleSpec

	if strings.TrimSpace(def.CrontabSchedule) != "" {
		spec.cron = def.CrontabSchedule
	}
	if strings.TrimSpace(def.RunFrequency) != "" {
		freq, err := ParseFrequency(def.RunFrequency)
		if err != nil {
			return scheduleSpec{}, err
		}
		spec.frequency = freq
	}

	if spec.cron == "" && spec.frequency == 0 {
		return scheduleSpec{}, fmt.Errorf("either run_frequency or crontab_schedule must be set")
	}
	if spec.cron != "" && spec.frequency > 0 {
		return scheduleSpec{}, fmt.Errorf("cannot set both run_frequency and crontab_schedule")
	}

	return spec, nil
}

// buildCompareJob compares the job's tables on every tick. Output tables
// are dropped after each run so the next one can recreate them.
func buildCompareJob(def config.JobDef, spec scheduleSpec, newTask TaskFactory) (Job, error) {
	var tables []string
	for _, t := range def.Tables {
		if t = strings.TrimSpace(t); t != "" {
			tables = append(tables, t)
		}
	}
	if len(tables) == 0 {
		return Job{}, fmt.Errorf("tables are required for compare jobs")
	}

	name := def.Name
	if strings.TrimSpace(name) == "" {
		name = "compare:" + strings.Join(tables, ",")
	}

	var timeout time.Duration
	if raw := stringArg(def.Args, "timeout"); raw != "" {
		d, err := ParseFrequency(raw)
		if err != nil {
			return Job{}, fmt.Errorf("invalid timeout for job %s: %w", name, err)
		}
		timeout = d
	}

	return Job{
		Name:       name,
		Frequency:  spec.frequency,
		Cron:       spec.cron,
		RunOnStart: boolArg(def.Args, "run_on_start", true),
		Timeout:    timeout,
		Task: func(ctx context.Context) error {
			task := newTask()
			task.Ctx = ctx
			task.Tables = tables
			task.Cleanup = true
			applyArgs(task, def.Args)

			if err := task.CompareTables(); err != nil {
				return fmt.Errorf("execution failed: %w", err)
			}
			out := task.CompareResult
			if !out.Match {
				for _, th := range out.Tables {
					logger.Warn("scheduler: job %s: %s %s", name, th.Table, th.Hash)
				}
				logger.Warn("scheduler: job %s: root hashes differ", name)
				return nil
			}
			logger.Info("scheduler: job %s: %d tables match (%s)", name, len(out.Tables), out.TimeTaken)
			return nil
		},
	}, nil
}

func applyArgs(task *mtree.MerkleTask, args map[string]any) {
	if v := stringArg(args, "algorithm"); v != "" {
		task.Algorithm = v
	}
	if v := intArg(args, "num_threads", 0); v > 0 {
		task.NumWorkers = v
	}
	if v := stringArg(args, "output_suffix"); v != "" {
		task.OutputSuffix = v
	}
	if v := stringArg(args, "reference_table"); v != "" {
		task.ReferenceTable = v
	}
	if path := stringArg(args, "taskstore_path"); path != "" {
		task.TaskStorePath = path
	}
	task.SkipCoverCheck = boolArg(args, "skip_cover_check", task.SkipCoverCheck)
	task.SkipDBUpdate = boolArg(args, "skip_db_update", task.SkipDBUpdate)
}

func stringArg(args map[string]any, key string) string {
	if args == nil {
		return ""
	}
	if val, ok := args[key]; ok {
		switch v := val.(type) {
		case string:
			return v
		case fmt.Stringer:
			return v.String()
		default:
			return fmt.Sprintf("%v", v)
		}
	}
	return ""
}

func boolArg(args map[string]any, key string, defaultVal bool) bool {
	if args == nil {
		return defaultVal
	}
	if val, ok := args[key]; ok {
		switch v := val.(type) {
		case bool:
			return v
		case string:
			parsed, err := strconv.ParseBool(v)
			if err == nil {
				return parsed
			}
		case float64:
			return v != 0
		case int:
			return v != 0
		}
	}
	return defaultVal
}

func intArg(args map[string]any, key string, defaultVal int) int {
	if args == nil {
		return defaultVal
	}
	if val, ok := args[key]; ok {
		switch v := val.(type) {
		case int:
			return v
		case int64:
			return int(v)
		case float64:
			return int(v)
		case string:
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return defaultVal
}
