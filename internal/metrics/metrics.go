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

// Package metrics exports hashing progress to Prometheus.
package metrics

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pgedge/tablehash/internal/consistency/mtree"
	"github.com/pgedge/tablehash/pkg/types"
)

// Recorder is an mtree.Observer backed by Prometheus collectors.
type Recorder struct {
	gatherer prometheus.Gatherer

	runs         *prometheus.CounterVec
	rangesHashed *prometheus.CounterVec
	entries      *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	inProgress   prometheus.Gauge

	mu     sync.Mutex
	starts map[string]time.Time
}

var _ mtree.Observer = (*Recorder)(nil)

// NewRecorder registers collectors with reg. A nil reg gets a private
// registry.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	r := &Recorder{
		gatherer: reg,
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tablehash_runs_total",
			Help: "Hashing runs grouped by outcome",
		}, []string{"table", "result"}),
		rangesHashed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tablehash_ranges_hashed_total",
			Help: "Leaf digests written",
		}, []string{"table"}),
		entries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tablehash_entries_scanned_total",
			Help: "Entries fed into leaf digests",
		}, []string{"table"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tablehash_run_duration_seconds",
			Help:    "Wall time of hashing runs",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
		}, []string{"result"}),
		inProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tablehash_runs_in_progress",
			Help: "Hashing runs currently executing",
		}),
		starts: make(map[string]time.Time),
	}
	reg.MustRegister(r.runs, r.rangesHashed, r.entries, r.runDuration, r.inProgress)
	return r
}

func (r *Recorder) RunStarted(table string, _ int) {
	r.mu.Lock()
	r.starts[table] = time.Now()
	r.mu.Unlock()
	r.inProgress.Inc()
}

func (r *Recorder) RangeHashed(table string, _ types.KeyRange, _ []byte, entries int64) {
	r.rangesHashed.WithLabelValues(table).Inc()
	r.entries.WithLabelValues(table).Add(float64(entries))
}

func (r *Recorder) RunFinished(table string, _ mtree.RunResult, err error) {
	result := resultLabel(err)
	r.runs.WithLabelValues(table, result).Inc()
	r.inProgress.Dec()

	r.mu.Lock()
	start, ok := r.starts[table]
	delete(r.starts, table)
	r.mu.Unlock()
	if ok {
		r.runDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())
	}
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, mtree.ErrCancelled):
		return "cancelled"
	default:
		return "failure"
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}
