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

package mtree

import (
	"encoding/hex"
	"fmt"
	"io"
	"sync"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/pgedge/tablehash/pkg/logger"
	"github.com/pgedge/tablehash/pkg/types"
)

// Observer receives progress from a hashing run. RangeHashed is called
// concurrently from the worker goroutines.
type Observer interface {
	RunStarted(table string, ranges int)
	RangeHashed(table string, r types.KeyRange, digest []byte, entries int64)
	RunFinished(table string, res RunResult, err error)
}

type NopObserver struct{}

func (NopObserver) RunStarted(string, int)                            {}
func (NopObserver) RangeHashed(string, types.KeyRange, []byte, int64) {}
func (NopObserver) RunFinished(string, RunResult, error)              {}

// LogObserver writes one debug line per computed range.
type LogObserver struct{}

func (LogObserver) RunStarted(table string, ranges int) {
	logger.Info("hashing %s across %d ranges", table, ranges)
}

func (LogObserver) RangeHashed(table string, r types.KeyRange, digest []byte, entries int64) {
	logger.Debug("computed digest for %s of %s (%d entries)", r, hex.EncodeToString(digest), entries)
}

func (LogObserver) RunFinished(table string, res RunResult, err error) {
	switch {
	case err != nil:
		logger.Warn("hashing %s stopped after %d of %d ranges: %v", table, res.Leaves, res.Ranges, err)
	default:
		logger.Info("hashed %s: %d ranges, %d entries", table, res.Leaves, res.Entries)
	}
}

// ProgressObserver draws a progress bar per run.
type ProgressObserver struct {
	out io.Writer

	mu       sync.Mutex
	progress *mpb.Progress
	bar      *mpb.Bar
}

func NewProgressObserver(out io.Writer) *ProgressObserver {
	return &ProgressObserver{out: out}
}

func (p *ProgressObserver) RunStarted(table string, ranges int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.progress = mpb.New(mpb.WithOutput(p.out))
	p.bar = p.progress.AddBar(int64(ranges),
		mpb.BarRemoveOnComplete(),
		mpb.PrependDecorators(
			decor.Name(fmt.Sprintf("Hashing %s", table), decor.WC{W: 25}),
			decor.CountersNoUnit("%d / %d", decor.WCSyncWidth),
		),
		mpb.AppendDecorators(
			decor.Elapsed(decor.ET_STYLE_GO),
			decor.Name(" | "),
			decor.OnComplete(decor.AverageETA(decor.ET_STYLE_GO), "done"),
		),
	)
}

func (p *ProgressObserver) RangeHashed(string, types.KeyRange, []byte, int64) {
	p.mu.Lock()
	bar := p.bar
	p.mu.Unlock()
	if bar != nil {
		bar.Increment()
	}
}

func (p *ProgressObserver) RunFinished(_ string, _ RunResult, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.progress == nil {
		return
	}
	if err != nil {
		p.bar.Abort(true)
	}
	p.progress.Wait()
	p.progress, p.bar = nil, nil
}

// MultiObserver fans events out to each observer in order.
type MultiObserver []Observer

func (m MultiObserver) RunStarted(table string, ranges int) {
	for _, o := range m {
		o.RunStarted(table, ranges)
	}
}

func (m MultiObserver) RangeHashed(table string, r types.KeyRange, digest []byte, entries int64) {
	for _, o := range m {
		o.RangeHashed(table, r, digest, entries)
	}
}

func (m MultiObserver) RunFinished(table string, res RunResult, err error) {
	for _, o := range m {
		o.RunFinished(table, res, err)
	}
}
