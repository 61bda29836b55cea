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
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pgedge/tablehash/internal/store"
	"github.com/pgedge/tablehash/pkg/logger"
	"github.com/pgedge/tablehash/pkg/taskstore"
	"github.com/pgedge/tablehash/pkg/types"
)

// MerkleTask carries the arguments of one CLI or API invocation and
// records its lifecycle in the task store.
type MerkleTask struct {
	types.Task

	Store store.Store

	Input  string
	Output string
	Tables []string
	Left   string
	Right  string

	Algorithm      string
	NumWorkers     int
	OutputSuffix   string
	ReferenceTable string
	Digester       RangeDigester
	Observer       Observer
	SkipCoverCheck bool
	Cleanup        bool

	TaskStore     *taskstore.Store
	TaskStorePath string
	SkipDBUpdate  bool

	Result        RunResult
	RootHash      string
	CompareResult types.CompareOutput
	DiffResult    types.DivergenceOutput

	Ctx context.Context
}

func NewMerkleTask() *MerkleTask {
	return &MerkleTask{
		Task: types.Task{
			TaskID:     uuid.NewString(),
			TaskStatus: taskstore.StatusPending,
		},
		NumWorkers:   DefaultNumWorkers,
		OutputSuffix: DefaultOutputSuffix,
		Ctx:          context.Background(),
	}
}

func (m *MerkleTask) runCtx() context.Context {
	if m.Ctx == nil {
		return context.Background()
	}
	return m.Ctx
}

func (m *MerkleTask) startLifecycle(taskType, table, output string, initialCtx map[string]any) (*taskstore.Recorder, time.Time) {
	start := time.Now()

	if strings.TrimSpace(m.TaskID) == "" {
		m.TaskID = uuid.NewString()
	}
	m.Task.TaskType = taskType
	m.Task.StartedAt = start
	m.Task.TaskStatus = taskstore.StatusRunning

	ctx := map[string]any{"num_threads": m.NumWorkers}
	maps.Copy(ctx, initialCtx)

	var recorder *taskstore.Recorder
	if !m.SkipDBUpdate {
		rec, recErr := taskstore.NewRecorder(m.TaskStore, m.TaskStorePath)
		if recErr != nil {
			logger.Warn("mtree: unable to initialise task store (%v)", recErr)
		} else {
			recorder = rec
			if m.TaskStore == nil && rec.Store() != nil {
				m.TaskStore = rec.Store()
			}

			record := taskstore.Record{
				TaskID:      m.TaskID,
				TaskType:    taskType,
				Status:      taskstore.StatusRunning,
				TableName:   table,
				OutputTable: output,
				Algorithm:   m.Algorithm,
				StartedAt:   start,
				TaskContext: ctx,
			}
			if err := recorder.Create(record); err != nil {
				logger.Warn("mtree: unable to write initial task status (%v)", err)
			}
		}
	}

	return recorder, start
}

func (m *MerkleTask) finishLifecycle(recorder *taskstore.Recorder, start time.Time, statusErr error, resultCtx map[string]any) {
	finished := time.Now()
	m.Task.FinishedAt = finished
	m.Task.TimeTaken = finished.Sub(start).Seconds()

	status := taskstore.StatusFailed
	switch {
	case statusErr == nil:
		status = taskstore.StatusCompleted
	case errors.Is(statusErr, ErrCancelled):
		status = taskstore.StatusCancelled
	}
	m.Task.TaskStatus = status

	if recorder != nil && recorder.Created() {
		ctx := make(map[string]any, len(resultCtx)+1)
		maps.Copy(ctx, resultCtx)
		if statusErr != nil {
			ctx["error"] = statusErr.Error()
		}

		updateErr := recorder.Update(taskstore.Record{
			TaskID:      m.TaskID,
			Status:      status,
			RootHash:    m.RootHash,
			FinishedAt:  finished,
			TimeTaken:   m.Task.TimeTaken,
			TaskContext: ctx,
		})
		if updateErr != nil {
			logger.Warn("mtree: unable to update task status (%v)", updateErr)
		}
	}

	if recorder != nil && recorder.OwnsStore() {
		storePtr := recorder.Store()
		if closeErr := recorder.Close(); closeErr != nil {
			logger.Warn("mtree: failed to close task store (%v)", closeErr)
		}
		if storePtr != nil && m.TaskStore == storePtr {
			m.TaskStore = nil
		}
	}
}

func (m *MerkleTask) validateCommon() error {
	if m.Store == nil {
		return configErr("no store configured")
	}
	if strings.TrimSpace(m.Algorithm) == "" {
		return configErr("hash algorithm is required")
	}
	if m.NumWorkers < 1 {
		return configErr("num_threads must be at least 1, got %d", m.NumWorkers)
	}
	return nil
}

func (m *MerkleTask) hasher() *RangeHasher {
	h := NewRangeHasher(m.Store, m.Algorithm, m.NumWorkers)
	h.Digester = m.Digester
	h.Observer = m.Observer
	return h
}

func (m *MerkleTask) reader() *RootHashReader {
	r := NewRootHashReader(m.Store)
	r.SkipCoverCheck = m.SkipCoverCheck
	return r
}

// GenerateHashes writes the leaf digests of Input into the existing
// Output table.
func (m *MerkleTask) GenerateHashes() (err error) {
	if err := m.validateCommon(); err != nil {
		return err
	}
	if m.Input == "" || m.Output == "" {
		return configErr("input and output tables are required")
	}

	ctx := m.runCtx()
	h := m.hasher()
	if m.ReferenceTable != "" {
		splits, err := m.Store.Splits(ctx, m.ReferenceTable)
		if err != nil {
			return fmt.Errorf("%w: reading splits of reference table %s: %w", ErrStoreAccess, m.ReferenceTable, err)
		}
		if splits == nil {
			splits = [][]byte{}
		}
		h.Splits = splits
	}

	recorder, start := m.startLifecycle(taskstore.TaskTypeGenerateHashes, m.Input, m.Output, map[string]any{
		"reference_table": m.ReferenceTable,
	})
	defer func() {
		m.finishLifecycle(recorder, start, err, map[string]any{
			"ranges":     m.Result.Ranges,
			"leaves":     m.Result.Leaves,
			"entries":    m.Result.Entries,
			"incomplete": m.Result.Incomplete,
		})
	}()

	m.Result, err = h.Run(ctx, m.Input, m.Output)
	return err
}

// ComputeRootHash reads the root digest of the leaves already stored in
// Output.
func (m *MerkleTask) ComputeRootHash() (err error) {
	if err := m.validateCommon(); err != nil {
		return err
	}
	if m.Output == "" {
		return configErr("output table is required")
	}

	recorder, start := m.startLifecycle(taskstore.TaskTypeRootHash, "", m.Output, nil)
	defer func() {
		m.finishLifecycle(recorder, start, err, map[string]any{"root_hash": m.RootHash})
	}()

	root, err := m.reader().RootHash(m.runCtx(), m.Output, m.Algorithm)
	if err != nil {
		return err
	}
	m.RootHash = hex.EncodeToString(root)
	return nil
}

func (m *MerkleTask) comparator() *Comparator {
	c := NewComparator(m.Store, m.Algorithm, m.NumWorkers)
	c.OutputSuffix = m.OutputSuffix
	c.ReferenceTable = m.ReferenceTable
	c.Digester = m.Digester
	c.Observer = m.Observer
	c.SkipCoverCheck = m.SkipCoverCheck
	c.Cleanup = m.Cleanup
	return c
}

// ValidateCompare runs the checks CompareTables makes before any table is
// created, so callers that run the comparison later can reject it now.
func (m *MerkleTask) ValidateCompare() error {
	if err := m.validateCommon(); err != nil {
		return err
	}
	return m.comparator().Validate(m.runCtx(), m.Tables)
}

// CompareTables hashes every table in Tables and records whether their
// root hashes agree.
func (m *MerkleTask) CompareTables() (err error) {
	if err := m.ValidateCompare(); err != nil {
		return err
	}
	c := m.comparator()

	recorder, start := m.startLifecycle(taskstore.TaskTypeCompareTables, strings.Join(m.Tables, ","), "", map[string]any{
		"tables":          m.Tables,
		"reference_table": m.ReferenceTable,
		"cleanup":         m.Cleanup,
	})
	defer func() {
		m.finishLifecycle(recorder, start, err, map[string]any{
			"tables": m.CompareResult.Tables,
			"match":  m.CompareResult.Match,
		})
	}()

	hashes, err := c.CompareTables(m.runCtx(), m.Tables)
	end := time.Now()
	m.CompareResult = types.CompareOutput{
		Algorithm: m.Algorithm,
		Tables:    hashes,
		Match:     err == nil && AllMatch(hashes),
		StartTime: start.Format(time.RFC3339),
		EndTime:   end.Format(time.RFC3339),
		TimeTaken: end.Sub(start).Round(time.Millisecond).String(),
	}
	if err == nil && len(hashes) == 1 {
		m.RootHash = hashes[0].Hash
	}
	return err
}

// DiffTrees reports the ranges where the hashed tables Left and Right
// disagree.
func (m *MerkleTask) DiffTrees() (err error) {
	if err := m.validateCommon(); err != nil {
		return err
	}
	if m.Left == "" || m.Right == "" {
		return configErr("two hashed tables are required")
	}

	recorder, start := m.startLifecycle(taskstore.TaskTypeDiffTrees, m.Left, m.Right, nil)
	defer func() {
		m.finishLifecycle(recorder, start, err, map[string]any{"diverging_ranges": len(m.DiffResult.Ranges)})
	}()

	ctx := m.runCtx()
	r := m.reader()
	left, err := r.ReadTree(ctx, m.Left, m.Algorithm)
	if err != nil {
		return err
	}
	right, err := r.ReadTree(ctx, m.Right, m.Algorithm)
	if err != nil {
		return err
	}
	ranges, err := Diverging(left, right)
	if err != nil {
		return err
	}
	m.DiffResult = types.DivergenceOutput{
		Algorithm: left.Algorithm().Name(),
		Left:      m.Left,
		Right:     m.Right,
		Ranges:    ranges,
	}
	return nil
}

// TeardownTable drops the hash table Output, along with any metadata the
// store keeps for it.
func (m *MerkleTask) TeardownTable() (err error) {
	if m.Store == nil {
		return configErr("no store configured")
	}
	if m.Output == "" {
		return configErr("output table is required")
	}

	recorder, start := m.startLifecycle(taskstore.TaskTypeTeardownTable, "", m.Output, nil)
	defer func() {
		m.finishLifecycle(recorder, start, err, nil)
	}()

	ctx := m.runCtx()
	exists, err := m.Store.TableExists(ctx, m.Output)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStoreAccess, err)
	}
	if !exists {
		return configErr("table %s does not exist", m.Output)
	}
	if err := m.Store.DropTable(ctx, m.Output); err != nil {
		return fmt.Errorf("%w: dropping %s: %w", ErrStoreAccess, m.Output, err)
	}
	logger.Info("dropped %s", m.Output)
	return nil
}
