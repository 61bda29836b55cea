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

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/pgedge/tablehash/internal/consistency/mtree"
	"github.com/pgedge/tablehash/pkg/logger"
	"github.com/pgedge/tablehash/pkg/taskstore"
	"github.com/pgedge/tablehash/pkg/types"
)

type hashingOptions struct {
	Algorithm      string `json:"algorithm"`
	NumThreads     int    `json:"num_threads"`
	SkipCoverCheck *bool  `json:"skip_cover_check"`
}

func (o hashingOptions) apply(task *mtree.MerkleTask) {
	if a := strings.TrimSpace(o.Algorithm); a != "" {
		task.Algorithm = a
	}
	if o.NumThreads > 0 {
		task.NumWorkers = o.NumThreads
	}
	if o.SkipCoverCheck != nil {
		task.SkipCoverCheck = *o.SkipCoverCheck
	}
}

type compareRequest struct {
	hashingOptions
	Tables         []string `json:"tables"`
	ReferenceTable string   `json:"reference_table"`
	OutputSuffix   string   `json:"output_suffix"`
	Cleanup        bool     `json:"cleanup"`
	Async          bool     `json:"async"`
}

type compareResponse struct {
	TaskID string               `json:"task_id"`
	Status string               `json:"status"`
	Result *types.CompareOutput `json:"result,omitempty"`
}

type rootHashRequest struct {
	hashingOptions
	Table string `json:"table"`
}

type rootHashResponse struct {
	TaskID   string `json:"task_id"`
	Table    string `json:"table"`
	RootHash string `json:"root_hash"`
}

type diffRequest struct {
	hashingOptions
	Left  string `json:"left"`
	Right string `json:"right"`
}

type diffResponse struct {
	TaskID string                 `json:"task_id"`
	Result types.DivergenceOutput `json:"result"`
}

func decodePost(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "only POST is supported")
		return false
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return false
	}
	return true
}

func cleanTables(tables []string) []string {
	clean := make([]string, 0, len(tables))
	for _, t := range tables {
		if trimmed := strings.TrimSpace(t); trimmed != "" {
			clean = append(clean, trimmed)
		}
	}
	return clean
}

func (s *APIServer) handleCompare(w http.ResponseWriter, r *http.Request) {
	var req compareRequest
	if !decodePost(w, r, &req) {
		return
	}
	tables := cleanTables(req.Tables)
	if len(tables) == 0 {
		writeError(w, http.StatusBadRequest, "tables is required")
		return
	}

	ctx := r.Context()
	if req.Async {
		ctx = s.jobCtx
	}
	task := s.newTask(ctx)
	task.Tables = tables
	task.ReferenceTable = strings.TrimSpace(req.ReferenceTable)
	if suffix := strings.TrimSpace(req.OutputSuffix); suffix != "" {
		task.OutputSuffix = suffix
	}
	task.Cleanup = req.Cleanup
	req.apply(task)

	if req.Async {
		if err := task.ValidateCompare(); err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		err := s.enqueueTask(task.TaskID, func(ctx context.Context) error {
			task.Ctx = ctx
			return task.CompareTables()
		})
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		writeJSON(w, http.StatusAccepted, compareResponse{TaskID: task.TaskID, Status: taskstore.StatusPending})
		return
	}

	if err := task.CompareTables(); err != nil {
		logger.Error("compare failed: %v", err)
		writeError(w, statusFor(err), err.Error())
		return
	}
	out := task.CompareResult
	writeJSON(w, http.StatusOK, compareResponse{TaskID: task.TaskID, Status: task.TaskStatus, Result: &out})
}

func (s *APIServer) handleRootHash(w http.ResponseWriter, r *http.Request) {
	var req rootHashRequest
	if !decodePost(w, r, &req) {
		return
	}
	table := strings.TrimSpace(req.Table)
	if table == "" {
		writeError(w, http.StatusBadRequest, "table is required")
		return
	}

	task := s.newTask(r.Context())
	task.Output = table
	req.apply(task)

	if err := task.ComputeRootHash(); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rootHashResponse{TaskID: task.TaskID, Table: table, RootHash: task.RootHash})
}

func (s *APIServer) handleDiff(w http.ResponseWriter, r *http.Request) {
	var req diffRequest
	if !decodePost(w, r, &req) {
		return
	}

	task := s.newTask(r.Context())
	task.Left = strings.TrimSpace(req.Left)
	task.Right = strings.TrimSpace(req.Right)
	req.apply(task)

	if err := task.DiffTrees(); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, diffResponse{TaskID: task.TaskID, Result: task.DiffResult})
}

func (s *APIServer) handleTaskList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeError(w, http.StatusMethodNotAllowed, "only GET is supported")
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	records, err := s.taskStore.List(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if records == nil {
		records = []taskstore.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *APIServer) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeError(w, http.StatusMethodNotAllowed, "only GET is supported")
		return
	}
	taskID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/tasks/"), "/")
	if taskID == "" {
		writeError(w, http.StatusBadRequest, "task id is required")
		return
	}
	rec, err := s.taskStore.Get(taskID)
	if errors.Is(err, taskstore.ErrNotFound) {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
