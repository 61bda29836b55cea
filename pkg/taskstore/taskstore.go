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

package taskstore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const (
	StatusPending   = "PENDING"
	StatusRunning   = "RUNNING"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
	StatusCancelled = "CANCELLED"
)

const (
	TaskTypeGenerateHashes = "GENERATE_HASHES"
	TaskTypeCompareTables  = "COMPARE_TABLES"
	TaskTypeRootHash       = "ROOT_HASH"
	TaskTypeDiffTrees      = "DIFF_TREES"
	TaskTypeTeardownTable  = "TEARDOWN_TABLE"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS tablehash_tasks (
    task_id      TEXT PRIMARY KEY,
    task_type    TEXT NOT NULL,
    task_status  TEXT NOT NULL,
    task_context TEXT,
    table_name   TEXT,
    output_table TEXT,
    algorithm    TEXT,
    root_hash    TEXT,
    started_at   TEXT,
    finished_at  TEXT,
    time_taken   REAL
);`

const selectColumns = `task_id, task_type, task_status, task_context,
        table_name, output_table, algorithm, root_hash,
        started_at, finished_at, time_taken`

var ErrNotFound = errors.New("task not found")

type Store struct {
	db *sql.DB
}

type Record struct {
	TaskID         string         `json:"task_id"`
	TaskType       string         `json:"task_type"`
	Status         string         `json:"task_status"`
	TableName      string         `json:"table_name,omitempty"`
	OutputTable    string         `json:"output_table,omitempty"`
	Algorithm      string         `json:"algorithm,omitempty"`
	RootHash       string         `json:"root_hash,omitempty"`
	StartedAt      time.Time      `json:"started_at"`
	FinishedAt     time.Time      `json:"finished_at"`
	TimeTaken      float64        `json:"time_taken"`
	TaskContext    map[string]any `json:"task_context,omitempty"`
	RawTaskContext string         `json:"-"`
}

// Recorder writes a task's lifecycle to a store, opening one of its own
// when the caller did not supply one.
type Recorder struct {
	store     *Store
	ownsStore bool
	created   bool
}

func NewRecorder(existing *Store, path string) (*Recorder, error) {
	if existing != nil {
		return &Recorder{store: existing}, nil
	}
	store, err := New(path)
	if err != nil {
		return nil, err
	}
	return &Recorder{store: store, ownsStore: true}, nil
}

func (r *Recorder) Store() *Store {
	if r == nil {
		return nil
	}
	return r.store
}

func (r *Recorder) OwnsStore() bool {
	if r == nil {
		return false
	}
	return r.ownsStore
}

func (r *Recorder) HasStore() bool {
	return r != nil && r.store != nil
}

func (r *Recorder) Created() bool {
	return r != nil && r.created
}

func (r *Recorder) Create(rec Record) error {
	if !r.HasStore() {
		return nil
	}
	if err := r.store.Create(rec); err != nil {
		return err
	}
	r.created = true
	return nil
}

func (r *Recorder) Update(rec Record) error {
	if !r.HasStore() || !r.created {
		return nil
	}
	return r.store.Update(rec)
}

func (r *Recorder) Close() error {
	if !r.OwnsStore() || r.store == nil {
		return nil
	}
	err := r.store.Close()
	r.store = nil
	return err
}

func New(path string) (*Store, error) {
	sqlitePath := resolvePath(path)
	if err := ensureDir(sqlitePath); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite3", sqlitePath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		rec        Record
		ctxVal     sql.NullString
		tableName  sql.NullString
		output     sql.NullString
		algorithm  sql.NullString
		rootHash   sql.NullString
		startedAt  sql.NullString
		finishedAt sql.NullString
		timeTaken  sql.NullFloat64
	)
	if err := row.Scan(
		&rec.TaskID,
		&rec.TaskType,
		&rec.Status,
		&ctxVal,
		&tableName,
		&output,
		&algorithm,
		&rootHash,
		&startedAt,
		&finishedAt,
		&timeTaken,
	); err != nil {
		return Record{}, err
	}

	rec.TableName = tableName.String
	rec.OutputTable = output.String
	rec.Algorithm = algorithm.String
	rec.RootHash = rootHash.String
	rec.TimeTaken = timeTaken.Float64
	if startedAt.Valid {
		if t, err := time.Parse(time.RFC3339Nano, startedAt.String); err == nil {
			rec.StartedAt = t
		}
	}
	if finishedAt.Valid {
		if t, err := time.Parse(time.RFC3339Nano, finishedAt.String); err == nil {
			rec.FinishedAt = t
		}
	}
	if ctxVal.Valid && strings.TrimSpace(ctxVal.String) != "" {
		rec.RawTaskContext = ctxVal.String
		var taskContext map[string]any
		if err := json.Unmarshal([]byte(ctxVal.String), &taskContext); err == nil {
			rec.TaskContext = taskContext
		}
	}
	return rec, nil
}

func (s *Store) Get(taskID string) (Record, error) {
	if strings.TrimSpace(taskID) == "" {
		return Record{}, fmt.Errorf("task id is required")
	}
	row := s.db.QueryRow(`SELECT `+selectColumns+` FROM tablehash_tasks WHERE task_id = ?`, taskID)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("fetch task %s: %w", taskID, err)
	}
	return rec, nil
}

// List returns the most recently started tasks first.
func (s *Store) List(limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`SELECT `+selectColumns+` FROM tablehash_tasks ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return out, nil
}

func (s *Store) Create(rec Record) error {
	if err := rec.validateForCreate(); err != nil {
		return err
	}
	ctxVal, err := rec.contextValue()
	if err != nil {
		return fmt.Errorf("marshal task context: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO tablehash_tasks (
            task_id, task_type, task_status, task_context,
            table_name, output_table, algorithm, root_hash,
            started_at, finished_at, time_taken
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.TaskID,
		rec.TaskType,
		rec.Status,
		ctxVal,
		nullableString(rec.TableName),
		nullableString(rec.OutputTable),
		nullableString(rec.Algorithm),
		nullableString(rec.RootHash),
		timeOrNil(rec.StartedAt),
		timeOrNil(rec.FinishedAt),
		rec.TimeTaken,
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (s *Store) Update(rec Record) error {
	if strings.TrimSpace(rec.TaskID) == "" {
		return errors.New("task id is required")
	}
	ctxVal, err := rec.contextValue()
	if err != nil {
		return fmt.Errorf("marshal task context: %w", err)
	}

	res, err := s.db.Exec(
		`UPDATE tablehash_tasks SET
            task_status = ?,
            task_context = ?,
            root_hash = COALESCE(?, root_hash),
            finished_at = ?,
            time_taken = ?
        WHERE task_id = ?`,
		rec.Status,
		ctxVal,
		nullableString(rec.RootHash),
		timeOrNil(rec.FinishedAt),
		rec.TimeTaken,
		rec.TaskID,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) ensureSchema() error {
	if _, err := s.db.Exec(createTableSQL); err != nil {
		return fmt.Errorf("ensure tablehash_tasks schema: %w", err)
	}
	return nil
}

func (r Record) validateForCreate() error {
	if strings.TrimSpace(r.TaskID) == "" {
		return errors.New("task id is required")
	}
	if strings.TrimSpace(r.TaskType) == "" {
		return errors.New("task type is required")
	}
	if strings.TrimSpace(r.Status) == "" {
		return errors.New("task status is required")
	}
	return nil
}

func (r Record) contextValue() (any, error) {
	if len(r.TaskContext) > 0 {
		blob, err := json.Marshal(r.TaskContext)
		if err != nil {
			return nil, err
		}
		return string(blob), nil
	}
	if strings.TrimSpace(r.RawTaskContext) != "" {
		return r.RawTaskContext, nil
	}
	return nil, nil
}

func resolvePath(path string) string {
	if strings.TrimSpace(path) != "" {
		return path
	}
	if env := os.Getenv("TABLEHASH_TASKS_DB"); strings.TrimSpace(env) != "" {
		return env
	}
	return filepath.Join(".", "tablehash_tasks.db")
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func nullableString(val string) any {
	if strings.TrimSpace(val) == "" {
		return nil
	}
	return val
}

func timeOrNil(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}
