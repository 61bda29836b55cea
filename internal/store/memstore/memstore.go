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

// Package memstore is an in-process sorted table store.
package memstore

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/btree"

	"github.com/pgedge/tablehash/internal/store"
	"github.com/pgedge/tablehash/pkg/types"
)

const degree = 32

type table struct {
	rows   *btree.BTreeG[types.Entry]
	splits [][]byte
	meta   *types.TableMetadata
}

func newTable() *table {
	return &table{rows: btree.NewG(degree, func(a, b types.Entry) bool {
		return bytes.Compare(a.Key, b.Key) < 0
	})}
}

type Store struct {
	mu     sync.RWMutex
	tables map[string]*table
}

var (
	_ store.Store         = (*Store)(nil)
	_ store.MetadataStore = (*Store)(nil)
	_ store.SplitManager  = (*Store)(nil)
)

func New() *Store {
	return &Store{tables: make(map[string]*table)}
}

func (s *Store) lookup(name string) (*table, error) {
	t, ok := s.tables[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, store.ErrTableNotFound)
	}
	return t, nil
}

func (s *Store) TableExists(_ context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tables[name]
	return ok, nil
}

func (s *Store) CreateTable(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tables[name]; ok {
		return fmt.Errorf("%s: %w", name, store.ErrTableExists)
	}
	s.tables[name] = newTable()
	return nil
}

func (s *Store) DropTable(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tables[name]; !ok {
		return fmt.Errorf("%s: %w", name, store.ErrTableNotFound)
	}
	delete(s.tables, name)
	return nil
}

// Put writes a single row, creating the table when needed.
func (s *Store) Put(name string, key, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[name]
	if !ok {
		t = newTable()
		s.tables[name] = t
	}
	t.rows.ReplaceOrInsert(types.Entry{Key: bytes.Clone(key), Value: bytes.Clone(value)})
}

func (s *Store) AddSplits(_ context.Context, name string, splits [][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.lookup(name)
	if err != nil {
		return err
	}
	for _, sp := range splits {
		t.splits = append(t.splits, bytes.Clone(sp))
	}
	return nil
}

func (s *Store) Splits(_ context.Context, name string) ([][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, err := s.lookup(name)
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(t.splits))
	for i, sp := range t.splits {
		out[i] = bytes.Clone(sp)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i], out[j]) < 0 })
	return out, nil
}

// Scan snapshots the rows of r. The tree iterates in key order so the
// walk stops at the first key beyond the end bound.
func (s *Store) Scan(ctx context.Context, name string, r types.KeyRange) (store.Cursor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, err := s.lookup(name)
	if err != nil {
		return nil, err
	}

	var entries []types.Entry
	visit := func(e types.Entry) bool {
		if !r.Contains(e.Key) {
			if r.End != nil && bytes.Compare(e.Key, r.End) >= 0 {
				return false
			}
			return true
		}
		entries = append(entries, e)
		return true
	}
	if r.Start == nil {
		t.rows.Ascend(visit)
	} else {
		t.rows.AscendGreaterOrEqual(types.Entry{Key: r.Start}, visit)
	}
	return store.NewSliceCursor(entries), nil
}

func (s *Store) OpenWriter(_ context.Context, name string) (store.Writer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, err := s.lookup(name); err != nil {
		return nil, err
	}
	return &writer{s: s, table: name}, nil
}

func (s *Store) PutMetadata(_ context.Context, name string, md types.TableMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.lookup(name)
	if err != nil {
		return err
	}
	t.meta = &md
	return nil
}

func (s *Store) GetMetadata(_ context.Context, name string) (types.TableMetadata, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, err := s.lookup(name)
	if err != nil {
		return types.TableMetadata{}, false, err
	}
	if t.meta == nil {
		return types.TableMetadata{}, false, nil
	}
	return *t.meta, true, nil
}

func (s *Store) Close() error { return nil }

type writer struct {
	s      *Store
	table  string
	mu     sync.Mutex
	closed bool
}

func (w *writer) Append(ctx context.Context, key, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return fmt.Errorf("writer for %s is closed", w.table)
	}

	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	t, err := w.s.lookup(w.table)
	if err != nil {
		return err
	}
	t.rows.ReplaceOrInsert(types.Entry{Key: bytes.Clone(key), Value: bytes.Clone(value)})
	return nil
}

func (w *writer) Close(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}
