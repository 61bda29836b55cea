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

// Package store defines the table access the hashing pipeline needs.
// Backends live in internal/store/memstore, internal/infra/bolt and
// internal/infra/db.
package store

//go:generate mockgen -source=store.go -destination=mocks/mock_store.go -package=mocks

import (
	"context"
	"errors"

	"github.com/pgedge/tablehash/pkg/types"
)

var (
	ErrTableNotFound = errors.New("table does not exist")
	ErrTableExists   = errors.New("table already exists")
)

// Cursor iterates entries in ascending key order.
type Cursor interface {
	Next(ctx context.Context) bool
	Entry() types.Entry
	Err() error
	Close() error
}

// Source exposes a sorted table and its physical split points.
type Source interface {
	Splits(ctx context.Context, table string) ([][]byte, error)
	Scan(ctx context.Context, table string, r types.KeyRange) (Cursor, error)
}

// Writer accepts rows concurrently. Close flushes and must be called once.
type Writer interface {
	Append(ctx context.Context, key, value []byte) error
	Close(ctx context.Context) error
}

type Sink interface {
	OpenWriter(ctx context.Context, table string) (Writer, error)
}

type Catalog interface {
	TableExists(ctx context.Context, table string) (bool, error)
	CreateTable(ctx context.Context, table string) error
	DropTable(ctx context.Context, table string) error
}

// Store is everything a backend must provide.
type Store interface {
	Source
	Sink
	Catalog
	Close() error
}

// MetadataStore is implemented by backends that keep a sidecar record next
// to each output table.
type MetadataStore interface {
	PutMetadata(ctx context.Context, table string, md types.TableMetadata) error
	GetMetadata(ctx context.Context, table string) (types.TableMetadata, bool, error)
}

// SplitManager is implemented by backends whose split points are managed
// explicitly rather than derived from the data.
type SplitManager interface {
	AddSplits(ctx context.Context, table string, splits [][]byte) error
}

// ScanAll drains a cursor over r into memory.
func ScanAll(ctx context.Context, src Source, table string, r types.KeyRange) ([]types.Entry, error) {
	cur, err := src.Scan(ctx, table, r)
	if err != nil {
		return nil, err
	}
	defer cur.Close()

	var out []types.Entry
	for cur.Next(ctx) {
		out = append(out, cur.Entry())
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// SliceCursor serves entries from memory. Backends that materialise a
// range before returning it use it as their Cursor.
type SliceCursor struct {
	entries []types.Entry
	pos     int
	err     error
}

func NewSliceCursor(entries []types.Entry) *SliceCursor {
	return &SliceCursor{entries: entries, pos: -1}
}

func (c *SliceCursor) Next(ctx context.Context) bool {
	if c.err != nil {
		return false
	}
	if err := ctx.Err(); err != nil {
		c.err = err
		return false
	}
	if c.pos+1 >= len(c.entries) {
		return false
	}
	c.pos++
	return true
}

func (c *SliceCursor) Entry() types.Entry { return c.entries[c.pos] }
func (c *SliceCursor) Err() error         { return c.err }
func (c *SliceCursor) Close() error       { return nil }
