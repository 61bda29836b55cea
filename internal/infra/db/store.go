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

// Package db is the Postgres backend. Every table is a two column relation
// (k bytea primary key, v bytea); leaf metadata lives in a
// tablehash_metadata table in the configured schema.
package db

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pgedge/tablehash/db/queries"
	"github.com/pgedge/tablehash/internal/store"
	"github.com/pgedge/tablehash/pkg/config"
	"github.com/pgedge/tablehash/pkg/types"
)

const (
	DefaultSchema    = "public"
	DefaultBlockSize = 100000
	writeBatchSize   = 500
)

type Store struct {
	pool      *pgxpool.Pool
	schema    string
	blockSize int64
}

// Open connects with room for numWorkers concurrent scans plus the writer
// and prepares the metadata table.
func Open(ctx context.Context, pg config.PostgresConfig, numWorkers int) (*Store, error) {
	size := pg.PoolSize
	if size <= 0 {
		size = numWorkers + 1
	}
	pool, err := NewPool(ctx, pg, size)
	if err != nil {
		return nil, err
	}
	s, err := New(ctx, pool, pg.Schema, pg.BlockSize)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing pool. The store takes ownership of it.
func New(ctx context.Context, pool *pgxpool.Pool, schema string, blockSize int) (*Store, error) {
	if schema == "" {
		schema = DefaultSchema
	}
	if err := queries.SanitiseIdentifier(schema); err != nil {
		return nil, err
	}
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	s := &Store{pool: pool, schema: schema, blockSize: int64(blockSize)}
	if err := queries.CreateSchema(ctx, pool, schema); err != nil {
		return nil, err
	}
	if err := queries.CreateMetadataTable(ctx, pool, schema); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Pool() *pgxpool.Pool { return s.pool }
func (s *Store) Schema() string      { return s.schema }

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) resolve(table string) (schema, name, qualified string, err error) {
	schema, name, err = queries.QualifiedName(table, s.schema)
	if err != nil {
		return "", "", "", err
	}
	return schema, name, schema + "." + name, nil
}

func (s *Store) mustExist(ctx context.Context, schema, name string) error {
	ok, err := queries.TableExists(ctx, s.pool, schema, name)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s.%s: %w", schema, name, store.ErrTableNotFound)
	}
	return nil
}

func (s *Store) TableExists(ctx context.Context, table string) (bool, error) {
	schema, name, _, err := s.resolve(table)
	if err != nil {
		return false, err
	}
	return queries.TableExists(ctx, s.pool, schema, name)
}

func (s *Store) CreateTable(ctx context.Context, table string) error {
	schema, name, qualified, err := s.resolve(table)
	if err != nil {
		return err
	}
	ok, err := queries.TableExists(ctx, s.pool, schema, name)
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("%s: %w", qualified, store.ErrTableExists)
	}
	if err := queries.CreateSchema(ctx, s.pool, schema); err != nil {
		return err
	}
	return queries.CreateKVTable(ctx, s.pool, schema, name)
}

// DropTable removes the table and any metadata recorded for it.
func (s *Store) DropTable(ctx context.Context, table string) error {
	schema, name, qualified, err := s.resolve(table)
	if err != nil {
		return err
	}
	if err := s.mustExist(ctx, schema, name); err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := queries.DropKVTable(ctx, tx, schema, name); err != nil {
		return err
	}
	if err := queries.DeleteMetadata(ctx, tx, s.schema, qualified); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit drop of %s: %w", qualified, err)
	}
	return nil
}

// Put writes a single row. Used to load tables outside a hashing run.
func (s *Store) Put(ctx context.Context, table string, key, value []byte) error {
	schema, name, _, err := s.resolve(table)
	if err != nil {
		return err
	}
	sql, err := queries.UpsertRowSQL(schema, name)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, sql, key, value); err != nil {
		return fmt.Errorf("failed to write row to %s.%s: %w", schema, name, err)
	}
	return nil
}

// Splits derives boundaries from the data: one bucket per blockSize rows,
// each bucket holding the same number of keys.
func (s *Store) Splits(ctx context.Context, table string) ([][]byte, error) {
	schema, name, _, err := s.resolve(table)
	if err != nil {
		return nil, err
	}
	if err := s.mustExist(ctx, schema, name); err != nil {
		return nil, err
	}
	rows, err := queries.RowCount(ctx, s.pool, schema, name)
	if err != nil {
		return nil, err
	}
	buckets := (rows + s.blockSize - 1) / s.blockSize
	return queries.SplitPoints(ctx, s.pool, schema, name, int(buckets))
}

func (s *Store) Scan(ctx context.Context, table string, r types.KeyRange) (store.Cursor, error) {
	schema, name, _, err := s.resolve(table)
	if err != nil {
		return nil, err
	}
	sql, args, err := queries.ScanRangeSQL(schema, name, r)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s.%s %s: %w", schema, name, r, err)
	}
	return &rowCursor{rows: rows}, nil
}

func (s *Store) OpenWriter(ctx context.Context, table string) (store.Writer, error) {
	schema, name, _, err := s.resolve(table)
	if err != nil {
		return nil, err
	}
	if err := s.mustExist(ctx, schema, name); err != nil {
		return nil, err
	}
	sql, err := queries.UpsertRowSQL(schema, name)
	if err != nil {
		return nil, err
	}
	return &writer{pool: s.pool, table: schema + "." + name, sql: sql, batch: &pgx.Batch{}}, nil
}

func (s *Store) PutMetadata(ctx context.Context, table string, md types.TableMetadata) error {
	_, _, qualified, err := s.resolve(table)
	if err != nil {
		return err
	}
	return queries.UpsertMetadata(ctx, s.pool, s.schema, qualified, md)
}

func (s *Store) GetMetadata(ctx context.Context, table string) (types.TableMetadata, bool, error) {
	_, _, qualified, err := s.resolve(table)
	if err != nil {
		return types.TableMetadata{}, false, err
	}
	return queries.GetMetadata(ctx, s.pool, s.schema, qualified)
}

type rowCursor struct {
	rows  pgx.Rows
	entry types.Entry
	err   error
}

func (c *rowCursor) Next(ctx context.Context) bool {
	if c.err != nil {
		return false
	}
	if err := ctx.Err(); err != nil {
		c.err = err
		c.rows.Close()
		return false
	}
	if !c.rows.Next() {
		c.err = c.rows.Err()
		return false
	}
	var k, v []byte
	if err := c.rows.Scan(&k, &v); err != nil {
		c.err = fmt.Errorf("failed to scan row: %w", err)
		c.rows.Close()
		return false
	}
	c.entry = types.Entry{Key: k, Value: v}
	return true
}

func (c *rowCursor) Entry() types.Entry { return c.entry }
func (c *rowCursor) Err() error         { return c.err }

func (c *rowCursor) Close() error {
	c.rows.Close()
	return nil
}

// writer queues upserts and sends them in batches of writeBatchSize.
type writer struct {
	pool  *pgxpool.Pool
	table string
	sql   string

	mu     sync.Mutex
	batch  *pgx.Batch
	closed bool
}

func (w *writer) Append(ctx context.Context, key, value []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("writer for %s is closed", w.table)
	}
	w.batch.Queue(w.sql, key, value)
	if w.batch.Len() >= writeBatchSize {
		return w.flushLocked(ctx)
	}
	return nil
}

func (w *writer) flushLocked(ctx context.Context) error {
	if w.batch.Len() == 0 {
		return nil
	}
	b := w.batch
	w.batch = &pgx.Batch{}
	if err := w.pool.SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("failed to write %d rows to %s: %w", b.Len(), w.table, err)
	}
	return nil
}

func (w *writer) Close(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errors.New("writer already closed")
	}
	w.closed = true
	return w.flushLocked(ctx)
}
