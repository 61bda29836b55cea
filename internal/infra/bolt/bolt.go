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

// Package bolt stores tables in a single bbolt file. Each table owns a
// row bucket and a split bucket; metadata for all tables lives in one
// shared bucket. bbolt refuses empty keys, so every row and split key is
// stored behind a one byte tag; the tag is invisible to callers.
package bolt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"github.com/pgedge/tablehash/internal/store"
	"github.com/pgedge/tablehash/pkg/types"
)

const defaultPageSize = 1024

var metaBucket = []byte("tablehash_meta")

func rowsBucket(table string) []byte   { return []byte("rows/" + table) }
func splitsBucket(table string) []byte { return []byte("splits/" + table) }

const keyTag = 'k'

func storedKey(key []byte) []byte {
	out := make([]byte, 0, len(key)+1)
	out = append(out, keyTag)
	return append(out, key...)
}

func userKey(stored []byte) []byte { return bytes.Clone(stored[1:]) }

type Store struct {
	db *bbolt.DB

	// PageSize bounds how many entries a cursor reads per transaction.
	PageSize int
}

var (
	_ store.Store         = (*Store)(nil)
	_ store.MetadataStore = (*Store)(nil)
	_ store.SplitManager  = (*Store)(nil)
)

func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(metaBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialise bolt database: %w", err)
	}
	return &Store{db: db, PageSize: defaultPageSize}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) TableExists(_ context.Context, table string) (bool, error) {
	var ok bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		ok = tx.Bucket(rowsBucket(table)) != nil
		return nil
	})
	return ok, err
}

func (s *Store) CreateTable(_ context.Context, table string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(rowsBucket(table)) != nil {
			return fmt.Errorf("%s: %w", table, store.ErrTableExists)
		}
		if _, err := tx.CreateBucket(rowsBucket(table)); err != nil {
			return fmt.Errorf("create %s: %w", table, err)
		}
		if _, err := tx.CreateBucketIfNotExists(splitsBucket(table)); err != nil {
			return fmt.Errorf("create splits of %s: %w", table, err)
		}
		return nil
	})
}

func (s *Store) DropTable(_ context.Context, table string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(rowsBucket(table)); err != nil {
			if errors.Is(err, bbolt.ErrBucketNotFound) {
				return fmt.Errorf("%s: %w", table, store.ErrTableNotFound)
			}
			return err
		}
		if err := tx.DeleteBucket(splitsBucket(table)); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
			return err
		}
		return tx.Bucket(metaBucket).Delete([]byte(table))
	})
}

// Put writes a single row outside of any writer, creating the table when
// needed.
func (s *Store) Put(table string, key, value []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(rowsBucket(table))
		if err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(splitsBucket(table)); err != nil {
			return err
		}
		return b.Put(storedKey(key), value)
	})
}

func (s *Store) AddSplits(_ context.Context, table string, splits [][]byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(rowsBucket(table)) == nil {
			return fmt.Errorf("%s: %w", table, store.ErrTableNotFound)
		}
		b, err := tx.CreateBucketIfNotExists(splitsBucket(table))
		if err != nil {
			return err
		}
		for _, sp := range splits {
			if err := b.Put(storedKey(sp), []byte{}); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) Splits(_ context.Context, table string) ([][]byte, error) {
	var out [][]byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket(rowsBucket(table)) == nil {
			return fmt.Errorf("%s: %w", table, store.ErrTableNotFound)
		}
		b := tx.Bucket(splitsBucket(table))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, _ []byte) error {
			out = append(out, userKey(k))
			return nil
		})
	})
	return out, err
}

func (s *Store) Scan(ctx context.Context, table string, r types.KeyRange) (store.Cursor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ok, err := s.TableExists(ctx, table)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", table, store.ErrTableNotFound)
	}
	pageSize := s.PageSize
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	return &cursor{db: s.db, bucket: rowsBucket(table), r: r, pageSize: pageSize, pos: -1}, nil
}

func (s *Store) OpenWriter(ctx context.Context, table string) (store.Writer, error) {
	ok, err := s.TableExists(ctx, table)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", table, store.ErrTableNotFound)
	}
	return &writer{db: s.db, bucket: rowsBucket(table)}, nil
}

func (s *Store) PutMetadata(_ context.Context, table string, md types.TableMetadata) error {
	blob, err := json.Marshal(md)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(rowsBucket(table)) == nil {
			return fmt.Errorf("%s: %w", table, store.ErrTableNotFound)
		}
		return tx.Bucket(metaBucket).Put([]byte(table), blob)
	})
}

func (s *Store) GetMetadata(_ context.Context, table string) (types.TableMetadata, bool, error) {
	var (
		md    types.TableMetadata
		found bool
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket(rowsBucket(table)) == nil {
			return fmt.Errorf("%s: %w", table, store.ErrTableNotFound)
		}
		raw := tx.Bucket(metaBucket).Get([]byte(table))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &md)
	})
	return md, found, err
}

// cursor reads a range one page per read transaction so that long scans
// never pin a transaction while workers commit their digests.
type cursor struct {
	db       *bbolt.DB
	bucket   []byte
	r        types.KeyRange
	pageSize int

	page []types.Entry
	pos  int
	last []byte
	done bool
	err  error
}

func (c *cursor) Next(ctx context.Context) bool {
	if c.err != nil {
		return false
	}
	if err := ctx.Err(); err != nil {
		c.err = err
		return false
	}
	if c.pos+1 < len(c.page) {
		c.pos++
		return true
	}
	if c.done {
		return false
	}
	if err := c.fetch(); err != nil {
		c.err = err
		return false
	}
	if len(c.page) == 0 {
		return false
	}
	c.pos = 0
	return true
}

func (c *cursor) fetch() error {
	c.page = c.page[:0]
	return c.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(c.bucket)
		if b == nil {
			return fmt.Errorf("bucket %s: %w", c.bucket, store.ErrTableNotFound)
		}
		bc := b.Cursor()

		var k, v []byte
		switch {
		case c.last != nil:
			last := storedKey(c.last)
			k, v = bc.Seek(last)
			if k != nil && bytes.Equal(k, last) {
				k, v = bc.Next()
			}
		case c.r.Start != nil:
			k, v = bc.Seek(storedKey(c.r.Start))
		default:
			k, v = bc.First()
		}

		for ; k != nil; k, v = bc.Next() {
			key := userKey(k)
			if c.r.End != nil {
				cmp := bytes.Compare(key, c.r.End)
				if cmp > 0 || (cmp == 0 && !c.r.EndInclusive) {
					c.done = true
					return nil
				}
			}
			if !c.r.Contains(key) {
				continue
			}
			c.page = append(c.page, types.Entry{Key: key, Value: bytes.Clone(v)})
			if len(c.page) >= c.pageSize {
				c.last = c.page[len(c.page)-1].Key
				return nil
			}
		}
		c.done = true
		return nil
	})
}

func (c *cursor) Entry() types.Entry { return c.page[c.pos] }
func (c *cursor) Err() error         { return c.err }
func (c *cursor) Close() error       { return nil }

type writer struct {
	db     *bbolt.DB
	bucket []byte

	mu     sync.RWMutex
	closed bool
}

// Append goes through DB.Batch so that concurrent workers share commits.
func (w *writer) Append(ctx context.Context, key, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return fmt.Errorf("writer for %s is closed", w.bucket)
	}
	return w.db.Batch(func(tx *bbolt.Tx) error {
		b := tx.Bucket(w.bucket)
		if b == nil {
			return fmt.Errorf("bucket %s: %w", w.bucket, store.ErrTableNotFound)
		}
		return b.Put(storedKey(key), value)
	})
}

func (w *writer) Close(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return w.db.Sync()
}
