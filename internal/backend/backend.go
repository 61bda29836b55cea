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

// Package backend turns the loaded configuration into a ready store and
// task template.
package backend

import (
	"context"
	"fmt"

	"github.com/pgedge/tablehash/internal/consistency/mtree"
	"github.com/pgedge/tablehash/internal/infra/bolt"
	"github.com/pgedge/tablehash/internal/infra/db"
	"github.com/pgedge/tablehash/internal/store"
	"github.com/pgedge/tablehash/internal/store/memstore"
	"github.com/pgedge/tablehash/pkg/config"
)

type Env struct {
	Config   *config.Config
	Store    store.Store
	Digester mtree.RangeDigester
	Observer mtree.Observer
}

// OpenStore opens the backend named by cfg.Store.Backend.
func OpenStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Backend {
	case config.BackendMemory:
		return memstore.New(), nil
	case config.BackendBolt:
		s, err := bolt.Open(cfg.Store.BoltPath)
		if err != nil {
			return nil, err
		}
		s.PageSize = cfg.Store.BoltPageSize
		return s, nil
	case config.BackendPostgres, "":
		return db.Open(ctx, cfg.Postgres, cfg.Hashing.NumThreads)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// NewDigester returns nil for the scan digester, which the hasher builds
// itself over the store.
func NewDigester(ctx context.Context, cfg *config.Config, st store.Store) (mtree.RangeDigester, error) {
	switch cfg.Hashing.Digester {
	case config.DigesterScan, "":
		return nil, nil
	case config.DigesterServer:
		pg, ok := st.(*db.Store)
		if !ok {
			return nil, fmt.Errorf("digester %q requires the %s backend", config.DigesterServer, config.BackendPostgres)
		}
		d, err := db.NewServerDigester(ctx, pg)
		if err != nil {
			return nil, err
		}
		return d, nil
	default:
		return nil, fmt.Errorf("unknown digester %q", cfg.Hashing.Digester)
	}
}

func Open(ctx context.Context, cfg *config.Config) (*Env, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	st, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	d, err := NewDigester(ctx, cfg, st)
	if err != nil {
		st.Close()
		return nil, err
	}
	return &Env{Config: cfg, Store: st, Digester: d, Observer: mtree.LogObserver{}}, nil
}

// NewTask returns a task carrying the configured hashing defaults.
func (e *Env) NewTask() *mtree.MerkleTask {
	h := e.Config.Hashing
	t := mtree.NewMerkleTask()
	t.Store = e.Store
	t.Algorithm = h.Algorithm
	if h.NumThreads > 0 {
		t.NumWorkers = h.NumThreads
	}
	if h.OutputSuffix != "" {
		t.OutputSuffix = h.OutputSuffix
	}
	t.SkipCoverCheck = h.SkipCoverCheck
	t.Digester = e.Digester
	t.Observer = e.Observer
	t.TaskStorePath = e.Config.TaskStorePath
	return t
}

func (e *Env) Close() error {
	return e.Store.Close()
}
