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
	"fmt"
	"strings"

	"github.com/pgedge/tablehash/internal/digest"
	"github.com/pgedge/tablehash/internal/store"
	"github.com/pgedge/tablehash/pkg/logger"
	"github.com/pgedge/tablehash/pkg/types"
)

const DefaultOutputSuffix = "_merkle"

// Comparator hashes several tables and reports one root hash per table.
type Comparator struct {
	Store store.Store

	Algorithm    string
	NumWorkers   int
	OutputSuffix string

	// ReferenceTable, when set, supplies the split points used for every
	// table in the comparison.
	ReferenceTable string

	Digester       RangeDigester
	Observer       Observer
	SkipCoverCheck bool

	// Cleanup drops each output table once its root hash has been read.
	Cleanup bool
}

func NewComparator(st store.Store, algorithm string, numWorkers int) *Comparator {
	return &Comparator{
		Store:        st,
		Algorithm:    algorithm,
		NumWorkers:   numWorkers,
		OutputSuffix: DefaultOutputSuffix,
	}
}

func (c *Comparator) OutputTable(table string) string {
	suffix := c.OutputSuffix
	if suffix == "" {
		suffix = DefaultOutputSuffix
	}
	return table + suffix
}

// Validate rejects a comparison before any table is created or hashed.
func (c *Comparator) Validate(ctx context.Context, tables []string) error {
	if len(tables) == 0 {
		return configErr("at least one table is required")
	}
	if _, err := digest.Lookup(c.Algorithm); err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	seen := make(map[string]struct{}, len(tables))
	for _, t := range tables {
		if strings.TrimSpace(t) == "" {
			return configErr("table names cannot be empty")
		}
		if _, dup := seen[t]; dup {
			return configErr("table %s listed more than once", t)
		}
		seen[t] = struct{}{}
	}

	for _, t := range tables {
		out := c.OutputTable(t)
		if _, dup := seen[out]; dup {
			return configErr("output table %s would overwrite an input table", out)
		}
		exists, err := c.Store.TableExists(ctx, out)
		if err != nil {
			return fmt.Errorf("%w: checking %s: %w", ErrStoreAccess, out, err)
		}
		if exists {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, out)
		}
	}
	return nil
}

// CompareTables computes the root hash of each table in order. All output
// tables are checked up front so that a name clash fails the comparison
// before anything is written.
func (c *Comparator) CompareTables(ctx context.Context, tables []string) ([]types.TableHash, error) {
	if err := c.Validate(ctx, tables); err != nil {
		return nil, err
	}

	var splits [][]byte
	if c.ReferenceTable != "" {
		var err error
		splits, err = c.Store.Splits(ctx, c.ReferenceTable)
		if err != nil {
			return nil, fmt.Errorf("%w: reading splits of reference table %s: %w", ErrStoreAccess, c.ReferenceTable, err)
		}
		if splits == nil {
			splits = [][]byte{}
		}
	}

	results := make([]types.TableHash, 0, len(tables))
	for _, t := range tables {
		th, err := c.hashTable(ctx, t, splits)
		if err != nil {
			return results, err
		}
		results = append(results, th)
	}
	return results, nil
}

func (c *Comparator) hashTable(ctx context.Context, table string, splits [][]byte) (th types.TableHash, err error) {
	out := c.OutputTable(table)
	th = types.TableHash{Table: table, Output: out}

	if err := c.Store.CreateTable(ctx, out); err != nil {
		return th, fmt.Errorf("%w: creating %s: %w", ErrStoreAccess, out, err)
	}
	if c.Cleanup {
		defer func() {
			if dropErr := c.Store.DropTable(context.WithoutCancel(ctx), out); dropErr != nil {
				logger.Warn("could not drop %s: %v", out, dropErr)
			}
		}()
	}

	h := NewRangeHasher(c.Store, c.Algorithm, c.NumWorkers)
	h.Digester = c.Digester
	h.Observer = c.Observer
	h.Splits = splits

	res, err := h.Run(ctx, table, out)
	th.Leaves = res.Leaves
	if err != nil {
		return th, fmt.Errorf("hashing %s: %w", table, err)
	}

	reader := NewRootHashReader(c.Store)
	reader.SkipCoverCheck = c.SkipCoverCheck
	root, err := reader.RootHash(ctx, out, c.Algorithm)
	if err != nil {
		return th, fmt.Errorf("reading root hash of %s: %w", out, err)
	}
	th.Hash = hex.EncodeToString(root)
	return th, nil
}

// AllMatch reports whether every table produced the same root hash.
func AllMatch(hashes []types.TableHash) bool {
	for i := 1; i < len(hashes); i++ {
		if hashes[i].Hash != hashes[0].Hash {
			return false
		}
	}
	return len(hashes) > 0
}
