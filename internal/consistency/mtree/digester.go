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
	"encoding/binary"
	"fmt"
	"hash"

	"github.com/pgedge/tablehash/internal/digest"
	"github.com/pgedge/tablehash/internal/store"
	"github.com/pgedge/tablehash/pkg/types"
)

// RangeDigester produces the leaf digest of one key range together with
// the number of entries it covered.
type RangeDigester interface {
	DigestRange(ctx context.Context, table string, r types.KeyRange, alg digest.Algorithm) ([]byte, int64, error)
}

// AlgorithmChecker is implemented by digesters that only support a subset
// of the registered algorithms.
type AlgorithmChecker interface {
	CheckAlgorithm(alg digest.Algorithm) error
}

// WriteEntry feeds the canonical encoding of e into h:
// uint32be(len(key)) key uint32be(len(value)) value.
func WriteEntry(h hash.Hash, e types.Entry) {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(e.Key)))
	h.Write(n[:])
	h.Write(e.Key)
	binary.BigEndian.PutUint32(n[:], uint32(len(e.Value)))
	h.Write(n[:])
	h.Write(e.Value)
}

// DigestEntries digests entries in the order given.
func DigestEntries(alg digest.Algorithm, entries []types.Entry) []byte {
	h := alg.New()
	for _, e := range entries {
		WriteEntry(h, e)
	}
	return h.Sum(nil)
}

// ScanDigester reads every entry of a range through the source and hashes
// it locally. One instance is safe for use by many workers.
type ScanDigester struct {
	Source store.Source
}

func NewScanDigester(src store.Source) *ScanDigester {
	return &ScanDigester{Source: src}
}

func (d *ScanDigester) DigestRange(ctx context.Context, table string, r types.KeyRange, alg digest.Algorithm) ([]byte, int64, error) {
	cur, err := d.Source.Scan(ctx, table, r)
	if err != nil {
		return nil, 0, fmt.Errorf("scan %s %s: %w", table, r, err)
	}
	defer cur.Close()

	h := alg.New()
	var n int64
	for cur.Next(ctx) {
		WriteEntry(h, cur.Entry())
		n++
	}
	if err := cur.Err(); err != nil {
		return nil, n, fmt.Errorf("scan %s %s: %w", table, r, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, n, err
	}
	return h.Sum(nil), n, nil
}
