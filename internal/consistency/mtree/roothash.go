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
	"bytes"
	"context"
	"fmt"

	"github.com/pgedge/tablehash/internal/digest"
	"github.com/pgedge/tablehash/internal/rangecodec"
	"github.com/pgedge/tablehash/internal/store"
	"github.com/pgedge/tablehash/pkg/types"
)

// RootHashReader rebuilds a tree from the leaf digests persisted in an
// output table.
type RootHashReader struct {
	Source   store.Source
	Metadata store.MetadataStore

	// SkipCoverCheck trusts the persisted leaves without verifying that
	// they tile the key space.
	SkipCoverCheck bool
}

func NewRootHashReader(src store.Source) *RootHashReader {
	r := &RootHashReader{Source: src}
	if md, ok := src.(store.MetadataStore); ok {
		r.Metadata = md
	}
	return r
}

// ReadLeaves scans table in row key order and decodes every leaf.
func (r *RootHashReader) ReadLeaves(ctx context.Context, table string, alg digest.Algorithm) ([]Node, error) {
	expected := -1
	if r.Metadata != nil {
		md, ok, err := r.Metadata.GetMetadata(ctx, table)
		if err != nil {
			return nil, fmt.Errorf("%w: reading metadata of %s: %w", ErrStoreAccess, table, err)
		}
		if ok {
			if !digest.SameAlgorithm(md.Algorithm, alg.Name()) {
				return nil, fmt.Errorf("%w: %s was hashed with %s, not %s", ErrAlgorithmMismatch, table, md.Algorithm, alg.Name())
			}
			if !md.Complete {
				return nil, fmt.Errorf("%w: %s holds %d leaves from an unfinished run", ErrIncomplete, table, md.LeafCount)
			}
			expected = md.LeafCount
		}
	}

	cur, err := r.Source.Scan(ctx, table, types.Unbounded())
	if err != nil {
		return nil, fmt.Errorf("%w: scanning %s: %w", ErrStoreAccess, table, err)
	}
	defer cur.Close()

	var leaves []Node
	for cur.Next(ctx) {
		e := cur.Entry()
		rng, err := rangecodec.Decode(e.Key)
		if err != nil {
			return nil, fmt.Errorf("row %x of %s: %w", e.Key, table, err)
		}
		if len(e.Value) != alg.Size() {
			return nil, fmt.Errorf("%w: %s leaf %s has a %d byte digest, %s produces %d",
				ErrAlgorithmMismatch, table, rng, len(e.Value), alg.Name(), alg.Size())
		}
		leaves = append(leaves, Node{Range: rng, Hash: bytes.Clone(e.Value)})
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("%w: scanning %s: %w", ErrStoreAccess, table, err)
	}
	if len(leaves) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, table)
	}
	if expected >= 0 && expected != len(leaves) {
		return nil, fmt.Errorf("%w: %s has %d leaves, run recorded %d", ErrIncomplete, table, len(leaves), expected)
	}
	return leaves, nil
}

func (r *RootHashReader) ReadTree(ctx context.Context, table, algorithm string) (*Tree, error) {
	alg, err := digest.Lookup(algorithm)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	leaves, err := r.ReadLeaves(ctx, table, alg)
	if err != nil {
		return nil, err
	}
	if !r.SkipCoverCheck {
		if err := ValidateCover(leafRanges(leaves)); err != nil {
			return nil, fmt.Errorf("%s: %w", table, err)
		}
	}
	return NewTree(leaves, alg)
}

// RootHash returns the digest at the root of the tree stored in table.
func (r *RootHashReader) RootHash(ctx context.Context, table, algorithm string) ([]byte, error) {
	t, err := r.ReadTree(ctx, table, algorithm)
	if err != nil {
		return nil, err
	}
	return t.Root().Hash, nil
}
