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
	"sort"

	"github.com/pgedge/tablehash/pkg/types"
)

// Partition turns split points into contiguous ranges covering the whole
// key space: (-inf, b1], (b1, b2], ..., (bn, +inf). Boundaries are sorted
// and repeated values collapse into one.
func Partition(boundaries [][]byte) []types.KeyRange {
	sorted := make([][]byte, 0, len(boundaries))
	for _, b := range boundaries {
		if b == nil {
			b = []byte{}
		}
		sorted = append(sorted, b)
	}
	sort.Slice(sorted, func(i, j int) bool { return bytes.Compare(sorted[i], sorted[j]) < 0 })

	uniq := sorted[:0]
	for i, b := range sorted {
		if i > 0 && bytes.Equal(b, uniq[len(uniq)-1]) {
			continue
		}
		uniq = append(uniq, b)
	}

	ranges := make([]types.KeyRange, 0, len(uniq)+1)
	var prev []byte
	for _, b := range uniq {
		ranges = append(ranges, types.NewKeyRange(prev, false, b, true))
		prev = b
	}
	return append(ranges, types.NewKeyRange(prev, false, nil, false))
}
