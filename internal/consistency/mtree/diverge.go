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
	"fmt"
	"sort"

	"github.com/pgedge/tablehash/internal/digest"
	"github.com/pgedge/tablehash/pkg/types"
)

// Diverging walks two trees from the root and returns the smallest ranges
// whose digests differ. Where the trees are shaped differently below a
// mismatching node, that node's range is reported as a whole.
func Diverging(a, b *Tree) ([]types.KeyRange, error) {
	if !digest.SameAlgorithm(a.Algorithm().Name(), b.Algorithm().Name()) {
		return nil, fmt.Errorf("%w: %s vs %s", ErrAlgorithmMismatch, a.Algorithm().Name(), b.Algorithm().Name())
	}

	var out []types.KeyRange
	var walk func(x, y *Node)
	walk = func(x, y *Node) {
		if x.Range.Equal(y.Range) && bytes.Equal(x.Hash, y.Hash) {
			return
		}
		if sameShape(x, y) {
			for i := range x.kids {
				walk(x.kids[i], y.kids[i])
			}
			return
		}
		out = append(out, x.Range)
		if !x.Range.Equal(y.Range) {
			out = append(out, y.Range)
		}
	}
	walk(a.Root(), b.Root())

	sort.Slice(out, func(i, j int) bool { return types.CompareRanges(out[i], out[j]) < 0 })
	uniq := out[:0]
	for i, r := range out {
		if i > 0 && r.Equal(uniq[len(uniq)-1]) {
			continue
		}
		uniq = append(uniq, r)
	}
	return uniq, nil
}

func sameShape(x, y *Node) bool {
	if !x.Range.Equal(y.Range) || len(x.kids) == 0 || len(x.kids) != len(y.kids) {
		return false
	}
	for i := range x.kids {
		if !x.kids[i].Range.Equal(y.kids[i].Range) {
			return false
		}
	}
	return true
}
