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

	"github.com/pgedge/tablehash/pkg/types"
)

// ValidateCover checks that ranges tile the key space with no gaps and no
// overlaps. Gaps are reported as ErrIncomplete, overlaps as ErrFormat.
func ValidateCover(ranges []types.KeyRange) error {
	if len(ranges) == 0 {
		return ErrNotFound
	}
	sorted := append([]types.KeyRange(nil), ranges...)
	sort.Slice(sorted, func(i, j int) bool { return types.CompareRanges(sorted[i], sorted[j]) < 0 })

	if !sorted[0].StartUnbounded() {
		return fmt.Errorf("%w: first range %s does not start at -inf", ErrIncomplete, sorted[0])
	}
	if last := sorted[len(sorted)-1]; !last.EndUnbounded() {
		return fmt.Errorf("%w: last range %s does not end at +inf", ErrIncomplete, last)
	}

	for i := 1; i < len(sorted); i++ {
		prev, next := sorted[i-1], sorted[i]
		if prev.EndUnbounded() || next.StartUnbounded() {
			return fmt.Errorf("%w: ranges %s and %s overlap", ErrFormat, prev, next)
		}
		switch c := bytes.Compare(prev.End, next.Start); {
		case c < 0:
			return fmt.Errorf("%w: gap between %s and %s", ErrIncomplete, prev, next)
		case c > 0:
			return fmt.Errorf("%w: ranges %s and %s overlap", ErrFormat, prev, next)
		}
		switch {
		case prev.EndInclusive && next.StartInclusive:
			return fmt.Errorf("%w: ranges %s and %s share a boundary key", ErrFormat, prev, next)
		case !prev.EndInclusive && !next.StartInclusive:
			return fmt.Errorf("%w: boundary key %q between %s and %s is not covered", ErrIncomplete, prev.End, prev, next)
		}
	}
	return nil
}

func leafRanges(leaves []Node) []types.KeyRange {
	out := make([]types.KeyRange, len(leaves))
	for i, l := range leaves {
		out[i] = l.Range
	}
	return out
}
