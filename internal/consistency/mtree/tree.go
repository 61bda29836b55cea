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
	"fmt"
	"sort"

	"github.com/pgedge/tablehash/internal/digest"
	"github.com/pgedge/tablehash/internal/rangecodec"
	"github.com/pgedge/tablehash/pkg/types"
)

// Node is a vertex of a Merkle tree. Leaves sit at level 0; a parent's
// level is the rollup round that produced it, so a node promoted across
// rounds keeps its original level.
type Node struct {
	Range    types.KeyRange
	Level    int
	Children []types.KeyRange
	Hash     []byte

	kids []*Node
}

type nodeKey struct {
	rng   string
	level int
}

// Tree is an immutable Merkle tree over a sorted set of leaf ranges.
type Tree struct {
	alg    digest.Algorithm
	root   *Node
	leaves []*Node
	index  map[nodeKey]*Node
}

// NewTree sorts leaves by range and rolls them up pairwise, left to
// right. An odd node at the end of a round is carried into the next round
// unchanged. The parent hash is H(left.Hash || right.Hash).
func NewTree(leaves []Node, alg digest.Algorithm) (*Tree, error) {
	if len(leaves) == 0 {
		return nil, ErrNotFound
	}

	t := &Tree{alg: alg, index: make(map[nodeKey]*Node, 2*len(leaves))}
	for i := range leaves {
		if len(leaves[i].Hash) != alg.Size() {
			return nil, fmt.Errorf("%w: leaf %s has a %d byte digest, %s produces %d",
				ErrAlgorithmMismatch, leaves[i].Range, len(leaves[i].Hash), alg.Name(), alg.Size())
		}
		n := &Node{Range: leaves[i].Range, Hash: leaves[i].Hash}
		t.leaves = append(t.leaves, n)
	}
	sort.SliceStable(t.leaves, func(i, j int) bool {
		return types.CompareRanges(t.leaves[i].Range, t.leaves[j].Range) < 0
	})
	for i, n := range t.leaves {
		if i > 0 && n.Range.Equal(t.leaves[i-1].Range) {
			return nil, fmt.Errorf("%w: duplicate leaf range %s", ErrFormat, n.Range)
		}
		t.add(n)
	}

	current := t.leaves
	for level := 1; len(current) > 1; level++ {
		next := make([]*Node, 0, (len(current)+1)/2)
		for i := 0; i+1 < len(current); i += 2 {
			next = append(next, t.parent(current[i], current[i+1], level))
		}
		if len(current)%2 == 1 {
			next = append(next, current[len(current)-1])
		}
		current = next
	}
	t.root = current[0]
	return t, nil
}

func (t *Tree) parent(left, right *Node, level int) *Node {
	h := t.alg.New()
	h.Write(left.Hash)
	h.Write(right.Hash)
	p := &Node{
		Range:    types.NewKeyRange(left.Range.Start, left.Range.StartInclusive, right.Range.End, right.Range.EndInclusive),
		Level:    level,
		Children: []types.KeyRange{left.Range, right.Range},
		Hash:     h.Sum(nil),
		kids:     []*Node{left, right},
	}
	t.add(p)
	return p
}

func (t *Tree) add(n *Node) {
	t.index[nodeKey{rng: string(rangecodec.Encode(n.Range)), level: n.Level}] = n
}

func (t *Tree) Root() *Node                 { return t.root }
func (t *Tree) Algorithm() digest.Algorithm { return t.alg }

// Leaves returns the leaves in range order.
func (t *Tree) Leaves() []*Node {
	return append([]*Node(nil), t.leaves...)
}

// Lookup finds the node covering exactly r at the given level.
func (t *Tree) Lookup(r types.KeyRange, level int) (*Node, bool) {
	n, ok := t.index[nodeKey{rng: string(rangecodec.Encode(r)), level: level}]
	return n, ok
}

// Children returns the child nodes of n, or nil for a leaf.
func (t *Tree) Children(n *Node) []*Node {
	if n == nil {
		return nil
	}
	return append([]*Node(nil), n.kids...)
}

// Depth is the level of the root.
func (t *Tree) Depth() int { return t.root.Level }
