package mtree

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pgedge/tablehash/internal/digest"
)

func TestDivergingIdenticalTrees(t *testing.T) {
	alg := md5Alg(t)
	a, err := NewTree(leavesFor(5), alg)
	require.NoError(t, err)
	b, err := NewTree(leavesFor(5), alg)
	require.NoError(t, err)

	got, err := Diverging(a, b)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestDivergingFindsChangedLeaves(t *testing.T) {
	alg := md5Alg(t)
	left := leavesFor(6)
	right := leavesFor(6)
	right[1].Hash = md5Of("changed")
	right[4].Hash = md5Of("changed too")

	a, err := NewTree(left, alg)
	require.NoError(t, err)
	b, err := NewTree(right, alg)
	require.NoError(t, err)

	got, err := Diverging(a, b)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.True(t, got[0].Equal(left[1].Range))
	require.True(t, got[1].Equal(left[4].Range))
}

func TestDivergingDifferentShapes(t *testing.T) {
	alg := md5Alg(t)
	a, err := NewTree(leavesFor(2), alg)
	require.NoError(t, err)
	b, err := NewTree(leavesFor(1), alg)
	require.NoError(t, err)

	got, err := Diverging(a, b)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.True(t, got[0].IsUnbounded())
}

func TestDivergingAlgorithmMismatch(t *testing.T) {
	sha, err := digest.Lookup("SHA-256")
	require.NoError(t, err)

	a, err := NewTree(leavesFor(1), md5Alg(t))
	require.NoError(t, err)
	leaf := leavesFor(1)[0]
	leaf.Hash = digest.Sum(sha, []byte("x"))
	b, err := NewTree([]Node{leaf}, sha)
	require.NoError(t, err)

	_, err = Diverging(a, b)
	require.ErrorIs(t, err, ErrAlgorithmMismatch)
}
