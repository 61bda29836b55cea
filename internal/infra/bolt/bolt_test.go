package bolt

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgedge/tablehash/internal/consistency/mtree"
	"github.com/pgedge/tablehash/internal/store"
	"github.com/pgedge/tablehash/internal/store/memstore"
	"github.com/pgedge/tablehash/pkg/types"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "tables.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestScanPagesThroughRange(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	s.PageSize = 3
	for i := 0; i < 20; i++ {
		require.NoError(t, s.Put("t", []byte(fmt.Sprintf("k%02d", i)), []byte{byte(i)}))
	}

	tests := []struct {
		name      string
		r         types.KeyRange
		wantFirst string
		wantLen   int
	}{
		{"all", types.Unbounded(), "k00", 20},
		{"exclusive start", types.NewKeyRange([]byte("k05"), false, []byte("k11"), true), "k06", 6},
		{"exclusive end", types.NewKeyRange([]byte("k05"), true, []byte("k11"), false), "k05", 6},
		{"page boundary", types.NewKeyRange(nil, false, []byte("k05"), true), "k00", 6},
		{"tail", types.NewKeyRange([]byte("k17"), false, nil, false), "k18", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.ScanAll(ctx, s, "t", tt.r)
			require.NoError(t, err)
			require.Len(t, got, tt.wantLen)
			assert.Equal(t, tt.wantFirst, string(got[0].Key))
			for i := 1; i < len(got); i++ {
				assert.Less(t, string(got[i-1].Key), string(got[i].Key))
			}
		})
	}
}

func TestCatalogAndMetadata(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	require.NoError(t, s.CreateTable(ctx, "out"))
	require.ErrorIs(t, s.CreateTable(ctx, "out"), store.ErrTableExists)

	_, ok, err := s.GetMetadata(ctx, "out")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.PutMetadata(ctx, "out", types.TableMetadata{Algorithm: "SHA-256", LeafCount: 9, Complete: true}))
	md, ok, err := s.GetMetadata(ctx, "out")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 9, md.LeafCount)

	require.NoError(t, s.DropTable(ctx, "out"))
	require.ErrorIs(t, s.DropTable(ctx, "out"), store.ErrTableNotFound)
	_, _, err = s.GetMetadata(ctx, "out")
	require.ErrorIs(t, err, store.ErrTableNotFound)

	_, err = s.Scan(ctx, "out", types.Unbounded())
	require.ErrorIs(t, err, store.ErrTableNotFound)
}

func TestSplitsAreSorted(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	require.ErrorIs(t, s.AddSplits(ctx, "t", [][]byte{[]byte("x")}), store.ErrTableNotFound)

	require.NoError(t, s.CreateTable(ctx, "t"))
	require.NoError(t, s.AddSplits(ctx, "t", [][]byte{[]byte("q"), []byte("c"), []byte("q")}))
	splits, err := s.Splits(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("c"), []byte("q")}, splits)
}

// A bolt replica and an in-memory replica holding the same rows have the
// same root hash.
func TestRootHashMatchesMemstore(t *testing.T) {
	ctx := context.Background()
	b := openStore(t)
	b.PageSize = 7
	m := memstore.New()
	for i := 0; i < 100; i++ {
		k, v := []byte(fmt.Sprintf("user:%03d", i)), []byte(fmt.Sprintf("{\"n\":%d}", i))
		require.NoError(t, b.Put("users", k, v))
		m.Put("users", k, v)
	}
	splits := [][]byte{[]byte("user:030"), []byte("user:060")}
	require.NoError(t, b.AddSplits(ctx, "users", splits))
	require.NoError(t, m.AddSplits(ctx, "users", splits))

	bh, err := mtree.NewComparator(b, "SHA3-256", 4).CompareTables(ctx, []string{"users"})
	require.NoError(t, err)
	mh, err := mtree.NewComparator(m, "SHA3-256", 2).CompareTables(ctx, []string{"users"})
	require.NoError(t, err)
	assert.Equal(t, mh[0].Hash, bh[0].Hash)
	assert.Equal(t, 3, bh[0].Leaves)
}

func TestEmptyKeysAndSplits(t *testing.T) {
	ctx := context.Background()
	b := openStore(t)
	m := memstore.New()
	rows := map[string]string{"": "root", "a": "1", "b": "2"}
	for k, v := range rows {
		require.NoError(t, b.Put("t", []byte(k), []byte(v)))
		m.Put("t", []byte(k), []byte(v))
	}
	splits := [][]byte{{}, []byte("a")}
	require.NoError(t, b.AddSplits(ctx, "t", splits))
	require.NoError(t, m.AddSplits(ctx, "t", splits))

	got, err := b.Splits(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, [][]byte{{}, []byte("a")}, got)

	entries, err := store.ScanAll(ctx, b, "t", types.NewKeyRange(nil, false, []byte{}, true))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Empty(t, entries[0].Key)
	assert.Equal(t, "root", string(entries[0].Value))

	bh, err := mtree.NewComparator(b, "MD5", 2).CompareTables(ctx, []string{"t"})
	require.NoError(t, err)
	mh, err := mtree.NewComparator(m, "MD5", 2).CompareTables(ctx, []string{"t"})
	require.NoError(t, err)
	assert.Equal(t, mh[0].Hash, bh[0].Hash)
	assert.Equal(t, 3, bh[0].Leaves)
}
