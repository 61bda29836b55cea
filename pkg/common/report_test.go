package common

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgedge/tablehash/pkg/types"
)

func TestWriteDivergenceReport(t *testing.T) {
	dir := t.TempDir()
	out := types.DivergenceOutput{
		Algorithm: "SHA-256",
		Left:      "public.users_merkle",
		Right:     "replica.users_merkle",
		Ranges: []types.KeyRange{
			types.NewKeyRange(nil, false, []byte("m"), true),
			types.NewKeyRange([]byte("t"), false, nil, false),
		},
	}

	path, err := WriteDivergenceReport(out, dir)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(filepath.Base(path), "public_users_merkle_replica_users_merkle_diffs-"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got types.DivergenceOutput
	require.NoError(t, json.Unmarshal(data, &got))
	require.Len(t, got.Ranges, 2)
	assert.True(t, got.Ranges[0].Equal(out.Ranges[0]))

	page, err := os.ReadFile(strings.TrimSuffix(path, ".json") + ".html")
	require.NoError(t, err)
	assert.Contains(t, string(page), "Divergent ranges")
	assert.Contains(t, string(page), "unbounded")
}

func TestWriteDivergenceReportSkipsMatch(t *testing.T) {
	dir := t.TempDir()
	path, err := WriteDivergenceReport(types.DivergenceOutput{Left: "a", Right: "b"}, dir)
	require.NoError(t, err)
	assert.Empty(t, path)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFormatInt64WithCommas(t *testing.T) {
	tests := map[int64]string{0: "0", 999: "999", 1000: "1,000", 1234567: "1,234,567", -45000: "-45,000"}
	for in, want := range tests {
		assert.Equal(t, want, formatInt64WithCommas(in))
	}
}
