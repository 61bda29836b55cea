package mtree

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pgedge/tablehash/pkg/types"
)

func bs(keys ...string) [][]byte {
	out := make([][]byte, len(keys))
	for i, k := range keys {
		out[i] = []byte(k)
	}
	return out
}

func TestPartition(t *testing.T) {
	tests := []struct {
		name       string
		boundaries [][]byte
		want       []types.KeyRange
	}{
		{
			name: "no boundaries",
			want: []types.KeyRange{types.Unbounded()},
		},
		{
			name:       "single boundary",
			boundaries: bs("m"),
			want: []types.KeyRange{
				types.NewKeyRange(nil, false, []byte("m"), true),
				types.NewKeyRange([]byte("m"), false, nil, false),
			},
		},
		{
			name:       "unsorted with duplicates",
			boundaries: bs("c", "a", "c", "b"),
			want: []types.KeyRange{
				types.NewKeyRange(nil, false, []byte("a"), true),
				types.NewKeyRange([]byte("a"), false, []byte("b"), true),
				types.NewKeyRange([]byte("b"), false, []byte("c"), true),
				types.NewKeyRange([]byte("c"), false, nil, false),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Partition(tt.boundaries)
			require.Len(t, got, len(tt.want))
			for i := range tt.want {
				require.True(t, tt.want[i].Equal(got[i]), "range %d: want %s, got %s", i, tt.want[i], got[i])
			}
			require.NoError(t, ValidateCover(got))
		})
	}
}

func TestPartitionDoesNotMutateInput(t *testing.T) {
	in := bs("b", "a")
	Partition(in)
	require.Equal(t, bs("b", "a"), in)
}
