package mtree

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pgedge/tablehash/pkg/types"
)

func TestValidateCover(t *testing.T) {
	kr := types.NewKeyRange
	a, b := []byte("a"), []byte("b")

	tests := []struct {
		name    string
		ranges  []types.KeyRange
		wantErr error
	}{
		{"empty", nil, ErrNotFound},
		{"whole space", []types.KeyRange{types.Unbounded()}, nil},
		{"partition", Partition(bs("a", "b")), nil},
		{"inclusive start side", []types.KeyRange{kr(nil, false, a, false), kr(a, true, nil, false)}, nil},
		{"missing low end", []types.KeyRange{kr(a, false, nil, false)}, ErrIncomplete},
		{"missing high end", []types.KeyRange{kr(nil, false, a, true)}, ErrIncomplete},
		{"gap", []types.KeyRange{kr(nil, false, a, true), kr(b, false, nil, false)}, ErrIncomplete},
		{"boundary key dropped", []types.KeyRange{kr(nil, false, a, false), kr(a, false, nil, false)}, ErrIncomplete},
		{"boundary key twice", []types.KeyRange{kr(nil, false, a, true), kr(a, true, nil, false)}, ErrFormat},
		{"overlap", []types.KeyRange{kr(nil, false, b, true), kr(a, false, nil, false)}, ErrFormat},
		{"two unbounded", []types.KeyRange{types.Unbounded(), kr(a, false, nil, false)}, ErrFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCover(tt.ranges)
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}
