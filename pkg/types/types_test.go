package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewKeyRangeDropsInclusivityOnUnboundedSides(t *testing.T) {
	r := NewKeyRange(nil, true, nil, true)
	assert.False(t, r.StartInclusive)
	assert.False(t, r.EndInclusive)
	assert.True(t, r.IsUnbounded())
	require.NoError(t, r.Validate())
}

func TestKeyRangeValidate(t *testing.T) {
	tests := []struct {
		name    string
		r       KeyRange
		wantErr bool
	}{
		{"unbounded", Unbounded(), false},
		{"ordered", KeyRange{Start: []byte("a"), End: []byte("b")}, false},
		{"single key", KeyRange{Start: []byte("a"), StartInclusive: true, End: []byte("a"), EndInclusive: true}, false},
		{"half open single key", KeyRange{Start: []byte("a"), StartInclusive: true, End: []byte("a")}, true},
		{"reversed", KeyRange{Start: []byte("b"), End: []byte("a")}, true},
		{"inclusive unbounded start", KeyRange{StartInclusive: true, End: []byte("a")}, true},
		{"inclusive unbounded end", KeyRange{Start: []byte("a"), EndInclusive: true}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.r.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestKeyRangeContains(t *testing.T) {
	r := NewKeyRange([]byte("b"), false, []byte("d"), true)
	assert.False(t, r.Contains([]byte("a")))
	assert.False(t, r.Contains([]byte("b")))
	assert.True(t, r.Contains([]byte("b\x00")))
	assert.True(t, r.Contains([]byte("c")))
	assert.True(t, r.Contains([]byte("d")))
	assert.False(t, r.Contains([]byte("d\x00")))

	assert.True(t, Unbounded().Contains([]byte{}))
	assert.True(t, NewKeyRange(nil, false, []byte("b"), true).Contains([]byte("")))
}

func TestCompareRanges(t *testing.T) {
	lowOpen := NewKeyRange(nil, false, []byte("a"), true)
	mid := NewKeyRange([]byte("a"), false, []byte("c"), true)
	midIncl := NewKeyRange([]byte("a"), true, []byte("c"), true)
	midShort := NewKeyRange([]byte("a"), false, []byte("c"), false)
	high := NewKeyRange([]byte("c"), false, nil, false)

	assert.Equal(t, -1, CompareRanges(lowOpen, mid))
	assert.Equal(t, -1, CompareRanges(midIncl, mid))
	assert.Equal(t, -1, CompareRanges(midShort, mid))
	assert.Equal(t, 1, CompareRanges(high, mid))
	assert.Equal(t, 0, CompareRanges(mid, NewKeyRange([]byte("a"), false, []byte("c"), true)))
	assert.True(t, mid.Equal(mid))
}

func TestKeyRangeString(t *testing.T) {
	assert.Equal(t, `(-inf, +inf)`, Unbounded().String())
	assert.Equal(t, `(-inf, "4"]`, NewKeyRange(nil, false, []byte("4"), true).String())
	assert.Equal(t, `["a", "b")`, NewKeyRange([]byte("a"), true, []byte("b"), false).String())
}

func TestKeyRangeJSON(t *testing.T) {
	r := NewKeyRange([]byte{0x00, 0x01}, false, nil, false)
	raw, err := json.Marshal(r)
	require.NoError(t, err)
	assert.JSONEq(t, `{"start":"0001","start_inclusive":false,"end":null,"end_inclusive":false}`, string(raw))

	var back KeyRange
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.True(t, r.Equal(back))
	assert.True(t, back.EndUnbounded())

	require.Error(t, json.Unmarshal([]byte(`{"start":"zz"}`), &back))
}
