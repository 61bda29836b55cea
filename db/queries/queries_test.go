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

package queries

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgedge/tablehash/db/queries/mocks"
	"github.com/pgedge/tablehash/pkg/types"
)

type mockRow struct {
	scanArgs []any
	scanErr  error
}

func (m *mockRow) Scan(dest ...any) error {
	if m.scanErr != nil {
		return m.scanErr
	}
	for i := range dest {
		if i >= len(m.scanArgs) {
			break
		}
		reflect.ValueOf(dest[i]).Elem().Set(reflect.ValueOf(m.scanArgs[i]))
	}
	return nil
}

func TestSanitiseIdentifier(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "valid identifier", input: "valid_identifier"},
		{name: "valid identifier with numbers", input: "valid_identifier_123"},
		{name: "identifier starting with underscore", input: "_valid_identifier"},
		{name: "invalid identifier - starts with number", input: "1invalid", wantErr: true},
		{name: "invalid identifier - contains special character", input: "invalid-char", wantErr: true},
		{name: "invalid identifier - contains space", input: "invalid space", wantErr: true},
		{name: "invalid identifier - contains quote", input: `bad"name`, wantErr: true},
		{name: "empty identifier", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := SanitiseIdentifier(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("SanitiseIdentifier(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestQualifiedName(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantSchema string
		wantTable  string
		wantErr    bool
	}{
		{name: "bare table", input: "users", wantSchema: "public", wantTable: "users"},
		{name: "qualified table", input: "app.users", wantSchema: "app", wantTable: "users"},
		{name: "too many parts", input: "a.b.c", wantErr: true},
		{name: "invalid table", input: "app.bad-name", wantErr: true},
		{name: "invalid schema", input: "1app.users", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			schema, table, err := QualifiedName(tt.input, "public")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantSchema, schema)
			assert.Equal(t, tt.wantTable, table)
		})
	}
}

func TestRangePredicate(t *testing.T) {
	tests := []struct {
		name     string
		r        types.KeyRange
		first    int
		wantPred string
		wantArgs []any
	}{
		{
			name:     "unbounded",
			r:        types.Unbounded(),
			first:    1,
			wantPred: "TRUE",
		},
		{
			name:     "leading range",
			r:        types.NewKeyRange(nil, false, []byte("m"), true),
			first:    1,
			wantPred: "k <= $1",
			wantArgs: []any{[]byte("m")},
		},
		{
			name:     "trailing range",
			r:        types.NewKeyRange([]byte("m"), false, nil, false),
			first:    1,
			wantPred: "k > $1",
			wantArgs: []any{[]byte("m")},
		},
		{
			name:     "bounded range with offset",
			r:        types.NewKeyRange([]byte("a"), true, []byte("m"), false),
			first:    3,
			wantPred: "k >= $3 AND k < $4",
			wantArgs: []any{[]byte("a"), []byte("m")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pred, args := RangePredicate(tt.r, tt.first)
			assert.Equal(t, tt.wantPred, pred)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestScanRangeSQL(t *testing.T) {
	sql, args, err := ScanRangeSQL("public", "users", types.NewKeyRange([]byte("a"), false, []byte("z"), true))
	require.NoError(t, err)
	for _, want := range []string{`FROM "public"."users"`, "WHERE k > $1 AND k <= $2", "ORDER BY k"} {
		if !strings.Contains(sql, want) {
			t.Errorf("ScanRangeSQL() query = %q, want to contain %q", sql, want)
		}
	}
	assert.Len(t, args, 2)
}

func TestDigestRangeSQL(t *testing.T) {
	tests := []struct {
		name          string
		r             types.KeyRange
		wantContains  []string
		wantArgsCount int
	}{
		{
			name:          "unbounded range puts algorithm first",
			r:             types.Unbounded(),
			wantContains:  []string{"WHERE TRUE", "digest(", "), $1 )", "int4send(octet_length(k))"},
			wantArgsCount: 1,
		},
		{
			name:          "bounded range appends algorithm",
			r:             types.NewKeyRange([]byte("a"), false, []byte("m"), true),
			wantContains:  []string{"WHERE k > $1 AND k <= $2", "$3"},
			wantArgsCount: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args, err := DigestRangeSQL("public", "users", tt.r, "sha256")
			require.NoError(t, err)
			compact := strings.Join(strings.Fields(sql), " ")
			for _, want := range tt.wantContains {
				want = strings.Join(strings.Fields(want), " ")
				if !strings.Contains(compact, want) && !strings.Contains(sql, want) {
					t.Errorf("DigestRangeSQL() query = %q, want to contain %q", compact, want)
				}
			}
			require.Len(t, args, tt.wantArgsCount)
			assert.Equal(t, "sha256", args[len(args)-1])
		})
	}
}

func TestRowCount(t *testing.T) {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	expectedQuery := `SELECT count(*) FROM "public"."users"`
	tests := []struct {
		name      string
		mockSetup func(m *mocks.MockDBQuerier)
		want      int64
		wantErr   bool
	}{
		{
			name: "successful query",
			mockSetup: func(m *mocks.MockDBQuerier) {
				m.EXPECT().QueryRow(gomock.Any(), expectedQuery).Return(&mockRow{scanArgs: []any{int64(42)}})
			},
			want: 42,
		},
		{
			name: "scan returns error",
			mockSetup: func(m *mocks.MockDBQuerier) {
				m.EXPECT().QueryRow(gomock.Any(), expectedQuery).Return(&mockRow{scanErr: fmt.Errorf("database error")})
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := mocks.NewMockDBQuerier(ctrl)
			tt.mockSetup(m)

			got, err := RowCount(context.Background(), m, "public", "users")
			if (err != nil) != tt.wantErr {
				t.Fatalf("RowCount() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("RowCount() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTableExists(t *testing.T) {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	m := mocks.NewMockDBQuerier(ctrl)
	m.EXPECT().
		QueryRow(gomock.Any(), gomock.Any(), "public", "users").
		Return(&mockRow{scanArgs: []any{true}})

	ok, err := TableExists(context.Background(), m, "public", "users")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDigestRange(t *testing.T) {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	r := types.NewKeyRange([]byte("a"), false, nil, false)
	sum := []byte{0xde, 0xad, 0xbe, 0xef}

	m := mocks.NewMockDBQuerier(ctrl)
	m.EXPECT().
		QueryRow(gomock.Any(), gomock.Any(), []byte("a"), "md5").
		Return(&mockRow{scanArgs: []any{int64(7), sum}})

	got, n, err := DigestRange(context.Background(), m, "public", "users", r, "md5")
	require.NoError(t, err)
	assert.Equal(t, sum, got)
	assert.Equal(t, int64(7), n)
}

func TestGetMetadata(t *testing.T) {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	t.Run("missing row", func(t *testing.T) {
		m := mocks.NewMockDBQuerier(ctrl)
		m.EXPECT().
			QueryRow(gomock.Any(), gomock.Any(), "public.users_merkle").
			Return(&mockRow{scanErr: pgx.ErrNoRows})

		_, ok, err := GetMetadata(context.Background(), m, "public", "public.users_merkle")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("query failure", func(t *testing.T) {
		m := mocks.NewMockDBQuerier(ctrl)
		m.EXPECT().
			QueryRow(gomock.Any(), gomock.Any(), "public.users_merkle").
			Return(&mockRow{scanErr: fmt.Errorf("connection reset")})

		_, ok, err := GetMetadata(context.Background(), m, "public", "public.users_merkle")
		assert.Error(t, err)
		assert.False(t, ok)
	})
}
