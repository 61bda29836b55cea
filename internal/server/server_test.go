package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgedge/tablehash/internal/backend"
	"github.com/pgedge/tablehash/internal/store/memstore"
	"github.com/pgedge/tablehash/pkg/config"
	"github.com/pgedge/tablehash/pkg/taskstore"
)

func newTestServer(t *testing.T) (*APIServer, *memstore.Store) {
	t.Helper()
	cfg := config.Default()
	cfg.Store.Backend = config.BackendMemory
	cfg.TaskStorePath = filepath.Join(t.TempDir(), "tasks.db")

	st := memstore.New()
	srv, err := New(&backend.Env{Config: cfg, Store: st}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })
	return srv, st
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, r))
	return rec
}

func TestCompareEndpoint(t *testing.T) {
	srv, st := newTestServer(t)
	h := srv.Handler()
	st.Put("a", []byte("k1"), []byte("v1"))
	st.Put("a", []byte("k2"), []byte("v2"))
	st.Put("b", []byte("k1"), []byte("v1"))
	st.Put("b", []byte("k2"), []byte("changed"))

	rec := do(t, h, http.MethodPost, "/api/v1/compare", map[string]any{"tables": []string{"a", "b"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp compareResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Result)
	assert.Equal(t, taskstore.StatusCompleted, resp.Status)
	assert.False(t, resp.Result.Match)
	require.Len(t, resp.Result.Tables, 2)
	assert.NotEqual(t, resp.Result.Tables[0].Hash, resp.Result.Tables[1].Hash)

	t.Run("outputs already exist", func(t *testing.T) {
		rec := do(t, h, http.MethodPost, "/api/v1/compare", map[string]any{"tables": []string{"a", "b"}})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("task status", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/api/v1/tasks/"+resp.TaskID, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var got taskstore.Record
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, taskstore.StatusCompleted, got.Status)
		assert.Equal(t, taskstore.TaskTypeCompareTables, got.TaskType)
	})

	t.Run("task list", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/api/v1/tasks?limit=10", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var got []taskstore.Record
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.NotEmpty(t, got)
	})

	t.Run("root hash", func(t *testing.T) {
		rec := do(t, h, http.MethodPost, "/api/v1/root-hash", map[string]any{"table": "a_merkle"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var got rootHashResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, resp.Result.Tables[0].Hash, got.RootHash)
	})

	t.Run("diff", func(t *testing.T) {
		rec := do(t, h, http.MethodPost, "/api/v1/diff", map[string]any{"left": "a_merkle", "right": "b_merkle"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var got diffResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Len(t, got.Result.Ranges, 1)
	})

	t.Run("metrics", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/metrics", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "tablehash_runs_total")
	})
}

func TestEndpointErrors(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{name: "compare wrong method", method: http.MethodGet, path: "/api/v1/compare", want: http.StatusMethodNotAllowed},
		{name: "compare bad json", method: http.MethodPost, path: "/api/v1/compare", body: "{", want: http.StatusBadRequest},
		{name: "compare no tables", method: http.MethodPost, path: "/api/v1/compare", body: map[string]any{"tables": []string{" "}}, want: http.StatusBadRequest},
		{name: "compare unknown algorithm", method: http.MethodPost, path: "/api/v1/compare", body: map[string]any{"tables": []string{"x"}, "algorithm": "CRC0"}, want: http.StatusBadRequest},
		{name: "root hash missing table", method: http.MethodPost, path: "/api/v1/root-hash", body: map[string]any{}, want: http.StatusBadRequest},
		{name: "root hash unknown table", method: http.MethodPost, path: "/api/v1/root-hash", body: map[string]any{"table": "nope"}, want: http.StatusNotFound},
		{name: "diff missing tables", method: http.MethodPost, path: "/api/v1/diff", body: map[string]any{"left": "a"}, want: http.StatusBadRequest},
		{name: "unknown task", method: http.MethodGet, path: "/api/v1/tasks/does-not-exist", want: http.StatusNotFound},
		{name: "bad limit", method: http.MethodGet, path: "/api/v1/tasks?limit=x", want: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(nil, nil)
	assert.Error(t, err)

	cfg := config.Default()
	cfg.Server.TLSCertFile = "cert.pem"
	_, err = New(&backend.Env{Config: cfg, Store: memstore.New()}, nil)
	assert.Error(t, err)
}

func TestAsyncCompareValidatesBeforeQueueing(t *testing.T) {
	srv, st := newTestServer(t)
	h := srv.Handler()
	st.Put("a", []byte("k1"), []byte("v1"))
	st.Put("b", []byte("k1"), []byte("v1"))
	require.NoError(t, st.CreateTable(context.Background(), "a_merkle"))

	tests := []struct {
		name string
		body map[string]any
		want int
	}{
		{"output exists", map[string]any{"tables": []string{"a"}, "async": true}, http.StatusConflict},
		{"unknown algorithm", map[string]any{"tables": []string{"b"}, "async": true, "algorithm": "CRC-0"}, http.StatusBadRequest},
		{"duplicate table", map[string]any{"tables": []string{"b", "b"}, "async": true}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/api/v1/compare", tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}

	rec := do(t, h, http.MethodPost, "/api/v1/compare", map[string]any{"tables": []string{"b"}, "async": true})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var resp compareResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	srv.wg.Wait()

	rec = do(t, h, http.MethodGet, "/api/v1/tasks/"+resp.TaskID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var got taskstore.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, taskstore.StatusCompleted, got.Status)
}
