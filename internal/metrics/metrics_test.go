package metrics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgedge/tablehash/internal/consistency/mtree"
	"github.com/pgedge/tablehash/internal/store/memstore"
)

func TestRecorderCountsRun(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	for i := 0; i < 12; i++ {
		s.Put("t", []byte(fmt.Sprintf("k%02d", i)), []byte("v"))
	}
	require.NoError(t, s.AddSplits(ctx, "t", [][]byte{[]byte("k04"), []byte("k08")}))
	require.NoError(t, s.CreateTable(ctx, "t_merkle"))

	rec := NewRecorder(prometheus.NewRegistry())
	h := mtree.NewRangeHasher(s, "MD5", 2)
	h.Observer = rec
	_, err := h.Run(ctx, "t", "t_merkle")
	require.NoError(t, err)

	assert.Equal(t, 3.0, testutil.ToFloat64(rec.rangesHashed.WithLabelValues("t")))
	assert.Equal(t, 12.0, testutil.ToFloat64(rec.entries.WithLabelValues("t")))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.runs.WithLabelValues("t", "success")))
	assert.Equal(t, 0.0, testutil.ToFloat64(rec.inProgress))
}

func TestResultLabel(t *testing.T) {
	assert.Equal(t, "success", resultLabel(nil))
	assert.Equal(t, "cancelled", resultLabel(fmt.Errorf("x: %w", mtree.ErrCancelled)))
	assert.Equal(t, "failure", resultLabel(errors.New("boom")))
}

func TestHandlerServesMetrics(t *testing.T) {
	rec := NewRecorder(nil)
	rec.RunStarted("orders", 1)
	rec.RunFinished("orders", mtree.RunResult{}, nil)

	srv := httptest.NewServer(rec.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `tablehash_runs_total{result="success",table="orders"} 1`)
}
