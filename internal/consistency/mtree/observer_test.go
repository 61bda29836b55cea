package mtree

import (
	"bytes"
	"context"
	"errors"
	"os"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgedge/tablehash/internal/store/memstore"
	"github.com/pgedge/tablehash/pkg/logger"
)

func TestLogObserverWritesRangeDigests(t *testing.T) {
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	logger.SetLevel(log.DebugLevel)
	t.Cleanup(func() {
		logger.SetOutput(os.Stderr)
		logger.SetLevel(log.InfoLevel)
	})

	ctx := context.Background()
	s := memstore.New()
	seedTable(t, s, "t", 4, "row001")
	require.NoError(t, s.CreateTable(ctx, "t_merkle"))

	h := NewRangeHasher(s, "MD5", 1)
	h.Observer = LogObserver{}
	_, err := h.Run(ctx, "t", "t_merkle")
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `computed digest for (-inf, "row001"] of `)
	assert.Contains(t, out, `computed digest for ("row001", +inf) of `)
	assert.Contains(t, out, "hashed t: 2 ranges, 4 entries")
}

func TestMultiObserverFansOut(t *testing.T) {
	a, b := &countingObserver{}, &countingObserver{}
	m := MultiObserver{a, b}
	m.RunStarted("t", 3)
	m.RangeHashed("t", Partition(nil)[0], nil, 0)
	m.RunFinished("t", RunResult{}, errors.New("boom"))

	for _, o := range []*countingObserver{a, b} {
		assert.EqualValues(t, 1, o.started.Load())
		assert.EqualValues(t, 1, o.hashed.Load())
		assert.EqualValues(t, 1, o.finished.Load())
	}
}

func TestProgressObserverCompletes(t *testing.T) {
	var buf bytes.Buffer
	ctx := context.Background()
	s := memstore.New()
	seedTable(t, s, "t", 10, "row003", "row006")
	require.NoError(t, s.CreateTable(ctx, "t_merkle"))

	h := NewRangeHasher(s, "MD5", 2)
	h.Observer = NewProgressObserver(&buf)
	_, err := h.Run(ctx, "t", "t_merkle")
	require.NoError(t, err)
}
