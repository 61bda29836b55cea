package backend

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgedge/tablehash/internal/infra/bolt"
	"github.com/pgedge/tablehash/internal/store/memstore"
	"github.com/pgedge/tablehash/pkg/config"
)

func TestOpenMemory(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Backend = config.BackendMemory
	cfg.Hashing.Algorithm = "SHA-256"
	cfg.Hashing.NumThreads = 7
	cfg.Hashing.OutputSuffix = "_tree"
	cfg.TaskStorePath = "tasks.db"

	env, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { env.Close() })

	assert.IsType(t, &memstore.Store{}, env.Store)
	assert.Nil(t, env.Digester)

	task := env.NewTask()
	assert.Equal(t, env.Store, task.Store)
	assert.Equal(t, "SHA-256", task.Algorithm)
	assert.Equal(t, 7, task.NumWorkers)
	assert.Equal(t, "_tree", task.OutputSuffix)
	assert.Equal(t, "tasks.db", task.TaskStorePath)
	assert.NotEmpty(t, task.TaskID)
}

func TestOpenBolt(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Backend = config.BackendBolt
	cfg.Store.BoltPath = filepath.Join(t.TempDir(), "kv.db")
	cfg.Store.BoltPageSize = 16

	st, err := OpenStore(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	b, ok := st.(*bolt.Store)
	require.True(t, ok)
	assert.Equal(t, 16, b.PageSize)
}

func TestServerDigesterNeedsPostgres(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Backend = config.BackendMemory
	cfg.Hashing.Digester = config.DigesterServer

	_, err := Open(context.Background(), cfg)
	assert.Error(t, err)
}

func TestUnknownBackend(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Backend = "mongo"
	_, err := OpenStore(context.Background(), cfg)
	assert.Error(t, err)
}
