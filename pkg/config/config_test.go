package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAppliesDefaults(t *testing.T) {
	c, err := Parse([]byte("store:\n  backend: memory\n"))
	require.NoError(t, err)

	assert.Equal(t, BackendMemory, c.Store.Backend)
	assert.Equal(t, "MD5", c.Hashing.Algorithm)
	assert.Equal(t, 4, c.Hashing.NumThreads)
	assert.Equal(t, "_merkle", c.Hashing.OutputSuffix)
	assert.Equal(t, DigesterScan, c.Hashing.Digester)
	assert.Equal(t, "public", c.Postgres.Schema)
	assert.Equal(t, 5432, c.Postgres.Port)
	assert.Equal(t, 5000, c.Server.ListenPort)
}

func TestParseFullConfig(t *testing.T) {
	data := []byte(`
store:
  backend: postgres
postgres:
  host: db1
  dbname: kv
  statement_timeout: 1500
  connection_timeout: 3
hashing:
  algorithm: SHA-256
  num_threads: 8
  digester: server
schedule_jobs:
  - name: nightly
    tables: [a, b]
schedule_config:
  - job_name: nightly
    run_frequency: 24h
    enabled: true
`)
	c, err := Parse(data)
	require.NoError(t, err)

	assert.Equal(t, "db1", c.Postgres.Host)
	assert.Equal(t, 1500*time.Millisecond, c.Postgres.StatementTimeoutDuration())
	assert.Equal(t, 3*time.Second, c.Postgres.ConnectionTimeoutDuration())
	assert.Equal(t, "SHA-256", c.Hashing.Algorithm)
	assert.Equal(t, 8, c.Hashing.NumThreads)
	require.Len(t, c.ScheduleJobs, 1)
	assert.Equal(t, []string{"a", "b"}, c.ScheduleJobs[0].Tables)
	require.Len(t, c.ScheduleConfig, 1)
	assert.True(t, c.ScheduleConfig[0].Enabled)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr bool
	}{
		{name: "unknown backend", yaml: "store:\n  backend: mongo\n", wantErr: true},
		{name: "unknown digester", yaml: "hashing:\n  digester: magic\n", wantErr: true},
		{name: "server digester on bolt", yaml: "store:\n  backend: bolt\nhashing:\n  digester: server\n", wantErr: true},
		{name: "tls cert without key", yaml: "server:\n  tls_cert_file: a.pem\n", wantErr: true},
		{name: "bolt backend", yaml: "store:\n  backend: bolt\n  bolt_path: /tmp/x.db\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestInitAndGet(t *testing.T) {
	t.Cleanup(func() { Cfg = nil })

	Cfg = nil
	assert.Equal(t, BackendPostgres, Get().Store.Backend)

	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte("store:\n  backend: bolt\n"), 0o644))
	require.NoError(t, Init(path))
	assert.Equal(t, BackendBolt, Get().Store.Backend)

	assert.Error(t, Init(filepath.Join(t.TempDir(), "missing.yaml")))
}

func TestFindPrefersEnvVar(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))
	t.Setenv(EnvVar, path)

	assert.Equal(t, path, SearchPaths()[0])
	found, err := Find()
	require.NoError(t, err)
	assert.Equal(t, path, found)
}
