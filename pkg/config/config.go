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

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	FileName = "tablehash.yaml"
	EnvVar   = "TABLEHASH_CONFIG"
)

const (
	BackendPostgres = "postgres"
	BackendBolt     = "bolt"
	BackendMemory   = "memory"

	DigesterScan   = "scan"
	DigesterServer = "server"
)

type Config struct {
	Store    StoreConfig    `yaml:"store"`
	Postgres PostgresConfig `yaml:"postgres"`
	Hashing  HashingConfig  `yaml:"hashing"`
	Server   ServerConfig   `yaml:"server"`

	TaskStorePath string `yaml:"task_store_path"`

	ScheduleJobs   []JobDef   `yaml:"schedule_jobs"`
	ScheduleConfig []SchedDef `yaml:"schedule_config"`

	DebugMode bool `yaml:"debug_mode"`
}

type StoreConfig struct {
	Backend      string `yaml:"backend"`
	BoltPath     string `yaml:"bolt_path"`
	BoltPageSize int    `yaml:"bolt_page_size"`
}

type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
	Schema   string `yaml:"schema"`

	PoolSize          int `yaml:"pool_size"`
	StatementTimeout  int `yaml:"statement_timeout"`  // ms
	ConnectionTimeout int `yaml:"connection_timeout"` // s

	// Rows per split bucket when a table's splits are derived from its keys.
	BlockSize int `yaml:"block_size"`
}

type HashingConfig struct {
	Algorithm      string `yaml:"algorithm"`
	NumThreads     int    `yaml:"num_threads"`
	OutputSuffix   string `yaml:"output_suffix"`
	Digester       string `yaml:"digester"`
	SkipCoverCheck bool   `yaml:"skip_cover_check"`
}

type ServerConfig struct {
	ListenAddress string `yaml:"listen_address"`
	ListenPort    int    `yaml:"listen_port"`
	TLSCertFile   string `yaml:"tls_cert_file"`
	TLSKeyFile    string `yaml:"tls_key_file"`
}

type JobDef struct {
	Name   string                 `yaml:"name"`
	Tables []string               `yaml:"tables"`
	Args   map[string]interface{} `yaml:"args,omitempty"`
}

type SchedDef struct {
	JobName         string `yaml:"job_name"`
	CrontabSchedule string `yaml:"crontab_schedule,omitempty"`
	RunFrequency    string `yaml:"run_frequency,omitempty"`
	Enabled         bool   `yaml:"enabled"`
}

// Cfg holds the loaded config for the whole app.
var Cfg *Config

// Default returns a config with every optional field filled in.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Store.Backend == "" {
		c.Store.Backend = BackendPostgres
	}
	if c.Store.BoltPath == "" {
		c.Store.BoltPath = "tablehash.db"
	}
	if c.Store.BoltPageSize <= 0 {
		c.Store.BoltPageSize = 1024
	}
	if c.Postgres.Port == 0 {
		c.Postgres.Port = 5432
	}
	if c.Postgres.SSLMode == "" {
		c.Postgres.SSLMode = "disable"
	}
	if c.Postgres.Schema == "" {
		c.Postgres.Schema = "public"
	}
	if c.Postgres.BlockSize <= 0 {
		c.Postgres.BlockSize = 100000
	}
	if c.Postgres.ConnectionTimeout <= 0 {
		c.Postgres.ConnectionTimeout = 10
	}
	if c.Hashing.Algorithm == "" {
		c.Hashing.Algorithm = "MD5"
	}
	if c.Hashing.NumThreads <= 0 {
		c.Hashing.NumThreads = 4
	}
	if c.Hashing.OutputSuffix == "" {
		c.Hashing.OutputSuffix = "_merkle"
	}
	if c.Hashing.Digester == "" {
		c.Hashing.Digester = DigesterScan
	}
	if c.Server.ListenAddress == "" {
		c.Server.ListenAddress = "0.0.0.0"
	}
	if c.Server.ListenPort == 0 {
		c.Server.ListenPort = 5000
	}
}

// Validate checks the enumerated settings and their cross dependencies.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendPostgres, BackendBolt, BackendMemory:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	switch c.Hashing.Digester {
	case DigesterScan:
	case DigesterServer:
		if c.Store.Backend != BackendPostgres {
			return fmt.Errorf("digester %q requires the %s backend", DigesterServer, BackendPostgres)
		}
	default:
		return fmt.Errorf("unknown digester %q", c.Hashing.Digester)
	}
	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		return fmt.Errorf("server.tls_cert_file and server.tls_key_file must be set together")
	}
	return nil
}

func (p PostgresConfig) StatementTimeoutDuration() time.Duration {
	return time.Duration(p.StatementTimeout) * time.Millisecond
}

func (p PostgresConfig) ConnectionTimeoutDuration() time.Duration {
	return time.Duration(p.ConnectionTimeout) * time.Second
}

// Parse decodes YAML into a Config, fills defaults and validates it.
func Parse(data []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Load reads and parses path into a Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Init loads the config and assigns it to the package variable.
func Init(path string) error {
	c, err := Load(path)
	if err != nil {
		return err
	}
	Cfg = c
	return nil
}

// Get returns the loaded config, or the defaults when none was loaded.
func Get() *Config {
	if Cfg == nil {
		return Default()
	}
	return Cfg
}

// SearchPaths lists candidate config files in order of precedence:
// $TABLEHASH_CONFIG, the current dir, $HOME/.config/tablehash/, /etc/tablehash/.
func SearchPaths() []string {
	var paths []string
	if envPath := strings.TrimSpace(os.Getenv(EnvVar)); envPath != "" {
		paths = append(paths, envPath)
	}
	paths = append(paths, FileName)
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "tablehash", FileName))
	}
	return append(paths, filepath.Join("/etc", "tablehash", FileName))
}

// Find returns the first existing file from SearchPaths.
func Find() (string, error) {
	for _, p := range SearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("config file '%s' not found", FileName)
}
