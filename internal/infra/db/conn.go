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

package db

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pgedge/tablehash/pkg/config"
)

func toConnectionString(pg config.PostgresConfig) string {
	var parts []string
	if host := strings.TrimSpace(pg.Host); host != "" {
		parts = append(parts, "host="+host)
	}
	if pg.Port != 0 {
		parts = append(parts, fmt.Sprintf("port=%d", pg.Port))
	}
	if pg.User != "" {
		parts = append(parts, "user="+pg.User)
	}
	if pg.Password != "" {
		parts = append(parts, "password="+pg.Password)
	}
	if pg.DBName != "" {
		parts = append(parts, "dbname="+pg.DBName)
	}
	sslMode := pg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	parts = append(parts, "sslmode="+sslMode)
	if pg.ConnectionTimeout > 0 {
		parts = append(parts, "connect_timeout="+strconv.Itoa(pg.ConnectionTimeout))
	}
	return strings.Join(parts, " ")
}

// NewPool opens a pool sized for poolSize concurrent range digests. A
// configured statement timeout is applied to every connection.
func NewPool(ctx context.Context, pg config.PostgresConfig, poolSize int) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(toConnectionString(pg))
	if err != nil {
		return nil, err
	}
	if poolSize > 0 {
		cfg.MaxConns = int32(poolSize)
	}
	if pg.StatementTimeout > 0 {
		cfg.ConnConfig.RuntimeParams["statement_timeout"] = strconv.Itoa(pg.StatementTimeout)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", pg.Host, err)
	}
	return pool, nil
}
