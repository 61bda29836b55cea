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
	"strings"

	"github.com/pgedge/tablehash/db/queries"
	"github.com/pgedge/tablehash/internal/consistency/mtree"
	"github.com/pgedge/tablehash/internal/digest"
	"github.com/pgedge/tablehash/pkg/types"
)

// pgcrypto's digest() names for the registered algorithms it supports.
var pgcryptoAlgorithms = map[string]string{
	"MD5":     "md5",
	"SHA-1":   "sha1",
	"SHA-224": "sha224",
	"SHA-256": "sha256",
	"SHA-384": "sha384",
	"SHA-512": "sha512",
}

// ServerDigester computes leaf digests inside Postgres so that only the
// digest crosses the wire. Its output is byte-identical to
// mtree.ScanDigester over the same rows.
type ServerDigester struct {
	store *Store
}

var (
	_ mtree.RangeDigester    = (*ServerDigester)(nil)
	_ mtree.AlgorithmChecker = (*ServerDigester)(nil)
)

// NewServerDigester installs pgcrypto when it is missing.
func NewServerDigester(ctx context.Context, s *Store) (*ServerDigester, error) {
	if err := queries.EnsurePgcrypto(ctx, s.pool); err != nil {
		return nil, err
	}
	return &ServerDigester{store: s}, nil
}

func pgcryptoName(alg digest.Algorithm) (string, bool) {
	name, ok := pgcryptoAlgorithms[strings.ToUpper(alg.Name())]
	return name, ok
}

func (d *ServerDigester) CheckAlgorithm(alg digest.Algorithm) error {
	if _, ok := pgcryptoName(alg); !ok {
		return fmt.Errorf("algorithm %s is not supported by pgcrypto", alg.Name())
	}
	return nil
}

func (d *ServerDigester) DigestRange(ctx context.Context, table string, r types.KeyRange, alg digest.Algorithm) ([]byte, int64, error) {
	name, ok := pgcryptoName(alg)
	if !ok {
		return nil, 0, d.CheckAlgorithm(alg)
	}
	schema, tbl, _, err := d.store.resolve(table)
	if err != nil {
		return nil, 0, err
	}
	return queries.DigestRange(ctx, d.store.pool, schema, tbl, r, name)
}
