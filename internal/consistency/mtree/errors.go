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

package mtree

import (
	"errors"
	"fmt"

	"github.com/pgedge/tablehash/internal/rangecodec"
)

var (
	// ErrConfiguration covers bad arguments: unknown algorithms, missing
	// output tables and the like. Nothing has been written when it is
	// returned.
	ErrConfiguration = errors.New("configuration error")
	ErrAlreadyExists = fmt.Errorf("%w: output table already exists", ErrConfiguration)

	ErrFormat            = rangecodec.ErrMalformed
	ErrNotFound          = errors.New("no leaf digests found")
	ErrAlgorithmMismatch = errors.New("digest algorithm mismatch")
	ErrStoreAccess       = errors.New("store access failed")
	ErrCancelled         = errors.New("hashing run cancelled")
	ErrIncomplete        = errors.New("leaf set is incomplete")
)

func configErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}
