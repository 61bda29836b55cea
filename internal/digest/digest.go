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

// Package digest resolves named digest algorithms. Two digests are only
// comparable when they were produced by the same named algorithm.
package digest

import (
	"crypto/md5"
	"crypto/sha1"
	stdsha256 "crypto/sha256"
	"crypto/sha512"
	"errors"
	"fmt"
	"hash"
	"sort"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	sha256 "github.com/minio/sha256-simd"
	"github.com/spaolacci/murmur3"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"
	"lukechampine.com/blake3"
)

var ErrUnknownAlgorithm = errors.New("unknown digest algorithm")

// Algorithm is a named, incremental digest primitive.
type Algorithm interface {
	Name() string
	Size() int
	New() hash.Hash
}

type namedAlgorithm struct {
	name string
	size int
	fn   func() hash.Hash
}

func (a namedAlgorithm) Name() string   { return a.name }
func (a namedAlgorithm) Size() int      { return a.size }
func (a namedAlgorithm) New() hash.Hash { return a.fn() }

var (
	registryMu sync.RWMutex
	registry   = map[string]namedAlgorithm{}
)

func init() {
	Register("MD5", md5.Size, md5.New)
	Register("SHA-1", sha1.Size, sha1.New)
	Register("SHA-224", stdsha256.Size224, stdsha256.New224)
	Register("SHA-256", sha256.Size, sha256.New)
	Register("SHA-384", sha512.Size384, sha512.New384)
	Register("SHA-512", sha512.Size, sha512.New)
	Register("SHA3-256", 32, sha3.New256)
	Register("SHA3-512", 64, sha3.New512)
	Register("BLAKE2B-256", blake2b.Size256, func() hash.Hash {
		h, _ := blake2b.New256(nil)
		return h
	})
	Register("BLAKE2B-512", blake2b.Size, func() hash.Hash {
		h, _ := blake2b.New512(nil)
		return h
	})
	Register("BLAKE3", 32, func() hash.Hash { return blake3.New(32, nil) })
	Register("XXH64", 8, func() hash.Hash { return xxhash.New() })
	Register("MURMUR3-128", 16, func() hash.Hash { return murmur3.New128() })
}

// normalise folds case and drops separators so "sha256", "SHA-256" and
// "Sha_256" all resolve to the same entry.
func normalise(name string) string {
	r := strings.NewReplacer("-", "", "_", "", " ", "")
	return strings.ToUpper(r.Replace(strings.TrimSpace(name)))
}

// Register adds an algorithm under name. Registering an existing name
// replaces it.
func Register(name string, size int, fn func() hash.Hash) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[normalise(name)] = namedAlgorithm{name: name, size: size, fn: fn}
}

// Lookup resolves an algorithm by name.
func Lookup(name string) (Algorithm, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: algorithm name is required", ErrUnknownAlgorithm)
	}
	registryMu.RLock()
	defer registryMu.RUnlock()
	alg, ok := registry[normalise(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, name)
	}
	return alg, nil
}

// SameAlgorithm reports whether two names resolve to the same algorithm.
func SameAlgorithm(a, b string) bool {
	return normalise(a) == normalise(b)
}

// Names lists the canonical names of all registered algorithms.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for _, alg := range registry {
		names = append(names, alg.name)
	}
	sort.Strings(names)
	return names
}

// Sum is a convenience for digesting the concatenation of parts with a
// fresh instance of alg, one Write per part.
func Sum(alg Algorithm, parts ...[]byte) []byte {
	h := alg.New()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}
