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
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pgedge/tablehash/internal/digest"
	"github.com/pgedge/tablehash/internal/rangecodec"
	"github.com/pgedge/tablehash/internal/store"
	"github.com/pgedge/tablehash/pkg/logger"
	"github.com/pgedge/tablehash/pkg/types"
)

const DefaultNumWorkers = 4

// RunResult summarises a hashing run. Leaves counts the digests actually
// written, which is less than Ranges when the run stopped early.
type RunResult struct {
	Table      string
	Output     string
	Algorithm  string
	Ranges     int
	Leaves     int
	Entries    int64
	Incomplete bool
}

// RangeHasher computes one leaf digest per partition range of an input
// table and appends them to an existing output table.
type RangeHasher struct {
	Source  store.Source
	Sink    store.Sink
	Catalog store.Catalog

	Algorithm  string
	NumWorkers int

	// Digester defaults to a ScanDigester over Source.
	Digester RangeDigester
	Observer Observer

	// Splits, when non-nil, replaces the input table's own split points so
	// that replicas with different physical layouts share one partitioning.
	Splits [][]byte
}

func NewRangeHasher(st store.Store, algorithm string, numWorkers int) *RangeHasher {
	return &RangeHasher{
		Source:     st,
		Sink:       st,
		Catalog:    st,
		Algorithm:  algorithm,
		NumWorkers: numWorkers,
	}
}

func (h *RangeHasher) digester() RangeDigester {
	if h.Digester != nil {
		return h.Digester
	}
	return NewScanDigester(h.Source)
}

func (h *RangeHasher) observer() Observer {
	if h.Observer != nil {
		return h.Observer
	}
	return NopObserver{}
}

func (h *RangeHasher) workers() int {
	if h.NumWorkers < 1 {
		return DefaultNumWorkers
	}
	return h.NumWorkers
}

// resolve checks everything that can be rejected before a writer is
// opened.
func (h *RangeHasher) resolve(ctx context.Context, output string) (digest.Algorithm, error) {
	alg, err := digest.Lookup(h.Algorithm)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	if chk, ok := h.digester().(AlgorithmChecker); ok {
		if err := chk.CheckAlgorithm(alg); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
		}
	}
	exists, err := h.Catalog.TableExists(ctx, output)
	if err != nil {
		return nil, fmt.Errorf("%w: checking output table %s: %w", ErrStoreAccess, output, err)
	}
	if !exists {
		return nil, configErr("output table %s does not exist", output)
	}
	return alg, nil
}

// Run hashes input into output. On cancellation of ctx it returns a result
// marked Incomplete together with ErrCancelled; leaves written before the
// cancellation remain in output.
func (h *RangeHasher) Run(ctx context.Context, input, output string) (RunResult, error) {
	res := RunResult{Table: input, Output: output}

	alg, err := h.resolve(ctx, output)
	if err != nil {
		return res, err
	}
	res.Algorithm = alg.Name()

	splits := h.Splits
	if splits == nil {
		splits, err = h.Source.Splits(ctx, input)
		if err != nil {
			return res, fmt.Errorf("%w: reading splits of %s: %w", ErrStoreAccess, input, err)
		}
	}
	ranges := Partition(splits)
	res.Ranges = len(ranges)

	writer, err := h.Sink.OpenWriter(ctx, output)
	if err != nil {
		return res, fmt.Errorf("%w: opening writer for %s: %w", ErrStoreAccess, output, err)
	}

	obs := h.observer()
	obs.RunStarted(input, len(ranges))

	var leaves, entries atomic.Int64
	runErr := h.hashRanges(ctx, input, ranges, alg, writer, obs, &leaves, &entries)

	closeErr := writer.Close(context.WithoutCancel(ctx))

	res.Leaves = int(leaves.Load())
	res.Entries = entries.Load()

	switch {
	case runErr == nil && closeErr == nil && res.Leaves == res.Ranges:
		// Every leaf is durable; a cancellation that lands now changes nothing.
	case ctx.Err() != nil:
		res.Incomplete = true
		err = fmt.Errorf("%w: %d of %d ranges written: %w", ErrCancelled, res.Leaves, res.Ranges, ctx.Err())
	case runErr != nil:
		res.Incomplete = true
		err = fmt.Errorf("%w: %w", ErrStoreAccess, runErr)
	case closeErr != nil:
		res.Incomplete = true
		err = fmt.Errorf("%w: closing writer for %s: %w", ErrStoreAccess, output, closeErr)
	}
	if closeErr != nil && (ctx.Err() != nil || runErr != nil) {
		logger.Warn("closing writer for %s: %v", output, closeErr)
	}

	if mdErr := h.recordMetadata(ctx, output, alg, res); mdErr != nil {
		if err == nil {
			res.Incomplete = true
			err = fmt.Errorf("%w: writing metadata for %s: %w", ErrStoreAccess, output, mdErr)
		} else {
			logger.Warn("writing metadata for %s: %v", output, mdErr)
		}
	}

	obs.RunFinished(input, res, err)
	return res, err
}

func (h *RangeHasher) hashRanges(ctx context.Context, input string, ranges []types.KeyRange, alg digest.Algorithm,
	writer store.Writer, obs Observer, leaves, entries *atomic.Int64) error {

	g, gctx := errgroup.WithContext(ctx)
	jobs := make(chan types.KeyRange)
	dig := h.digester()

	g.Go(func() error {
		defer close(jobs)
		for _, r := range ranges {
			select {
			case jobs <- r:
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})

	for i := 0; i < h.workers(); i++ {
		g.Go(func() error {
			for r := range jobs {
				if err := gctx.Err(); err != nil {
					return err
				}
				sum, n, err := dig.DigestRange(gctx, input, r, alg)
				if err != nil {
					if ctx.Err() == nil && gctx.Err() == nil {
						logger.Error("failed to compute digest for %s: %v", r, err)
					}
					return fmt.Errorf("digest %s: %w", r, err)
				}
				if err := writer.Append(gctx, rangecodec.Encode(r), sum); err != nil {
					if ctx.Err() == nil && gctx.Err() == nil {
						logger.Error("failed to write digest for %s: %v", r, err)
					}
					return fmt.Errorf("write digest %s: %w", r, err)
				}
				leaves.Add(1)
				entries.Add(n)
				obs.RangeHashed(input, r, sum, n)
			}
			return nil
		})
	}

	return g.Wait()
}

// recordMetadata is a no-op for sinks without a metadata sidecar.
func (h *RangeHasher) recordMetadata(ctx context.Context, output string, alg digest.Algorithm, res RunResult) error {
	md, ok := h.Sink.(store.MetadataStore)
	if !ok {
		return nil
	}
	return md.PutMetadata(context.WithoutCancel(ctx), output, types.TableMetadata{
		Algorithm: alg.Name(),
		LeafCount: res.Leaves,
		Complete:  !res.Incomplete,
		UpdatedAt: time.Now().UTC(),
	})
}
