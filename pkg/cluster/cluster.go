// Copyright 2024 The Mtsum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package cluster implements the distributed driver. The file is
// partitioned across ranks as one level of the same balanced recursion
// the local engine uses; each rank builds the tree of its own sub-range,
// the per-rank roots are gathered to rank 0 in rank order, and rank 0
// folds them with an identical partition shape into the global root.
// Because the fold reuses the exact shape, a distributed run with R
// ranks produces the root a single-process run over a tree of precisely
// that shape would; changing R changes the shape and therefore the root.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/afero"

	"github.com/mtsum/mtsum/pkg/builder"
	"github.com/mtsum/mtsum/pkg/collective"
	"github.com/mtsum/mtsum/pkg/fileio"
	"github.com/mtsum/mtsum/pkg/hashalg"
	"github.com/mtsum/mtsum/pkg/logging"
	"github.com/mtsum/mtsum/pkg/merkle"
	"github.com/mtsum/mtsum/pkg/partition"
)

// ErrFileTooSmall is returned when the per-rank share of the file is
// below the balance threshold; such files belong to single-process runs.
var ErrFileTooSmall = errors.New("cluster: file is too small")

// Options tune a Driver.
type Options struct {
	// Workers is the per-rank concurrency degree.
	Workers int
	// Partition overrides the partition configuration; the zero value
	// selects the production block size and balance threshold.
	Partition partition.Config
}

// Driver runs the distributed computation on one rank.
type Driver struct {
	transport collective.Transport
	alg       hashalg.Algorithm
	fs        afero.Fs
	logger    logging.Logger
	metrics   metrics
	builder   *builder.Builder
	cfg       partition.Config
}

// New returns a Driver over the given transport.
func New(t collective.Transport, alg hashalg.Algorithm, fs afero.Fs, logger logging.Logger, o Options) *Driver {
	if o.Partition == (partition.Config{}) {
		o.Partition = partition.Default()
	}
	return &Driver{
		transport: t,
		alg:       alg,
		fs:        fs,
		logger:    logger,
		metrics:   newMetrics(),
		builder: builder.New(alg, fs, logger, builder.Options{
			Workers:   o.Workers,
			Partition: o.Partition,
		}),
		cfg: o.Partition,
	}
}

// Partitions returns the per-rank ranges for the file at path together
// with the file size.
func (d *Driver) Partitions(path string) ([]partition.Range, int64, error) {
	size, err := fileio.NewReader(d.fs).Size(path)
	if err != nil {
		return nil, 0, err
	}
	ranks := d.transport.Size()
	if size/int64(ranks) < d.cfg.BalanceThreshold {
		return nil, 0, fmt.Errorf("%w: %d bytes across %d ranks", ErrFileTooSmall, size, ranks)
	}
	parts, err := d.cfg.Ranks(size, ranks)
	if err != nil {
		return nil, 0, err
	}
	return parts, size, nil
}

// Run executes the per-rank algorithm on the file at path. On rank 0
// the returned tree is the folded global tree; other ranks return nil.
func (d *Driver) Run(ctx context.Context, path string) (*merkle.Tree, error) {
	rank := d.transport.Rank()
	parts, _, err := d.Partitions(path)
	if err != nil {
		return nil, err
	}
	own := parts[rank]
	d.logger.Debugf("cluster: rank %d/%d owns offset %d size %d", rank, len(parts), own.Offset, own.Size)

	if err := d.transport.Barrier(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	local, err := d.builder.BuildRange(ctx, path, own)
	if err != nil {
		return nil, err
	}
	d.metrics.LocalBuildSeconds.Observe(time.Since(start).Seconds())

	gathered, err := d.transport.Gather(ctx, local.Root.Digest)
	if err != nil {
		return nil, err
	}
	if err := d.transport.Barrier(ctx); err != nil {
		return nil, err
	}
	if rank != 0 {
		return nil, nil
	}

	global, err := merkle.Fold(d.alg, gathered)
	if err != nil {
		return nil, err
	}
	d.metrics.RunsCompleted.Inc()
	d.logger.Debugf("cluster: global root %s", global.Hex())
	return global, nil
}
