// Copyright 2024 The Mtsum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package builder

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/mtsum/mtsum/pkg/bufferpool"
	"github.com/mtsum/mtsum/pkg/fileio"
	"github.com/mtsum/mtsum/pkg/hashalg"
	"github.com/mtsum/mtsum/pkg/logging"
	"github.com/mtsum/mtsum/pkg/merkle"
	"github.com/mtsum/mtsum/pkg/partition"
)

// DefaultWorkers is the worker count used when Options leaves it unset.
const DefaultWorkers = 8

// ErrEmptyFile is returned when the input file has no bytes; the tree of
// an empty range is undefined.
var ErrEmptyFile = errors.New("builder: empty input file")

// Options tune a Builder.
type Options struct {
	// Workers is the concurrency degree: the admission semaphore width
	// and the buffer pool population.
	Workers int
	// Partition overrides the partition configuration. The zero value
	// selects the production block size and balance threshold.
	Partition partition.Config
}

// Builder constructs Merkle trees over file ranges.
type Builder struct {
	alg     hashalg.Algorithm
	reader  *fileio.Reader
	logger  logging.Logger
	metrics metrics
	cfg     partition.Config
	workers int
}

// New returns a Builder hashing with alg over files of fs.
func New(alg hashalg.Algorithm, fs afero.Fs, logger logging.Logger, o Options) *Builder {
	if o.Workers < 1 {
		o.Workers = DefaultWorkers
	}
	if o.Partition == (partition.Config{}) {
		o.Partition = partition.Default()
	}
	return &Builder{
		alg:     alg,
		reader:  fileio.NewReader(fs),
		logger:  logger,
		metrics: newMetrics(),
		cfg:     o.Partition,
		workers: o.Workers,
	}
}

// Build constructs the tree of the whole file at path.
func (b *Builder) Build(ctx context.Context, path string) (*merkle.Tree, error) {
	size, err := b.reader.Size(path)
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, ErrEmptyFile
	}
	return b.BuildRange(ctx, path, partition.Range{Offset: 0, Size: size})
}

// BuildRange constructs the tree of the given sub-range of the file at
// path. The range's top node is tagged as the tree root. Task-local
// errors surface at the join; the first error aborts the run and no
// partial tree is returned.
func (b *Builder) BuildRange(ctx context.Context, path string, r partition.Range) (*merkle.Tree, error) {
	if r.Size <= 0 {
		return nil, ErrEmptyFile
	}
	b.logger.Debugf("builder: %s range offset %d size %d workers %d", path, r.Offset, r.Size, b.workers)

	s := &run{
		b:    b,
		path: path,
		pool: bufferpool.New(b.workers, b.cfg.BlockSize),
		sem:  semaphore.NewWeighted(int64(b.workers)),
	}
	root, err := s.subtree(ctx, r, true)
	if err != nil {
		return nil, err
	}
	tree := merkle.New(b.alg)
	tree.Root = root
	b.logger.Debugf("builder: %s root %s", path, tree.Hex())
	return tree, nil
}

// run holds the per-build resources: the buffer pool and the admission
// semaphore. The semaphore gates scheduling while the pool hands out
// physical buffers; both have the same capacity.
type run struct {
	b    *Builder
	path string
	pool *bufferpool.Pool
	sem  *semaphore.Weighted
}

func (s *run) subtree(ctx context.Context, r partition.Range, top bool) (*merkle.Node, error) {
	if s.b.cfg.Leaf(r) {
		return s.leaf(ctx, r, top)
	}
	left, right := s.b.cfg.Split(r)
	n := &merkle.Node{Kind: merkle.Internal}
	if top {
		n.Kind = merkle.Root
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		n.Left, err = s.subtree(gctx, left, false)
		return err
	})
	g.Go(func() error {
		var err error
		n.Right, err = s.subtree(gctx, right, false)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := n.HashChildren(s.b.alg); err != nil {
		return nil, err
	}
	s.b.metrics.InternalNodes.Inc()
	return n, nil
}

// leaf reads the block at r and hashes it under the admission gate.
// Leaf tasks may be created faster than they can run, but cannot
// proceed past the semaphore until a slot is free.
func (s *run) leaf(ctx context.Context, r partition.Range, top bool) (*merkle.Node, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.sem.Release(1)

	start := time.Now()
	idx, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Release(idx)
	s.b.metrics.BufferWaitSeconds.Observe(time.Since(start).Seconds())

	buf := s.pool.Buffer(idx)[:r.Size]
	if err := s.b.reader.ReadAt(s.path, r.Offset, buf); err != nil {
		return nil, err
	}
	n := &merkle.Node{Kind: merkle.Leaf}
	if top {
		n.Kind = merkle.Root
	}
	if err := n.HashData(s.b.alg, buf); err != nil {
		return nil, err
	}
	s.b.metrics.BlocksHashed.Inc()
	s.b.metrics.BytesRead.Add(float64(r.Size))
	return n, nil
}
