// Copyright 2024 The Mtsum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package bufferpool provides a fixed population of pre-allocated block
// buffers with a blocking free-list. The pool is the admission-control
// mechanism bounding the memory footprint of leaf I/O: at any instant at
// most the configured number of buffers is held, and a buffer is held by
// exactly one task.
package bufferpool

import (
	"context"
	"fmt"

	"go.uber.org/atomic"
)

// Pool is a fixed set of equally sized byte buffers. The free-list is a
// buffered channel prefilled to capacity; Acquire blocks while the pool
// is exhausted. Population is fixed for the pool's lifetime.
type Pool struct {
	buffers [][]byte
	free    chan int
	held    []atomic.Bool
}

// New allocates count buffers of size bytes each and marks all free.
func New(count int, size int64) *Pool {
	p := &Pool{
		buffers: make([][]byte, count),
		free:    make(chan int, count),
		held:    make([]atomic.Bool, count),
	}
	for i := range p.buffers {
		p.buffers[i] = make([]byte, size)
		p.free <- i
	}
	return p
}

// Len returns the pool population.
func (p *Pool) Len() int { return len(p.buffers) }

// Acquire returns the index of a free buffer, blocking until one is
// available or the context is done. Ordering among blocked callers is
// unspecified.
func (p *Pool) Acquire(ctx context.Context) (int, error) {
	select {
	case i := <-p.free:
		p.held[i].Store(true)
		return i, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Buffer returns the backing bytes of a held buffer index.
func (p *Pool) Buffer(i int) []byte { return p.buffers[i] }

// Release returns a held index to the free set. Releasing an index that
// is not currently held is a programming error and panics.
func (p *Pool) Release(i int) {
	if i < 0 || i >= len(p.buffers) || !p.held[i].CAS(true, false) {
		panic(fmt.Sprintf("bufferpool: release of unheld buffer %d", i))
	}
	p.free <- i
}
