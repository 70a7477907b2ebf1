// Copyright 2024 The Mtsum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package mem provides an in-process collective transport. All ranks
// live in one process as goroutines sharing a hub; it backs the driver's
// tests.
package mem

import (
	"context"
	"fmt"
	"sync"

	"github.com/mtsum/mtsum/pkg/collective"
)

// New returns one connected transport per rank. All returned transports
// share a hub and must be driven by concurrent goroutines, one per rank.
func New(size int) ([]collective.Transport, error) {
	if size < 1 {
		return nil, fmt.Errorf("%w: cluster size %d", collective.ErrTransport, size)
	}
	h := &hub{
		size:    size,
		barrier: newBarrier(size),
		settle:  newBarrier(size),
		slots:   make([][]byte, size),
	}
	ts := make([]collective.Transport, size)
	for i := range ts {
		ts[i] = &transport{hub: h, rank: i}
	}
	return ts, nil
}

type hub struct {
	size    int
	barrier *barrier
	settle  *barrier
	slots   [][]byte
}

type transport struct {
	hub  *hub
	rank int
}

func (t *transport) Rank() int { return t.rank }
func (t *transport) Size() int { return t.hub.size }

func (t *transport) Barrier(ctx context.Context) error {
	return t.hub.barrier.wait(ctx)
}

func (t *transport) Gather(ctx context.Context, payload []byte) ([][]byte, error) {
	p := make([]byte, len(payload))
	copy(p, payload)
	t.hub.slots[t.rank] = p
	if err := t.hub.barrier.wait(ctx); err != nil {
		return nil, err
	}
	var out [][]byte
	if t.rank == 0 {
		out = make([][]byte, t.hub.size)
		copy(out, t.hub.slots)
	}
	// second phase keeps slot writes of a later gather from racing
	// rank 0's read of this one
	if err := t.hub.settle.wait(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

func (t *transport) Close() error { return nil }

// barrier is a reusable generation barrier: the last arriving waiter
// releases the generation and resets the count.
type barrier struct {
	mu      sync.Mutex
	size    int
	arrived int
	release chan struct{}
}

func newBarrier(size int) *barrier {
	return &barrier{size: size, release: make(chan struct{})}
}

func (b *barrier) wait(ctx context.Context) error {
	b.mu.Lock()
	b.arrived++
	ch := b.release
	if b.arrived == b.size {
		b.arrived = 0
		b.release = make(chan struct{})
		close(ch)
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: barrier: %v", collective.ErrTransport, ctx.Err())
	}
}
