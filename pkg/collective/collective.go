// Copyright 2024 The Mtsum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package collective defines the message-passing transport the
// distributed driver runs on. A transport connects a fixed set of ranks
// numbered 0..Size-1 and provides the two collectives the driver needs:
// a barrier bracketing each bulk-synchronous phase, and a gather of
// fixed-size byte blocks to rank 0 in rank order.
package collective

import (
	"context"
	"errors"
)

// ErrTransport wraps collective operation failures.
var ErrTransport = errors.New("collective: transport failure")

// Transport is one rank's handle on the cluster.
type Transport interface {
	// Rank returns this process's rank, in 0..Size-1.
	Rank() int

	// Size returns the number of ranks in the cluster.
	Size() int

	// Barrier blocks until every rank has entered the barrier.
	Barrier(ctx context.Context) error

	// Gather delivers every rank's payload to rank 0 in rank order.
	// On rank 0 the returned slice has Size entries; on other ranks it
	// is nil. All ranks must call Gather with payloads of equal length.
	Gather(ctx context.Context, payload []byte) ([][]byte, error)

	// Close releases the rank's transport resources.
	Close() error
}
