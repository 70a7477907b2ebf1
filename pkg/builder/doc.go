// Copyright 2024 The Mtsum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package builder implements the parallel Merkle tree construction
// engine. The engine walks the deterministic partition of a byte range,
// reads each leaf block from disk, hashes it, and folds digests up the
// tree. Sibling subtrees are built concurrently with a join before the
// parent digest; leaf tasks are gated by a weighted semaphore and a
// fixed buffer pool of equal capacity, so the number of in-flight
// read+hash tasks never exceeds the configured worker count no matter
// how many leaf tasks the recursion creates.
//
// The root digest is a pure function of the file bytes, the algorithm
// and the partition configuration; scheduling order never changes it.
package builder
