// Copyright 2024 The Mtsum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package reference provides a sequential Merkle root computation over
// an in-memory byte slice. It is optimized for code simplicity and meant
// as a test oracle for the concurrent engine: same partition shape, same
// domain separation, no concurrency.
package reference

import (
	"errors"

	"github.com/mtsum/mtsum/pkg/hashalg"
	"github.com/mtsum/mtsum/pkg/merkle"
	"github.com/mtsum/mtsum/pkg/partition"
)

// RootHash computes the root digest of data under cfg.
func RootHash(alg hashalg.Algorithm, cfg partition.Config, data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("reference: empty input")
	}
	r := partition.Range{Offset: 0, Size: int64(len(data))}
	return walk(alg, cfg, data, r, true)
}

func walk(alg hashalg.Algorithm, cfg partition.Config, data []byte, r partition.Range, top bool) ([]byte, error) {
	if cfg.Leaf(r) {
		kind := merkle.Leaf
		if top {
			kind = merkle.Root
		}
		return alg.Sum(byte(kind), data[r.Offset:r.End()])
	}
	left, right := cfg.Split(r)
	lh, err := walk(alg, cfg, data, left, false)
	if err != nil {
		return nil, err
	}
	rh, err := walk(alg, cfg, data, right, false)
	if err != nil {
		return nil, err
	}
	kind := merkle.Internal
	if top {
		kind = merkle.Root
	}
	return alg.Sum(byte(kind), lh, rh)
}
