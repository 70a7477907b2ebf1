// Copyright 2024 The Mtsum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package merkle

import (
	"errors"
	"fmt"

	"github.com/mtsum/mtsum/pkg/hashalg"
)

// ErrFoldCount is returned by Fold when the digest count is not a power
// of two of at least one.
var ErrFoldCount = errors.New("merkle: digest count must be a positive power of two")

// Fold materializes a tree from per-rank root digests gathered in rank
// order. The tree has the same balanced shape the rank partition used:
// the index range is split in half recursively until singletons. Each
// singleton becomes a leaf whose digest is the gathered bytes verbatim,
// with no re-hashing; internal levels and the top are hashed with their
// kind prefixes as usual. A single gathered digest is itself the top: it
// is tagged as the root and kept verbatim.
func Fold(alg hashalg.Algorithm, digests [][]byte) (*Tree, error) {
	n := len(digests)
	if n < 1 || n&(n-1) != 0 {
		return nil, fmt.Errorf("%w: got %d", ErrFoldCount, n)
	}
	for i, d := range digests {
		if len(d) != alg.Size() {
			return nil, fmt.Errorf("merkle: gathered digest %d has size %d, want %d", i, len(d), alg.Size())
		}
	}
	t := New(alg)
	root, err := fold(alg, digests, 0, 1, n)
	if err != nil {
		return nil, err
	}
	root.Kind = Root
	if !root.IsLeaf() {
		if err := root.HashChildren(alg); err != nil {
			return nil, err
		}
	}
	t.Root = root
	return t, nil
}

func fold(alg hashalg.Algorithm, digests [][]byte, index, level, target int) (*Node, error) {
	if level == target {
		digest := make([]byte, len(digests[index]))
		copy(digest, digests[index])
		return &Node{Kind: Leaf, Digest: digest}, nil
	}
	left, err := fold(alg, digests, index<<1, level<<1, target)
	if err != nil {
		return nil, err
	}
	right, err := fold(alg, digests, index<<1|1, level<<1, target)
	if err != nil {
		return nil, err
	}
	n := &Node{Kind: Internal, Left: left, Right: right}
	if err := n.HashChildren(alg); err != nil {
		return nil, err
	}
	return n, nil
}
