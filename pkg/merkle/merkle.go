// Copyright 2024 The Mtsum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package merkle defines the owned binary tree produced by the
// construction engine. Every node carries a digest computed over a
// payload prefixed with its kind byte, giving leaf, internal and root
// digests disjoint input universes (the RFC 6962 second-preimage
// mitigation).
package merkle

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/mtsum/mtsum/pkg/hashalg"
)

// Kind is the domain-separation byte prefixing every hashed payload.
type Kind byte

const (
	Leaf     Kind = 0x00
	Internal Kind = 0x01
	Root     Kind = 0x02
)

func (k Kind) String() string {
	switch k {
	case Leaf:
		return "leaf"
	case Internal:
		return "internal"
	case Root:
		return "root"
	}
	return fmt.Sprintf("kind(%d)", byte(k))
}

// ErrNoDigest is returned when a parent digest is requested before both
// children have been populated.
var ErrNoDigest = errors.New("merkle: child digest not populated")

// Node is a node of the Merkle tree. A node exclusively owns its
// children; both children absent means the node is a leaf. The digest is
// populated exactly once by the task that computes it.
type Node struct {
	Kind   Kind
	Digest []byte
	Left   *Node
	Right  *Node
}

// IsLeaf reports whether the node has no children.
func (n *Node) IsLeaf() bool {
	return n.Left == nil && n.Right == nil
}

// HashData computes and stores H(kind || spans...) on the node.
func (n *Node) HashData(alg hashalg.Algorithm, spans ...[]byte) error {
	digest, err := alg.Sum(byte(n.Kind), spans...)
	if err != nil {
		return err
	}
	n.Digest = digest
	return nil
}

// HashChildren computes and stores H(kind || left.Digest || right.Digest).
// Both children must have populated digests.
func (n *Node) HashChildren(alg hashalg.Algorithm) error {
	if n.Left == nil || n.Right == nil || len(n.Left.Digest) == 0 || len(n.Right.Digest) == 0 {
		return ErrNoDigest
	}
	return n.HashData(alg, n.Left.Digest, n.Right.Digest)
}

// Hex renders the digest as lowercase fixed-width hexadecimal.
func (n *Node) Hex() string {
	return hex.EncodeToString(n.Digest)
}

// Tree is the owned result of a construction run. It is constructed
// empty, populated once by the engine and immutable thereafter.
type Tree struct {
	alg  hashalg.Algorithm
	Root *Node
}

// New constructs an empty tree for the given algorithm.
func New(alg hashalg.Algorithm) *Tree {
	return &Tree{alg: alg}
}

// Algorithm returns the digest algorithm the tree was built with.
func (t *Tree) Algorithm() hashalg.Algorithm { return t.alg }

// Hex renders the root digest, or the empty string on an empty tree.
func (t *Tree) Hex() string {
	if t.Root == nil {
		return ""
	}
	return t.Root.Hex()
}
