// Copyright 2024 The Mtsum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package hashalg provides the registry of named digest algorithms used
// for Merkle tree construction. An Algorithm is an immutable descriptor
// exposing the digest size and a one-shot prefixed digest over one or
// more byte spans.
package hashalg

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"fmt"
	"hash"
	"sort"

	"golang.org/x/crypto/sha3"
)

// ErrUnsupported is returned by Lookup for algorithm names outside the
// registry.
var ErrUnsupported = errors.New("hashalg: unsupported algorithm")

// Algorithm is an immutable named digest descriptor.
type Algorithm struct {
	name string
	size int
	base func() hash.Hash
}

var registry = map[string]Algorithm{
	"md5":      {name: "md5", size: md5.Size, base: md5.New},
	"sha1":     {name: "sha1", size: sha1.Size, base: sha1.New},
	"sha256":   {name: "sha256", size: sha256.Size, base: sha256.New},
	"sha384":   {name: "sha384", size: sha512.Size384, base: sha512.New384},
	"sha512":   {name: "sha512", size: sha512.Size, base: sha512.New},
	"sha3-256": {name: "sha3-256", size: 32, base: sha3.New256},
	"keccak256": {
		name: "keccak256",
		size: 32,
		base: sha3.NewLegacyKeccak256,
	},
}

// Lookup resolves a registered algorithm by name.
func Lookup(name string) (Algorithm, error) {
	a, ok := registry[name]
	if !ok {
		return Algorithm{}, fmt.Errorf("%w: %q", ErrUnsupported, name)
	}
	return a, nil
}

// Names returns the registered algorithm names in lexical order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Name returns the registered name of the algorithm.
func (a Algorithm) Name() string { return a.name }

// Size returns the digest size in bytes.
func (a Algorithm) Size() int { return a.size }

// New returns a fresh digest context.
func (a Algorithm) New() hash.Hash { return a.base() }

// Sum computes the digest of kind followed by the given spans in order,
// in a single finalized pass. Primitive-level failures surface as errors
// and are fatal to the enclosing task.
func (a Algorithm) Sum(kind byte, spans ...[]byte) ([]byte, error) {
	h := a.base()
	if _, err := h.Write([]byte{kind}); err != nil {
		return nil, fmt.Errorf("hashalg: write kind: %w", err)
	}
	for _, span := range spans {
		if _, err := h.Write(span); err != nil {
			return nil, fmt.Errorf("hashalg: write data: %w", err)
		}
	}
	return h.Sum(nil), nil
}
