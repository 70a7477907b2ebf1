// Copyright 2024 The Mtsum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package builder_test

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/ioutil"
	"math/rand"
	"testing"
	"time"

	"github.com/spf13/afero"
	"gitlab.com/nolash/go-mockbytes"
	"go.uber.org/atomic"

	"github.com/mtsum/mtsum/pkg/builder"
	"github.com/mtsum/mtsum/pkg/builder/reference"
	"github.com/mtsum/mtsum/pkg/hashalg"
	"github.com/mtsum/mtsum/pkg/logging"
	"github.com/mtsum/mtsum/pkg/merkle"
	"github.com/mtsum/mtsum/pkg/partition"
)

// testConfig shrinks blocks so deep shapes fit in memory
var testConfig = partition.Config{BlockSize: 1024, BalanceThreshold: 8 * 1024}

func testLogger() logging.Logger {
	return logging.New(ioutil.Discard, 0)
}

func sha256alg(t *testing.T) hashalg.Algorithm {
	t.Helper()
	alg, err := hashalg.Lookup("sha256")
	if err != nil {
		t.Fatal(err)
	}
	return alg
}

func writeFile(t *testing.T, data []byte) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "data.bin", data, 0o644); err != nil {
		t.Fatal(err)
	}
	return fs
}

func testData(t *testing.T, n int) []byte {
	t.Helper()
	g := mockbytes.New(0, mockbytes.MockTypeStandard).WithModulus(255)
	data, err := g.SequentialBytes(n)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

// a one-byte file is a single leaf retagged as root, hashed with the
// root prefix
func TestSingleByteFile(t *testing.T) {
	fs := writeFile(t, []byte("a"))
	// the shrunk test config does not change a single-leaf root
	b := builder.New(sha256alg(t), fs, testLogger(), builder.Options{Workers: 2, Partition: testConfig})

	tree, err := b.Build(context.Background(), "data.bin")
	if err != nil {
		t.Fatal(err)
	}
	const want = "bf5d3affb73efd2ec6c36ad3112dd933efed63c4e1cbffcfa88e2759c144f2d8"
	if tree.Hex() != want {
		t.Fatalf("root %s, want %s", tree.Hex(), want)
	}
	if !tree.Root.IsLeaf() {
		t.Fatal("single-byte tree has children")
	}
	if tree.Root.Kind != merkle.Root {
		t.Fatalf("root kind %s, want root", tree.Root.Kind)
	}
}

func TestTwoBlockZeros(t *testing.T) {
	data := make([]byte, 2*testConfig.BlockSize)
	fs := writeFile(t, data)
	b := builder.New(sha256alg(t), fs, testLogger(), builder.Options{
		Workers:   2,
		Partition: testConfig,
	})

	tree, err := b.Build(context.Background(), "data.bin")
	if err != nil {
		t.Fatal(err)
	}

	block := data[:testConfig.BlockSize]
	h := sha256.New()
	h.Write([]byte{0x00})
	h.Write(block)
	leaf := h.Sum(nil)
	h = sha256.New()
	h.Write([]byte{0x02})
	h.Write(leaf)
	h.Write(leaf)
	want := hex.EncodeToString(h.Sum(nil))

	if tree.Hex() != want {
		t.Fatalf("root %s, want %s", tree.Hex(), want)
	}
}

// a three-block file splits into a two-leaf left subtree and a one-leaf
// right child
func TestThreeBlockShape(t *testing.T) {
	data := make([]byte, 3*testConfig.BlockSize)
	fs := writeFile(t, data)
	b := builder.New(sha256alg(t), fs, testLogger(), builder.Options{
		Workers:   2,
		Partition: testConfig,
	})

	tree, err := b.Build(context.Background(), "data.bin")
	if err != nil {
		t.Fatal(err)
	}
	root := tree.Root
	if root.Kind != merkle.Root {
		t.Fatalf("root kind %s, want root", root.Kind)
	}
	if root.Left == nil || root.Left.Kind != merkle.Internal {
		t.Fatal("left child of root is not internal")
	}
	if !root.Left.Left.IsLeaf() || !root.Left.Right.IsLeaf() {
		t.Fatal("left subtree does not hold two leaves")
	}
	if root.Right == nil || !root.Right.IsLeaf() {
		t.Fatal("right child of root is not a leaf")
	}

	want, err := reference.RootHash(tree.Algorithm(), testConfig, data)
	if err != nil {
		t.Fatal(err)
	}
	if tree.Hex() != hex.EncodeToString(want) {
		t.Fatalf("root %s disagrees with reference %x", tree.Hex(), want)
	}
}

// the engine must agree with the sequential reference walker across
// shapes that exercise both split policies
func TestMatchesReference(t *testing.T) {
	alg := sha256alg(t)
	for _, size := range []int{
		1, 2, 1023, 1024, 1025, 2048, 3072, 4096 + 17,
		8 * 1024, 8*1024 + 1, 64 * 1024, 100_000,
	} {
		t.Run(fmt.Sprintf("size_%d", size), func(t *testing.T) {
			data := testData(t, size)
			fs := writeFile(t, data)
			b := builder.New(alg, fs, testLogger(), builder.Options{
				Workers:   4,
				Partition: testConfig,
			})
			tree, err := b.Build(context.Background(), "data.bin")
			if err != nil {
				t.Fatal(err)
			}
			want, err := reference.RootHash(alg, testConfig, data)
			if err != nil {
				t.Fatal(err)
			}
			if tree.Hex() != hex.EncodeToString(want) {
				t.Fatalf("root %s disagrees with reference %x", tree.Hex(), want)
			}
		})
	}
}

// the root digest must not depend on the worker count or the run
func TestDeterminism(t *testing.T) {
	alg := sha256alg(t)
	rng := rand.New(rand.NewSource(1))

	for i := 0; i < 10; i++ {
		size := 1 + rng.Intn(32*1024)
		data := testData(t, size)
		fs := writeFile(t, data)

		var first string
		for _, workers := range []int{1, 1 + rng.Intn(8), 16} {
			b := builder.New(alg, fs, testLogger(), builder.Options{
				Workers:   workers,
				Partition: testConfig,
			})
			tree, err := b.Build(context.Background(), "data.bin")
			if err != nil {
				t.Fatal(err)
			}
			if first == "" {
				first = tree.Hex()
				continue
			}
			if tree.Hex() != first {
				t.Fatalf("size %d workers %d: root %s, want %s", size, workers, tree.Hex(), first)
			}
		}
	}
}

// a crafted file whose bytes equal the concatenation of two sibling
// digests must not collide with a stripped-prefix computation
func TestDomainSeparation(t *testing.T) {
	alg := sha256alg(t)
	cfg := partition.Config{BlockSize: 32, BalanceThreshold: 256}
	data := testData(t, 128) // four 32-byte blocks

	fs := writeFile(t, data)
	b := builder.New(alg, fs, testLogger(), builder.Options{Workers: 2, Partition: cfg})
	tree, err := b.Build(context.Background(), "data.bin")
	if err != nil {
		t.Fatal(err)
	}

	// crafted file: the two digests under the root's left internal node
	crafted := append([]byte{}, tree.Root.Left.Left.Digest...)
	crafted = append(crafted, tree.Root.Left.Right.Digest...)
	craftedFs := writeFile(t, crafted)
	cb := builder.New(alg, craftedFs, testLogger(), builder.Options{
		Workers:   2,
		Partition: partition.Config{BlockSize: 64, BalanceThreshold: 256},
	})
	craftedTree, err := cb.Build(context.Background(), "data.bin")
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(craftedTree.Root.Digest, tree.Root.Left.Digest) {
		t.Fatal("crafted file collided with an internal digest")
	}

	// stripped-prefix walk over the original file
	strip := func(spans ...[]byte) []byte {
		h := sha256.New()
		for _, s := range spans {
			h.Write(s)
		}
		return h.Sum(nil)
	}
	var leaves [][]byte
	for off := 0; off < len(data); off += 32 {
		leaves = append(leaves, strip(data[off:off+32]))
	}
	stripped := strip(strip(leaves[0], leaves[1]), strip(leaves[2], leaves[3]))
	if bytes.Equal(tree.Root.Digest, stripped) {
		t.Fatal("prefixed root equals stripped-prefix root")
	}
	if bytes.Equal(craftedTree.Root.Digest, stripped) {
		t.Fatal("crafted root equals stripped-prefix root")
	}
}

func TestAlgorithmDigestLengths(t *testing.T) {
	data := testData(t, 4096)
	fs := writeFile(t, data)
	for _, name := range []string{"md5", "sha1", "sha256", "sha384", "sha512"} {
		t.Run(name, func(t *testing.T) {
			alg, err := hashalg.Lookup(name)
			if err != nil {
				t.Fatal(err)
			}
			b := builder.New(alg, fs, testLogger(), builder.Options{Workers: 2, Partition: testConfig})
			tree, err := b.Build(context.Background(), "data.bin")
			if err != nil {
				t.Fatal(err)
			}
			if got, want := len(tree.Hex()), 2*alg.Size(); got != want {
				t.Fatalf("hex length %d, want %d", got, want)
			}
		})
	}
}

// trackingFs counts concurrently open read handles, which bounds the
// number of simultaneously held block buffers
type trackingFs struct {
	afero.Fs
	cur *atomic.Int64
	max *atomic.Int64
}

func (t *trackingFs) Open(name string) (afero.File, error) {
	f, err := t.Fs.Open(name)
	if err != nil {
		return nil, err
	}
	c := t.cur.Inc()
	for {
		m := t.max.Load()
		if c <= m || t.max.CAS(m, c) {
			break
		}
	}
	return &trackingFile{File: f, fs: t}, nil
}

type trackingFile struct {
	afero.File
	fs *trackingFs
}

func (f *trackingFile) ReadAt(p []byte, off int64) (int, error) {
	time.Sleep(time.Millisecond)
	return f.File.ReadAt(p, off)
}

func (f *trackingFile) Close() error {
	f.fs.cur.Dec()
	return f.File.Close()
}

// leaf tasks may be created far faster than they run, but the admission
// gate must keep concurrent readers at the worker count
func TestAdmissionBound(t *testing.T) {
	const workers = 2
	data := testData(t, 64*1024) // 64 leaf blocks

	fs := &trackingFs{
		Fs:  writeFile(t, data),
		cur: atomic.NewInt64(0),
		max: atomic.NewInt64(0),
	}
	b := builder.New(sha256alg(t), fs, testLogger(), builder.Options{
		Workers:   workers,
		Partition: testConfig,
	})
	if _, err := b.Build(context.Background(), "data.bin"); err != nil {
		t.Fatal(err)
	}
	if m := fs.max.Load(); m > workers {
		t.Fatalf("max concurrent readers %d exceeds %d workers", m, workers)
	}
}

func TestEmptyFile(t *testing.T) {
	fs := writeFile(t, nil)
	b := builder.New(sha256alg(t), fs, testLogger(), builder.Options{Workers: 2, Partition: testConfig})
	if _, err := b.Build(context.Background(), "data.bin"); !errors.Is(err, builder.ErrEmptyFile) {
		t.Fatalf("got %v, want ErrEmptyFile", err)
	}
}

func TestMissingFile(t *testing.T) {
	b := builder.New(sha256alg(t), afero.NewMemMapFs(), testLogger(), builder.Options{Workers: 2, Partition: testConfig})
	if _, err := b.Build(context.Background(), "nope.bin"); err == nil {
		t.Fatal("build of missing file succeeded")
	}
}

func TestCanceledContext(t *testing.T) {
	data := testData(t, 16*1024)
	fs := writeFile(t, data)
	b := builder.New(sha256alg(t), fs, testLogger(), builder.Options{Workers: 2, Partition: testConfig})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := b.Build(ctx, "data.bin"); err == nil {
		t.Fatal("build with canceled context succeeded")
	}
}

func TestMetrics(t *testing.T) {
	data := testData(t, 4096)
	fs := writeFile(t, data)
	b := builder.New(sha256alg(t), fs, testLogger(), builder.Options{Workers: 2, Partition: testConfig})
	if _, err := b.Build(context.Background(), "data.bin"); err != nil {
		t.Fatal(err)
	}
	if got := len(b.Metrics()); got != 4 {
		t.Fatalf("got %d collectors, want 4", got)
	}
}
