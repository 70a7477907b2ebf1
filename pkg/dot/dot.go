// Copyright 2024 The Mtsum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package dot renders the scheduled task graph of a built tree as a DOT
// document. The graph mirrors the dataflow the engine ran: a synthetic
// setup task preceding the root task, and every tree node as a task
// labeled with its computed digest. Rendering is purely observational.
package dot

import (
	"errors"
	"fmt"
	"io"

	"github.com/mtsum/mtsum/pkg/merkle"
)

// ErrEmptyTree is returned when the tree has no root.
var ErrEmptyTree = errors.New("dot: empty tree")

// Render writes the DOT document for t to w.
func Render(w io.Writer, t *merkle.Tree) error {
	if t == nil || t.Root == nil {
		return ErrEmptyTree
	}
	if _, err := fmt.Fprintln(w, "digraph merkle_tree {"); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w, `  setup [label="setup" shape=box];`); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w, "  setup -> n0;"); err != nil {
		return err
	}
	next := 0
	if err := renderNode(w, t.Root, &next); err != nil {
		return err
	}
	_, err := fmt.Fprintln(w, "}")
	return err
}

func renderNode(w io.Writer, n *merkle.Node, next *int) error {
	id := *next
	*next = id + 1
	shape := "ellipse"
	if n.IsLeaf() {
		shape = "box"
	}
	if _, err := fmt.Fprintf(w, "  n%d [label=%q shape=%s];\n", id, n.Hex(), shape); err != nil {
		return err
	}
	for _, child := range []*merkle.Node{n.Left, n.Right} {
		if child == nil {
			continue
		}
		if _, err := fmt.Fprintf(w, "  n%d -> n%d;\n", id, *next); err != nil {
			return err
		}
		if err := renderNode(w, child, next); err != nil {
			return err
		}
	}
	return nil
}
