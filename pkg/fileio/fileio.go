// Copyright 2024 The Mtsum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fileio provides exact positional reads over an afero
// filesystem. Open, close and seek stay behind this seam; callers only
// ever ask for exactly N bytes at an absolute offset into a buffer they
// supply. Reader.ReadAt opens a handle per call, so any number of
// readers over the same path may proceed concurrently.
package fileio

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/afero"
)

// ErrShortRead is returned when the file ends before the requested
// range does.
var ErrShortRead = errors.New("fileio: short read")

// Reader opens files for positional access on a filesystem.
type Reader struct {
	fs afero.Fs
}

// NewReader returns a Reader over the given filesystem.
func NewReader(fs afero.Fs) *Reader {
	return &Reader{fs: fs}
}

// Size returns the byte size of the file at path.
func (r *Reader) Size(path string) (int64, error) {
	fi, err := r.fs.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("fileio: stat %s: %w", path, err)
	}
	return fi.Size(), nil
}

// ReadAt reads exactly len(buf) bytes at offset from the file at path
// into buf. Each call opens its own handle, so any number of readers
// over the same path may proceed concurrently.
func (r *Reader) ReadAt(path string, offset int64, buf []byte) error {
	f, err := r.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.ReadAt(buf, offset)
}

// Open opens path for positional reading.
func (r *Reader) Open(path string) (*File, error) {
	f, err := r.fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("fileio: open %s: %w", path, err)
	}
	return &File{f: f, path: path}, nil
}

// File is an open positional handle. Concurrent ReadAt calls are safe.
type File struct {
	f    afero.File
	path string
}

// ReadAt reads exactly len(buf) bytes at offset into buf. Reads past
// the end of the file surface ErrShortRead.
func (f *File) ReadAt(buf []byte, offset int64) error {
	n, err := f.f.ReadAt(buf, offset)
	switch {
	case err != nil && errors.Is(err, io.EOF), err != nil && errors.Is(err, io.ErrUnexpectedEOF):
		return fmt.Errorf("%w: %s: %d bytes at offset %d, got %d", ErrShortRead, f.path, len(buf), offset, n)
	case err != nil:
		return fmt.Errorf("fileio: read %s at %d: %w", f.path, offset, err)
	case n < len(buf):
		// some filesystems report a short count with a nil error
		return fmt.Errorf("%w: %s: %d bytes at offset %d, got %d", ErrShortRead, f.path, len(buf), offset, n)
	}
	return nil
}

// Close releases the handle.
func (f *File) Close() error {
	return f.f.Close()
}
