// Copyright 2024 The Mtsum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bufferpool_test

import (
	"context"
	"testing"
	"time"

	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/mtsum/mtsum/pkg/bufferpool"
)

func TestAcquireRelease(t *testing.T) {
	p := bufferpool.New(2, 64)
	ctx := context.Background()

	i, err := p.Acquire(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got := len(p.Buffer(i)); got != 64 {
		t.Fatalf("buffer size %d, want 64", got)
	}
	p.Release(i)
}

// the maximum number of simultaneous holders must never exceed the pool
// population, no matter how many tasks contend
func TestHolderCap(t *testing.T) {
	const population = 4
	const tasks = 64

	p := bufferpool.New(population, 16)
	cur := atomic.NewInt64(0)
	max := atomic.NewInt64(0)

	var g errgroup.Group
	for i := 0; i < tasks; i++ {
		g.Go(func() error {
			idx, err := p.Acquire(context.Background())
			if err != nil {
				return err
			}
			c := cur.Inc()
			for {
				m := max.Load()
				if c <= m || max.CAS(m, c) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			cur.Dec()
			p.Release(idx)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	if m := max.Load(); m > population {
		t.Fatalf("max simultaneous holders %d exceeds population %d", m, population)
	}
}

func TestAcquireBlocksUntilRelease(t *testing.T) {
	p := bufferpool.New(1, 16)
	ctx := context.Background()

	i, err := p.Acquire(ctx)
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan int)
	go func() {
		j, err := p.Acquire(ctx)
		if err != nil {
			t.Error(err)
		}
		done <- j
	}()

	select {
	case <-done:
		t.Fatal("second acquire succeeded while buffer was held")
	case <-time.After(50 * time.Millisecond):
	}

	p.Release(i)
	j := <-done
	p.Release(j)
}

func TestAcquireContextCanceled(t *testing.T) {
	p := bufferpool.New(1, 16)
	i, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer p.Release(i)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := p.Acquire(ctx); err == nil {
		t.Fatal("acquire on exhausted pool did not honor context")
	}
}

func TestReleaseUnheldPanics(t *testing.T) {
	p := bufferpool.New(1, 16)
	defer func() {
		if recover() == nil {
			t.Fatal("release of unheld buffer did not panic")
		}
	}()
	p.Release(0)
}
