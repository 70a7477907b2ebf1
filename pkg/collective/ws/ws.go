// Copyright 2024 The Mtsum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ws provides a collective transport over websockets for ranks
// spread across hosts sharing a filesystem. Rank 0 hosts the
// coordinator and participates in every collective; the other ranks
// dial in and speak a small msgpack-framed protocol. Collectives are
// bulk-synchronous, so every rank performs the same sequence of
// operations with matching sequence numbers.
package ws

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-multierror"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/mtsum/mtsum/pkg/collective"
	"github.com/mtsum/mtsum/pkg/logging"
)

const (
	msgHello uint8 = iota + 1
	msgBarrier
	msgRelease
	msgGather
	msgGatherDone
)

type message struct {
	Type    uint8  `msgpack:"type"`
	Rank    int    `msgpack:"rank"`
	Size    int    `msgpack:"size"`
	Seq     uint64 `msgpack:"seq"`
	Payload []byte `msgpack:"payload,omitempty"`
}

func writeMsg(conn *websocket.Conn, m message) error {
	b, err := msgpack.Marshal(m)
	if err != nil {
		return fmt.Errorf("%w: encode: %v", collective.ErrTransport, err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return fmt.Errorf("%w: write: %v", collective.ErrTransport, err)
	}
	return nil
}

func readMsg(conn *websocket.Conn) (message, error) {
	var m message
	mt, b, err := conn.ReadMessage()
	if err != nil {
		return m, fmt.Errorf("%w: read: %v", collective.ErrTransport, err)
	}
	if mt != websocket.BinaryMessage {
		return m, fmt.Errorf("%w: unexpected message type %d", collective.ErrTransport, mt)
	}
	if err := msgpack.Unmarshal(b, &m); err != nil {
		return m, fmt.Errorf("%w: decode: %v", collective.ErrTransport, err)
	}
	return m, nil
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1 << 16,
	WriteBufferSize: 1 << 16,
}

// Coordinator is rank 0 of a websocket cluster. It hosts the collective
// endpoint and participates in every operation.
type Coordinator struct {
	size     int
	logger   logging.Logger
	listener net.Listener
	server   *http.Server

	mu    sync.Mutex
	conns map[int]*websocket.Conn

	inbound chan message
	seq     uint64
}

// Listen starts the coordinator on addr as rank 0 of a size-rank
// cluster. Other ranks may dial in at any time before the first
// collective completes.
func Listen(addr string, size int, logger logging.Logger) (*Coordinator, error) {
	if size < 1 {
		return nil, fmt.Errorf("%w: cluster size %d", collective.ErrTransport, size)
	}
	c := &Coordinator{
		size:    size,
		logger:  logger,
		conns:   make(map[int]*websocket.Conn),
		inbound: make(chan message, size*2),
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: listen %s: %v", collective.ErrTransport, addr, err)
	}
	c.listener = ln
	c.server = &http.Server{Handler: http.HandlerFunc(c.serve)}
	go func() {
		if err := c.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Errorf("collective: coordinator server: %v", err)
		}
	}()
	logger.Debugf("collective: coordinator listening on %s for %d ranks", ln.Addr(), size-1)
	return c, nil
}

// Addr returns the coordinator's bound address.
func (c *Coordinator) Addr() string {
	return c.listener.Addr().String()
}

func (c *Coordinator) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.logger.Errorf("collective: upgrade: %v", err)
		return
	}
	hello, err := readMsg(conn)
	if err != nil || hello.Type != msgHello {
		c.logger.Errorf("collective: bad handshake: %v", err)
		_ = conn.Close()
		return
	}
	if hello.Size != c.size || hello.Rank < 1 || hello.Rank >= c.size {
		c.logger.Errorf("collective: rank %d/%d does not fit cluster of %d", hello.Rank, hello.Size, c.size)
		_ = conn.Close()
		return
	}
	c.mu.Lock()
	if _, ok := c.conns[hello.Rank]; ok {
		c.mu.Unlock()
		c.logger.Errorf("collective: duplicate rank %d", hello.Rank)
		_ = conn.Close()
		return
	}
	c.conns[hello.Rank] = conn
	c.mu.Unlock()
	c.logger.Debugf("collective: rank %d joined", hello.Rank)
	go c.readLoop(conn)
}

func (c *Coordinator) readLoop(conn *websocket.Conn) {
	for {
		m, err := readMsg(conn)
		if err != nil {
			return
		}
		c.inbound <- m
	}
}

// Rank implements collective.Transport.
func (c *Coordinator) Rank() int { return 0 }

// Size implements collective.Transport.
func (c *Coordinator) Size() int { return c.size }

// collect receives one message of the wanted type and sequence from
// every other rank.
func (c *Coordinator) collect(ctx context.Context, want uint8, seq uint64) (map[int]message, error) {
	got := make(map[int]message)
	for len(got) < c.size-1 {
		select {
		case m := <-c.inbound:
			if m.Type != want || m.Seq != seq {
				return nil, fmt.Errorf("%w: rank %d sent type %d seq %d, want type %d seq %d",
					collective.ErrTransport, m.Rank, m.Type, m.Seq, want, seq)
			}
			got[m.Rank] = m
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", collective.ErrTransport, ctx.Err())
		}
	}
	return got, nil
}

func (c *Coordinator) broadcast(m message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, conn := range c.conns {
		if err := writeMsg(conn, m); err != nil {
			return err
		}
	}
	return nil
}

// Barrier implements collective.Transport.
func (c *Coordinator) Barrier(ctx context.Context) error {
	c.seq++
	if _, err := c.collect(ctx, msgBarrier, c.seq); err != nil {
		return err
	}
	return c.broadcast(message{Type: msgRelease, Seq: c.seq})
}

// Gather implements collective.Transport.
func (c *Coordinator) Gather(ctx context.Context, payload []byte) ([][]byte, error) {
	c.seq++
	got, err := c.collect(ctx, msgGather, c.seq)
	if err != nil {
		return nil, err
	}
	out := make([][]byte, c.size)
	out[0] = append([]byte(nil), payload...)
	for rank, m := range got {
		out[rank] = m.Payload
	}
	if err := c.broadcast(message{Type: msgGatherDone, Seq: c.seq}); err != nil {
		return nil, err
	}
	return out, nil
}

// Close implements collective.Transport.
func (c *Coordinator) Close() error {
	var errs *multierror.Error
	c.mu.Lock()
	ranks := make([]int, 0, len(c.conns))
	for rank := range c.conns {
		ranks = append(ranks, rank)
	}
	sort.Ints(ranks)
	for _, rank := range ranks {
		if err := c.conns[rank].Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	c.conns = make(map[int]*websocket.Conn)
	c.mu.Unlock()
	if err := c.server.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}
	return errs.ErrorOrNil()
}

// Client is a non-zero rank dialed into a Coordinator. Collectives are
// strictly sequential per rank, so replies are read inline.
type Client struct {
	rank int
	size int
	conn *websocket.Conn
	seq  uint64
}

// Dial connects rank (1..size-1) to the coordinator at addr.
func Dial(ctx context.Context, addr string, rank, size int, logger logging.Logger) (*Client, error) {
	if rank < 1 || rank >= size {
		return nil, fmt.Errorf("%w: rank %d outside 1..%d", collective.ErrTransport, rank, size-1)
	}
	url := fmt.Sprintf("ws://%s/", addr)
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", collective.ErrTransport, addr, err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err := writeMsg(conn, message{Type: msgHello, Rank: rank, Size: size}); err != nil {
		_ = conn.Close()
		return nil, err
	}
	logger.Debugf("collective: rank %d connected to %s", rank, addr)
	return &Client{rank: rank, size: size, conn: conn}, nil
}

// Rank implements collective.Transport.
func (t *Client) Rank() int { return t.rank }

// Size implements collective.Transport.
func (t *Client) Size() int { return t.size }

func (t *Client) await(ctx context.Context, want uint8, seq uint64) error {
	if deadline, ok := ctx.Deadline(); ok {
		_ = t.conn.SetReadDeadline(deadline)
	} else {
		_ = t.conn.SetReadDeadline(time.Time{})
	}
	m, err := readMsg(t.conn)
	if err != nil {
		return err
	}
	if m.Type != want || m.Seq != seq {
		return fmt.Errorf("%w: coordinator sent type %d seq %d, want type %d seq %d",
			collective.ErrTransport, m.Type, m.Seq, want, seq)
	}
	return nil
}

// Barrier implements collective.Transport.
func (t *Client) Barrier(ctx context.Context) error {
	t.seq++
	if err := writeMsg(t.conn, message{Type: msgBarrier, Rank: t.rank, Seq: t.seq}); err != nil {
		return err
	}
	return t.await(ctx, msgRelease, t.seq)
}

// Gather implements collective.Transport. Non-zero ranks always return
// a nil gather result.
func (t *Client) Gather(ctx context.Context, payload []byte) ([][]byte, error) {
	t.seq++
	m := message{Type: msgGather, Rank: t.rank, Seq: t.seq, Payload: payload}
	if err := writeMsg(t.conn, m); err != nil {
		return nil, err
	}
	if err := t.await(ctx, msgGatherDone, t.seq); err != nil {
		return nil, err
	}
	return nil, nil
}

// Close implements collective.Transport.
func (t *Client) Close() error {
	return t.conn.Close()
}
