// Copyright 2026 The FDFS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pool implements the keyed cache of reusable TCP connections to
// tracker and storage servers. Each endpoint has its own manager with a
// free list and total/free accounting; a periodic sweep evicts connections
// that have been idle longer than the configured maximum.
//
// The pool never retries a failed connect; retry policy belongs to the
// caller.
package pool

import (
	"context"
	"net"
	"sync"
	"time"

	"fdfs.io/errors"
	"fdfs.io/fdfs"
	"fdfs.io/log"
)

// Conn is a pooled connection. Callers obtain one with Get and must hand
// it back with Release; an unreleased Conn permanently occupies a slot of
// its endpoint's quota.
type Conn struct {
	nc     net.Conn
	ep     fdfs.Endpoint
	mgr    *manager
	atime  time.Time // last release time; guarded by mgr.mu while pooled
	broken bool
}

// Endpoint returns the server this connection is bound to.
func (c *Conn) Endpoint() fdfs.Endpoint { return c.ep }

// MarkBroken flags the connection so Release physically closes it.
func (c *Conn) MarkBroken() { c.broken = true }

// Broken reports whether the connection has been flagged unusable.
func (c *Conn) Broken() bool { return c.broken }

// Send writes b in full within timeout. Any failure flags the
// connection broken; the caller should release it afterwards.
func (c *Conn) Send(b []byte, timeout time.Duration) error {
	const op = "pool.Send"
	if timeout > 0 {
		c.nc.SetWriteDeadline(time.Now().Add(timeout))
	}
	if _, err := c.nc.Write(b); err != nil {
		c.broken = true
		return errors.E(op, c.ep, netKind(err), err)
	}
	return nil
}

// ReceiveFull reads exactly n bytes within timeout. Any failure flags the
// connection broken; the caller should release it afterwards.
func (c *Conn) ReceiveFull(n int, timeout time.Duration) ([]byte, error) {
	const op = "pool.ReceiveFull"
	if timeout > 0 {
		c.nc.SetReadDeadline(time.Now().Add(timeout))
	}
	buf := make([]byte, n)
	for off := 0; off < n; {
		nr, err := c.nc.Read(buf[off:])
		if err != nil {
			c.broken = true
			return nil, errors.E(op, c.ep, netKind(err), err)
		}
		off += nr
	}
	return buf, nil
}

// netKind classifies a socket error: timeouts and connection failures are
// Transient (safe for the caller to retry elsewhere), the rest is IO.
func netKind(err error) errors.Kind {
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return errors.Transient
	}
	if _, ok := err.(*net.OpError); ok {
		return errors.Transient
	}
	return errors.IO
}

// manager holds the pooled connections of a single endpoint.
// Invariant while mu is held: freeCount == len(free) and
// freeCount <= totalCount; connections on the free list have no
// outstanding external reference.
type manager struct {
	mu         sync.Mutex
	free       []*Conn // LIFO
	totalCount int
	freeCount  int
}

// Pool is the process-wide connection cache. The zero value is not usable;
// construct with New.
//
// OnClose and Ping, when set, hook the protocol into the pool's
// lifecycle without the pool knowing the wire format. Both must be set
// before the pool is first used and never changed afterwards.
type Pool struct {
	mu       sync.Mutex
	managers map[string]*manager
	closed   bool

	connectTimeout time.Duration
	maxPerEntry    int // 0 means unlimited
	maxIdleTime    time.Duration

	// OnClose is called with a healthy connection just before the pool
	// closes its socket, so the peer can be told goodbye. Connections
	// flagged broken are closed without notice.
	OnClose func(c *Conn)

	// Ping is run by Get on an idle connection that has gone unused
	// for at least PingAfter before handing it out. A non-nil error
	// discards the connection and Get moves to the next candidate.
	// With PingAfter zero, every reused connection is pinged.
	Ping      func(c *Conn) error
	PingAfter time.Duration
}

// New returns a Pool dialing with connectTimeout, keeping at most
// maxPerEntry connections per endpoint (0 = unlimited) and sweeping
// connections idle longer than maxIdleTime.
func New(connectTimeout time.Duration, maxPerEntry int, maxIdleTime time.Duration) *Pool {
	return &Pool{
		managers:       make(map[string]*manager),
		connectTimeout: connectTimeout,
		maxPerEntry:    maxPerEntry,
		maxIdleTime:    maxIdleTime,
	}
}

func (p *Pool) manager(key string) (*manager, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, errors.Str("pool is closed")
	}
	m, ok := p.managers[key]
	if !ok {
		m = &manager{}
		p.managers[key] = m
	}
	return m, nil
}

// Get returns a connection to ep, reusing an idle pooled one when
// available and dialing otherwise. When the endpoint is at its
// connection cap, Get fails with an Exhausted error without dialing.
func (p *Pool) Get(ep fdfs.Endpoint) (*Conn, error) {
	const op = "pool.Get"
	m, err := p.manager(ep.String())
	if err != nil {
		return nil, errors.E(op, ep, err)
	}

	m.mu.Lock()
	for len(m.free) > 0 {
		c := m.free[len(m.free)-1]
		m.free = m.free[:len(m.free)-1]
		m.freeCount--
		idle := time.Since(c.atime)
		if p.maxIdleTime > 0 && idle > p.maxIdleTime {
			m.totalCount--
			m.mu.Unlock()
			if p.OnClose != nil {
				p.OnClose(c)
			}
			c.nc.Close()
			m.mu.Lock()
			continue
		}
		m.mu.Unlock()
		if p.Ping != nil && idle >= p.PingAfter {
			if err := p.Ping(c); err != nil {
				log.Debug.Printf("pool: %s: dropping idle connection: %v", c.ep, err)
				c.nc.Close()
				m.mu.Lock()
				m.totalCount--
				continue
			}
		}
		return c, nil
	}
	if p.maxPerEntry > 0 && m.totalCount >= p.maxPerEntry {
		m.mu.Unlock()
		return nil, errors.E(op, ep, errors.Exhausted,
			errors.Errorf("%d connections in use", m.totalCount))
	}
	m.totalCount++ // reserve the slot before dialing
	m.mu.Unlock()

	nc, err := net.DialTimeout("tcp", ep.String(), p.connectTimeout)
	if err != nil {
		m.mu.Lock()
		m.totalCount--
		m.mu.Unlock()
		return nil, errors.E(op, ep, errors.Transient, err)
	}
	return &Conn{nc: nc, ep: ep, mgr: m}, nil
}

// Release hands a connection back. With force set, or when the connection
// has been flagged broken, the socket is closed and its slot freed;
// otherwise the connection returns to its endpoint's free list with a
// fresh access timestamp.
func (p *Pool) Release(c *Conn, force bool) {
	if c == nil {
		return
	}
	m := c.mgr
	if m == nil {
		// Not pool-owned (already closed once); just close the socket.
		c.nc.Close()
		return
	}
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	m.mu.Lock()
	if closed || force || c.broken {
		m.totalCount--
		c.mgr = nil
		m.mu.Unlock()
		if !c.broken && p.OnClose != nil {
			p.OnClose(c)
		}
		c.nc.Close()
		return
	}
	c.atime = time.Now()
	m.free = append(m.free, c)
	m.freeCount++
	m.mu.Unlock()
}

// Sweep closes every pooled connection whose idle time exceeds the pool's
// maximum. It is cheap to call and intended for a periodic ticker.
func (p *Pool) Sweep() {
	p.mu.Lock()
	managers := make([]*manager, 0, len(p.managers))
	for _, m := range p.managers {
		managers = append(managers, m)
	}
	p.mu.Unlock()

	now := time.Now()
	for _, m := range managers {
		var stale []*Conn
		m.mu.Lock()
		kept := m.free[:0]
		for _, c := range m.free {
			if now.Sub(c.atime) > p.maxIdleTime {
				m.totalCount--
				m.freeCount--
				c.mgr = nil
				stale = append(stale, c)
				continue
			}
			kept = append(kept, c)
		}
		m.free = kept
		m.mu.Unlock()
		// Notify and close outside the lock; OnClose may touch the network.
		for _, c := range stale {
			if p.OnClose != nil {
				p.OnClose(c)
			}
			c.nc.Close()
		}
	}
}

// Run sweeps the pool at the given interval until ctx is done.
func (p *Pool) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			p.Sweep()
		}
	}
}

// Count returns the total connection count for ep, for monitoring.
func (p *Pool) Count(ep fdfs.Endpoint) int {
	p.mu.Lock()
	m, ok := p.managers[ep.String()]
	p.mu.Unlock()
	if !ok {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalCount
}

// FreeCount returns the free-list length for ep, for monitoring.
func (p *Pool) FreeCount(ep fdfs.Endpoint) int {
	p.mu.Lock()
	m, ok := p.managers[ep.String()]
	p.mu.Unlock()
	if !ok {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.freeCount
}

// Close closes every pooled connection and marks the pool unusable.
// Connections currently checked out are closed by their next Release.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	managers := p.managers
	p.managers = nil
	p.mu.Unlock()

	n := 0
	for _, m := range managers {
		m.mu.Lock()
		free := m.free
		m.free = nil
		m.freeCount = 0
		m.mu.Unlock()
		for _, c := range free {
			c.mgr = nil
			if p.OnClose != nil {
				p.OnClose(c)
			}
			c.nc.Close()
			n++
		}
	}
	if n > 0 {
		log.Debug.Printf("pool: closed %d pooled connections", n)
	}
}
