// Copyright 2026 The FDFS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tracker

import (
	"sort"
	"sync"

	"fdfs.io/fdfs"
)

// ServerGroup is the set of trackers a client fails over across.
// Servers are kept sorted by (ip, port) so membership checks are a binary
// search; tracker counts are tens, not thousands, so inserts keep the
// order with a simple shift. The round-robin cursor and the observed
// leader index are the only mutable state after construction.
type ServerGroup struct {
	mu      sync.Mutex
	servers []fdfs.Endpoint
	next    int
	leader  int // index into servers, -1 when unknown
}

// NewServerGroup builds a group from the given endpoints,
// dropping duplicates.
func NewServerGroup(eps ...fdfs.Endpoint) *ServerGroup {
	g := &ServerGroup{leader: -1}
	for _, ep := range eps {
		g.Add(ep)
	}
	return g
}

func less(a, b fdfs.Endpoint) bool {
	if a.IPAddr != b.IPAddr {
		return a.IPAddr < b.IPAddr
	}
	return a.Port < b.Port
}

// search returns the insertion index for ep and whether it is present.
// Callers must hold g.mu.
func (g *ServerGroup) search(ep fdfs.Endpoint) (int, bool) {
	i := sort.Search(len(g.servers), func(i int) bool {
		return !less(g.servers[i], ep)
	})
	return i, i < len(g.servers) && g.servers[i] == ep
}

// Add inserts ep preserving sort order. It reports whether the endpoint
// was new.
func (g *ServerGroup) Add(ep fdfs.Endpoint) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	i, found := g.search(ep)
	if found {
		return false
	}
	g.servers = append(g.servers, fdfs.Endpoint{})
	copy(g.servers[i+1:], g.servers[i:])
	g.servers[i] = ep
	if g.leader >= i {
		g.leader++
	}
	return true
}

// Has reports whether ep is in the group.
func (g *ServerGroup) Has(ep fdfs.Endpoint) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, found := g.search(ep)
	return found
}

// Len returns the number of servers in the group.
func (g *ServerGroup) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.servers)
}

// Order returns one full failover pass: every server once, starting at the
// round-robin cursor, which advances so successive passes spread load.
func (g *ServerGroup) Order() []fdfs.Endpoint {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := len(g.servers)
	if n == 0 {
		return nil
	}
	start := g.next % n
	g.next = (g.next + 1) % n
	out := make([]fdfs.Endpoint, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, g.servers[(start+i)%n])
	}
	return out
}

// Leader returns the last observed leader, if any.
func (g *ServerGroup) Leader() (fdfs.Endpoint, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.leader < 0 || g.leader >= len(g.servers) {
		return fdfs.Endpoint{}, false
	}
	return g.servers[g.leader], true
}

// SetLeader records ep as the current leader. It reports whether ep is a
// member of the group.
func (g *ServerGroup) SetLeader(ep fdfs.Endpoint) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	i, found := g.search(ep)
	if !found {
		return false
	}
	g.leader = i
	return true
}
