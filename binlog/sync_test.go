// Copyright 2026 The FDFS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package binlog

import (
	"context"
	"io"
	"net"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"fdfs.io/fdfs"
	"fdfs.io/pool"
	"fdfs.io/proto"
	"fdfs.io/storage"
	"fdfs.io/store"
)

// startRejectingPeer runs a peer that answers every request with
// EINVAL, counting the requests it refuses.
func startRejectingPeer(t *testing.T, requests *int32) fdfs.Endpoint {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer c.Close()
				hdr := make([]byte, fdfs.HeaderSize)
				for {
					if _, err := io.ReadFull(c, hdr); err != nil {
						return
					}
					h, err := proto.DecodeHeader(hdr)
					if err != nil {
						return
					}
					if _, err := io.CopyN(io.Discard, c, h.BodyLen); err != nil {
						return
					}
					atomic.AddInt32(requests, 1)
					resp := proto.EncodeHeader(proto.Header{
						Cmd:    fdfs.CmdResp,
						Status: byte(proto.StatusInvalid),
					})
					if _, err := c.Write(resp); err != nil {
						return
					}
				}
			}()
		}
	}()
	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return fdfs.Endpoint{IPAddr: host, Port: port}
}

// A record the peer refuses is retried, not skipped: the cursor must
// stay put however the replay fails.
func TestSyncerNeverSkipsFailedRecord(t *testing.T) {
	st, err := store.New("group1", []string{t.TempDir()})
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	remote, err := st.Create(0, "txt", []byte("payload"), false)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	w, err := OpenWriter(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("OpenWriter: %v", err)
	}
	defer w.Close()
	mustAppend(t, w, rec(time.Now().Unix(), Create, remote))

	var requests int32
	peer := startRejectingPeer(t, &requests)
	p := pool.New(time.Second, 4, time.Minute)
	defer p.Close()

	s, err := NewSyncer(w, "srv-b", peer, st, storage.New(p, time.Second), 5*time.Millisecond)
	if err != nil {
		t.Fatalf("NewSyncer: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	if err := s.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if n := atomic.LoadInt32(&requests); n < 2 {
		t.Errorf("peer saw %d requests; want at least 2 (the record must be retried)", n)
	}
	m, err := LoadMark(w.Dir(), "srv-b")
	if err != nil {
		t.Fatalf("LoadMark: %v", err)
	}
	if m.Offset != 0 || m.Index != 0 {
		t.Errorf("cursor advanced to (%d, %d) past an unreplayed record; want (0, 0)", m.Index, m.Offset)
	}
	if m.SyncRows != 0 {
		t.Errorf("SyncRows = %d; want 0", m.SyncRows)
	}
}
