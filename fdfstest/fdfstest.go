// Copyright 2026 The FDFS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fdfstest spins up in-process servers on loopback for tests:
// real storage servers over temporary directories, and a minimal
// tracker that places every request on a fixed storage server.
package fdfstest

import (
	"context"
	"io"
	"net"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"fdfs.io/binlog"
	"fdfs.io/fdfs"
	"fdfs.io/pool"
	"fdfs.io/proto"
	"fdfs.io/storage"
	"fdfs.io/storaged"
	"fdfs.io/store"
)

// Timeout is the network timeout the harness uses everywhere.
const Timeout = 5 * time.Second

// StorageServer is one running in-process storage server.
type StorageServer struct {
	ID     string
	Server *storaged.Server
	Store  *store.Store
	Binlog *binlog.Writer
}

// Endpoint returns the server's loopback address.
func (s *StorageServer) Endpoint() fdfs.Endpoint { return s.Server.Endpoint() }

// StartStorage runs a storage server over a fresh temporary directory,
// replicating to peers if any are given. It is stopped, and its binlog
// closed, when the test finishes.
func StartStorage(t testing.TB, group, id string, peers []storaged.Peer, p *pool.Pool) *StorageServer {
	t.Helper()
	dir := t.TempDir()
	st, err := store.New(group, []string{filepath.Join(dir, "path0")})
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	w, err := binlog.OpenWriter(filepath.Join(dir, "data", "sync"), 0)
	if err != nil {
		t.Fatalf("binlog.OpenWriter: %v", err)
	}
	srv, err := storaged.New(storaged.Options{
		Addr:           "127.0.0.1:0",
		Store:          st,
		Binlog:         w,
		Client:         storage.New(p, Timeout),
		Peers:          peers,
		NetworkTimeout: Timeout,
		SyncRetryDelay: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("storaged.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Serve(ctx); err != nil {
			t.Errorf("storaged %s: Serve: %v", id, err)
		}
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		w.Close()
	})
	return &StorageServer{ID: id, Server: srv, Store: st, Binlog: w}
}

// StartTracker runs a minimal tracker that answers every placement
// query with the given storage server. It understands the store, fetch
// and update queries, ACTIVE_TEST, QUIT, and the running-status query,
// which it answers as leader.
func StartTracker(t testing.TB, srv fdfs.StorageServer) fdfs.Endpoint {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("tracker listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go serveTracker(c, srv)
		}
	}()

	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return fdfs.Endpoint{IPAddr: host, Port: port}
}

func serveTracker(c net.Conn, srv fdfs.StorageServer) {
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
		body := make([]byte, h.BodyLen)
		if _, err := io.ReadFull(c, body); err != nil {
			return
		}
		var resp []byte
		switch h.Cmd {
		case fdfs.CmdQuit:
			return
		case fdfs.CmdActiveTest:
		case fdfs.CmdQueryStoreWithoutGroup, fdfs.CmdQueryStoreWithGroup:
			resp = placeBody(srv)
			resp = append(resp, srv.StorePathIndex)
		case fdfs.CmdQueryFetchOne, fdfs.CmdQueryUpdate:
			resp = placeBody(srv)
		case fdfs.CmdTrackerGetStatus:
			resp = make([]byte, 1, 1+2*fdfs.PkgLenSize)
			resp[0] = 1 // leader
			resp = proto.PutInt64(resp, 1)
			resp = proto.PutInt64(resp, 0)
		default:
			reply(c, nil, byte(proto.StatusInvalid))
			continue
		}
		if err := reply(c, resp, 0); err != nil {
			return
		}
	}
}

// placeBody is the shared group+address prefix of placement responses.
func placeBody(srv fdfs.StorageServer) []byte {
	b := proto.PadString(srv.Group, fdfs.GroupNameMaxLen)
	b = append(b, proto.PadString(srv.IPAddr, fdfs.IPAddrSize-1)...)
	b = proto.PutInt64(b, int64(srv.Port))
	return b
}

func reply(c net.Conn, body []byte, status byte) error {
	buf := append(proto.EncodeHeader(proto.Header{
		BodyLen: int64(len(body)),
		Cmd:     fdfs.CmdResp,
		Status:  status,
	}), body...)
	_, err := c.Write(buf)
	return err
}
