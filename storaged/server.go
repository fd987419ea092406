// Copyright 2026 The FDFS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package storaged is the storage server: it speaks the wire protocol
// on a TCP listener, executes client and replica commands against a
// local store, logs every mutation to the binlog, and runs one syncer
// goroutine per replica peer.
package storaged

import (
	"context"
	"hash/fnv"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"fdfs.io/binlog"
	"fdfs.io/errors"
	"fdfs.io/fdfs"
	"fdfs.io/log"
	"fdfs.io/proto"
	"fdfs.io/storage"
	"fdfs.io/store"
)

// Peer identifies one replica of this server's group. ID names the
// peer's mark file; every peer needs a distinct one.
type Peer struct {
	ID   string
	Addr fdfs.Endpoint
}

// Options configures a Server. Store and Binlog are required; Client
// and Peers only when the server replicates.
type Options struct {
	Addr           string // listen address, e.g. ":23000"
	Store          *store.Store
	Binlog         *binlog.Writer
	Client         *storage.Client // outbound ops for replication
	Peers          []Peer
	MaxConnections int           // concurrent client connections; 0 means unlimited
	NetworkTimeout time.Duration // per-read/write deadline on active requests
	SyncRetryDelay time.Duration // base backoff of the peer syncers
}

// Server is one running storage server.
type Server struct {
	store   *store.Store
	blog    *binlog.Writer
	client  *storage.Client
	peers   []Peer
	timeout time.Duration
	retry   time.Duration
	group   string
	ipAddr  string

	listener net.Listener

	// locks serializes mutations per file. Striping keeps the table
	// fixed-size; two files sharing a stripe merely wait on each other.
	locks [64]sync.Mutex
}

// New binds the listener and returns a server ready to Serve. The
// listen address is final once New returns, so a caller that asked for
// port 0 can read the real one from Addr.
func New(o Options) (*Server, error) {
	const op = "storaged.New"
	if o.Store == nil || o.Binlog == nil {
		return nil, errors.E(op, errors.Invalid, errors.Str("store and binlog are required"))
	}
	if len(o.Peers) > 0 && o.Client == nil {
		return nil, errors.E(op, errors.Invalid, errors.Str("peers configured without a storage client"))
	}
	if o.NetworkTimeout <= 0 {
		o.NetworkTimeout = 30 * time.Second
	}
	l, err := net.Listen("tcp", o.Addr)
	if err != nil {
		return nil, errors.E(op, errors.IO, err)
	}
	if o.MaxConnections > 0 {
		l = netutil.LimitListener(l, o.MaxConnections)
	}
	ip, _, err := net.SplitHostPort(l.Addr().String())
	if err != nil {
		l.Close()
		return nil, errors.E(op, errors.IO, err)
	}
	return &Server{
		store:    o.Store,
		blog:     o.Binlog,
		client:   o.Client,
		peers:    o.Peers,
		timeout:  o.NetworkTimeout,
		retry:    o.SyncRetryDelay,
		group:    o.Store.Group(),
		ipAddr:   ip,
		listener: l,
	}, nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() string { return s.listener.Addr().String() }

// Endpoint returns the bound address as an Endpoint.
func (s *Server) Endpoint() fdfs.Endpoint {
	host, portStr, _ := net.SplitHostPort(s.Addr())
	port, _ := strconv.Atoi(portStr)
	return fdfs.Endpoint{IPAddr: host, Port: port}
}

// Serve accepts connections and runs the peer syncers until ctx is
// done, then closes the listener and waits for in-flight requests.
func (s *Server) Serve(ctx context.Context) error {
	const op = "storaged.Serve"
	log.Info.Printf("storaged: group %s serving on %s, %d peer(s)", s.group, s.Addr(), len(s.peers))

	g, ctx := errgroup.WithContext(ctx)
	for _, p := range s.peers {
		p := p
		syncer, err := binlog.NewSyncer(s.blog, p.ID, p.Addr, s.store, s.client, s.retry)
		if err != nil {
			s.listener.Close()
			return errors.E(op, err)
		}
		g.Go(func() error { return syncer.Run(ctx) })
	}
	g.Go(func() error {
		<-ctx.Done()
		s.listener.Close()
		return nil
	})
	g.Go(func() error {
		var wg sync.WaitGroup
		defer wg.Wait()
		for {
			c, err := s.listener.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return errors.E(op, errors.IO, err)
			}
			wg.Add(1)
			stop := context.AfterFunc(ctx, func() { c.Close() })
			go func() {
				defer wg.Done()
				defer stop()
				s.serve(c)
			}()
		}
	})
	return g.Wait()
}

// serve runs one connection's request loop. A connection may sit idle
// between requests; deadlines apply only once a request has begun.
func (s *Server) serve(c net.Conn) {
	defer c.Close()
	log.Debug.Printf("storaged: %s connected", c.RemoteAddr())
	hdr := make([]byte, fdfs.HeaderSize)
	for {
		if _, err := io.ReadFull(c, hdr); err != nil {
			if err != io.EOF {
				log.Debug.Printf("storaged: %s read: %v", c.RemoteAddr(), err)
			}
			return
		}
		h, err := proto.DecodeHeader(hdr)
		if err != nil {
			log.Error.Printf("storaged: %s sent a bad header: %v", c.RemoteAddr(), err)
			return
		}
		if h.Cmd == fdfs.CmdQuit {
			log.Debug.Printf("storaged: %s quit", c.RemoteAddr())
			return
		}
		if h.BodyLen > storage.MaxPacketSize {
			log.Error.Printf("storaged: %s request of %d bytes refused", c.RemoteAddr(), h.BodyLen)
			s.reply(c, nil, errors.E(errors.Exhausted, errors.Str("request too large")))
			return
		}
		body := make([]byte, h.BodyLen)
		c.SetReadDeadline(time.Now().Add(s.timeout))
		if _, err := io.ReadFull(c, body); err != nil {
			log.Debug.Printf("storaged: %s body read: %v", c.RemoteAddr(), err)
			return
		}
		c.SetReadDeadline(time.Time{})

		resp, err := s.dispatch(h.Cmd, body)
		if err != nil {
			log.Debug.Printf("storaged: %s cmd %d: %v", c.RemoteAddr(), h.Cmd, err)
		}
		if err := s.reply(c, resp, err); err != nil {
			log.Debug.Printf("storaged: %s write: %v", c.RemoteAddr(), err)
			return
		}
	}
}

// reply writes one response frame. The error, if any, travels as the
// header's status byte and the body is dropped.
func (s *Server) reply(c net.Conn, body []byte, herr error) error {
	status := statusOf(herr)
	if status != 0 {
		body = nil
	}
	buf := make([]byte, 0, fdfs.HeaderSize+len(body))
	buf = append(buf, proto.EncodeHeader(proto.Header{
		BodyLen: int64(len(body)),
		Cmd:     fdfs.CmdResp,
		Status:  status,
	})...)
	buf = append(buf, body...)
	c.SetWriteDeadline(time.Now().Add(s.timeout))
	_, err := c.Write(buf)
	c.SetWriteDeadline(time.Time{})
	return err
}

// statusOf maps an error to the errno reported on the wire.
func statusOf(err error) byte {
	switch {
	case err == nil:
		return 0
	case errors.Is(errors.NotExist, err):
		return byte(proto.StatusNotExist)
	case errors.Is(errors.Exist, err):
		return byte(proto.StatusExist)
	case errors.Is(errors.Invalid, err), errors.Is(errors.Syntax, err):
		return byte(proto.StatusInvalid)
	case errors.Is(errors.Exhausted, err):
		return byte(proto.StatusNoSpace)
	default:
		return 5 // EIO
	}
}

// lock serializes mutations of filename and returns the unlock.
func (s *Server) lock(filename string) func() {
	h := fnv.New32a()
	h.Write([]byte(filename))
	m := &s.locks[h.Sum32()%uint32(len(s.locks))]
	m.Lock()
	return m.Unlock
}

// logMutation appends a binlog record. The mutation itself has already
// happened; a binlog failure degrades replication but not the request.
func (s *Server) logMutation(rec binlog.Record) {
	if rec.Time.IsZero() {
		rec.Time = time.Now()
	}
	if err := s.blog.Append(rec); err != nil {
		log.Error.Printf("storaged: binlog append for %s: %v", rec.Filename, err)
	}
}
