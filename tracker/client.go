// Copyright 2026 The FDFS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package tracker implements the client side of the tracker protocol:
// locating storage servers for store/fetch/update, listing groups and
// servers, and reading a tracker's running status. Queries fail over
// across the tracker group; a network error on one tracker is non-fatal
// until a whole pass has failed.
package tracker

import (
	"context"
	"time"

	"fdfs.io/errors"
	"fdfs.io/fdfs"
	"fdfs.io/log"
	"fdfs.io/pool"
	"fdfs.io/proto"
	"fdfs.io/valid"
)

// Response body sizes fixed by the protocol.
const (
	storeBodyLen   = fdfs.GroupNameMaxLen + fdfs.IPAddrSize - 1 + fdfs.PkgLenSize + 1
	fetchBodyLen   = fdfs.GroupNameMaxLen + fdfs.IPAddrSize - 1 + fdfs.PkgLenSize
	statusBodyLen  = 1 + 2*fdfs.PkgLenSize
	groupStatSize  = fdfs.GroupNameMaxLen + 1 + 11*fdfs.PkgLenSize
	storageStatLen = 612

	maxListBody = 4 << 20
)

// Client issues tracker queries through a shared connection pool.
type Client struct {
	group   *ServerGroup
	pool    *pool.Pool
	timeout time.Duration
}

// New returns a Client querying the given tracker group.
func New(group *ServerGroup, p *pool.Pool, networkTimeout time.Duration) *Client {
	return &Client{group: group, pool: p, timeout: networkTimeout}
}

// Group returns the tracker group the client fails over across.
func (c *Client) Group() *ServerGroup { return c.group }

// withTracker runs fn against trackers in failover order. Transient
// failures advance to the next tracker; any other error, or fn succeeding,
// ends the pass. All trackers failing transiently yields one Transient
// error for the pass.
func (c *Client) withTracker(op string, fn func(*pool.Conn) error) error {
	var lastErr error
	for _, ep := range c.group.Order() {
		conn, err := c.pool.Get(ep)
		if err != nil {
			if errors.Is(errors.Transient, err) {
				log.Debug.Printf("tracker: %s: %s unreachable, trying next", op, ep)
				lastErr = err
				continue
			}
			return errors.E(op, err)
		}
		err = fn(conn)
		c.pool.Release(conn, conn.Broken())
		if err == nil {
			return nil
		}
		if errors.Is(errors.Transient, err) {
			log.Debug.Printf("tracker: %s: %s failed transiently, trying next", op, ep)
			lastErr = err
			continue
		}
		return errors.E(op, err)
	}
	if lastErr == nil {
		lastErr = errors.Str("no tracker servers configured")
	}
	return errors.E(op, errors.Transient, lastErr)
}

// QueryStore asks a tracker for a storage server to upload to,
// optionally constrained to a group.
func (c *Client) QueryStore(group string) (fdfs.StorageServer, error) {
	const op = "tracker.QueryStore"
	var body []byte
	cmd := byte(fdfs.CmdQueryStoreWithoutGroup)
	if group != "" {
		if err := valid.GroupName(group); err != nil {
			return fdfs.StorageServer{}, errors.E(op, err)
		}
		cmd = fdfs.CmdQueryStoreWithGroup
		body = proto.PadString(group, fdfs.GroupNameMaxLen)
	}

	var srv fdfs.StorageServer
	err := c.withTracker(op, func(conn *pool.Conn) error {
		if err := proto.SendRequest(conn, cmd, body, c.timeout); err != nil {
			return err
		}
		resp, err := proto.RecvResponse(conn, storeBodyLen, c.timeout)
		if err != nil {
			return err
		}
		if len(resp) != storeBodyLen {
			conn.MarkBroken()
			return errors.E(errors.Protocol, errors.Errorf("store reply is %d bytes, want %d", len(resp), storeBodyLen))
		}
		srv = fdfs.StorageServer{
			Group: proto.TrimPadded(resp[:fdfs.GroupNameMaxLen]),
			Endpoint: fdfs.Endpoint{
				IPAddr: proto.TrimPadded(resp[fdfs.GroupNameMaxLen : fdfs.GroupNameMaxLen+fdfs.IPAddrSize-1]),
				Port:   int(proto.Int64(resp[fdfs.GroupNameMaxLen+fdfs.IPAddrSize-1:])),
			},
			StorePathIndex: resp[storeBodyLen-1],
		}
		return nil
	})
	if err != nil {
		return fdfs.StorageServer{}, err
	}
	return srv, nil
}

// QueryStoreWait is QueryStore for long-lived daemons: it repeats full
// failover passes with a fixed delay until one succeeds or ctx is done.
func (c *Client) QueryStoreWait(ctx context.Context, group string, retryDelay time.Duration) (fdfs.StorageServer, error) {
	const op = "tracker.QueryStoreWait"
	for {
		srv, err := c.QueryStore(group)
		if err == nil {
			return srv, nil
		}
		if !errors.Is(errors.Transient, err) {
			return fdfs.StorageServer{}, errors.E(op, err)
		}
		select {
		case <-ctx.Done():
			return fdfs.StorageServer{}, errors.E(op, errors.Transient, ctx.Err())
		case <-time.After(retryDelay):
		}
	}
}

func (c *Client) queryByFile(op string, cmd byte, group, filename string) (fdfs.Endpoint, error) {
	if err := valid.GroupName(group); err != nil {
		return fdfs.Endpoint{}, errors.E(op, err)
	}
	if err := valid.RemoteFilename(filename); err != nil {
		return fdfs.Endpoint{}, errors.E(op, err)
	}
	body := make([]byte, 0, fdfs.GroupNameMaxLen+len(filename))
	body = append(body, proto.PadString(group, fdfs.GroupNameMaxLen)...)
	body = append(body, filename...)

	var ep fdfs.Endpoint
	err := c.withTracker(op, func(conn *pool.Conn) error {
		if err := proto.SendRequest(conn, cmd, body, c.timeout); err != nil {
			return err
		}
		resp, err := proto.RecvResponse(conn, fetchBodyLen, c.timeout)
		if err != nil {
			return err
		}
		if len(resp) != fetchBodyLen {
			conn.MarkBroken()
			return errors.E(errors.Protocol, errors.Errorf("fetch reply is %d bytes, want %d", len(resp), fetchBodyLen))
		}
		ep = fdfs.Endpoint{
			IPAddr: proto.TrimPadded(resp[fdfs.GroupNameMaxLen : fdfs.GroupNameMaxLen+fdfs.IPAddrSize-1]),
			Port:   int(proto.Int64(resp[fdfs.GroupNameMaxLen+fdfs.IPAddrSize-1:])),
		}
		return nil
	})
	if err != nil {
		return fdfs.Endpoint{}, err
	}
	return ep, nil
}

// QueryFetch asks a tracker for a storage server to download the named
// file from.
func (c *Client) QueryFetch(group, filename string) (fdfs.Endpoint, error) {
	return c.queryByFile("tracker.QueryFetch", fdfs.CmdQueryFetchOne, group, filename)
}

// QueryUpdate asks a tracker for the storage server that owns the named
// file, for mutating operations (append, modify, delete, metadata).
func (c *Client) QueryUpdate(group, filename string) (fdfs.Endpoint, error) {
	return c.queryByFile("tracker.QueryUpdate", fdfs.CmdQueryUpdate, group, filename)
}

// ListGroups returns the statistics of every storage group.
func (c *Client) ListGroups() ([]fdfs.GroupStat, error) {
	const op = "tracker.ListGroups"
	var stats []fdfs.GroupStat
	err := c.withTracker(op, func(conn *pool.Conn) error {
		if err := proto.SendRequest(conn, fdfs.CmdListAllGroups, nil, c.timeout); err != nil {
			return err
		}
		resp, err := proto.RecvResponse(conn, maxListBody, c.timeout)
		if err != nil {
			return err
		}
		if len(resp)%groupStatSize != 0 {
			conn.MarkBroken()
			return errors.E(errors.Protocol, errors.Errorf("group list length %d not a multiple of %d", len(resp), groupStatSize))
		}
		stats = stats[:0]
		for off := 0; off < len(resp); off += groupStatSize {
			stats = append(stats, parseGroupStat(resp[off:off+groupStatSize]))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

func parseGroupStat(b []byte) fdfs.GroupStat {
	name := proto.TrimPadded(b[:fdfs.GroupNameMaxLen+1])
	p := b[fdfs.GroupNameMaxLen+1:]
	i64 := func(i int) int64 { return proto.Int64(p[i*8:]) }
	return fdfs.GroupStat{
		Name:               name,
		TotalMB:            i64(0),
		FreeMB:             i64(1),
		TrunkFreeMB:        i64(2),
		ServerCount:        int(i64(3)),
		StoragePort:        int(i64(4)),
		StorageHTTPPort:    int(i64(5)),
		ActiveCount:        int(i64(6)),
		CurrentWriteServer: int(i64(7)),
		StorePathCount:     int(i64(8)),
		SubdirCountPerPath: int(i64(9)),
		CurrentTrunkFileID: int(i64(10)),
	}
}

// ListServers returns the statistics of the storage servers in a group,
// optionally restricted to one storage id.
func (c *Client) ListServers(group, storageID string) ([]fdfs.StorageStat, error) {
	const op = "tracker.ListServers"
	if err := valid.GroupName(group); err != nil {
		return nil, errors.E(op, err)
	}
	body := proto.PadString(group, fdfs.GroupNameMaxLen)
	if storageID != "" {
		body = append(body, storageID...)
	}

	var stats []fdfs.StorageStat
	err := c.withTracker(op, func(conn *pool.Conn) error {
		if err := proto.SendRequest(conn, fdfs.CmdListStorages, body, c.timeout); err != nil {
			return err
		}
		resp, err := proto.RecvResponse(conn, maxListBody, c.timeout)
		if err != nil {
			return err
		}
		if len(resp)%storageStatLen != 0 {
			conn.MarkBroken()
			return errors.E(errors.Protocol, errors.Errorf("server list length %d not a multiple of %d", len(resp), storageStatLen))
		}
		stats = stats[:0]
		for off := 0; off < len(resp); off += storageStatLen {
			stats = append(stats, parseStorageStat(resp[off:off+storageStatLen]))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// Offsets into the fixed 612-byte storage stat record. The block at 263
// is the per-operation counter area; only the trailing sync timestamps
// are surfaced.
const (
	statID        = 1
	statIP        = statID + fdfs.StorageIDMaxSize
	statDomain    = statIP + fdfs.IPAddrSize
	statSrcID     = statDomain + fdfs.DomainNameMaxSize
	statVersion   = statSrcID + fdfs.StorageIDMaxSize
	statJoinTime  = statVersion + fdfs.VersionSize
	statCounters  = statJoinTime + 10*fdfs.PkgLenSize
	statSrcUpdate = statCounters + 12 + 38*fdfs.PkgLenSize
	statTrunkFlag = storageStatLen - 1
)

func parseStorageStat(b []byte) fdfs.StorageStat {
	i64 := func(off int) int64 { return proto.Int64(b[off:]) }
	ts := func(off int) time.Time {
		if v := i64(off); v > 0 {
			return time.Unix(v, 0)
		}
		return time.Time{}
	}
	return fdfs.StorageStat{
		Status:              b[0],
		ID:                  proto.TrimPadded(b[statID:statIP]),
		IPAddr:              proto.TrimPadded(b[statIP:statDomain]),
		DomainName:          proto.TrimPadded(b[statDomain:statSrcID]),
		SrcID:               proto.TrimPadded(b[statSrcID:statVersion]),
		Version:             proto.TrimPadded(b[statVersion:statJoinTime]),
		JoinTime:            ts(statJoinTime),
		UpTime:              ts(statJoinTime + 8),
		TotalMB:             i64(statJoinTime + 16),
		FreeMB:              i64(statJoinTime + 24),
		UploadPriority:      int(i64(statJoinTime + 32)),
		StorePathCount:      int(i64(statJoinTime + 40)),
		SubdirCountPerPath:  int(i64(statJoinTime + 48)),
		CurrentWritePath:    int(i64(statJoinTime + 56)),
		StoragePort:         int(i64(statJoinTime + 64)),
		StorageHTTPPort:     int(i64(statJoinTime + 72)),
		LastSourceUpdate:    ts(statSrcUpdate),
		LastSyncUpdate:      ts(statSrcUpdate + 8),
		LastSyncedTimestamp: ts(statSrcUpdate + 16),
		TrunkServer:         b[statTrunkFlag] != 0,
	}
}

// RunningStatus reads one tracker's running status: whether it is the
// group leader, how long it has been up, and its restart interval. It
// queries the given tracker directly, with no failover; leader-change
// detection needs the answer of a specific server.
func (c *Client) RunningStatus(ep fdfs.Endpoint) (fdfs.TrackerStatus, error) {
	const op = "tracker.RunningStatus"
	conn, err := c.pool.Get(ep)
	if err != nil {
		return fdfs.TrackerStatus{}, errors.E(op, err)
	}
	defer func() { c.pool.Release(conn, conn.Broken()) }()

	if err := proto.SendRequest(conn, fdfs.CmdTrackerGetStatus, nil, c.timeout); err != nil {
		return fdfs.TrackerStatus{}, errors.E(op, err)
	}
	resp, err := proto.RecvResponse(conn, statusBodyLen, c.timeout)
	if err != nil {
		return fdfs.TrackerStatus{}, errors.E(op, err)
	}
	if len(resp) != statusBodyLen {
		conn.MarkBroken()
		return fdfs.TrackerStatus{}, errors.E(op, ep, errors.Protocol,
			errors.Errorf("status reply is %d bytes, want %d", len(resp), statusBodyLen))
	}
	st := fdfs.TrackerStatus{
		Leader:          resp[0] != 0,
		RunningTime:     time.Duration(proto.Int64(resp[1:])) * time.Second,
		RestartInterval: time.Duration(proto.Int64(resp[9:])) * time.Second,
	}
	if st.Leader {
		c.group.SetLeader(ep)
	}
	return st, nil
}
