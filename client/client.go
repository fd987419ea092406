// Copyright 2026 The FDFS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package client ties tracker placement, the connection pool and the
// storage protocol into the caller-facing API: upload goes wherever the
// tracker places it, everything else routes by the file id.
package client

import (
	"context"
	"time"

	"fdfs.io/config"
	"fdfs.io/errors"
	"fdfs.io/fdfs"
	"fdfs.io/pool"
	"fdfs.io/proto"
	"fdfs.io/storage"
	"fdfs.io/tracker"
	"fdfs.io/valid"
)

// Client is a handle on one cluster. It is safe for concurrent use;
// all connections flow through one shared pool.
type Client struct {
	cfg      *config.Config
	pool     *pool.Pool
	trackers *tracker.Client
	storage  *storage.Client
}

// New builds a Client from an explicit Config.
func New(cfg *config.Config) (*Client, error) {
	const op = "client.New"
	if len(cfg.TrackerServers) == 0 {
		return nil, errors.E(op, errors.Invalid, errors.Str("no tracker servers configured"))
	}
	p := pool.New(cfg.ConnectTimeout, cfg.MaxConnections, cfg.MaxIdleTime)
	p.OnClose = func(c *pool.Conn) { proto.Quit(c, cfg.NetworkTimeout) }
	p.Ping = func(c *pool.Conn) error { return proto.ActiveTest(c, cfg.NetworkTimeout) }
	p.PingAfter = cfg.MaxIdleTime / 2
	return &Client{
		cfg:      cfg,
		pool:     p,
		trackers: tracker.New(tracker.NewServerGroup(cfg.TrackerServers...), p, cfg.NetworkTimeout),
		storage:  storage.New(p, cfg.NetworkTimeout),
	}, nil
}

// Trackers exposes the tracker client, for listings and status queries.
func (c *Client) Trackers() *tracker.Client { return c.trackers }

// Run sweeps idle pooled connections until ctx is done. Optional; a
// short-lived client can skip it.
func (c *Client) Run(ctx context.Context) {
	interval := c.cfg.MaxIdleTime / 4
	if interval <= 0 {
		interval = time.Minute
	}
	c.pool.Run(ctx, interval)
}

// Close releases every pooled connection.
func (c *Client) Close() { c.pool.Close() }

// Upload stores data as a new immutable file. With group empty the
// tracker picks one.
func (c *Client) Upload(group, ext string, data []byte, md fdfs.Metadata) (fdfs.FileID, error) {
	const op = "client.Upload"
	srv, err := c.trackers.QueryStore(group)
	if err != nil {
		return "", errors.E(op, err)
	}
	id, err := c.storage.Upload(srv, ext, data, md)
	if err != nil {
		return "", errors.E(op, err)
	}
	return id, nil
}

// UploadAppender stores data as a new appender file.
func (c *Client) UploadAppender(group, ext string, data []byte, md fdfs.Metadata) (fdfs.FileID, error) {
	const op = "client.UploadAppender"
	srv, err := c.trackers.QueryStore(group)
	if err != nil {
		return "", errors.E(op, err)
	}
	id, err := c.storage.UploadAppender(srv, ext, data, md)
	if err != nil {
		return "", errors.E(op, err)
	}
	return id, nil
}

// fetch routes a read-side operation; update routes a mutating one.
func (c *Client) fetch(op string, id fdfs.FileID) (fdfs.Endpoint, error) {
	group, remote, err := valid.FileID(id)
	if err != nil {
		return fdfs.Endpoint{}, errors.E(op, err)
	}
	return c.trackers.QueryFetch(group, remote)
}

func (c *Client) update(op string, id fdfs.FileID) (fdfs.Endpoint, error) {
	group, remote, err := valid.FileID(id)
	if err != nil {
		return fdfs.Endpoint{}, errors.E(op, err)
	}
	return c.trackers.QueryUpdate(group, remote)
}

// Download reads length bytes starting at offset; zero length means
// through the end of the file.
func (c *Client) Download(id fdfs.FileID, offset, length int64) ([]byte, error) {
	const op = "client.Download"
	ep, err := c.fetch(op, id)
	if err != nil {
		return nil, errors.E(op, err)
	}
	data, err := c.storage.Download(ep, id, offset, length)
	if err != nil {
		return nil, errors.E(op, err)
	}
	return data, nil
}

// Append grows an appender file.
func (c *Client) Append(id fdfs.FileID, data []byte) error {
	const op = "client.Append"
	ep, err := c.update(op, id)
	if err != nil {
		return errors.E(op, err)
	}
	if err := c.storage.Append(ep, id, data); err != nil {
		return errors.E(op, err)
	}
	return nil
}

// Modify overwrites a byte range of an appender file in place.
func (c *Client) Modify(id fdfs.FileID, offset int64, data []byte) error {
	const op = "client.Modify"
	ep, err := c.update(op, id)
	if err != nil {
		return errors.E(op, err)
	}
	if err := c.storage.Modify(ep, id, offset, data); err != nil {
		return errors.E(op, err)
	}
	return nil
}

// Truncate sets an appender file's length.
func (c *Client) Truncate(id fdfs.FileID, size int64) error {
	const op = "client.Truncate"
	ep, err := c.update(op, id)
	if err != nil {
		return errors.E(op, err)
	}
	if err := c.storage.Truncate(ep, id, size); err != nil {
		return errors.E(op, err)
	}
	return nil
}

// Delete removes a file.
func (c *Client) Delete(id fdfs.FileID) error {
	const op = "client.Delete"
	ep, err := c.update(op, id)
	if err != nil {
		return errors.E(op, err)
	}
	if err := c.storage.Delete(ep, id); err != nil {
		return errors.E(op, err)
	}
	return nil
}

// GetMetadata fetches a file's metadata set.
func (c *Client) GetMetadata(id fdfs.FileID) (fdfs.Metadata, error) {
	const op = "client.GetMetadata"
	ep, err := c.fetch(op, id)
	if err != nil {
		return nil, errors.E(op, err)
	}
	md, err := c.storage.GetMetadata(ep, id)
	if err != nil {
		return nil, errors.E(op, err)
	}
	return md, nil
}

// SetMetadata replaces or merges a file's metadata set.
func (c *Client) SetMetadata(id fdfs.FileID, md fdfs.Metadata, flag fdfs.MetaFlag) error {
	const op = "client.SetMetadata"
	ep, err := c.update(op, id)
	if err != nil {
		return errors.E(op, err)
	}
	if err := c.storage.SetMetadata(ep, id, md, flag); err != nil {
		return errors.E(op, err)
	}
	return nil
}

// QueryFileInfo reads a file's current size, checksum and origin.
func (c *Client) QueryFileInfo(id fdfs.FileID) (fdfs.FileInfo, error) {
	const op = "client.QueryFileInfo"
	ep, err := c.fetch(op, id)
	if err != nil {
		return fdfs.FileInfo{}, errors.E(op, err)
	}
	info, err := c.storage.QueryFileInfo(ep, id)
	if err != nil {
		return fdfs.FileInfo{}, errors.E(op, err)
	}
	return info, nil
}
