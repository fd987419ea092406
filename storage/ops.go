// Copyright 2026 The FDFS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package storage implements the client side of the storage protocol:
// upload, append, modify, truncate, download, delete, metadata and file
// info operations against a storage server, plus the replica propagation
// commands the replication subsystem replays to peers.
package storage

import (
	"time"

	"fdfs.io/errors"
	"fdfs.io/fdfs"
	"fdfs.io/pool"
	"fdfs.io/proto"
	"fdfs.io/valid"
)

// MaxPacketSize caps how large a response body this client will accept.
const MaxPacketSize = 256 << 20

// Client issues storage operations through a shared connection pool.
// It carries no per-server state; the target server is an argument of
// every operation.
type Client struct {
	pool    *pool.Pool
	timeout time.Duration
}

// New returns a storage Client.
func New(p *pool.Pool, networkTimeout time.Duration) *Client {
	return &Client{pool: p, timeout: networkTimeout}
}

// do runs one request/response round trip against ep.
func (c *Client) do(ep fdfs.Endpoint, cmd byte, body []byte, maxResp int64) ([]byte, error) {
	conn, err := c.pool.Get(ep)
	if err != nil {
		return nil, err
	}
	defer func() { c.pool.Release(conn, conn.Broken()) }()

	if err := proto.SendRequest(conn, cmd, body, c.timeout); err != nil {
		return nil, err
	}
	return proto.RecvResponse(conn, maxResp, c.timeout)
}

// trimExt bounds a file extension to the protocol's fixed field,
// dropping a leading dot. Truncation is silent, matching the servers.
func trimExt(ext string) string {
	if ext != "" && ext[0] == '.' {
		ext = ext[1:]
	}
	if len(ext) > fdfs.FileExtNameMaxLen {
		ext = ext[:fdfs.FileExtNameMaxLen]
	}
	return ext
}

// Upload stores data as a new immutable file on srv and returns its id.
// Metadata, if given, is set in a second round trip after the upload.
func (c *Client) Upload(srv fdfs.StorageServer, ext string, data []byte, md fdfs.Metadata) (fdfs.FileID, error) {
	return c.upload("storage.Upload", fdfs.CmdUploadFile, srv, ext, data, md)
}

// UploadAppender stores data as a new appender file: mutable afterwards
// through Append, Modify and Truncate.
func (c *Client) UploadAppender(srv fdfs.StorageServer, ext string, data []byte, md fdfs.Metadata) (fdfs.FileID, error) {
	return c.upload("storage.UploadAppender", fdfs.CmdUploadAppenderFile, srv, ext, data, md)
}

func (c *Client) upload(op string, cmd byte, srv fdfs.StorageServer, ext string, data []byte, md fdfs.Metadata) (fdfs.FileID, error) {
	body := make([]byte, 0, 1+fdfs.PkgLenSize+fdfs.FileExtNameMaxLen+len(data))
	body = append(body, srv.StorePathIndex)
	body = proto.PutInt64(body, int64(len(data)))
	body = append(body, proto.PadString(trimExt(ext), fdfs.FileExtNameMaxLen)...)
	body = append(body, data...)

	resp, err := c.do(srv.Endpoint, cmd, body, MaxPacketSize)
	if err != nil {
		return "", errors.E(op, srv.Endpoint, err)
	}
	if len(resp) <= fdfs.GroupNameMaxLen {
		return "", errors.E(op, srv.Endpoint, errors.Protocol,
			errors.Errorf("upload reply is %d bytes", len(resp)))
	}
	id := fdfs.JoinFileID(
		proto.TrimPadded(resp[:fdfs.GroupNameMaxLen]),
		string(resp[fdfs.GroupNameMaxLen:]),
	)
	if len(md) > 0 {
		if err := c.SetMetadata(srv.Endpoint, id, md, fdfs.MetaOverwrite); err != nil {
			return "", errors.E(op, err)
		}
	}
	return id, nil
}

// Append grows an appender file by data. The server rejects the call with
// an Invalid error when the file is not an appender file.
func (c *Client) Append(ep fdfs.Endpoint, id fdfs.FileID, data []byte) error {
	const op = "storage.Append"
	_, remote, err := valid.FileID(id)
	if err != nil {
		return errors.E(op, err)
	}
	body := make([]byte, 0, 2*fdfs.PkgLenSize+len(remote)+len(data))
	body = proto.PutInt64(body, int64(len(remote)))
	body = proto.PutInt64(body, int64(len(data)))
	body = append(body, remote...)
	body = append(body, data...)
	if _, err := c.do(ep, fdfs.CmdAppendFile, body, 0); err != nil {
		return errors.E(op, id, ep, err)
	}
	return nil
}

// Modify overwrites len(data) bytes of an appender file starting at
// offset. Modify never extends a file: the server fails the call when
// offset+len(data) passes the current end, leaving the file untouched.
func (c *Client) Modify(ep fdfs.Endpoint, id fdfs.FileID, offset int64, data []byte) error {
	const op = "storage.Modify"
	_, remote, err := valid.FileID(id)
	if err != nil {
		return errors.E(op, err)
	}
	if offset < 0 {
		return errors.E(op, id, errors.Invalid, errors.Str("negative offset"))
	}
	body := make([]byte, 0, 3*fdfs.PkgLenSize+len(remote)+len(data))
	body = proto.PutInt64(body, int64(len(remote)))
	body = proto.PutInt64(body, offset)
	body = proto.PutInt64(body, int64(len(data)))
	body = append(body, remote...)
	body = append(body, data...)
	if _, err := c.do(ep, fdfs.CmdModifyFile, body, 0); err != nil {
		return errors.E(op, id, ep, err)
	}
	return nil
}

// Truncate sets an appender file's length to size. Shrinking is the
// common case; a size at or past the current length extends the file
// with zeros.
func (c *Client) Truncate(ep fdfs.Endpoint, id fdfs.FileID, size int64) error {
	const op = "storage.Truncate"
	_, remote, err := valid.FileID(id)
	if err != nil {
		return errors.E(op, err)
	}
	if size < 0 {
		return errors.E(op, id, errors.Invalid, errors.Str("negative size"))
	}
	body := make([]byte, 0, 2*fdfs.PkgLenSize+len(remote))
	body = proto.PutInt64(body, int64(len(remote)))
	body = proto.PutInt64(body, size)
	body = append(body, remote...)
	if _, err := c.do(ep, fdfs.CmdTruncateFile, body, 0); err != nil {
		return errors.E(op, id, ep, err)
	}
	return nil
}

// Download reads length bytes of the file starting at offset. A zero
// length means to the end of the file; an offset at or past the end
// yields an empty result, not an error.
func (c *Client) Download(ep fdfs.Endpoint, id fdfs.FileID, offset, length int64) ([]byte, error) {
	const op = "storage.Download"
	group, remote, err := valid.FileID(id)
	if err != nil {
		return nil, errors.E(op, err)
	}
	if offset < 0 || length < 0 {
		return nil, errors.E(op, id, errors.Invalid, errors.Str("negative offset or length"))
	}
	body := make([]byte, 0, 2*fdfs.PkgLenSize+fdfs.GroupNameMaxLen+len(remote))
	body = proto.PutInt64(body, offset)
	body = proto.PutInt64(body, length)
	body = append(body, proto.PadString(group, fdfs.GroupNameMaxLen)...)
	body = append(body, remote...)
	data, err := c.do(ep, fdfs.CmdDownloadFile, body, MaxPacketSize)
	if err != nil {
		return nil, errors.E(op, id, ep, err)
	}
	return data, nil
}

// Delete removes the file. Deleting a file that does not exist reports
// NotExist.
func (c *Client) Delete(ep fdfs.Endpoint, id fdfs.FileID) error {
	const op = "storage.Delete"
	group, remote, err := valid.FileID(id)
	if err != nil {
		return errors.E(op, err)
	}
	body := append(proto.PadString(group, fdfs.GroupNameMaxLen), remote...)
	if _, err := c.do(ep, fdfs.CmdDeleteFile, body, 0); err != nil {
		return errors.E(op, id, ep, err)
	}
	return nil
}

// GetMetadata fetches the file's metadata set.
func (c *Client) GetMetadata(ep fdfs.Endpoint, id fdfs.FileID) (fdfs.Metadata, error) {
	const op = "storage.GetMetadata"
	group, remote, err := valid.FileID(id)
	if err != nil {
		return nil, errors.E(op, err)
	}
	body := append(proto.PadString(group, fdfs.GroupNameMaxLen), remote...)
	resp, err := c.do(ep, fdfs.CmdGetMetadata, body, MaxPacketSize)
	if err != nil {
		return nil, errors.E(op, id, ep, err)
	}
	return proto.UnpackMetadata(resp), nil
}

// SetMetadata replaces or merges the file's metadata set, per flag.
func (c *Client) SetMetadata(ep fdfs.Endpoint, id fdfs.FileID, md fdfs.Metadata, flag fdfs.MetaFlag) error {
	const op = "storage.SetMetadata"
	group, remote, err := valid.FileID(id)
	if err != nil {
		return errors.E(op, err)
	}
	if flag != fdfs.MetaOverwrite && flag != fdfs.MetaMerge {
		return errors.E(op, errors.Invalid, errors.Errorf("bad metadata flag %q", flag))
	}
	packed := proto.PackMetadata(md)
	body := make([]byte, 0, 2*fdfs.PkgLenSize+1+fdfs.GroupNameMaxLen+len(remote)+len(packed))
	body = proto.PutInt64(body, int64(len(remote)))
	body = proto.PutInt64(body, int64(len(packed)))
	body = append(body, byte(flag))
	body = append(body, proto.PadString(group, fdfs.GroupNameMaxLen)...)
	body = append(body, remote...)
	body = append(body, packed...)
	if _, err := c.do(ep, fdfs.CmdSetMetadata, body, 0); err != nil {
		return errors.E(op, id, ep, err)
	}
	return nil
}

// infoBodyLen is the fixed QueryFileInfo response: size, create time,
// crc32 (8 bytes each) and the source server address.
const infoBodyLen = 3*fdfs.PkgLenSize + fdfs.IPAddrSize

// QueryFileInfo reads the file's current size, creation time, checksum
// and source server. Size and CRC32 need this round trip; they reflect
// possibly-mutated server state, not what the file id encodes.
func (c *Client) QueryFileInfo(ep fdfs.Endpoint, id fdfs.FileID) (fdfs.FileInfo, error) {
	const op = "storage.QueryFileInfo"
	group, remote, err := valid.FileID(id)
	if err != nil {
		return fdfs.FileInfo{}, errors.E(op, err)
	}
	body := append(proto.PadString(group, fdfs.GroupNameMaxLen), remote...)
	resp, err := c.do(ep, fdfs.CmdQueryFileInfo, body, infoBodyLen)
	if err != nil {
		return fdfs.FileInfo{}, errors.E(op, id, ep, err)
	}
	if len(resp) != infoBodyLen {
		return fdfs.FileInfo{}, errors.E(op, id, ep, errors.Protocol,
			errors.Errorf("file info reply is %d bytes, want %d", len(resp), infoBodyLen))
	}
	size := proto.Int64(resp)
	info := fdfs.FileInfo{
		Size:         size &^ fdfs.AppenderSizeBit,
		CreateTime:   time.Unix(proto.Int64(resp[8:]), 0),
		CRC32:        uint32(proto.Int64(resp[16:])),
		SourceIPAddr: proto.TrimPadded(resp[24:]),
		Appender:     size&fdfs.AppenderSizeBit != 0,
	}
	return info, nil
}
