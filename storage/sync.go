// Copyright 2026 The FDFS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package storage

import (
	"time"

	"fdfs.io/errors"
	"fdfs.io/fdfs"
	"fdfs.io/proto"
)

// The Sync family replays source-side mutations on a replica peer.
// Bodies carry the mutation timestamp so the peer can keep its
// "synced until" watermark; filenames are the bare remote names, the
// group travels in its fixed field. These commands are only ever sent
// between storage servers of the same group.

// SyncCreate replays a file creation (or a full copy of an existing
// file during full sync) on the peer.
func (c *Client) SyncCreate(ep fdfs.Endpoint, group, filename string, data []byte, ts time.Time) error {
	return c.syncWhole("storage.SyncCreate", fdfs.CmdSyncCreateFile, ep, group, filename, data, ts)
}

// SyncUpdate replays an in-place overwrite of a whole file, used when
// the peer already holds an older copy.
func (c *Client) SyncUpdate(ep fdfs.Endpoint, group, filename string, data []byte, ts time.Time) error {
	return c.syncWhole("storage.SyncUpdate", fdfs.CmdSyncUpdateFile, ep, group, filename, data, ts)
}

func (c *Client) syncWhole(op string, cmd byte, ep fdfs.Endpoint, group, filename string, data []byte, ts time.Time) error {
	body := make([]byte, 0, 2*fdfs.PkgLenSize+4+fdfs.GroupNameMaxLen+len(filename)+len(data))
	body = proto.PutInt64(body, int64(len(filename)))
	body = proto.PutInt64(body, int64(len(data)))
	body = proto.PutInt32(body, int32(ts.Unix()))
	body = append(body, proto.PadString(group, fdfs.GroupNameMaxLen)...)
	body = append(body, filename...)
	body = append(body, data...)
	if _, err := c.do(ep, cmd, body, 0); err != nil {
		return errors.E(op, ep, err)
	}
	return nil
}

// SyncAppend replays an append of data written at offset. The peer
// applies it only when offset matches its current file size, which makes
// redelivery after a half-failed round trip harmless.
func (c *Client) SyncAppend(ep fdfs.Endpoint, group, filename string, offset int64, data []byte, ts time.Time) error {
	return c.syncRange("storage.SyncAppend", fdfs.CmdSyncAppendFile, ep, group, filename, offset, data, ts)
}

// SyncModify replays an in-place overwrite of a byte range.
func (c *Client) SyncModify(ep fdfs.Endpoint, group, filename string, offset int64, data []byte, ts time.Time) error {
	return c.syncRange("storage.SyncModify", fdfs.CmdSyncModifyFile, ep, group, filename, offset, data, ts)
}

func (c *Client) syncRange(op string, cmd byte, ep fdfs.Endpoint, group, filename string, offset int64, data []byte, ts time.Time) error {
	body := make([]byte, 0, 3*fdfs.PkgLenSize+4+fdfs.GroupNameMaxLen+len(filename)+len(data))
	body = proto.PutInt64(body, int64(len(filename)))
	body = proto.PutInt64(body, offset)
	body = proto.PutInt64(body, int64(len(data)))
	body = proto.PutInt32(body, int32(ts.Unix()))
	body = append(body, proto.PadString(group, fdfs.GroupNameMaxLen)...)
	body = append(body, filename...)
	body = append(body, data...)
	if _, err := c.do(ep, cmd, body, 0); err != nil {
		return errors.E(op, ep, err)
	}
	return nil
}

// SyncTruncate replays a truncate. oldSize lets the peer skip the call
// when its copy already moved past this record.
func (c *Client) SyncTruncate(ep fdfs.Endpoint, group, filename string, oldSize, newSize int64, ts time.Time) error {
	const op = "storage.SyncTruncate"
	body := make([]byte, 0, 3*fdfs.PkgLenSize+4+fdfs.GroupNameMaxLen+len(filename))
	body = proto.PutInt64(body, int64(len(filename)))
	body = proto.PutInt64(body, oldSize)
	body = proto.PutInt64(body, newSize)
	body = proto.PutInt32(body, int32(ts.Unix()))
	body = append(body, proto.PadString(group, fdfs.GroupNameMaxLen)...)
	body = append(body, filename...)
	if _, err := c.do(ep, fdfs.CmdSyncTruncateFile, body, 0); err != nil {
		return errors.E(op, ep, err)
	}
	return nil
}

// SyncDelete replays a deletion. A NotExist reply means the peer never
// had the file; callers treat that as success.
func (c *Client) SyncDelete(ep fdfs.Endpoint, group, filename string, ts time.Time) error {
	const op = "storage.SyncDelete"
	body := make([]byte, 0, 4+fdfs.GroupNameMaxLen+len(filename))
	body = proto.PutInt32(body, int32(ts.Unix()))
	body = append(body, proto.PadString(group, fdfs.GroupNameMaxLen)...)
	body = append(body, filename...)
	if _, err := c.do(ep, fdfs.CmdSyncDeleteFile, body, 0); err != nil {
		return errors.E(op, ep, err)
	}
	return nil
}

// SyncLink replays the creation of a link file whose content is served
// from an existing source file on the peer.
func (c *Client) SyncLink(ep fdfs.Endpoint, group, destFilename, srcFilename string, ts time.Time) error {
	const op = "storage.SyncLink"
	body := make([]byte, 0, 2*fdfs.PkgLenSize+4+fdfs.GroupNameMaxLen+len(destFilename)+len(srcFilename))
	body = proto.PutInt64(body, int64(len(destFilename)))
	body = proto.PutInt64(body, int64(len(srcFilename)))
	body = proto.PutInt32(body, int32(ts.Unix()))
	body = append(body, proto.PadString(group, fdfs.GroupNameMaxLen)...)
	body = append(body, destFilename...)
	body = append(body, srcFilename...)
	if _, err := c.do(ep, fdfs.CmdSyncCreateLink, body, 0); err != nil {
		return errors.E(op, ep, err)
	}
	return nil
}
