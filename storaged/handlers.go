// Copyright 2026 The FDFS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package storaged

import (
	"time"

	"fdfs.io/binlog"
	"fdfs.io/errors"
	"fdfs.io/fdfs"
	"fdfs.io/proto"
	"fdfs.io/store"
)

// dispatch routes one request body to its handler.
func (s *Server) dispatch(cmd byte, body []byte) ([]byte, error) {
	switch cmd {
	case fdfs.CmdActiveTest:
		return nil, nil
	case fdfs.CmdUploadFile:
		return s.handleUpload(body, false)
	case fdfs.CmdUploadAppenderFile:
		return s.handleUpload(body, true)
	case fdfs.CmdAppendFile:
		return nil, s.handleAppend(body)
	case fdfs.CmdModifyFile:
		return nil, s.handleModify(body)
	case fdfs.CmdTruncateFile:
		return nil, s.handleTruncate(body)
	case fdfs.CmdDownloadFile:
		return s.handleDownload(body)
	case fdfs.CmdDeleteFile:
		return nil, s.handleDelete(body)
	case fdfs.CmdGetMetadata:
		return s.handleGetMetadata(body)
	case fdfs.CmdSetMetadata:
		return nil, s.handleSetMetadata(body)
	case fdfs.CmdQueryFileInfo:
		return s.handleQueryFileInfo(body)
	case fdfs.CmdSyncCreateFile:
		return nil, s.handleSyncWhole(body, true)
	case fdfs.CmdSyncUpdateFile:
		return nil, s.handleSyncWhole(body, false)
	case fdfs.CmdSyncAppendFile:
		return nil, s.handleSyncRange(body, true)
	case fdfs.CmdSyncModifyFile:
		return nil, s.handleSyncRange(body, false)
	case fdfs.CmdSyncTruncateFile:
		return nil, s.handleSyncTruncate(body)
	case fdfs.CmdSyncDeleteFile:
		return nil, s.handleSyncDelete(body)
	case fdfs.CmdSyncCreateLink:
		return nil, s.handleSyncLink(body)
	}
	return nil, errors.E("storaged.dispatch", errors.Invalid, errors.Errorf("unknown command %d", cmd))
}

func shortBody(op string) error {
	return errors.E(op, errors.Invalid, errors.Str("short request body"))
}

// groupFile splits the common trailer of many requests: a fixed group
// field followed by the remote filename. The group must be ours; a
// request routed to the wrong group is refused, not guessed about.
func (s *Server) groupFile(op string, b []byte) (string, error) {
	if len(b) <= fdfs.GroupNameMaxLen {
		return "", shortBody(op)
	}
	if g := proto.TrimPadded(b[:fdfs.GroupNameMaxLen]); g != s.group {
		return "", errors.E(op, errors.Invalid, errors.Errorf("group %q is not served here", g))
	}
	return string(b[fdfs.GroupNameMaxLen:]), nil
}

func validExt(ext string) bool {
	for i := 0; i < len(ext); i++ {
		c := ext[i]
		if !('a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || '0' <= c && c <= '9') {
			return false
		}
	}
	return true
}

func (s *Server) handleUpload(b []byte, appender bool) ([]byte, error) {
	const op = "storaged.upload"
	fixed := 1 + fdfs.PkgLenSize + fdfs.FileExtNameMaxLen
	if len(b) < fixed {
		return nil, shortBody(op)
	}
	pathIndex := int(b[0])
	size := proto.Int64(b[1:])
	ext := proto.TrimPadded(b[1+fdfs.PkgLenSize : fixed])
	data := b[fixed:]
	if size != int64(len(data)) {
		return nil, errors.E(op, errors.Invalid,
			errors.Errorf("declared %d bytes, got %d", size, len(data)))
	}
	if !validExt(ext) {
		return nil, errors.E(op, errors.Invalid, errors.Errorf("bad extension %q", ext))
	}
	remote, err := s.store.Create(pathIndex, ext, data, appender)
	if err != nil {
		return nil, errors.E(op, err)
	}
	s.logMutation(binlog.Record{Kind: binlog.Create, Filename: remote})

	resp := append(proto.PadString(s.group, fdfs.GroupNameMaxLen), remote...)
	return resp, nil
}

func (s *Server) handleAppend(b []byte) error {
	const op = "storaged.append"
	if len(b) < 2*fdfs.PkgLenSize {
		return shortBody(op)
	}
	nameLen := proto.Int64(b)
	dataLen := proto.Int64(b[fdfs.PkgLenSize:])
	rest := b[2*fdfs.PkgLenSize:]
	if nameLen <= 0 || dataLen < 0 || int64(len(rest)) != nameLen+dataLen {
		return shortBody(op)
	}
	filename := string(rest[:nameLen])

	defer s.lock(filename)()
	if _, err := s.store.Append(filename, rest[nameLen:]); err != nil {
		return errors.E(op, err)
	}
	s.logMutation(binlog.Record{Kind: binlog.Append, Filename: filename})
	return nil
}

func (s *Server) handleModify(b []byte) error {
	const op = "storaged.modify"
	if len(b) < 3*fdfs.PkgLenSize {
		return shortBody(op)
	}
	nameLen := proto.Int64(b)
	offset := proto.Int64(b[fdfs.PkgLenSize:])
	dataLen := proto.Int64(b[2*fdfs.PkgLenSize:])
	rest := b[3*fdfs.PkgLenSize:]
	if nameLen <= 0 || dataLen < 0 || int64(len(rest)) != nameLen+dataLen {
		return shortBody(op)
	}
	filename := string(rest[:nameLen])

	defer s.lock(filename)()
	if err := s.store.Modify(filename, offset, rest[nameLen:]); err != nil {
		return errors.E(op, err)
	}
	s.logMutation(binlog.Record{Kind: binlog.Modify, Filename: filename})
	return nil
}

func (s *Server) handleTruncate(b []byte) error {
	const op = "storaged.truncate"
	if len(b) <= 2*fdfs.PkgLenSize {
		return shortBody(op)
	}
	nameLen := proto.Int64(b)
	size := proto.Int64(b[fdfs.PkgLenSize:])
	rest := b[2*fdfs.PkgLenSize:]
	if nameLen <= 0 || int64(len(rest)) != nameLen {
		return shortBody(op)
	}
	filename := string(rest)

	defer s.lock(filename)()
	if _, err := s.store.Truncate(filename, size); err != nil {
		return errors.E(op, err)
	}
	s.logMutation(binlog.Record{Kind: binlog.Truncate, Filename: filename})
	return nil
}

func (s *Server) handleDownload(b []byte) ([]byte, error) {
	const op = "storaged.download"
	if len(b) <= 2*fdfs.PkgLenSize+fdfs.GroupNameMaxLen {
		return nil, shortBody(op)
	}
	offset := proto.Int64(b)
	length := proto.Int64(b[fdfs.PkgLenSize:])
	filename, err := s.groupFile(op, b[2*fdfs.PkgLenSize:])
	if err != nil {
		return nil, err
	}
	data, err := s.store.Read(filename, offset, length)
	if err != nil {
		return nil, errors.E(op, err)
	}
	return data, nil
}

func (s *Server) handleDelete(b []byte) error {
	const op = "storaged.delete"
	filename, err := s.groupFile(op, b)
	if err != nil {
		return err
	}
	defer s.lock(filename)()
	md, _ := s.store.Metadata(filename)
	if err := s.store.Delete(filename); err != nil {
		return errors.E(op, err)
	}
	s.logMutation(binlog.Record{Kind: binlog.Delete, Filename: filename})
	if len(md) > 0 {
		s.logMutation(binlog.Record{Kind: binlog.Delete, Filename: store.MetadataName(filename)})
	}
	return nil
}

func (s *Server) handleGetMetadata(b []byte) ([]byte, error) {
	const op = "storaged.getMetadata"
	filename, err := s.groupFile(op, b)
	if err != nil {
		return nil, err
	}
	md, err := s.store.Metadata(filename)
	if err != nil {
		return nil, errors.E(op, err)
	}
	return proto.PackMetadata(md), nil
}

func (s *Server) handleSetMetadata(b []byte) error {
	const op = "storaged.setMetadata"
	fixed := 2*fdfs.PkgLenSize + 1 + fdfs.GroupNameMaxLen
	if len(b) < fixed {
		return shortBody(op)
	}
	nameLen := proto.Int64(b)
	metaLen := proto.Int64(b[fdfs.PkgLenSize:])
	flag := fdfs.MetaFlag(b[2*fdfs.PkgLenSize])
	if flag != fdfs.MetaOverwrite && flag != fdfs.MetaMerge {
		return errors.E(op, errors.Invalid, errors.Errorf("bad metadata flag %q", byte(flag)))
	}
	if g := proto.TrimPadded(b[2*fdfs.PkgLenSize+1 : fixed]); g != s.group {
		return errors.E(op, errors.Invalid, errors.Errorf("group %q is not served here", g))
	}
	rest := b[fixed:]
	if nameLen <= 0 || metaLen < 0 || int64(len(rest)) != nameLen+metaLen {
		return shortBody(op)
	}
	filename := string(rest[:nameLen])
	md := proto.UnpackMetadata(rest[nameLen:])

	defer s.lock(filename)()
	old, err := s.store.Metadata(filename)
	if err != nil {
		return errors.E(op, err)
	}
	if err := s.store.SetMetadata(filename, md, flag); err != nil {
		return errors.E(op, err)
	}

	// The companion file carries the metadata to the peers, so its
	// lifecycle gets its own records.
	before := len(old) > 0
	after := len(md) > 0 || (flag == fdfs.MetaMerge && before)
	name := store.MetadataName(filename)
	switch {
	case !before && after:
		s.logMutation(binlog.Record{Kind: binlog.Create, Filename: name})
	case before && after:
		s.logMutation(binlog.Record{Kind: binlog.Update, Filename: name})
	case before && !after:
		s.logMutation(binlog.Record{Kind: binlog.Delete, Filename: name})
	}
	return nil
}

func (s *Server) handleQueryFileInfo(b []byte) ([]byte, error) {
	const op = "storaged.queryFileInfo"
	filename, err := s.groupFile(op, b)
	if err != nil {
		return nil, err
	}
	info, err := s.store.Stat(filename)
	if err != nil {
		return nil, errors.E(op, err)
	}
	size := info.Size
	if info.Appender {
		size |= fdfs.AppenderSizeBit
	}
	resp := make([]byte, 0, 3*fdfs.PkgLenSize+fdfs.IPAddrSize)
	resp = proto.PutInt64(resp, size)
	resp = proto.PutInt64(resp, info.CreateTime.Unix())
	resp = proto.PutInt64(resp, int64(info.CRC32))
	resp = append(resp, proto.PadString(s.ipAddr, fdfs.IPAddrSize)...)
	return resp, nil
}

// syncTrailer splits the "timestamp, group, rest" trailer every sync
// body ends with.
func (s *Server) syncTrailer(op string, b []byte) (time.Time, []byte, error) {
	if len(b) <= 4+fdfs.GroupNameMaxLen {
		return time.Time{}, nil, shortBody(op)
	}
	ts := time.Unix(int64(proto.Int32(b)), 0)
	if g := proto.TrimPadded(b[4 : 4+fdfs.GroupNameMaxLen]); g != s.group {
		return time.Time{}, nil, errors.E(op, errors.Invalid, errors.Errorf("group %q is not served here", g))
	}
	return ts, b[4+fdfs.GroupNameMaxLen:], nil
}

func (s *Server) handleSyncWhole(b []byte, create bool) error {
	op, kind := "storaged.syncUpdate", binlog.Update
	if create {
		op, kind = "storaged.syncCreate", binlog.Create
	}
	if len(b) < 2*fdfs.PkgLenSize {
		return shortBody(op)
	}
	nameLen := proto.Int64(b)
	dataLen := proto.Int64(b[fdfs.PkgLenSize:])
	ts, rest, err := s.syncTrailer(op, b[2*fdfs.PkgLenSize:])
	if err != nil {
		return err
	}
	if nameLen <= 0 || dataLen < 0 || int64(len(rest)) != nameLen+dataLen {
		return shortBody(op)
	}
	filename := string(rest[:nameLen])
	data := rest[nameLen:]

	defer s.lock(filename)()
	if create {
		err = s.store.CreateAs(filename, data)
	} else {
		err = s.store.Update(filename, data)
	}
	if err != nil {
		return errors.E(op, err)
	}
	s.logMutation(binlog.Record{Time: ts, Kind: kind, Replica: true, Filename: filename})
	return nil
}

func (s *Server) handleSyncRange(b []byte, isAppend bool) error {
	op, kind := "storaged.syncModify", binlog.Modify
	if isAppend {
		op, kind = "storaged.syncAppend", binlog.Append
	}
	if len(b) < 3*fdfs.PkgLenSize {
		return shortBody(op)
	}
	nameLen := proto.Int64(b)
	offset := proto.Int64(b[fdfs.PkgLenSize:])
	dataLen := proto.Int64(b[2*fdfs.PkgLenSize:])
	ts, rest, err := s.syncTrailer(op, b[3*fdfs.PkgLenSize:])
	if err != nil {
		return err
	}
	if nameLen <= 0 || dataLen < 0 || int64(len(rest)) != nameLen+dataLen {
		return shortBody(op)
	}
	filename := string(rest[:nameLen])
	data := rest[nameLen:]

	defer s.lock(filename)()
	if isAppend {
		err = s.store.AppendAt(filename, offset, data)
	} else {
		err = s.store.Modify(filename, offset, data)
	}
	if err != nil {
		return errors.E(op, err)
	}
	s.logMutation(binlog.Record{Time: ts, Kind: kind, Replica: true, Filename: filename})
	return nil
}

func (s *Server) handleSyncTruncate(b []byte) error {
	const op = "storaged.syncTruncate"
	if len(b) < 3*fdfs.PkgLenSize {
		return shortBody(op)
	}
	nameLen := proto.Int64(b)
	oldSize := proto.Int64(b[fdfs.PkgLenSize:])
	newSize := proto.Int64(b[2*fdfs.PkgLenSize:])
	ts, rest, err := s.syncTrailer(op, b[3*fdfs.PkgLenSize:])
	if err != nil {
		return err
	}
	if nameLen <= 0 || int64(len(rest)) != nameLen {
		return shortBody(op)
	}
	filename := string(rest)

	defer s.lock(filename)()
	if err := s.store.TruncateFrom(filename, oldSize, newSize); err != nil {
		return errors.E(op, err)
	}
	s.logMutation(binlog.Record{Time: ts, Kind: binlog.Truncate, Replica: true, Filename: filename})
	return nil
}

func (s *Server) handleSyncDelete(b []byte) error {
	const op = "storaged.syncDelete"
	ts, rest, err := s.syncTrailer(op, b)
	if err != nil {
		return err
	}
	filename := string(rest)

	defer s.lock(filename)()
	if err := s.store.Delete(filename); err != nil {
		return errors.E(op, err)
	}
	s.logMutation(binlog.Record{Time: ts, Kind: binlog.Delete, Replica: true, Filename: filename})
	return nil
}

func (s *Server) handleSyncLink(b []byte) error {
	const op = "storaged.syncLink"
	if len(b) < 2*fdfs.PkgLenSize {
		return shortBody(op)
	}
	destLen := proto.Int64(b)
	srcLen := proto.Int64(b[fdfs.PkgLenSize:])
	ts, rest, err := s.syncTrailer(op, b[2*fdfs.PkgLenSize:])
	if err != nil {
		return err
	}
	if destLen <= 0 || srcLen <= 0 || int64(len(rest)) != destLen+srcLen {
		return shortBody(op)
	}
	dest := string(rest[:destLen])
	src := string(rest[destLen:])

	defer s.lock(dest)()
	if err := s.store.Link(dest, src); err != nil {
		return errors.E(op, err)
	}
	s.logMutation(binlog.Record{Time: ts, Kind: binlog.Link, Replica: true, Filename: dest, SrcFilename: src})
	return nil
}
