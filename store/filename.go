// Copyright 2026 The FDFS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package store

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"fdfs.io/errors"
)

// Remote filenames look like
//
//	M00/3E/A1/6851f2c0000000019a.txt
//
// M00 names the store path that holds the file, the two hex pairs name
// the subdirectories the base name hashes into, and the base name is a
// hex encoding of the file's birth record: creation time, a per-process
// sequence number and a flag byte. The extension is cosmetic. Everything
// a server must know about a file without opening it rides in the name.

const (
	flagAppender = 1 << 0

	// nameRawLen is the encoded birth record: 4 bytes of creation
	// time, 4 of sequence, 1 of flags.
	nameRawLen = 9
	nameHexLen = 2 * nameRawLen
)

type fileName struct {
	PathIndex int
	SubDirs   [2]byte
	Base      string // hex birth record
	Ext       string
	Meta      bool // names the file's metadata companion
}

// makeName builds the name for a newly created file.
func makeName(pathIndex int, seq uint32, now time.Time, ext string, appender bool) fileName {
	var raw [nameRawLen]byte
	t := uint32(now.Unix())
	raw[0], raw[1], raw[2], raw[3] = byte(t>>24), byte(t>>16), byte(t>>8), byte(t)
	raw[4], raw[5], raw[6], raw[7] = byte(seq>>24), byte(seq>>16), byte(seq>>8), byte(seq)
	if appender {
		raw[8] |= flagAppender
	}
	return fileName{
		PathIndex: pathIndex,
		// Spread files by sequence, not by time, so a burst of
		// uploads lands in many directories.
		SubDirs: [2]byte{byte(seq >> 8), byte(seq)},
		Base:    hex.EncodeToString(raw[:]),
		Ext:     ext,
	}
}

// String renders the wire form of the name.
func (n fileName) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "M%02d/%02X/%02X/%s", n.PathIndex, n.SubDirs[0], n.SubDirs[1], n.Base)
	if n.Ext != "" {
		b.WriteByte('.')
		b.WriteString(n.Ext)
	}
	if n.Meta {
		b.WriteString(metaSuffix)
	}
	return b.String()
}

// CreateTime recovers the file's creation time from the birth record.
func (n fileName) CreateTime() time.Time {
	raw, err := hex.DecodeString(n.Base)
	if err != nil || len(raw) != nameRawLen {
		return time.Time{}
	}
	t := uint32(raw[0])<<24 | uint32(raw[1])<<16 | uint32(raw[2])<<8 | uint32(raw[3])
	return time.Unix(int64(t), 0)
}

// Appender reports whether the name marks an appender file.
func (n fileName) Appender() bool {
	raw, err := hex.DecodeString(n.Base)
	if err != nil || len(raw) != nameRawLen {
		return false
	}
	return raw[8]&flagAppender != 0
}

// parseName checks and splits a remote filename. It accepts only names
// this store could have generated; anything else is a Syntax error, which
// keeps a hostile filename from escaping the data directory.
func parseName(op, filename string) (fileName, error) {
	bad := func(why string) (fileName, error) {
		return fileName{}, errors.E(op, errors.Syntax, errors.Errorf("bad filename %q: %s", filename, why))
	}
	parts := strings.Split(filename, "/")
	if len(parts) != 4 {
		return bad("want M00/XX/XX/name form")
	}
	if len(parts[0]) != 3 || parts[0][0] != 'M' {
		return bad("bad store path tag")
	}
	idx, err := strconv.Atoi(parts[0][1:])
	if err != nil || idx < 0 {
		return bad("bad store path tag")
	}
	var sub [2]byte
	for i := 1; i <= 2; i++ {
		b, err := hex.DecodeString(parts[i])
		if err != nil || len(b) != 1 {
			return bad("bad subdirectory")
		}
		sub[i-1] = b[0]
	}
	base, ext := parts[3], ""
	meta := strings.HasSuffix(base, metaSuffix)
	if meta {
		base = base[:len(base)-len(metaSuffix)]
	}
	if dot := strings.IndexByte(base, '.'); dot >= 0 {
		base, ext = base[:dot], base[dot+1:]
	}
	if len(base) != nameHexLen {
		return bad("bad base name length")
	}
	if _, err := hex.DecodeString(base); err != nil {
		return bad("base name is not hex")
	}
	for i := 0; i < len(ext); i++ {
		c := ext[i]
		if !('a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || '0' <= c && c <= '9') {
			return bad("bad extension")
		}
	}
	return fileName{PathIndex: idx, SubDirs: sub, Base: base, Ext: ext, Meta: meta}, nil
}
