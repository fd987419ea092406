// Copyright 2026 The FDFS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package binlog records every file mutation a storage server performs
// and replays those records to the other servers of its group. The log
// is a sequence of text lines in numbered files; each replica peer owns
// a mark file holding its resume position, so replication survives
// restarts of either side.
package binlog

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"fdfs.io/errors"
)

// Kind enumerates the mutations a record can describe.
type Kind int

const (
	Create Kind = iota
	Append
	Delete
	Update
	Modify
	Truncate
	Link
)

var kindChar = [...]byte{
	Create:   'C',
	Append:   'A',
	Delete:   'D',
	Update:   'U',
	Modify:   'M',
	Truncate: 'T',
	Link:     'L',
}

func (k Kind) String() string {
	if int(k) < len(kindChar) {
		return string(kindChar[k])
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Record is one logged mutation. Replica is set on mutations this
// server applied on behalf of a peer rather than for a client; replica
// records are never propagated again, which is what keeps a group of
// mutually syncing servers from looping. SrcFilename is set only for
// Link records.
type Record struct {
	Time        time.Time
	Kind        Kind
	Replica     bool
	Filename    string
	SrcFilename string
}

// opChar is the record's single-character tag: uppercase for source
// mutations, lowercase for replica ones.
func (r Record) opChar() byte {
	c := kindChar[r.Kind]
	if r.Replica {
		c += 'a' - 'A'
	}
	return c
}

// Marshal renders the record's log line, newline included.
func (r Record) Marshal() []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "%d %c %s", r.Time.Unix(), r.opChar(), r.Filename)
	if r.Kind == Link {
		b.WriteByte(' ')
		b.WriteString(r.SrcFilename)
	}
	b.WriteByte('\n')
	return []byte(b.String())
}

// ParseRecord parses one log line, without its newline.
func ParseRecord(line string) (Record, error) {
	const op = "binlog.ParseRecord"
	bad := func(why string) (Record, error) {
		return Record{}, errors.E(op, errors.Syntax, errors.Errorf("bad record %q: %s", line, why))
	}
	fields := strings.Split(line, " ")
	if len(fields) < 3 || len(fields) > 4 {
		return bad("want 3 or 4 fields")
	}
	sec, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return bad("bad timestamp")
	}
	if len(fields[1]) != 1 {
		return bad("bad op tag")
	}
	var r Record
	r.Time = time.Unix(sec, 0)
	c := fields[1][0]
	if 'a' <= c && c <= 'z' {
		r.Replica = true
		c -= 'a' - 'A'
	}
	kind := -1
	for k, kc := range kindChar {
		if kc == c {
			kind = k
			break
		}
	}
	if kind < 0 {
		return bad("unknown op tag")
	}
	r.Kind = Kind(kind)
	r.Filename = fields[2]
	if r.Filename == "" {
		return bad("empty filename")
	}
	if r.Kind == Link {
		if len(fields) != 4 {
			return bad("link record wants a source filename")
		}
		r.SrcFilename = fields[3]
	} else if len(fields) != 3 {
		return bad("want 3 fields")
	}
	return r, nil
}
