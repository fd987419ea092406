// Copyright 2026 The FDFS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package binlog

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"fdfs.io/errors"
)

// Mark is one peer's replication cursor, persisted as the key=value
// file <storage_id>.mark beside the binlog files. Offset always points
// at a record boundary: it moves only when a record has been fully
// replayed, never when one has merely been read.
type Mark struct {
	Index          int   // binlog file the cursor is in
	Offset         int64 // byte offset of the next unreplayed record
	NeedSyncOld    bool  // peer joined after this log started; replay from the top
	SyncOldDone    bool  // the catch-up pass has finished
	UntilTimestamp int64 // records at or before this are the catch-up set
	ScanRows       int64 // records read
	SyncRows       int64 // records replayed
}

func markPath(dir, storageID string) string {
	return filepath.Join(dir, storageID+".mark")
}

// LoadMark reads a peer's mark file. A missing file means the peer has
// never synced: the zero cursor with NeedSyncOld set.
func LoadMark(dir, storageID string) (Mark, error) {
	const op = "binlog.LoadMark"
	b, err := os.ReadFile(markPath(dir, storageID))
	if err != nil {
		if os.IsNotExist(err) {
			return Mark{NeedSyncOld: true}, nil
		}
		return Mark{}, errors.E(op, errors.IO, err)
	}
	var m Mark
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line[0] == '#' {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			return Mark{}, errors.E(op, errors.Syntax, errors.Errorf("bad mark line %q", line))
		}
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return Mark{}, errors.E(op, errors.Syntax, errors.Errorf("bad mark value %q", line))
		}
		switch strings.TrimSpace(k) {
		case "binlog_index":
			m.Index = int(n)
		case "binlog_offset":
			m.Offset = n
		case "need_sync_old":
			m.NeedSyncOld = n != 0
		case "sync_old_done":
			m.SyncOldDone = n != 0
		case "until_timestamp":
			m.UntilTimestamp = n
		case "scan_row_count":
			m.ScanRows = n
		case "sync_row_count":
			m.SyncRows = n
		default:
			// Unknown keys are skipped so an older binary can read
			// a newer mark file.
		}
	}
	return m, nil
}

// Save writes the mark through a rename so a crash mid-write cannot
// leave a torn cursor.
func (m Mark) Save(dir, storageID string) error {
	const op = "binlog.Mark.Save"
	b2i := func(b bool) int {
		if b {
			return 1
		}
		return 0
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "binlog_index=%d\n", m.Index)
	fmt.Fprintf(&sb, "binlog_offset=%d\n", m.Offset)
	fmt.Fprintf(&sb, "need_sync_old=%d\n", b2i(m.NeedSyncOld))
	fmt.Fprintf(&sb, "sync_old_done=%d\n", b2i(m.SyncOldDone))
	fmt.Fprintf(&sb, "until_timestamp=%d\n", m.UntilTimestamp)
	fmt.Fprintf(&sb, "scan_row_count=%d\n", m.ScanRows)
	fmt.Fprintf(&sb, "sync_row_count=%d\n", m.SyncRows)

	p := markPath(dir, storageID)
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, []byte(sb.String()), 0o644); err != nil {
		return errors.E(op, errors.IO, err)
	}
	if err := os.Rename(tmp, p); err != nil {
		return errors.E(op, errors.IO, err)
	}
	return nil
}

// RemoveMark deletes a peer's mark file, forgetting its cursor.
func RemoveMark(dir, storageID string) error {
	const op = "binlog.RemoveMark"
	if err := os.Remove(markPath(dir, storageID)); err != nil && !os.IsNotExist(err) {
		return errors.E(op, errors.IO, err)
	}
	return nil
}

// Reader walks the binlog from a peer's mark, following rotations and
// blocking at the end of the log until the Writer appends more. The
// read position and the committed mark are distinct: Next advances the
// read position, Commit advances the mark. A record that fails to
// replay is retried by the caller without touching either.
type Reader struct {
	w         *Writer
	storageID string
	mark      Mark

	f      *os.File
	rd     *bufio.Reader
	index  int   // file the read position is in
	offset int64 // read position within it
}

// NewReader opens a reader for the peer's persisted mark.
func NewReader(w *Writer, storageID string) (*Reader, error) {
	const op = "binlog.NewReader"
	m, err := LoadMark(w.Dir(), storageID)
	if err != nil {
		return nil, errors.E(op, err)
	}
	r := &Reader{w: w, storageID: storageID, mark: m}
	if err := r.seek(m.Index, m.Offset); err != nil {
		return nil, errors.E(op, err)
	}
	return r, nil
}

// Mark returns the committed cursor.
func (r *Reader) Mark() Mark { return r.mark }

// UpdateMark lets the caller adjust the cursor's bookkeeping fields
// (the sync-old flags and timestamps) without moving the read position.
func (r *Reader) UpdateMark(f func(*Mark)) { f(&r.mark) }

// SetMark replaces the cursor's bookkeeping fields and moves the read
// position to it. Used when a syncer decides to restart from the top.
func (r *Reader) SetMark(m Mark) error {
	const op = "binlog.Reader.SetMark"
	if err := r.seek(m.Index, m.Offset); err != nil {
		return errors.E(op, err)
	}
	r.mark = m
	return nil
}

func (r *Reader) seek(index int, offset int64) error {
	if r.f != nil {
		r.f.Close()
		r.f = nil
	}
	f, err := os.Open(fileName(r.w.Dir(), index))
	if err != nil {
		return errors.E(errors.IO, err)
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		f.Close()
		return errors.E(errors.IO, err)
	}
	r.f, r.rd = f, bufio.NewReader(f)
	r.index, r.offset = index, offset
	return nil
}

// Next returns the next record, blocking until one is appended or ctx
// is done. It does not move the committed mark.
func (r *Reader) Next(ctx context.Context) (Record, error) {
	const op = "binlog.Reader.Next"
	drained := false
	for {
		line, err := r.rd.ReadString('\n')
		if err == nil {
			r.offset += int64(len(line))
			rec, perr := ParseRecord(strings.TrimSuffix(line, "\n"))
			if perr != nil {
				return Record{}, errors.E(op, perr)
			}
			r.mark.ScanRows++
			return rec, nil
		}
		if err != io.EOF {
			return Record{}, errors.E(op, errors.IO, err)
		}
		// A partial line at EOF is a record still being written;
		// back up and wait for the rest.
		if len(line) > 0 {
			if err := r.seek(r.index, r.offset); err != nil {
				return Record{}, errors.E(op, err)
			}
			drained = false
		}
		wIndex, _ := r.w.Position()
		if wIndex > r.index {
			// This file is sealed, but the writer may have appended
			// its final records between our EOF and the rotation.
			// Re-read it once from the current offset; only a clean
			// second EOF proves the tail has been consumed.
			if !drained {
				if err := r.seek(r.index, r.offset); err != nil {
					return Record{}, errors.E(op, err)
				}
				drained = true
				continue
			}
			if err := r.seek(r.index+1, 0); err != nil {
				return Record{}, errors.E(op, err)
			}
			drained = false
			continue
		}
		if !r.w.wait(ctx, r.index, r.offset) {
			if ctx.Err() != nil {
				return Record{}, errors.E(op, errors.Transient, ctx.Err())
			}
			return Record{}, errors.E(op, errors.Transient, errors.Str("binlog closed"))
		}
	}
}

// Commit advances the mark past the record Next last returned and
// counts it as replayed.
func (r *Reader) Commit() {
	r.mark.Index = r.index
	r.mark.Offset = r.offset
	r.mark.SyncRows++
}

// Skip advances the mark past the record without counting a replay,
// for records that need no work on the peer.
func (r *Reader) Skip() {
	r.mark.Index = r.index
	r.mark.Offset = r.offset
}

// Flush persists the committed mark.
func (r *Reader) Flush() error {
	return r.mark.Save(r.w.Dir(), r.storageID)
}

// Close closes the reader, flushing the mark first.
func (r *Reader) Close() error {
	err := r.Flush()
	if r.f != nil {
		r.f.Close()
		r.f = nil
	}
	return err
}
