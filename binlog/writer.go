// Copyright 2026 The FDFS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package binlog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"fdfs.io/errors"
)

const (
	// DefaultMaxFileSize rotates a binlog file once it reaches 1GB.
	DefaultMaxFileSize = 1 << 30

	indexFileName = "binlog.index"

	// pollInterval bounds how long a blocked reader sleeps between
	// looks at the log even if no append wakes it.
	pollInterval = 100 * time.Millisecond
)

// fileName names binlog file index under dir.
func fileName(dir string, index int) string {
	return filepath.Join(dir, fmt.Sprintf("binlog.%03d", index))
}

// Writer is the append end of a binlog. One Writer owns the whole
// directory; rotation and the index file are its business alone.
// Appends wake any Reader blocked in Next.
type Writer struct {
	dir     string
	maxSize int64

	mu    sync.Mutex
	cond  *sync.Cond // broadcast on every append; guarded by mu
	f     *os.File
	index int
	size  int64
}

// OpenWriter opens the binlog under dir, creating the directory and the
// first file when the log is new, and resuming the file the index file
// names otherwise.
func OpenWriter(dir string, maxFileSize int64) (*Writer, error) {
	const op = "binlog.OpenWriter"
	if maxFileSize <= 0 {
		maxFileSize = DefaultMaxFileSize
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.E(op, errors.IO, err)
	}
	w := &Writer{dir: dir, maxSize: maxFileSize}
	w.cond = sync.NewCond(&w.mu)

	index := 0
	if b, err := os.ReadFile(filepath.Join(dir, indexFileName)); err == nil {
		index, err = strconv.Atoi(strings.TrimSpace(string(b)))
		if err != nil || index < 0 {
			return nil, errors.E(op, errors.Syntax, errors.Errorf("bad %s: %q", indexFileName, b))
		}
	} else if !os.IsNotExist(err) {
		return nil, errors.E(op, errors.IO, err)
	}
	if err := w.open(index); err != nil {
		return nil, errors.E(op, err)
	}
	if err := w.writeIndex(); err != nil {
		w.f.Close()
		return nil, errors.E(op, err)
	}
	return w, nil
}

// open switches the writer to binlog file index. Caller holds no lock
// or mu; open itself only touches fields the caller already owns.
func (w *Writer) open(index int) error {
	f, err := os.OpenFile(fileName(w.dir, index), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return errors.E(errors.IO, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return errors.E(errors.IO, err)
	}
	w.f, w.index, w.size = f, index, fi.Size()
	return nil
}

// writeIndex persists the current file index through a rename so a
// crash never leaves a torn index file.
func (w *Writer) writeIndex() error {
	p := filepath.Join(w.dir, indexFileName)
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.Itoa(w.index)+"\n"), 0o644); err != nil {
		return errors.E(errors.IO, err)
	}
	if err := os.Rename(tmp, p); err != nil {
		return errors.E(errors.IO, err)
	}
	return nil
}

// Append writes one record and wakes blocked readers. The record is on
// disk in file order when Append returns; rotation happens after the
// write, so a record never straddles two files.
func (w *Writer) Append(r Record) error {
	const op = "binlog.Append"
	line := r.Marshal()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return errors.E(op, errors.Invalid, errors.Str("binlog writer is closed"))
	}
	n, err := w.f.Write(line)
	w.size += int64(n)
	if err != nil {
		return errors.E(op, errors.IO, err)
	}
	if w.size >= w.maxSize {
		if err := w.rotate(); err != nil {
			return errors.E(op, err)
		}
	}
	w.cond.Broadcast()
	return nil
}

// rotate moves on to the next binlog file. Caller holds mu.
func (w *Writer) rotate() error {
	if err := w.f.Close(); err != nil {
		return errors.E(errors.IO, err)
	}
	if err := w.open(w.index + 1); err != nil {
		return err
	}
	return w.writeIndex()
}

// Position returns the end of the log: the current file index and its
// size. A reader that has consumed up to Position has seen everything.
func (w *Writer) Position() (index int, size int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.index, w.size
}

// wait blocks until the log grows past (index, offset) or ctx is done.
// It reports whether new data is available. A ticking broadcast bounds
// the wait so ctx cancellation is noticed promptly.
func (w *Writer) wait(ctx context.Context, index int, offset int64) bool {
	timer := time.AfterFunc(pollInterval, w.cond.Broadcast)
	defer timer.Stop()

	w.mu.Lock()
	defer w.mu.Unlock()
	for w.index == index && w.size <= offset {
		if ctx.Err() != nil || w.f == nil {
			return false
		}
		w.cond.Wait()
		timer.Reset(pollInterval)
	}
	return true
}

// Close closes the binlog and wakes blocked readers so they can notice.
func (w *Writer) Close() error {
	const op = "binlog.Close"
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	w.cond.Broadcast()
	if err != nil {
		return errors.E(op, errors.IO, err)
	}
	return nil
}

// Dir returns the directory the binlog lives in.
func (w *Writer) Dir() string { return w.dir }
