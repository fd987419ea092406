// Copyright 2026 The FDFS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package binlog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func rec(sec int64, kind Kind, filename string) Record {
	return Record{Time: time.Unix(sec, 0), Kind: kind, Filename: filename}
}

func mustAppend(t *testing.T, w *Writer, r Record) {
	t.Helper()
	if err := w.Append(r); err != nil {
		t.Fatalf("Append: %v", err)
	}
}

func TestWriterResume(t *testing.T) {
	dir := t.TempDir()
	w, err := OpenWriter(dir, 0)
	if err != nil {
		t.Fatalf("OpenWriter: %v", err)
	}
	mustAppend(t, w, rec(100, Create, "M00/00/00/aa"))
	index, size := w.Position()
	if index != 0 || size == 0 {
		t.Fatalf("Position = %d, %d; want index 0 and nonzero size", index, size)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	w, err = OpenWriter(dir, 0)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer w.Close()
	if i2, s2 := w.Position(); i2 != index || s2 != size {
		t.Errorf("Position after reopen = %d, %d; want %d, %d", i2, s2, index, size)
	}
}

func TestWriterRotation(t *testing.T) {
	dir := t.TempDir()
	// maxSize 1 rotates after every record.
	w, err := OpenWriter(dir, 1)
	if err != nil {
		t.Fatalf("OpenWriter: %v", err)
	}
	defer w.Close()
	mustAppend(t, w, rec(100, Create, "M00/00/00/aa"))
	mustAppend(t, w, rec(101, Delete, "M00/00/00/aa"))

	if index, size := w.Position(); index != 2 || size != 0 {
		t.Fatalf("Position = %d, %d; want 2, 0", index, size)
	}
	b, err := os.ReadFile(filepath.Join(dir, "binlog.index"))
	if err != nil {
		t.Fatalf("read index file: %v", err)
	}
	if got := strings.TrimSpace(string(b)); got != "2" {
		t.Errorf("binlog.index = %q; want %q", got, "2")
	}
	// Each sealed file holds exactly its one record.
	for i, want := range []string{"100 C M00/00/00/aa\n", "101 D M00/00/00/aa\n"} {
		b, err := os.ReadFile(fileName(dir, i))
		if err != nil {
			t.Fatalf("read binlog.%03d: %v", i, err)
		}
		if string(b) != want {
			t.Errorf("binlog.%03d = %q; want %q", i, b, want)
		}
	}
}

func TestMarkRoundTrip(t *testing.T) {
	dir := t.TempDir()

	m, err := LoadMark(dir, "srv-b")
	if err != nil {
		t.Fatalf("LoadMark on empty dir: %v", err)
	}
	if !m.NeedSyncOld || m.Index != 0 || m.Offset != 0 {
		t.Fatalf("fresh mark = %+v; want zero cursor with NeedSyncOld", m)
	}

	want := Mark{
		Index:          3,
		Offset:         4096,
		NeedSyncOld:    true,
		SyncOldDone:    true,
		UntilTimestamp: 1756400000,
		ScanRows:       17,
		SyncRows:       15,
	}
	if err := want.Save(dir, "srv-b"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := LoadMark(dir, "srv-b")
	if err != nil {
		t.Fatalf("LoadMark: %v", err)
	}
	if got != want {
		t.Errorf("LoadMark = %+v; want %+v", got, want)
	}

	if err := RemoveMark(dir, "srv-b"); err != nil {
		t.Fatalf("RemoveMark: %v", err)
	}
	if m, err := LoadMark(dir, "srv-b"); err != nil || !m.NeedSyncOld {
		t.Errorf("mark after remove = %+v, %v; want fresh mark", m, err)
	}
	if err := RemoveMark(dir, "srv-b"); err != nil {
		t.Errorf("RemoveMark of a missing mark: %v", err)
	}
}

func TestReaderFollowsWriter(t *testing.T) {
	dir := t.TempDir()
	// Rotate after every record so the reader must follow files too.
	w, err := OpenWriter(dir, 1)
	if err != nil {
		t.Fatalf("OpenWriter: %v", err)
	}
	defer w.Close()
	records := []Record{
		rec(100, Create, "M00/00/00/aa"),
		rec(101, Append, "M00/00/00/aa"),
		rec(102, Delete, "M00/00/00/aa"),
	}
	for _, r := range records {
		mustAppend(t, w, r)
	}

	r, err := NewReader(w, "srv-b")
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()
	ctx := context.Background()
	for i, want := range records {
		got, err := r.Next(ctx)
		if err != nil {
			t.Fatalf("Next %d: %v", i, err)
		}
		if got.Kind != want.Kind || !got.Time.Equal(want.Time) || got.Filename != want.Filename {
			t.Fatalf("Next %d = %+v; want %+v", i, got, want)
		}
		r.Commit()
	}
	m := r.Mark()
	if m.ScanRows != 3 || m.SyncRows != 3 {
		t.Errorf("mark rows = %d scanned, %d synced; want 3, 3", m.ScanRows, m.SyncRows)
	}
}

// A reader racing a writer that rotates on every append must see every
// record exactly once: a rotation between the reader's EOF and its next
// look at the log must not swallow the sealed file's tail.
func TestReaderNoGapsAcrossRotation(t *testing.T) {
	const n = 200
	dir := t.TempDir()
	w, err := OpenWriter(dir, 1)
	if err != nil {
		t.Fatalf("OpenWriter: %v", err)
	}
	defer w.Close()
	r, err := NewReader(w, "srv-b")
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()

	go func() {
		for i := 0; i < n; i++ {
			w.Append(rec(int64(1000+i), Create, "M00/00/00/"+fmt.Sprintf("%018x", i)))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for i := 0; i < n; i++ {
		got, err := r.Next(ctx)
		if err != nil {
			t.Fatalf("Next %d: %v", i, err)
		}
		if want := "M00/00/00/" + fmt.Sprintf("%018x", i); got.Filename != want {
			t.Fatalf("record %d = %q; want %q (a rotation dropped records)", i, got.Filename, want)
		}
		r.Commit()
	}
}

func TestReaderResumesFromMark(t *testing.T) {
	dir := t.TempDir()
	w, err := OpenWriter(dir, 0)
	if err != nil {
		t.Fatalf("OpenWriter: %v", err)
	}
	defer w.Close()
	mustAppend(t, w, rec(100, Create, "M00/00/00/aa"))
	mustAppend(t, w, rec(101, Create, "M00/00/00/bb"))

	r, err := NewReader(w, "srv-b")
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	ctx := context.Background()
	if _, err := r.Next(ctx); err != nil {
		t.Fatalf("Next: %v", err)
	}
	r.Commit()
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// A new reader for the same peer picks up after the committed record.
	r, err = NewReader(w, "srv-b")
	if err != nil {
		t.Fatalf("NewReader after close: %v", err)
	}
	defer r.Close()
	got, err := r.Next(ctx)
	if err != nil {
		t.Fatalf("Next after resume: %v", err)
	}
	if got.Filename != "M00/00/00/bb" {
		t.Errorf("resumed at %q; want %q", got.Filename, "M00/00/00/bb")
	}
}

func TestReaderSkipNotCounted(t *testing.T) {
	dir := t.TempDir()
	w, err := OpenWriter(dir, 0)
	if err != nil {
		t.Fatalf("OpenWriter: %v", err)
	}
	defer w.Close()
	mustAppend(t, w, Record{Time: time.Unix(100, 0), Kind: Create, Replica: true, Filename: "M00/00/00/aa"})

	r, err := NewReader(w, "srv-b")
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()
	if _, err := r.Next(context.Background()); err != nil {
		t.Fatalf("Next: %v", err)
	}
	r.Skip()
	m := r.Mark()
	if m.ScanRows != 1 || m.SyncRows != 0 {
		t.Errorf("mark rows = %d scanned, %d synced; want 1, 0", m.ScanRows, m.SyncRows)
	}
	if m.Offset == 0 {
		t.Error("Skip did not advance the mark offset")
	}
}

func TestReaderBlocksUntilAppend(t *testing.T) {
	dir := t.TempDir()
	w, err := OpenWriter(dir, 0)
	if err != nil {
		t.Fatalf("OpenWriter: %v", err)
	}
	defer w.Close()

	r, err := NewReader(w, "srv-b")
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()

	go func() {
		time.Sleep(50 * time.Millisecond)
		w.Append(rec(100, Create, "M00/00/00/aa"))
	}()
	got, err := r.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if got.Filename != "M00/00/00/aa" {
		t.Errorf("Next = %+v; want the appended record", got)
	}
}

func TestReaderNextCanceled(t *testing.T) {
	dir := t.TempDir()
	w, err := OpenWriter(dir, 0)
	if err != nil {
		t.Fatalf("OpenWriter: %v", err)
	}
	defer w.Close()

	r, err := NewReader(w, "srv-b")
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	if _, err := r.Next(ctx); err == nil {
		t.Fatal("Next returned a record from an empty log")
	}
}
