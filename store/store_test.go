// Copyright 2026 The FDFS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package store

import (
	"bytes"
	"hash/crc32"
	"path/filepath"
	"testing"
	"time"

	"fdfs.io/errors"
	"fdfs.io/fdfs"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := New("group1", []string{filepath.Join(dir, "path0"), filepath.Join(dir, "path1")})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestCreateRead(t *testing.T) {
	s := newStore(t)
	data := []byte("hello, fdfs")
	name, err := s.Create(1, "txt", data, false)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, err := s.ReadAll(name)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("expected %q; got %q", data, got)
	}

	info, err := s.Stat(name)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Size != int64(len(data)) {
		t.Errorf("expected size %d; got %d", len(data), info.Size)
	}
	if info.CRC32 != crc32.ChecksumIEEE(data) {
		t.Errorf("expected crc %08x; got %08x", crc32.ChecksumIEEE(data), info.CRC32)
	}
	if info.Appender {
		t.Error("plain upload must not be an appender file")
	}
}

func TestReadBoundaries(t *testing.T) {
	s := newStore(t)
	name, err := s.Create(0, "", []byte("0123456789"), false)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	tests := []struct {
		offset, length int64
		want           string
	}{
		{0, 0, "0123456789"}, // zero length means through the end
		{3, 4, "3456"},
		{8, 100, "89"}, // length clamps at the end
		{10, 5, ""},    // offset at the end yields empty
		{50, 0, ""},    // offset past the end yields empty
	}
	for _, test := range tests {
		got, err := s.Read(name, test.offset, test.length)
		if err != nil {
			t.Errorf("Read(%d, %d): %v", test.offset, test.length, err)
			continue
		}
		if string(got) != test.want {
			t.Errorf("Read(%d, %d): expected %q; got %q", test.offset, test.length, test.want, got)
		}
	}
}

func TestAppenderLifecycle(t *testing.T) {
	s := newStore(t)
	name, err := s.Create(0, "log", []byte("aaaa"), true)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	offset, err := s.Append(name, []byte("bbbb"))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if offset != 4 {
		t.Errorf("expected append at offset 4; got %d", offset)
	}

	// Modify inside the file succeeds.
	if err := s.Modify(name, 2, []byte("XX")); err != nil {
		t.Fatalf("Modify: %v", err)
	}
	got, _ := s.ReadAll(name)
	if string(got) != "aaXXbbbb" {
		t.Errorf("expected aaXXbbbb; got %q", got)
	}

	// Modify reaching past the end fails and leaves the file alone.
	err = s.Modify(name, 6, []byte("YYYY"))
	if err == nil {
		t.Fatal("expected error; got none")
	}
	if !errors.Is(errors.Invalid, err) {
		t.Errorf("expected Invalid; got %v", err)
	}
	got, _ = s.ReadAll(name)
	if string(got) != "aaXXbbbb" {
		t.Errorf("failed modify changed the file: %q", got)
	}

	// Truncate down, then past the end: the gap reads as zeros.
	if _, err := s.Truncate(name, 4); err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	if _, err := s.Truncate(name, 6); err != nil {
		t.Fatalf("Truncate extend: %v", err)
	}
	got, _ = s.ReadAll(name)
	if !bytes.Equal(got, []byte("aaXX\x00\x00")) {
		t.Errorf("expected aaXX then two NULs; got %q", got)
	}

	info, err := s.Stat(name)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if !info.Appender {
		t.Error("expected the appender flag")
	}
}

func TestMutateNonAppender(t *testing.T) {
	s := newStore(t)
	name, err := s.Create(0, "", []byte("fixed"), false)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := s.Append(name, []byte("x")); !errors.Is(errors.Invalid, err) {
		t.Errorf("Append: expected Invalid; got %v", err)
	}
	if err := s.Modify(name, 0, []byte("x")); !errors.Is(errors.Invalid, err) {
		t.Errorf("Modify: expected Invalid; got %v", err)
	}
	if _, err := s.Truncate(name, 1); !errors.Is(errors.Invalid, err) {
		t.Errorf("Truncate: expected Invalid; got %v", err)
	}
}

func TestAppendAtDedup(t *testing.T) {
	s := newStore(t)
	name, err := s.Create(0, "", []byte("0123"), true)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	// Replay at the current end applies.
	if err := s.AppendAt(name, 4, []byte("45")); err != nil {
		t.Fatalf("AppendAt: %v", err)
	}
	// The same record again is a no-op, not a duplicate.
	if err := s.AppendAt(name, 4, []byte("45")); err != nil {
		t.Fatalf("AppendAt replay: %v", err)
	}
	got, _ := s.ReadAll(name)
	if string(got) != "012345" {
		t.Errorf("expected 012345; got %q", got)
	}
	// A gap means the replica missed a record.
	if err := s.AppendAt(name, 10, []byte("zz")); !errors.Is(errors.IO, err) {
		t.Errorf("expected IO error for the gap; got %v", err)
	}
}

func TestDelete(t *testing.T) {
	s := newStore(t)
	name, err := s.Create(0, "", []byte("x"), false)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Delete(name); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.ReadAll(name); !errors.Is(errors.NotExist, err) {
		t.Errorf("expected NotExist after delete; got %v", err)
	}
	if err := s.Delete(name); !errors.Is(errors.NotExist, err) {
		t.Errorf("expected NotExist deleting twice; got %v", err)
	}
}

func TestMetadata(t *testing.T) {
	s := newStore(t)
	name, err := s.Create(0, "", []byte("x"), false)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// No companion yet: empty set, no error.
	md, err := s.Metadata(name)
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	if len(md) != 0 {
		t.Errorf("expected empty set; got %v", md)
	}

	if err := s.SetMetadata(name, fdfs.Metadata{"a": "1", "b": "2"}, fdfs.MetaOverwrite); err != nil {
		t.Fatalf("SetMetadata: %v", err)
	}
	if err := s.SetMetadata(name, fdfs.Metadata{"b": "3", "c": "4"}, fdfs.MetaMerge); err != nil {
		t.Fatalf("SetMetadata merge: %v", err)
	}
	md, err = s.Metadata(name)
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	want := fdfs.Metadata{"a": "1", "b": "3", "c": "4"}
	if len(md) != len(want) {
		t.Fatalf("expected %v; got %v", want, md)
	}
	for k, v := range want {
		if md[k] != v {
			t.Errorf("%s: expected %q; got %q", k, v, md[k])
		}
	}

	// Overwrite with an empty set removes the companion.
	if err := s.SetMetadata(name, nil, fdfs.MetaOverwrite); err != nil {
		t.Fatalf("SetMetadata clear: %v", err)
	}
	md, _ = s.Metadata(name)
	if len(md) != 0 {
		t.Errorf("expected cleared set; got %v", md)
	}

	if err := s.SetMetadata("M00/00/00/000000000000000000", fdfs.Metadata{"a": "1"}, fdfs.MetaOverwrite); !errors.Is(errors.NotExist, err) {
		t.Errorf("expected NotExist for a missing file; got %v", err)
	}
}

func TestCreateAs(t *testing.T) {
	s := newStore(t)
	name, err := s.Create(0, "", []byte("src"), false)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.CreateAs(name, []byte("dup")); !errors.Is(errors.Exist, err) {
		t.Errorf("expected Exist; got %v", err)
	}

	other := makeName(1, 42, time.Now(), "bin", false).String()
	if err := s.CreateAs(other, []byte("copy")); err != nil {
		t.Fatalf("CreateAs: %v", err)
	}
	got, err := s.ReadAll(other)
	if err != nil || string(got) != "copy" {
		t.Errorf("expected copy; got %q, %v", got, err)
	}
}

func TestTruncateFrom(t *testing.T) {
	s := newStore(t)
	name, err := s.Create(0, "", []byte("0123456789"), true)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.TruncateFrom(name, 10, 4); err != nil {
		t.Fatalf("TruncateFrom: %v", err)
	}
	// Replaying the same record is a no-op.
	if err := s.TruncateFrom(name, 10, 4); err != nil {
		t.Fatalf("TruncateFrom replay: %v", err)
	}
	if size, _ := s.Size(name); size != 4 {
		t.Errorf("expected size 4; got %d", size)
	}
	// A record whose old size matches neither the current nor the new
	// size is for a diverged file and must be refused.
	err = s.TruncateFrom(name, 10, 2)
	if err == nil {
		t.Fatal("TruncateFrom applied a record for a diverged file")
	}
	if !errors.Is(errors.Invalid, err) {
		t.Errorf("expected Invalid; got %v", err)
	}
	if size, _ := s.Size(name); size != 4 {
		t.Errorf("expected size 4 after the refused truncate; got %d", size)
	}
}

func TestLink(t *testing.T) {
	s := newStore(t)
	src, err := s.Create(0, "", []byte("content"), false)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	dest := makeName(0, 99, time.Now(), "", false).String()
	if err := s.Link(dest, src); err != nil {
		t.Fatalf("Link: %v", err)
	}
	got, err := s.ReadAll(dest)
	if err != nil || string(got) != "content" {
		t.Errorf("expected the source content through the link; got %q, %v", got, err)
	}
	if err := s.Link(dest, src); !errors.Is(errors.Exist, err) {
		t.Errorf("expected Exist relinking; got %v", err)
	}
}
