// Copyright 2026 The FDFS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package store keeps the files a storage server holds. It owns the
// store paths on disk, generates remote filenames, and enforces the
// mutation rules: only appender files mutate, modify never extends,
// truncate may zero-extend. Metadata lives in a small companion file
// next to each data file.
package store

import (
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"fdfs.io/errors"
	"fdfs.io/fdfs"
	"fdfs.io/proto"
)

// metaSuffix names the metadata companion of a data file. The
// companion is addressable as "<filename>-m", which is how replication
// moves metadata between peers: the companion travels as a file.
const metaSuffix = "-m"

// MetadataName returns the remote filename of the file's metadata
// companion.
func MetadataName(filename string) string { return filename + metaSuffix }

// Store is the file store of one storage server. All methods are safe
// for concurrent use; mutations of a single file are serialized by the
// serving layer above.
type Store struct {
	group string
	paths []string // absolute store paths; files live under <path>/data
	seq   uint32   // atomic; feeds filename generation
}

// New opens (creating if needed) a store over the given store paths.
func New(group string, storePaths []string) (*Store, error) {
	const op = "store.New"
	if len(storePaths) == 0 {
		return nil, errors.E(op, errors.Invalid, errors.Str("no store paths"))
	}
	s := &Store{group: group, paths: make([]string, len(storePaths))}
	for i, p := range storePaths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, errors.E(op, errors.IO, err)
		}
		if err := os.MkdirAll(filepath.Join(abs, "data"), 0o755); err != nil {
			return nil, errors.E(op, errors.IO, err)
		}
		s.paths[i] = abs
	}
	return s, nil
}

// Group returns the group this store serves.
func (s *Store) Group() string { return s.group }

// PathCount returns how many store paths the store spans.
func (s *Store) PathCount() int { return len(s.paths) }

// localPath resolves a parsed name to its absolute path on disk.
func (s *Store) localPath(op string, n fileName) (string, error) {
	if n.PathIndex >= len(s.paths) {
		return "", errors.E(op, errors.Invalid, errors.Errorf("store path M%02d not configured", n.PathIndex))
	}
	return filepath.Join(s.paths[n.PathIndex], "data",
		n.String()[len("M00/"):]), nil
}

// resolve parses filename and maps it onto disk in one step.
func (s *Store) resolve(op, filename string) (string, fileName, error) {
	n, err := parseName(op, filename)
	if err != nil {
		return "", fileName{}, err
	}
	p, err := s.localPath(op, n)
	if err != nil {
		return "", fileName{}, err
	}
	return p, n, nil
}

func ioErr(op, filename string, err error) error {
	if os.IsNotExist(err) {
		return errors.E(op, errors.NotExist, errors.Errorf("%s: no such file", filename))
	}
	return errors.E(op, errors.IO, err)
}

// Create writes data as a brand-new file on store path pathIndex and
// returns its generated remote filename.
func (s *Store) Create(pathIndex int, ext string, data []byte, appender bool) (string, error) {
	const op = "store.Create"
	if pathIndex < 0 || pathIndex >= len(s.paths) {
		return "", errors.E(op, errors.Invalid, errors.Errorf("store path M%02d not configured", pathIndex))
	}
	n := makeName(pathIndex, atomic.AddUint32(&s.seq, 1), time.Now(), ext, appender)
	p, err := s.localPath(op, n)
	if err != nil {
		return "", err
	}
	if err := s.writeNew(op, p, data); err != nil {
		return "", err
	}
	return n.String(), nil
}

// CreateAs writes data under an exact remote filename. Replicas use it
// to mirror a creation from a peer. An existing file is an Exist error;
// the syncer decides whether that is a conflict or a rerun.
func (s *Store) CreateAs(filename string, data []byte) error {
	const op = "store.CreateAs"
	p, _, err := s.resolve(op, filename)
	if err != nil {
		return err
	}
	if _, err := os.Lstat(p); err == nil {
		return errors.E(op, errors.Exist, errors.Errorf("%s already exists", filename))
	}
	return s.writeNew(op, p, data)
}

func (s *Store) writeNew(op, p string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return errors.E(op, errors.IO, err)
	}
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return errors.E(op, errors.Exist, err)
		}
		return errors.E(op, errors.IO, err)
	}
	_, werr := f.Write(data)
	cerr := f.Close()
	if werr != nil {
		os.Remove(p)
		return errors.E(op, errors.IO, werr)
	}
	if cerr != nil {
		os.Remove(p)
		return errors.E(op, errors.IO, cerr)
	}
	return nil
}

// Update replaces the whole content of an existing file in place.
func (s *Store) Update(filename string, data []byte) error {
	const op = "store.Update"
	p, _, err := s.resolve(op, filename)
	if err != nil {
		return err
	}
	if _, err := os.Lstat(p); err != nil {
		return ioErr(op, filename, err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return errors.E(op, errors.IO, err)
	}
	return nil
}

// Append grows an appender file by data and returns the offset the new
// bytes landed at, which is the file's size before the call.
func (s *Store) Append(filename string, data []byte) (int64, error) {
	const op = "store.Append"
	p, n, err := s.resolve(op, filename)
	if err != nil {
		return 0, err
	}
	if !n.Appender() {
		return 0, errors.E(op, errors.Invalid, errors.Errorf("%s is not an appender file", filename))
	}
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return 0, ioErr(op, filename, err)
	}
	defer f.Close()
	offset, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, errors.E(op, errors.IO, err)
	}
	if _, err := f.Write(data); err != nil {
		return 0, errors.E(op, errors.IO, err)
	}
	return offset, nil
}

// AppendAt applies a replayed append recorded at the given offset.
// If the file is already at or past offset+len(data) the record was
// applied before and the call is a no-op; a file shorter than offset
// means the replica missed an earlier record, which is an IO error the
// syncer retries rather than skips.
func (s *Store) AppendAt(filename string, offset int64, data []byte) error {
	const op = "store.AppendAt"
	p, n, err := s.resolve(op, filename)
	if err != nil {
		return err
	}
	if !n.Appender() {
		return errors.E(op, errors.Invalid, errors.Errorf("%s is not an appender file", filename))
	}
	f, err := os.OpenFile(p, os.O_WRONLY, 0)
	if err != nil {
		return ioErr(op, filename, err)
	}
	defer f.Close()
	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return errors.E(op, errors.IO, err)
	}
	switch {
	case size >= offset+int64(len(data)):
		return nil // already applied
	case size < offset:
		return errors.E(op, errors.IO,
			errors.Errorf("%s is %d bytes, append recorded at %d", filename, size, offset))
	}
	if _, err := f.WriteAt(data, offset); err != nil {
		return errors.E(op, errors.IO, err)
	}
	return nil
}

// Modify overwrites len(data) bytes at offset of an appender file.
// The range must lie entirely inside the current file; Modify never
// extends, and a range past the end leaves the file untouched.
func (s *Store) Modify(filename string, offset int64, data []byte) error {
	const op = "store.Modify"
	p, n, err := s.resolve(op, filename)
	if err != nil {
		return err
	}
	if !n.Appender() {
		return errors.E(op, errors.Invalid, errors.Errorf("%s is not an appender file", filename))
	}
	if offset < 0 {
		return errors.E(op, errors.Invalid, errors.Str("negative offset"))
	}
	f, err := os.OpenFile(p, os.O_WRONLY, 0)
	if err != nil {
		return ioErr(op, filename, err)
	}
	defer f.Close()
	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return errors.E(op, errors.IO, err)
	}
	if offset+int64(len(data)) > size {
		return errors.E(op, errors.Invalid,
			errors.Errorf("modify range [%d,%d) passes end of %d byte file", offset, offset+int64(len(data)), size))
	}
	if _, err := f.WriteAt(data, offset); err != nil {
		return errors.E(op, errors.IO, err)
	}
	return nil
}

// Truncate sets an appender file's length to size, zero-extending when
// size passes the current end. It returns the size before the call so
// the mutation can be logged with it.
func (s *Store) Truncate(filename string, size int64) (int64, error) {
	const op = "store.Truncate"
	p, n, err := s.resolve(op, filename)
	if err != nil {
		return 0, err
	}
	if !n.Appender() {
		return 0, errors.E(op, errors.Invalid, errors.Errorf("%s is not an appender file", filename))
	}
	if size < 0 {
		return 0, errors.E(op, errors.Invalid, errors.Str("negative size"))
	}
	fi, err := os.Stat(p)
	if err != nil {
		return 0, ioErr(op, filename, err)
	}
	if err := os.Truncate(p, size); err != nil {
		return 0, errors.E(op, errors.IO, err)
	}
	return fi.Size(), nil
}

// TruncateFrom applies a replayed truncate. A file already at newSize
// saw this record before and the call is a no-op. Any other size that
// differs from oldSize means the file has diverged from the record; the
// call fails and the caller must reconcile against the current size.
func (s *Store) TruncateFrom(filename string, oldSize, newSize int64) error {
	const op = "store.TruncateFrom"
	p, _, err := s.resolve(op, filename)
	if err != nil {
		return err
	}
	fi, err := os.Stat(p)
	if err != nil {
		return ioErr(op, filename, err)
	}
	switch size := fi.Size(); {
	case size == newSize:
		return nil
	case size != oldSize:
		return errors.E(op, errors.Invalid,
			errors.Errorf("%s is %d bytes, not the recorded %d", filename, size, oldSize))
	}
	if err := os.Truncate(p, newSize); err != nil {
		return errors.E(op, errors.IO, err)
	}
	return nil
}

// Delete removes a file and its metadata companion.
func (s *Store) Delete(filename string) error {
	const op = "store.Delete"
	p, _, err := s.resolve(op, filename)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		return ioErr(op, filename, err)
	}
	os.Remove(p + metaSuffix) // may not exist
	return nil
}

// Link creates dest as a link whose content is served from src, the way
// the sync protocol propagates link files. src must already exist.
func (s *Store) Link(dest, src string) error {
	const op = "store.Link"
	dp, _, err := s.resolve(op, dest)
	if err != nil {
		return err
	}
	sp, _, err := s.resolve(op, src)
	if err != nil {
		return err
	}
	if _, err := os.Stat(sp); err != nil {
		return ioErr(op, src, err)
	}
	if err := os.MkdirAll(filepath.Dir(dp), 0o755); err != nil {
		return errors.E(op, errors.IO, err)
	}
	if err := os.Symlink(sp, dp); err != nil {
		if os.IsExist(err) {
			return errors.E(op, errors.Exist, err)
		}
		return errors.E(op, errors.IO, err)
	}
	return nil
}

// Read returns length bytes of the file starting at offset. Zero length
// means through the end. An offset at or past the end yields an empty
// slice, and a length that passes the end is clamped.
func (s *Store) Read(filename string, offset, length int64) ([]byte, error) {
	const op = "store.Read"
	p, _, err := s.resolve(op, filename)
	if err != nil {
		return nil, err
	}
	if offset < 0 || length < 0 {
		return nil, errors.E(op, errors.Invalid, errors.Str("negative offset or length"))
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, ioErr(op, filename, err)
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return nil, errors.E(op, errors.IO, err)
	}
	if offset >= fi.Size() {
		return []byte{}, nil
	}
	rest := fi.Size() - offset
	if length == 0 || length > rest {
		length = rest
	}
	buf := make([]byte, length)
	if _, err := f.ReadAt(buf, offset); err != nil && err != io.EOF {
		return nil, errors.E(op, errors.IO, err)
	}
	return buf, nil
}

// ReadAll returns the file's full content.
func (s *Store) ReadAll(filename string) ([]byte, error) {
	return s.Read(filename, 0, 0)
}

// Size returns the file's current size, or NotExist.
func (s *Store) Size(filename string) (int64, error) {
	const op = "store.Size"
	p, _, err := s.resolve(op, filename)
	if err != nil {
		return 0, err
	}
	fi, err := os.Stat(p)
	if err != nil {
		return 0, ioErr(op, filename, err)
	}
	return fi.Size(), nil
}

// Stat reports the file's current size, creation time, content checksum
// and appender flag. The checksum covers the bytes on disk now, so it
// tracks mutations of appender files.
func (s *Store) Stat(filename string) (fdfs.FileInfo, error) {
	const op = "store.Stat"
	p, n, err := s.resolve(op, filename)
	if err != nil {
		return fdfs.FileInfo{}, err
	}
	f, err := os.Open(p)
	if err != nil {
		return fdfs.FileInfo{}, ioErr(op, filename, err)
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return fdfs.FileInfo{}, errors.E(op, errors.IO, err)
	}
	h := crc32.NewIEEE()
	if _, err := io.Copy(h, f); err != nil {
		return fdfs.FileInfo{}, errors.E(op, errors.IO, err)
	}
	return fdfs.FileInfo{
		Size:       fi.Size(),
		CreateTime: n.CreateTime(),
		CRC32:      h.Sum32(),
		Appender:   n.Appender(),
	}, nil
}

// SetMetadata writes the file's metadata companion. MetaOverwrite
// replaces the whole set; MetaMerge folds md into the existing set,
// newer values winning. An empty set after an overwrite removes the
// companion.
func (s *Store) SetMetadata(filename string, md fdfs.Metadata, flag fdfs.MetaFlag) error {
	const op = "store.SetMetadata"
	p, _, err := s.resolve(op, filename)
	if err != nil {
		return err
	}
	if _, err := os.Lstat(p); err != nil {
		return ioErr(op, filename, err)
	}
	if flag == fdfs.MetaMerge {
		old, err := s.Metadata(filename)
		if err != nil {
			return errors.E(op, err)
		}
		for name, value := range old {
			if _, ok := md[name]; !ok {
				if md == nil {
					md = make(fdfs.Metadata)
				}
				md[name] = value
			}
		}
	}
	if len(md) == 0 {
		if err := os.Remove(p + metaSuffix); err != nil && !os.IsNotExist(err) {
			return errors.E(op, errors.IO, err)
		}
		return nil
	}
	if err := os.WriteFile(p+metaSuffix, proto.PackMetadata(md), 0o644); err != nil {
		return errors.E(op, errors.IO, err)
	}
	return nil
}

// Metadata reads the file's metadata companion. A file without one has
// an empty set, which is not an error.
func (s *Store) Metadata(filename string) (fdfs.Metadata, error) {
	const op = "store.Metadata"
	p, _, err := s.resolve(op, filename)
	if err != nil {
		return nil, err
	}
	if _, err := os.Lstat(p); err != nil {
		return nil, ioErr(op, filename, err)
	}
	packed, err := os.ReadFile(p + metaSuffix)
	if err != nil {
		if os.IsNotExist(err) {
			return fdfs.Metadata{}, nil
		}
		return nil, errors.E(op, errors.IO, err)
	}
	return proto.UnpackMetadata(packed), nil
}
