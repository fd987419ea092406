// Copyright 2026 The FDFS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package proto

import (
	"bytes"
	"sort"

	"fdfs.io/fdfs"
)

// PackMetadata serializes a metadata set for the wire: pairs sorted by
// name, each emitted as name FieldSeparator value RecordSeparator, with
// the final record separator trimmed. Names and values beyond the fixed
// limits are truncated, not rejected.
func PackMetadata(md fdfs.Metadata) []byte {
	if len(md) == 0 {
		return nil
	}
	names := make([]string, 0, len(md))
	for name := range md {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	for i, name := range names {
		value := md[name]
		if len(name) > fdfs.MetaNameMaxLen {
			name = name[:fdfs.MetaNameMaxLen]
		}
		if len(value) > fdfs.MetaValueMaxLen {
			value = value[:fdfs.MetaValueMaxLen]
		}
		if i > 0 {
			buf.WriteByte(fdfs.RecordSeparator)
		}
		buf.WriteString(name)
		buf.WriteByte(fdfs.FieldSeparator)
		buf.WriteString(value)
	}
	return buf.Bytes()
}

// UnpackMetadata parses a packed metadata body. It is a tolerant parser:
// records without a field separator are skipped, not reported.
func UnpackMetadata(b []byte) fdfs.Metadata {
	md := make(fdfs.Metadata)
	if len(b) == 0 {
		return md
	}
	for _, rec := range bytes.Split(b, []byte{fdfs.RecordSeparator}) {
		if len(rec) == 0 {
			continue
		}
		i := bytes.IndexByte(rec, fdfs.FieldSeparator)
		if i < 0 {
			continue
		}
		md[string(rec[:i])] = string(rec[i+1:])
	}
	return md
}
