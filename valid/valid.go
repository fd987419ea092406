// Copyright 2026 The FDFS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package valid does validation of various data types.
// Names are checked before any network I/O so a malformed argument
// fails fast with a Syntax error.
package valid

import (
	"fdfs.io/errors"
	"fdfs.io/fdfs"
)

// GroupName verifies that the name is a syntactically valid group name:
// non-empty, at most fdfs.GroupNameMaxLen bytes, alphanumeric only.
func GroupName(group string) error {
	const op = "valid.GroupName"
	if group == "" || len(group) > fdfs.GroupNameMaxLen {
		return errors.E(op, errors.Syntax, errors.Errorf("bad group name %q", group))
	}
	for i := 0; i < len(group); i++ {
		if !okGroupChar(group[i]) {
			return errors.E(op, errors.Syntax, errors.Errorf("bad group name %q", group))
		}
	}
	return nil
}

func okGroupChar(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z':
		return true
	case 'A' <= c && c <= 'Z':
		return true
	case '0' <= c && c <= '9':
		return true
	}
	return false
}

// RemoteFilename verifies that the name is a syntactically valid remote
// filename: non-empty, path-separated segments of [A-Za-z0-9._-], no empty
// segments and no parent references.
func RemoteFilename(filename string) error {
	const op = "valid.RemoteFilename"
	bad := func() error {
		return errors.E(op, errors.Syntax, errors.Errorf("bad remote filename %q", filename))
	}
	if filename == "" || filename[0] == '/' || filename[len(filename)-1] == '/' {
		return bad()
	}
	seg := 0
	dots := true
	for i := 0; i < len(filename); i++ {
		c := filename[i]
		if c == '/' {
			if seg == 0 || dots {
				return bad()
			}
			seg = 0
			dots = true
			continue
		}
		if !okFileChar(c) {
			return bad()
		}
		if c != '.' {
			dots = false
		}
		seg++
	}
	if seg == 0 || dots {
		return bad()
	}
	return nil
}

func okFileChar(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z':
		return true
	case 'A' <= c && c <= 'Z':
		return true
	case '0' <= c && c <= '9':
		return true
	case c == '.' || c == '_' || c == '-':
		return true
	}
	return false
}

// FileID verifies that the id splits into a valid group name and remote
// filename. It returns the two parts on success.
func FileID(id fdfs.FileID) (group, remote string, err error) {
	const op = "valid.FileID"
	group, remote, ok := id.Split()
	if !ok {
		return "", "", errors.E(op, errors.Syntax, id, errors.Str("malformed file id"))
	}
	if err := GroupName(group); err != nil {
		return "", "", errors.E(op, id, err)
	}
	if err := RemoteFilename(remote); err != nil {
		return "", "", errors.E(op, id, err)
	}
	return group, remote, nil
}
