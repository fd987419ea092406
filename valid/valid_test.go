// Copyright 2026 The FDFS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package valid

import (
	"testing"

	"fdfs.io/errors"
	"fdfs.io/fdfs"
)

func TestGroupName(t *testing.T) {
	good := []string{"group1", "g", "G2", "0123456789abcdef"}
	for _, g := range good {
		if err := GroupName(g); err != nil {
			t.Errorf("%q: expected valid; got %v", g, err)
		}
	}
	bad := []string{"", "group 1", "group/1", "group_1", "0123456789abcdefg"}
	for _, g := range bad {
		err := GroupName(g)
		if err == nil {
			t.Errorf("%q: expected error; got none", g)
			continue
		}
		if !errors.Is(errors.Syntax, err) {
			t.Errorf("%q: expected Syntax error; got %v", g, err)
		}
	}
}

func TestRemoteFilename(t *testing.T) {
	good := []string{
		"M00/3E/A1/6851f2c0000000019a.txt",
		"M00/3E/A1/6851f2c0000000019a.txt-m",
		"M01/00/00/x_y-z.9",
	}
	for _, f := range good {
		if err := RemoteFilename(f); err != nil {
			t.Errorf("%q: expected valid; got %v", f, err)
		}
	}
	bad := []string{
		"",
		"/M00/x",
		"M00//x",
		"M00/x/",
		"M00/../x",
		"M00/./x",
		"M00/a b/x",
	}
	for _, f := range bad {
		err := RemoteFilename(f)
		if err == nil {
			t.Errorf("%q: expected error; got none", f)
			continue
		}
		if !errors.Is(errors.Syntax, err) {
			t.Errorf("%q: expected Syntax error; got %v", f, err)
		}
	}
}

func TestFileID(t *testing.T) {
	group, remote, err := FileID("group1/M00/00/00/abc.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if group != "group1" || remote != "M00/00/00/abc.txt" {
		t.Errorf("expected group1 and M00/00/00/abc.txt; got %q %q", group, remote)
	}
	for _, id := range []string{"", "group1", "bad group/x", "group1//x"} {
		if _, _, err := FileID(fdfs.FileID(id)); err == nil {
			t.Errorf("%q: expected error; got none", id)
		}
	}
}
