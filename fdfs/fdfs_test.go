// Copyright 2026 The FDFS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fdfs

import "testing"

func TestFileIDSplit(t *testing.T) {
	tests := []struct {
		id     FileID
		group  string
		remote string
		ok     bool
	}{
		{"group1/M00/3E/A1/abcdef.txt", "group1", "M00/3E/A1/abcdef.txt", true},
		{"g/x", "g", "x", true},
		{"group1", "", "", false},
		{"", "", "", false},
		{"/M00/x", "", "", false},
		{"group1/", "", "", false},
		{"averylonggroupname17/M00/x", "", "", false}, // group exceeds the fixed field
	}
	for _, test := range tests {
		group, remote, ok := test.id.Split()
		if ok != test.ok {
			t.Errorf("%q: expected ok %v; got %v", test.id, test.ok, ok)
			continue
		}
		if group != test.group || remote != test.remote {
			t.Errorf("%q: expected %q %q; got %q %q", test.id, test.group, test.remote, group, remote)
		}
	}
}

func TestJoinFileID(t *testing.T) {
	id := JoinFileID("group1", "M00/00/00/abc")
	if id != "group1/M00/00/00/abc" {
		t.Errorf("expected group1/M00/00/00/abc; got %q", id)
	}
	group, remote, ok := id.Split()
	if !ok || group != "group1" || remote != "M00/00/00/abc" {
		t.Errorf("round trip broke: %q %q %v", group, remote, ok)
	}
}

func TestEndpointString(t *testing.T) {
	ep := Endpoint{IPAddr: "10.0.4.1", Port: 23000}
	if got := ep.String(); got != "10.0.4.1:23000" {
		t.Errorf("expected 10.0.4.1:23000; got %q", got)
	}
}
