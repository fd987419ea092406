// Copyright 2026 The FDFS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package errors

import (
	"strings"
	"testing"

	"fdfs.io/fdfs"
)

func TestDedup(t *testing.T) {
	id := fdfs.FileID("group1/M00/00/00/abc.txt")
	inner := E("storage.Download", id, NotExist, Str("no such file"))
	outer := E("client.Download", id, inner)
	got := outer.Error()
	if n := strings.Count(got, string(id)); n != 1 {
		t.Errorf("expected the file id once; got %d times in %q", n, got)
	}
	if n := strings.Count(got, NotExist.String()); n != 1 {
		t.Errorf("expected the kind once; got %d times in %q", n, got)
	}
}

func TestKindPropagates(t *testing.T) {
	inner := E("pool.Get", Exhausted, Str("cap reached"))
	outer := E("tracker.QueryStore", inner)
	if !Is(Exhausted, outer) {
		t.Errorf("expected Exhausted to surface through the wrap; got %v", outer)
	}
	if Is(Transient, outer) {
		t.Errorf("did not expect Transient; got %v", outer)
	}
}

func TestIsNonError(t *testing.T) {
	if Is(NotExist, Str("plain")) {
		t.Error("plain errors have no kind")
	}
	if Is(NotExist, nil) {
		t.Error("nil has no kind")
	}
}

func TestErrorMessage(t *testing.T) {
	ep := fdfs.Endpoint{IPAddr: "10.0.4.1", Port: 23000}
	err := E("storage.Append", ep, Invalid, Str("not an appender file"))
	got := err.Error()
	for _, want := range []string{"storage.Append", "server 10.0.4.1:23000", "invalid operation", "not an appender file"} {
		if !strings.Contains(got, want) {
			t.Errorf("expected %q in %q", want, got)
		}
	}
}

func TestMatch(t *testing.T) {
	err := E("storage.Delete", fdfs.FileID("g/x"), NotExist, Str("gone"))
	if !Match(E("storage.Delete", NotExist), err) {
		t.Error("expected match on op and kind")
	}
	if Match(E("storage.Delete", Exist), err) {
		t.Error("unexpected match with wrong kind")
	}
	if Match(E(fdfs.FileID("g/y")), err) {
		t.Error("unexpected match with wrong file id")
	}
}

func TestDoesNotChangePreviousError(t *testing.T) {
	err := E(NotExist, Str("gone"))
	_ = E("storage.Delete", fdfs.FileID("g/x"), err)
	if !Is(NotExist, err) {
		t.Errorf("inner error mutated: %v", err)
	}
}
