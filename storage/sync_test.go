// Copyright 2026 The FDFS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package storage_test

import (
	"testing"
	"time"

	"fdfs.io/errors"
	"fdfs.io/fdfstest"
	"fdfs.io/pool"
	"fdfs.io/storage"
)

// The propagation commands address files by their full store name, the
// way a syncing peer does. The first name's birth record carries the
// appender flag so the range commands are accepted.
const (
	syncName = "M00/0A/0B/6851f2c000000a0b01.txt"
	linkName = "M00/0A/0C/6851f2c000000a0c00.txt"
)

func TestSyncCommands(t *testing.T) {
	p := pool.New(fdfstest.Timeout, 8, time.Minute)
	t.Cleanup(p.Close)
	srv := fdfstest.StartStorage(t, "group1", "srv-b", nil, p)
	c := storage.New(p, fdfstest.Timeout)
	ep := srv.Endpoint()
	ts := time.Unix(1756400000, 0)

	check := func(step, want string) {
		t.Helper()
		data, err := srv.Store.ReadAll(syncName)
		if err != nil {
			t.Fatalf("%s: ReadAll: %v", step, err)
		}
		if string(data) != want {
			t.Fatalf("%s: content = %q; want %q", step, data, want)
		}
	}

	if err := c.SyncCreate(ep, "group1", syncName, []byte("v1"), ts); err != nil {
		t.Fatalf("SyncCreate: %v", err)
	}
	check("create", "v1")

	// A duplicate create must not clobber the file.
	err := c.SyncCreate(ep, "group1", syncName, []byte("other"), ts)
	if !errors.Is(errors.Exist, err) {
		t.Fatalf("duplicate SyncCreate: got %v; want Exist", err)
	}
	check("duplicate create", "v1")

	if err := c.SyncUpdate(ep, "group1", syncName, []byte("version2"), ts); err != nil {
		t.Fatalf("SyncUpdate: %v", err)
	}
	check("update", "version2")

	if err := c.SyncAppend(ep, "group1", syncName, 8, []byte("+more"), ts); err != nil {
		t.Fatalf("SyncAppend: %v", err)
	}
	check("append", "version2+more")

	// Replaying the same append is a no-op, not corruption.
	if err := c.SyncAppend(ep, "group1", syncName, 8, []byte("+more"), ts); err != nil {
		t.Fatalf("replayed SyncAppend: %v", err)
	}
	check("replayed append", "version2+more")

	if err := c.SyncModify(ep, "group1", syncName, 0, []byte("VERSION2"), ts); err != nil {
		t.Fatalf("SyncModify: %v", err)
	}
	check("modify", "VERSION2+more")

	if err := c.SyncTruncate(ep, "group1", syncName, 13, 8, ts); err != nil {
		t.Fatalf("SyncTruncate: %v", err)
	}
	check("truncate", "VERSION2")

	if err := c.SyncLink(ep, "group1", linkName, syncName, ts); err != nil {
		t.Fatalf("SyncLink: %v", err)
	}
	if data, err := srv.Store.ReadAll(linkName); err != nil || string(data) != "VERSION2" {
		t.Fatalf("link content = %q, %v; want %q", data, err, "VERSION2")
	}

	if err := c.SyncDelete(ep, "group1", syncName, ts); err != nil {
		t.Fatalf("SyncDelete: %v", err)
	}
	if _, err := srv.Store.Size(syncName); !errors.Is(errors.NotExist, err) {
		t.Fatalf("after SyncDelete: got %v; want NotExist", err)
	}

	if err := c.SyncDelete(ep, "group1", syncName, ts); !errors.Is(errors.NotExist, err) {
		t.Fatalf("second SyncDelete: got %v; want NotExist", err)
	}

	// The wrong group is refused outright.
	if err := c.SyncCreate(ep, "group2", syncName, []byte("x"), ts); !errors.Is(errors.Invalid, err) {
		t.Fatalf("SyncCreate to wrong group: got %v; want Invalid", err)
	}
}
