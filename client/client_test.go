// Copyright 2026 The FDFS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package client_test

import (
	"bytes"
	"testing"
	"time"

	"fdfs.io/client"
	"fdfs.io/config"
	"fdfs.io/errors"
	"fdfs.io/fdfs"
	"fdfs.io/fdfstest"
	"fdfs.io/pool"
)

// newClient stands up a storage server and a tracker placing everything
// on it, and returns a Client configured against that tracker.
func newClient(t *testing.T) *client.Client {
	t.Helper()
	p := pool.New(fdfstest.Timeout, 8, time.Minute)
	t.Cleanup(p.Close)
	srv := fdfstest.StartStorage(t, "group1", "srv-a", nil, p)
	trackerEP := fdfstest.StartTracker(t, fdfs.StorageServer{
		Endpoint: srv.Endpoint(),
		Group:    "group1",
	})

	cfg := config.New()
	cfg.TrackerServers = []fdfs.Endpoint{trackerEP}
	c, err := client.New(cfg)
	if err != nil {
		t.Fatalf("client.New: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestNewNoTrackers(t *testing.T) {
	if _, err := client.New(config.New()); !errors.Is(errors.Invalid, err) {
		t.Fatalf("New with no trackers: got %v; want Invalid", err)
	}
}

func TestRoundTrip(t *testing.T) {
	c := newClient(t)
	data := []byte("end to end payload")
	md := fdfs.Metadata{"kind": "test"}

	id, err := c.Upload("", "bin", data, md)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if _, _, ok := id.Split(); !ok {
		t.Fatalf("Upload returned malformed id %q", id)
	}

	got, err := c.Download(id, 0, 0)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("Download = %q; want %q", got, data)
	}

	gotMD, err := c.GetMetadata(id)
	if err != nil {
		t.Fatalf("GetMetadata: %v", err)
	}
	if gotMD["kind"] != "test" {
		t.Errorf("GetMetadata = %v; want %v", gotMD, md)
	}

	info, err := c.QueryFileInfo(id)
	if err != nil {
		t.Fatalf("QueryFileInfo: %v", err)
	}
	if info.Size != int64(len(data)) {
		t.Errorf("Size = %d; want %d", info.Size, len(data))
	}

	if err := c.Delete(id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := c.Download(id, 0, 0); !errors.Is(errors.NotExist, err) {
		t.Errorf("Download after Delete: got %v; want NotExist", err)
	}
}

func TestAppenderRoundTrip(t *testing.T) {
	c := newClient(t)
	id, err := c.UploadAppender("group1", "log", []byte("2026-08-29 start\n"), nil)
	if err != nil {
		t.Fatalf("UploadAppender: %v", err)
	}
	if err := c.Append(id, []byte("2026-08-29 stop\n")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := c.Modify(id, 11, []byte("STArt")); err != nil {
		t.Fatalf("Modify: %v", err)
	}
	if err := c.Truncate(id, 17); err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	got, err := c.Download(id, 0, 0)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if want := "2026-08-29 STArt\n"; string(got) != want {
		t.Fatalf("final content = %q; want %q", got, want)
	}
}

func TestMalformedID(t *testing.T) {
	c := newClient(t)
	for _, id := range []fdfs.FileID{"", "nogroup", "group1/../../etc/passwd"} {
		if _, err := c.Download(id, 0, 0); err == nil {
			t.Errorf("Download(%q) succeeded; want error", id)
		}
		if err := c.Delete(id); err == nil {
			t.Errorf("Delete(%q) succeeded; want error", id)
		}
	}
}
