// Copyright 2026 The FDFS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"strings"
	"testing"
	"time"

	"fdfs.io/errors"
	"fdfs.io/fdfs"
)

const sample = `
tracker_server: 10.0.4.2:22122, 10.0.4.1:22122, 10.0.4.2:22122
connect_timeout: 2s
network_timeout: 10s
max_connections: 8
max_idle_time: 30m
base_path: /var/fdfs
group_name: group1
store_paths: /var/fdfs/path0, /var/fdfs/path1
storage_id: storage-01
bind_addr: ":23000"
sync_peers: storage-02@10.0.4.3:23000
sync_interval: 50ms
log_level: debug
`

func TestInitConfig(t *testing.T) {
	cfg, err := InitConfig(strings.NewReader(sample))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wantTrackers := []fdfs.Endpoint{
		{IPAddr: "10.0.4.1", Port: 22122},
		{IPAddr: "10.0.4.2", Port: 22122},
	}
	if len(cfg.TrackerServers) != len(wantTrackers) {
		t.Fatalf("expected %d trackers; got %d", len(wantTrackers), len(cfg.TrackerServers))
	}
	for i, ep := range wantTrackers {
		if cfg.TrackerServers[i] != ep {
			t.Errorf("tracker %d: expected %v; got %v", i, ep, cfg.TrackerServers[i])
		}
	}
	if cfg.ConnectTimeout != 2*time.Second || cfg.NetworkTimeout != 10*time.Second {
		t.Errorf("bad timeouts: %v %v", cfg.ConnectTimeout, cfg.NetworkTimeout)
	}
	if cfg.MaxConnections != 8 || cfg.MaxIdleTime != 30*time.Minute {
		t.Errorf("bad pool settings: %d %v", cfg.MaxConnections, cfg.MaxIdleTime)
	}
	if cfg.GroupName != "group1" || cfg.BasePath != "/var/fdfs" || cfg.StorageID != "storage-01" {
		t.Errorf("bad identity: %q %q %q", cfg.GroupName, cfg.BasePath, cfg.StorageID)
	}
	if len(cfg.StorePaths) != 2 || cfg.StorePaths[1] != "/var/fdfs/path1" {
		t.Errorf("bad store paths: %v", cfg.StorePaths)
	}
	if len(cfg.SyncPeers) != 1 || cfg.SyncPeers[0].ID != "storage-02" ||
		cfg.SyncPeers[0].Addr != (fdfs.Endpoint{IPAddr: "10.0.4.3", Port: 23000}) {
		t.Errorf("bad sync peers: %v", cfg.SyncPeers)
	}
	if cfg.SyncInterval != 50*time.Millisecond || cfg.LogLevel != "debug" {
		t.Errorf("bad sync/log settings: %v %q", cfg.SyncInterval, cfg.LogLevel)
	}
}

func TestInitConfigDefaults(t *testing.T) {
	cfg, err := InitConfig(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ConnectTimeout != 5*time.Second || cfg.NetworkTimeout != 30*time.Second {
		t.Errorf("bad default timeouts: %v %v", cfg.ConnectTimeout, cfg.NetworkTimeout)
	}
	if cfg.MaxConnections != 256 || cfg.LogLevel != "info" {
		t.Errorf("bad defaults: %d %q", cfg.MaxConnections, cfg.LogLevel)
	}
}

func TestInitConfigUnknownKey(t *testing.T) {
	_, err := InitConfig(strings.NewReader("no_such_key: 1\n"))
	if err == nil {
		t.Fatal("expected error; got none")
	}
	if !errors.Is(errors.Syntax, err) {
		t.Errorf("expected Syntax error; got %v", err)
	}
}

func TestInitConfigEnvOverride(t *testing.T) {
	t.Setenv("fdfsgroup_name", "group9")
	cfg, err := InitConfig(strings.NewReader("group_name: group1\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.GroupName != "group9" {
		t.Errorf("expected env to win; got %q", cfg.GroupName)
	}
}

func TestParseEndpoint(t *testing.T) {
	ep, err := ParseEndpoint("10.0.4.1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ep.Port != fdfs.TrackerDefaultPort {
		t.Errorf("expected default port %d; got %d", fdfs.TrackerDefaultPort, ep.Port)
	}
	for _, bad := range []string{"", ":22122", "host:notaport", "host:0", "host:70000"} {
		if _, err := ParseEndpoint(bad); err == nil {
			t.Errorf("%q: expected error; got none", bad)
		}
	}
}

func TestParsePeerListBad(t *testing.T) {
	for _, bad := range []string{"nohost", "@10.0.4.1:23000", "id@"} {
		if _, err := parsePeerList(bad); err == nil {
			t.Errorf("%q: expected error; got none", bad)
		}
	}
}
