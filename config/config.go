// Copyright 2026 The FDFS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config loads the engine configuration from a YAML file and/or
// environment variables and hands out the explicit Config value every
// component constructor receives. There is no package-level configuration
// state; the top-level entry point owns the Config's lifetime.
package config

import (
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v2"

	"fdfs.io/errors"
	"fdfs.io/fdfs"
)

// Config carries everything the engine's components need.
type Config struct {
	// TrackerServers is the tracker group, deduplicated and sorted by
	// address for binary search.
	TrackerServers []fdfs.Endpoint

	// ConnectTimeout bounds dialing a tracker or storage server.
	ConnectTimeout time.Duration
	// NetworkTimeout bounds each socket send and receive.
	NetworkTimeout time.Duration

	// MaxConnections is the per-endpoint connection pool cap.
	// Zero means unlimited.
	MaxConnections int
	// MaxIdleTime is how long a pooled connection may sit unused
	// before a sweep closes it.
	MaxIdleTime time.Duration

	// BasePath is the storage server's data root; the binlog lives under
	// BasePath/data/sync.
	BasePath string
	// GroupName is the storage group this server belongs to.
	GroupName string
	// StorePaths are the file store roots, indexed by store path index.
	StorePaths []string
	// StorageID identifies this storage server to its peers.
	StorageID string
	// BindAddr is the storage server listen address.
	BindAddr string
	// SyncPeers are the replica peers of this server's group.
	SyncPeers []Peer

	// SyncInterval is the binlog reader's poll fallback when waiting
	// for new records.
	SyncInterval time.Duration

	// LogLevel is one of debug, info, error, disabled.
	LogLevel string
}

// Known keys. All others are treated as errors.
const (
	trackerServer  = "tracker_server"
	connectTimeout = "connect_timeout"
	networkTimeout = "network_timeout"
	maxConnections = "max_connections"
	maxIdleTime    = "max_idle_time"
	basePath       = "base_path"
	groupName      = "group_name"
	storePaths     = "store_paths"
	storageID      = "storage_id"
	bindAddr       = "bind_addr"
	syncPeers      = "sync_peers"
	syncInterval   = "sync_interval"
	logLevel       = "log_level"
)

// Peer is one replica peer: its storage id and its address.
type Peer struct {
	ID   string
	Addr fdfs.Endpoint
}

var knownKeys = map[string]bool{
	trackerServer:  true,
	connectTimeout: true,
	networkTimeout: true,
	maxConnections: true,
	maxIdleTime:    true,
	basePath:       true,
	groupName:      true,
	storePaths:     true,
	storageID:      true,
	bindAddr:       true,
	syncPeers:      true,
	syncInterval:   true,
	logLevel:       true,
}

// New returns a Config holding the defaults for every field.
func New() *Config {
	return &Config{
		ConnectTimeout: 5 * time.Second,
		NetworkTimeout: 30 * time.Second,
		MaxConnections: 256,
		MaxIdleTime:    time.Hour,
		SyncInterval:   100 * time.Millisecond,
		LogLevel:       "info",
	}
}

// FromFile initializes a Config from the named YAML file.
func FromFile(name string) (*Config, error) {
	const op = "config.FromFile"
	f, err := os.Open(name)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.E(op, errors.NotExist, err)
		}
		return nil, errors.E(op, err)
	}
	defer f.Close()
	return InitConfig(f)
}

// InitConfig returns a Config built from the YAML document read from r
// and from environment variables.
//
// The document is a flat mapping of known keys to scalar values:
//
//	tracker_server: 10.0.4.1:22122,10.0.4.2:22122
//	group_name: group1
//	base_path: /var/fdfs
//	store_paths: /var/fdfs/path0,/var/fdfs/path1
//	connect_timeout: 5s
//
// Environment variables named "fdfs<key>", where <key> is a recognized
// configuration key, override values from the document.
func InitConfig(r io.Reader) (*Config, error) {
	const op = "config.InitConfig"

	vals := map[string]string{}
	if r != nil {
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, errors.E(op, errors.IO, err)
		}
		if err := yaml.Unmarshal(data, vals); err != nil {
			return nil, errors.E(op, errors.Syntax, err)
		}
	}
	for k := range vals {
		if !knownKeys[k] {
			return nil, errors.E(op, errors.Syntax, errors.Errorf("unrecognized key %q", k))
		}
	}

	// Environment variables trump the file.
	for k := range knownKeys {
		if v := os.Getenv("fdfs" + k); v != "" {
			vals[k] = v
		}
	}

	cfg := New()
	var err error
	for k, v := range vals {
		v = strings.TrimSpace(v)
		switch k {
		case trackerServer:
			cfg.TrackerServers, err = parseEndpointList(v)
		case connectTimeout:
			cfg.ConnectTimeout, err = time.ParseDuration(v)
		case networkTimeout:
			cfg.NetworkTimeout, err = time.ParseDuration(v)
		case maxIdleTime:
			cfg.MaxIdleTime, err = time.ParseDuration(v)
		case syncInterval:
			cfg.SyncInterval, err = time.ParseDuration(v)
		case maxConnections:
			cfg.MaxConnections, err = strconv.Atoi(v)
		case basePath:
			cfg.BasePath = v
		case groupName:
			cfg.GroupName = v
		case storePaths:
			cfg.StorePaths = splitList(v)
		case storageID:
			cfg.StorageID = v
		case bindAddr:
			cfg.BindAddr = v
		case syncPeers:
			cfg.SyncPeers, err = parsePeerList(v)
		case logLevel:
			cfg.LogLevel = v
		}
		if err != nil {
			return nil, errors.E(op, errors.Syntax, errors.Errorf("bad value for %q: %v", k, err))
		}
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseEndpointList(s string) ([]fdfs.Endpoint, error) {
	var eps []fdfs.Endpoint
	for _, addr := range splitList(s) {
		ep, err := ParseEndpoint(addr)
		if err != nil {
			return nil, err
		}
		eps = append(eps, ep)
	}
	return SortEndpoints(eps), nil
}

// parsePeerList parses a comma-separated list of "id@host:port" peers.
func parsePeerList(s string) ([]Peer, error) {
	const op = "config.parsePeerList"
	var peers []Peer
	for _, p := range splitList(s) {
		id, addr, found := strings.Cut(p, "@")
		if !found || id == "" {
			return nil, errors.E(op, errors.Syntax, errors.Errorf("bad peer %q, want id@host:port", p))
		}
		ep, err := ParseEndpoint(addr)
		if err != nil {
			return nil, errors.E(op, err)
		}
		peers = append(peers, Peer{ID: id, Addr: ep})
	}
	return peers, nil
}

// ParseEndpoint parses "host:port" into an Endpoint. A bare host gets the
// default tracker port.
func ParseEndpoint(addr string) (fdfs.Endpoint, error) {
	const op = "config.ParseEndpoint"
	host, portStr, found := strings.Cut(addr, ":")
	if host == "" {
		return fdfs.Endpoint{}, errors.E(op, errors.Syntax, errors.Errorf("bad address %q", addr))
	}
	if !found {
		return fdfs.Endpoint{IPAddr: host, Port: fdfs.TrackerDefaultPort}, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return fdfs.Endpoint{}, errors.E(op, errors.Syntax, errors.Errorf("bad port in %q", addr))
	}
	return fdfs.Endpoint{IPAddr: host, Port: port}, nil
}

// SortEndpoints sorts the slice by (ip, port) and removes duplicates,
// so lookups can use binary search. The slice is modified in place.
func SortEndpoints(eps []fdfs.Endpoint) []fdfs.Endpoint {
	sort.Slice(eps, func(i, j int) bool {
		if eps[i].IPAddr != eps[j].IPAddr {
			return eps[i].IPAddr < eps[j].IPAddr
		}
		return eps[i].Port < eps[j].Port
	})
	out := eps[:0]
	for i, ep := range eps {
		if i == 0 || ep != eps[i-1] {
			out = append(out, ep)
		}
	}
	return out
}
