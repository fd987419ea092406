// Copyright 2026 The FDFS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Fdfsstoraged is the storage server daemon. It loads its configuration
// from a YAML file, serves the storage protocol on the configured bind
// address, and replicates its binlog to the configured peers until it
// receives SIGINT or SIGTERM.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"fdfs.io/binlog"
	"fdfs.io/config"
	"fdfs.io/log"
	"fdfs.io/pool"
	"fdfs.io/proto"
	"fdfs.io/storage"
	"fdfs.io/storaged"
	"fdfs.io/store"
)

func main() {
	configPath := flag.String("config", "/etc/fdfs/storaged.yaml", "configuration file")
	logLevel := flag.String("log", "", "log level, overriding the configuration file")
	flag.Parse()

	cfg, err := config.FromFile(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if err := log.SetLevel(cfg.LogLevel); err != nil {
		log.Fatal(err)
	}
	if cfg.GroupName == "" {
		log.Fatal("fdfsstoraged: group_name is required")
	}
	if cfg.BasePath == "" {
		log.Fatal("fdfsstoraged: base_path is required")
	}
	if len(cfg.StorePaths) == 0 {
		cfg.StorePaths = []string{cfg.BasePath}
	}
	if cfg.BindAddr == "" {
		cfg.BindAddr = ":23000"
	}

	st, err := store.New(cfg.GroupName, cfg.StorePaths)
	if err != nil {
		log.Fatal(err)
	}
	w, err := binlog.OpenWriter(filepath.Join(cfg.BasePath, "data", "sync"), 0)
	if err != nil {
		log.Fatal(err)
	}
	p := pool.New(cfg.ConnectTimeout, cfg.MaxConnections, cfg.MaxIdleTime)
	p.OnClose = func(c *pool.Conn) { proto.Quit(c, cfg.NetworkTimeout) }
	p.Ping = func(c *pool.Conn) error { return proto.ActiveTest(c, cfg.NetworkTimeout) }
	p.PingAfter = cfg.MaxIdleTime / 2

	peers := make([]storaged.Peer, len(cfg.SyncPeers))
	for i, peer := range cfg.SyncPeers {
		peers[i] = storaged.Peer{ID: peer.ID, Addr: peer.Addr}
	}
	srv, err := storaged.New(storaged.Options{
		Addr:           cfg.BindAddr,
		Store:          st,
		Binlog:         w,
		Client:         storage.New(p, cfg.NetworkTimeout),
		Peers:          peers,
		MaxConnections: cfg.MaxConnections,
		NetworkTimeout: cfg.NetworkTimeout,
		SyncRetryDelay: cfg.SyncInterval,
	})
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go p.Run(ctx, cfg.MaxIdleTime/4+1)

	err = srv.Serve(ctx)
	p.Close()
	w.Close()
	if err != nil {
		log.Fatal(err)
	}
	log.Info.Printf("fdfsstoraged: shut down")
}
