// Copyright 2026 The FDFS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package binlog

import (
	"context"
	"time"

	"fdfs.io/errors"
	"fdfs.io/fdfs"
	"fdfs.io/log"
	"fdfs.io/storage"
	"fdfs.io/store"
)

const maxRetryDelay = 30 * time.Second

// Syncer replays this server's binlog to one replica peer. Each peer
// gets its own Syncer and goroutine; the mark file keyed by the peer's
// storage id makes the replay resumable.
//
// A peer with no mark file starts in catch-up: every record up to the
// moment the syncer first ran is replayed with a dedup check against
// the destination, so files the peer somehow already holds are not
// pushed twice. Once the cursor passes that moment the syncer is in
// steady incremental replay.
//
// A record that fails to replay for a transient reason is retried with
// backoff and the cursor stays put; the cursor only ever advances past
// work the peer has acknowledged.
type Syncer struct {
	peer       fdfs.Endpoint
	peerID     string
	group      string
	store      *store.Store
	client     *storage.Client
	reader     *Reader
	retryDelay time.Duration
}

// NewSyncer builds the syncer for one peer, resuming from its mark.
func NewSyncer(w *Writer, peerID string, peer fdfs.Endpoint, st *store.Store, sc *storage.Client, retryDelay time.Duration) (*Syncer, error) {
	const op = "binlog.NewSyncer"
	r, err := NewReader(w, peerID)
	if err != nil {
		return nil, errors.E(op, err)
	}
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	return &Syncer{
		peer:       peer,
		peerID:     peerID,
		group:      st.Group(),
		store:      st,
		client:     sc,
		reader:     r,
		retryDelay: retryDelay,
	}, nil
}

// Run replays records until ctx is done. It returns nil on cancellation
// and an error only when the binlog itself is unreadable.
func (s *Syncer) Run(ctx context.Context) error {
	const op = "binlog.Syncer.Run"
	defer s.reader.Close()

	if m := s.reader.Mark(); m.NeedSyncOld && !m.SyncOldDone && m.UntilTimestamp == 0 {
		s.reader.UpdateMark(func(m *Mark) { m.UntilTimestamp = time.Now().Unix() })
		log.Info.Printf("binlog: peer %s at %s starts catch-up through %d", s.peerID, s.peer, s.reader.Mark().UntilTimestamp)
	}

	for {
		rec, err := s.reader.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(errors.Syntax, err) {
				// A corrupt line cannot be retried into health.
				log.Error.Printf("binlog: peer %s: skipping unreadable record: %v", s.peerID, err)
				s.reader.Skip()
				continue
			}
			return errors.E(op, err)
		}
		if m := s.reader.Mark(); !m.SyncOldDone && rec.Time.Unix() > m.UntilTimestamp {
			s.reader.UpdateMark(func(m *Mark) { m.SyncOldDone = true })
			log.Info.Printf("binlog: peer %s caught up; incremental replay from here", s.peerID)
		}
		if rec.Replica {
			s.reader.Skip()
			continue
		}
		synced, err := s.replayWithRetry(ctx, rec)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.E(op, err)
		}
		if synced {
			s.reader.Commit()
		} else {
			s.reader.Skip()
		}
		if err := s.reader.Flush(); err != nil {
			return errors.E(op, err)
		}
	}
}

// replayWithRetry drives one record until it is replayed or ctx ends.
// Every failure backs off and retries; the cursor must never pass a
// record the peer has not acknowledged, so there is no give-up path. A
// record that needs no work on the peer is reported by replay itself,
// not inferred from an error.
func (s *Syncer) replayWithRetry(ctx context.Context, rec Record) (synced bool, err error) {
	delay := s.retryDelay
	for {
		synced, err := s.replay(rec)
		if err == nil {
			return synced, nil
		}
		log.Error.Printf("binlog: peer %s: %c %s: %v; retrying in %s", s.peerID, rec.opChar(), rec.Filename, err, delay)
		select {
		case <-ctx.Done():
			return false, errors.E(errors.Transient, ctx.Err())
		case <-time.After(delay):
		}
		if delay *= 2; delay > maxRetryDelay {
			delay = maxRetryDelay
		}
	}
}

// replay applies one record to the peer. It reports synced=false when
// the record needs no work there: the local file is gone, or the peer
// already holds the result.
func (s *Syncer) replay(rec Record) (synced bool, err error) {
	ts := rec.Time
	switch rec.Kind {
	case Create:
		data, err := s.store.ReadAll(rec.Filename)
		if errors.Is(errors.NotExist, err) {
			return false, nil // deleted since; a D record follows
		}
		if err != nil {
			return false, err
		}
		if !s.reader.Mark().SyncOldDone {
			return s.pushDedup(rec.Filename, data, ts)
		}
		err = s.client.SyncCreate(s.peer, s.group, rec.Filename, data, ts)
		if errors.Is(errors.Exist, err) {
			return s.pushDedup(rec.Filename, data, ts)
		}
		return err == nil, err

	case Update:
		data, err := s.store.ReadAll(rec.Filename)
		if errors.Is(errors.NotExist, err) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		err = s.client.SyncUpdate(s.peer, s.group, rec.Filename, data, ts)
		if errors.Is(errors.NotExist, err) {
			err = s.client.SyncCreate(s.peer, s.group, rec.Filename, data, ts)
		}
		return err == nil, err

	case Append:
		localSize, err := s.store.Size(rec.Filename)
		if errors.Is(errors.NotExist, err) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		destSize, ok, err := s.destSize(rec.Filename)
		if err != nil {
			return false, err
		}
		if !ok {
			return s.pushWhole(rec.Filename, ts)
		}
		if destSize >= localSize {
			return false, nil // a later record already carried these bytes
		}
		data, err := s.store.Read(rec.Filename, destSize, localSize-destSize)
		if err != nil {
			return false, err
		}
		err = s.client.SyncAppend(s.peer, s.group, rec.Filename, destSize, data, ts)
		return err == nil, err

	case Modify:
		localSize, err := s.store.Size(rec.Filename)
		if errors.Is(errors.NotExist, err) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		destSize, ok, err := s.destSize(rec.Filename)
		if err != nil {
			return false, err
		}
		if !ok {
			return s.pushWhole(rec.Filename, ts)
		}
		data, err := s.store.ReadAll(rec.Filename)
		if err != nil {
			return false, err
		}
		// Same length on both sides: rewrite in place. Otherwise the
		// peer is behind on other mutations too; push the whole file.
		if destSize == localSize {
			err = s.client.SyncModify(s.peer, s.group, rec.Filename, 0, data, ts)
		} else {
			err = s.client.SyncUpdate(s.peer, s.group, rec.Filename, data, ts)
		}
		return err == nil, err

	case Truncate:
		localSize, err := s.store.Size(rec.Filename)
		if errors.Is(errors.NotExist, err) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		destSize, ok, err := s.destSize(rec.Filename)
		if err != nil {
			return false, err
		}
		if !ok {
			return s.pushWhole(rec.Filename, ts)
		}
		if destSize == localSize {
			return false, nil
		}
		err = s.client.SyncTruncate(s.peer, s.group, rec.Filename, destSize, localSize, ts)
		return err == nil, err

	case Delete:
		err := s.client.SyncDelete(s.peer, s.group, rec.Filename, ts)
		if errors.Is(errors.NotExist, err) {
			return false, nil
		}
		return err == nil, err

	case Link:
		err := s.client.SyncLink(s.peer, s.group, rec.Filename, rec.SrcFilename, ts)
		if errors.Is(errors.Exist, err) {
			return false, nil
		}
		if errors.Is(errors.NotExist, err) {
			// The source never reached the peer; its own records
			// will, and until then the link serves nothing anyway.
			log.Debug.Printf("binlog: peer %s: link %s -> %s deferred, source missing", s.peerID, rec.Filename, rec.SrcFilename)
			return false, nil
		}
		return err == nil, err
	}
	return false, errors.E(errors.Invalid, errors.Errorf("unknown record kind %v", rec.Kind))
}

// destSize asks the peer for the file's current size. ok is false when
// the peer does not have the file.
func (s *Syncer) destSize(filename string) (size int64, ok bool, err error) {
	info, err := s.client.QueryFileInfo(s.peer, fdfs.JoinFileID(s.group, filename))
	if errors.Is(errors.NotExist, err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return info.Size, true, nil
}

// pushDedup sends a creation the peer may already have: identical size
// counts as already there, a different size is overwritten.
func (s *Syncer) pushDedup(filename string, data []byte, ts time.Time) (bool, error) {
	destSize, ok, err := s.destSize(filename)
	if err != nil {
		return false, err
	}
	if !ok {
		err = s.client.SyncCreate(s.peer, s.group, filename, data, ts)
		return err == nil, err
	}
	if destSize == int64(len(data)) {
		return false, nil
	}
	err = s.client.SyncUpdate(s.peer, s.group, filename, data, ts)
	return err == nil, err
}

// pushWhole sends the file's full current content as a creation,
// falling back to an overwrite if the peer grew a copy meanwhile.
func (s *Syncer) pushWhole(filename string, ts time.Time) (bool, error) {
	data, err := s.store.ReadAll(filename)
	if errors.Is(errors.NotExist, err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	err = s.client.SyncCreate(s.peer, s.group, filename, data, ts)
	if errors.Is(errors.Exist, err) {
		err = s.client.SyncUpdate(s.peer, s.group, filename, data, ts)
	}
	return err == nil, err
}
