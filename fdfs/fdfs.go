// Copyright 2026 The FDFS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fdfs defines the core types and protocol constants shared by all
// FDFS software: the wire command set, field sizes, file identifiers and the
// records exchanged with tracker and storage servers.
package fdfs

import (
	"fmt"
	"strings"
	"time"
)

// Well-known ports.
const (
	TrackerDefaultPort = 22122
	StorageDefaultPort = 23000
)

// Fixed field sizes of the wire protocol. All multi-byte integers on the
// wire are big-endian int64 unless noted otherwise.
const (
	HeaderSize        = 10 // 8-byte body length + command byte + status byte
	PkgLenSize        = 8
	GroupNameMaxLen   = 16
	IPAddrSize        = 16 // fixed-width address field, trailing NULs
	FileExtNameMaxLen = 6
	FilePrefixMaxLen  = 16
	MetaNameMaxLen    = 64
	MetaValueMaxLen   = 256
	StorageIDMaxSize  = 16
	VersionSize       = 6
	DomainNameMaxSize = 128
)

// AppenderSizeBit is set in the size field of a file info response when
// the file is an appender file.
const AppenderSizeBit = int64(1) << 62

// Metadata separators. A packed metadata body is a sequence of
// name FieldSeparator value RecordSeparator records with the final
// record separator trimmed.
const (
	RecordSeparator = '\x01'
	FieldSeparator  = '\x02'
)

// Commands understood by both server roles.
const (
	CmdResp       = 100
	CmdQuit       = 82
	CmdActiveTest = 111
)

// Tracker service commands.
const (
	CmdQueryStoreWithoutGroup = 101
	CmdQueryFetchOne          = 102
	CmdQueryUpdate            = 103
	CmdQueryStoreWithGroup    = 104
	CmdListOneGroup           = 90
	CmdListAllGroups          = 91
	CmdListStorages           = 92
	CmdTrackerGetStatus       = 64
)

// Storage service commands.
const (
	CmdUploadFile         = 11
	CmdDeleteFile         = 12
	CmdSetMetadata        = 13
	CmdDownloadFile       = 14
	CmdGetMetadata        = 15
	CmdQueryFileInfo      = 22
	CmdUploadAppenderFile = 23
	CmdAppendFile         = 24
	CmdModifyFile         = 34
	CmdTruncateFile       = 36

	// Replica propagation commands, issued only between storage servers.
	CmdSyncCreateFile   = 16
	CmdSyncDeleteFile   = 17
	CmdSyncUpdateFile   = 18
	CmdSyncCreateLink   = 19
	CmdSyncAppendFile   = 25
	CmdSyncModifyFile   = 35
	CmdSyncTruncateFile = 37
)

// Storage server status codes reported by the tracker.
const (
	StorageStatusInit      = 0
	StorageStatusWaitSync  = 1
	StorageStatusSyncing   = 2
	StorageStatusIPChanged = 3
	StorageStatusDeleted   = 4
	StorageStatusOffline   = 5
	StorageStatusOnline    = 6
	StorageStatusActive    = 7
	StorageStatusRecovery  = 9
	StorageStatusNone      = 99
)

// MetaFlag selects how SetMetadata treats existing metadata on the server.
type MetaFlag byte

const (
	// MetaOverwrite replaces the whole metadata set.
	MetaOverwrite MetaFlag = 'O'
	// MetaMerge unions the new pairs into the existing set; existing keys
	// are overwritten, untouched keys are preserved.
	MetaMerge MetaFlag = 'M'
)

// Metadata is a file's metadata, unique by name. Names and values longer
// than MetaNameMaxLen/MetaValueMaxLen are truncated when packed for the
// wire; the truncation is lossy and silent.
type Metadata map[string]string

// Endpoint identifies a tracker or storage server by address.
type Endpoint struct {
	IPAddr string
	Port   int
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d", e.IPAddr, e.Port)
}

// FileID is the opaque identifier of a stored file, as handed to external
// callers: "<group_name>/<remote_filename>". Callers must treat it as
// atomic; only the engine itself splits it for routing.
type FileID string

// Split separates a FileID into group name and remote filename.
// ok is false when the id does not contain both parts.
func (id FileID) Split() (group, remote string, ok bool) {
	s := string(id)
	i := strings.IndexByte(s, '/')
	if i <= 0 || i >= len(s)-1 || i > GroupNameMaxLen {
		return "", "", false
	}
	return s[:i], s[i+1:], true
}

// JoinFileID builds a FileID from its two parts.
func JoinFileID(group, remote string) FileID {
	return FileID(group + "/" + remote)
}

// StorageServer is a storage endpoint returned by a tracker query,
// together with the write path the tracker selected for uploads.
type StorageServer struct {
	Endpoint
	Group          string
	StorePathIndex byte
}

// FileInfo describes a stored file. Size and CRC32 reflect current server
// state; CreateTime and SourceIPAddr are fixed at upload time.
type FileInfo struct {
	Size         int64
	CreateTime   time.Time
	CRC32        uint32
	SourceIPAddr string
	Appender     bool
}

// GroupStat is one record of a ListGroups response.
type GroupStat struct {
	Name               string
	TotalMB            int64
	FreeMB             int64
	TrunkFreeMB        int64
	ServerCount        int
	StoragePort        int
	StorageHTTPPort    int
	ActiveCount        int
	CurrentWriteServer int
	StorePathCount     int
	SubdirCountPerPath int
	CurrentTrunkFileID int
}

// StorageStat is one record of a ListServers response. The full wire record
// also carries per-operation counters; only the fields the engine consumes
// are surfaced here.
type StorageStat struct {
	Status              byte
	ID                  string
	IPAddr              string
	DomainName          string
	SrcID               string
	Version             string
	JoinTime            time.Time
	UpTime              time.Time
	TotalMB             int64
	FreeMB              int64
	UploadPriority      int
	StorePathCount      int
	SubdirCountPerPath  int
	CurrentWritePath    int
	StoragePort         int
	StorageHTTPPort     int
	LastSourceUpdate    time.Time
	LastSyncUpdate      time.Time
	LastSyncedTimestamp time.Time
	TrunkServer         bool
}

// TrackerStatus is the fixed-size response of CmdTrackerGetStatus.
type TrackerStatus struct {
	Leader          bool
	RunningTime     time.Duration
	RestartInterval time.Duration
}
