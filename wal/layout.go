// Package wal is the write-ahead log under the block cache. Positions are
// counted from the creation of the volume and only grow:
//
//	[ installed | logged          | frozen, not logged | open        ]
//	            ^ window.first    ^ diskEnd            ^ window.frozen ^ window.end()
//
// Logged updates are durable in the on-disk log but may not be at their
// home blocks yet. Frozen updates were handed to the logger by Flush, or
// by MemAppend when the log filled. Open updates belong to groups nobody
// has flushed; a later group that writes the same block absorbs them, so
// the log holds off writing them for as long as it can.
//
// On disk the log occupies LOGDISKBLOCKS consecutive blocks starting at
// the volume's log start: a header with the end position and the home
// address of every log slot, a second header with the installed start
// position, and LOGSZ slots.
package wal

import (
	"github.com/northos/northfs/common"
	"github.com/northos/northfs/disk"
)

const (
	HDRMETA       = uint64(8) // space for the end position
	HDRADDRS      = (disk.BlockSize - HDRMETA) / 8
	LOGSZ         = common.LOGSIZE
	LOGDISKBLOCKS = LOGSZ + 2 // 2 for log header
)

// offsets from the log start
const (
	LOGHDR   = common.Bnum(0)
	LOGHDR2  = common.Bnum(1)
	LOGSTART = common.Bnum(2)
)
