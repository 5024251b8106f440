// Package obj groups the block writes of concurrent filesystem operations
// into atomic commits on the write-ahead log.
//
// An operation brackets its work with BeginOp and EndOp and reports each
// modified block with MarkDirty. BeginOp reserves MAXOPBLOCKS log slots, so
// the number of concurrent operations is bounded by the log size. When the
// last outstanding operation ends, the blocks dirtied by the whole group are
// appended to the log and flushed; the group is atomic across crashes. The
// upper layers are responsible for locking blocks (through the cache) while
// they modify them.
package obj

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/northos/northfs/bcache"
	"github.com/northos/northfs/buf"
	"github.com/northos/northfs/common"
	"github.com/northos/northfs/disk"
	"github.com/northos/northfs/util"
	"github.com/northos/northfs/wal"
)

// Log mediates access to cached blocks and their installation.
//
// There is only one Log object per mounted volume.
type Log struct {
	mu   *sync.Mutex
	cond *sync.Cond
	log  *wal.Walog
	bc   *bcache.Cache

	outstanding uint64 // operations between BeginOp and EndOp
	committing  bool
	group       *buf.BufMap // blocks dirtied by the current group
	pos         wal.LogPosition
	ncommit     uint64
}

// MkLog recovers the log that starts at logStart (or initializes it from an
// all-zero log region) and puts a cache of cacheBlocks blocks in front of it.
func MkLog(d disk.Disk, logStart common.Bnum, cacheBlocks uint64) *Log {
	mu := new(sync.Mutex)
	w := wal.MkLog(d, logStart)
	l := &Log{
		mu:    mu,
		cond:  sync.NewCond(mu),
		log:   w,
		bc:    bcache.MkCache(w, cacheBlocks),
		group: buf.MkBufMap(),
		pos:   wal.LogPosition(0),
	}
	return l
}

// Load returns the locked buffer for blkno.
func (l *Log) Load(blkno common.Bnum) *buf.Buf {
	return l.bc.Get(blkno)
}

// Release unlocks a buffer returned by Load.
func (l *Log) Release(b *buf.Buf) {
	l.bc.Release(b)
}

// reservationExceeded reports whether admitting one more operation could
// overflow the log.
//
// Assumes caller holds l.mu.
func (l *Log) reservationExceeded() bool {
	return l.group.Len()+(l.outstanding+1)*common.MAXOPBLOCKS > common.LOGSIZE
}

// BeginOp waits until the log can absorb another operation and admits it.
func (l *Log) BeginOp() {
	l.mu.Lock()
	for l.committing || l.reservationExceeded() {
		l.cond.Wait()
	}
	l.outstanding += 1
	l.mu.Unlock()
}

// MarkDirty records that b, locked by the caller, belongs to the current
// group. The buffer stays in the cache until the group commits.
func (l *Log) MarkDirty(b *buf.Buf) {
	l.mu.Lock()
	if l.outstanding < 1 {
		l.mu.Unlock()
		util.Fatalf("log_write outside of trans")
	}
	if l.group.Lookup(b.Blkno) == nil {
		if l.group.Len() >= common.LOGSIZE {
			l.mu.Unlock()
			util.Fatalf("too big a transaction")
		}
		l.group.Insert(b)
		l.bc.Pin(b.Blkno)
	}
	b.SetDirty()
	l.mu.Unlock()
}

// EndOp finishes an operation; the last operation of a group commits it
// before returning.
func (l *Log) EndOp() {
	l.mu.Lock()
	if l.outstanding < 1 {
		l.mu.Unlock()
		util.Fatalf("end_op: no outstanding operation")
	}
	if l.committing {
		l.mu.Unlock()
		util.Fatalf("end_op: log is committing")
	}
	l.outstanding -= 1
	doCommit := false
	if l.outstanding == 0 {
		doCommit = true
		l.committing = true
	} else {
		// a reservation was returned
		l.cond.Broadcast()
	}
	l.mu.Unlock()

	if doCommit {
		// no operation can touch the group while committing is set
		l.commit()
		l.mu.Lock()
		l.committing = false
		l.cond.Broadcast()
		l.mu.Unlock()
	}
}

// commit snapshots the group's blocks, appends them to the log as one
// transaction and waits for them to be durable.
func (l *Log) commit() {
	bufs := l.group.Bufs()
	if len(bufs) == 0 {
		util.DPrintf(5, "commit read-only group\n")
		return
	}
	blks := make([]wal.Update, 0, len(bufs))
	for _, b := range bufs {
		if !b.IsDirty() {
			util.Fatalf("commit: block %d in group is clean", b.Blkno)
		}
		blks = append(blks, wal.MkBlockData(b.Blkno, util.CloneByteSlice(b.Data)))
		b.ClearDirty()
	}
	pos, ok := l.log.MemAppend(blks)
	if !ok {
		util.Fatalf("commit: %d blocks do not fit in the log", len(blks))
	}
	l.log.Flush(pos)

	for _, b := range bufs {
		l.bc.Unpin(b.Blkno)
	}
	l.mu.Lock()
	l.group = buf.MkBufMap()
	l.pos = pos
	l.ncommit += 1
	l.mu.Unlock()

	util.Log.WithFields(logrus.Fields{
		"event":  "commit",
		"blocks": len(blks),
		"pos":    pos,
	}).Debug("group committed")
}

// Commits reports how many non-empty groups have committed.
func (l *Log) Commits() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ncommit
}

// LogSz returns the number of data slots in the write-ahead log
func (l *Log) LogSz() uint64 {
	return l.log.LogSz()
}

// Flush waits until every committed group is durable.
func (l *Log) Flush() {
	l.mu.Lock()
	pos := l.pos
	l.mu.Unlock()
	l.log.Flush(pos)
}

func (l *Log) Shutdown() {
	l.log.Shutdown()
}
