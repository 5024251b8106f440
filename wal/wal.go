package wal

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/northos/northfs/common"
	"github.com/northos/northfs/disk"
	"github.com/northos/northfs/util"
)

// Walog is the write-ahead log of one volume. Callers append groups of
// block updates with MemAppend and wait for them with Flush; a logger
// goroutine copies frozen updates into the on-disk log and an installer
// goroutine writes logged updates to their home blocks.
type Walog struct {
	d    disk.Disk
	circ *circularAppender

	mu      *sync.Mutex
	mem     *window
	diskEnd LogPosition // updates before diskEnd are in the on-disk log

	logCond     *sync.Cond // the logger has work, or made progress
	installCond *sync.Cond // the installer has work, or freed log space
	stopCond    *sync.Cond

	shutdown bool
	nthread  uint64
}

func mkLog(d disk.Disk, logStart common.Bnum) *Walog {
	if LOGSZ > HDRADDRS {
		panic("wal: log header cannot address every slot")
	}
	circ, installed, end, pending := recoverCircular(d, logStart)
	l := &Walog{
		d:       d,
		circ:    circ,
		mu:      new(sync.Mutex),
		mem:     newWindow(pending, installed),
		diskEnd: end,
	}
	l.logCond = sync.NewCond(l.mu)
	l.installCond = sync.NewCond(l.mu)
	l.stopCond = sync.NewCond(l.mu)
	util.Log.WithFields(logrus.Fields{
		"event":     "recover",
		"logstart":  logStart,
		"installed": installed,
		"end":       end,
		"replay":    len(pending),
	}).Debug("wal recovered")
	return l
}

func (l *Walog) startBackgroundThreads() {
	go l.logger()
	go l.installer()
}

// MkLog recovers the log that starts at block logStart of d (or initializes
// it from all-zero headers) and starts the logger and installer.
func MkLog(d disk.Disk, logStart common.Bnum) *Walog {
	l := mkLog(d, logStart)
	l.startBackgroundThreads()
	return l
}

func (l *Walog) LogSz() uint64 {
	return LOGSZ
}

// Start returns the first block of the on-disk log region.
func (l *Walog) Start() common.Bnum {
	return l.circ.start
}

// ReadMem returns a copy of the newest version of blkno that is still in
// the log, whether or not it is durable yet.
func (l *Walog) ReadMem(blkno common.Bnum) (disk.Block, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	u, ok := l.mem.find(blkno)
	if !ok {
		return nil, false
	}
	util.DPrintf(5, "wal: read %d from memory\n", blkno)
	return util.CloneByteSlice(u.Block), true
}

// ReadInstalled reads blkno from its home location.
func (l *Walog) ReadInstalled(blkno common.Bnum) disk.Block {
	return mustRead(l.d, blkno)
}

// Read returns the newest version of blkno. A concurrent install may land
// between the two reads; the installed copy is then the same data.
func (l *Walog) Read(blkno common.Bnum) disk.Block {
	if blk, ok := l.ReadMem(blkno); ok {
		return blk
	}
	return l.ReadInstalled(blkno)
}

// fits reports whether n more updates can be held without overrunning
// the on-disk log.
func (l *Walog) fits(n uint64) bool {
	return uint64(l.mem.end()-l.diskEnd)+n <= LOGSZ
}

// MemAppend adds ups to the log as one atomic group and returns the
// position to Flush for it to be durable. When the log is full it hands
// everything so far to the logger and waits for room.
//
// It fails, without side effects, only for a group that could never fit
// or if log positions would overflow.
func (l *Walog) MemAppend(ups []Update) (LogPosition, bool) {
	n := uint64(len(ups))
	if n > LOGSZ {
		return 0, false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for !l.fits(n) {
		if util.SumOverflows(uint64(l.mem.end()), n) {
			return 0, false
		}
		util.DPrintf(5, "MemAppend: log full at %d\n", l.mem.end())
		l.mem.freeze()
		l.logCond.Broadcast()
		l.logCond.Wait()
	}
	if util.SumOverflows(uint64(l.mem.end()), n) {
		return 0, false
	}
	l.mem.write(ups)
	return l.mem.end(), true
}

// Flush waits until everything before pos is in the on-disk log. Any
// position returned by MemAppend is a group boundary, so Flush may freeze
// the whole window.
func (l *Walog) Flush(pos LogPosition) {
	util.DPrintf(1, "Flush: up to %d\n", pos)
	l.mu.Lock()
	defer l.mu.Unlock()
	if pos > l.mem.frozen {
		l.mem.freeze()
	}
	l.logCond.Broadcast()
	for pos > l.diskEnd {
		l.logCond.Wait()
	}
}

// Shutdown stops the logger and installer. Frozen updates that were not
// yet logged are lost, as after a crash.
func (l *Walog) Shutdown() {
	util.DPrintf(1, "shutdown wal\n")
	l.mu.Lock()
	l.shutdown = true
	l.logCond.Broadcast()
	l.installCond.Broadcast()
	for l.nthread > 0 {
		util.DPrintf(1, "wait for logger/installer\n")
		l.stopCond.Wait()
	}
	l.mu.Unlock()
	util.DPrintf(1, "wal done\n")
}
