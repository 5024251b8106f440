package wal

import (
	"github.com/northos/northfs/util"
)

// logAppend copies the frozen updates that are not yet durable into the
// on-disk log and reports whether it wrote any. It waits for the installer
// while the frozen updates would overrun the log, and gives up on shutdown.
//
// The caller holds mu; logAppend releases it during the disk writes.
func (l *Walog) logAppend() bool {
	for l.mem.frozenLen() > LOGSZ {
		if l.shutdown {
			return false
		}
		l.installCond.Wait()
	}

	from := l.diskEnd
	ups := l.mem.between(from, l.mem.frozen)
	if len(ups) == 0 {
		return false
	}

	l.mu.Unlock()
	l.circ.Append(l.d, from, ups)
	l.mu.Lock()

	l.diskEnd = from + LogPosition(len(ups))
	l.logCond.Broadcast()
	l.installCond.Broadcast()
	return true
}

// logger runs logAppend until shutdown, sleeping on logCond when there is
// nothing to write.
func (l *Walog) logger() {
	l.mu.Lock()
	l.nthread += 1
	for !l.shutdown {
		if !l.logAppend() {
			l.logCond.Wait()
		}
	}
	util.DPrintf(1, "logger: shutdown\n")
	l.nthread -= 1
	l.stopCond.Signal()
	l.mu.Unlock()
}
