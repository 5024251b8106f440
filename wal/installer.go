package wal

import (
	"sort"

	"github.com/northos/northfs/disk"
	"github.com/northos/northfs/util"
)

// batchBlockSplit keeps the latest update for every address and groups the
// survivors into runs of consecutive block numbers, in ascending order.
func batchBlockSplit(bufs []Update) [][]Update {
	latest := make(map[uint64]Update)
	for _, u := range bufs {
		latest[u.Addr] = u
	}
	addrs := make([]uint64, 0, len(latest))
	for a := range latest {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })

	var batches [][]Update
	var cur []Update
	for _, a := range addrs {
		if len(cur) > 0 && cur[len(cur)-1].Addr+1 != a {
			batches = append(batches, cur)
			cur = nil
		}
		cur = append(cur, latest[a])
	}
	if len(cur) > 0 {
		batches = append(batches, cur)
	}
	return batches
}

// installBlocks writes bufs to their home blocks, one run of consecutive
// blocks at a time. Only the installer writes home blocks, so mu is not
// needed.
func installBlocks(d disk.Disk, bufs []Update) {
	for _, batch := range batchBlockSplit(bufs) {
		util.DPrintf(5, "installBlocks: %d blocks at %d\n",
			len(batch), batch[0].Addr)
		for _, buf := range batch {
			mustWrite(d, buf.Addr, buf.Block)
		}
	}
}

// logInstall writes every logged update to its home block, then advances
// the on-disk start of the log past them and drops them from the window.
// It returns how many updates it installed and the new start.
//
// The caller holds mu; logInstall releases it during the disk writes.
func (l *Walog) logInstall() (uint64, LogPosition) {
	upTo := l.diskEnd
	ups := l.mem.between(l.mem.first, upTo)
	if len(ups) == 0 {
		return 0, upTo
	}

	l.mu.Unlock()
	util.DPrintf(5, "logInstall up to %d\n", upTo)
	installBlocks(l.d, ups)
	mustBarrier(l.d)
	l.circ.Advance(l.d, upTo)
	l.mu.Lock()

	l.mem.trim(upTo)
	l.installCond.Broadcast()
	return uint64(len(ups)), upTo
}

// installer runs logInstall until shutdown, sleeping on installCond when
// nothing is logged.
func (l *Walog) installer() {
	l.mu.Lock()
	l.nthread += 1
	for !l.shutdown {
		n, upTo := l.logInstall()
		if n == 0 {
			l.installCond.Wait()
			continue
		}
		util.DPrintf(5, "installed %d updates, log starts at %d\n", n, upTo)
	}
	util.DPrintf(1, "installer: shutdown\n")
	l.nthread -= 1
	l.stopCond.Signal()
	l.mu.Unlock()
}
