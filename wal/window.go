package wal

import (
	"github.com/northos/northfs/common"
	"github.com/northos/northfs/util"
)

// A window holds the updates that are not yet installed, indexed by log
// position starting at first. Updates before frozen belong to groups that
// were handed to the logger and never change; a later write to a block at
// or after frozen overwrites it in place.
type window struct {
	ups    []Update
	first  LogPosition
	frozen LogPosition
	latest map[common.Bnum]LogPosition // newest position of each block
}

// newWindow rebuilds the window from updates recovered from the on-disk
// log. All of them are frozen.
func newWindow(ups []Update, first LogPosition) *window {
	w := &window{
		first:  first,
		latest: make(map[common.Bnum]LogPosition),
	}
	for _, u := range ups {
		w.push(u)
	}
	w.freeze()
	return w
}

func (w *window) end() LogPosition {
	return w.first + LogPosition(len(w.ups))
}

func (w *window) push(u Update) {
	w.latest[u.Addr] = w.end()
	w.ups = append(w.ups, u)
}

// write adds ups at the end of the window, absorbing any that rewrite a
// block already written since the last freeze.
func (w *window) write(ups []Update) {
	for _, u := range ups {
		if pos, ok := w.latest[u.Addr]; ok && pos >= w.frozen {
			util.DPrintf(5, "wal: absorb %d at %d\n", u.Addr, pos)
			w.ups[pos-w.first] = u
			continue
		}
		w.push(u)
	}
}

// find returns the newest update to blkno still in the window.
func (w *window) find(blkno common.Bnum) (Update, bool) {
	pos, ok := w.latest[blkno]
	if !ok {
		return Update{}, false
	}
	return w.ups[pos-w.first], true
}

// freeze ends absorption for everything written so far.
func (w *window) freeze() {
	w.frozen = w.end()
}

// frozenLen counts the frozen updates, which all need a log slot.
func (w *window) frozenLen() uint64 {
	return uint64(w.frozen - w.first)
}

// between returns the updates at positions [from, to), which must be
// frozen. The result aliases the window.
func (w *window) between(from LogPosition, to LogPosition) []Update {
	if from < w.first || to > w.frozen || from > to {
		util.Fatalf("wal: range [%d, %d) outside frozen [%d, %d)", from, to, w.first, w.frozen)
	}
	return w.ups[from-w.first : to-w.first]
}

// trim forgets the installed updates before pos.
func (w *window) trim(pos LogPosition) {
	for i, u := range w.between(w.first, pos) {
		if at, ok := w.latest[u.Addr]; ok && at <= w.first+LogPosition(i) {
			delete(w.latest, u.Addr)
		}
	}
	w.ups = w.ups[pos-w.first:]
	w.first = pos
}
