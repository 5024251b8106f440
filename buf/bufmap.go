package buf

import (
	"github.com/northos/northfs/common"
)

//
// A map from block numbers to bufs that remembers insertion order, so a
// group's blocks are logged in the order they were first dirtied.
//

type BufMap struct {
	bufs  map[common.Bnum]*Buf
	order []common.Bnum
}

func MkBufMap() *BufMap {
	a := &BufMap{
		bufs: make(map[common.Bnum]*Buf),
	}
	return a
}

// Insert adds buf unless a buf for the same block is present; it reports
// whether buf was added.
func (bmap *BufMap) Insert(buf *Buf) bool {
	if _, ok := bmap.bufs[buf.Blkno]; ok {
		return false
	}
	bmap.bufs[buf.Blkno] = buf
	bmap.order = append(bmap.order, buf.Blkno)
	return true
}

func (bmap *BufMap) Lookup(bn common.Bnum) *Buf {
	return bmap.bufs[bn]
}

func (bmap *BufMap) Len() uint64 {
	return uint64(len(bmap.order))
}

func (bmap *BufMap) Ndirty() uint64 {
	n := uint64(0)
	for _, bn := range bmap.order {
		if bmap.bufs[bn].dirty {
			n += 1
		}
	}
	return n
}

func (bmap *BufMap) Bufs() []*Buf {
	bufs := make([]*Buf, 0, len(bmap.order))
	for _, bn := range bmap.order {
		bufs = append(bufs, bmap.bufs[bn])
	}
	return bufs
}

func (bmap *BufMap) DirtyBufs() []*Buf {
	var bufs []*Buf
	for _, b := range bmap.Bufs() {
		if b.dirty {
			bufs = append(bufs, b)
		}
	}
	return bufs
}
