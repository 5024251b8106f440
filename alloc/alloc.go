package alloc

import (
	"sync"

	"github.com/tchajed/goose/machine"

	"github.com/northos/northfs/addr"
	"github.com/northos/northfs/buf"
	"github.com/northos/northfs/common"
	"github.com/northos/northfs/jrnl"
	"github.com/northos/northfs/util"
)

const (
	wordBits      uint64 = 32
	wordsPerBlock uint64 = common.NBITBLOCK / wordBits
	fullWord      uint32 = 0xFFFFFFFF
)

// Alloc hands out data blocks using the on-disk bitmap. Bit b of the bitmap
// describes block b of the volume; metadata blocks are marked used when the
// volume is formatted.
type Alloc struct {
	lock      *sync.Mutex // protects next
	bmapStart common.Bnum
	nbitmap   uint64
	size      uint64      // blocks on the volume
	next      common.Bnum // most recently allocated block
}

func MkAlloc(bmapStart common.Bnum, nbitmap uint64, size uint64, hint common.Bnum) *Alloc {
	a := &Alloc{
		lock:      new(sync.Mutex),
		bmapStart: bmapStart,
		nbitmap:   nbitmap,
		size:      size,
		next:      hint,
	}
	return a
}

func (a *Alloc) hint() common.Bnum {
	a.lock.Lock()
	n := a.next
	a.lock.Unlock()
	if n >= a.size {
		n = 0
	}
	return n
}

func (a *Alloc) setHint(bn common.Bnum) {
	a.lock.Lock()
	a.next = bn
	a.lock.Unlock()
}

func getWord(b *buf.Buf, w uint64) uint32 {
	return machine.UInt32Get(b.Data[w*4 : w*4+4])
}

// findInBlock looks for a clear bit in bitmap block blk starting at word
// firstWord. It sets the bit and returns the block number it describes.
func (a *Alloc) findInBlock(b *buf.Buf, blk uint64, firstWord uint64) (common.Bnum, bool) {
	for w := firstWord; w < wordsPerBlock; w++ {
		base := blk*common.NBITBLOCK + w*wordBits
		if base >= a.size {
			break
		}
		word := getWord(b, w)
		if word == fullWord {
			continue
		}
		for bit := uint64(0); bit < wordBits; bit++ {
			bn := base + bit
			if bn >= a.size {
				break
			}
			if word&(1<<bit) == 0 {
				b.PutBit(addr.MkBitAddr(a.bmapStart, bn), true)
				return bn, true
			}
		}
	}
	return 0, false
}

// zero clears a newly allocated block through the log, so stale contents of
// a freed block never reappear in a file.
func zero(op *jrnl.Op, bn common.Bnum) {
	b := op.ReadBlock(bn)
	b.Zero()
	op.MarkDirty(b)
	op.Release(b)
}

// AllocBlock returns a zeroed free block, marked used in op. Running out of
// blocks is fatal.
func (a *Alloc) AllocBlock(op *jrnl.Op) common.Bnum {
	start := a.hint()
	startBlk := start / common.NBITBLOCK
	startWord := (start % common.NBITBLOCK) / wordBits
	// one extra step revisits the words of the first block before the hint
	for i := uint64(0); i <= a.nbitmap; i++ {
		blk := (startBlk + i) % a.nbitmap
		var firstWord uint64
		if i == 0 {
			firstWord = startWord
		}
		b := op.ReadBlock(a.bmapStart + blk)
		bn, ok := a.findInBlock(b, blk, firstWord)
		if ok {
			op.MarkDirty(b)
			op.Release(b)
			util.DPrintf(5, "balloc: %d\n", bn)
			zero(op, bn)
			a.setHint(bn)
			return bn
		}
		op.Release(b)
	}
	util.Fatalf("alloc: out of blocks")
	return 0
}

// FreeBlock marks bn free in op. Freeing a free block is fatal.
func (a *Alloc) FreeBlock(op *jrnl.Op, bn common.Bnum) {
	if bn >= a.size {
		util.Fatalf("bfree: block %d out of range", bn)
	}
	ba := addr.MkBitAddr(a.bmapStart, bn)
	b := op.ReadBlock(ba.Blkno)
	if !b.GetBit(ba) {
		op.Release(b)
		util.Fatalf("freeing free block")
	}
	b.PutBit(ba, false)
	op.MarkDirty(b)
	op.Release(b)
	util.DPrintf(5, "bfree: %d\n", bn)
}

func popCnt(b byte) uint64 {
	var count uint64
	var x = b
	for i := uint64(0); i < 8; i++ {
		count += uint64(x & 1)
		x = x >> 1
	}
	return count
}

// NumFree counts the clear bits of the bitmap that describe blocks on the
// volume.
func (a *Alloc) NumFree(op *jrnl.Op) uint64 {
	var used uint64
	for blk := uint64(0); blk < a.nbitmap; blk++ {
		b := op.ReadBlock(a.bmapStart + blk)
		for i, v := range b.Data {
			base := blk*common.NBITBLOCK + uint64(i)*8
			if base >= a.size {
				break
			}
			if base+8 > a.size {
				// mask out bits past the end of the volume
				v &= byte(1<<(a.size-base)) - 1
			}
			used += popCnt(v)
		}
		op.Release(b)
	}
	return a.size - used
}

// IsUsed reports the bitmap bit for bn.
func (a *Alloc) IsUsed(op *jrnl.Op, bn common.Bnum) bool {
	ba := addr.MkBitAddr(a.bmapStart, bn)
	b := op.ReadBlock(ba.Blkno)
	used := b.GetBit(ba)
	op.Release(b)
	return used
}

func (a *Alloc) Size() uint64 {
	return a.size
}
