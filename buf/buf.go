// buf holds the in-memory copy of a disk block and the helpers that decode
// the objects packed inside it: bitmap bits, 32-bit block numbers and
// fixed-size records.
package buf

import (
	"github.com/tchajed/goose/machine"

	"github.com/northos/northfs/addr"
	"github.com/northos/northfs/common"
	"github.com/northos/northfs/disk"
	"github.com/northos/northfs/util"
)

// A Buf is the cached contents of one disk block
type Buf struct {
	Blkno common.Bnum
	Data  disk.Block
	dirty bool // has this block been written to?
}

func MkBuf(blkno common.Bnum, data disk.Block) *Buf {
	if uint64(len(data)) != disk.BlockSize {
		panic("buf: data is not block-sized")
	}
	b := &Buf{
		Blkno: blkno,
		Data:  data,
		dirty: false,
	}
	return b
}

// Install 1 bit from src into dst, at offset bit. return new dst.
func installOneBit(src byte, dst byte, bit uint64) byte {
	var new byte = dst
	if src&(1<<bit) != dst&(1<<bit) {
		if src&(1<<bit) == 0 {
			// dst is 1, but should be 0
			new = new & ^(1 << bit)
		} else {
			// dst is 0, but should be 1
			new = new | (1 << bit)
		}
	}
	return new
}

func (buf *Buf) checkAddr(a addr.Addr) {
	if a.Blkno != buf.Blkno {
		panic("buf: address in a different block")
	}
}

// GetBit reports the bitmap bit at a.
func (buf *Buf) GetBit(a addr.Addr) bool {
	buf.checkAddr(a)
	return buf.Data[a.Off/8]&(1<<(a.Off%8)) != 0
}

// PutBit sets or clears the bitmap bit at a.
func (buf *Buf) PutBit(a addr.Addr, v bool) {
	buf.checkAddr(a)
	var src byte
	if v {
		src = 1 << (a.Off % 8)
	}
	buf.Data[a.Off/8] = installOneBit(src, buf.Data[a.Off/8], a.Off%8)
	buf.SetDirty()
}

// Record returns the sz bytes of the object at a, aliasing Data.
func (buf *Buf) Record(a addr.Addr, sz uint64) []byte {
	buf.checkAddr(a)
	off := a.ByteOff()
	return buf.Data[off : off+sz]
}

// PutRecord installs data as the object at a.
func (buf *Buf) PutRecord(a addr.Addr, data []byte) {
	copy(buf.Record(a, uint64(len(data))), data)
	buf.SetDirty()
}

func (buf *Buf) IsDirty() bool {
	return buf.dirty
}

func (buf *Buf) SetDirty() {
	buf.dirty = true
}

func (buf *Buf) ClearDirty() {
	buf.dirty = false
}

// Zero clears the whole block.
func (buf *Buf) Zero() {
	for i := range buf.Data {
		buf.Data[i] = 0
	}
	buf.SetDirty()
}

// WriteDirect bypasses the log; only the formatter uses it, before any log
// exists.
func (buf *Buf) WriteDirect(d disk.Disk) error {
	util.DPrintf(5, "%v: write direct\n", buf.Blkno)
	buf.ClearDirty()
	return d.Write(uint64(buf.Blkno), buf.Data)
}

// BnumGet decodes the 32-bit block number at byte offset off.
func (buf *Buf) BnumGet(off uint64) common.Bnum {
	return common.Bnum(machine.UInt32Get(buf.Data[off : off+4]))
}

func (buf *Buf) BnumPut(off uint64, v common.Bnum) {
	machine.UInt32Put(buf.Data[off:off+4], uint32(v))
	buf.SetDirty()
}
