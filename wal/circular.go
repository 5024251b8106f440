package wal

import (
	"github.com/tchajed/marshal"

	"github.com/northos/northfs/common"
	"github.com/northos/northfs/disk"
	"github.com/northos/northfs/util"
)

type LogPosition uint64

type Update struct {
	Addr  common.Bnum
	Block disk.Block
}

func MkBlockData(bn common.Bnum, blk disk.Block) Update {
	b := Update{Addr: bn, Block: blk}
	return b
}

type circularAppender struct {
	start     common.Bnum
	diskAddrs []uint64
}

func mustWrite(d disk.Disk, a common.Bnum, blk disk.Block) {
	if err := d.Write(a, blk); err != nil {
		util.Fatalf("wal: write block %d: %v", a, err)
	}
}

func mustRead(d disk.Disk, a common.Bnum) disk.Block {
	blk, err := d.Read(a)
	if err != nil {
		util.Fatalf("wal: read block %d: %v", a, err)
	}
	return blk
}

func mustBarrier(d disk.Disk) {
	if err := d.Barrier(); err != nil {
		util.Fatalf("wal: barrier: %v", err)
	}
}

// recoverCircular reads both headers of the log at start and returns the
// updates that were logged but not yet installed.
func recoverCircular(d disk.Disk, start common.Bnum) (*circularAppender, LogPosition, LogPosition, []Update) {
	hdr1 := mustRead(d, start+LOGHDR)
	dec1 := marshal.NewDec(hdr1)
	end := dec1.GetInt()
	addrs := dec1.GetInts(LOGSZ)
	hdr2 := mustRead(d, start+LOGHDR2)
	dec2 := marshal.NewDec(hdr2)
	installed := dec2.GetInt()
	var bufs []Update
	for pos := installed; pos < end; pos++ {
		addr := addrs[pos%LOGSZ]
		b := mustRead(d, start+LOGSTART+pos%LOGSZ)
		bufs = append(bufs, Update{Addr: addr, Block: b})
	}
	return &circularAppender{
		start:     start,
		diskAddrs: addrs,
	}, LogPosition(installed), LogPosition(end), bufs
}

func (c *circularAppender) hdr1(end LogPosition) disk.Block {
	enc := marshal.NewEnc(disk.BlockSize)
	enc.PutInt(uint64(end))
	enc.PutInts(c.diskAddrs)
	return enc.Finish()
}

func hdr2(start LogPosition) disk.Block {
	enc := marshal.NewEnc(disk.BlockSize)
	enc.PutInt(uint64(start))
	return enc.Finish()
}

func (c *circularAppender) logBlocks(d disk.Disk, end LogPosition, bufs []Update) {
	for i, buf := range bufs {
		pos := end + LogPosition(i)
		blk := buf.Block
		blkno := buf.Addr
		util.DPrintf(5,
			"logBlocks: %d to log block %d\n", blkno, pos)
		mustWrite(d, c.start+LOGSTART+uint64(pos)%LOGSZ, blk)
		c.diskAddrs[uint64(pos)%LOGSZ] = blkno
	}
}

func (c *circularAppender) Append(d disk.Disk, end LogPosition, bufs []Update) {
	c.logBlocks(d, end, bufs)
	mustBarrier(d)
	// atomic installation
	newEnd := end + LogPosition(len(bufs))
	b := c.hdr1(newEnd)
	mustWrite(d, c.start+LOGHDR, b)
	mustBarrier(d)
}

func (c *circularAppender) Advance(d disk.Disk, newStart LogPosition) {
	b := hdr2(newStart)
	mustWrite(d, c.start+LOGHDR2, b)
	mustBarrier(d)
}
