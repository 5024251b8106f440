package inode

import (
	"fmt"

	"github.com/northos/northfs/common"
	"github.com/northos/northfs/disk"
	"github.com/northos/northfs/jrnl"
	"github.com/northos/northfs/util"
)

// Read copies up to len(dst) bytes at off out of a locked inode. Reads are
// clamped to the file size.
func (ic *Icache) Read(op *jrnl.Op, ip *Inode, dst []byte, off uint64) (int, error) {
	if ip.Type == common.T_DEV {
		dev, ok := ic.device(ip.Major)
		if !ok {
			return 0, fmt.Errorf("read major %d: %w", ip.Major, ErrNoDevice)
		}
		return dev.Read(ip, dst, off)
	}

	size := uint64(ip.Size)
	if off >= size || len(dst) == 0 {
		return 0, nil
	}
	n := util.Min(uint64(len(dst)), size-off)

	var tot uint64
	for tot < n {
		bn := ic.bmap(op, ip, off/disk.BlockSize)
		b := op.ReadBlock(bn)
		boff := off % disk.BlockSize
		m := util.Min(n-tot, disk.BlockSize-boff)
		copy(dst[tot:tot+m], b.Data[boff:boff+m])
		op.Release(b)
		tot += m
		off += m
	}
	return int(tot), nil
}

// Write copies src into a locked inode at off, growing the file if the
// write ends past its size. A write may start at the end of the file but
// not beyond it.
func (ic *Icache) Write(op *jrnl.Op, ip *Inode, src []byte, off uint64) (int, error) {
	if ip.Type == common.T_DEV {
		dev, ok := ic.device(ip.Major)
		if !ok {
			return 0, fmt.Errorf("write major %d: %w", ip.Major, ErrNoDevice)
		}
		return dev.Write(ip, src, off)
	}

	n := uint64(len(src))
	if off > uint64(ip.Size) {
		return 0, fmt.Errorf("write at %d past size %d: %w", off, ip.Size, ErrOffset)
	}
	if util.SumOverflows(off, n) || off+n > common.MAXFILE*disk.BlockSize {
		return 0, fmt.Errorf("write of %d bytes at %d: %w", n, off, ErrTooLarge)
	}
	if n == 0 {
		return 0, nil
	}

	var tot uint64
	for tot < n {
		bn := ic.bmap(op, ip, off/disk.BlockSize)
		b := op.ReadBlock(bn)
		boff := off % disk.BlockSize
		m := util.Min(n-tot, disk.BlockSize-boff)
		copy(b.Data[boff:boff+m], src[tot:tot+m])
		op.MarkDirty(b)
		op.Release(b)
		tot += m
		off += m
	}

	if off > uint64(ip.Size) {
		ip.Size = uint32(off)
	}
	// bmap may have filled in ip.Addrs
	ic.Update(op, ip)
	return int(tot), nil
}
