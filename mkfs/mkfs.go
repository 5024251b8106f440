// Package mkfs formats a volume. It writes the disk directly, before any
// log exists.
package mkfs

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/northos/northfs/buf"
	"github.com/northos/northfs/common"
	"github.com/northos/northfs/dir"
	"github.com/northos/northfs/disk"
	"github.com/northos/northfs/inode"
	"github.com/northos/northfs/super"
	"github.com/northos/northfs/util"
)

type Options struct {
	Blocks uint64 // volume size; 0 means the whole device
	Inodes uint64 // 0 means common.NINODES
}

func newBuf(bn common.Bnum) *buf.Buf {
	return buf.MkBuf(bn, make(disk.Block, disk.BlockSize))
}

// Format lays out an empty volume with a root directory on d.
func Format(d disk.Disk, opts Options) (*super.FsSuper, error) {
	devBlocks, err := d.Size()
	if err != nil {
		return nil, err
	}
	size := opts.Blocks
	if size == 0 {
		size = devBlocks
	}
	if size > devBlocks {
		return nil, fmt.Errorf("volume of %d blocks on a %d block device", size, devBlocks)
	}
	ninodes := opts.Inodes
	if ninodes == 0 {
		ninodes = common.NINODES
	}
	sb, err := super.MkFsSuper(size, ninodes, uuid.New())
	if err != nil {
		return nil, err
	}

	// clear the boot block, log headers, inode table and bitmap
	for bn := uint64(0); bn < sb.NMeta(); bn++ {
		if err := newBuf(bn).WriteDirect(d); err != nil {
			return nil, err
		}
	}
	if err := sb.Write(d); err != nil {
		return nil, err
	}

	rootBlk := sb.DataStart()
	root := inode.Dinode{
		Type:  common.T_DIR,
		Nlink: 1,
		Size:  uint32(2 * common.DIRENTSZ),
	}
	root.Addrs[0] = uint32(rootBlk)
	a := sb.Inum2Addr(common.ROOTINUM)
	ib := newBuf(a.Blkno)
	ib.PutRecord(a, root.Encode())
	if err := ib.WriteDirect(d); err != nil {
		return nil, err
	}

	db := newBuf(rootBlk)
	copy(db.Data[0:], dir.Dirent{Inum: common.ROOTINUM, Name: dir.MkName(".")}.Encode())
	copy(db.Data[common.DIRENTSZ:], dir.Dirent{Inum: common.ROOTINUM, Name: dir.MkName("..")}.Encode())
	if err := db.WriteDirect(d); err != nil {
		return nil, err
	}

	// everything up to and including the root's block is in use
	used := rootBlk + 1
	for i := uint64(0); i < sb.NBitmap(); i++ {
		bb := newBuf(uint64(sb.BmapStart) + i)
		for bn := i * common.NBITBLOCK; bn < used && bn < (i+1)*common.NBITBLOCK; bn++ {
			bb.PutBit(sb.BitAddr(bn), true)
		}
		if err := bb.WriteDirect(d); err != nil {
			return nil, err
		}
	}
	if err := d.Barrier(); err != nil {
		return nil, err
	}

	util.Log.WithFields(logrus.Fields{
		"event":  "format",
		"blocks": sb.Size,
		"inodes": sb.Ninodes,
		"nmeta":  sb.NMeta(),
		"volume": sb.UUID.String(),
	}).Info("formatted volume")
	return sb, nil
}
