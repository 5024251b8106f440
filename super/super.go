// Package super describes the layout of a volume. The descriptor lives in
// block 1 and is immutable once the volume is mounted:
//
//	[ boot | super | log | inode table | bitmap | data ]
package super

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/tchajed/marshal"

	"github.com/northos/northfs/addr"
	"github.com/northos/northfs/common"
	"github.com/northos/northfs/disk"
)

const (
	SUPERBLOCK = common.Bnum(1)
	LOGSTART   = common.Bnum(2)

	checkedBytes = 28 // the seven layout fields
	uuidOff      = 32
)

var ErrBadSuperblock = errors.New("bad superblock")

type FsSuper struct {
	Size       uint32 // blocks on the volume
	Nblocks    uint32 // data blocks
	Ninodes    uint32
	Nlog       uint32 // log blocks, headers included
	LogStart   uint32
	InodeStart uint32
	BmapStart  uint32
	Checksum   uint32
	UUID       uuid.UUID
}

// MkFsSuper lays out a volume of size blocks holding ninodes inodes.
func MkFsSuper(size uint64, ninodes uint64, id uuid.UUID) (*FsSuper, error) {
	nlog := common.LOGSIZE + 2
	ninodeblocks := ninodes/common.IPB + 1
	nbitmap := size/common.NBITBLOCK + 1
	nmeta := 2 + nlog + ninodeblocks + nbitmap
	if size > uint64(^uint32(0)) || ninodes > uint64(^uint32(0)) {
		return nil, fmt.Errorf("volume of %d blocks and %d inodes: too large", size, ninodes)
	}
	if ninodes > common.MAXINODES {
		return nil, fmt.Errorf("%d inodes: at most %d fit in directory entries", ninodes, common.MAXINODES)
	}
	if ninodes < uint64(common.ROOTINUM)+1 {
		return nil, fmt.Errorf("need room for the root inode, got %d inodes", ninodes)
	}
	if nmeta >= size {
		return nil, fmt.Errorf("volume of %d blocks has no room for data (%d metadata blocks)", size, nmeta)
	}
	fs := &FsSuper{
		Size:       uint32(size),
		Nblocks:    uint32(size - nmeta),
		Ninodes:    uint32(ninodes),
		Nlog:       uint32(nlog),
		LogStart:   uint32(LOGSTART),
		InodeStart: uint32(LOGSTART + nlog),
		BmapStart:  uint32(LOGSTART + nlog + ninodeblocks),
		UUID:       id,
	}
	fs.Checksum = fs.computeChecksum()
	return fs, nil
}

// fletcher32 sums data as little-endian 16-bit words.
func fletcher32(data []byte) uint32 {
	var sum1, sum2 uint32
	for i := 0; i+1 < len(data); i += 2 {
		w := uint32(data[i]) | uint32(data[i+1])<<8
		sum1 = (sum1 + w) % 0xFFFF
		sum2 = (sum2 + sum1) % 0xFFFF
	}
	return sum2<<16 | sum1
}

func (fs *FsSuper) fields() []uint32 {
	return []uint32{fs.Size, fs.Nblocks, fs.Ninodes, fs.Nlog,
		fs.LogStart, fs.InodeStart, fs.BmapStart}
}

func (fs *FsSuper) computeChecksum() uint32 {
	enc := marshal.NewEnc(checkedBytes)
	for _, f := range fs.fields() {
		enc.PutInt32(f)
	}
	data := append(enc.Finish(), fs.UUID[:]...)
	return fletcher32(data)
}

func (fs *FsSuper) Encode() disk.Block {
	enc := marshal.NewEnc(disk.BlockSize)
	for _, f := range fs.fields() {
		enc.PutInt32(f)
	}
	enc.PutInt32(fs.Checksum)
	blk := enc.Finish()
	copy(blk[uuidOff:uuidOff+16], fs.UUID[:])
	return blk
}

func Decode(blk disk.Block) *FsSuper {
	dec := marshal.NewDec(blk)
	fs := &FsSuper{}
	fs.Size = dec.GetInt32()
	fs.Nblocks = dec.GetInt32()
	fs.Ninodes = dec.GetInt32()
	fs.Nlog = dec.GetInt32()
	fs.LogStart = dec.GetInt32()
	fs.InodeStart = dec.GetInt32()
	fs.BmapStart = dec.GetInt32()
	fs.Checksum = dec.GetInt32()
	copy(fs.UUID[:], blk[uuidOff:uuidOff+16])
	return fs
}

// Verify checks the checksum and that the layout fits the device.
func (fs *FsSuper) Verify(devBlocks uint64) error {
	if fs.Checksum != fs.computeChecksum() {
		return fmt.Errorf("%w: checksum mismatch", ErrBadSuperblock)
	}
	if uint64(fs.Size) > devBlocks {
		return fmt.Errorf("%w: volume of %d blocks on a %d block device",
			ErrBadSuperblock, fs.Size, devBlocks)
	}
	if uint64(fs.Nlog) != common.LOGSIZE+2 || uint64(fs.LogStart) != LOGSTART {
		return fmt.Errorf("%w: unsupported log geometry", ErrBadSuperblock)
	}
	if uint64(fs.Ninodes) > common.MAXINODES {
		return fmt.Errorf("%w: %d inodes", ErrBadSuperblock, fs.Ninodes)
	}
	if fs.NMeta()+uint64(fs.Nblocks) != uint64(fs.Size) {
		return fmt.Errorf("%w: inconsistent layout", ErrBadSuperblock)
	}
	return nil
}

// Read loads and verifies the descriptor of the volume on d.
func Read(d disk.Disk) (*FsSuper, error) {
	sz, err := d.Size()
	if err != nil {
		return nil, err
	}
	if sz <= uint64(SUPERBLOCK) {
		return nil, fmt.Errorf("%w: device has %d blocks", ErrBadSuperblock, sz)
	}
	blk, err := d.Read(SUPERBLOCK)
	if err != nil {
		return nil, fmt.Errorf("reading superblock: %w", err)
	}
	fs := Decode(blk)
	if err := fs.Verify(sz); err != nil {
		return nil, err
	}
	return fs, nil
}

func (fs *FsSuper) Write(d disk.Disk) error {
	return d.Write(SUPERBLOCK, fs.Encode())
}

func (fs *FsSuper) NInodeBlocks() uint64 {
	return uint64(fs.Ninodes)/common.IPB + 1
}

func (fs *FsSuper) NBitmap() uint64 {
	return uint64(fs.Size)/common.NBITBLOCK + 1
}

// NMeta is the number of blocks before the data region.
func (fs *FsSuper) NMeta() uint64 {
	return uint64(fs.BmapStart) + fs.NBitmap()
}

func (fs *FsSuper) DataStart() common.Bnum {
	return fs.NMeta()
}

// IBlock is the inode-table block holding inode inum.
func (fs *FsSuper) IBlock(inum common.Inum) common.Bnum {
	return uint64(fs.InodeStart) + uint64(inum)/common.IPB
}

func (fs *FsSuper) Inum2Addr(inum common.Inum) addr.Addr {
	return addr.MkAddr(fs.IBlock(inum), (uint64(inum)%common.IPB)*common.INODESZ*8)
}

// BBlock is the bitmap block holding the bit for block b.
func (fs *FsSuper) BBlock(b common.Bnum) common.Bnum {
	return uint64(fs.BmapStart) + b/common.NBITBLOCK
}

func (fs *FsSuper) BitAddr(b common.Bnum) addr.Addr {
	return addr.MkBitAddr(uint64(fs.BmapStart), b)
}

func (fs *FsSuper) String() string {
	return fmt.Sprintf("size %d nblocks %d ninodes %d nlog %d logstart %d inodestart %d bmapstart %d uuid %s",
		fs.Size, fs.Nblocks, fs.Ninodes, fs.Nlog, fs.LogStart, fs.InodeStart, fs.BmapStart, fs.UUID)
}
