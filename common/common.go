package common

import (
	"github.com/northos/northfs/disk"
)

const (
	NBITBLOCK uint64 = disk.BlockSize * 8 // bitmap bits per block
	INODESZ   uint64 = 128                // on-disk size
	IPB       uint64 = disk.BlockSize / INODESZ

	NDIRECT    uint64 = 10
	NINDIRECT  uint64 = disk.BlockSize / 4 // 32-bit block numbers
	NDINDIRECT uint64 = NINDIRECT * NINDIRECT
	MAXFILE    uint64 = NDIRECT + NINDIRECT + NDINDIRECT
	NADDRS     uint64 = NDIRECT + 2 // direct slots, indirect, double indirect

	DIRSIZ   uint64 = 14
	DIRENTSZ uint64 = 16

	NINODE  uint64 = 100 // active in-memory inodes
	NDEV    uint64 = 10  // device switch entries
	NINODES uint64 = 200 // inodes created by mkfs

	MAXINODES uint64 = 1 << 16 // inode numbers must fit a directory entry

	MAXOPBLOCKS uint64 = 16 // max # of blocks any operation writes
	LOGSIZE     uint64 = MAXOPBLOCKS * 3
)

type Inum uint64
type Bnum = uint64

const (
	NULLINUM Inum = 0
	ROOTINUM Inum = 1
	NULLBNUM Bnum = 0

	ROOTDEV uint32 = 1
)

// Inode types as stored in the on-disk record.
const (
	T_FREE int16 = 0
	T_DIR  int16 = 1
	T_FILE int16 = 2
	T_DEV  int16 = 3
)
