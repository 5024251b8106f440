// Package fs is the file-level interface to a mounted volume: path-based
// operations on behalf of a process with a working directory, and open
// files with an offset.
package fs

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/northos/northfs/alloc"
	"github.com/northos/northfs/common"
	"github.com/northos/northfs/dir"
	"github.com/northos/northfs/disk"
	"github.com/northos/northfs/inode"
	"github.com/northos/northfs/jrnl"
	"github.com/northos/northfs/namei"
	"github.com/northos/northfs/obj"
	"github.com/northos/northfs/super"
	"github.com/northos/northfs/util"
)

var (
	ErrNotFound     = namei.ErrNotFound
	ErrNotDir       = namei.ErrNotDir
	ErrExists       = dir.ErrExists
	ErrTooLarge     = inode.ErrTooLarge
	ErrIsDir        = errors.New("is a directory")
	ErrNotEmpty     = errors.New("directory not empty")
	ErrInvalid      = errors.New("invalid argument")
	ErrBadFD        = errors.New("bad file descriptor")
	ErrTooManyLinks = errors.New("too many links")
	ErrNoRoot       = errors.New("volume has no root directory")
)

const DefaultCacheBlocks uint64 = 256

type Options struct {
	CacheInodes uint64 // 0 means common.NINODE
	CacheBlocks uint64 // 0 means DefaultCacheBlocks
}

type FileSystem struct {
	d     disk.Disk
	dev   uint32
	sb    *super.FsSuper
	log   *obj.Log
	alloc *alloc.Alloc
	ic    *inode.Icache
	res   *namei.Resolver
}

// Mount verifies the volume on d, recovers its log and readies the caches.
func Mount(d disk.Disk, opts Options) (*FileSystem, error) {
	sb, err := super.Read(d)
	if err != nil {
		return nil, fmt.Errorf("mount: %w", err)
	}
	if opts.CacheInodes == 0 {
		opts.CacheInodes = common.NINODE
	}
	if opts.CacheBlocks == 0 {
		opts.CacheBlocks = DefaultCacheBlocks
	}
	log := obj.MkLog(d, uint64(sb.LogStart), opts.CacheBlocks)
	a := alloc.MkAlloc(uint64(sb.BmapStart), sb.NBitmap(), uint64(sb.Size), sb.DataStart())
	ic := inode.MkIcache(sb, a, opts.CacheInodes)
	fsys := &FileSystem{
		d:     d,
		dev:   common.ROOTDEV,
		sb:    sb,
		log:   log,
		alloc: a,
		ic:    ic,
		res:   namei.MkResolver(ic, common.ROOTDEV),
	}

	op := fsys.Begin()
	rootType := fsys.diskType(op, common.ROOTINUM)
	op.Commit()
	if rootType != common.T_DIR {
		log.Shutdown()
		return nil, fmt.Errorf("mount: %w", ErrNoRoot)
	}

	util.Log.WithFields(logrus.Fields{
		"event":  "mount",
		"volume": sb.UUID.String(),
		"blocks": sb.Size,
		"inodes": sb.Ninodes,
	}).Info("mounted volume")
	return fsys, nil
}

func (fsys *FileSystem) diskType(op *jrnl.Op, inum common.Inum) int16 {
	a := fsys.sb.Inum2Addr(inum)
	b := op.ReadBlock(a.Blkno)
	typ := inode.DecodeDinode(b.Record(a, common.INODESZ)).Type
	op.Release(b)
	return typ
}

// Unmount stops the log after every committed operation is durable. The
// caller must have closed every Proc and File.
func (fsys *FileSystem) Unmount() error {
	fsys.log.Flush()
	fsys.log.Shutdown()
	util.Log.WithField("event", "unmount").Debug("unmounted volume")
	return fsys.d.Barrier()
}

// Begin starts a journal operation on the volume.
func (fsys *FileSystem) Begin() *jrnl.Op {
	return jrnl.Begin(fsys.log)
}

func (fsys *FileSystem) Super() *super.FsSuper     { return fsys.sb }
func (fsys *FileSystem) Icache() *inode.Icache     { return fsys.ic }
func (fsys *FileSystem) Alloc() *alloc.Alloc       { return fsys.alloc }
func (fsys *FileSystem) Resolver() *namei.Resolver { return fsys.res }
func (fsys *FileSystem) Log() *obj.Log             { return fsys.log }

// RegisterDevice routes I/O on device inodes with this major number to dev.
func (fsys *FileSystem) RegisterDevice(major int16, dev inode.Device) {
	fsys.ic.RegisterDevice(major, dev)
}

// FreeBlocks counts unallocated blocks.
func (fsys *FileSystem) FreeBlocks() uint64 {
	op := fsys.Begin()
	defer op.Commit()
	return fsys.alloc.NumFree(op)
}

// FreeInodes counts free on-disk inodes.
func (fsys *FileSystem) FreeInodes() uint64 {
	op := fsys.Begin()
	defer op.Commit()
	var n uint64
	for inum := uint64(common.ROOTINUM); inum < uint64(fsys.sb.Ninodes); inum++ {
		if fsys.diskType(op, common.Inum(inum)) == common.T_FREE {
			n++
		}
	}
	return n
}
