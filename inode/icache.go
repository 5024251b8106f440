// Package inode implements the inode cache and everything that operates on
// a single locked inode: block mapping, truncation and content I/O.
//
// The cache is a fixed table of handles. Icache.mu guards the table (slot
// lookup and reference counts) and is never held across disk I/O. Each
// handle has a sleeping lock, taken with Lock, that guards its cached
// on-disk fields; it may be held across I/O.
package inode

import (
	"errors"
	"sync"

	"github.com/northos/northfs/alloc"
	"github.com/northos/northfs/common"
	"github.com/northos/northfs/jrnl"
	"github.com/northos/northfs/lockmap"
	"github.com/northos/northfs/super"
	"github.com/northos/northfs/util"
)

var (
	ErrTooLarge = errors.New("file too large")
	ErrOffset   = errors.New("offset beyond end of file")
	ErrNoDevice = errors.New("no such device")
)

// Inode is an in-memory handle. Dev, Inum and the reference count are
// guarded by the cache's table lock; the embedded Dinode and valid are
// guarded by the handle's own lock.
type Inode struct {
	slot  uint64
	Dev   uint32
	Inum  common.Inum
	ref   uint64
	valid bool
	Dinode
}

// Device handles I/O for inodes of type T_DEV with a given major number.
type Device interface {
	Read(ip *Inode, dst []byte, off uint64) (int, error)
	Write(ip *Inode, src []byte, off uint64) (int, error)
}

type Icache struct {
	mu     *sync.Mutex
	inodes []*Inode
	locks  *lockmap.LockMap // keyed by slot
	sb     *super.FsSuper
	alloc  *alloc.Alloc
	devsw  [common.NDEV]Device
}

func MkIcache(sb *super.FsSuper, a *alloc.Alloc, capacity uint64) *Icache {
	inodes := make([]*Inode, capacity)
	for i := range inodes {
		inodes[i] = &Inode{slot: uint64(i)}
	}
	return &Icache{
		mu:     new(sync.Mutex),
		inodes: inodes,
		locks:  lockmap.MkLockMap(),
		sb:     sb,
		alloc:  a,
	}
}

// RegisterDevice installs the handler for device inodes with major number
// major.
func (ic *Icache) RegisterDevice(major int16, dev Device) {
	if major < 0 || uint64(major) >= common.NDEV {
		util.Fatalf("register device: bad major %d", major)
	}
	ic.devsw[major] = dev
}

func (ic *Icache) device(major int16) (Device, bool) {
	if major < 0 || uint64(major) >= common.NDEV || ic.devsw[major] == nil {
		return nil, false
	}
	return ic.devsw[major], true
}

// Get returns the handle for (dev, inum) with one more reference. It does
// not lock the handle or read it from disk.
func (ic *Icache) Get(dev uint32, inum common.Inum) *Inode {
	ic.mu.Lock()
	var empty *Inode
	for _, ip := range ic.inodes {
		if ip.ref > 0 && ip.Dev == dev && ip.Inum == inum {
			ip.ref += 1
			ic.mu.Unlock()
			return ip
		}
		if empty == nil && ip.ref == 0 {
			empty = ip
		}
	}
	if empty == nil {
		ic.mu.Unlock()
		util.Fatalf("iget: no inodes")
	}
	ip := empty
	ip.Dev = dev
	ip.Inum = inum
	ip.ref = 1
	ip.valid = false
	ic.mu.Unlock()
	return ip
}

// Dup adds a reference to ip.
func (ic *Icache) Dup(ip *Inode) *Inode {
	ic.mu.Lock()
	ip.ref += 1
	ic.mu.Unlock()
	return ip
}

func (ic *Icache) refs(ip *Inode) uint64 {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	return ip.ref
}

// Lock acquires ip's sleeping lock, reading the record from disk if
// needed.
func (ic *Icache) Lock(op *jrnl.Op, ip *Inode) {
	if ip == nil || ic.refs(ip) < 1 {
		util.Fatalf("ilock")
	}
	ic.locks.Acquire(ip.slot)
	if !ip.valid {
		a := ic.sb.Inum2Addr(ip.Inum)
		b := op.ReadBlock(a.Blkno)
		ip.Dinode = DecodeDinode(b.Record(a, common.INODESZ))
		op.Release(b)
		ip.valid = true
		if ip.Type == common.T_FREE {
			ic.locks.Release(ip.slot)
			util.Fatalf("ilock: no type")
		}
	}
}

// Holding reports whether ip's lock is held. The lock map does not track
// owners, so this is true when any goroutine holds it, not just the caller.
func (ic *Icache) Holding(ip *Inode) bool {
	return ic.locks.IsHeld(ip.slot)
}

func (ic *Icache) Unlock(ip *Inode) {
	if ip == nil || !ic.Holding(ip) || ic.refs(ip) < 1 {
		util.Fatalf("iunlock")
	}
	ic.locks.Release(ip.slot)
}

// Update writes ip's cached fields to its on-disk slot. The caller must
// hold ip's lock; Update only checks that the lock is held by someone.
func (ic *Icache) Update(op *jrnl.Op, ip *Inode) {
	if !ic.Holding(ip) {
		util.Fatalf("iupdate: inode %d not locked", ip.Inum)
	}
	a := ic.sb.Inum2Addr(ip.Inum)
	b := op.ReadBlock(a.Blkno)
	b.PutRecord(a, ip.Dinode.Encode())
	op.MarkDirty(b)
	op.Release(b)
}

// Put drops a reference to ip. Dropping the last reference to an inode
// with no links frees its blocks and its on-disk slot.
//
// Only the last reference takes ip's lock, so a caller may drop an extra
// reference to an inode it has locked, such as the one a lookup of "."
// returns.
func (ic *Icache) Put(op *jrnl.Op, ip *Inode) {
	ic.mu.Lock()
	if ip.ref < 1 {
		ic.mu.Unlock()
		util.Fatalf("iput: no references")
	}
	if ip.ref > 1 {
		ip.ref -= 1
		ic.mu.Unlock()
		return
	}
	ic.mu.Unlock()

	ic.locks.Acquire(ip.slot)
	if ip.valid && ip.Nlink == 0 && ic.refs(ip) == 1 {
		// no other handle can reach ip, so the table lock is not needed
		util.DPrintf(5, "iput: free inode %d\n", ip.Inum)
		ic.Truncate(op, ip)
		ip.Type = common.T_FREE
		ic.Update(op, ip)
		ip.valid = false
	}
	ic.locks.Release(ip.slot)

	ic.mu.Lock()
	ip.ref -= 1
	ic.mu.Unlock()
}

func (ic *Icache) UnlockPut(op *jrnl.Op, ip *Inode) {
	ic.Unlock(ip)
	ic.Put(op, ip)
}

// Alloc finds a free on-disk inode, marks it with type typ and returns an
// unlocked handle to it. Running out of inodes is fatal.
func (ic *Icache) Alloc(op *jrnl.Op, dev uint32, typ int16) *Inode {
	for inum := uint64(common.ROOTINUM); inum < uint64(ic.sb.Ninodes); inum++ {
		a := ic.sb.Inum2Addr(common.Inum(inum))
		b := op.ReadBlock(a.Blkno)
		d := DecodeDinode(b.Record(a, common.INODESZ))
		if d.Type == common.T_FREE {
			d = Dinode{Type: typ}
			b.PutRecord(a, d.Encode())
			op.MarkDirty(b)
			op.Release(b)
			util.DPrintf(5, "ialloc: %d type %d\n", inum, typ)
			return ic.Get(dev, common.Inum(inum))
		}
		op.Release(b)
	}
	util.Fatalf("ialloc: no inodes")
	return nil
}

type Stat struct {
	Dev   uint32
	Inum  common.Inum
	Type  int16
	Nlink int16
	Size  uint64
}

// Stat copies metadata out of a locked inode.
func (ic *Icache) Stat(ip *Inode) Stat {
	return Stat{
		Dev:   ip.Dev,
		Inum:  ip.Inum,
		Type:  ip.Type,
		Nlink: ip.Nlink,
		Size:  uint64(ip.Size),
	}
}

// Super is the layout of the volume the cache serves.
func (ic *Icache) Super() *super.FsSuper {
	return ic.sb
}
