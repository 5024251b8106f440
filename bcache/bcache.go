// Package bcache is the shared cache of whole disk blocks.
//
// There is at most one *buf.Buf per block number while the block is cached,
// and each is protected by a sleeping lock from a lockmap.LockMap. Get returns
// the buffer with its lock held; Release drops the lock. Buffers that belong
// to a group that has not committed yet are pinned and never evicted.
package bcache

import (
	"sync"

	"github.com/northos/northfs/buf"
	"github.com/northos/northfs/common"
	"github.com/northos/northfs/disk"
	"github.com/northos/northfs/lockmap"
	"github.com/northos/northfs/util"
)

// Reader supplies the latest committed contents of a block.
type Reader interface {
	Read(bn common.Bnum) disk.Block
}

type entry struct {
	buf   *buf.Buf
	ref   uint64 // threads holding or waiting for the block
	pins  uint64
	valid bool // guarded by the block lock
}

type Cache struct {
	mu       *sync.Mutex
	src      Reader
	locks    *lockmap.LockMap
	entries  map[common.Bnum]*entry
	capacity uint64
}

func MkCache(src Reader, capacity uint64) *Cache {
	return &Cache{
		mu:       new(sync.Mutex),
		src:      src,
		locks:    lockmap.MkLockMap(),
		entries:  make(map[common.Bnum]*entry),
		capacity: capacity,
	}
}

// Get returns the locked buffer for bn, reading it on a miss.
func (c *Cache) Get(bn common.Bnum) *buf.Buf {
	c.mu.Lock()
	e, ok := c.entries[bn]
	if !ok {
		e = &entry{}
		c.entries[bn] = e
	}
	e.ref += 1
	c.mu.Unlock()

	c.locks.Acquire(bn)
	if !e.valid {
		util.DPrintf(10, "bcache: miss %d\n", bn)
		e.buf = buf.MkBuf(bn, c.src.Read(bn))
		e.valid = true
	}
	return e.buf
}

// Release unlocks b, which must have come from Get.
func (c *Cache) Release(b *buf.Buf) {
	bn := b.Blkno
	if !c.locks.IsHeld(bn) {
		util.Fatalf("brelse: block %d not locked", bn)
	}
	c.locks.Release(bn)

	c.mu.Lock()
	e := c.entries[bn]
	if e == nil || e.ref == 0 {
		c.mu.Unlock()
		util.Fatalf("brelse: block %d not referenced", bn)
	}
	e.ref -= 1
	if uint64(len(c.entries)) > c.capacity {
		c.evictLocked()
	}
	c.mu.Unlock()
}

// Pin keeps bn resident until a matching Unpin; the caller must hold a
// reference to bn.
func (c *Cache) Pin(bn common.Bnum) {
	c.mu.Lock()
	e, ok := c.entries[bn]
	if !ok || e.ref == 0 {
		c.mu.Unlock()
		util.Fatalf("bpin: block %d not referenced", bn)
	}
	e.pins += 1
	c.mu.Unlock()
}

func (c *Cache) Unpin(bn common.Bnum) {
	c.mu.Lock()
	e, ok := c.entries[bn]
	if !ok || e.pins == 0 {
		c.mu.Unlock()
		util.Fatalf("bunpin: block %d not pinned", bn)
	}
	e.pins -= 1
	if uint64(len(c.entries)) > c.capacity {
		c.evictLocked()
	}
	c.mu.Unlock()
}

// evictLocked drops idle entries until the cache is back at capacity.
//
// Assumes caller holds c.mu.
func (c *Cache) evictLocked() {
	for bn, e := range c.entries {
		if uint64(len(c.entries)) <= c.capacity {
			break
		}
		if e.ref == 0 && e.pins == 0 {
			util.DPrintf(10, "bcache: evict %d\n", bn)
			delete(c.entries, bn)
		}
	}
}

// Len is the number of cached blocks, including those being loaded.
func (c *Cache) Len() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return uint64(len(c.entries))
}
