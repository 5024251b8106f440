// lockmap is a sharded map of sleeping locks, one per block number.
//
// The API is as if LockMap consisted of a lock for every possible block
// number; LockMap.Acquire(bn) acquires the lock associated with bn and
// LockMap.Release(bn) releases it. A holder may sleep (for example while the
// block is read from disk) without blocking unrelated blocks.
//
// The implementation doesn't actually maintain all of these locks; it
// instead maintains a fixed collection of shards so that shard i is
// responsible for maintaining the lock state of all bn such that
// bn % NSHARD = i. Acquiring a lock requires synchronizing with any threads
// accessing the same shard.
package lockmap

import (
	"sync"

	"github.com/northos/northfs/common"
)

type lockState struct {
	held    bool
	cond    *sync.Cond
	waiters uint64
}

type lockShard struct {
	mu    *sync.Mutex
	state map[common.Bnum]*lockState
}

func mkLockShard() *lockShard {
	mu := new(sync.Mutex)
	return &lockShard{
		mu:    mu,
		state: make(map[common.Bnum]*lockState),
	}
}

func (lmap *lockShard) acquire(bn common.Bnum) {
	lmap.mu.Lock()
	for {
		state, ok := lmap.state[bn]
		if !ok {
			state = &lockState{
				held:    false,
				cond:    sync.NewCond(lmap.mu),
				waiters: 0,
			}
			lmap.state[bn] = state
		}
		if !state.held {
			state.held = true
			break
		}
		state.waiters += 1
		state.cond.Wait()
		// the state stays in the map while there are waiters
		state.waiters -= 1
	}
	lmap.mu.Unlock()
}

func (lmap *lockShard) release(bn common.Bnum) {
	lmap.mu.Lock()
	state, ok := lmap.state[bn]
	if !ok || !state.held {
		lmap.mu.Unlock()
		panic("lockmap: release of unheld lock")
	}
	state.held = false
	if state.waiters > 0 {
		state.cond.Signal()
	} else {
		delete(lmap.state, bn)
	}
	lmap.mu.Unlock()
}

func (lmap *lockShard) isHeld(bn common.Bnum) bool {
	lmap.mu.Lock()
	defer lmap.mu.Unlock()
	state, ok := lmap.state[bn]
	return ok && state.held
}

const NSHARD uint64 = 43

type LockMap struct {
	shards []*lockShard
}

func MkLockMap() *LockMap {
	var shards []*lockShard
	for i := uint64(0); i < NSHARD; i++ {
		shards = append(shards, mkLockShard())
	}
	return &LockMap{
		shards: shards,
	}
}

func (lmap *LockMap) shard(bn common.Bnum) *lockShard {
	return lmap.shards[bn%NSHARD]
}

func (lmap *LockMap) Acquire(bn common.Bnum) {
	lmap.shard(bn).acquire(bn)
}

func (lmap *LockMap) Release(bn common.Bnum) {
	lmap.shard(bn).release(bn)
}

// IsHeld reports whether some thread holds the lock for bn. It is only
// useful for assertions, since the answer may change immediately.
func (lmap *LockMap) IsHeld(bn common.Bnum) bool {
	return lmap.shard(bn).isHeld(bn)
}
