// Package jrnl is the top-level journal API.
//
// Every filesystem operation that modifies the disk runs inside an Op: it
// calls Begin, reads blocks through the shared cache with ReadBlock,
// modifies them while holding their locks, reports each modified block with
// MarkDirty, releases them, and finally calls Commit.
//
// Writes become visible to other operations as soon as the buffer is
// released, since the cache is shared. They become durable atomically with
// the rest of their group: the log commits once no operation is outstanding,
// so all operations that overlapped in time commit together. Operations are
// bounded: no single Op may dirty more than common.MAXOPBLOCKS distinct
// blocks, which the callers guarantee by splitting large writes.
package jrnl

import (
	"github.com/northos/northfs/buf"
	"github.com/northos/northfs/common"
	"github.com/northos/northfs/obj"
	"github.com/northos/northfs/util"
)

// LogBlocks is the maximum number of blocks that can be written in one
// operation
const LogBlocks uint64 = common.MAXOPBLOCKS

// Op is an in-progress journal operation.
//
// Call Commit to end the operation; there is no abort.
type Op struct {
	log  *obj.Log
	held map[common.Bnum]bool
}

// Begin starts an operation, waiting for log space if necessary.
func Begin(log *obj.Log) *Op {
	log.BeginOp()
	op := &Op{
		log:  log,
		held: make(map[common.Bnum]bool),
	}
	util.DPrintf(3, "Begin: %p\n", op)
	return op
}

// ReadBlock returns the locked buffer for bn.
func (op *Op) ReadBlock(bn common.Bnum) *buf.Buf {
	b := op.log.Load(bn)
	op.held[bn] = true
	return b
}

// Release unlocks a buffer returned by ReadBlock.
func (op *Op) Release(b *buf.Buf) {
	if !op.held[b.Blkno] {
		util.Fatalf("jrnl: release of block %d not held by op", b.Blkno)
	}
	delete(op.held, b.Blkno)
	op.log.Release(b)
}

// MarkDirty records b as written by this operation; b must be held.
func (op *Op) MarkDirty(b *buf.Buf) {
	if !op.held[b.Blkno] {
		util.Fatalf("jrnl: write to block %d not held by op", b.Blkno)
	}
	op.log.MarkDirty(b)
}

// Commit ends the operation. Every buffer must have been released.
func (op *Op) Commit() {
	if len(op.held) != 0 {
		util.Fatalf("jrnl: commit with %d blocks held", len(op.held))
	}
	util.DPrintf(3, "Commit %p\n", op)
	op.log.EndOp()
}
