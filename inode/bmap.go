package inode

import (
	"github.com/northos/northfs/common"
	"github.com/northos/northfs/jrnl"
	"github.com/northos/northfs/util"
)

// indexEntry returns entry i of index block blk, allocating the block it
// names if the entry is empty. The index block is marked dirty before
// returning whenever it changes.
func (ic *Icache) indexEntry(op *jrnl.Op, blk common.Bnum, i uint64) common.Bnum {
	b := op.ReadBlock(blk)
	a := b.BnumGet(i * 4)
	if a == common.NULLBNUM {
		a = ic.alloc.AllocBlock(op)
		b.BnumPut(i*4, a)
		op.MarkDirty(b)
	}
	op.Release(b)
	return a
}

// slot returns the address in ip.Addrs[i], allocating a block if it is
// empty. The caller persists ip.
func (ic *Icache) slot(op *jrnl.Op, ip *Inode, i uint64) common.Bnum {
	a := common.Bnum(ip.Addrs[i])
	if a == common.NULLBNUM {
		a = ic.alloc.AllocBlock(op)
		ip.Addrs[i] = uint32(a)
	}
	return a
}

// bmap returns the disk block holding logical block bn of ip, allocating
// index and data blocks on the way.
func (ic *Icache) bmap(op *jrnl.Op, ip *Inode, bn uint64) common.Bnum {
	if bn < common.NDIRECT {
		return ic.slot(op, ip, bn)
	}
	bn -= common.NDIRECT

	if bn < common.NINDIRECT {
		ind := ic.slot(op, ip, common.NDIRECT)
		return ic.indexEntry(op, ind, bn)
	}
	bn -= common.NINDIRECT

	if bn < common.NDINDIRECT {
		dind := ic.slot(op, ip, common.NDIRECT+1)
		l2 := ic.indexEntry(op, dind, bn/common.NINDIRECT)
		return ic.indexEntry(op, l2, bn%common.NINDIRECT)
	}

	util.Fatalf("bmap: out of range")
	return 0
}

// freeIndex frees every block named by index block blk and, at depth > 1,
// everything below them, then blk itself.
func (ic *Icache) freeIndex(op *jrnl.Op, blk common.Bnum, depth uint64) {
	b := op.ReadBlock(blk)
	var children []common.Bnum
	for i := uint64(0); i < common.NINDIRECT; i++ {
		a := b.BnumGet(i * 4)
		if a != common.NULLBNUM {
			children = append(children, a)
		}
	}
	op.Release(b)
	for _, a := range children {
		if depth > 1 {
			ic.freeIndex(op, a, depth-1)
		} else {
			ic.alloc.FreeBlock(op, a)
		}
	}
	ic.alloc.FreeBlock(op, blk)
}

// Truncate discards the contents of a locked inode.
func (ic *Icache) Truncate(op *jrnl.Op, ip *Inode) {
	for i := uint64(0); i < common.NDIRECT; i++ {
		if ip.Addrs[i] != 0 {
			ic.alloc.FreeBlock(op, common.Bnum(ip.Addrs[i]))
			ip.Addrs[i] = 0
		}
	}
	if ip.Addrs[common.NDIRECT] != 0 {
		ic.freeIndex(op, common.Bnum(ip.Addrs[common.NDIRECT]), 1)
		ip.Addrs[common.NDIRECT] = 0
	}
	if ip.Addrs[common.NDIRECT+1] != 0 {
		ic.freeIndex(op, common.Bnum(ip.Addrs[common.NDIRECT+1]), 2)
		ip.Addrs[common.NDIRECT+1] = 0
	}
	ip.Size = 0
	ic.Update(op, ip)
}

// Blocks lists the blocks owned by d: data blocks in logical order, and
// the index blocks of both indirect tiers. Index entries that point outside
// the volume are listed but not followed.
func (ic *Icache) Blocks(op *jrnl.Op, d *Dinode) ([]common.Bnum, []common.Bnum) {
	var data, index []common.Bnum
	var walk func(blk common.Bnum, depth uint64)
	walk = func(blk common.Bnum, depth uint64) {
		if depth == 0 {
			data = append(data, blk)
			return
		}
		index = append(index, blk)
		if blk >= ic.alloc.Size() {
			return
		}
		b := op.ReadBlock(blk)
		var children []common.Bnum
		for i := uint64(0); i < common.NINDIRECT; i++ {
			if a := b.BnumGet(i * 4); a != common.NULLBNUM {
				children = append(children, a)
			}
		}
		op.Release(b)
		for _, a := range children {
			walk(a, depth-1)
		}
	}
	for i := uint64(0); i < common.NADDRS; i++ {
		a := common.Bnum(d.Addrs[i])
		if a == common.NULLBNUM {
			continue
		}
		switch i {
		case common.NDIRECT:
			walk(a, 1)
		case common.NDIRECT + 1:
			walk(a, 2)
		default:
			walk(a, 0)
		}
	}
	return data, index
}
