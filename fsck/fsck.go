// Package fsck checks the structure of a mounted, quiescent volume without
// modifying it.
package fsck

import (
	"fmt"
	"strings"

	"github.com/northos/northfs/common"
	"github.com/northos/northfs/dir"
	"github.com/northos/northfs/disk"
	"github.com/northos/northfs/fs"
	"github.com/northos/northfs/inode"
	"github.com/northos/northfs/jrnl"
)

type Dangling struct {
	Dir  common.Inum
	Name string
	Inum common.Inum
}

type LinkMismatch struct {
	Inum  common.Inum
	Nlink int16
	Refs  uint64
}

type Report struct {
	Inodes    uint64        // in use
	Blocks    uint64        // referenced by some inode
	BadRef    []common.Bnum // outside the data region
	DoubleRef []common.Bnum
	RefFree   []common.Bnum // referenced, bitmap clear
	Leaked    []common.Bnum // bitmap set, unreferenced
	Dangling  []Dangling
	Links     []LinkMismatch
}

func (r Report) Clean() bool {
	return len(r.BadRef) == 0 && len(r.DoubleRef) == 0 && len(r.RefFree) == 0 &&
		len(r.Leaked) == 0 && len(r.Dangling) == 0 && len(r.Links) == 0
}

func (r Report) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d inodes, %d blocks in use\n", r.Inodes, r.Blocks)
	for _, b := range r.BadRef {
		fmt.Fprintf(&sb, "block %d: reference outside data region\n", b)
	}
	for _, b := range r.DoubleRef {
		fmt.Fprintf(&sb, "block %d: referenced twice\n", b)
	}
	for _, b := range r.RefFree {
		fmt.Fprintf(&sb, "block %d: referenced but free\n", b)
	}
	for _, b := range r.Leaked {
		fmt.Fprintf(&sb, "block %d: allocated but unreferenced\n", b)
	}
	for _, d := range r.Dangling {
		fmt.Fprintf(&sb, "dir %d: entry %q names free inode %d\n", d.Dir, d.Name, d.Inum)
	}
	for _, l := range r.Links {
		fmt.Fprintf(&sb, "inode %d: nlink %d but %d entries\n", l.Inum, l.Nlink, l.Refs)
	}
	return sb.String()
}

type checker struct {
	fsys  *fs.FileSystem
	op    *jrnl.Op
	r     Report
	owned map[common.Bnum]bool
	types map[common.Inum]int16
	nlink map[common.Inum]int16
	refs  map[common.Inum]uint64
}

func (c *checker) dinode(inum common.Inum) inode.Dinode {
	a := c.fsys.Super().Inum2Addr(inum)
	b := c.op.ReadBlock(a.Blkno)
	d := inode.DecodeDinode(b.Record(a, common.INODESZ))
	c.op.Release(b)
	return d
}

func (c *checker) claim(bn common.Bnum) bool {
	sb := c.fsys.Super()
	if bn < sb.DataStart() || bn >= uint64(sb.Size) {
		c.r.BadRef = append(c.r.BadRef, bn)
		return false
	}
	if c.owned[bn] {
		c.r.DoubleRef = append(c.r.DoubleRef, bn)
		return false
	}
	c.owned[bn] = true
	c.r.Blocks++
	if !c.fsys.Alloc().IsUsed(c.op, bn) {
		c.r.RefFree = append(c.r.RefFree, bn)
	}
	return true
}

// entries decodes the directory stored in data blocks blks.
func (c *checker) entries(blks []common.Bnum, size uint64) []dir.Dirent {
	var des []dir.Dirent
	for i, bn := range blks {
		if bn < c.fsys.Super().DataStart() || bn >= uint64(c.fsys.Super().Size) {
			continue
		}
		b := c.op.ReadBlock(bn)
		for off := uint64(0); off < disk.BlockSize; off += common.DIRENTSZ {
			if uint64(i)*disk.BlockSize+off >= size {
				break
			}
			des = append(des, dir.Decode(b.Data[off:off+common.DIRENTSZ]))
		}
		c.op.Release(b)
	}
	return des
}

func (c *checker) checkInode(inum common.Inum) {
	d := c.dinode(inum)
	if d.Type == common.T_FREE {
		return
	}
	c.r.Inodes++
	c.types[inum] = d.Type
	c.nlink[inum] = d.Nlink
	data, index := c.fsys.Icache().Blocks(c.op, &d)
	for _, bn := range index {
		c.claim(bn)
	}
	for _, bn := range data {
		c.claim(bn)
	}
	if d.Type != common.T_DIR {
		return
	}
	for _, de := range c.entries(data, uint64(d.Size)) {
		if de.Inum == common.NULLINUM {
			continue
		}
		name := de.NameString()
		if name != "." {
			c.refs[de.Inum]++
		}
		if uint64(de.Inum) >= uint64(c.fsys.Super().Ninodes) ||
			c.dinode(de.Inum).Type == common.T_FREE {
			c.r.Dangling = append(c.r.Dangling, Dangling{Dir: inum, Name: name, Inum: de.Inum})
		}
	}
}

// Check walks every inode of fsys and cross-checks the block bitmap and
// link counts. The volume must not be modified concurrently.
func Check(fsys *fs.FileSystem) Report {
	c := &checker{
		fsys:  fsys,
		op:    fsys.Begin(),
		owned: make(map[common.Bnum]bool),
		types: make(map[common.Inum]int16),
		nlink: make(map[common.Inum]int16),
		refs:  make(map[common.Inum]uint64),
	}
	defer c.op.Commit()

	sb := fsys.Super()
	for inum := uint64(common.ROOTINUM); inum < uint64(sb.Ninodes); inum++ {
		c.checkInode(common.Inum(inum))
	}
	for bn := sb.DataStart(); bn < uint64(sb.Size); bn++ {
		if !c.owned[bn] && fsys.Alloc().IsUsed(c.op, bn) {
			c.r.Leaked = append(c.r.Leaked, bn)
		}
	}
	for inum := uint64(common.ROOTINUM); inum < uint64(sb.Ninodes); inum++ {
		i := common.Inum(inum)
		if _, ok := c.types[i]; !ok {
			continue
		}
		if c.nlink[i] < 0 || uint64(c.nlink[i]) != c.refs[i] {
			c.r.Links = append(c.r.Links, LinkMismatch{Inum: i, Nlink: c.nlink[i], Refs: c.refs[i]})
		}
	}
	return c.r
}
