package fsck_test

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/northos/northfs/common"
	"github.com/northos/northfs/disk"
	"github.com/northos/northfs/fs"
	"github.com/northos/northfs/fsck"
	"github.com/northos/northfs/inode"
	"github.com/northos/northfs/mkfs"
)

type FsckSuite struct {
	suite.Suite
	fsys *fs.FileSystem
}

func TestFsckSuite(t *testing.T) {
	suite.Run(t, new(FsckSuite))
}

// SetupTest makes /d/f with one data block and /g with two.
func (suite *FsckSuite) SetupTest() {
	d := disk.NewMemDisk(1000)
	_, err := mkfs.Format(d, mkfs.Options{})
	suite.Require().NoError(err)
	suite.fsys, err = fs.Mount(d, fs.Options{})
	suite.Require().NoError(err)

	p := suite.fsys.NewProc()
	defer p.Close()
	suite.Require().NoError(p.Mkdir("/d"))
	for path, n := range map[string]uint64{"/d/f": 100, "/g": disk.BlockSize + 1} {
		f, err := p.Open(path, fs.O_CREATE|fs.O_WRONLY)
		suite.Require().NoError(err)
		_, err = f.Write(make([]byte, n))
		suite.Require().NoError(err)
		suite.Require().NoError(f.Close())
	}
}

func (suite *FsckSuite) TearDownTest() {
	suite.NoError(suite.fsys.Unmount())
}

func (suite *FsckSuite) inum(path string) common.Inum {
	p := suite.fsys.NewProc()
	defer p.Close()
	st, err := p.Stat(path)
	suite.Require().NoError(err)
	return st.Inum
}

func (suite *FsckSuite) dinode(inum common.Inum) inode.Dinode {
	op := suite.fsys.Begin()
	defer op.Commit()
	a := suite.fsys.Super().Inum2Addr(inum)
	b := op.ReadBlock(a.Blkno)
	defer op.Release(b)
	return inode.DecodeDinode(b.Record(a, common.INODESZ))
}

// patch rewrites an on-disk inode behind the inode cache's back.
func (suite *FsckSuite) patch(inum common.Inum, f func(d *inode.Dinode)) {
	op := suite.fsys.Begin()
	a := suite.fsys.Super().Inum2Addr(inum)
	b := op.ReadBlock(a.Blkno)
	d := inode.DecodeDinode(b.Record(a, common.INODESZ))
	f(&d)
	b.PutRecord(a, d.Encode())
	op.MarkDirty(b)
	op.Release(b)
	op.Commit()
}

func (suite *FsckSuite) TestClean() {
	r := fsck.Check(suite.fsys)
	suite.True(r.Clean(), r.String())
	suite.Equal(uint64(4), r.Inodes)
	// root, /d, /d/f and two blocks of /g
	suite.Equal(uint64(5), r.Blocks)
}

func (suite *FsckSuite) TestLeakedBlock() {
	op := suite.fsys.Begin()
	bn := suite.fsys.Alloc().AllocBlock(op)
	op.Commit()
	r := fsck.Check(suite.fsys)
	suite.False(r.Clean())
	suite.Equal([]common.Bnum{bn}, r.Leaked)
}

func (suite *FsckSuite) TestReferencedFreeBlock() {
	g := suite.inum("/g")
	bn := common.Bnum(suite.dinode(g).Addrs[1])
	op := suite.fsys.Begin()
	suite.fsys.Alloc().FreeBlock(op, bn)
	op.Commit()
	r := fsck.Check(suite.fsys)
	suite.Equal([]common.Bnum{bn}, r.RefFree)
	suite.Empty(r.Leaked)
}

func (suite *FsckSuite) TestDanglingEntry() {
	f := suite.inum("/d/f")
	d := suite.inum("/d")
	blk := common.Bnum(suite.dinode(f).Addrs[0])
	suite.patch(f, func(di *inode.Dinode) {
		*di = inode.Dinode{}
	})
	r := fsck.Check(suite.fsys)
	suite.Equal([]fsck.Dangling{{Dir: d, Name: "f", Inum: f}}, r.Dangling)
	suite.Equal([]common.Bnum{blk}, r.Leaked)
}

func (suite *FsckSuite) TestLinkMismatch() {
	g := suite.inum("/g")
	suite.patch(g, func(di *inode.Dinode) {
		di.Nlink = 3
	})
	r := fsck.Check(suite.fsys)
	suite.Equal([]fsck.LinkMismatch{{Inum: g, Nlink: 3, Refs: 1}}, r.Links)
	suite.Contains(r.String(), "nlink 3 but 1 entries")
}

func (suite *FsckSuite) TestDoubleAndBadReference() {
	f := suite.inum("/d/f")
	g := suite.inum("/g")
	shared := suite.dinode(f).Addrs[0]
	suite.patch(g, func(di *inode.Dinode) {
		di.Addrs[1] = shared
	})
	r := fsck.Check(suite.fsys)
	suite.Equal([]common.Bnum{common.Bnum(shared)}, r.DoubleRef)

	suite.patch(g, func(di *inode.Dinode) {
		di.Addrs[1] = 3
	})
	r = fsck.Check(suite.fsys)
	suite.Equal([]common.Bnum{3}, r.BadRef)
}
