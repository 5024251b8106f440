package dir_test

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"github.com/northos/northfs/common"
	"github.com/northos/northfs/dir"
	"github.com/northos/northfs/disk"
	"github.com/northos/northfs/fs"
	"github.com/northos/northfs/inode"
	"github.com/northos/northfs/jrnl"
	"github.com/northos/northfs/mkfs"
)

func TestNameEq(t *testing.T) {
	assert.True(t, dir.NameEq(dir.MkName("abc"), dir.MkName("abc")))
	assert.False(t, dir.NameEq(dir.MkName("abc"), dir.MkName("abd")))
	assert.False(t, dir.NameEq(dir.MkName("abc"), dir.MkName("abcd")))
	long := "abcdefghijklmnopq"
	assert.True(t, dir.NameEq(dir.MkName(long), dir.MkName(long[:common.DIRSIZ])),
		"names compare over DIRSIZ bytes only")
}

func TestDirentEncoding(t *testing.T) {
	de := dir.Dirent{Inum: 0x0102, Name: dir.MkName("hello")}
	data := de.Encode()
	assert.Equal(t, int(common.DIRENTSZ), len(data))
	assert.Equal(t, []byte{0x02, 0x01, 'h', 'e', 'l', 'l', 'o', 0}, data[:8])
	assert.Equal(t, de, dir.Decode(data))
	assert.Equal(t, "hello", de.NameString())

	full := dir.Dirent{Inum: 3, Name: dir.MkName("abcdefghijklmnop")}
	assert.Equal(t, "abcdefghijklmn", full.NameString())

	wide := dir.Dirent{Inum: math.MaxUint16 + 1, Name: dir.MkName("wide")}
	assert.Panics(t, func() { wide.Encode() }, "inode number does not fit 16 bits")
}

type DirSuite struct {
	suite.Suite
	fsys *fs.FileSystem
	ic   *inode.Icache
	op   *jrnl.Op
	root *inode.Inode
}

func TestDirSuite(t *testing.T) {
	suite.Run(t, new(DirSuite))
}

// Each test runs inside one operation with the root directory locked.
func (suite *DirSuite) SetupTest() {
	d := disk.NewMemDisk(1000)
	_, err := mkfs.Format(d, mkfs.Options{})
	suite.Require().NoError(err)
	suite.fsys, err = fs.Mount(d, fs.Options{})
	suite.Require().NoError(err)
	suite.ic = suite.fsys.Icache()
	suite.op = suite.fsys.Begin()
	suite.root = suite.ic.Get(common.ROOTDEV, common.ROOTINUM)
	suite.ic.Lock(suite.op, suite.root)
}

func (suite *DirSuite) TearDownTest() {
	suite.ic.UnlockPut(suite.op, suite.root)
	suite.op.Commit()
	suite.NoError(suite.fsys.Unmount())
}

func (suite *DirSuite) lookup(name string) (common.Inum, uint64, error) {
	ip, off, err := dir.Lookup(suite.op, suite.ic, suite.root, name)
	if err != nil {
		return 0, 0, err
	}
	inum := ip.Inum
	suite.ic.Put(suite.op, ip)
	return inum, off, nil
}

func (suite *DirSuite) TestFreshRoot() {
	var names []string
	for _, de := range dir.Entries(suite.op, suite.ic, suite.root) {
		names = append(names, de.NameString())
		suite.Equal(common.ROOTINUM, de.Inum)
	}
	suite.Equal([]string{".", ".."}, names)
	suite.True(dir.IsEmpty(suite.op, suite.ic, suite.root))
}

func (suite *DirSuite) TestLinkLookup() {
	suite.NoError(dir.Link(suite.op, suite.ic, suite.root, "x", 5))
	inum, off, err := suite.lookup("x")
	suite.NoError(err)
	suite.Equal(common.Inum(5), inum)
	suite.Equal(2*common.DIRENTSZ, off)
	suite.Equal(uint32(3*common.DIRENTSZ), suite.root.Size)
	suite.False(dir.IsEmpty(suite.op, suite.ic, suite.root))

	_, _, err = suite.lookup("y")
	suite.True(errors.Is(err, dir.ErrNotFound))
}

func (suite *DirSuite) TestLinkExisting() {
	suite.NoError(dir.Link(suite.op, suite.ic, suite.root, "x", 5))
	err := dir.Link(suite.op, suite.ic, suite.root, "x", 6)
	suite.True(errors.Is(err, dir.ErrExists))
	inum, _, err := suite.lookup("x")
	suite.NoError(err)
	suite.Equal(common.Inum(5), inum, "the first entry is kept")
	suite.Len(dir.Entries(suite.op, suite.ic, suite.root), 3)
}

func (suite *DirSuite) TestLinkDots() {
	for _, name := range []string{".", ".."} {
		err := dir.Link(suite.op, suite.ic, suite.root, name, 5)
		suite.True(errors.Is(err, dir.ErrExists), name)
	}
	inum, _, err := suite.lookup(".")
	suite.NoError(err)
	suite.Equal(common.ROOTINUM, inum)
	suite.Len(dir.Entries(suite.op, suite.ic, suite.root), 2)
}

func (suite *DirSuite) TestLinkWideInum() {
	suite.Panics(func() {
		dir.Link(suite.op, suite.ic, suite.root, "wide", common.Inum(math.MaxUint16+1))
	})
	suite.Len(dir.Entries(suite.op, suite.ic, suite.root), 2)
}

func (suite *DirSuite) TestReuseFreeSlot() {
	suite.NoError(dir.Link(suite.op, suite.ic, suite.root, "a", 5))
	suite.NoError(dir.Link(suite.op, suite.ic, suite.root, "b", 6))
	_, offA, err := suite.lookup("a")
	suite.Require().NoError(err)
	suite.NoError(dir.Unlink(suite.op, suite.ic, suite.root, offA))
	_, _, err = suite.lookup("a")
	suite.True(errors.Is(err, dir.ErrNotFound))

	size := suite.root.Size
	suite.NoError(dir.Link(suite.op, suite.ic, suite.root, "c", 7))
	_, offC, err := suite.lookup("c")
	suite.NoError(err)
	suite.Equal(offA, offC)
	suite.Equal(size, suite.root.Size, "no growth when a slot is free")
}

func (suite *DirSuite) TestTruncatedName() {
	suite.NoError(dir.Link(suite.op, suite.ic, suite.root, "abcdefghijklmnopqrst", 9))
	inum, _, err := suite.lookup("abcdefghijklmn")
	suite.NoError(err)
	suite.Equal(common.Inum(9), inum)
	err = dir.Link(suite.op, suite.ic, suite.root, "abcdefghijklmnXYZ", 10)
	suite.True(errors.Is(err, dir.ErrExists))
}

func (suite *DirSuite) TestGrowsPastBlock() {
	per := disk.BlockSize / common.DIRENTSZ
	for i := uint64(0); i < per; i++ {
		name := string(rune('a'+i%26)) + string(rune('a'+i/26))
		suite.Require().NoError(dir.Link(suite.op, suite.ic, suite.root, name, common.Inum(2+i)))
	}
	suite.Equal(uint32((per+2)*common.DIRENTSZ), suite.root.Size)
	inum, off, err := suite.lookup(string(rune('a'+(per-1)%26)) + string(rune('a'+(per-1)/26)))
	suite.NoError(err)
	suite.Equal(common.Inum(2+per-1), inum)
	suite.True(off >= disk.BlockSize)
}

func (suite *DirSuite) TestNotADirectory() {
	ip := suite.ic.Alloc(suite.op, common.ROOTDEV, common.T_FILE)
	suite.ic.Lock(suite.op, ip)
	suite.Panics(func() {
		dir.Lookup(suite.op, suite.ic, ip, "x")
	})
	suite.Panics(func() {
		dir.Entries(suite.op, suite.ic, ip)
	})
	suite.ic.UnlockPut(suite.op, ip)
}
