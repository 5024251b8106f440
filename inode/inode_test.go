package inode

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"github.com/northos/northfs/alloc"
	"github.com/northos/northfs/common"
	"github.com/northos/northfs/disk"
	"github.com/northos/northfs/jrnl"
	"github.com/northos/northfs/obj"
	"github.com/northos/northfs/super"
)

func TestDinodeEncoding(t *testing.T) {
	d := Dinode{Type: common.T_DEV, Major: 2, Minor: 7, Nlink: 3, Size: 0x01020304}
	d.Addrs[0] = 99
	d.Addrs[common.NDIRECT+1] = 0xAABBCCDD
	data := d.Encode()
	assert.Equal(t, int(common.INODESZ), len(data))
	assert.Equal(t, []byte{3, 0, 2, 0, 7, 0, 3, 0, 4, 3, 2, 1, 99, 0, 0, 0}, data[:16])
	assert.Equal(t, d, DecodeDinode(data))
}

type InodeSuite struct {
	suite.Suite
	d   disk.Disk
	sb  *super.FsSuper
	log *obj.Log
	a   *alloc.Alloc
	ic  *Icache
}

func TestInodeSuite(t *testing.T) {
	suite.Run(t, new(InodeSuite))
}

const volBlocks = 1200

func (suite *InodeSuite) mkVolume(capacity uint64) {
	suite.d = disk.NewMemDisk(volBlocks)
	sb, err := super.MkFsSuper(volBlocks, 200, uuid.New())
	suite.Require().NoError(err)
	suite.Require().NoError(sb.Write(suite.d))
	bm := make(disk.Block, disk.BlockSize)
	for bn := uint64(0); bn < sb.NMeta(); bn++ {
		bm[bn/8] |= 1 << (bn % 8)
	}
	disk.MustWrite(suite.d, uint64(sb.BmapStart), bm)
	suite.sb = sb
	suite.log = obj.MkLog(suite.d, uint64(sb.LogStart), 128)
	suite.a = alloc.MkAlloc(uint64(sb.BmapStart), sb.NBitmap(), volBlocks, sb.DataStart())
	suite.ic = MkIcache(sb, suite.a, capacity)
}

func (suite *InodeSuite) SetupTest() {
	suite.mkVolume(common.NINODE)
}

func (suite *InodeSuite) TearDownTest() {
	suite.log.Shutdown()
}

// inOp runs f inside its own journal operation.
func (suite *InodeSuite) inOp(f func(op *jrnl.Op)) {
	op := jrnl.Begin(suite.log)
	f(op)
	op.Commit()
}

func (suite *InodeSuite) allocFile() *Inode {
	var ip *Inode
	suite.inOp(func(op *jrnl.Op) {
		ip = suite.ic.Alloc(op, common.ROOTDEV, common.T_FILE)
		suite.ic.Lock(op, ip)
		ip.Nlink = 1
		suite.ic.Update(op, ip)
		suite.ic.Unlock(ip)
	})
	return ip
}

// writeAll writes data at off in chunks small enough for one operation.
func (suite *InodeSuite) writeAll(ip *Inode, data []byte, off uint64) {
	chunk := 2 * disk.BlockSize
	for i := uint64(0); i < uint64(len(data)); i += chunk {
		end := i + chunk
		if end > uint64(len(data)) {
			end = uint64(len(data))
		}
		suite.inOp(func(op *jrnl.Op) {
			suite.ic.Lock(op, ip)
			n, err := suite.ic.Write(op, ip, data[i:end], off+i)
			suite.ic.Unlock(ip)
			suite.Require().NoError(err)
			suite.Require().Equal(int(end-i), n)
		})
	}
}

func (suite *InodeSuite) readAt(ip *Inode, n int, off uint64) []byte {
	dst := make([]byte, n)
	var got int
	suite.inOp(func(op *jrnl.Op) {
		suite.ic.Lock(op, ip)
		var err error
		got, err = suite.ic.Read(op, ip, dst, off)
		suite.ic.Unlock(ip)
		suite.NoError(err)
	})
	return dst[:got]
}

func (suite *InodeSuite) numFree() uint64 {
	var n uint64
	suite.inOp(func(op *jrnl.Op) { n = suite.a.NumFree(op) })
	return n
}

func (suite *InodeSuite) put(ip *Inode) {
	suite.inOp(func(op *jrnl.Op) { suite.ic.Put(op, ip) })
}

func (suite *InodeSuite) diskType(inum common.Inum) int16 {
	var typ int16
	suite.inOp(func(op *jrnl.Op) {
		a := suite.sb.Inum2Addr(inum)
		b := op.ReadBlock(a.Blkno)
		typ = DecodeDinode(b.Record(a, common.INODESZ)).Type
		op.Release(b)
	})
	return typ
}

func pattern(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

func (suite *InodeSuite) TestGetSharesHandle() {
	ip := suite.ic.Get(common.ROOTDEV, 5)
	ip2 := suite.ic.Get(common.ROOTDEV, 5)
	suite.Same(ip, ip2)
	other := suite.ic.Get(common.ROOTDEV+1, 5)
	suite.NotSame(ip, other, "identity includes the device")
	suite.Same(ip, suite.ic.Dup(ip))
	suite.Equal(uint64(3), suite.ic.refs(ip))
}

func (suite *InodeSuite) TestCacheExhaustion() {
	suite.log.Shutdown()
	suite.mkVolume(2)
	suite.ic.Get(common.ROOTDEV, 1)
	suite.ic.Get(common.ROOTDEV, 2)
	suite.Panics(func() { suite.ic.Get(common.ROOTDEV, 3) })
}

func (suite *InodeSuite) TestLockFreeInode() {
	ip := suite.ic.Get(common.ROOTDEV, 7)
	op := jrnl.Begin(suite.log)
	suite.Panics(func() { suite.ic.Lock(op, ip) }, "on-disk type is free")
}

func (suite *InodeSuite) TestUnlockNotHeld() {
	ip := suite.allocFile()
	suite.Panics(func() { suite.ic.Unlock(ip) })
}

func (suite *InodeSuite) TestHolding() {
	ip := suite.allocFile()
	suite.False(suite.ic.Holding(ip))
	suite.inOp(func(op *jrnl.Op) {
		suite.ic.Lock(op, ip)
		suite.True(suite.ic.Holding(ip))
		suite.ic.Unlock(ip)
	})
	suite.False(suite.ic.Holding(ip))
	op := jrnl.Begin(suite.log)
	suite.Panics(func() { suite.ic.Update(op, ip) }, "update without the lock")
}

func (suite *InodeSuite) TestPutExtraRefWhileLocked() {
	ip := suite.allocFile()
	done := make(chan struct{})
	go func() {
		defer close(done)
		suite.inOp(func(op *jrnl.Op) {
			suite.ic.Lock(op, ip)
			ip2 := suite.ic.Get(common.ROOTDEV, ip.Inum)
			suite.ic.Put(op, ip2)
			suite.ic.Unlock(ip)
		})
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		suite.FailNow("put of an extra reference blocked on the inode lock")
	}
	suite.Equal(uint64(1), suite.ic.refs(ip))
	suite.False(suite.ic.Holding(ip))
}

func (suite *InodeSuite) TestAllocSkipsUsed() {
	ip1 := suite.allocFile()
	ip2 := suite.allocFile()
	suite.NotEqual(ip1.Inum, ip2.Inum)
	suite.Equal(common.T_FILE, suite.diskType(ip1.Inum))
	suite.Equal(common.T_FILE, suite.diskType(ip2.Inum))
}

func (suite *InodeSuite) TestRoundTrip() {
	ip := suite.allocFile()
	for _, n := range []int{1, 100, int(disk.BlockSize), 5000, int(common.NDIRECT*disk.BlockSize) + 10} {
		suite.inOp(func(op *jrnl.Op) {
			suite.ic.Lock(op, ip)
			suite.ic.Truncate(op, ip)
			suite.ic.Unlock(ip)
		})
		data := pattern(n)
		suite.writeAll(ip, data, 0)
		suite.Equal(data, suite.readAt(ip, n, 0), "round trip of %d bytes", n)
		suite.Equal(uint32(n), ip.Size)
	}
}

func (suite *InodeSuite) TestReadClamps() {
	ip := suite.allocFile()
	suite.writeAll(ip, pattern(100), 0)
	suite.Equal(pattern(100)[50:], suite.readAt(ip, 200, 50))
	suite.Empty(suite.readAt(ip, 10, 100))
	suite.Empty(suite.readAt(ip, 10, 1000))
	suite.Empty(suite.readAt(ip, 0, 0))
}

func (suite *InodeSuite) TestWriteErrors() {
	ip := suite.allocFile()
	suite.writeAll(ip, pattern(10), 0)
	suite.inOp(func(op *jrnl.Op) {
		suite.ic.Lock(op, ip)
		_, err := suite.ic.Write(op, ip, []byte{1}, 11)
		suite.True(errors.Is(err, ErrOffset))

		n, err := suite.ic.Write(op, ip, nil, 10)
		suite.NoError(err)
		suite.Equal(0, n)

		ip.Size = uint32(common.MAXFILE * disk.BlockSize)
		_, err = suite.ic.Write(op, ip, []byte{1}, uint64(ip.Size))
		suite.True(errors.Is(err, ErrTooLarge))
		ip.Size = 10
		suite.ic.Unlock(ip)
	})
	suite.Equal(pattern(10), suite.readAt(ip, 20, 0), "failed writes change nothing")
}

func (suite *InodeSuite) TestTierBoundaries() {
	ip := suite.allocFile()
	suite.writeAll(ip, pattern(int(common.NDIRECT*disk.BlockSize)), 0)
	suite.Equal(uint32(0), ip.Addrs[common.NDIRECT])

	before := suite.numFree()
	suite.writeAll(ip, []byte{7}, common.NDIRECT*disk.BlockSize)
	suite.Equal(before-2, suite.numFree(), "single indirect index plus one data block")
	suite.NotEqual(uint32(0), ip.Addrs[common.NDIRECT])

	rest := (common.NINDIRECT * disk.BlockSize) - 1
	suite.writeAll(ip, pattern(int(rest)), common.NDIRECT*disk.BlockSize+1)
	suite.Equal(uint32(0), ip.Addrs[common.NDIRECT+1])

	before = suite.numFree()
	off := (common.NDIRECT + common.NINDIRECT) * disk.BlockSize
	suite.writeAll(ip, []byte{9}, off)
	suite.Equal(before-3, suite.numFree(),
		"double indirect index, second-level index and one data block")
	suite.NotEqual(uint32(0), ip.Addrs[common.NDIRECT+1])
	suite.Equal([]byte{9}, suite.readAt(ip, 1, off))
	suite.Equal([]byte{7}, suite.readAt(ip, 1, common.NDIRECT*disk.BlockSize))
}

func (suite *InodeSuite) TestTruncateFreesEverything() {
	baseline := suite.numFree()
	ip := suite.allocFile()
	n := (common.NDIRECT + 3) * disk.BlockSize
	suite.writeAll(ip, pattern(int(n)), 0)
	var data, index []common.Bnum
	suite.inOp(func(op *jrnl.Op) {
		suite.ic.Lock(op, ip)
		data, index = suite.ic.Blocks(op, &ip.Dinode)
		suite.ic.Unlock(ip)
	})
	suite.Len(data, int(common.NDIRECT+3))
	suite.Equal([]common.Bnum{common.Bnum(ip.Addrs[common.NDIRECT])}, index)
	suite.Equal(baseline-uint64(len(data)+len(index)), suite.numFree())

	suite.inOp(func(op *jrnl.Op) {
		suite.ic.Lock(op, ip)
		suite.ic.Truncate(op, ip)
		suite.ic.Unlock(ip)
	})
	suite.Equal(uint32(0), ip.Size)
	suite.Equal([common.NADDRS]uint32{}, ip.Addrs)
	suite.Equal(baseline, suite.numFree())

	// again, on an empty inode
	suite.inOp(func(op *jrnl.Op) {
		suite.ic.Lock(op, ip)
		suite.ic.Truncate(op, ip)
		suite.ic.Unlock(ip)
	})
	suite.Equal(uint32(0), ip.Size)
	suite.Equal(baseline, suite.numFree())
}

func (suite *InodeSuite) TestPutDestroysUnlinked() {
	ip := suite.allocFile()
	suite.writeAll(ip, pattern(3000), 0)
	inum := ip.Inum
	free := suite.numFree()

	ip2 := suite.ic.Get(common.ROOTDEV, inum)
	suite.Same(ip, ip2)
	suite.inOp(func(op *jrnl.Op) {
		suite.ic.Lock(op, ip)
		ip.Nlink = 0
		suite.ic.Update(op, ip)
		suite.ic.Unlock(ip)
	})
	suite.put(ip)
	suite.Equal(common.T_FILE, suite.diskType(inum), "a reference remains")
	suite.put(ip2)
	suite.Equal(common.T_FREE, suite.diskType(inum))
	suite.Equal(free+2, suite.numFree())
	suite.Panics(func() { suite.put(ip2) }, "reference count below zero")
}

func (suite *InodeSuite) TestPutKeepsLinked() {
	ip := suite.allocFile()
	inum := ip.Inum
	suite.ic.Get(common.ROOTDEV, inum)
	suite.put(ip)
	suite.put(ip)
	suite.Equal(common.T_FILE, suite.diskType(inum))
}

func (suite *InodeSuite) TestBmapOutOfRange() {
	ip := suite.allocFile()
	op := jrnl.Begin(suite.log)
	suite.ic.Lock(op, ip)
	suite.Panics(func() { suite.ic.bmap(op, ip, common.MAXFILE) })
}

type echoDevice struct {
	written []byte
}

func (d *echoDevice) Read(ip *Inode, dst []byte, off uint64) (int, error) {
	return copy(dst, d.written), nil
}

func (d *echoDevice) Write(ip *Inode, src []byte, off uint64) (int, error) {
	d.written = append(d.written, src...)
	return len(src), nil
}

func (suite *InodeSuite) TestDeviceDispatch() {
	dev := &echoDevice{}
	suite.ic.RegisterDevice(1, dev)
	free := suite.numFree()
	suite.inOp(func(op *jrnl.Op) {
		ip := suite.ic.Alloc(op, common.ROOTDEV, common.T_DEV)
		suite.ic.Lock(op, ip)
		ip.Major = 1
		n, err := suite.ic.Write(op, ip, []byte("hi"), 0)
		suite.NoError(err)
		suite.Equal(2, n)
		buf := make([]byte, 8)
		n, err = suite.ic.Read(op, ip, buf, 0)
		suite.NoError(err)
		suite.Equal("hi", string(buf[:n]))

		ip.Major = 4
		_, err = suite.ic.Read(op, ip, buf, 0)
		suite.True(errors.Is(err, ErrNoDevice))
		_, err = suite.ic.Write(op, ip, buf, 0)
		suite.True(errors.Is(err, ErrNoDevice))
		suite.ic.Unlock(ip)
	})
	suite.Equal(free, suite.numFree(), "device I/O never maps blocks")
}

func (suite *InodeSuite) TestConcurrentFiles() {
	var ips []*Inode
	for i := 0; i < 4; i++ {
		ips = append(ips, suite.allocFile())
	}
	var wg sync.WaitGroup
	for i, ip := range ips {
		wg.Add(1)
		go func(i int, ip *Inode) {
			defer wg.Done()
			data := make([]byte, 3*disk.BlockSize)
			for j := range data {
				data[j] = byte(i)
			}
			suite.writeAll(ip, data, 0)
		}(i, ip)
	}
	wg.Wait()
	for i, ip := range ips {
		got := suite.readAt(ip, int(3*disk.BlockSize), 0)
		suite.Len(got, int(3*disk.BlockSize))
		for _, c := range got {
			if c != byte(i) {
				suite.Failf("corrupt file", "file %d has byte %d", i, c)
				break
			}
		}
	}
}
