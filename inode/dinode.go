package inode

import (
	"github.com/tchajed/marshal"

	"github.com/northos/northfs/common"
)

// Dinode is the on-disk inode record.
type Dinode struct {
	Type  int16
	Major int16 // device inodes only
	Minor int16
	Nlink int16
	Size  uint32
	Addrs [common.NADDRS]uint32 // direct, single indirect, double indirect
}

func pack16(lo int16, hi int16) uint32 {
	return uint32(uint16(lo)) | uint32(uint16(hi))<<16
}

func unpack16(v uint32) (int16, int16) {
	return int16(uint16(v)), int16(uint16(v >> 16))
}

// Encode produces the INODESZ-byte record.
func (d *Dinode) Encode() []byte {
	enc := marshal.NewEnc(common.INODESZ)
	enc.PutInt32(pack16(d.Type, d.Major))
	enc.PutInt32(pack16(d.Minor, d.Nlink))
	enc.PutInt32(d.Size)
	for _, a := range d.Addrs {
		enc.PutInt32(a)
	}
	data := enc.Finish()
	if uint64(len(data)) != common.INODESZ {
		panic("inode: record is not INODESZ bytes")
	}
	return data
}

func DecodeDinode(data []byte) Dinode {
	var d Dinode
	dec := marshal.NewDec(data)
	d.Type, d.Major = unpack16(dec.GetInt32())
	d.Minor, d.Nlink = unpack16(dec.GetInt32())
	d.Size = dec.GetInt32()
	for i := range d.Addrs {
		d.Addrs[i] = dec.GetInt32()
	}
	return d
}
