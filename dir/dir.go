// Package dir stores directories as files of fixed-size entries.
//
// Each entry is DIRENTSZ bytes: a little-endian 16-bit inode number followed
// by a DIRSIZ-byte name, NUL-padded but not NUL-terminated when it fills the
// slot. Inode number 0 marks a free slot.
package dir

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/northos/northfs/common"
	"github.com/northos/northfs/inode"
	"github.com/northos/northfs/jrnl"
	"github.com/northos/northfs/util"
)

var (
	ErrNotFound = errors.New("no such entry")
	ErrExists   = errors.New("entry exists")
)

type Dirent struct {
	Inum common.Inum
	Name [common.DIRSIZ]byte
}

// MkName truncates name to DIRSIZ bytes and pads it with NULs.
func MkName(name string) [common.DIRSIZ]byte {
	var n [common.DIRSIZ]byte
	copy(n[:], name)
	return n
}

// NameEq compares two names over at most DIRSIZ bytes, stopping at the
// first NUL.
func NameEq(a [common.DIRSIZ]byte, b [common.DIRSIZ]byte) bool {
	for i := uint64(0); i < common.DIRSIZ; i++ {
		if a[i] != b[i] {
			return false
		}
		if a[i] == 0 {
			return true
		}
	}
	return true
}

func (de Dirent) NameString() string {
	for i, c := range de.Name {
		if c == 0 {
			return string(de.Name[:i])
		}
	}
	return string(de.Name[:])
}

func (de Dirent) Encode() []byte {
	if uint64(de.Inum) > math.MaxUint16 {
		util.Fatalf("dirent %q: inode %d does not fit", de.NameString(), de.Inum)
	}
	data := make([]byte, common.DIRENTSZ)
	binary.LittleEndian.PutUint16(data[0:2], uint16(de.Inum))
	copy(data[2:], de.Name[:])
	return data
}

func Decode(data []byte) Dirent {
	var de Dirent
	de.Inum = common.Inum(binary.LittleEndian.Uint16(data[0:2]))
	copy(de.Name[:], data[2:common.DIRENTSZ])
	return de
}

// readEntry reads the entry at off of a locked directory.
func readEntry(op *jrnl.Op, ic *inode.Icache, dp *inode.Inode, off uint64) Dirent {
	data := make([]byte, common.DIRENTSZ)
	n, err := ic.Read(op, dp, data, off)
	if err != nil || uint64(n) != common.DIRENTSZ {
		util.Fatalf("dir: short read of entry at %d in inode %d", off, dp.Inum)
	}
	return Decode(data)
}

func checkDir(dp *inode.Inode, what string) {
	if dp.Type != common.T_DIR {
		util.Fatalf("%s: inode %d is not a directory", what, dp.Inum)
	}
}

// Lookup finds name in the locked directory dp and returns an unlocked
// handle to its inode together with the entry's offset.
func Lookup(op *jrnl.Op, ic *inode.Icache, dp *inode.Inode, name string) (*inode.Inode, uint64, error) {
	checkDir(dp, "dirlookup")
	key := MkName(name)
	for off := uint64(0); off < uint64(dp.Size); off += common.DIRENTSZ {
		de := readEntry(op, ic, dp, off)
		if de.Inum == common.NULLINUM {
			continue
		}
		if NameEq(key, de.Name) {
			return ic.Get(dp.Dev, de.Inum), off, nil
		}
	}
	return nil, 0, fmt.Errorf("%q: %w", name, ErrNotFound)
}

// Link adds the entry (name, inum) to the locked directory dp, reusing the
// first free slot.
func Link(op *jrnl.Op, ic *inode.Icache, dp *inode.Inode, name string, inum common.Inum) error {
	if uint64(inum) > math.MaxUint16 {
		util.Fatalf("dirlink %q: inode %d does not fit an entry", name, inum)
	}
	ip, _, err := Lookup(op, ic, dp, name)
	if err == nil {
		ic.Put(op, ip)
		return fmt.Errorf("%q: %w", name, ErrExists)
	}

	var off uint64
	for off = 0; off < uint64(dp.Size); off += common.DIRENTSZ {
		de := readEntry(op, ic, dp, off)
		if de.Inum == common.NULLINUM {
			break
		}
	}
	de := Dirent{Inum: inum, Name: MkName(name)}
	n, err := ic.Write(op, dp, de.Encode(), off)
	if err != nil {
		return fmt.Errorf("dirlink %q: %w", name, err)
	}
	if uint64(n) != common.DIRENTSZ {
		util.Fatalf("dirlink: short write")
	}
	return nil
}

// Unlink clears the entry at off of the locked directory dp.
func Unlink(op *jrnl.Op, ic *inode.Icache, dp *inode.Inode, off uint64) error {
	checkDir(dp, "dirunlink")
	_, err := ic.Write(op, dp, make([]byte, common.DIRENTSZ), off)
	return err
}

// Entries lists the live entries of the locked directory dp.
func Entries(op *jrnl.Op, ic *inode.Icache, dp *inode.Inode) []Dirent {
	checkDir(dp, "direntries")
	var des []Dirent
	for off := uint64(0); off < uint64(dp.Size); off += common.DIRENTSZ {
		de := readEntry(op, ic, dp, off)
		if de.Inum != common.NULLINUM {
			des = append(des, de)
		}
	}
	return des
}

// IsEmpty reports whether dp holds nothing but "." and "..", which occupy
// the first two slots.
func IsEmpty(op *jrnl.Op, ic *inode.Icache, dp *inode.Inode) bool {
	checkDir(dp, "isdirempty")
	for off := 2 * common.DIRENTSZ; off < uint64(dp.Size); off += common.DIRENTSZ {
		if readEntry(op, ic, dp, off).Inum != common.NULLINUM {
			return false
		}
	}
	return true
}
