package fs

import (
	"fmt"
	"io"
	"sync"

	"github.com/northos/northfs/common"
	"github.com/northos/northfs/disk"
	"github.com/northos/northfs/inode"
)

// MaxWriteChunk is the largest slice of a write done in one journal
// operation. Two blocks of data plus the index, bitmap and inode blocks
// they may touch stay within common.MAXOPBLOCKS.
const MaxWriteChunk = 2 * disk.BlockSize

// File is an open inode with an offset. It implements io.Reader, io.Writer
// and io.Seeker.
type File struct {
	mu       sync.Mutex
	fsys     *FileSystem
	ip       *inode.Inode // nil once closed
	readable bool
	writable bool
	off      uint64
}

func (f *File) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ip == nil || !f.readable {
		return 0, ErrBadFD
	}
	ic := f.fsys.ic
	op := f.fsys.Begin()
	ic.Lock(op, f.ip)
	n, err := ic.Read(op, f.ip, p, f.off)
	isDev := f.ip.Type == common.T_DEV
	ic.Unlock(f.ip)
	op.Commit()
	if err != nil {
		return n, err
	}
	if !isDev {
		f.off += uint64(n)
	}
	if n == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	return n, nil
}

// Write splits p into chunks of at most MaxWriteChunk bytes, each written
// by its own operation, so a large write is not atomic as a whole.
func (f *File) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ip == nil || !f.writable {
		return 0, ErrBadFD
	}
	ic := f.fsys.ic
	var tot int
	for tot < len(p) {
		end := tot + int(MaxWriteChunk)
		if end > len(p) {
			end = len(p)
		}
		op := f.fsys.Begin()
		ic.Lock(op, f.ip)
		n, err := ic.Write(op, f.ip, p[tot:end], f.off)
		isDev := f.ip.Type == common.T_DEV
		ic.Unlock(f.ip)
		op.Commit()
		if !isDev {
			f.off += uint64(n)
		}
		if err != nil {
			return tot + n, err
		}
		if n != end-tot {
			return tot + n, io.ErrShortWrite
		}
		tot = end
	}
	return tot, nil
}

func (f *File) Seek(offset int64, whence int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ip == nil {
		return 0, ErrBadFD
	}
	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = int64(f.off)
	case io.SeekEnd:
		st := f.stat()
		base = int64(st.Size)
	default:
		return 0, fmt.Errorf("whence %d: %w", whence, ErrInvalid)
	}
	pos := base + offset
	if pos < 0 {
		return 0, fmt.Errorf("seek to %d: %w", pos, ErrInvalid)
	}
	f.off = uint64(pos)
	return pos, nil
}

func (f *File) stat() inode.Stat {
	ic := f.fsys.ic
	op := f.fsys.Begin()
	ic.Lock(op, f.ip)
	st := ic.Stat(f.ip)
	ic.Unlock(f.ip)
	op.Commit()
	return st
}

func (f *File) Stat() (inode.Stat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ip == nil {
		return inode.Stat{}, ErrBadFD
	}
	return f.stat(), nil
}

// Close drops the file's reference; an unlinked file is freed when its
// last reference goes away.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ip == nil {
		return ErrBadFD
	}
	op := f.fsys.Begin()
	f.fsys.ic.Put(op, f.ip)
	op.Commit()
	f.ip = nil
	return nil
}
