package fs

import (
	"io"

	"github.com/northos/northfs/inode"
)

// Well-known device majors.
const (
	CONSOLE int16 = 1
	NULLDEV int16 = 2
)

// Console connects a device inode to a reader and a writer, such as the
// host's standard streams. Offsets are ignored.
type Console struct {
	In  io.Reader
	Out io.Writer
}

func (c Console) Read(ip *inode.Inode, dst []byte, off uint64) (int, error) {
	if c.In == nil {
		return 0, nil
	}
	n, err := c.In.Read(dst)
	if err == io.EOF {
		err = nil
	}
	return n, err
}

func (c Console) Write(ip *inode.Inode, src []byte, off uint64) (int, error) {
	if c.Out == nil {
		return len(src), nil
	}
	return c.Out.Write(src)
}

// Null reads as empty and discards writes.
type Null struct{}

func (Null) Read(ip *inode.Inode, dst []byte, off uint64) (int, error) {
	return 0, nil
}

func (Null) Write(ip *inode.Inode, src []byte, off uint64) (int, error) {
	return len(src), nil
}
