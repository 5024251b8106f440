package fs

import (
	"errors"
	"fmt"
	"math"

	"github.com/northos/northfs/common"
	"github.com/northos/northfs/dir"
	"github.com/northos/northfs/inode"
	"github.com/northos/northfs/jrnl"
	"github.com/northos/northfs/util"
)

// Open flags
const (
	O_RDONLY = 0x000
	O_WRONLY = 0x001
	O_RDWR   = 0x002
	O_CREATE = 0x200
	O_TRUNC  = 0x400
)

// Proc is a caller of the filesystem with its own working directory. A
// Proc is not safe for concurrent use; separate Procs are.
type Proc struct {
	fsys *FileSystem
	cwd  *inode.Inode
}

func (fsys *FileSystem) NewProc() *Proc {
	return &Proc{
		fsys: fsys,
		cwd:  fsys.ic.Get(fsys.dev, common.ROOTINUM),
	}
}

// Close drops the reference to the working directory.
func (p *Proc) Close() {
	op := p.fsys.Begin()
	p.fsys.ic.Put(op, p.cwd)
	op.Commit()
	p.cwd = nil
}

// create makes a new inode named path, or, for a regular file, returns the
// existing file or device of that name. The inode is returned locked.
func (p *Proc) create(op *jrnl.Op, path string, typ int16, major int16, minor int16) (*inode.Inode, error) {
	ic := p.fsys.ic
	dp, name, err := p.fsys.res.NameiParent(op, p.cwd, path)
	if err != nil {
		return nil, err
	}
	ic.Lock(op, dp)

	ip, _, err := dir.Lookup(op, ic, dp, name)
	if err == nil {
		ic.UnlockPut(op, dp)
		ic.Lock(op, ip)
		if typ == common.T_FILE && (ip.Type == common.T_FILE || ip.Type == common.T_DEV) {
			return ip, nil
		}
		ic.UnlockPut(op, ip)
		return nil, fmt.Errorf("create %s: %w", path, ErrExists)
	}
	if typ == common.T_DIR && dp.Nlink >= math.MaxInt16 {
		ic.UnlockPut(op, dp)
		return nil, fmt.Errorf("create %s: %w", path, ErrTooManyLinks)
	}

	ip = ic.Alloc(op, dp.Dev, typ)
	ic.Lock(op, ip)
	ip.Major = major
	ip.Minor = minor
	ip.Nlink = 1
	ic.Update(op, ip)

	if typ == common.T_DIR {
		// for ".."
		dp.Nlink++
		ic.Update(op, dp)
		if err := dir.Link(op, ic, ip, ".", ip.Inum); err != nil {
			util.Fatalf("create dots: %v", err)
		}
		if err := dir.Link(op, ic, ip, "..", dp.Inum); err != nil {
			util.Fatalf("create dots: %v", err)
		}
	}
	if err := dir.Link(op, ic, dp, name, ip.Inum); err != nil {
		util.Fatalf("create: link %s: %v", name, err)
	}
	ic.UnlockPut(op, dp)
	return ip, nil
}

func (p *Proc) Mkdir(path string) error {
	op := p.fsys.Begin()
	defer op.Commit()
	ip, err := p.create(op, path, common.T_DIR, 0, 0)
	if err != nil {
		return err
	}
	p.fsys.ic.UnlockPut(op, ip)
	return nil
}

func (p *Proc) Mknod(path string, major int16, minor int16) error {
	op := p.fsys.Begin()
	defer op.Commit()
	ip, err := p.create(op, path, common.T_DEV, major, minor)
	if err != nil {
		return err
	}
	p.fsys.ic.UnlockPut(op, ip)
	return nil
}

func (p *Proc) Open(path string, flags int) (*File, error) {
	ic := p.fsys.ic
	op := p.fsys.Begin()
	defer op.Commit()

	var ip *inode.Inode
	var err error
	if flags&O_CREATE != 0 {
		ip, err = p.create(op, path, common.T_FILE, 0, 0)
		if err != nil {
			return nil, err
		}
	} else {
		ip, err = p.fsys.res.Namei(op, p.cwd, path)
		if err != nil {
			return nil, err
		}
		ic.Lock(op, ip)
		if ip.Type == common.T_DIR && flags&(O_WRONLY|O_RDWR) != 0 {
			ic.UnlockPut(op, ip)
			return nil, fmt.Errorf("open %s for writing: %w", path, ErrIsDir)
		}
	}
	if flags&O_TRUNC != 0 && ip.Type == common.T_FILE {
		ic.Truncate(op, ip)
	}
	ic.Unlock(ip)

	f := &File{
		fsys:     p.fsys,
		ip:       ip,
		readable: flags&O_WRONLY == 0,
		writable: flags&(O_WRONLY|O_RDWR) != 0,
	}
	return f, nil
}

func (p *Proc) Link(old string, new string) error {
	ic := p.fsys.ic
	op := p.fsys.Begin()
	defer op.Commit()

	ip, err := p.fsys.res.Namei(op, p.cwd, old)
	if err != nil {
		return err
	}
	ic.Lock(op, ip)
	if ip.Type == common.T_DIR {
		ic.UnlockPut(op, ip)
		return fmt.Errorf("link %s: %w", old, ErrIsDir)
	}
	if ip.Nlink >= math.MaxInt16 {
		ic.UnlockPut(op, ip)
		return fmt.Errorf("link %s: %w", old, ErrTooManyLinks)
	}
	ip.Nlink++
	ic.Update(op, ip)
	ic.Unlock(ip)

	dp, name, err := p.fsys.res.NameiParent(op, p.cwd, new)
	if err == nil {
		ic.Lock(op, dp)
		if dp.Dev != ip.Dev {
			err = fmt.Errorf("link across devices: %w", ErrInvalid)
		} else {
			err = dir.Link(op, ic, dp, name, ip.Inum)
		}
		ic.UnlockPut(op, dp)
	}
	if err != nil {
		ic.Lock(op, ip)
		ip.Nlink--
		ic.Update(op, ip)
		ic.UnlockPut(op, ip)
		return err
	}
	ic.Put(op, ip)
	return nil
}

func isDot(name string) bool {
	n := dir.MkName(name)
	return dir.NameEq(n, dir.MkName(".")) || dir.NameEq(n, dir.MkName(".."))
}

func (p *Proc) Unlink(path string) error {
	ic := p.fsys.ic
	op := p.fsys.Begin()
	defer op.Commit()

	dp, name, err := p.fsys.res.NameiParent(op, p.cwd, path)
	if err != nil {
		return err
	}
	ic.Lock(op, dp)
	if isDot(name) {
		ic.UnlockPut(op, dp)
		return fmt.Errorf("unlink %s: %w", path, ErrInvalid)
	}
	ip, off, err := dir.Lookup(op, ic, dp, name)
	if err != nil {
		ic.UnlockPut(op, dp)
		return fmt.Errorf("unlink %s: %w", path, ErrNotFound)
	}
	ic.Lock(op, ip)
	if ip.Nlink < 1 {
		util.Fatalf("unlink: nlink < 1")
	}
	if ip.Type == common.T_DIR && !dir.IsEmpty(op, ic, ip) {
		ic.UnlockPut(op, ip)
		ic.UnlockPut(op, dp)
		return fmt.Errorf("unlink %s: %w", path, ErrNotEmpty)
	}
	if err := dir.Unlink(op, ic, dp, off); err != nil {
		util.Fatalf("unlink: %v", err)
	}
	if ip.Type == common.T_DIR {
		dp.Nlink--
		ic.Update(op, dp)
	}
	ic.UnlockPut(op, dp)

	ip.Nlink--
	ic.Update(op, ip)
	ic.UnlockPut(op, ip)
	return nil
}

func (p *Proc) Chdir(path string) error {
	ic := p.fsys.ic
	op := p.fsys.Begin()
	defer op.Commit()
	ip, err := p.fsys.res.Namei(op, p.cwd, path)
	if err != nil {
		return err
	}
	ic.Lock(op, ip)
	if ip.Type != common.T_DIR {
		ic.UnlockPut(op, ip)
		return fmt.Errorf("chdir %s: %w", path, ErrNotDir)
	}
	ic.Unlock(ip)
	ic.Put(op, p.cwd)
	p.cwd = ip
	return nil
}

func (p *Proc) Stat(path string) (inode.Stat, error) {
	ic := p.fsys.ic
	op := p.fsys.Begin()
	defer op.Commit()
	ip, err := p.fsys.res.Namei(op, p.cwd, path)
	if err != nil {
		return inode.Stat{}, err
	}
	ic.Lock(op, ip)
	st := ic.Stat(ip)
	ic.UnlockPut(op, ip)
	return st, nil
}

type DirEntry struct {
	Name string
	Inum common.Inum
}

func (p *Proc) ReadDir(path string) ([]DirEntry, error) {
	ic := p.fsys.ic
	op := p.fsys.Begin()
	defer op.Commit()
	ip, err := p.fsys.res.Namei(op, p.cwd, path)
	if err != nil {
		return nil, err
	}
	ic.Lock(op, ip)
	if ip.Type != common.T_DIR {
		ic.UnlockPut(op, ip)
		return nil, fmt.Errorf("readdir %s: %w", path, ErrNotDir)
	}
	var ents []DirEntry
	for _, de := range dir.Entries(op, ic, ip) {
		ents = append(ents, DirEntry{Name: de.NameString(), Inum: de.Inum})
	}
	ic.UnlockPut(op, ip)
	return ents, nil
}

// IsNotFound reports whether err means a name did not resolve.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, dir.ErrNotFound)
}
