// Package namei resolves slash-separated paths to inodes.
package namei

import (
	"errors"
	"fmt"
	"strings"

	"github.com/northos/northfs/common"
	"github.com/northos/northfs/dir"
	"github.com/northos/northfs/inode"
	"github.com/northos/northfs/jrnl"
)

var (
	ErrNotFound = errors.New("no such file or directory")
	ErrNotDir   = errors.New("not a directory")
)

type Resolver struct {
	ic  *inode.Icache
	dev uint32
}

func MkResolver(ic *inode.Icache, dev uint32) *Resolver {
	return &Resolver{ic: ic, dev: dev}
}

// skipElem splits the next element off path, skipping leading and trailing
// slashes. The element is truncated to DIRSIZ bytes. ok is false when no
// element remains.
//
//	skipElem("a/bb/c") = "a", "bb/c"
//	skipElem("///a//bb") = "a", "bb"
//	skipElem("a") = "a", ""
//	skipElem("") = skipElem("////") = false
func skipElem(path string) (elem string, rest string, ok bool) {
	path = strings.TrimLeft(path, "/")
	if path == "" {
		return "", "", false
	}
	i := strings.IndexByte(path, '/')
	if i < 0 {
		i = len(path)
	}
	elem = path[:i]
	if uint64(len(elem)) > common.DIRSIZ {
		elem = elem[:common.DIRSIZ]
	}
	rest = strings.TrimLeft(path[i:], "/")
	return elem, rest, true
}

func (r *Resolver) start(path string, cwd *inode.Inode) *inode.Inode {
	if strings.HasPrefix(path, "/") || cwd == nil {
		return r.ic.Get(r.dev, common.ROOTINUM)
	}
	return r.ic.Dup(cwd)
}

// namex walks path. With parent set it stops before the last element and
// returns that element. The returned inode is unlocked and referenced.
func (r *Resolver) namex(op *jrnl.Op, cwd *inode.Inode, path string, parent bool) (*inode.Inode, string, error) {
	if path == "" {
		return nil, "", fmt.Errorf("empty path: %w", ErrNotFound)
	}
	ip := r.start(path, cwd)
	rest := path
	for {
		elem, next, ok := skipElem(rest)
		if !ok {
			break
		}
		rest = next
		r.ic.Lock(op, ip)
		if ip.Type != common.T_DIR {
			r.ic.UnlockPut(op, ip)
			return nil, "", fmt.Errorf("%s: %w", path, ErrNotDir)
		}
		if parent && rest == "" {
			// stop one level early
			r.ic.Unlock(ip)
			return ip, elem, nil
		}
		nextIp, _, err := dir.Lookup(op, r.ic, ip, elem)
		r.ic.UnlockPut(op, ip)
		if err != nil {
			return nil, "", fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		ip = nextIp
	}
	if parent {
		r.ic.Put(op, ip)
		return nil, "", fmt.Errorf("%s has no parent: %w", path, ErrNotFound)
	}
	return ip, "", nil
}

// Namei returns an unlocked, referenced handle to the inode named by path.
// Relative paths start at cwd.
func (r *Resolver) Namei(op *jrnl.Op, cwd *inode.Inode, path string) (*inode.Inode, error) {
	ip, _, err := r.namex(op, cwd, path, false)
	return ip, err
}

// NameiParent returns the directory that would hold the last element of
// path, and that element.
func (r *Resolver) NameiParent(op *jrnl.Op, cwd *inode.Inode, path string) (*inode.Inode, string, error) {
	return r.namex(op, cwd, path, true)
}
