// Copyright 2026 The RHSS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package transport adapts internal/namespace.Engine to the kernel-facing
// fuseutil.FileSystem interface. It owns exactly the bookkeeping the
// namespace engine deliberately has no opinion about: inode numbers,
// lookup counts, and directory/file handle IDs as the kernel understands
// them. Every method here is a thin translation layer; the merge, tier
// resolution, and migration logic all live in internal/namespace.
package transport

import (
	"context"
	"io"
	"sync"
	"syscall"
	"time"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/rhss-project/rhss/internal/namespace"
	"github.com/rhss-project/rhss/internal/rhsserrors"
)

// FileSystem implements fuseutil.FileSystem on top of a namespace.Engine.
type FileSystem struct {
	Engine *namespace.Engine
	Uid    uint32
	Gid    uint32

	mu          sync.Mutex
	paths       map[fuseops.InodeID]string
	inodeOf     map[string]fuseops.InodeID
	lookupCount map[fuseops.InodeID]uint64
	nextInode   fuseops.InodeID

	dirHandles  map[fuseops.HandleID][]namespace.DirEntry
	fileHandles map[fuseops.HandleID]*namespace.Handle
	nextHandle  fuseops.HandleID
}

var _ fuseutil.FileSystem = &FileSystem{}

// New builds a transport ready to be wrapped with fuseutil.NewFileSystemServer.
func New(engine *namespace.Engine, uid, gid uint32) *FileSystem {
	return &FileSystem{
		Engine:      engine,
		Uid:         uid,
		Gid:         gid,
		paths:       map[fuseops.InodeID]string{fuseops.RootInodeID: ""},
		inodeOf:     map[string]fuseops.InodeID{"": fuseops.RootInodeID},
		lookupCount: map[fuseops.InodeID]uint64{fuseops.RootInodeID: 1},
		nextInode:   fuseops.RootInodeID + 1,
		dirHandles:  map[fuseops.HandleID][]namespace.DirEntry{},
		fileHandles: map[fuseops.HandleID]*namespace.Handle{},
		nextHandle:  1,
	}
}

// Server wraps fs as a fuse.Server ready to pass to fuse.Mount.
func (fs *FileSystem) Server() fuse.Server {
	return fuseutil.NewFileSystemServer(fs)
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *FileSystem) pathFor(id fuseops.InodeID) (string, bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	p, ok := fs.paths[id]
	return p, ok
}

// inodeFor returns the inode ID for a logical path, allocating one and
// setting its lookup count to zero if this is the first time the path has
// been named. Callers must increment the lookup count themselves once the
// kernel has actually been handed the ID (LookUpInode, MkDir, CreateFile).
//
// LOCKS_EXCLUDED(fs.mu)
func (fs *FileSystem) inodeFor(p string) fuseops.InodeID {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if id, ok := fs.inodeOf[p]; ok {
		return id
	}
	id := fs.nextInode
	fs.nextInode++
	fs.inodeOf[p] = id
	fs.paths[id] = p
	return id
}

func (fs *FileSystem) incLookup(id fuseops.InodeID, n uint64) {
	fs.mu.Lock()
	fs.lookupCount[id] += n
	fs.mu.Unlock()
}

func toAttributes(a namespace.Attr, uid, gid uint32) fuseops.InodeAttributes {
	nlink := uint32(1)
	if a.IsDir {
		nlink = 2
	}
	return fuseops.InodeAttributes{
		Size:   uint64(a.Size),
		Nlink:  nlink,
		Mode:   a.Mode,
		Atime:  a.ModTime,
		Mtime:  a.ModTime,
		Ctime:  a.ModTime,
		Crtime: a.ModTime,
		Uid:    uid,
		Gid:    gid,
	}
}

// toErrno translates a namespace/rhsserrors error into the errno sentinel
// the kernel transport expects. Anything unrecognized becomes EIO so a bug
// never silently reports success.
func toErrno(err error) error {
	if err == nil {
		return nil
	}
	switch err.(type) {
	case *rhsserrors.NotFound:
		return fuse.ENOENT
	case *rhsserrors.AlreadyExists:
		return fuse.EEXIST
	case *rhsserrors.NotEmpty:
		return fuse.ENOTEMPTY
	case *rhsserrors.InvalidPath:
		return fuse.EINVAL
	case *rhsserrors.ReadOnlyFS:
		return syscall.EROFS
	case *rhsserrors.IoError, *rhsserrors.MigrationFailed, *rhsserrors.StorageLocked:
		return fuse.EIO
	default:
		return fuse.EIO
	}
}

func (fs *FileSystem) attr(ctx context.Context, p string) (fuseops.InodeAttributes, error) {
	a, err := fs.Engine.GetAttr(ctx, p)
	if err != nil {
		return fuseops.InodeAttributes{}, toErrno(err)
	}
	return toAttributes(a, fs.Uid, fs.Gid), nil
}

////////////////////////////////////////////////////////////////////////
// fuseutil.FileSystem methods
////////////////////////////////////////////////////////////////////////

func (fs *FileSystem) Init(ctx context.Context, op *fuseops.InitOp) error {
	return nil
}

func (fs *FileSystem) StatFS(ctx context.Context, op *fuseops.StatFSOp) error {
	res, err := fs.Engine.StatFS(ctx)
	if err != nil {
		return toErrno(err)
	}
	op.BlockSize = res.BlockSize
	op.Blocks = res.TotalBytes / uint64(res.BlockSize)
	op.BlocksFree = res.FreeBytes / uint64(res.BlockSize)
	op.BlocksAvailable = op.BlocksFree
	op.IoSize = res.BlockSize
	return nil
}

func (fs *FileSystem) LookUpInode(ctx context.Context, op *fuseops.LookUpInodeOp) error {
	parent, ok := fs.pathFor(op.Parent)
	if !ok {
		return fuse.ENOENT
	}
	child := joinLogical(parent, op.Name)

	attr, err := fs.attr(ctx, child)
	if err != nil {
		return err
	}

	id := fs.inodeFor(child)
	fs.incLookup(id, 1)
	op.Entry.Child = id
	op.Entry.Attributes = attr
	return nil
}

func (fs *FileSystem) GetInodeAttributes(ctx context.Context, op *fuseops.GetInodeAttributesOp) error {
	p, ok := fs.pathFor(op.Inode)
	if !ok {
		return fuse.ENOENT
	}
	attr, err := fs.attr(ctx, p)
	if err != nil {
		return err
	}
	op.Attributes = attr
	return nil
}

func (fs *FileSystem) SetInodeAttributes(ctx context.Context, op *fuseops.SetInodeAttributesOp) error {
	p, ok := fs.pathFor(op.Inode)
	if !ok {
		return fuse.ENOENT
	}

	if op.Size != nil {
		if err := fs.Engine.Truncate(ctx, p, int64(*op.Size)); err != nil {
			return toErrno(err)
		}
	}
	if op.Mode != nil {
		if err := fs.Engine.Chmod(ctx, p, *op.Mode); err != nil {
			return toErrno(err)
		}
	}
	if op.Atime != nil || op.Mtime != nil {
		a, m := time.Time{}, time.Time{}
		if op.Atime != nil {
			a = *op.Atime
		}
		if op.Mtime != nil {
			m = *op.Mtime
		}
		if err := fs.Engine.Utimens(ctx, p, a, m); err != nil {
			return toErrno(err)
		}
	}

	attr, err := fs.attr(ctx, p)
	if err != nil {
		return err
	}
	op.Attributes = attr
	return nil
}

func (fs *FileSystem) ForgetInode(ctx context.Context, op *fuseops.ForgetInodeOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.lookupCount[op.Inode] <= op.N {
		p := fs.paths[op.Inode]
		delete(fs.lookupCount, op.Inode)
		delete(fs.paths, op.Inode)
		delete(fs.inodeOf, p)
	} else {
		fs.lookupCount[op.Inode] -= op.N
	}
	return nil
}

func (fs *FileSystem) MkDir(ctx context.Context, op *fuseops.MkDirOp) error {
	parent, ok := fs.pathFor(op.Parent)
	if !ok {
		return fuse.ENOENT
	}
	child := joinLogical(parent, op.Name)
	if err := fs.Engine.Mkdir(ctx, child, op.Mode); err != nil {
		return toErrno(err)
	}
	attr, err := fs.attr(ctx, child)
	if err != nil {
		return err
	}
	id := fs.inodeFor(child)
	fs.incLookup(id, 1)
	op.Entry.Child = id
	op.Entry.Attributes = attr
	return nil
}

func (fs *FileSystem) CreateFile(ctx context.Context, op *fuseops.CreateFileOp) error {
	parent, ok := fs.pathFor(op.Parent)
	if !ok {
		return fuse.ENOENT
	}
	child := joinLogical(parent, op.Name)
	h, err := fs.Engine.Create(ctx, child, op.Mode)
	if err != nil {
		return toErrno(err)
	}

	attr, err := fs.attr(ctx, child)
	if err != nil {
		_ = fs.Engine.Close(ctx, h)
		return err
	}
	id := fs.inodeFor(child)
	fs.incLookup(id, 1)
	op.Entry.Child = id
	op.Entry.Attributes = attr

	fs.mu.Lock()
	hid := fs.nextHandle
	fs.nextHandle++
	fs.fileHandles[hid] = h
	fs.mu.Unlock()
	op.Handle = hid
	return nil
}

func (fs *FileSystem) RmDir(ctx context.Context, op *fuseops.RmDirOp) error {
	parent, ok := fs.pathFor(op.Parent)
	if !ok {
		return fuse.ENOENT
	}
	child := joinLogical(parent, op.Name)
	if err := fs.Engine.Rmdir(ctx, child); err != nil {
		return toErrno(err)
	}
	return nil
}

func (fs *FileSystem) Unlink(ctx context.Context, op *fuseops.UnlinkOp) error {
	parent, ok := fs.pathFor(op.Parent)
	if !ok {
		return fuse.ENOENT
	}
	child := joinLogical(parent, op.Name)
	if err := fs.Engine.Unlink(ctx, child); err != nil {
		return toErrno(err)
	}
	return nil
}

func (fs *FileSystem) Rename(ctx context.Context, op *fuseops.RenameOp) error {
	oldParent, ok := fs.pathFor(op.OldParent)
	if !ok {
		return fuse.ENOENT
	}
	newParent, ok := fs.pathFor(op.NewParent)
	if !ok {
		return fuse.ENOENT
	}
	src := joinLogical(oldParent, op.OldName)
	dst := joinLogical(newParent, op.NewName)
	if err := fs.Engine.Rename(ctx, src, dst); err != nil {
		return toErrno(err)
	}

	fs.mu.Lock()
	if id, ok := fs.inodeOf[src]; ok {
		delete(fs.inodeOf, src)
		fs.inodeOf[dst] = id
		fs.paths[id] = dst
	}
	fs.mu.Unlock()
	return nil
}

func (fs *FileSystem) OpenDir(ctx context.Context, op *fuseops.OpenDirOp) error {
	p, ok := fs.pathFor(op.Inode)
	if !ok {
		return fuse.ENOENT
	}
	entries, err := fs.Engine.ReadDir(ctx, p)
	if err != nil {
		return toErrno(err)
	}

	fs.mu.Lock()
	hid := fs.nextHandle
	fs.nextHandle++
	fs.dirHandles[hid] = entries
	fs.mu.Unlock()
	op.Handle = hid
	return nil
}

func (fs *FileSystem) ReadDir(ctx context.Context, op *fuseops.ReadDirOp) error {
	fs.mu.Lock()
	entries, ok := fs.dirHandles[op.Handle]
	fs.mu.Unlock()
	if !ok {
		return fuse.EIO
	}
	dir, _ := fs.pathFor(op.Inode)

	offset := int(op.Offset)
	for offset < len(entries) {
		e := entries[offset]
		n := fuseutil.WriteDirent(op.Dst[op.BytesRead:], fuseutil.Dirent{
			Offset: fuseops.DirOffset(offset + 1),
			Inode:  fs.inodeFor(joinLogical(dir, e.Name)),
			Name:   e.Name,
			Type:   direntType(e.IsDir),
		})
		if n == 0 {
			break
		}
		op.BytesRead += n
		offset++
	}
	return nil
}

func direntType(isDir bool) fuseutil.DirentType {
	if isDir {
		return fuseutil.DT_Directory
	}
	return fuseutil.DT_File
}

func (fs *FileSystem) ReleaseDirHandle(ctx context.Context, op *fuseops.ReleaseDirHandleOp) error {
	fs.mu.Lock()
	delete(fs.dirHandles, op.Handle)
	fs.mu.Unlock()
	return nil
}

func (fs *FileSystem) OpenFile(ctx context.Context, op *fuseops.OpenFileOp) error {
	p, ok := fs.pathFor(op.Inode)
	if !ok {
		return fuse.ENOENT
	}
	h, err := fs.Engine.Open(ctx, p)
	if err != nil {
		return toErrno(err)
	}

	fs.mu.Lock()
	hid := fs.nextHandle
	fs.nextHandle++
	fs.fileHandles[hid] = h
	fs.mu.Unlock()
	op.Handle = hid
	return nil
}

func (fs *FileSystem) ReadFile(ctx context.Context, op *fuseops.ReadFileOp) error {
	fs.mu.Lock()
	h, ok := fs.fileHandles[op.Handle]
	fs.mu.Unlock()
	if !ok {
		return fuse.EIO
	}
	n, err := fs.Engine.Read(ctx, h, op.Offset, op.Dst)
	op.BytesRead = n
	// io.EOF at end-of-file is expected and not reported to the kernel; any
	// other read error is.
	if err != nil && err != io.EOF {
		return toErrno(&rhsserrors.IoError{Op: "read", Err: err})
	}
	return nil
}

func (fs *FileSystem) WriteFile(ctx context.Context, op *fuseops.WriteFileOp) error {
	fs.mu.Lock()
	h, ok := fs.fileHandles[op.Handle]
	fs.mu.Unlock()
	if !ok {
		return fuse.EIO
	}
	_, err := fs.Engine.Write(ctx, h, op.Offset, op.Data)
	if err != nil {
		return toErrno(err)
	}
	return nil
}

func (fs *FileSystem) SyncFile(ctx context.Context, op *fuseops.SyncFileOp) error {
	return nil
}

func (fs *FileSystem) FlushFile(ctx context.Context, op *fuseops.FlushFileOp) error {
	return nil
}

func (fs *FileSystem) ReleaseFileHandle(ctx context.Context, op *fuseops.ReleaseFileHandleOp) error {
	fs.mu.Lock()
	h, ok := fs.fileHandles[op.Handle]
	delete(fs.fileHandles, op.Handle)
	fs.mu.Unlock()
	if !ok {
		return nil
	}
	return toErrno(fs.Engine.Close(ctx, h))
}

func (fs *FileSystem) Destroy() {}

func joinLogical(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}
