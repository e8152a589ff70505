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

package transport

import (
	"context"
	"testing"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/timeutil"
	"github.com/rhss-project/rhss/internal/loccache"
	"github.com/rhss-project/rhss/internal/migration"
	"github.com/rhss-project/rhss/internal/namespace"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func newTestTransport(t *testing.T, threshold int64) *FileSystem {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/hot", 0o755))
	require.NoError(t, fs.MkdirAll("/cold", 0o755))
	cache, err := loccache.New(1000, timeutil.RealClock(), nil)
	require.NoError(t, err)
	mig := &migration.Engine{Hot: "/hot", Cold: "/cold", FS: fs, Clock: timeutil.RealClock()}
	engine := namespace.New("/hot", "/cold", fs, cache, mig, threshold, timeutil.RealClock())
	engine.Statfs = func(root string) (uint64, uint64, uint32, error) {
		return 1000 * 4096, 500 * 4096, 4096, nil
	}
	return New(engine, 1000, 1000)
}

func TestCreateFile_ThenLookUp(t *testing.T) {
	tr := newTestTransport(t, 100)
	ctx := context.Background()

	createOp := &fuseops.CreateFileOp{Parent: fuseops.RootInodeID, Name: "a.txt", Mode: 0o644}
	require.NoError(t, tr.CreateFile(ctx, createOp))
	require.NotZero(t, createOp.Entry.Child)
	require.NotZero(t, createOp.Handle)

	lookupOp := &fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: "a.txt"}
	require.NoError(t, tr.LookUpInode(ctx, lookupOp))
	require.Equal(t, createOp.Entry.Child, lookupOp.Entry.Child)

	require.NoError(t, tr.ReleaseFileHandle(ctx, &fuseops.ReleaseFileHandleOp{Handle: createOp.Handle}))
}

func TestLookUpInode_MissingReturnsENOENT(t *testing.T) {
	tr := newTestTransport(t, 100)
	ctx := context.Background()

	err := tr.LookUpInode(ctx, &fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: "missing.txt"})
	require.Error(t, err)
}

func TestMkDir_ThenOpenDirAndReadDir(t *testing.T) {
	tr := newTestTransport(t, 100)
	ctx := context.Background()

	mkdirOp := &fuseops.MkDirOp{Parent: fuseops.RootInodeID, Name: "sub", Mode: 0o755}
	require.NoError(t, tr.MkDir(ctx, mkdirOp))

	createOp := &fuseops.CreateFileOp{Parent: mkdirOp.Entry.Child, Name: "f.txt", Mode: 0o644}
	require.NoError(t, tr.CreateFile(ctx, createOp))
	require.NoError(t, tr.ReleaseFileHandle(ctx, &fuseops.ReleaseFileHandleOp{Handle: createOp.Handle}))

	openOp := &fuseops.OpenDirOp{Inode: mkdirOp.Entry.Child}
	require.NoError(t, tr.OpenDir(ctx, openOp))

	buf := make([]byte, 4096)
	readOp := &fuseops.ReadDirOp{Inode: mkdirOp.Entry.Child, Handle: openOp.Handle, Dst: buf}
	require.NoError(t, tr.ReadDir(ctx, readOp))
	require.Greater(t, readOp.BytesRead, 0)

	require.NoError(t, tr.ReleaseDirHandle(ctx, &fuseops.ReleaseDirHandleOp{Handle: openOp.Handle}))
}

func TestWriteFileThenReadFile_RoundTrips(t *testing.T) {
	tr := newTestTransport(t, 100)
	ctx := context.Background()

	createOp := &fuseops.CreateFileOp{Parent: fuseops.RootInodeID, Name: "a.txt", Mode: 0o644}
	require.NoError(t, tr.CreateFile(ctx, createOp))

	writeOp := &fuseops.WriteFileOp{Handle: createOp.Handle, Offset: 0, Data: []byte("hello")}
	require.NoError(t, tr.WriteFile(ctx, writeOp))
	require.NoError(t, tr.ReleaseFileHandle(ctx, &fuseops.ReleaseFileHandleOp{Handle: createOp.Handle}))

	openOp := &fuseops.OpenFileOp{Inode: createOp.Entry.Child}
	require.NoError(t, tr.OpenFile(ctx, openOp))

	dst := make([]byte, 5)
	readOp := &fuseops.ReadFileOp{Handle: openOp.Handle, Offset: 0, Dst: dst}
	require.NoError(t, tr.ReadFile(ctx, readOp))
	require.Equal(t, 5, readOp.BytesRead)
	require.Equal(t, "hello", string(dst))
}

func TestForgetInode_RemovesMapping(t *testing.T) {
	tr := newTestTransport(t, 100)
	ctx := context.Background()

	createOp := &fuseops.CreateFileOp{Parent: fuseops.RootInodeID, Name: "a.txt", Mode: 0o644}
	require.NoError(t, tr.CreateFile(ctx, createOp))
	require.NoError(t, tr.ReleaseFileHandle(ctx, &fuseops.ReleaseFileHandleOp{Handle: createOp.Handle}))

	id := createOp.Entry.Child
	require.NoError(t, tr.ForgetInode(ctx, &fuseops.ForgetInodeOp{Inode: id, N: 1}))

	_, ok := tr.pathFor(id)
	require.False(t, ok)
}

func TestRename_UpdatesInodeMapping(t *testing.T) {
	tr := newTestTransport(t, 100)
	ctx := context.Background()

	createOp := &fuseops.CreateFileOp{Parent: fuseops.RootInodeID, Name: "a.txt", Mode: 0o644}
	require.NoError(t, tr.CreateFile(ctx, createOp))
	require.NoError(t, tr.ReleaseFileHandle(ctx, &fuseops.ReleaseFileHandleOp{Handle: createOp.Handle}))

	renameOp := &fuseops.RenameOp{OldParent: fuseops.RootInodeID, OldName: "a.txt", NewParent: fuseops.RootInodeID, NewName: "b.txt"}
	require.NoError(t, tr.Rename(ctx, renameOp))

	p, ok := tr.pathFor(createOp.Entry.Child)
	require.True(t, ok)
	require.Equal(t, "b.txt", p)
}

func TestStatFS_Aggregates(t *testing.T) {
	tr := newTestTransport(t, 100)
	ctx := context.Background()

	op := &fuseops.StatFSOp{}
	require.NoError(t, tr.StatFS(ctx, op))
	require.NotZero(t, op.Blocks)
}
