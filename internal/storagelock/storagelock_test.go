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

package storagelock

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jacobsa/timeutil"
	"github.com/rhss-project/rhss/internal/pathresolve"
	"github.com/rhss-project/rhss/internal/rhsserrors"
	"github.com/stretchr/testify/require"
)

func testClock() *timeutil.SimulatedClock {
	c := &timeutil.SimulatedClock{}
	c.SetTime(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	return c
}

func alwaysLive(int) bool { return true }
func neverLive(int) bool  { return false }

func TestAcquire_FreshRoot(t *testing.T) {
	root := t.TempDir()
	lock, err := Acquire(root, false, Meta{PID: os.Getpid(), Hostname: "h1", MountPoint: "/mnt"}, testClock(), nil)
	require.NoError(t, err)
	require.NotNil(t, lock)
	defer lock.Release()

	data, err := os.ReadFile(filepath.Join(root, pathresolve.LockFileName))
	require.NoError(t, err)
	require.Contains(t, string(data), "/mnt")
}

func TestAcquire_StaleLockIsReclaimed(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, pathresolve.LockFileName), []byte(`{"pid":999999,"hostname":"h1","mount_point":"/old"}`), 0o600))

	lock, err := Acquire(root, false, Meta{PID: os.Getpid(), Hostname: "h1", MountPoint: "/mnt"}, testClock(), neverLive)
	require.NoError(t, err)
	require.NotNil(t, lock)
	lock.Release()
}

func TestAcquire_LiveLockIsRejected(t *testing.T) {
	root := t.TempDir()
	first, err := Acquire(root, false, Meta{PID: os.Getpid(), Hostname: "h1", MountPoint: "/mnt"}, testClock(), alwaysLive)
	require.NoError(t, err)
	defer first.Release()

	_, err = Acquire(root, false, Meta{PID: os.Getpid(), Hostname: "h1", MountPoint: "/mnt2"}, testClock(), alwaysLive)
	require.Error(t, err)
	var locked *rhsserrors.StorageLocked
	require.ErrorAs(t, err, &locked)
}

func TestAcquire_ForceOverridesLiveLock(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, pathresolve.LockFileName), []byte(`{"pid":1,"hostname":"h1","mount_point":"/old"}`), 0o600))

	lock, err := Acquire(root, true, Meta{PID: os.Getpid(), Hostname: "h1", MountPoint: "/mnt"}, testClock(), alwaysLive)
	require.NoError(t, err)
	require.NotNil(t, lock)
	lock.Release()
}

func TestAcquire_DifferentHostIsRejectedWithoutForce(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, pathresolve.LockFileName), []byte(`{"pid":1,"hostname":"other-host","mount_point":"/old"}`), 0o600))

	_, err := Acquire(root, false, Meta{PID: os.Getpid(), Hostname: "this-host", MountPoint: "/mnt"}, testClock(), alwaysLive)
	require.Error(t, err)
	var locked *rhsserrors.StorageLocked
	require.ErrorAs(t, err, &locked)
}

func TestRelease_RemovesLockFile(t *testing.T) {
	root := t.TempDir()
	lock, err := Acquire(root, false, Meta{PID: os.Getpid(), Hostname: "h1", MountPoint: "/mnt"}, testClock(), nil)
	require.NoError(t, err)
	require.NoError(t, lock.Release())

	_, err = os.Stat(filepath.Join(root, pathresolve.LockFileName))
	require.True(t, os.IsNotExist(err))
}

func TestRestrictAndRemember_RestoresMode(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Chmod(root, 0o755))

	memo, err := RestrictAndRemember(root)
	require.NoError(t, err)

	st, err := os.Stat(root)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o700), st.Mode().Perm())

	require.NoError(t, memo.Restore())
	st, err = os.Stat(root)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o755), st.Mode().Perm())
}
