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

// Package storagelock implements the per-tier advisory lock that asserts
// exclusive mount ownership of a backing root, plus the companion
// permission-restriction memo. The lock file
// itself is held open with a gofrs/flock OS-level advisory lock underneath
// the JSON PID record, the same pattern go-ethereum uses (via
// github.com/gofrs/flock) to guard a node's instance directory against a
// second daemon opening it concurrently.
package storagelock

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/jacobsa/timeutil"
	"github.com/rhss-project/rhss/internal/pathresolve"
	"github.com/rhss-project/rhss/internal/rhsserrors"
	"golang.org/x/sys/unix"
)

// Meta is the lock file's JSON record.
type Meta struct {
	PID        int    `json:"pid"`
	Hostname   string `json:"hostname"`
	MountPoint string `json:"mount_point"`
	StartedAt  string `json:"started_at"`
}

// Lock is a held storage lock for one backing root.
type Lock struct {
	path  string
	flock *flock.Flock
}

// PIDLiveChecker reports whether pid names a live process on this host. It
// is a seam for tests; production code uses processLive, which sends
// signal 0.
type PIDLiveChecker func(pid int) bool

// Acquire claims exclusive ownership of one backing root: it checks for a
// live holder, then writes this process's PID record.
func Acquire(root string, force bool, meta Meta, clock timeutil.Clock, isLive PIDLiveChecker) (*Lock, error) {
	if isLive == nil {
		isLive = processLive
	}
	lockPath := filepath.Join(root, pathresolve.LockFileName)

	if existing, err := readMeta(lockPath); err == nil {
		switch {
		case force:
			_ = os.Remove(lockPath)
		case existing.Hostname != meta.Hostname:
			// Different host: liveness cannot be checked locally; treat the
			// existing lock as authoritative unless forced.
			return nil, &rhsserrors.StorageLocked{Tier: root, PID: existing.PID, MountPoint: existing.MountPoint}
		case isLive(existing.PID):
			return nil, &rhsserrors.StorageLocked{Tier: root, PID: existing.PID, MountPoint: existing.MountPoint}
		default:
			// Stale: the recorded PID is not live on this host.
			_ = os.Remove(lockPath)
		}
	}

	fl := flock.New(lockPath)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, &rhsserrors.IoError{Tier: root, Path: lockPath, Op: "lock", Err: err}
	}
	if !locked {
		existing, _ := readMeta(lockPath)
		return nil, &rhsserrors.StorageLocked{Tier: root, PID: existing.PID, MountPoint: existing.MountPoint}
	}

	meta.StartedAt = clock.Now().UTC().Format("2006-01-02T15:04:05Z07:00")
	data, err := json.Marshal(meta)
	if err != nil {
		_ = fl.Unlock()
		return nil, err
	}
	if err := os.WriteFile(lockPath, data, 0o600); err != nil {
		_ = fl.Unlock()
		return nil, &rhsserrors.IoError{Tier: root, Path: lockPath, Op: "write", Err: err}
	}
	if f, err := os.Open(lockPath); err == nil {
		_ = f.Sync()
		_ = f.Close()
	}

	return &Lock{path: lockPath, flock: fl}, nil
}

// Release deletes the lock file and drops the OS-level advisory lock.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	err := os.Remove(l.path)
	if uerr := l.flock.Unlock(); uerr != nil && err == nil {
		err = uerr
	}
	return err
}

func readMeta(lockPath string) (Meta, error) {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return Meta{}, err
	}
	var m Meta
	if err := json.Unmarshal(data, &m); err != nil {
		return Meta{}, fmt.Errorf("parsing %s: %w", lockPath, err)
	}
	return m, nil
}

func processLive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(unix.Signal(0)) == nil
}

// PermissionMemo remembers the pre-restriction mode of an effective backing
// root so it can be restored at shutdown.
type PermissionMemo struct {
	Root         string
	OriginalMode os.FileMode
}

// RestrictAndRemember chmods root to 0700 (owner-only) and returns a memo
// that Restore can later use to put the original mode back.
func RestrictAndRemember(root string) (PermissionMemo, error) {
	var st unix.Stat_t
	if err := unix.Stat(root, &st); err != nil {
		return PermissionMemo{}, &rhsserrors.IoError{Path: root, Op: "stat", Err: err}
	}
	original := os.FileMode(st.Mode & 0o7777)

	if err := unix.Chmod(root, 0o700); err != nil {
		return PermissionMemo{}, &rhsserrors.IoError{Path: root, Op: "chmod", Err: err}
	}
	return PermissionMemo{Root: root, OriginalMode: original}, nil
}

// Restore puts the pre-restriction mode back on the memo's root.
func (m PermissionMemo) Restore() error {
	if m.Root == "" {
		return nil
	}
	if err := unix.Chmod(m.Root, uint32(m.OriginalMode)); err != nil {
		return &rhsserrors.IoError{Path: m.Root, Op: "chmod-restore", Err: err}
	}
	return nil
}
