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

// Package hidden implements the optional redirection of both backing
// roots into a private scratch area for the duration of a run, with
// sync-back to the originals at shutdown.
package hidden

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rhss-project/rhss/internal/rhsserrors"
	"github.com/spf13/afero"
)

// Redirector owns the lifecycle of one hidden root.
type Redirector struct {
	FS         afero.Fs
	TempDir    string
	OriginalHot, OriginalCold string

	root string
}

// New creates a Redirector. tempDir is the system temp area to place the
// hidden root under (normally os.TempDir()).
func New(fs afero.Fs, tempDir, originalHot, originalCold string) *Redirector {
	return &Redirector{FS: fs, TempDir: tempDir, OriginalHot: originalHot, OriginalCold: originalCold}
}

// Activate creates the hidden root and mirrors both original backing roots
// into it, returning the effective hot/cold paths the namespace engine
// should use from this point on.
func (r *Redirector) Activate(ctx context.Context) (effectiveHot, effectiveCold string, err error) {
	r.root = filepath.Join(r.TempDir, fmt.Sprintf(".rhss_%s", uuid.NewString()))
	effectiveHot = filepath.Join(r.root, "hot")
	effectiveCold = filepath.Join(r.root, "cold")

	if err := r.FS.MkdirAll(effectiveHot, 0o700); err != nil {
		return "", "", &rhsserrors.IoError{Path: effectiveHot, Op: "mkdirall", Err: err}
	}
	if err := r.FS.MkdirAll(effectiveCold, 0o700); err != nil {
		return "", "", &rhsserrors.IoError{Path: effectiveCold, Op: "mkdirall", Err: err}
	}

	if err := r.mirrorTree(r.OriginalHot, effectiveHot); err != nil {
		return "", "", err
	}
	if err := r.mirrorTree(r.OriginalCold, effectiveCold); err != nil {
		return "", "", err
	}
	return effectiveHot, effectiveCold, nil
}

// SyncBack copies the hidden root's contents back over the originals and
// removes the hidden root. It is best-effort: failures are surfaced but
// must not block unmount, so the caller decides whether to treat the
// returned error as fatal.
func (r *Redirector) SyncBack(ctx context.Context) error {
	if r.root == "" {
		return nil
	}
	hotErr := r.syncBackOne(filepath.Join(r.root, "hot"), r.OriginalHot)
	coldErr := r.syncBackOne(filepath.Join(r.root, "cold"), r.OriginalCold)
	if err := r.FS.RemoveAll(r.root); err != nil && hotErr == nil && coldErr == nil {
		return &rhsserrors.IoError{Path: r.root, Op: "removeall", Err: err}
	}
	if hotErr != nil {
		return hotErr
	}
	return coldErr
}

func (r *Redirector) syncBackOne(src, dst string) error {
	if err := r.FS.RemoveAll(dst); err != nil {
		return &rhsserrors.IoError{Path: dst, Op: "removeall", Err: err}
	}
	if err := r.FS.MkdirAll(dst, 0o755); err != nil {
		return &rhsserrors.IoError{Path: dst, Op: "mkdirall", Err: err}
	}
	return r.mirrorTree(src, dst)
}

// mirrorTree recursively copies src into dst, preserving mode bits. It is
// used both for the initial activation mirror and the shutdown sync-back;
// hardlinking is skipped in favor of a plain copy since afero.Fs has no
// portable link operation across its backends.
func (r *Redirector) mirrorTree(src, dst string) error {
	entries, err := afero.ReadDir(r.FS, src)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return &rhsserrors.IoError{Path: src, Op: "readdir", Err: err}
	}

	for _, entry := range entries {
		srcPath := filepath.Join(src, entry.Name())
		dstPath := filepath.Join(dst, entry.Name())
		if entry.IsDir() {
			if err := r.FS.MkdirAll(dstPath, entry.Mode()); err != nil {
				return &rhsserrors.IoError{Path: dstPath, Op: "mkdirall", Err: err}
			}
			if err := r.mirrorTree(srcPath, dstPath); err != nil {
				return err
			}
			continue
		}
		if err := r.copyFile(srcPath, dstPath, entry.Mode()); err != nil {
			return err
		}
	}
	return nil
}

func (r *Redirector) copyFile(src, dst string, mode os.FileMode) error {
	in, err := r.FS.Open(src)
	if err != nil {
		return &rhsserrors.IoError{Path: src, Op: "open", Err: err}
	}
	defer in.Close()

	out, err := r.FS.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return &rhsserrors.IoError{Path: dst, Op: "create", Err: err}
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return &rhsserrors.IoError{Path: dst, Op: "copy", Err: err}
	}
	return out.Close()
}
