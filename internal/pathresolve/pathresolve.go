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

// Package pathresolve implements the path resolver: given a logical
// path relative to the mount root, compute its backing path in each tier.
// No I/O; purely textual.
package pathresolve

import (
	"path"
	"strings"

	"github.com/rhss-project/rhss/internal/rhsserrors"
)

// LockFileName is reserved at the root of every backing tier and is never
// exposed through the mount.
const LockFileName = ".rhss.lock"

// Normalize cleans a logical path: no "." or ".." segments survive, no
// duplicate separators, no leading slash (logical paths are tier-root
// relative).
func Normalize(p string) (string, error) {
	if p == "" || p == "." {
		return "", nil
	}
	cleaned := path.Clean(strings.TrimLeft(p, "/"))
	if cleaned == "." {
		return "", nil
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", &rhsserrors.InvalidPath{Path: p, Reason: "escapes mount root"}
	}
	if hasLockFileComponent(cleaned) {
		return "", &rhsserrors.InvalidPath{Path: p, Reason: "reserved lock file name"}
	}
	return cleaned, nil
}

func hasLockFileComponent(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == LockFileName {
			return true
		}
	}
	return false
}

// Resolve computes the backing path for a normalized logical path in each of
// the two effective backing roots. It performs no I/O and never fails for an
// already-normalized path; ⊕ is a safe join because Normalize has already
// rejected ascents.
func Resolve(hotRoot, coldRoot, logical string) (hotPath, coldPath string) {
	if logical == "" {
		return hotRoot, coldRoot
	}
	return path.Join(hotRoot, logical), path.Join(coldRoot, logical)
}

// ResolveOne joins a single root with a logical path, used once a tier has
// already been chosen.
func ResolveOne(root, logical string) string {
	if logical == "" {
		return root
	}
	return path.Join(root, logical)
}

// Parent returns the logical parent directory of p ("" for top-level
// entries).
func Parent(p string) string {
	dir := path.Dir(p)
	if dir == "." || dir == "/" {
		return ""
	}
	return dir
}
