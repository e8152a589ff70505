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

// Package exitcode assigns distinct, non-zero process exit codes for
// storage-locked, mount failure, sync-back failure, and unmount failure,
// so callers can distinguish them without parsing stderr.
package exitcode

import (
	"errors"

	"github.com/rhss-project/rhss/internal/rhsserrors"
)

const (
	OK              = 0
	Generic         = 1
	StorageLocked   = 10
	MountFailure    = 11
	SyncBackFailure = 12
	UnmountFailure  = 13
)

// Coded is implemented by errors that already know which exit code they map
// to, so cmd can attach a code to a failure (mount, sync-back, unmount)
// without internal/exitcode needing to know about those packages.
type Coded interface {
	ExitCode() int
}

// FromError maps a startup or shutdown error to one of the distinct codes,
// falling back to Generic for anything not specifically called out.
func FromError(err error) int {
	if err == nil {
		return OK
	}
	var locked *rhsserrors.StorageLocked
	if errors.As(err, &locked) {
		return StorageLocked
	}
	var coded Coded
	if errors.As(err, &coded) {
		return coded.ExitCode()
	}
	return Generic
}
