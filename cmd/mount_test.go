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

package cmd

import (
	"errors"
	"testing"

	"github.com/rhss-project/rhss/internal/exitcode"
	"github.com/stretchr/testify/assert"
)

func TestMountError_ExitCodeAndUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := &mountError{err: cause}

	assert.Equal(t, exitcode.MountFailure, err.ExitCode())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, exitcode.MountFailure, exitcode.FromError(err))
}

func TestSyncBackError_ExitCodeAndUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := &syncBackError{err: cause}

	assert.Equal(t, exitcode.SyncBackFailure, err.ExitCode())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, exitcode.SyncBackFailure, exitcode.FromError(err))
}

func TestUnmountError_ExitCodeAndUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := &unmountError{err: cause}

	assert.Equal(t, exitcode.UnmountFailure, err.ExitCode())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, exitcode.UnmountFailure, exitcode.FromError(err))
}

func TestRunMount_RejectsInvalidConfig(t *testing.T) {
	saved := Config
	t.Cleanup(func() { Config = saved })
	Config.Mount.Point = ""

	assert.Error(t, runMount(nil))
}
