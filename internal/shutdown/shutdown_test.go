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

package shutdown

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

type countingUnmounter struct{ calls atomic.Int32 }

func (u *countingUnmounter) Unmount(ctx context.Context) error {
	u.calls.Add(1)
	return nil
}

type countingUnlocker struct{ calls atomic.Int32 }

func (u *countingUnlocker) Release() error {
	u.calls.Add(1)
	return nil
}

type countingRestorer struct{ calls atomic.Int32 }

func (r *countingRestorer) Restore() error {
	r.calls.Add(1)
	return nil
}

type failingSyncBacker struct{}

func (failingSyncBacker) SyncBack(ctx context.Context) error { return errors.New("sync-back failed") }

func TestRun_IsIdempotent(t *testing.T) {
	um := &countingUnmounter{}
	lock := &countingUnlocker{}
	perm := &countingRestorer{}
	c := &Coordinator{Unmount: um, Locks: []Unlocker{lock}, Perms: []PermissionRestorer{perm}}

	require.NoError(t, c.Run(context.Background()))
	require.NoError(t, c.Run(context.Background()))

	require.Equal(t, int32(1), um.calls.Load())
	require.Equal(t, int32(1), lock.calls.Load())
	require.Equal(t, int32(1), perm.calls.Load())
}

func TestRun_ContinuesAfterSyncBackFailure(t *testing.T) {
	lock := &countingUnlocker{}
	c := &Coordinator{SyncBack: failingSyncBacker{}, Locks: []Unlocker{lock}}

	err := c.Run(context.Background())
	require.Error(t, err)
	require.Equal(t, int32(1), lock.calls.Load())
}

func TestRun_AllStepsRunEvenWithoutOptionalCollaborators(t *testing.T) {
	c := &Coordinator{}
	require.NoError(t, c.Run(context.Background()))
}

func TestErr_UnwrapsMultierr(t *testing.T) {
	lock := &countingUnlocker{}
	c := &Coordinator{SyncBack: failingSyncBacker{}, Locks: []Unlocker{lock}}

	err := c.Run(context.Background())
	require.Len(t, Err(err), 1)
}
