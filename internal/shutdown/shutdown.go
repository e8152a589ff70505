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

// Package shutdown implements the single-fire coordinator that unmounts,
// syncs back hidden storage, restores permissions, and releases locks in a
// fixed order, triggered by either a signal or an explicit Run call. Every
// step is best-effort; a failure in one does not skip the rest.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/multierr"
)

// Unmounter asks the kernel transport to detach the mount. The
// coordinator calls it once and does not retry a busy mount.
type Unmounter interface {
	Unmount(ctx context.Context) error
}

// SyncBacker performs the hidden-storage sync-back step. Implementations
// that were never activated with hidden-storage should return nil.
type SyncBacker interface {
	SyncBack(ctx context.Context) error
}

// Unlocker releases a storage lock. Backing-root permissions are restored
// separately, through PermissionRestorer.
type Unlocker interface {
	Release() error
}

type PermissionRestorer interface {
	Restore() error
}

// Coordinator runs the shutdown protocol exactly once.
type Coordinator struct {
	Unmount   Unmounter
	SyncBack  SyncBacker
	Locks     []Unlocker
	Perms     []PermissionRestorer

	once   sync.Once
	result error
}

// Run executes the shutdown protocol. Safe to call multiple times or
// concurrently; only the first call does any work, and every caller
// observes its result.
func (c *Coordinator) Run(ctx context.Context) error {
	c.once.Do(func() {
		c.result = c.runOnce(ctx)
	})
	return c.result
}

func (c *Coordinator) runOnce(ctx context.Context) error {
	var errs error

	if c.Unmount != nil {
		if err := c.Unmount.Unmount(ctx); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if c.SyncBack != nil {
		if err := c.SyncBack.SyncBack(ctx); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	for _, p := range c.Perms {
		if err := p.Restore(); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	for _, l := range c.Locks {
		if err := l.Release(); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	return errs
}

// WatchSignals installs handlers for SIGINT and SIGTERM and calls
// Coordinator.Run the first time either arrives. It returns a function that
// stops watching (used in tests and to release the signal channel cleanly
// on a successful programmatic shutdown).
func (c *Coordinator) WatchSignals(ctx context.Context) (stop func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		select {
		case <-ch:
			_ = c.Run(ctx)
		case <-done:
		}
	}()

	return func() {
		signal.Stop(ch)
		close(done)
	}
}

// Err unwraps the accumulated multierr into its constituent errors, useful
// for exit-code mapping in cmd (see internal/exitcode).
func Err(err error) []error {
	if err == nil {
		return nil
	}
	return multierr.Errors(err)
}
