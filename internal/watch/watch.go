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

// Package watch detects writes to a backing root that did not go through
// the mount: the window before the storage lock restricts permissions, and
// the window during hidden-storage sync-back when both the real and hidden
// roots are live. Either can leave internal/loccache holding a stale tier
// hint; this package invalidates the affected entries as soon as fsnotify
// reports the change.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rhss-project/rhss/internal/loccache"
	"github.com/rhss-project/rhss/internal/logger"
)

// Invalidator is the subset of loccache.Cache a Watcher needs. Matching on
// an interface rather than *loccache.Cache keeps this package testable
// without a real LRU.
type Invalidator interface {
	Invalidate(path string)
	InvalidatePrefix(dir string)
}

// Watcher recursively watches one backing root and invalidates C2 entries
// for anything that changes underneath it.
type Watcher struct {
	root  string
	cache Invalidator

	fsw *fsnotify.Watcher

	mu   sync.Mutex
	done chan struct{}
}

// New creates a Watcher rooted at root. Call Start to begin watching.
func New(root string, cache Invalidator) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{root: root, cache: cache, fsw: fsw}, nil
}

// Start registers watches on root and every existing subdirectory, then
// begins processing events in the background. Directories created later are
// picked up as their parent's Create event arrives.
func (w *Watcher) Start(ctx context.Context) error {
	if err := filepath.Walk(w.root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return w.fsw.Add(p)
		}
		return nil
	}); err != nil {
		return err
	}

	w.mu.Lock()
	w.done = make(chan struct{})
	done := w.done
	w.mu.Unlock()

	go w.loop(ctx, done)
	return nil
}

func (w *Watcher) loop(ctx context.Context, done chan struct{}) {
	defer w.fsw.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logger.Warnf("watch: %v", err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	logical := w.toLogical(ev.Name)
	if logical == "" {
		return
	}

	if ev.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			_ = w.fsw.Add(ev.Name)
		}
	}

	if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		w.cache.InvalidatePrefix(logical + "/")
	}
	w.cache.Invalidate(logical)
}

// toLogical strips the watched root from an absolute event path, returning
// "" for the root itself (which has no useful cache entry to invalidate).
func (w *Watcher) toLogical(absPath string) string {
	rel, err := filepath.Rel(w.root, absPath)
	if err != nil || rel == "." {
		return ""
	}
	return strings.ReplaceAll(rel, string(filepath.Separator), "/")
}

// Stop halts the watcher and releases its inotify handles.
func (w *Watcher) Stop() {
	w.mu.Lock()
	done := w.done
	w.mu.Unlock()
	if done != nil {
		close(done)
	}
}

var _ Invalidator = (*loccache.Cache)(nil)
