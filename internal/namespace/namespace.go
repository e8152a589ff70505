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

// Package namespace implements the union-view namespace engine: the
// behavioral contract every kernel-facing operation reduces to, independent
// of whatever transport dispatches it (see internal/transport). The methods
// that act on one existing path (GetAttr, Open, Unlink, Rename, Truncate,
// Chmod, Chown, Utimens) run the Locate(p) resolution protocol before
// touching the host filesystem; ReadDir, Create, Mkdir, Rmdir and StatFS
// work on both tiers directly, and Read, Write and Close act on a handle.
package namespace

import (
	"context"
	"os"
	"sort"
	"sync/atomic"
	"time"

	"github.com/jacobsa/syncutil"
	"github.com/jacobsa/timeutil"
	"github.com/rhss-project/rhss/internal/loccache"
	"github.com/rhss-project/rhss/internal/migration"
	"github.com/rhss-project/rhss/internal/pathresolve"
	"github.com/rhss-project/rhss/internal/rhsserrors"
	"github.com/rhss-project/rhss/internal/telemetry"
	"github.com/rhss-project/rhss/internal/tierpolicy"
	"github.com/spf13/afero"
)

// Attr is the subset of file metadata the namespace engine hands back to a
// transport; it deliberately omits inode numbers and generation counters,
// which belong to whichever transport owns kernel handle bookkeeping.
type Attr struct {
	Size    int64
	Mode    os.FileMode
	ModTime time.Time
	IsDir   bool
	UID     uint32
	GID     uint32
}

// DirEntry is one child name in a merged directory listing.
type DirEntry struct {
	Name  string
	IsDir bool
	Tier  tierpolicy.Tier
}

// StatFSResult aggregates the two tiers' filesystem statistics.
type StatFSResult struct {
	BlockSize  uint32
	TotalBytes uint64
	FreeBytes  uint64
}

// StatfsFunc reports raw space usage for one backing root. The default,
// wired in New, uses golang.org/x/sys/unix against the real filesystem;
// tests substitute a fake so StatFS does not depend on afero exposing real
// device statistics (afero.MemMapFs has none).
type StatfsFunc func(root string) (totalBytes, freeBytes uint64, blockSize uint32, err error)

// Handle is an open file, bound to the tier it was resolved against at Open
// or Create time.
type Handle struct {
	id    uint64
	path  string
	tier  tierpolicy.Tier
	file  afero.File
	dirty bool
}

// Engine is the namespace engine for one hot/cold root pair. It holds no
// reference to a kernel transport; transports call these methods and
// translate the results into their own wire types.
type Engine struct {
	Hot, Cold string
	FS        afero.Fs
	Cache     *loccache.Cache
	Migrator  *migration.Engine
	Threshold int64
	Clock     timeutil.Clock
	ReadOnly  bool
	Statfs    StatfsFunc

	// handleMu guards the open-handle table (handles, nextHandle) and is
	// wrapped as a jacobsa/syncutil.InvariantMutex, mirroring
	// internal/loccache, so checkInvariants can assert the table stays
	// consistent under test without adding production overhead.
	handleMu   syncutil.InvariantMutex
	handles    map[uint64]*Handle
	nextHandle uint64
}

// New builds a namespace Engine. Threshold and Migrator must already agree
// on the same Hot/Cold roots; New does not validate this.
func New(hot, cold string, fs afero.Fs, cache *loccache.Cache, mig *migration.Engine, threshold int64, clock timeutil.Clock) *Engine {
	e := &Engine{
		Hot:       hot,
		Cold:      cold,
		FS:        fs,
		Cache:     cache,
		Migrator:  mig,
		Threshold: threshold,
		Clock:     clock,
		handles:   make(map[uint64]*Handle),
	}
	e.handleMu = syncutil.NewInvariantMutex(e.checkInvariants)
	return e
}

// checkInvariants asserts the open-handle table stays self-consistent:
// every handle is keyed under its own id, and no id exceeds the high-water
// mark that minted it.
func (e *Engine) checkInvariants() {
	for id, h := range e.handles {
		if h.id != id {
			panic("namespace: handle keyed under foreign id")
		}
		if h.id > e.nextHandle {
			panic("namespace: handle id beyond nextHandle high-water mark")
		}
	}
}

func (e *Engine) root(t tierpolicy.Tier) string {
	if t == tierpolicy.Hot {
		return e.Hot
	}
	return e.Cold
}

func (e *Engine) backingPath(p string, t tierpolicy.Tier) string {
	return pathresolve.ResolveOne(e.root(t), p)
}

func (e *Engine) requireWritable(op string) error {
	if e.ReadOnly {
		return &rhsserrors.ReadOnlyFS{Op: op}
	}
	return nil
}

// Locate runs the resolution protocol for a single
// logical path. It returns the tier the path currently (and exclusively)
// lives in.
func (e *Engine) Locate(ctx context.Context, p string) (tierpolicy.Tier, os.FileInfo, error) {
	if res := e.Cache.Lookup(p); res.Hit && res.Entry.Status == loccache.StatusPresent {
		if info, err := e.FS.Stat(e.backingPath(p, res.Entry.Tier)); err == nil {
			return res.Entry.Tier, info, nil
		}
		e.Cache.Invalidate(p)
	}

	hotInfo, hotErr := e.FS.Stat(e.backingPath(p, tierpolicy.Hot))
	coldInfo, coldErr := e.FS.Stat(e.backingPath(p, tierpolicy.Cold))
	hotOK := hotErr == nil
	coldOK := coldErr == nil

	switch {
	case hotOK && coldOK:
		chosen, info := e.resolveCollision(ctx, p, hotInfo, coldInfo)
		e.Cache.Insert(p, chosen)
		return chosen, info, nil
	case hotOK:
		e.Cache.Insert(p, tierpolicy.Hot)
		return tierpolicy.Hot, hotInfo, nil
	case coldOK:
		e.Cache.Insert(p, tierpolicy.Cold)
		return tierpolicy.Cold, coldInfo, nil
	default:
		e.Cache.MarkAbsent(p)
		return 0, nil, &rhsserrors.NotFound{Path: p}
	}
}

// resolveCollision implements the invariant-1 tie-break, delegating the
// actual decision to tierpolicy.Winner so the namespace engine and the
// migration engine never disagree about which copy survives. The losing
// copy is deleted by scheduling a migration through the Migration Engine
// rather than removing it directly, so the same duplicate-resolution path
// used by scan_and_reconcile handles it. A directory present in both tiers
// is the normal mirrored layout, not a collision: hot supplies its
// attributes and neither copy is touched.
func (e *Engine) resolveCollision(ctx context.Context, p string, hotInfo, coldInfo os.FileInfo) (tierpolicy.Tier, os.FileInfo) {
	if hotInfo.IsDir() && coldInfo.IsDir() {
		return tierpolicy.Hot, hotInfo
	}
	winner := tierpolicy.Winner(
		tierpolicy.Candidate{Size: hotInfo.Size(), ModTime: hotInfo.ModTime()},
		tierpolicy.Candidate{Size: coldInfo.Size(), ModTime: coldInfo.ModTime()},
		e.Threshold,
	)

	if e.Migrator != nil {
		go func() {
			_, _ = e.Migrator.MigrateFile(context.Background(), p, winner)
		}()
	}

	if winner == tierpolicy.Hot {
		return winner, hotInfo
	}
	return winner, coldInfo
}

func toAttr(info os.FileInfo) Attr {
	return Attr{
		Size:    info.Size(),
		Mode:    info.Mode(),
		ModTime: info.ModTime(),
		IsDir:   info.IsDir(),
	}
}

// GetAttr resolves p and returns its attributes.
func (e *Engine) GetAttr(ctx context.Context, p string) (Attr, error) {
	_, span := telemetry.StartOp(ctx, "getattr")
	defer span.End()

	p, err := pathresolve.Normalize(p)
	if err != nil {
		return Attr{}, err
	}
	if p == "" {
		return e.mergedRootAttr()
	}
	_, info, err := e.Locate(ctx, p)
	if err != nil {
		return Attr{}, err
	}
	return toAttr(info), nil
}

func (e *Engine) mergedRootAttr() (Attr, error) {
	hotInfo, err := e.FS.Stat(e.Hot)
	if err != nil {
		return Attr{}, &rhsserrors.IoError{Tier: "hot", Path: "", Op: "stat", Err: err}
	}
	return toAttr(hotInfo), nil
}

// ReadDir returns the union of both tiers' child
// names, collisions resolved the same way Locate resolves them.
func (e *Engine) ReadDir(ctx context.Context, p string) ([]DirEntry, error) {
	_, span := telemetry.StartOp(ctx, "readdir")
	defer span.End()

	p, err := pathresolve.Normalize(p)
	if err != nil {
		return nil, err
	}

	hotChildren, hotErr := afero.ReadDir(e.FS, e.backingPath(p, tierpolicy.Hot))
	coldChildren, coldErr := afero.ReadDir(e.FS, e.backingPath(p, tierpolicy.Cold))
	if hotErr != nil && coldErr != nil {
		return nil, &rhsserrors.NotFound{Path: p}
	}

	type seen struct {
		hot, cold os.FileInfo
	}
	byName := make(map[string]*seen)
	for _, c := range hotChildren {
		if c.Name() == pathresolve.LockFileName {
			continue
		}
		byName[c.Name()] = &seen{hot: c}
	}
	for _, c := range coldChildren {
		if c.Name() == pathresolve.LockFileName {
			continue
		}
		s, ok := byName[c.Name()]
		if !ok {
			s = &seen{}
			byName[c.Name()] = s
		}
		s.cold = c
	}

	entries := make([]DirEntry, 0, len(byName))
	bulk := make([]loccache.ListingEntry, 0, len(byName))
	for name, s := range byName {
		var tier tierpolicy.Tier
		var info os.FileInfo
		switch {
		case s.hot != nil && s.cold != nil:
			childPath := joinLogical(p, name)
			tier, info = e.resolveCollision(ctx, childPath, s.hot, s.cold)
		case s.hot != nil:
			tier, info = tierpolicy.Hot, s.hot
		default:
			tier, info = tierpolicy.Cold, s.cold
		}
		entries = append(entries, DirEntry{Name: name, IsDir: info.IsDir(), Tier: tier})
		bulk = append(bulk, loccache.ListingEntry{Name: name, Tier: tier})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	e.Cache.BulkUpdateFromListing(p, bulk)
	return entries, nil
}

func joinLogical(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}

// Open locates p, then opens the file in the
// resolved tier.
func (e *Engine) Open(ctx context.Context, p string) (*Handle, error) {
	_, span := telemetry.StartOp(ctx, "open")
	defer span.End()

	p, err := pathresolve.Normalize(p)
	if err != nil {
		return nil, err
	}
	tier, _, err := e.Locate(ctx, p)
	if err != nil {
		return nil, err
	}
	f, err := e.FS.Open(e.backingPath(p, tier))
	if err != nil {
		return nil, &rhsserrors.IoError{Tier: tier.String(), Path: p, Op: "open", Err: err}
	}
	return e.newHandle(p, tier, f), nil
}

func (e *Engine) newHandle(p string, tier tierpolicy.Tier, f afero.File) *Handle {
	id := atomic.AddUint64(&e.nextHandle, 1)
	h := &Handle{id: id, path: p, tier: tier, file: f}
	e.handleMu.Lock()
	e.handles[id] = h
	e.handleMu.Unlock()
	return h
}

// Read delegates to the underlying file.
func (e *Engine) Read(ctx context.Context, h *Handle, off int64, buf []byte) (int, error) {
	return h.file.ReadAt(buf, off)
}

// Write delegates to the underlying file.
// Tier re-evaluation is deferred until Close (Design Notes §9 "simplest
// conforming choice"), so an in-flight write never invalidates a
// concurrently open read handle on the same path.
func (e *Engine) Write(ctx context.Context, h *Handle, off int64, buf []byte) (int, error) {
	if err := e.requireWritable("write"); err != nil {
		return 0, err
	}
	n, err := h.file.WriteAt(buf, off)
	if n > 0 {
		h.dirty = true
	}
	return n, err
}

// Close flushes and releases a handle, triggering a tier migration if the
// file's final size disagrees with policy.
func (e *Engine) Close(ctx context.Context, h *Handle) error {
	e.handleMu.Lock()
	delete(e.handles, h.id)
	e.handleMu.Unlock()

	closeErr := h.file.Close()
	if !h.dirty {
		return closeErr
	}

	info, err := e.FS.Stat(e.backingPath(h.path, h.tier))
	if err != nil {
		return closeErr
	}
	want := tierpolicy.Decide(info.Size(), e.Threshold)
	if want == h.tier {
		e.Cache.Insert(h.path, h.tier)
		return closeErr
	}
	if e.Migrator != nil {
		if _, mErr := e.Migrator.MigrateFile(ctx, h.path, want); mErr == nil {
			e.Cache.Insert(h.path, want)
		} else {
			e.Cache.Invalidate(h.path)
		}
	}
	return closeErr
}

// Create places a new file on the Hot tier (policy
// applied to zero size), parent directories mirrored into both tiers.
func (e *Engine) Create(ctx context.Context, p string, mode os.FileMode) (*Handle, error) {
	_, span := telemetry.StartOp(ctx, "create")
	defer span.End()

	if err := e.requireWritable("create"); err != nil {
		return nil, err
	}
	p, err := pathresolve.Normalize(p)
	if err != nil {
		return nil, err
	}
	tier := tierpolicy.Decide(0, e.Threshold)
	if err := e.mirrorParents(pathresolve.Parent(p)); err != nil {
		return nil, err
	}
	bp := e.backingPath(p, tier)
	f, err := e.FS.OpenFile(bp, os.O_RDWR|os.O_CREATE|os.O_EXCL, mode)
	if err != nil {
		if os.IsExist(err) {
			return nil, &rhsserrors.AlreadyExists{Path: p}
		}
		return nil, &rhsserrors.IoError{Tier: tier.String(), Path: p, Op: "create", Err: err}
	}
	e.Cache.Insert(p, tier)
	return e.newHandle(p, tier, f), nil
}

func (e *Engine) mirrorParents(dir string) error {
	if dir == "" {
		return nil
	}
	if err := e.FS.MkdirAll(e.backingPath(dir, tierpolicy.Hot), 0o755); err != nil {
		return &rhsserrors.IoError{Tier: "hot", Path: dir, Op: "mkdirall", Err: err}
	}
	if err := e.FS.MkdirAll(e.backingPath(dir, tierpolicy.Cold), 0o755); err != nil {
		return &rhsserrors.IoError{Tier: "cold", Path: dir, Op: "mkdirall", Err: err}
	}
	return nil
}

// Unlink deletes from the resolved tier,
// and from the other tier too if a stale copy exists there.
func (e *Engine) Unlink(ctx context.Context, p string) error {
	_, span := telemetry.StartOp(ctx, "unlink")
	defer span.End()

	if err := e.requireWritable("unlink"); err != nil {
		return err
	}
	p, err := pathresolve.Normalize(p)
	if err != nil {
		return err
	}
	tier, _, err := e.Locate(ctx, p)
	if err != nil {
		return err
	}
	if err := e.FS.Remove(e.backingPath(p, tier)); err != nil {
		return &rhsserrors.IoError{Tier: tier.String(), Path: p, Op: "unlink", Err: err}
	}
	_ = e.FS.Remove(e.backingPath(p, tierpolicy.Other(tier)))
	e.Cache.Invalidate(p)
	return nil
}

// Mkdir creates the directory in both tiers.
func (e *Engine) Mkdir(ctx context.Context, p string, mode os.FileMode) error {
	if err := e.requireWritable("mkdir"); err != nil {
		return err
	}
	p, err := pathresolve.Normalize(p)
	if err != nil {
		return err
	}
	if err := e.mirrorParents(pathresolve.Parent(p)); err != nil {
		return err
	}
	hotErr := e.FS.Mkdir(e.backingPath(p, tierpolicy.Hot), mode)
	if hotErr != nil && !os.IsExist(hotErr) {
		return &rhsserrors.IoError{Tier: "hot", Path: p, Op: "mkdir", Err: hotErr}
	}
	coldErr := e.FS.Mkdir(e.backingPath(p, tierpolicy.Cold), mode)
	if coldErr != nil && !os.IsExist(coldErr) {
		return &rhsserrors.IoError{Tier: "cold", Path: p, Op: "mkdir", Err: coldErr}
	}
	if hotErr != nil && coldErr != nil {
		return &rhsserrors.AlreadyExists{Path: p}
	}
	return nil
}

// Rmdir removes the directory from both tiers if empty in
// the union sense.
func (e *Engine) Rmdir(ctx context.Context, p string) error {
	if err := e.requireWritable("rmdir"); err != nil {
		return err
	}
	p, err := pathresolve.Normalize(p)
	if err != nil {
		return err
	}
	entries, err := e.ReadDir(ctx, p)
	if err != nil {
		return err
	}
	if len(entries) > 0 {
		return &rhsserrors.NotEmpty{Path: p}
	}
	hotErr := e.FS.Remove(e.backingPath(p, tierpolicy.Hot))
	coldErr := e.FS.Remove(e.backingPath(p, tierpolicy.Cold))
	if hotErr != nil && !os.IsNotExist(hotErr) {
		return &rhsserrors.IoError{Tier: "hot", Path: p, Op: "rmdir", Err: hotErr}
	}
	if coldErr != nil && !os.IsNotExist(coldErr) {
		return &rhsserrors.IoError{Tier: "cold", Path: p, Op: "rmdir", Err: coldErr}
	}
	e.Cache.InvalidatePrefix(p)
	return nil
}

// Rename performs a same-tier rename when both
// endpoints resolve to the same tier, otherwise migrate then rename.
func (e *Engine) Rename(ctx context.Context, src, dst string) error {
	_, span := telemetry.StartOp(ctx, "rename")
	defer span.End()

	if err := e.requireWritable("rename"); err != nil {
		return err
	}
	src, err := pathresolve.Normalize(src)
	if err != nil {
		return err
	}
	dst, err = pathresolve.Normalize(dst)
	if err != nil {
		return err
	}
	tier, info, err := e.Locate(ctx, src)
	if err != nil {
		return err
	}
	if err := e.mirrorParents(pathresolve.Parent(dst)); err != nil {
		return err
	}

	if info.IsDir() {
		// Directories are mirrored into both tiers; rename both sides.
		if err := e.FS.Rename(e.backingPath(src, tierpolicy.Hot), e.backingPath(dst, tierpolicy.Hot)); err != nil && !os.IsNotExist(err) {
			return &rhsserrors.IoError{Tier: "hot", Path: src, Op: "rename", Err: err}
		}
		if err := e.FS.Rename(e.backingPath(src, tierpolicy.Cold), e.backingPath(dst, tierpolicy.Cold)); err != nil && !os.IsNotExist(err) {
			return &rhsserrors.IoError{Tier: "cold", Path: src, Op: "rename", Err: err}
		}
		e.Cache.InvalidatePrefix(src)
		e.Cache.InvalidatePrefix(dst)
		return nil
	}

	dstTier := tier
	if t, _, lerr := e.Locate(ctx, dst); lerr == nil && t != tier && e.Migrator != nil {
		if _, mErr := e.Migrator.MigrateFile(ctx, src, t); mErr != nil {
			e.Cache.Invalidate(src)
			return mErr
		}
		dstTier = t
	}

	if err := e.FS.Rename(e.backingPath(src, dstTier), e.backingPath(dst, dstTier)); err != nil {
		return &rhsserrors.IoError{Tier: dstTier.String(), Path: src, Op: "rename", Err: err}
	}
	e.Cache.Invalidate(src)
	e.Cache.Insert(dst, dstTier)
	return nil
}

// Truncate applies the truncation, then re-evaluates tier.
func (e *Engine) Truncate(ctx context.Context, p string, size int64) error {
	if err := e.requireWritable("truncate"); err != nil {
		return err
	}
	p, err := pathresolve.Normalize(p)
	if err != nil {
		return err
	}
	tier, _, err := e.Locate(ctx, p)
	if err != nil {
		return err
	}
	bp := e.backingPath(p, tier)
	f, err := e.FS.OpenFile(bp, os.O_WRONLY, 0)
	if err != nil {
		return &rhsserrors.IoError{Tier: tier.String(), Path: p, Op: "truncate", Err: err}
	}
	err = f.Truncate(size)
	closeErr := f.Close()
	if err != nil {
		return &rhsserrors.IoError{Tier: tier.String(), Path: p, Op: "truncate", Err: err}
	}
	if closeErr != nil {
		return &rhsserrors.IoError{Tier: tier.String(), Path: p, Op: "truncate", Err: closeErr}
	}

	want := tierpolicy.Decide(size, e.Threshold)
	if want == tier {
		e.Cache.Insert(p, tier)
		return nil
	}
	if e.Migrator != nil {
		if _, mErr := e.Migrator.MigrateFile(ctx, p, want); mErr == nil {
			e.Cache.Insert(p, want)
		} else {
			e.Cache.Invalidate(p)
		}
	}
	return nil
}

// Chmod applies on the tier that holds p.
func (e *Engine) Chmod(ctx context.Context, p string, mode os.FileMode) error {
	if err := e.requireWritable("chmod"); err != nil {
		return err
	}
	p, err := pathresolve.Normalize(p)
	if err != nil {
		return err
	}
	tier, _, err := e.Locate(ctx, p)
	if err != nil {
		return err
	}
	if err := e.FS.Chmod(e.backingPath(p, tier), mode); err != nil {
		return &rhsserrors.IoError{Tier: tier.String(), Path: p, Op: "chmod", Err: err}
	}
	return nil
}

// Chown applies on the tier that holds p.
func (e *Engine) Chown(ctx context.Context, p string, uid, gid int) error {
	if err := e.requireWritable("chown"); err != nil {
		return err
	}
	p, err := pathresolve.Normalize(p)
	if err != nil {
		return err
	}
	tier, _, err := e.Locate(ctx, p)
	if err != nil {
		return err
	}
	if err := e.FS.Chown(e.backingPath(p, tier), uid, gid); err != nil {
		return &rhsserrors.IoError{Tier: tier.String(), Path: p, Op: "chown", Err: err}
	}
	return nil
}

// Utimens applies on the tier that holds p.
func (e *Engine) Utimens(ctx context.Context, p string, atime, mtime time.Time) error {
	if err := e.requireWritable("utimens"); err != nil {
		return err
	}
	p, err := pathresolve.Normalize(p)
	if err != nil {
		return err
	}
	tier, _, err := e.Locate(ctx, p)
	if err != nil {
		return err
	}
	if err := e.FS.Chtimes(e.backingPath(p, tier), atime, mtime); err != nil {
		return &rhsserrors.IoError{Tier: tier.String(), Path: p, Op: "utimens", Err: err}
	}
	return nil
}

// StatFS aggregates space from both tiers,
// using the more conservative (smaller) block size of the two.
func (e *Engine) StatFS(ctx context.Context) (StatFSResult, error) {
	statfs := e.Statfs
	if statfs == nil {
		statfs = osStatfs
	}
	hotTotal, hotFree, hotBlock, err := statfs(e.Hot)
	if err != nil {
		return StatFSResult{}, &rhsserrors.IoError{Tier: "hot", Path: e.Hot, Op: "statfs", Err: err}
	}
	coldTotal, coldFree, coldBlock, err := statfs(e.Cold)
	if err != nil {
		return StatFSResult{}, &rhsserrors.IoError{Tier: "cold", Path: e.Cold, Op: "statfs", Err: err}
	}
	block := hotBlock
	if coldBlock < block {
		block = coldBlock
	}
	return StatFSResult{
		BlockSize:  block,
		TotalBytes: hotTotal + coldTotal,
		FreeBytes:  hotFree + coldFree,
	}, nil
}
