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

// Package migration implements moving a single file between tiers, and the
// batch scan-and-reconcile walk that applies tierpolicy.Decide to an entire
// tree. A migration never deletes the source until the destination copy is
// confirmed on disk, so a crash mid-move leaves the file readable from its
// original tier.
package migration

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/renameio/v2"
	"github.com/jacobsa/timeutil"
	"github.com/rhss-project/rhss/internal/pathresolve"
	"github.com/rhss-project/rhss/internal/rhsserrors"
	"github.com/rhss-project/rhss/internal/telemetry"
	"github.com/rhss-project/rhss/internal/tierpolicy"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Outcome describes what MigrateFile did.
type Outcome struct {
	Path         string
	From         tierpolicy.Tier
	To           tierpolicy.Tier
	BytesMoved   int64
	AlreadyThere bool
}

// Engine performs cross-tier moves for one hot/cold root pair.
type Engine struct {
	Hot, Cold string
	FS        afero.Fs
	Clock     timeutil.Clock
	Counters  *telemetry.Counters

	// Threshold is the size-policy boundary used to break invariant-1
	// duplicate collisions, kept in sync with the namespace engine's own
	// Threshold so both agree on which copy of a colliding path wins.
	Threshold int64

	// RealRename, when true, uses renameio.TempFile against the real OS
	// filesystem for the destination write, giving an atomic rename on commit.
	// It is disabled automatically when FS is not the OS
	// filesystem, since renameio needs real file descriptors.
	RealRename bool
}

func (e *Engine) root(t tierpolicy.Tier) string {
	if t == tierpolicy.Hot {
		return e.Hot
	}
	return e.Cold
}

// MigrateFile copies the logical path p from its current tier to target,
// fsyncs, atomically commits the destination name, then deletes the source.
// It is a no-op (AlreadyThere: true) if p is already on target and nowhere
// else. If p exists in both tiers at once (an invariant-1 violation left
// behind by a prior interrupted migration or a collision the namespace
// engine spotted), it resolves the duplicate by policy instead of no-oping.
func (e *Engine) MigrateFile(ctx context.Context, p string, target tierpolicy.Tier) (Outcome, error) {
	_, span := telemetry.StartOp(ctx, "migrate_file")
	defer span.End()
	span.SetAttributes(attribute.String(telemetry.TierKey, target.String()))

	from := tierpolicy.Other(target)
	srcPath := pathresolve.ResolveOne(e.root(from), p)
	dstPath := pathresolve.ResolveOne(e.root(target), p)

	if dstInfo, err := e.FS.Stat(dstPath); err == nil {
		if srcInfo, srcErr := e.FS.Stat(srcPath); srcErr == nil {
			return e.resolveDuplicate(p, from, target, srcPath, dstPath, srcInfo, dstInfo)
		}
		return Outcome{Path: p, From: from, To: target, AlreadyThere: true}, nil
	}

	srcInfo, err := e.FS.Stat(srcPath)
	if os.IsNotExist(err) {
		return Outcome{}, &rhsserrors.NotFound{Path: p}
	}
	if err != nil {
		return Outcome{}, &rhsserrors.IoError{Tier: from.String(), Path: p, Op: "stat", Err: err}
	}

	if err := e.FS.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return Outcome{}, &rhsserrors.IoError{Tier: target.String(), Path: p, Op: "mkdirall", Err: err}
	}

	written, err := e.copy(srcPath, dstPath, srcInfo.Mode())
	if err != nil {
		_ = e.FS.Remove(dstPath)
		e.countFailure()
		return Outcome{}, &rhsserrors.MigrationFailed{Path: p, Err: err}
	}

	if err := e.FS.Remove(srcPath); err != nil {
		// Destination is durable; a source we failed to clean up is a stale
		// duplicate, not data loss, so this is reported but not fatal to the
		// caller's view of the migration's success.
		e.countFailure()
		return Outcome{Path: p, From: from, To: target, BytesMoved: written}, &rhsserrors.IoError{Tier: from.String(), Path: p, Op: "remove-source", Err: err}
	}

	e.countSuccess(written)
	return Outcome{Path: p, From: from, To: target, BytesMoved: written}, nil
}

// resolveDuplicate handles the invariant-1 violation case: p exists in both
// tiers. tierpolicy.Winner picks the copy consistent with size policy (the
// cold copy when both are; the more recently modified one when neither is,
// cold breaking an exact tie), and the loser is deleted. No data is copied, since both copies
// already exist; this only removes the redundant one.
func (e *Engine) resolveDuplicate(p string, from, target tierpolicy.Tier, srcPath, dstPath string, srcInfo, dstInfo os.FileInfo) (Outcome, error) {
	hot, cold := srcPath, dstPath
	hotInfo, coldInfo := srcInfo, dstInfo
	if from == tierpolicy.Cold {
		hot, cold = dstPath, srcPath
		hotInfo, coldInfo = dstInfo, srcInfo
	}

	winner := tierpolicy.Winner(
		tierpolicy.Candidate{Size: hotInfo.Size(), ModTime: hotInfo.ModTime()},
		tierpolicy.Candidate{Size: coldInfo.Size(), ModTime: coldInfo.ModTime()},
		e.Threshold,
	)

	loserPath := cold
	if winner == tierpolicy.Cold {
		loserPath = hot
	}
	if err := e.FS.Remove(loserPath); err != nil && !os.IsNotExist(err) {
		e.countFailure()
		return Outcome{}, &rhsserrors.IoError{Tier: tierpolicy.Other(winner).String(), Path: p, Op: "remove-duplicate", Err: err}
	}

	return Outcome{Path: p, From: from, To: target, AlreadyThere: true}, nil
}

func (e *Engine) copy(srcPath, dstPath string, mode os.FileMode) (int64, error) {
	if _, isOS := e.FS.(*afero.OsFs); e.RealRename && isOS {
		return e.copyWithRenameio(srcPath, dstPath, mode)
	}
	return e.copyWithAfero(srcPath, dstPath, mode)
}

// copyWithRenameio performs the real-filesystem path: write into a sibling
// temp file, fsync, then atomically rename over dstPath. This is the
// Prepare -> Copy -> Fsync -> Commit discipline needed for crash-safety on
// the destination tier.
func (e *Engine) copyWithRenameio(srcPath, dstPath string, mode os.FileMode) (int64, error) {
	src, err := os.Open(srcPath)
	if err != nil {
		return 0, err
	}
	defer src.Close()

	t, err := renameio.TempFile("", dstPath)
	if err != nil {
		return 0, err
	}
	defer t.Cleanup()

	written, err := io.Copy(t, src)
	if err != nil {
		return 0, err
	}
	if err := t.Chmod(mode); err != nil {
		return 0, err
	}
	if err := t.CloseAtomicallyReplace(); err != nil {
		return 0, err
	}
	return written, nil
}

// copyWithAfero is the in-memory/afero-backed path used by tests and any
// filesystem afero.Fs that is not the real OS (renameio requires real file
// descriptors to fsync).
func (e *Engine) copyWithAfero(srcPath, dstPath string, mode os.FileMode) (int64, error) {
	src, err := e.FS.Open(srcPath)
	if err != nil {
		return 0, err
	}
	defer src.Close()

	dst, err := e.FS.OpenFile(dstPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, mode)
	if err != nil {
		return 0, err
	}
	written, err := io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	return written, err
}

func (e *Engine) countSuccess(bytes int64) {
	if e.Counters == nil {
		return
	}
	e.Counters.MigrationsStarted.Inc()
	e.Counters.MigrationsSucceeded.Inc()
	e.Counters.MigrationBytesMoved.Add(float64(bytes))
}

func (e *Engine) countFailure() {
	if e.Counters == nil {
		return
	}
	e.Counters.MigrationsStarted.Inc()
	e.Counters.MigrationsFailed.Inc()
}

// Report summarizes one ScanAndReconcile pass.
type Report struct {
	Scanned  int
	Migrated []Outcome
	Errors   error
}

// plannedMove is a file whose current tier disagrees with tierpolicy.Decide.
type plannedMove struct {
	path string
	from tierpolicy.Tier
	to   tierpolicy.Tier
}

// findMoves walks both tiers, returning every file whose current tier
// disagrees with tierpolicy.Decide and the total number of files examined.
func (e *Engine) findMoves(threshold int64) (moves []plannedMove, scanned int, err error) {
	for _, tier := range []tierpolicy.Tier{tierpolicy.Hot, tierpolicy.Cold} {
		root := e.root(tier)
		walkErr := afero.Walk(e.FS, root, func(walkPath string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(root, walkPath)
			if err != nil {
				return err
			}
			if rel == pathresolve.LockFileName {
				return nil
			}
			scanned++
			wantTier := tierpolicy.Decide(info.Size(), threshold)
			if wantTier == tier {
				return nil
			}
			moves = append(moves, plannedMove{path: rel, from: tier, to: wantTier})
			return nil
		})
		if walkErr != nil {
			return nil, 0, &rhsserrors.IoError{Tier: tier.String(), Path: root, Op: "walk", Err: walkErr}
		}
	}
	return moves, scanned, nil
}

// ScanAndReconcile walks both tiers and migrates any file that is on the
// wrong side of threshold, as an offline batch reconciliation pass. The
// walk itself is sequential; the resulting migrations run concurrently
// under an errgroup, paced by a rate.Limiter so a large backlog does not
// saturate the host filesystem.
func (e *Engine) ScanAndReconcile(ctx context.Context, threshold int64, filesPerSecond rate.Limit) (Report, error) {
	ctx, span := telemetry.StartOp(ctx, "scan_and_reconcile")
	defer span.End()

	moves, scanned, err := e.findMoves(threshold)
	if err != nil {
		return Report{}, err
	}

	limiter := rate.NewLimiter(filesPerSecond, 1)
	report := Report{Scanned: scanned}
	g, gctx := errgroup.WithContext(ctx)
	results := make(chan Outcome, len(moves))
	var errMu sync.Mutex
	var combinedErr error

	for _, m := range moves {
		m := m
		g.Go(func() error {
			if err := limiter.Wait(gctx); err != nil {
				return err
			}
			outcome, err := e.MigrateFile(gctx, m.path, m.to)
			if err != nil {
				errMu.Lock()
				combinedErr = multierr.Append(combinedErr, err)
				errMu.Unlock()
				return nil
			}
			results <- outcome
			return nil
		})
	}

	waitErr := g.Wait()
	close(results)
	for o := range results {
		report.Migrated = append(report.Migrated, o)
	}
	report.Errors = multierr.Append(combinedErr, waitErr)
	return report, report.Errors
}

// Plan reports which files ScanAndReconcile would migrate without touching
// the filesystem, for `rhss migrate --dry-run`. Outcome.BytesMoved carries
// the source file's current size rather than bytes actually copied.
func (e *Engine) Plan(ctx context.Context, threshold int64) (Report, error) {
	_, span := telemetry.StartOp(ctx, "scan_and_reconcile_plan")
	defer span.End()

	moves, scanned, err := e.findMoves(threshold)
	if err != nil {
		return Report{}, err
	}

	report := Report{Scanned: scanned}
	for _, m := range moves {
		var size int64
		if info, statErr := e.FS.Stat(pathresolve.ResolveOne(e.root(m.from), m.path)); statErr == nil {
			size = info.Size()
		}
		report.Migrated = append(report.Migrated, Outcome{Path: m.path, From: m.from, To: m.to, BytesMoved: size})
	}
	return report, nil
}
