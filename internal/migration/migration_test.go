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

package migration

import (
	"context"
	"testing"
	"time"

	"github.com/jacobsa/timeutil"
	"github.com/rhss-project/rhss/internal/rhsserrors"
	"github.com/rhss-project/rhss/internal/tierpolicy"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/hot", 0o755))
	require.NoError(t, fs.MkdirAll("/cold", 0o755))
	return &Engine{Hot: "/hot", Cold: "/cold", FS: fs, Clock: timeutil.RealClock()}
}

func TestMigrateFile_HotToCold(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, afero.WriteFile(e.FS, "/hot/a.txt", []byte("hello"), 0o644))

	out, err := e.MigrateFile(context.Background(), "a.txt", tierpolicy.Cold)
	require.NoError(t, err)
	require.Equal(t, int64(5), out.BytesMoved)
	require.False(t, out.AlreadyThere)

	exists, _ := afero.Exists(e.FS, "/cold/a.txt")
	require.True(t, exists)
	exists, _ = afero.Exists(e.FS, "/hot/a.txt")
	require.False(t, exists)
}

func TestMigrateFile_AlreadyOnTarget(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, afero.WriteFile(e.FS, "/cold/a.txt", []byte("hello"), 0o644))

	out, err := e.MigrateFile(context.Background(), "a.txt", tierpolicy.Cold)
	require.NoError(t, err)
	require.True(t, out.AlreadyThere)
}

func TestMigrateFile_DuplicateResolvesByPolicyAndDeletesLoser(t *testing.T) {
	e := newTestEngine(t)
	e.Threshold = 5
	require.NoError(t, afero.WriteFile(e.FS, "/hot/a.txt", []byte("hi"), 0o644))
	require.NoError(t, afero.WriteFile(e.FS, "/cold/a.txt", []byte("0123456789"), 0o644))

	out, err := e.MigrateFile(context.Background(), "a.txt", tierpolicy.Cold)
	require.NoError(t, err)
	require.True(t, out.AlreadyThere)

	exists, _ := afero.Exists(e.FS, "/cold/a.txt")
	require.True(t, exists, "policy-correct cold copy must survive")
	exists, _ = afero.Exists(e.FS, "/hot/a.txt")
	require.False(t, exists, "hot duplicate must be deleted when both copies match policy")
}

func TestMigrateFile_DuplicateBothInconsistentFallsBackToMtime(t *testing.T) {
	e := newTestEngine(t)
	e.Threshold = 5
	now := timeutil.RealClock().Now()
	// The hot copy is oversized for hot and the cold copy is undersized for
	// cold, so neither side matches the tier it occupies and the tie-break
	// must fall back to mtime.
	require.NoError(t, afero.WriteFile(e.FS, "/hot/a.txt", []byte("0123456789"), 0o644))
	require.NoError(t, afero.WriteFile(e.FS, "/cold/a.txt", []byte("hi"), 0o644))
	require.NoError(t, e.FS.Chtimes("/hot/a.txt", now, now.Add(time.Hour)))
	require.NoError(t, e.FS.Chtimes("/cold/a.txt", now, now))

	out, err := e.MigrateFile(context.Background(), "a.txt", tierpolicy.Cold)
	require.NoError(t, err)
	require.True(t, out.AlreadyThere)

	exists, _ := afero.Exists(e.FS, "/hot/a.txt")
	require.True(t, exists, "more recently modified copy must survive the mtime fallback")
	exists, _ = afero.Exists(e.FS, "/cold/a.txt")
	require.False(t, exists)
}

func TestMigrateFile_SourceMissing(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.MigrateFile(context.Background(), "missing.txt", tierpolicy.Cold)
	require.Error(t, err)
	var nf *rhsserrors.NotFound
	require.ErrorAs(t, err, &nf)
}

func TestScanAndReconcile_MovesOversizedHotFiles(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, afero.WriteFile(e.FS, "/hot/small.txt", []byte("hi"), 0o644))
	require.NoError(t, afero.WriteFile(e.FS, "/hot/big.txt", []byte("0123456789"), 0o644))
	require.NoError(t, afero.WriteFile(e.FS, "/cold/undersized.txt", []byte("x"), 0o644))

	report, err := e.ScanAndReconcile(context.Background(), 5, rate.Inf)
	require.NoError(t, err)
	require.Equal(t, 3, report.Scanned)
	require.Len(t, report.Migrated, 2)

	exists, _ := afero.Exists(e.FS, "/cold/big.txt")
	require.True(t, exists)
	exists, _ = afero.Exists(e.FS, "/hot/undersized.txt")
	require.True(t, exists)
}

func TestScanAndReconcile_NoWorkIsNoop(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, afero.WriteFile(e.FS, "/hot/small.txt", []byte("hi"), 0o644))

	report, err := e.ScanAndReconcile(context.Background(), 100, rate.Inf)
	require.NoError(t, err)
	require.Equal(t, 1, report.Scanned)
	require.Empty(t, report.Migrated)
}

func TestPlan_ReportsMovesWithoutTouchingFiles(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, afero.WriteFile(e.FS, "/hot/small.txt", []byte("hi"), 0o644))
	require.NoError(t, afero.WriteFile(e.FS, "/hot/big.txt", []byte("0123456789"), 0o644))

	report, err := e.Plan(context.Background(), 5)
	require.NoError(t, err)
	require.Equal(t, 2, report.Scanned)
	require.Len(t, report.Migrated, 1)
	require.Equal(t, "big.txt", report.Migrated[0].Path)
	require.Equal(t, tierpolicy.Cold, report.Migrated[0].To)
	require.Equal(t, int64(10), report.Migrated[0].BytesMoved)

	exists, _ := afero.Exists(e.FS, "/hot/big.txt")
	require.True(t, exists)
	exists, _ = afero.Exists(e.FS, "/cold/big.txt")
	require.False(t, exists)
}
