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
	"context"
	"testing"

	"github.com/jacobsa/timeutil"
	"github.com/rhss-project/rhss/cfg"
	"github.com/rhss-project/rhss/internal/migration"
	"github.com/rhss-project/rhss/internal/rhsserrors"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetMigrateFlags() {
	migratePath = ""
	migrateAll = false
	migrateDryRun = false
}

func validMigrateConfig() cfg.Config {
	return cfg.Config{Hot: "/hot", Cold: "/cold", Threshold: 10}
}

func TestValidateMigrateFlags_RequiresPathOrAll(t *testing.T) {
	resetMigrateFlags()
	t.Cleanup(resetMigrateFlags)
	Config = validMigrateConfig()

	assert.Error(t, validateMigrateFlags())
}

func TestValidateMigrateFlags_PathAndAllMutuallyExclusive(t *testing.T) {
	resetMigrateFlags()
	t.Cleanup(resetMigrateFlags)
	Config = validMigrateConfig()
	migratePath = "a.txt"
	migrateAll = true

	assert.Error(t, validateMigrateFlags())
}

func TestValidateMigrateFlags_DryRunRequiresAll(t *testing.T) {
	resetMigrateFlags()
	t.Cleanup(resetMigrateFlags)
	Config = validMigrateConfig()
	migratePath = "a.txt"
	migrateDryRun = true

	assert.Error(t, validateMigrateFlags())
}

func TestValidateMigrateFlags_Valid(t *testing.T) {
	resetMigrateFlags()
	t.Cleanup(resetMigrateFlags)
	Config = validMigrateConfig()
	migrateAll = true

	assert.NoError(t, validateMigrateFlags())
}

func testMigrateEngine(t *testing.T) *migration.Engine {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/hot", 0o755))
	require.NoError(t, fs.MkdirAll("/cold", 0o755))
	return &migration.Engine{Hot: "/hot", Cold: "/cold", FS: fs, Clock: timeutil.RealClock()}
}

func TestRunMigrateOne_MovesOversizedFile(t *testing.T) {
	resetMigrateFlags()
	t.Cleanup(resetMigrateFlags)
	Config = validMigrateConfig()
	migratePath = "big.txt"

	mig := testMigrateEngine(t)
	require.NoError(t, afero.WriteFile(mig.FS, "/hot/big.txt", []byte("0123456789"), 0o644))

	require.NoError(t, runMigrateOne(context.Background(), mig, mig.FS))

	exists, _ := afero.Exists(mig.FS, "/cold/big.txt")
	assert.True(t, exists)
}

func TestRunMigrateOne_LeavesCorrectlyTieredFileAlone(t *testing.T) {
	resetMigrateFlags()
	t.Cleanup(resetMigrateFlags)
	Config = validMigrateConfig()
	migratePath = "small.txt"

	mig := testMigrateEngine(t)
	require.NoError(t, afero.WriteFile(mig.FS, "/hot/small.txt", []byte("hi"), 0o644))

	require.NoError(t, runMigrateOne(context.Background(), mig, mig.FS))

	exists, _ := afero.Exists(mig.FS, "/hot/small.txt")
	assert.True(t, exists)
}

func TestRunMigrateOne_RejectsPathEscape(t *testing.T) {
	resetMigrateFlags()
	t.Cleanup(resetMigrateFlags)
	Config = validMigrateConfig()
	migratePath = "../../etc/passwd"

	mig := testMigrateEngine(t)

	err := runMigrateOne(context.Background(), mig, mig.FS)
	require.Error(t, err)
	var invalid *rhsserrors.InvalidPath
	require.ErrorAs(t, err, &invalid)
}

func TestRunMigrateOne_MissingFile(t *testing.T) {
	resetMigrateFlags()
	t.Cleanup(resetMigrateFlags)
	Config = validMigrateConfig()
	migratePath = "missing.txt"

	mig := testMigrateEngine(t)
	assert.Error(t, runMigrateOne(context.Background(), mig, mig.FS))
}

func TestRunMigrateAll_DryRunDoesNotTouchFiles(t *testing.T) {
	resetMigrateFlags()
	t.Cleanup(resetMigrateFlags)
	Config = validMigrateConfig()
	migrateAll = true
	migrateDryRun = true

	mig := testMigrateEngine(t)
	require.NoError(t, afero.WriteFile(mig.FS, "/hot/big.txt", []byte("0123456789"), 0o644))

	require.NoError(t, runMigrateAll(context.Background(), mig))

	exists, _ := afero.Exists(mig.FS, "/hot/big.txt")
	assert.True(t, exists)
	exists, _ = afero.Exists(mig.FS, "/cold/big.txt")
	assert.False(t, exists)
}
