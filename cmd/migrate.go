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
	"fmt"
	"os"

	"github.com/jacobsa/timeutil"
	"github.com/rhss-project/rhss/internal/migration"
	"github.com/rhss-project/rhss/internal/pathresolve"
	"github.com/rhss-project/rhss/internal/storagelock"
	"github.com/rhss-project/rhss/internal/tierpolicy"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"
)

// defaultMigrateFilesPerSecond paces an --all batch reconciliation so it
// does not saturate the host filesystem with concurrent copies.
const defaultMigrateFilesPerSecond = 50

var (
	migratePath   string
	migrateAll    bool
	migrateDryRun bool
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Move a file, or reconcile an entire tree, across the hot/cold threshold",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMigrate(cmd.Context())
	},
}

func init() {
	migrateCmd.Flags().StringVar(&migratePath, "path", "", "Logical path of a single file to migrate.")
	migrateCmd.Flags().BoolVar(&migrateAll, "all", false, "Reconcile every file under both tiers against the threshold.")
	migrateCmd.Flags().BoolVar(&migrateDryRun, "dry-run", false, "With --all, report planned moves instead of performing them.")
}

func validateMigrateFlags() error {
	if Config.Hot == "" {
		return fmt.Errorf("--hot is required")
	}
	if Config.Cold == "" {
		return fmt.Errorf("--cold is required")
	}
	if Config.Hot == Config.Cold {
		return fmt.Errorf("--hot and --cold must be distinct directories")
	}
	if Config.Threshold < 0 {
		return fmt.Errorf("--threshold must be non-negative, got %d", Config.Threshold)
	}
	if migrateAll && migratePath != "" {
		return fmt.Errorf("--path and --all are mutually exclusive")
	}
	if !migrateAll && migratePath == "" {
		return fmt.Errorf("one of --path or --all is required")
	}
	if migrateDryRun && !migrateAll {
		return fmt.Errorf("--dry-run only applies to --all")
	}
	return nil
}

func runMigrate(ctx context.Context) error {
	if err := validateMigrateFlags(); err != nil {
		return err
	}

	hotRoot, coldRoot := string(Config.Hot), string(Config.Cold)
	fs := afero.NewOsFs()
	clock := timeutil.RealClock()

	// A dry-run plan only reads the tree, so it runs without taking the
	// instance lock; any mutating pass, single-file or batch, takes it the
	// same way rhss mount does, so it cannot race a live mount.
	if !migrateDryRun {
		hostname, _ := os.Hostname()
		meta := storagelock.Meta{PID: os.Getpid(), Hostname: hostname, MountPoint: "migrate"}
		hotLock, err := storagelock.Acquire(hotRoot, Config.Force, meta, clock, nil)
		if err != nil {
			return err
		}
		defer hotLock.Release()
		coldLock, err := storagelock.Acquire(coldRoot, Config.Force, meta, clock, nil)
		if err != nil {
			return err
		}
		defer coldLock.Release()
	}

	mig := &migration.Engine{
		Hot:        hotRoot,
		Cold:       coldRoot,
		FS:         fs,
		Clock:      clock,
		Threshold:  int64(Config.Threshold),
		RealRename: true,
	}

	if migrateAll {
		return runMigrateAll(ctx, mig)
	}
	return runMigrateOne(ctx, mig, fs)
}

func runMigrateOne(ctx context.Context, mig *migration.Engine, fs afero.Fs) error {
	logical, err := pathresolve.Normalize(migratePath)
	if err != nil {
		return err
	}

	hotInfo, hotErr := fs.Stat(pathresolve.ResolveOne(mig.Hot, logical))
	var size int64
	var from tierpolicy.Tier
	switch {
	case hotErr == nil:
		size, from = hotInfo.Size(), tierpolicy.Hot
	default:
		coldInfo, coldErr := fs.Stat(pathresolve.ResolveOne(mig.Cold, logical))
		if coldErr != nil {
			return fmt.Errorf("%s not found in either tier", logical)
		}
		size, from = coldInfo.Size(), tierpolicy.Cold
	}

	target := tierpolicy.Decide(size, int64(Config.Threshold))
	if target == from {
		fmt.Fprintf(os.Stdout, "%s is already on its correct tier (%s)\n", logical, from)
		return nil
	}

	outcome, err := mig.MigrateFile(ctx, logical, target)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "moved %s: %s -> %s (%d bytes)\n", outcome.Path, outcome.From, outcome.To, outcome.BytesMoved)
	return nil
}

// migrateReport is the yaml shape printed for `migrate --all --dry-run`.
type migrateReport struct {
	Scanned int                `yaml:"scanned"`
	Planned []migratePlanEntry `yaml:"planned"`
}

type migratePlanEntry struct {
	Path  string `yaml:"path"`
	From  string `yaml:"from"`
	To    string `yaml:"to"`
	Bytes int64  `yaml:"bytes"`
}

func runMigrateAll(ctx context.Context, mig *migration.Engine) error {
	if migrateDryRun {
		report, err := mig.Plan(ctx, int64(Config.Threshold))
		if err != nil {
			return err
		}
		out := migrateReport{Scanned: report.Scanned}
		for _, o := range report.Migrated {
			out.Planned = append(out.Planned, migratePlanEntry{
				Path:  o.Path,
				From:  o.From.String(),
				To:    o.To.String(),
				Bytes: o.BytesMoved,
			})
		}
		enc := yaml.NewEncoder(os.Stdout)
		defer enc.Close()
		return enc.Encode(out)
	}

	report, err := mig.ScanAndReconcile(ctx, int64(Config.Threshold), rate.Limit(defaultMigrateFilesPerSecond))
	if err != nil {
		return fmt.Errorf("scan and reconcile: %w", err)
	}
	fmt.Fprintf(os.Stdout, "scanned %d files, migrated %d\n", report.Scanned, len(report.Migrated))
	return nil
}
