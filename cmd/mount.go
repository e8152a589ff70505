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
	"net/http"
	"os"

	"github.com/jacobsa/daemonize"
	"github.com/jacobsa/fuse"
	"github.com/jacobsa/timeutil"
	"github.com/kardianos/osext"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rhss-project/rhss/cfg"
	"github.com/rhss-project/rhss/internal/exitcode"
	"github.com/rhss-project/rhss/internal/hidden"
	"github.com/rhss-project/rhss/internal/loccache"
	"github.com/rhss-project/rhss/internal/logger"
	"github.com/rhss-project/rhss/internal/migration"
	"github.com/rhss-project/rhss/internal/namespace"
	"github.com/rhss-project/rhss/internal/shutdown"
	"github.com/rhss-project/rhss/internal/storagelock"
	"github.com/rhss-project/rhss/internal/telemetry"
	"github.com/rhss-project/rhss/internal/transport"
	"github.com/rhss-project/rhss/internal/watch"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const successfulMountMessage = "File system has been successfully mounted."

var mountCmd = &cobra.Command{
	Use:   "mount",
	Short: "Mount the hot/cold filesystem",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMount(cmd.Context())
	},
}

// fuseUnmounter adapts fuse.Unmount to the shutdown.Unmounter interface. It
// makes a single fuse.Unmount attempt; a busy mount is not retried and no
// lazy or forced unmount is tried.
type fuseUnmounter struct{ mountPoint string }

func (u *fuseUnmounter) Unmount(ctx context.Context) error {
	return fuse.Unmount(u.mountPoint)
}

// mountError, syncBackError and unmountError let internal/exitcode assign a
// distinct code to a failure without needing to import cmd or its
// dependencies.
type mountError struct{ err error }

func (e *mountError) Error() string { return fmt.Sprintf("mount: %v", e.err) }
func (e *mountError) Unwrap() error { return e.err }
func (e *mountError) ExitCode() int { return exitcode.MountFailure }

type syncBackError struct{ err error }

func (e *syncBackError) Error() string { return fmt.Sprintf("sync-back: %v", e.err) }
func (e *syncBackError) Unwrap() error { return e.err }
func (e *syncBackError) ExitCode() int { return exitcode.SyncBackFailure }

type unmountError struct{ err error }

func (e *unmountError) Error() string { return fmt.Sprintf("unmount: %v", e.err) }
func (e *unmountError) Unwrap() error { return e.err }
func (e *unmountError) ExitCode() int { return exitcode.UnmountFailure }

func runMount(ctx context.Context) error {
	if err := cfg.ValidateConfig(&Config); err != nil {
		return err
	}

	if !Config.Foreground {
		return daemonizeMount()
	}

	if err := logger.Init(Config.Logging, "rhss"); err != nil {
		return fmt.Errorf("logger.Init: %w", err)
	}

	var tp *sdktrace.TracerProvider
	if Config.Mode == "trace-debug" {
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return fmt.Errorf("stdouttrace.New: %w", err)
		}
		tp = telemetry.NewTracerProvider(sdktrace.WithBatcher(exporter))
	} else {
		tp = telemetry.NewTracerProvider()
	}
	defer tp.Shutdown(ctx)

	var registerer prometheus.Registerer
	var registry *prometheus.Registry
	if Config.MetricsAddr != "" {
		registry = prometheus.NewRegistry()
		registerer = registry
	}
	counters := telemetry.NewCounters(registerer)

	hotRoot := string(Config.Hot)
	coldRoot := string(Config.Cold)

	hostname, _ := os.Hostname()
	meta := storagelock.Meta{PID: os.Getpid(), Hostname: hostname, MountPoint: string(Config.Mount.Point)}

	clock := timeutil.RealClock()
	hotLock, err := storagelock.Acquire(hotRoot, Config.Force, meta, clock, nil)
	if err != nil {
		return err
	}
	coldLock, err := storagelock.Acquire(coldRoot, Config.Force, meta, clock, nil)
	if err != nil {
		_ = hotLock.Release()
		return err
	}

	hotMemo, err := storagelock.RestrictAndRemember(hotRoot)
	if err != nil {
		_ = hotLock.Release()
		_ = coldLock.Release()
		return err
	}
	coldMemo, err := storagelock.RestrictAndRemember(coldRoot)
	if err != nil {
		_ = hotMemo.Restore()
		_ = hotLock.Release()
		_ = coldLock.Release()
		return err
	}

	fs := afero.NewOsFs()

	effectiveHot, effectiveCold := hotRoot, coldRoot
	var redirector *hidden.Redirector
	if Config.HiddenStorage {
		redirector = hidden.New(fs, os.TempDir(), hotRoot, coldRoot)
		effectiveHot, effectiveCold, err = redirector.Activate(ctx)
		if err != nil {
			_ = coldMemo.Restore()
			_ = hotMemo.Restore()
			_ = hotLock.Release()
			_ = coldLock.Release()
			return err
		}
	}

	cache, err := loccache.New(Config.Cache.Capacity, clock, counters)
	if err != nil {
		return fmt.Errorf("loccache.New: %w", err)
	}

	mig := &migration.Engine{
		Hot:        effectiveHot,
		Cold:       effectiveCold,
		FS:         fs,
		Clock:      clock,
		Counters:   counters,
		Threshold:  int64(Config.Threshold),
		RealRename: true,
	}

	engine := namespace.New(effectiveHot, effectiveCold, fs, cache, mig, int64(Config.Threshold), clock)
	engine.ReadOnly = Config.ReadOnly

	uid, gid := uint32(os.Getuid()), uint32(os.Getgid())
	fsServer := transport.New(engine, uid, gid)

	hotWatcher, err := watch.New(effectiveHot, cache)
	if err != nil {
		return fmt.Errorf("watch.New(hot): %w", err)
	}
	coldWatcher, err := watch.New(effectiveCold, cache)
	if err != nil {
		return fmt.Errorf("watch.New(cold): %w", err)
	}
	if err := hotWatcher.Start(ctx); err != nil {
		return fmt.Errorf("watching hot tier: %w", err)
	}
	defer hotWatcher.Stop()
	if err := coldWatcher.Start(ctx); err != nil {
		return fmt.Errorf("watching cold tier: %w", err)
	}
	defer coldWatcher.Stop()

	mountCfg := &fuse.MountConfig{
		FSName:     "rhss",
		Subtype:    "rhss",
		VolumeName: "rhss",
		Options:    map[string]string{},
	}
	if Config.ReadOnly {
		mountCfg.Options["ro"] = ""
	}

	logger.Infof("mounting %s (hot=%s cold=%s)", Config.Mount.Point, effectiveHot, effectiveCold)
	mfs, err := fuse.Mount(string(Config.Mount.Point), fsServer.Server(), mountCfg)
	if err != nil {
		signalDaemonizeOutcome(&mountError{err: err})
		return &mountError{err: err}
	}

	coordinator := &shutdown.Coordinator{
		Unmount: &fuseUnmounter{mountPoint: string(Config.Mount.Point)},
		Locks:   []shutdown.Unlocker{hotLock, coldLock},
		Perms:   []shutdown.PermissionRestorer{hotMemo, coldMemo},
	}
	if redirector != nil {
		coordinator.SyncBack = redirector
	}
	stopWatchingSignals := coordinator.WatchSignals(ctx)
	defer stopWatchingSignals()

	if Config.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(Config.MetricsAddr, mux); err != nil && err != http.ErrServerClosed {
				logger.Errorf("metrics server: %v", err)
			}
		}()
	}

	logger.Infof(successfulMountMessage)
	signalDaemonizeOutcome(nil)

	joinErr := mfs.Join(ctx)
	shutdownErr := coordinator.Run(ctx)

	if joinErr != nil {
		return &unmountError{err: joinErr}
	}
	if shutdownErr != nil {
		return &syncBackError{err: shutdownErr}
	}
	return nil
}

// daemonizeMount re-execs the current binary in the foreground and waits for
// it to either finish mounting or fail, mirroring gcsfuse's own
// daemonize.Run/SignalOutcome handshake.
func daemonizeMount() error {
	path, err := osext.Executable()
	if err != nil {
		return fmt.Errorf("osext.Executable: %w", err)
	}

	args := append([]string{"mount", "--foreground"}, os.Args[2:]...)
	env := []string{fmt.Sprintf("PATH=%s", os.Getenv("PATH"))}

	if err := daemonize.Run(path, args, env, os.Stdout); err != nil {
		return fmt.Errorf("daemonize.Run: %w", err)
	}
	logger.Infof(successfulMountMessage)
	return nil
}

// signalDaemonizeOutcome tells a parent daemonize.Run call (if any) whether
// the foreground mount succeeded. It is a no-op, not an error, when this
// process was not spawned via daemonize.Run.
func signalDaemonizeOutcome(err error) {
	if err2 := daemonize.SignalOutcome(err); err2 != nil {
		logger.Errorf("failed to signal mount outcome to parent process: %v", err2)
	}
}
