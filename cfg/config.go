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

// Package cfg defines RHSS's mount-time configuration and binds it to the
// CLI flag set via viper, mirroring the flag/config split of the gcsfuse
// mount command.
package cfg

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the fully resolved RHSS configuration, unmarshalled from flags
// and an optional YAML config file.
type Config struct {
	Mount MountConfig `yaml:"mount"`

	Hot  ResolvedPath `yaml:"hot"`
	Cold ResolvedPath `yaml:"cold"`

	Threshold ByteSize `yaml:"threshold"`

	Force         bool   `yaml:"force"`
	HiddenStorage bool   `yaml:"hidden-storage"`
	ReadOnly      bool   `yaml:"read-only"`
	Mode          string `yaml:"mode"`

	// Foreground keeps the mount command attached to the invoking terminal.
	// When false, mount re-execs itself with daemonize so the shell gets
	// control back once the filesystem is ready to serve.
	Foreground bool `yaml:"foreground"`

	Logging LoggingConfig `yaml:"logging"`
	Cache   CacheConfig   `yaml:"cache"`

	MetricsAddr string `yaml:"metrics-addr"`
}

type MountConfig struct {
	Point ResolvedPath `yaml:"point"`
}

type LoggingConfig struct {
	Severity LogSeverity `yaml:"severity"`
	Format   LogFormat   `yaml:"format"`
	FilePath string      `yaml:"file-path"`

	LogRotate LogRotateConfig `yaml:"log-rotate"`
}

type LogRotateConfig struct {
	MaxSizeMB       int  `yaml:"max-size-mb"`
	BackupFileCount int  `yaml:"backup-file-count"`
	Compress        bool `yaml:"compress"`
}

type CacheConfig struct {
	// Capacity is the soft entry limit of the location cache.
	Capacity int `yaml:"capacity"`
}

// BindFlags registers the RHSS mount/migrate flag surface and binds each
// flag to viper so that Config can later be populated with
// viper.Unmarshal(&Config{}).
func BindFlags(flagSet *pflag.FlagSet) error {
	flagSet.StringP("mount", "m", "", "Mount point.")
	flagSet.StringP("hot", "H", "", "Hot backing root.")
	flagSet.StringP("cold", "C", "", "Cold backing root.")
	flagSet.Int64P("threshold", "t", DefaultThresholdBytes, "Tier threshold, in bytes.")
	flagSet.Bool("force", false, "Ignore and override existing stale storage locks.")
	flagSet.Bool("hidden-storage", false, "Enable hidden-storage redirection.")
	flagSet.Bool("read-only", false, "Reject mutating namespace operations.")
	flagSet.String("mode", "", "Transport backend selector, opaque to the core.")
	flagSet.Bool("foreground", false, "Run in the foreground instead of daemonizing.")

	flagSet.String("logging.severity", string(DefaultLogSeverity), "Log severity: TRACE, DEBUG, INFO, WARNING, ERROR, OFF.")
	flagSet.String("logging.format", string(DefaultLogFormat), "Log format: text or json.")
	flagSet.String("logging.file-path", "", "Log file path; empty logs to stderr.")
	flagSet.Int("logging.log-rotate.max-size-mb", DefaultLogRotateMaxSizeMB, "Max size in MiB of a log file before rotation.")
	flagSet.Int("logging.log-rotate.backup-file-count", DefaultLogRotateBackupFileCount, "Number of rotated log files to retain; 0 retains all.")
	flagSet.Bool("logging.log-rotate.compress", DefaultLogRotateCompress, "Compress rotated log files.")

	flagSet.Int("cache.capacity", DefaultCacheCapacity, "Soft capacity of the location cache, in entries.")

	flagSet.String("metrics-addr", "", "If set, serve Prometheus metrics on this address.")

	for _, name := range []string{
		"mount", "hot", "cold", "threshold", "force", "hidden-storage", "read-only", "mode", "foreground",
		"logging.severity", "logging.format", "logging.file-path",
		"logging.log-rotate.max-size-mb", "logging.log-rotate.backup-file-count", "logging.log-rotate.compress",
		"cache.capacity", "metrics-addr",
	} {
		if err := viper.BindPFlag(name, flagSet.Lookup(name)); err != nil {
			return err
		}
	}
	return nil
}
