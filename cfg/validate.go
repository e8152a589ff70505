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

package cfg

import "fmt"

// ValidateConfig returns a non-nil error if the config is unusable. It does
// not touch the filesystem; existence of the mount point and backing roots
// is checked at mount time where the error can be attributed to a tier.
func ValidateConfig(c *Config) error {
	if c.Mount.Point == "" {
		return fmt.Errorf("mount point is required")
	}
	if c.Hot == "" {
		return fmt.Errorf("--hot is required")
	}
	if c.Cold == "" {
		return fmt.Errorf("--cold is required")
	}
	if c.Hot == c.Cold {
		return fmt.Errorf("--hot and --cold must be distinct directories")
	}
	if c.Threshold < 0 {
		return fmt.Errorf("--threshold must be non-negative, got %d", c.Threshold)
	}
	if c.Logging.LogRotate.MaxSizeMB <= 0 {
		return fmt.Errorf("logging.log-rotate.max-size-mb must be at least 1")
	}
	if c.Logging.LogRotate.BackupFileCount < 0 {
		return fmt.Errorf("logging.log-rotate.backup-file-count must be 0 (retain all) or positive")
	}
	if c.Cache.Capacity <= 0 {
		return fmt.Errorf("cache.capacity must be positive")
	}
	return nil
}
