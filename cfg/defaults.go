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

const (
	// DefaultThresholdBytes is the implementation default tier threshold
	// when --threshold is left unset.
	DefaultThresholdBytes = 1 << 20

	DefaultLogSeverity = InfoLogSeverity
	DefaultLogFormat   = TextLogFormat

	DefaultLogRotateMaxSizeMB       = 512
	DefaultLogRotateBackupFileCount = 10
	DefaultLogRotateCompress        = true

	// DefaultCacheCapacity is the location cache's recommended default soft
	// capacity.
	DefaultCacheCapacity = 10000
)
