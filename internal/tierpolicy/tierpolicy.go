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

// Package tierpolicy implements the pure function deciding which tier a
// file of a given size belongs on. The two-tier choice here plays the role
// that a multi-upstream selection Policy plays in rclone's backend/union
// (see policy.Policy.Search), reduced to a single size-based rule.
package tierpolicy

import "time"

// Tier is the enumerated tag identifying a backing storage area.
type Tier int

const (
	Hot Tier = iota
	Cold
)

func (t Tier) String() string {
	switch t {
	case Hot:
		return "hot"
	case Cold:
		return "cold"
	default:
		return "unknown"
	}
}

// Decide returns the tier a file of the given size belongs on: Cold if
// size >= threshold, otherwise Hot.
func Decide(size int64, threshold int64) Tier {
	if size >= threshold {
		return Cold
	}
	return Hot
}

// Other returns the tier that is not t, used by the namespace engine and
// migration engine when they need "the tier we are moving away from".
func Other(t Tier) Tier {
	if t == Hot {
		return Cold
	}
	return Hot
}

// Candidate is one tier's copy of a logical path that also exists in the
// other tier, the input to Winner's invariant-1 tie-break.
type Candidate struct {
	Size    int64
	ModTime time.Time
}

// Winner decides which of two colliding copies of the same logical path to
// keep: the copy whose size already matches policy for the tier it
// occupies wins. If both match, Cold wins. If neither matches, the most
// recently modified copy wins; an exact mtime tie prefers Cold, since it is
// the tier most likely to keep growing unattended. Both the namespace engine's read-time collision
// resolution and the migration engine's write-time duplicate cleanup share
// this one decision.
func Winner(hot, cold Candidate, threshold int64) Tier {
	hotConsistent := Decide(hot.Size, threshold) == Hot
	coldConsistent := Decide(cold.Size, threshold) == Cold

	switch {
	case coldConsistent && !hotConsistent:
		return Cold
	case hotConsistent && !coldConsistent:
		return Hot
	case coldConsistent && hotConsistent:
		return Cold
	default:
		if hot.ModTime.After(cold.ModTime) {
			return Hot
		}
		return Cold
	}
}
