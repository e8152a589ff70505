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

package tierpolicy

import "testing"

func TestDecide(t *testing.T) {
	cases := []struct {
		size, threshold int64
		want            Tier
	}{
		{0, 100, Hot},
		{99, 100, Hot},
		{100, 100, Cold},
		{101, 100, Cold},
		{0, 0, Cold},
	}
	for _, c := range cases {
		if got := Decide(c.size, c.threshold); got != c.want {
			t.Errorf("Decide(%d, %d) = %v, want %v", c.size, c.threshold, got, c.want)
		}
	}
}

func TestOther(t *testing.T) {
	if Other(Hot) != Cold {
		t.Errorf("Other(Hot) != Cold")
	}
	if Other(Cold) != Hot {
		t.Errorf("Other(Cold) != Hot")
	}
}

func TestString(t *testing.T) {
	if Hot.String() != "hot" || Cold.String() != "cold" {
		t.Errorf("unexpected tier string representation")
	}
}
