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

// A two-tier hot/cold FUSE filesystem.
//
// Usage:
//
//	rhss mount --hot DIR --cold DIR --mount MOUNT_POINT
//	rhss migrate --hot DIR --cold DIR --threshold N (--path PATH | --all [--dry-run])
package main

import "github.com/rhss-project/rhss/cmd"

func main() {
	cmd.Execute()
}
