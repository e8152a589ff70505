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

package namespace

import "golang.org/x/sys/unix"

// osStatfs is the default StatfsFunc, reading real space usage via statfs(2).
func osStatfs(root string) (totalBytes, freeBytes uint64, blockSize uint32, err error) {
	var st unix.Statfs_t
	if err := unix.Statfs(root, &st); err != nil {
		return 0, 0, 0, err
	}
	blockSize = uint32(st.Bsize)
	totalBytes = st.Blocks * uint64(st.Bsize)
	freeBytes = st.Bavail * uint64(st.Bsize)
	return totalBytes, freeBytes, blockSize, nil
}
