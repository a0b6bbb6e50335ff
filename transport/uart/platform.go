// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
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

package uart

import (
	"runtime"
	"time"
)

func isWindows() bool {
	return runtime.GOOS == "windows"
}

// readPollInterval is the serial read timeout. Reads that return nothing
// let the transport check its reply deadline. Windows drivers return
// early reads unreliably below about 20ms.
func readPollInterval() time.Duration {
	if isWindows() {
		return 20 * time.Millisecond
	}
	return 5 * time.Millisecond
}
