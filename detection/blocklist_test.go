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

package detection

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsPathIgnored(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		devicePath  string
		ignorePaths []string
		expected    bool
	}{
		{name: "empty ignore list", devicePath: "/dev/ttyACM0", ignorePaths: []string{}, expected: false},
		{name: "empty device path", devicePath: "", ignorePaths: []string{"/dev/ttyACM0"}, expected: false},
		{name: "exact unix path", devicePath: "/dev/ttyACM0", ignorePaths: []string{"/dev/ttyACM0"}, expected: true},
		{name: "exact windows port", devicePath: "COM5", ignorePaths: []string{"COM5"}, expected: true},
		{name: "case folded", devicePath: "com5", ignorePaths: []string{"COM5"}, expected: true},
		{name: "spi port name", devicePath: "SPI0.0", ignorePaths: []string{"spi0.0"}, expected: true},
		{name: "relative components", devicePath: "/dev/../dev/ttyACM0", ignorePaths: []string{"/dev/ttyACM0"}, expected: true},
		{name: "empty entries skipped", devicePath: "/dev/ttyACM0", ignorePaths: []string{"", "/dev/ttyACM0"}, expected: true},
		{name: "no match", devicePath: "/dev/ttyACM1", ignorePaths: []string{"/dev/ttyACM0", "COM5"}, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, IsPathIgnored(tt.devicePath, tt.ignorePaths))
		})
	}
}

func TestIsBlocked(t *testing.T) {
	t.Parallel()

	blocklist := []string{"0483:374B", " 0d28:0204 "}
	assert.True(t, IsBlocked("0483:374b", blocklist))
	assert.True(t, IsBlocked("0D28:0204", blocklist))
	assert.False(t, IsBlocked("1366:0105", blocklist))
	assert.False(t, IsBlocked("", []string{""}))
	assert.False(t, IsBlocked("0483:374B", nil))
}

func TestFormatVIDPID(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "1366:0105", FormatVIDPID("1366", "0105"))
	assert.Equal(t, "10C4:EA60", FormatVIDPID("10c4", "ea60"))
	assert.Empty(t, FormatVIDPID("", "0105"))
	assert.Empty(t, FormatVIDPID("1366", ""))
}

func TestDefaultBlocklist(t *testing.T) {
	t.Parallel()

	for _, entry := range DefaultBlocklist() {
		assert.Regexp(t, "^[0-9A-F]{4}:[0-9A-F]{4}$", entry)
	}
	assert.False(t, IsBlocked("1366:0105", DefaultBlocklist()), "the DWM1001 bridge must stay probe-able")
}
