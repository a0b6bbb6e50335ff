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

//nolint:paralleltest // Tests modify package-level debug state, cannot run in parallel
package dstwr

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lockedBuffer is safe to share with exchange tests running in parallel.
type lockedBuffer struct {
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	sessionLogMu.Lock()
	defer sessionLogMu.Unlock()
	return b.buf.String()
}

func swapSessionWriter(t *testing.T, w io.Writer) {
	t.Helper()
	sessionLogMu.Lock()
	orig := sessionLogWriter
	sessionLogWriter = w
	sessionLogMu.Unlock()

	origEnabled := DebugEnabled()
	SetDebugEnabled(false)

	t.Cleanup(func() {
		sessionLogMu.Lock()
		sessionLogWriter = orig
		sessionLogMu.Unlock()
		SetDebugEnabled(origEnabled)
	})
}

func TestDebugf_WritesToSessionLog(t *testing.T) {
	buf := &lockedBuffer{}
	swapSessionWriter(t, buf)

	Debugf("anchor %d answered", 2)
	Debugln("final", "sent")

	content := buf.String()
	assert.Contains(t, content, "DEBUG: anchor 2 answered\n")
	assert.Contains(t, content, "DEBUG: finalsent\n")

	matched, err := regexp.MatchString(`\d{2}:\d{2}:\d{2}\.\d{3} DEBUG:`, content)
	require.NoError(t, err)
	assert.True(t, matched, "missing timestamp in %q", content)
}

func TestDebugf_NilSessionWriter(t *testing.T) {
	swapSessionWriter(t, nil)
	assert.NotPanics(t, func() { Debugf("nothing to write to %d", 1) })
}

func TestSetDebugEnabled(t *testing.T) {
	swapSessionWriter(t, nil)

	SetDebugEnabled(true)
	assert.True(t, DebugEnabled())
	SetDebugEnabled(false)
	assert.False(t, DebugEnabled())
}

func TestInitSessionLog(t *testing.T) {
	dir := t.TempDir()
	t.Cleanup(func() { _ = CloseSessionLog() })

	path, err := InitSessionLog(dir)
	require.NoError(t, err)
	assert.Equal(t, path, GetSessionLogPath())
	assert.Equal(t, dir, filepath.Dir(path))
	assert.Regexp(t, `^dstwr_\d{8}_\d{6}\.log$`, filepath.Base(path))

	Debugf("round %d complete", 7)
	require.NoError(t, CloseSessionLog())
	assert.Empty(t, GetSessionLogPath())

	data, err := os.ReadFile(path) //nolint:gosec // test file in temp dir
	require.NoError(t, err)
	content := string(data)
	assert.True(t, strings.HasPrefix(content, "=== DS-TWR Ranging Session Log ==="))
	assert.Contains(t, content, "PID: ")
	assert.Contains(t, content, "DEBUG: round 7 complete")
	assert.Contains(t, content, "=== Session ended ===")
}

func TestInitSessionLog_BadDirectory(t *testing.T) {
	_, err := InitSessionLog(filepath.Join(t.TempDir(), "missing", "dir"))
	require.Error(t, err)
	assert.Empty(t, GetSessionLogPath())
}

func TestCloseSessionLog_NotOpen(t *testing.T) {
	require.NoError(t, CloseSessionLog())
}
