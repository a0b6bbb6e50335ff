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

package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZaparooProject/go-dstwr"
	"github.com/ZaparooProject/go-dstwr/dw1000"
	"github.com/ZaparooProject/go-dstwr/internal/frame"
	virt "github.com/ZaparooProject/go-dstwr/internal/testing"
)

func useVirtualBus(t *testing.T, sim *virt.VirtualDW1000) {
	t.Helper()
	prev := openBus
	openBus = func(string, string, int) (dw1000.Bus, error) { return sim, nil }
	t.Cleanup(func() { openBus = prev })
}

func TestRunCommand_PrintsCompletedRounds(t *testing.T) {
	useVirtualBus(t, virt.NewVirtualDW1000(virt.DefaultAnchors(3)...))

	var stdout, stderr bytes.Buffer
	code := execute([]string{
		"run", "--device", "virtual0", "--rounds", "3", "--inter-round-delay", "1ms",
	}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())

	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	require.Len(t, lines, 3)
	for i, line := range lines {
		assert.True(t, strings.HasPrefix(line, "round seq="+string(rune('0'+i))), line)
		assert.Contains(t, line, "anchor3_rx=0x")
		assert.Contains(t, line, "responses=3")
	}
	assert.Contains(t, stderr.String(), "ranging stopped")
}

func TestRunCommand_DeviceNotResponding(t *testing.T) {
	sim := virt.NewVirtualDW1000()
	sim.SetDeviceID(0x12345678)
	useVirtualBus(t, sim)

	var stdout, stderr bytes.Buffer
	code := execute([]string{"run", "--device", "virtual0"}, &stdout, &stderr)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "failed to initialise DW1000")
}

func TestStressCommand_Summary(t *testing.T) {
	useVirtualBus(t, virt.NewVirtualDW1000(virt.DefaultAnchors(3)...))

	var stdout, stderr bytes.Buffer
	code := execute([]string{
		"stress", "--device", "virtual0", "--rounds", "5", "--inter-round-delay", "0s",
	}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())
	assert.Contains(t, stdout.String(), "STRESS TEST SUMMARY")
	assert.Contains(t, stdout.String(), "Rounds finished: 5, complete: 5, bus errors: 0")
	assert.Contains(t, stdout.String(), "Round duration: min")
}

func TestRunStress_WritesFailureReport(t *testing.T) {
	t.Parallel()

	sim := virt.NewVirtualDW1000(virt.DefaultAnchors(3)...)
	dev, err := dw1000.New(context.Background(), sim)
	require.NoError(t, err)
	in, err := dstwr.NewInitiator(dev, dstwr.DefaultConfig(), dstwr.WithInitialSequence(12))
	require.NoError(t, err)
	require.NoError(t, sim.Close())

	dir := t.TempDir()
	run := &stressRun{id: newRunIdentity(), reportDir: dir, rounds: 10}
	result, err := run.execute(context.Background(), in)
	require.ErrorIs(t, err, dstwr.ErrBusClosed)
	assert.Equal(t, 1, result.BusErrors)
	assert.Zero(t, result.Rounds)
	require.Len(t, result.Reports, 1)

	data, err := os.ReadFile(result.Reports[0])
	require.NoError(t, err)
	var report FailureReport
	require.NoError(t, json.Unmarshal(data, &report))
	assert.True(t, report.Fatal)
	assert.Equal(t, uint8(12), report.Sequence)
	assert.Equal(t, dir, filepath.Dir(result.Reports[0]))
	assert.Equal(t, run.id.ID.String(), report.RunID)
	assert.Contains(t, filepath.Base(result.Reports[0]), run.id.Name)
}

func TestPercentile(t *testing.T) {
	t.Parallel()

	sorted := []time.Duration{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	assert.Equal(t, time.Duration(1), percentile(sorted, 0))
	assert.Equal(t, time.Duration(5), percentile(sorted, 50))
	assert.Equal(t, time.Duration(10), percentile(sorted, 100))
	assert.Zero(t, percentile(nil, 50))
}

func TestNewLogger(t *testing.T) {
	t.Parallel()

	_, err := newLogger(&bytes.Buffer{}, "warn")
	require.NoError(t, err)
	_, err = newLogger(&bytes.Buffer{}, "loud")
	require.ErrorIs(t, err, dstwr.ErrInvalidParameter)
}

func TestDecodeFrame(t *testing.T) {
	t.Parallel()

	addr := frame.DefaultAddressing()
	withFCS := func(buf []byte) []byte {
		frame.AppendFCS(buf)
		return buf
	}

	tests := []struct {
		name string
		buf  []byte
		want []string
	}{
		{
			name: "poll",
			buf:  withFCS(frame.BuildPoll(addr, 7)),
			want: []string{"fcs:      ok", "function: poll", "sequence: 7", "pan:      0xDECA", "dest:     WA", "source:   VE"},
		},
		{
			name: "response",
			buf:  withFCS(frame.BuildResponse(addr, 9, 2)),
			want: []string{"function: response", "anchor:   2", "dest:     VE"},
		},
		{
			name: "final",
			buf:  withFCS(frame.BuildFinal(addr, 5, 0x11223344, []uint64{1, 2, 3}, 0xAABBCCDD)),
			want: []string{"function: final", "poll_tx:  0x11223344", "anchor3:  0x00000003", "final_tx: 0xAABBCCDD"},
		},
		{
			name: "final without fcs",
			buf:  frame.BuildFinal(addr, 5, 0, []uint64{4}, 0)[:frame.FinalFrameLen(1)-frame.ChecksumLen],
			want: []string{"absent or invalid", "anchor1:  0x00000004"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := decodeFrame(tt.buf, 0)
			require.NoError(t, err)
			for _, w := range tt.want {
				assert.Contains(t, got, w)
			}
		})
	}
}

func TestDecodeFrame_Errors(t *testing.T) {
	t.Parallel()

	_, err := decodeFrame([]byte{0x41, 0x88}, 0)
	require.ErrorIs(t, err, frame.ErrTooShort)

	short := frame.BuildPoll(frame.DefaultAddressing(), 0)[:frame.CommonHeaderLen]
	short[frame.FunctionCodeIdx] = frame.FunctionFinal
	_, err = decodeFrame(short, 0)
	require.Error(t, err)
}

func TestDecodeCommand(t *testing.T) {
	t.Parallel()

	buf := frame.BuildResponse(frame.DefaultAddressing(), 1, 3)
	frame.AppendFCS(buf)

	var stdout, stderr bytes.Buffer
	code := execute([]string{"decode", hex.EncodeToString(buf)}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())
	assert.Contains(t, stdout.String(), "anchor:   3")

	stdout.Reset()
	stderr.Reset()
	assert.Equal(t, 1, execute([]string{"decode", "zz"}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "invalid parameter")
}

func TestParseHex(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"41 88 07", "0x418807", "41:88:07", "41-88-07"} {
		got, err := parseHex(in)
		require.NoError(t, err, in)
		assert.Equal(t, []byte{0x41, 0x88, 0x07}, got, in)
	}
}
