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

package dw1000_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZaparooProject/go-dstwr"
	"github.com/ZaparooProject/go-dstwr/dw1000"
	"github.com/ZaparooProject/go-dstwr/internal/frame"
	testutil "github.com/ZaparooProject/go-dstwr/internal/testing"
)

func newRangingInitiator(t *testing.T, v *testutil.VirtualDW1000, mutate func(*dstwr.Config)) *dstwr.Initiator {
	t.Helper()
	cfg := dstwr.DefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}
	dev := openDevice(t, v, dw1000.WithAntennaDelay(cfg.AntennaDelay))
	in, err := dstwr.NewInitiator(dev, cfg)
	require.NoError(t, err)
	return in
}

func TestRanging_FinalMatchesActualTransmission(t *testing.T) {
	t.Parallel()

	v := testutil.NewVirtualDW1000(testutil.DefaultAnchors(3)...)
	in := newRangingInitiator(t, v, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := in.RunRound(ctx)
	require.NoError(t, err)
	require.Equal(t, dstwr.StateComplete, result.State)

	tx := v.Transmissions()
	require.Len(t, tx, 2)
	poll, final := tx[0], tx[1]
	assert.False(t, poll.Delayed)
	assert.True(t, final.Delayed)

	// The predicted timestamp embedded in the Final is the one the radio
	// actually recorded.
	assert.Equal(t, uint64(result.FinalTx), final.Timestamp)
	assert.Equal(t, uint64(result.PollTx), poll.Timestamp)

	require.True(t, frame.ValidateFCS(final.Frame))
	decoded, err := frame.ParseFinal(final.Frame, 3)
	require.NoError(t, err)
	assert.Equal(t, byte(0), decoded.Sequence)
	assert.Equal(t, uint32(poll.Timestamp), decoded.PollTx)
	assert.Equal(t, uint32(final.Timestamp), decoded.FinalTx)
	for i, a := range testutil.DefaultAnchors(3) {
		assert.Equal(t, uint32(poll.Timestamp+a.ReplyDelay), decoded.AnchorRx[i], "anchor %d", a.ID)
	}

	// Final leaves exactly the configured turnaround after the last response.
	lastRx := poll.Timestamp + testutil.DefaultAnchors(3)[2].ReplyDelay
	gap := final.Timestamp - lastRx
	turnaround := uint64(dstwr.DefaultTurnaroundDelayUUS) * dstwr.UUSToDeviceTime
	assert.InDelta(t, float64(turnaround), float64(gap), float64(dstwr.DefaultAntennaDelay+512))
}

func TestRanging_ConsecutiveRounds(t *testing.T) {
	t.Parallel()

	v := testutil.NewVirtualDW1000(testutil.DefaultAnchors(4)...)
	in := newRangingInitiator(t, v, func(c *dstwr.Config) { c.AnchorCount = 4 })
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i := range 5 {
		result, err := in.RunRound(ctx)
		require.NoError(t, err)
		require.Equal(t, dstwr.StateComplete, result.State, "round %d", i)
		assert.Equal(t, uint8(i), result.Sequence)
	}
	assert.Len(t, v.Transmissions(), 10)
}

func TestRanging_ToleratesNoise(t *testing.T) {
	t.Parallel()

	v := testutil.NewVirtualDW1000(testutil.DefaultAnchors(3)...)
	v.InjectRxError(1)
	v.InjectFrame(frame.BuildPoll(frame.Addressing{PANID: 0x1111}, 3), 2)
	in := newRangingInitiator(t, v, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := in.RunRound(ctx)
	require.NoError(t, err)
	assert.Equal(t, dstwr.StateComplete, result.State)
	assert.Equal(t, 1, result.RxErrors)
	assert.Equal(t, 1, result.Rejected)
}

func TestRanging_SilentAnchorHitsDeadline(t *testing.T) {
	t.Parallel()

	anchors := testutil.DefaultAnchors(3)
	anchors[1].Silent = true
	v := testutil.NewVirtualDW1000(anchors...)
	v.SetFrameWaitTimeout(true)
	in := newRangingInitiator(t, v, func(c *dstwr.Config) {
		c.RoundDeadline = 30 * time.Millisecond
	})

	result, err := in.RunRound(context.Background())
	require.NoError(t, err)
	assert.Equal(t, dstwr.StateAbandoned, result.State)
	require.ErrorIs(t, result.Err, dstwr.ErrRoundDeadline)
	assert.Equal(t, 2, result.Responses)
	assert.Positive(t, result.RxTimeouts)
	assert.Len(t, v.Transmissions(), 1)
}

func TestRanging_SlowBusMissesFinalSlot(t *testing.T) {
	t.Parallel()

	v := testutil.NewVirtualDW1000(testutil.DefaultAnchors(3)...)
	in := newRangingInitiator(t, v, nil)
	v.SetTick(50_000_000)

	result, err := in.RunRound(context.Background())
	require.NoError(t, err)
	assert.Equal(t, dstwr.StateAbandoned, result.State)
	require.ErrorIs(t, result.Err, dstwr.ErrDelayedTransmitLate)
	assert.Len(t, v.Transmissions(), 1)
	assert.Equal(t, uint8(1), in.Sequence())
}
