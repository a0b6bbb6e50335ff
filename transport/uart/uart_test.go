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
	"context"
	"errors"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZaparooProject/go-dstwr"
	"github.com/ZaparooProject/go-dstwr/dw1000"
	virt "github.com/ZaparooProject/go-dstwr/internal/testing"
)

var errNoSPI = errors.New("spi fault")

func newBridgeTransport(t *testing.T, sim *virt.VirtualDW1000, opts ...Option) (*Transport, *virt.VirtualBridge) {
	t.Helper()
	bridge := virt.NewVirtualBridge(sim)
	tr, err := NewWithPort(bridge, "virtual", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })
	return tr, bridge
}

func singleAttempt() Option {
	return WithRetryConfig(&dstwr.RetryConfig{MaxAttempts: 1})
}

func TestUART_ReadWriteRegister(t *testing.T) {
	t.Parallel()

	sim := virt.NewVirtualDW1000()
	tr, bridge := newBridgeTransport(t, sim)
	ctx := context.Background()

	id := make([]byte, 4)
	require.NoError(t, tr.ReadRegister(ctx, dw1000.RegDevID, 0, id))
	assert.Equal(t, []byte{0x30, 0x01, 0xCA, 0xDE}, id)

	require.NoError(t, tr.WriteRegister(ctx, dw1000.RegTxBuffer, 0x100, []byte{0xAA, 0xBB}))
	assert.Equal(t, []byte{0xAA, 0xBB}, sim.Register(dw1000.RegTxBuffer)[0x100:0x102])
	assert.Equal(t, 2, bridge.Requests())
	assert.Equal(t, "virtual", tr.String())
}

func TestUART_LargeTransfersAreChunked(t *testing.T) {
	t.Parallel()

	sim := virt.NewVirtualDW1000()
	tr, bridge := newBridgeTransport(t, sim)
	ctx := context.Background()

	data := make([]byte, 300)
	for i := range data {
		data[i] = byte(i * 7)
	}
	require.NoError(t, tr.WriteRegister(ctx, dw1000.RegTxBuffer, 0, data))

	got := make([]byte, len(data))
	require.NoError(t, tr.ReadRegister(ctx, dw1000.RegTxBuffer, 0, got))
	assert.Equal(t, data, got)
	assert.Equal(t, 4, bridge.Requests())
}

func TestUART_CorruptReplyIsResentNotRepeated(t *testing.T) {
	t.Parallel()

	tests := []struct {
		run  func(ctx context.Context, tr *Transport) error
		name string
	}{
		{
			name: "read",
			run: func(ctx context.Context, tr *Transport) error {
				return tr.ReadRegister(ctx, dw1000.RegDevID, 0, make([]byte, 4))
			},
		},
		{
			name: "write",
			run: func(ctx context.Context, tr *Transport) error {
				return tr.WriteRegister(ctx, dw1000.RegTxBuffer, 0, []byte{1, 2, 3})
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tr, bridge := newBridgeTransport(t, virt.NewVirtualDW1000())
			bridge.CorruptReplies(2)

			require.NoError(t, tt.run(context.Background(), tr))
			assert.Equal(t, 2, bridge.NacksReceived())
			assert.Equal(t, 1, bridge.Requests())
		})
	}
}

func TestUART_PersistentCorruption(t *testing.T) {
	t.Parallel()

	tr, bridge := newBridgeTransport(t, virt.NewVirtualDW1000())
	bridge.CorruptReplies(1000)

	err := tr.ReadRegister(context.Background(), dw1000.RegDevID, 0, make([]byte, 4))
	require.ErrorIs(t, err, dstwr.ErrChecksumMismatch)
	assert.True(t, dstwr.IsRetryable(err))
	assert.Equal(t, dstwr.DefaultBusRetries, bridge.Requests())

	trace := dstwr.GetTrace(err)
	require.NotNil(t, trace)
	assert.Equal(t, "UART", trace.Transport)
	assert.Equal(t, "virtual", trace.Port)

	tr2, bridge2 := newBridgeTransport(t, virt.NewVirtualDW1000())
	bridge2.CorruptReplies(1000)
	err = tr2.WriteRegister(context.Background(), dw1000.RegTxBuffer, 0, []byte{1})
	require.ErrorIs(t, err, dstwr.ErrChecksumMismatch)
	assert.Equal(t, 1, bridge2.Requests())
}

func TestUART_RejectedRequestIsResent(t *testing.T) {
	t.Parallel()

	sim := virt.NewVirtualDW1000()
	tr, bridge := newBridgeTransport(t, sim)
	bridge.RejectRequests(2)

	require.NoError(t, tr.WriteRegister(context.Background(), dw1000.RegTxBuffer, 0, []byte{0x5A}))
	assert.Equal(t, 1, bridge.Requests())
	assert.Equal(t, byte(0x5A), sim.Register(dw1000.RegTxBuffer)[0])

	bridge.RejectRequests(maxNacks + 1)
	err := tr.WriteRegister(context.Background(), dw1000.RegTxBuffer, 0, []byte{0x5B})
	require.ErrorIs(t, err, dstwr.ErrFrameCorrupted)
	assert.Equal(t, 1, bridge.Requests())
}

func TestUART_LostAck(t *testing.T) {
	t.Parallel()

	tr, bridge := newBridgeTransport(t, virt.NewVirtualDW1000(), WithResponseTimeout(15*time.Millisecond))
	bridge.DropAcks(1)
	id := make([]byte, 4)
	require.NoError(t, tr.ReadRegister(context.Background(), dw1000.RegDevID, 0, id))
	assert.Equal(t, []byte{0x30, 0x01, 0xCA, 0xDE}, id)

	bridge.DropAcks(1)
	err := tr.WriteRegister(context.Background(), dw1000.RegTxBuffer, 0, []byte{1})
	require.ErrorIs(t, err, dstwr.ErrBusTimeout)
	assert.True(t, dstwr.IsRetryable(err))
	assert.False(t, dstwr.IsFatal(err))

	// The transport recovers on the next transaction.
	require.NoError(t, tr.WriteRegister(context.Background(), dw1000.RegTxBuffer, 0, []byte{1}))
}

func TestUART_NoiseBeforeReply(t *testing.T) {
	t.Parallel()

	tr, bridge := newBridgeTransport(t, virt.NewVirtualDW1000())
	bridge.InjectNoise([]byte{0x12, 0x00, 0x34, 0xFF, 0x00})

	id := make([]byte, 4)
	require.NoError(t, tr.ReadRegister(context.Background(), dw1000.RegDevID, 0, id))
	assert.Equal(t, []byte{0x30, 0x01, 0xCA, 0xDE}, id)
}

func TestUART_SilentBridge(t *testing.T) {
	t.Parallel()

	tr, bridge := newBridgeTransport(t, virt.NewVirtualDW1000(),
		WithResponseTimeout(10*time.Millisecond), singleAttempt())
	bridge.SetSilent(true)

	start := time.Now()
	err := tr.ReadRegister(context.Background(), dw1000.RegSysStatus, 0, make([]byte, 4))
	require.ErrorIs(t, err, dstwr.ErrBusTimeout)
	assert.Less(t, time.Since(start), time.Second)
}

func TestUART_DeviceErrorStatus(t *testing.T) {
	t.Parallel()

	sim := virt.NewVirtualDW1000()
	sim.InjectReadError(dw1000.RegSysStatus, errNoSPI)
	tr, bridge := newBridgeTransport(t, sim)

	err := tr.ReadRegister(context.Background(), dw1000.RegSysStatus, 0, make([]byte, 4))
	require.ErrorIs(t, err, dstwr.ErrBusRead)
	assert.Equal(t, dstwr.DefaultBusRetries, bridge.Requests())

	sim.InjectWriteError(dw1000.RegSysCtrl, errNoSPI)
	err = tr.WriteRegister(context.Background(), dw1000.RegSysCtrl, 0, []byte{0x02})
	require.ErrorIs(t, err, dstwr.ErrBusWrite)
}

func TestUART_InvalidHeader(t *testing.T) {
	t.Parallel()

	tr, bridge := newBridgeTransport(t, virt.NewVirtualDW1000())
	err := tr.ReadRegister(context.Background(), 0x40, 0, make([]byte, 1))
	require.ErrorIs(t, err, dstwr.ErrInvalidParameter)
	assert.Zero(t, bridge.Requests())
}

func TestUART_ContextCancelled(t *testing.T) {
	t.Parallel()

	tr, bridge := newBridgeTransport(t, virt.NewVirtualDW1000())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, tr.ReadRegister(ctx, dw1000.RegDevID, 0, make([]byte, 4)), context.Canceled)
	assert.Zero(t, bridge.Requests())
}

func TestUART_Close(t *testing.T) {
	t.Parallel()

	tr, _ := newBridgeTransport(t, virt.NewVirtualDW1000())
	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())

	err := tr.WriteRegister(context.Background(), dw1000.RegSysCtrl, 0, []byte{0x40})
	require.ErrorIs(t, err, dstwr.ErrBusClosed)
	assert.True(t, dstwr.IsFatal(err))
}

// jitteryPort delivers bridge output through a jittery USB link.
type jitteryPort struct {
	*virt.VirtualBridge
	link *virt.JitteryConnection
}

func (p jitteryPort) Read(b []byte) (int, error) {
	return p.link.Read(b)
}

func (p jitteryPort) Write(b []byte) (int, error) {
	return p.link.Write(b)
}

func TestUART_RangingOverJitteryLink(t *testing.T) {
	t.Parallel()

	sim := virt.NewVirtualDW1000(virt.DefaultAnchors(3)...)
	bridge := virt.NewVirtualBridge(sim)
	cfg := virt.DefaultJitterConfig()
	cfg.MaxLatency = 200 * time.Microsecond
	cfg.USBBoundaries = true
	cfg.Seed = 2026
	port := jitteryPort{VirtualBridge: bridge, link: virt.NewJitteryConnection(bridge, cfg)}

	tr, err := NewWithPort(port, "jittery")
	require.NoError(t, err)
	defer func() { _ = tr.Close() }()

	ctx := context.Background()
	dev, err := dw1000.New(ctx, tr, dw1000.WithAntennaDelay(dstwr.DefaultAntennaDelay))
	require.NoError(t, err)

	in, err := dstwr.NewInitiator(dev, nil)
	require.NoError(t, err)
	for range 2 {
		result, err := in.RunRound(ctx)
		require.NoError(t, err)
		assert.Equal(t, dstwr.StateComplete, result.State)
		assert.Equal(t, 3, result.Distinct)
	}
}

func TestReadPollInterval(t *testing.T) {
	t.Parallel()

	want := 5 * time.Millisecond
	if runtime.GOOS == "windows" {
		want = 20 * time.Millisecond
	}
	assert.Equal(t, want, readPollInterval())
	assert.Equal(t, runtime.GOOS == "windows", isWindows())
}

func TestOpenError(t *testing.T) {
	t.Parallel()

	err := openError("/dev/ttyUSB9", errNoSPI)
	require.ErrorIs(t, err, errNoSPI)
	assert.True(t, dstwr.IsFatal(err))
	assert.False(t, dstwr.IsRetryable(err))
}
