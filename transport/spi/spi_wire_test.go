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

package spi

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"

	"github.com/ZaparooProject/go-dstwr"
	"github.com/ZaparooProject/go-dstwr/dw1000"
	virt "github.com/ZaparooProject/go-dstwr/internal/testing"
)

var errWire = errors.New("wire fault")

func newTestTransport(t *testing.T, sim *virt.VirtualDW1000, opts ...Option) (*Transport, *virt.VirtualSPIPort) {
	t.Helper()
	port := virt.NewVirtualSPIPort("SPI0.0", sim)
	tr, err := NewFromPort(port, opts...)
	require.NoError(t, err)
	return tr, port
}

func TestSPI_ConnectsWithDefaults(t *testing.T) {
	t.Parallel()

	tr, port := newTestTransport(t, virt.NewVirtualDW1000())
	freq, mode := port.Settings()
	assert.Equal(t, DefaultFrequency, freq)
	assert.Equal(t, spi.Mode0, mode)
	assert.Equal(t, "SPI0.0", tr.String())

	_, port = newTestTransport(t, virt.NewVirtualDW1000(), WithFrequency(8*physic.MegaHertz))
	freq, _ = port.Settings()
	assert.Equal(t, 8*physic.MegaHertz, freq)
}

func TestSPI_ReadWriteRegister(t *testing.T) {
	t.Parallel()

	sim := virt.NewVirtualDW1000()
	tr, port := newTestTransport(t, sim)
	ctx := context.Background()

	id := make([]byte, 4)
	require.NoError(t, tr.ReadRegister(ctx, dw1000.RegDevID, 0, id))
	assert.Equal(t, []byte{0x30, 0x01, 0xCA, 0xDE}, id)
	assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x00, 0x00}, port.LastWrite())

	require.NoError(t, tr.WriteRegister(ctx, dw1000.RegTxBuffer, 0x100, []byte{0xAA, 0xBB}))
	assert.Equal(t, []byte{0xC9, 0x80, 0x02, 0xAA, 0xBB}, port.LastWrite())
	assert.Equal(t, []byte{0xAA, 0xBB}, sim.Register(dw1000.RegTxBuffer)[0x100:0x102])
}

func TestSPI_DriverOverTransport(t *testing.T) {
	t.Parallel()

	sim := virt.NewVirtualDW1000(virt.DefaultAnchors(3)...)
	tr, _ := newTestTransport(t, sim)
	dev, err := dw1000.New(context.Background(), tr, dw1000.WithAntennaDelay(dstwr.DefaultAntennaDelay))
	require.NoError(t, err)

	in, err := dstwr.NewInitiator(dev, nil)
	require.NoError(t, err)
	result, err := in.RunRound(context.Background())
	require.NoError(t, err)
	assert.Equal(t, dstwr.StateComplete, result.State)
}

func TestSPI_ErrorsCarryTrace(t *testing.T) {
	t.Parallel()

	tr, port := newTestTransport(t, virt.NewVirtualDW1000())
	port.FailNext(errWire)

	err := tr.ReadRegister(context.Background(), dw1000.RegSysStatus, 0, make([]byte, 4))
	require.ErrorIs(t, err, dstwr.ErrBusRead)
	require.ErrorIs(t, err, errWire)
	assert.True(t, dstwr.IsRetryable(err))

	trace := dstwr.GetTrace(err)
	require.NotNil(t, trace)
	assert.Equal(t, "SPI", trace.Transport)
	require.Len(t, trace.Trace, 1)
	assert.Equal(t, dstwr.TraceTX, trace.Trace[0].Direction)
	assert.Equal(t, []byte{0x0F}, trace.Trace[0].Data)
}

func TestSPI_InvalidHeader(t *testing.T) {
	t.Parallel()

	tr, port := newTestTransport(t, virt.NewVirtualDW1000())
	err := tr.WriteRegister(context.Background(), 0x40, 0, []byte{1})
	require.ErrorIs(t, err, dstwr.ErrInvalidParameter)
	require.ErrorIs(t, err, dw1000.ErrBadHeader)
	assert.Zero(t, port.TxCount())
}

func TestSPI_Close(t *testing.T) {
	t.Parallel()

	tr, port := newTestTransport(t, virt.NewVirtualDW1000())
	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
	assert.True(t, port.Closed())

	err := tr.ReadRegister(context.Background(), dw1000.RegDevID, 0, make([]byte, 4))
	require.ErrorIs(t, err, dstwr.ErrBusClosed)
	assert.True(t, dstwr.IsFatal(err))
}

func TestSPI_ContextCancelled(t *testing.T) {
	t.Parallel()

	tr, port := newTestTransport(t, virt.NewVirtualDW1000())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, tr.WriteRegister(ctx, dw1000.RegSysCtrl, 0, []byte{0x02}), context.Canceled)
	assert.Zero(t, port.TxCount())
}
