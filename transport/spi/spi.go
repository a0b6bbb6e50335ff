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

// Package spi carries DW1000 register transactions over a SPI port.
package spi

import (
	"context"
	"fmt"

	"github.com/ZaparooProject/go-dstwr"
	"github.com/ZaparooProject/go-dstwr/dw1000"
	"github.com/ZaparooProject/go-dstwr/internal/syncutil"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

const (
	// DefaultFrequency stays under the 3 MHz limit that applies until the
	// DW1000 PLL has locked.
	DefaultFrequency = 2 * physic.MegaHertz
	mode             = spi.Mode0
	bitsPerWord      = 8
	traceEntries     = 8
)

// Option configures a Transport.
type Option func(*options)

type options struct {
	frequency physic.Frequency
}

// WithFrequency sets the SPI clock.
func WithFrequency(f physic.Frequency) Option {
	return func(o *options) {
		o.frequency = f
	}
}

// Transport implements dw1000.Bus over SPI.
type Transport struct {
	port         spi.PortCloser
	conn         spi.Conn
	currentTrace *dstwr.TraceBuffer
	portName     string
	mu           syncutil.Mutex
	closed       bool
}

var _ dw1000.Bus = (*Transport)(nil)

// New opens portName (for example "/dev/spidev0.0" or "SPI0.0").
func New(portName string, opts ...Option) (*Transport, error) {
	o := options{frequency: DefaultFrequency}
	for _, opt := range opts {
		opt(&o)
	}

	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}

	port, err := spireg.Open(portName)
	if err != nil {
		return nil, fmt.Errorf("failed to open SPI port %s: %w", portName, err)
	}

	conn, err := port.Connect(o.frequency, mode, bitsPerWord)
	if err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to connect SPI: %w", err)
	}

	dstwr.Debugf("spi: opened %s at %v", portName, o.frequency)
	return newTransport(port, conn, portName), nil
}

// NewFromPort connects over an already opened port.
func NewFromPort(port spi.PortCloser, opts ...Option) (*Transport, error) {
	o := options{frequency: DefaultFrequency}
	for _, opt := range opts {
		opt(&o)
	}
	conn, err := port.Connect(o.frequency, mode, bitsPerWord)
	if err != nil {
		return nil, fmt.Errorf("failed to connect SPI: %w", err)
	}
	return newTransport(port, conn, port.String()), nil
}

func newTransport(port spi.PortCloser, conn spi.Conn, name string) *Transport {
	return &Transport{port: port, conn: conn, portName: name}
}

// ReadRegister implements dw1000.Bus. The header is clocked out first and
// the register contents are clocked in while dummy bytes follow it.
//
//nolint:wrapcheck // WrapError intentionally wraps errors with trace data
func (t *Transport) ReadRegister(ctx context.Context, reg byte, offset uint16, buf []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	hdr, err := t.begin(ctx, reg, offset, false)
	if err != nil {
		return err
	}
	defer t.end()

	w := make([]byte, len(hdr)+len(buf))
	copy(w, hdr)
	r := make([]byte, len(w))
	t.currentTrace.RecordTX(hdr, fmt.Sprintf("read 0x%02X+%d", reg, offset))

	if err := t.conn.Tx(w, r); err != nil {
		return t.currentTrace.WrapError(t.busError("read", dstwr.ErrBusRead, err))
	}
	copy(buf, r[len(hdr):])
	t.currentTrace.RecordRX(buf, "")
	return nil
}

// WriteRegister implements dw1000.Bus.
//
//nolint:wrapcheck // WrapError intentionally wraps errors with trace data
func (t *Transport) WriteRegister(ctx context.Context, reg byte, offset uint16, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	hdr, err := t.begin(ctx, reg, offset, true)
	if err != nil {
		return err
	}
	defer t.end()

	w := make([]byte, 0, len(hdr)+len(data))
	w = append(w, hdr...)
	w = append(w, data...)
	t.currentTrace.RecordTX(w, fmt.Sprintf("write 0x%02X+%d", reg, offset))

	if err := t.conn.Tx(w, nil); err != nil {
		return t.currentTrace.WrapError(t.busError("write", dstwr.ErrBusWrite, err))
	}
	return nil
}

// Close releases the port.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if t.port == nil {
		return nil
	}
	if err := t.port.Close(); err != nil {
		return fmt.Errorf("failed to close SPI port: %w", err)
	}
	return nil
}

// String returns the port name.
func (t *Transport) String() string {
	return t.portName
}

func (t *Transport) begin(ctx context.Context, reg byte, offset uint16, write bool) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if t.closed {
		return nil, dstwr.NewBusClosedError("transfer", t.portName)
	}
	hdr, err := dw1000.Header{Register: reg, Offset: offset, Write: write}.Encode()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", dstwr.ErrInvalidParameter, err)
	}
	t.currentTrace = dstwr.NewTraceBuffer("SPI", t.portName, traceEntries)
	return hdr, nil
}

func (t *Transport) end() {
	t.currentTrace = nil
}

func (t *Transport) busError(op string, kind, cause error) error {
	typ := dstwr.ErrorTypeTransient
	if dstwr.IsFatal(cause) {
		typ = dstwr.ErrorTypePermanent
	}
	return dstwr.NewBusError(op, t.portName, fmt.Errorf("%w: %w", kind, cause), typ)
}
