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

package testing

import (
	"context"
	"errors"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"

	"github.com/ZaparooProject/go-dstwr/dw1000"
	"github.com/ZaparooProject/go-dstwr/internal/syncutil"
)

// ErrPortClosed is returned by a closed VirtualSPIPort.
var ErrPortClosed = errors.New("virtual spi port closed")

// VirtualSPIPort is a periph SPI port wired to a register bus. It decodes
// each transaction header and answers on MISO the way the chip does.
type VirtualSPIPort struct {
	bus       dw1000.Bus
	failNext  error
	lastWrite []byte
	name      string
	frequency physic.Frequency
	mode      spi.Mode
	txCount   int
	mu        syncutil.Mutex
	closed    bool
}

var (
	_ spi.PortCloser = (*VirtualSPIPort)(nil)
	_ spi.Conn       = (*VirtualSPIPort)(nil)
)

// NewVirtualSPIPort serves transactions from bus.
func NewVirtualSPIPort(name string, bus dw1000.Bus) *VirtualSPIPort {
	return &VirtualSPIPort{name: name, bus: bus}
}

// FailNext makes the next transaction fail with err.
func (p *VirtualSPIPort) FailNext(err error) {
	p.mu.Lock()
	p.failNext = err
	p.mu.Unlock()
}

// LastWrite returns the MOSI bytes of the last transaction.
func (p *VirtualSPIPort) LastWrite() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.lastWrite...)
}

// TxCount returns the number of transactions attempted.
func (p *VirtualSPIPort) TxCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.txCount
}

// Settings returns the clock and mode of the last Connect.
func (p *VirtualSPIPort) Settings() (physic.Frequency, spi.Mode) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frequency, p.mode
}

// Closed reports whether Close was called.
func (p *VirtualSPIPort) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Connect implements spi.Port.
func (p *VirtualSPIPort) Connect(f physic.Frequency, mode spi.Mode, _ int) (spi.Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frequency = f
	p.mode = mode
	return p, nil
}

// LimitSpeed implements spi.Port.
func (*VirtualSPIPort) LimitSpeed(physic.Frequency) error {
	return nil
}

// Close implements spi.PortCloser.
func (p *VirtualSPIPort) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

// String implements conn.Resource.
func (p *VirtualSPIPort) String() string {
	return p.name
}

// Duplex implements conn.Conn.
func (*VirtualSPIPort) Duplex() conn.Duplex {
	return conn.Full
}

// Tx implements conn.Conn.
func (p *VirtualSPIPort) Tx(w, r []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.txCount++
	if p.closed {
		return ErrPortClosed
	}
	if err := p.failNext; err != nil {
		p.failNext = nil
		return err
	}
	p.lastWrite = append(p.lastWrite[:0], w...)

	hdr, n, err := dw1000.DecodeHeader(w)
	if err != nil {
		return err
	}
	ctx := context.Background()
	if hdr.Write {
		return p.bus.WriteRegister(ctx, hdr.Register, hdr.Offset, w[n:])
	}
	if len(r) != len(w) {
		return errors.New("read needs a full-duplex buffer")
	}
	return p.bus.ReadRegister(ctx, hdr.Register, hdr.Offset, r[n:])
}

// TxPackets implements spi.Conn.
func (p *VirtualSPIPort) TxPackets(pkts []spi.Packet) error {
	for _, pkt := range pkts {
		if err := p.Tx(pkt.W, pkt.R); err != nil {
			return err
		}
	}
	return nil
}
