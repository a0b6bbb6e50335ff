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
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"github.com/ZaparooProject/go-dstwr/dw1000"
)

const (
	bridgeHostTFI   = 0xD4
	bridgeDeviceTFI = 0xD5
	bridgeCmdRead   = 0x01
	bridgeCmdWrite  = 0x02
	bridgeStatusOK  = 0x00
	bridgeStatusErr = 0x01
)

var (
	bridgeAck  = []byte{0x00, 0x00, 0xFF, 0x00, 0xFF, 0x00}
	bridgeNack = []byte{0x00, 0x00, 0xFF, 0xFF, 0x00, 0x00}

	// ErrBridgeClosed is returned by a closed VirtualBridge.
	ErrBridgeClosed = errors.New("virtual bridge closed")
)

// VirtualBridge is the device side of a USB/UART register bridge. It parses
// host frames, forwards them to a register bus and writes the replies back,
// with knobs for the faults seen on real bridges.
type VirtualBridge struct {
	bus         dw1000.Bus
	ready       chan struct{}
	in          []byte
	out         []byte
	lastReply   []byte
	readTimeout time.Duration
	corrupt     int
	reject      int
	dropAcks    int
	requests    int
	nacks       int
	mu          sync.Mutex
	silent      bool
	closed      bool
}

// NewVirtualBridge serves register requests from bus.
func NewVirtualBridge(bus dw1000.Bus) *VirtualBridge {
	return &VirtualBridge{
		bus:         bus,
		ready:       make(chan struct{}, 1),
		readTimeout: 5 * time.Millisecond,
	}
}

// CorruptReplies damages the checksum of the next n replies.
func (b *VirtualBridge) CorruptReplies(n int) {
	b.mu.Lock()
	b.corrupt = n
	b.mu.Unlock()
}

// RejectRequests answers the next n requests with a NACK without running them.
func (b *VirtualBridge) RejectRequests(n int) {
	b.mu.Lock()
	b.reject = n
	b.mu.Unlock()
}

// DropAcks swallows the next n requests entirely.
func (b *VirtualBridge) DropAcks(n int) {
	b.mu.Lock()
	b.dropAcks = n
	b.mu.Unlock()
}

// SetSilent stops the bridge from answering at all.
func (b *VirtualBridge) SetSilent(silent bool) {
	b.mu.Lock()
	b.silent = silent
	b.mu.Unlock()
}

// InjectNoise queues bytes ahead of the next reply.
func (b *VirtualBridge) InjectNoise(noise []byte) {
	b.mu.Lock()
	b.out = append(b.out, noise...)
	b.mu.Unlock()
	b.signal()
}

// Requests returns the number of requests executed against the bus.
func (b *VirtualBridge) Requests() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.requests
}

// NacksReceived returns how many NACKs the host sent.
func (b *VirtualBridge) NacksReceived() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nacks
}

// SetReadTimeout implements uart.Port.
func (b *VirtualBridge) SetReadTimeout(t time.Duration) error {
	b.mu.Lock()
	b.readTimeout = t
	b.mu.Unlock()
	return nil
}

// ResetInputBuffer implements uart.Port. It drops pending output, which is
// the host's input.
func (b *VirtualBridge) ResetInputBuffer() error {
	b.mu.Lock()
	b.out = b.out[:0]
	b.mu.Unlock()
	return nil
}

// Close implements io.Closer.
func (b *VirtualBridge) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.signal()
	return nil
}

// Read returns pending reply bytes, or nothing once the read timeout passes.
func (b *VirtualBridge) Read(p []byte) (int, error) {
	timer := time.NewTimer(b.timeout())
	defer timer.Stop()
	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return 0, ErrBridgeClosed
		}
		if len(b.out) > 0 {
			n := copy(p, b.out)
			b.out = b.out[n:]
			b.mu.Unlock()
			return n, nil
		}
		b.mu.Unlock()

		select {
		case <-b.ready:
		case <-timer.C:
			return 0, nil
		}
	}
}

// Write accepts host bytes and answers every complete frame.
func (b *VirtualBridge) Write(p []byte) (int, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return 0, ErrBridgeClosed
	}
	b.in = append(b.in, p...)
	for b.processFrame() {
	}
	b.mu.Unlock()
	b.signal()
	return len(p), nil
}

func (b *VirtualBridge) timeout() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.readTimeout
}

func (b *VirtualBridge) signal() {
	select {
	case b.ready <- struct{}{}:
	default:
	}
}

// processFrame consumes one complete frame from the input, if there is one.
func (b *VirtualBridge) processFrame() bool {
	start := -1
	for i := 0; i+1 < len(b.in); i++ {
		if b.in[i] == 0x00 && b.in[i+1] == 0xFF {
			start = i + 2
			break
		}
	}
	if start < 0 || len(b.in) < start+2 {
		return false
	}
	n, lcs := b.in[start], b.in[start+1]

	switch {
	case n == 0xFF && lcs == 0x00:
		b.in = b.in[min(start+3, len(b.in)):]
		b.nacks++
		b.reply(b.lastReply)
		return true
	case n+lcs != 0:
		b.in = b.in[start:]
		b.emit(bridgeNack)
		return true
	}

	end := start + 2 + int(n) + 2
	if len(b.in) < end {
		return false
	}
	body := b.in[start+2 : start+2+int(n)]
	dcs := b.in[start+2+int(n)]
	frame := append([]byte(nil), body...)
	b.in = b.in[end:]

	if bridgeChecksum(frame) != dcs || len(frame) < 2 || frame[0] != bridgeHostTFI {
		b.emit(bridgeNack)
		return true
	}
	if b.silent {
		return true
	}
	if b.dropAcks > 0 {
		b.dropAcks--
		return true
	}
	if b.reject > 0 {
		b.reject--
		b.emit(bridgeNack)
		return true
	}
	b.emit(bridgeAck)
	b.lastReply = bridgeFrame(b.execute(frame[1:]))
	b.reply(b.lastReply)
	return true
}

func (b *VirtualBridge) reply(frm []byte) {
	if len(frm) == 0 {
		return
	}
	if b.corrupt > 0 {
		b.corrupt--
		bad := append([]byte(nil), frm...)
		bad[len(bad)-2] ^= 0xFF
		b.emit(bad)
		return
	}
	b.emit(frm)
}

func (b *VirtualBridge) emit(data []byte) {
	b.out = append(b.out, data...)
}

func (b *VirtualBridge) execute(req []byte) []byte {
	b.requests++
	hdr, used, err := dw1000.DecodeHeader(req[1:])
	if err != nil {
		return []byte{bridgeStatusErr}
	}
	rest := req[1+used:]
	ctx := context.Background()

	switch req[0] {
	case bridgeCmdRead:
		if hdr.Write || len(rest) != 2 {
			return []byte{bridgeStatusErr}
		}
		data := make([]byte, binary.LittleEndian.Uint16(rest))
		if err := b.bus.ReadRegister(ctx, hdr.Register, hdr.Offset, data); err != nil {
			return []byte{bridgeStatusErr}
		}
		return append([]byte{bridgeStatusOK}, data...)
	case bridgeCmdWrite:
		if !hdr.Write {
			return []byte{bridgeStatusErr}
		}
		if err := b.bus.WriteRegister(ctx, hdr.Register, hdr.Offset, rest); err != nil {
			return []byte{bridgeStatusErr}
		}
		return []byte{bridgeStatusOK}
	}
	return []byte{bridgeStatusErr}
}

func bridgeChecksum(data []byte) byte {
	var sum byte
	for _, v := range data {
		sum += v
	}
	return ^sum + 1
}

func bridgeFrame(payload []byte) []byte {
	body := append([]byte{bridgeDeviceTFI}, payload...)
	n := byte(len(body))
	frm := []byte{0x00, 0x00, 0xFF, n, ^n + 1}
	frm = append(frm, body...)
	return append(frm, bridgeChecksum(body), 0x00)
}
