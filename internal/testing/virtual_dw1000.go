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

// Package testing provides a register-level DW1000 simulator with scripted
// anchors, so the driver and the ranging exchange can be exercised without
// hardware.
package testing

import (
	"context"
	"encoding/binary"
	"fmt"
	"slices"

	"github.com/ZaparooProject/go-dstwr"
	"github.com/ZaparooProject/go-dstwr/dw1000"
	"github.com/ZaparooProject/go-dstwr/internal/frame"
	"github.com/ZaparooProject/go-dstwr/internal/syncutil"
)

const (
	timestampMask  uint64 = 1<<40 - 1
	halfPeriod     uint64 = 1 << 39
	delayedTxMask  uint64 = 0x1FF
	defaultTick    uint64 = 6400
	defaultTxFctrl uint32 = 0x0015_4000
)

// VirtualAnchor answers every Poll with a Response whose receive timestamp
// is ReplyDelay device time units after the Poll's transmit timestamp.
type VirtualAnchor struct {
	ReplyDelay uint64
	ID         byte
	Silent     bool
}

// Transmission is a frame the simulated radio put on air.
type Transmission struct {
	Frame     []byte
	Timestamp uint64
	Delayed   bool
}

type pendingRx struct {
	data   []byte
	at     uint64
	status uint32
}

// VirtualDW1000 implements dw1000.Bus on top of a simulated register file.
// The device clock advances by a fixed tick on every bus access and jumps
// forward to the next scheduled reception when the receiver is armed.
type VirtualDW1000 struct {
	regs        map[byte][]byte
	readErrors  map[byte]error
	writeErrors map[byte]error
	anchors     []VirtualAnchor
	pending     []pendingRx
	transmitted []Transmission
	addr        frame.Addressing
	now         uint64
	tick        uint64
	accesses    int
	mu          syncutil.Mutex
	rxArmed     bool
	frameWaitTO bool
	closed      bool
}

// NewVirtualDW1000 returns a powered-up device with the given anchors in range.
func NewVirtualDW1000(anchors ...VirtualAnchor) *VirtualDW1000 {
	v := &VirtualDW1000{
		regs:        make(map[byte][]byte),
		readErrors:  make(map[byte]error),
		writeErrors: make(map[byte]error),
		anchors:     anchors,
		addr:        frame.DefaultAddressing(),
		tick:        defaultTick,
	}
	for _, reg := range []byte{
		dw1000.RegDevID, dw1000.RegTxFctrl, dw1000.RegTxBuffer, dw1000.RegDxTime,
		dw1000.RegSysCtrl, dw1000.RegSysStatus, dw1000.RegRxFinfo, dw1000.RegRxBuffer,
		dw1000.RegRxTime, dw1000.RegTxTime, dw1000.RegTxAntd, dw1000.RegPMSC,
	} {
		v.regs[reg] = make([]byte, dw1000.RegisterSize(reg))
	}
	binary.LittleEndian.PutUint32(v.regs[dw1000.RegDevID], dw1000.DeviceID)
	binary.LittleEndian.PutUint32(v.regs[dw1000.RegTxFctrl], defaultTxFctrl)
	return v
}

// DefaultAnchors returns n anchors with ids 1..n replying 300 µs apart.
func DefaultAnchors(n int) []VirtualAnchor {
	anchors := make([]VirtualAnchor, n)
	for i := range anchors {
		anchors[i] = VirtualAnchor{ID: byte(i + 1), ReplyDelay: uint64(i+1) * 19_169_280}
	}
	return anchors
}

// SetTick sets how far the device clock advances per bus access. A large
// tick models a slow bus and makes delayed transmissions miss their slot.
func (v *VirtualDW1000) SetTick(units uint64) {
	v.mu.Lock()
	v.tick = units
	v.mu.Unlock()
}

// SetAnchors replaces the anchors in range.
func (v *VirtualDW1000) SetAnchors(anchors ...VirtualAnchor) {
	v.mu.Lock()
	v.anchors = anchors
	v.mu.Unlock()
}

// SetFrameWaitTimeout makes an armed receiver with nothing to deliver report
// a frame-wait timeout instead of staying silent.
func (v *VirtualDW1000) SetFrameWaitTimeout(enabled bool) {
	v.mu.Lock()
	v.frameWaitTO = enabled
	v.mu.Unlock()
}

// SetDeviceID overrides the DEV_ID register.
func (v *VirtualDW1000) SetDeviceID(id uint32) {
	v.mu.Lock()
	binary.LittleEndian.PutUint32(v.regs[dw1000.RegDevID], id)
	v.mu.Unlock()
}

// InjectFrame schedules an arbitrary frame for reception delay units from now.
// The checksum is filled in.
func (v *VirtualDW1000) InjectFrame(data []byte, delay uint64) {
	buf := append([]byte(nil), data...)
	frame.AppendFCS(buf)
	v.mu.Lock()
	v.schedule(pendingRx{data: buf, at: v.now + delay, status: dw1000.StatusRxFCSGood | dw1000.StatusRxDataReady})
	v.mu.Unlock()
}

// InjectRxError schedules a garbled reception delay units from now.
func (v *VirtualDW1000) InjectRxError(delay uint64) {
	v.mu.Lock()
	v.schedule(pendingRx{at: v.now + delay, status: dw1000.StatusRxFCSError})
	v.mu.Unlock()
}

// InjectReadError makes reads of reg fail with err. A nil err clears it.
func (v *VirtualDW1000) InjectReadError(reg byte, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err == nil {
		delete(v.readErrors, reg)
		return
	}
	v.readErrors[reg] = err
}

// InjectWriteError makes writes to reg fail with err. A nil err clears it.
func (v *VirtualDW1000) InjectWriteError(reg byte, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err == nil {
		delete(v.writeErrors, reg)
		return
	}
	v.writeErrors[reg] = err
}

// Transmissions returns every frame sent so far, checksums included.
func (v *VirtualDW1000) Transmissions() []Transmission {
	v.mu.Lock()
	defer v.mu.Unlock()
	return slices.Clone(v.transmitted)
}

// Register returns a copy of a register's contents.
func (v *VirtualDW1000) Register(reg byte) []byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	return slices.Clone(v.regs[reg])
}

// Now returns the device clock.
func (v *VirtualDW1000) Now() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.now
}

// Accesses returns the number of register transactions served.
func (v *VirtualDW1000) Accesses() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.accesses
}

// ReceiverArmed reports whether the receiver is enabled.
func (v *VirtualDW1000) ReceiverArmed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.rxArmed
}

// ReadRegister implements dw1000.Bus.
func (v *VirtualDW1000) ReadRegister(ctx context.Context, reg byte, offset uint16, buf []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.access(ctx); err != nil {
		return err
	}
	if err := v.readErrors[reg]; err != nil {
		return err
	}
	if reg == dw1000.RegSysStatus {
		v.deliver()
	}
	data, err := v.window(reg, offset, len(buf))
	if err != nil {
		return err
	}
	copy(buf, data)
	return nil
}

// WriteRegister implements dw1000.Bus.
func (v *VirtualDW1000) WriteRegister(ctx context.Context, reg byte, offset uint16, data []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.access(ctx); err != nil {
		return err
	}
	if err := v.writeErrors[reg]; err != nil {
		return err
	}
	dst, err := v.window(reg, offset, len(data))
	if err != nil {
		return err
	}

	switch reg {
	case dw1000.RegSysStatus:
		for i, b := range data {
			dst[i] &^= b
		}
	case dw1000.RegSysCtrl:
		var ctrl [4]byte
		copy(ctrl[offset:], data)
		v.control(binary.LittleEndian.Uint32(ctrl[:]))
	case dw1000.RegPMSC:
		copy(dst, data)
		if offset == 3 && len(data) > 0 && data[0] == 0xE0 {
			v.rxArmed = false
		}
	case dw1000.RegDevID, dw1000.RegRxFinfo, dw1000.RegRxBuffer, dw1000.RegRxTime, dw1000.RegTxTime:
		return fmt.Errorf("register 0x%02X is read-only: %w", reg, dstwr.ErrInvalidParameter)
	default:
		copy(dst, data)
	}
	return nil
}

// Close implements dw1000.Bus.
func (v *VirtualDW1000) Close() error {
	v.mu.Lock()
	v.closed = true
	v.mu.Unlock()
	return nil
}

func (v *VirtualDW1000) access(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if v.closed {
		return dstwr.NewBusClosedError("transfer", "virtual")
	}
	v.accesses++
	v.now = (v.now + v.tick) & timestampMask
	return nil
}

func (v *VirtualDW1000) window(reg byte, offset uint16, n int) ([]byte, error) {
	r, ok := v.regs[reg]
	if !ok {
		return nil, fmt.Errorf("register 0x%02X: %w", reg, dstwr.ErrInvalidParameter)
	}
	if int(offset)+n > len(r) {
		return nil, fmt.Errorf("register 0x%02X: %d bytes at %d past end %d: %w",
			reg, n, offset, len(r), dstwr.ErrInvalidParameter)
	}
	return r[int(offset) : int(offset)+n], nil
}

func (v *VirtualDW1000) status() uint32 {
	return binary.LittleEndian.Uint32(v.regs[dw1000.RegSysStatus])
}

func (v *VirtualDW1000) setStatus(bits uint32) {
	binary.LittleEndian.PutUint32(v.regs[dw1000.RegSysStatus], v.status()|bits)
}

func (v *VirtualDW1000) control(ctrl uint32) {
	if ctrl&dw1000.SysCtrlTrxOff != 0 {
		v.rxArmed = false
	}
	if ctrl&dw1000.SysCtrlTxStart != 0 {
		v.transmit(ctrl&dw1000.SysCtrlTxDelayed != 0, ctrl&dw1000.SysCtrlWait4Resp != 0)
	}
	if ctrl&dw1000.SysCtrlRxEnable != 0 {
		v.rxArmed = true
	}
}

func (v *VirtualDW1000) transmit(delayed, wait4resp bool) {
	fctrl := binary.LittleEndian.Uint32(v.regs[dw1000.RegTxFctrl])
	length := int(fctrl & 0x7F)
	offset := int(fctrl >> 22)
	txBuf := v.regs[dw1000.RegTxBuffer]
	if offset+length > len(txBuf) {
		return
	}
	data := slices.Clone(txBuf[offset : offset+length])
	frame.AppendFCS(data)

	antd := uint64(binary.LittleEndian.Uint16(v.regs[dw1000.RegTxAntd]))
	at := v.now
	if delayed {
		dx := binary.LittleEndian.Uint32(v.regs[dw1000.RegDxTime][1:])
		target := (uint64(dx) << 8) &^ delayedTxMask
		if (target-v.now)&timestampMask >= halfPeriod {
			v.setStatus(dw1000.StatusHalfPeriodWarn)
			return
		}
		at = target
		v.now = target
	}
	ts := (at + antd) & timestampMask

	var raw [8]byte
	binary.LittleEndian.PutUint64(raw[:], ts)
	copy(v.regs[dw1000.RegTxTime], raw[:5])
	v.setStatus(dw1000.StatusTxFrameSent)
	v.transmitted = append(v.transmitted, Transmission{Frame: data, Timestamp: ts, Delayed: delayed})

	if length > frame.FunctionCodeIdx && data[frame.FunctionCodeIdx] == frame.FunctionPoll {
		v.answerPoll(data[frame.SequenceIdx], ts)
	}
	if wait4resp {
		v.rxArmed = true
	}
}

func (v *VirtualDW1000) answerPoll(seq byte, pollTx uint64) {
	for _, a := range v.anchors {
		if a.Silent {
			continue
		}
		resp := frame.BuildResponse(v.addr, seq, a.ID)
		frame.AppendFCS(resp)
		v.schedule(pendingRx{
			data:   resp,
			at:     pollTx + a.ReplyDelay,
			status: dw1000.StatusRxFCSGood | dw1000.StatusRxDataReady,
		})
	}
}

func (v *VirtualDW1000) schedule(p pendingRx) {
	v.pending = append(v.pending, p)
	slices.SortStableFunc(v.pending, func(a, b pendingRx) int {
		switch {
		case a.at < b.at:
			return -1
		case a.at > b.at:
			return 1
		default:
			return 0
		}
	})
}

// deliver completes the next reception if the receiver is armed and the
// previous outcome has been cleared.
func (v *VirtualDW1000) deliver() {
	rxBits := dw1000.StatusRxFCSGood | dw1000.StatusAllRxError | dw1000.StatusAllRxTimeout
	if !v.rxArmed || v.status()&rxBits != 0 {
		return
	}
	if len(v.pending) == 0 {
		if v.frameWaitTO {
			v.setStatus(dw1000.StatusRxFrameWaitTO)
			v.rxArmed = false
		}
		return
	}

	p := v.pending[0]
	v.pending = v.pending[1:]
	v.rxArmed = false
	if p.at > v.now {
		v.now = p.at & timestampMask
	}
	if p.status&dw1000.StatusRxFCSGood != 0 {
		copy(v.regs[dw1000.RegRxBuffer], p.data)
		binary.LittleEndian.PutUint32(v.regs[dw1000.RegRxFinfo], uint32(len(p.data)))
		var raw [8]byte
		binary.LittleEndian.PutUint64(raw[:], p.at&timestampMask)
		copy(v.regs[dw1000.RegRxTime], raw[:5])
	}
	v.setStatus(p.status)
}
