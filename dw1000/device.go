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

package dw1000

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/ZaparooProject/go-dstwr"
)

// Bus carries register transactions to the transceiver.
type Bus interface {
	// ReadRegister fills buf from register reg starting at offset.
	ReadRegister(ctx context.Context, reg byte, offset uint16, buf []byte) error
	// WriteRegister writes data to register reg starting at offset.
	WriteRegister(ctx context.Context, reg byte, offset uint16, data []byte) error
	Close() error
}

// Option configures a Device.
type Option func(*Device)

// WithAntennaDelay programs the TX antenna delay when the device is opened.
func WithAntennaDelay(delay uint16) Option {
	return func(d *Device) {
		d.antennaDelay = delay
		d.setAntennaDelay = true
	}
}

// WithoutIDCheck skips the DEV_ID check, for register-compatible parts that
// report a different model.
func WithoutIDCheck() Option {
	return func(d *Device) {
		d.skipIDCheck = true
	}
}

// Device is a DW1000 reached through a Bus. It implements dstwr.Radio.
type Device struct {
	bus             Bus
	txFctrl         uint32
	deviceID        uint32
	antennaDelay    uint16
	setAntennaDelay bool
	skipIDCheck     bool
}

var _ dstwr.Radio = (*Device)(nil)

// New checks the device identity and reads the configured frame control
// fields that SetFrameControl preserves.
func New(ctx context.Context, bus Bus, opts ...Option) (*Device, error) {
	if bus == nil {
		return nil, fmt.Errorf("%w: nil bus", dstwr.ErrInvalidParameter)
	}
	d := &Device{bus: bus}
	for _, opt := range opts {
		opt(d)
	}

	id, err := d.read32(ctx, RegDevID, 0)
	if err != nil {
		return nil, fmt.Errorf("read DEV_ID: %w", err)
	}
	d.deviceID = id
	if !d.skipIDCheck && id&deviceIDMask != DeviceID&deviceIDMask {
		return nil, fmt.Errorf("DEV_ID 0x%08X: %w", id, dstwr.ErrDeviceNotSupported)
	}

	fctrl, err := d.read32(ctx, RegTxFctrl, 0)
	if err != nil {
		return nil, fmt.Errorf("read TX_FCTRL: %w", err)
	}
	d.txFctrl = fctrl & txFctrlKeepMask

	if d.setAntennaDelay {
		if err := d.SetTxAntennaDelay(ctx, d.antennaDelay); err != nil {
			return nil, err
		}
	}
	dstwr.Debugf("dw1000: DEV_ID 0x%08X, TX_FCTRL 0x%08X", id, fctrl)
	return d, nil
}

// DeviceID returns the DEV_ID read when the device was opened.
func (d *Device) DeviceID() uint32 {
	return d.deviceID
}

// SetTxAntennaDelay writes the transmit antenna delay, in device time units.
func (d *Device) SetTxAntennaDelay(ctx context.Context, delay uint16) error {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], delay)
	if err := d.bus.WriteRegister(ctx, RegTxAntd, 0, buf[:]); err != nil {
		return fmt.Errorf("write TX_ANTD: %w", err)
	}
	return nil
}

func (d *Device) WriteFrame(ctx context.Context, data []byte, offset int) error {
	if offset < 0 || offset+len(data) > RegisterSize(RegTxBuffer) {
		return fmt.Errorf("%w: %d bytes at TX offset %d", dstwr.ErrInvalidParameter, len(data), offset)
	}
	if err := d.bus.WriteRegister(ctx, RegTxBuffer, uint16(offset), data); err != nil {
		return fmt.Errorf("write TX_BUFFER: %w", err)
	}
	return nil
}

func (d *Device) SetFrameControl(ctx context.Context, length, offset int, ranging bool) error {
	if length < 0 || length > MaxFrameLen || offset < 0 || offset >= RegisterSize(RegTxBuffer) {
		return fmt.Errorf("%w: frame length %d at offset %d", dstwr.ErrInvalidParameter, length, offset)
	}
	v := d.txFctrl | uint32(length)&txFctrlLenMask | uint32(offset)<<txFctrlOffsetShift
	if ranging {
		v |= txFctrlRanging
	}
	return d.write32(ctx, RegTxFctrl, 0, v)
}

func (d *Device) StartTransmitImmediate(ctx context.Context, responseExpected bool) error {
	ctrl := SysCtrlTxStart
	if responseExpected {
		ctrl |= SysCtrlWait4Resp
	}
	return d.writeSysCtrl(ctx, ctrl)
}

func (d *Device) SetDelayedTransmitTime(ctx context.Context, scheduled uint32) error {
	return d.write32(ctx, RegDxTime, dxTimeOffset, scheduled)
}

// StartTransmitDelayed requests transmission at the programmed DX_TIME. If
// the radio flags the time as more than half a counter period away, which
// means it has already passed, the transmitter is turned off and
// dstwr.ErrDelayedTransmitLate returned.
func (d *Device) StartTransmitDelayed(ctx context.Context) error {
	if err := d.writeSysCtrl(ctx, SysCtrlTxStart|SysCtrlTxDelayed); err != nil {
		return err
	}
	var status [1]byte
	if err := d.bus.ReadRegister(ctx, RegSysStatus, hpdwarnByte, status[:]); err != nil {
		return fmt.Errorf("read SYS_STATUS: %w", err)
	}
	if status[0]&hpdwarnBit == 0 {
		return nil
	}
	if err := d.writeSysCtrl(ctx, SysCtrlTrxOff); err != nil {
		return err
	}
	if err := d.bus.WriteRegister(ctx, RegSysStatus, hpdwarnByte, []byte{hpdwarnBit}); err != nil {
		return fmt.Errorf("clear HPDWARN: %w", err)
	}
	return dstwr.ErrDelayedTransmitLate
}

func (d *Device) EnableReceiveImmediate(ctx context.Context) error {
	return d.writeSysCtrl(ctx, SysCtrlRxEnable)
}

func (d *Device) ReadStatusFlags(ctx context.Context) (dstwr.StatusFlags, error) {
	raw, err := d.read32(ctx, RegSysStatus, 0)
	if err != nil {
		return 0, fmt.Errorf("read SYS_STATUS: %w", err)
	}
	return StatusFromRaw(raw), nil
}

func (d *Device) ClearStatusFlags(ctx context.Context, flags dstwr.StatusFlags) error {
	raw := RawFromStatus(flags)
	if raw == 0 {
		return nil
	}
	return d.write32(ctx, RegSysStatus, 0, raw)
}

func (d *Device) ResetReceiver(ctx context.Context) error {
	for _, v := range []byte{pmscSoftResetRxClear, pmscSoftResetRxRelease} {
		if err := d.bus.WriteRegister(ctx, RegPMSC, pmscSoftResetOffset, []byte{v}); err != nil {
			return fmt.Errorf("write PMSC soft reset: %w", err)
		}
	}
	return nil
}

func (d *Device) ReceivedFrameLength(ctx context.Context) (int, error) {
	info, err := d.read32(ctx, RegRxFinfo, 0)
	if err != nil {
		return 0, fmt.Errorf("read RX_FINFO: %w", err)
	}
	return int(info & rxFinfoLenMask), nil
}

func (d *Device) ReadReceivedData(ctx context.Context, buf []byte, length, offset int) error {
	if length < 0 || length > len(buf) || offset < 0 || offset+length > RegisterSize(RegRxBuffer) {
		return fmt.Errorf("%w: read %d bytes at RX offset %d", dstwr.ErrInvalidParameter, length, offset)
	}
	if err := d.bus.ReadRegister(ctx, RegRxBuffer, uint16(offset), buf[:length]); err != nil {
		return fmt.Errorf("read RX_BUFFER: %w", err)
	}
	return nil
}

func (d *Device) ReadTransmitTimestamp(ctx context.Context) ([5]byte, error) {
	return d.readTimestamp(ctx, RegTxTime)
}

func (d *Device) ReadReceiveTimestamp(ctx context.Context) ([5]byte, error) {
	return d.readTimestamp(ctx, RegRxTime)
}

func (d *Device) Close() error {
	if err := d.bus.Close(); err != nil {
		return fmt.Errorf("close bus: %w", err)
	}
	return nil
}

func (d *Device) readTimestamp(ctx context.Context, reg byte) ([5]byte, error) {
	var ts [timestampLen]byte
	if err := d.bus.ReadRegister(ctx, reg, 0, ts[:]); err != nil {
		return ts, fmt.Errorf("read timestamp register 0x%02X: %w", reg, err)
	}
	return ts, nil
}

func (d *Device) writeSysCtrl(ctx context.Context, ctrl uint32) error {
	if err := d.write32(ctx, RegSysCtrl, 0, ctrl); err != nil {
		return fmt.Errorf("write SYS_CTRL: %w", err)
	}
	return nil
}

func (d *Device) read32(ctx context.Context, reg byte, offset uint16) (uint32, error) {
	var buf [4]byte
	if err := d.bus.ReadRegister(ctx, reg, offset, buf[:]); err != nil {
		return 0, err //nolint:wrapcheck // callers name the register
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func (d *Device) write32(ctx context.Context, reg byte, offset uint16, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	if err := d.bus.WriteRegister(ctx, reg, offset, buf[:]); err != nil {
		return fmt.Errorf("write register 0x%02X: %w", reg, err)
	}
	return nil
}

// StatusFromRaw maps SYS_STATUS bits onto the flags the exchange uses.
func StatusFromRaw(raw uint32) dstwr.StatusFlags {
	var f dstwr.StatusFlags
	if raw&StatusTxFrameSent != 0 {
		f |= dstwr.StatusTxComplete
	}
	if raw&StatusRxFCSGood != 0 {
		f |= dstwr.StatusRxGood
	}
	if raw&StatusAllRxTimeout != 0 {
		f |= dstwr.StatusRxTimeout
	}
	if raw&StatusAllRxError != 0 {
		f |= dstwr.StatusRxError
	}
	return f
}

// RawFromStatus returns the SYS_STATUS bits to write to clear flags. Clearing
// a good reception also clears the data-ready bit that accompanies it.
func RawFromStatus(flags dstwr.StatusFlags) uint32 {
	var raw uint32
	if flags.Has(dstwr.StatusTxComplete) {
		raw |= StatusTxFrameSent
	}
	if flags.Has(dstwr.StatusRxGood) {
		raw |= StatusRxFCSGood | StatusRxDataReady
	}
	if flags.Has(dstwr.StatusRxTimeout) {
		raw |= StatusAllRxTimeout
	}
	if flags.Has(dstwr.StatusRxError) {
		raw |= StatusAllRxError
	}
	return raw
}
