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

// Package dw1000 drives a Decawave DW1000 transceiver at register level and
// exposes it as a dstwr.Radio. The register transactions themselves are
// carried by a Bus, either SPI or a UART register bridge.
package dw1000

// Register file ids.
const (
	RegDevID     byte = 0x00
	RegTxFctrl   byte = 0x08
	RegTxBuffer  byte = 0x09
	RegDxTime    byte = 0x0A
	RegSysCtrl   byte = 0x0D
	RegSysStatus byte = 0x0F
	RegRxFinfo   byte = 0x10
	RegRxBuffer  byte = 0x11
	RegRxTime    byte = 0x15
	RegTxTime    byte = 0x17
	RegTxAntd    byte = 0x18
	RegPMSC      byte = 0x36
)

// RegisterSize returns the length in bytes of a register file, or 0 for an
// id the driver does not use.
func RegisterSize(reg byte) int {
	switch reg {
	case RegDevID, RegSysCtrl, RegRxFinfo:
		return 4
	case RegTxFctrl, RegDxTime, RegSysStatus:
		return 5
	case RegTxBuffer, RegRxBuffer:
		return 1024
	case RegRxTime:
		return 14
	case RegTxTime:
		return 10
	case RegTxAntd:
		return 2
	case RegPMSC:
		return 48
	default:
		return 0
	}
}

// DeviceID is the expected DEV_ID value: RIDTAG 0xDECA, model 0x01.
const (
	DeviceID     uint32 = 0xDECA0130
	deviceIDMask uint32 = 0xFFFFFF00
)

// TX_FCTRL fields.
const (
	txFctrlLenMask     uint32 = 0x7F
	txFctrlRanging     uint32 = 1 << 15
	txFctrlOffsetShift        = 22
	// txFctrlKeepMask covers the data rate, PRF, preamble length and
	// preamble extension fields, which are left as configured.
	txFctrlKeepMask uint32 = 0x003F6000
)

// MaxFrameLen is the largest standard 802.15.4 frame, checksum included.
const MaxFrameLen = 127

// dxTimeOffset is where the 32 writable bits of DX_TIME start.
const dxTimeOffset = 1

// SYS_CTRL bits.
const (
	SysCtrlTxStart   uint32 = 0x00000002
	SysCtrlTxDelayed uint32 = 0x00000004
	SysCtrlTrxOff    uint32 = 0x00000040
	SysCtrlWait4Resp uint32 = 0x00000080
	SysCtrlRxEnable  uint32 = 0x00000100
)

// SYS_STATUS bits.
const (
	StatusTxFrameSent    uint32 = 0x00000080
	StatusRxDataReady    uint32 = 0x00002000
	StatusRxFCSGood      uint32 = 0x00004000
	StatusRxPHYError     uint32 = 0x00001000
	StatusRxFCSError     uint32 = 0x00008000
	StatusRxReedSolomon  uint32 = 0x00010000
	StatusRxFrameWaitTO  uint32 = 0x00020000
	StatusLDEError       uint32 = 0x00040000
	StatusRxPreambleTO   uint32 = 0x00200000
	StatusRxSFDTimeout   uint32 = 0x04000000
	StatusHalfPeriodWarn uint32 = 0x08000000
	StatusAFFReject      uint32 = 0x20000000

	StatusAllRxTimeout = StatusRxFrameWaitTO | StatusRxPreambleTO
	StatusAllRxError   = StatusRxPHYError | StatusRxFCSError | StatusRxReedSolomon |
		StatusRxSFDTimeout | StatusAFFReject | StatusLDEError
)

// hpdwarnByte and hpdwarnBit locate HPDWARN within SYS_STATUS byte 3.
const (
	hpdwarnByte = 3
	hpdwarnBit  = byte(StatusHalfPeriodWarn >> 24)
)

// RX_FINFO frame length field.
const rxFinfoLenMask uint32 = 0x7F

// PMSC_CTRL0 soft reset byte: clearing then setting the RX bit resets the
// receiver.
const (
	pmscSoftResetOffset         = 3
	pmscSoftResetRxClear   byte = 0xE0
	pmscSoftResetRxRelease byte = 0xF0
)

// timestampLen is the width of TX_TIME/RX_TIME stamps.
const timestampLen = 5
