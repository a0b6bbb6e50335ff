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
	"encoding/binary"
	"errors"
)

// Bridge frames are laid out as
//
//	00 00 FF LEN LCS TFI PAYLOAD... DCS 00
//
// LEN counts TFI and PAYLOAD, LCS makes LEN+LCS zero, DCS makes
// TFI+PAYLOAD+DCS zero.
const (
	hostToBridge = 0xD4
	bridgeToHost = 0xD5

	cmdRead  = 0x01
	cmdWrite = 0x02

	statusOK = 0x00

	frameOverhead = 7 // preamble(3) + LEN + LCS + DCS + postamble
	maxFrameData  = 255

	// maxChunk is the largest register slice moved in one frame. A write
	// carries TFI, command and up to three header bytes besides the data.
	maxChunk = 240
)

var (
	ackFrame  = []byte{0x00, 0x00, 0xFF, 0x00, 0xFF, 0x00}
	nackFrame = []byte{0x00, 0x00, 0xFF, 0xFF, 0x00, 0x00}

	errLengthChecksum = errors.New("length checksum mismatch")
	errDataChecksum   = errors.New("data checksum mismatch")
	errUnexpectedTFI  = errors.New("unexpected frame identifier")
	errFrameTooLarge  = errors.New("frame too large")
)

type frameKind int

const (
	frameData frameKind = iota
	frameAck
	frameNack
)

func checksum(data ...[]byte) byte {
	var sum byte
	for _, d := range data {
		for _, b := range d {
			sum += b
		}
	}
	return ^sum + 1
}

func encodeFrame(tfi byte, payload []byte) ([]byte, error) {
	n := 1 + len(payload)
	if n > maxFrameData {
		return nil, errFrameTooLarge
	}
	frm := make([]byte, 0, n+frameOverhead)
	frm = append(frm, 0x00, 0x00, 0xFF, byte(n), ^byte(n)+1, tfi)
	frm = append(frm, payload...)
	frm = append(frm, checksum([]byte{tfi}, payload), 0x00)
	return frm, nil
}

func readRequest(header []byte, n int) []byte {
	p := make([]byte, 0, 1+len(header)+2)
	p = append(p, cmdRead)
	p = append(p, header...)
	return binary.LittleEndian.AppendUint16(p, uint16(n))
}

func writeRequest(header, data []byte) []byte {
	p := make([]byte, 0, 1+len(header)+len(data))
	p = append(p, cmdWrite)
	p = append(p, header...)
	return append(p, data...)
}
