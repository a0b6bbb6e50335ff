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

package frame

import "encoding/binary"

// CalculateFCS computes the IEEE 802.15.4 frame check sequence
// (CRC-16, polynomial x^16+x^12+x^5+1, LSB first, zero initial value).
func CalculateFCS(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc ^= uint16(b)
		for range 8 {
			if crc&1 != 0 {
				crc = crc>>1 ^ 0x8408
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}

// AppendFCS fills the last ChecksumLen bytes of buf with the FCS of the bytes
// before them, as the radio does on transmit.
func AppendFCS(buf []byte) {
	if len(buf) < ChecksumLen {
		return
	}
	n := len(buf) - ChecksumLen
	binary.LittleEndian.PutUint16(buf[n:], CalculateFCS(buf[:n]))
}

// ValidateFCS reports whether the trailing FCS of buf matches its content.
func ValidateFCS(buf []byte) bool {
	if len(buf) < ChecksumLen {
		return false
	}
	n := len(buf) - ChecksumLen
	return binary.LittleEndian.Uint16(buf[n:]) == CalculateFCS(buf[:n])
}
