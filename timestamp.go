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

package dstwr

import "time"

// DeviceTimestamp is a radio timestamp in device time units. Only the low
// 40 bits are meaningful; the rest are always zero.
type DeviceTimestamp uint64

const (
	// TimestampBits is the width of the radio's timestamp counter.
	TimestampBits = 40
	// TimestampMask keeps the meaningful bits of a DeviceTimestamp.
	TimestampMask DeviceTimestamp = 1<<TimestampBits - 1

	// DeviceTimeUnitSeconds is one tick of the 63.8976 GHz timestamp clock
	// (1 / (499.2 MHz * 128)), about 15.65 ps.
	DeviceTimeUnitSeconds = 1.0 / (499.2e6 * 128)
)

// AssembleTimestamp folds 5 raw bytes, least significant first, into a timestamp.
func AssembleTimestamp(raw [5]byte) DeviceTimestamp {
	var ts DeviceTimestamp
	for i := len(raw) - 1; i >= 0; i-- {
		ts <<= 8
		ts |= DeviceTimestamp(raw[i])
	}
	return ts
}

// Bytes splits the timestamp into 5 bytes, least significant first.
func (ts DeviceTimestamp) Bytes() [5]byte {
	var raw [5]byte
	for i := range raw {
		raw[i] = byte(ts >> (8 * i))
	}
	return raw
}

// Truncate32 returns the low 32 bits, as carried in Final frame fields.
// Timestamps within one exchange are less than 2^32 units (about 67 ms)
// apart, so differences of truncated values stay correct.
func (ts DeviceTimestamp) Truncate32() uint32 {
	return uint32(ts)
}

// Valid reports whether the bits above the 40-bit counter are clear.
func (ts DeviceTimestamp) Valid() bool {
	return ts&^TimestampMask == 0
}

// Sub returns ts - earlier modulo the 40-bit counter width.
func (ts DeviceTimestamp) Sub(earlier DeviceTimestamp) DeviceTimestamp {
	return (ts - earlier) & TimestampMask
}

// Elapsed32 returns the interval between two truncated timestamps.
func Elapsed32(later, earlier uint32) uint32 {
	return later - earlier
}

// UnitsToDuration converts an interval in device time units to a Duration,
// truncated to whole nanoseconds.
func UnitsToDuration(units uint64) time.Duration {
	return time.Duration(float64(units) * DeviceTimeUnitSeconds * float64(time.Second))
}
