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

// UUSToDeviceTime converts UWB microseconds (512/499.2 µs) to device time units.
const UUSToDeviceTime = 65536

// delayedTxResolutionMask clears the bit below the 512-unit granularity that
// survives the 8-bit shift of a scheduled time.
const delayedTxResolutionMask = 0xFFFFFFFE

// ScheduleFinalTx returns the value to program as the delayed transmit time:
// the last response's receive time plus the turnaround delay, shifted right
// by 8 bits. The radio ignores the low 9 bits of the resulting instant.
func ScheduleFinalTx(lastRx DeviceTimestamp, turnaroundUUS uint32) uint32 {
	return uint32((uint64(lastRx) + uint64(turnaroundUUS)*UUSToDeviceTime) >> 8)
}

// PredictFinalTxTimestamp returns the transmit timestamp the radio will
// record for a frame sent at scheduled, including the antenna delay.
func PredictFinalTxTimestamp(scheduled uint32, antennaDelay uint16) DeviceTimestamp {
	ts := DeviceTimestamp(scheduled&delayedTxResolutionMask)<<8 + DeviceTimestamp(antennaDelay)
	return ts & TimestampMask
}

// FinalSchedule is the computed timing of one Final transmission.
type FinalSchedule struct {
	Scheduled   uint32
	PredictedTx DeviceTimestamp
}

// PlanFinal computes both the scheduled time and the predicted timestamp.
func PlanFinal(lastRx DeviceTimestamp, turnaroundUUS uint32, antennaDelay uint16) FinalSchedule {
	scheduled := ScheduleFinalTx(lastRx, turnaroundUUS)
	return FinalSchedule{
		Scheduled:   scheduled,
		PredictedTx: PredictFinalTxTimestamp(scheduled, antennaDelay),
	}
}
