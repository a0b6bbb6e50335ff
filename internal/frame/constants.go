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

// Package frame encodes and decodes the IEEE 802.15.4 data frames exchanged
// during a double-sided two-way ranging round.
package frame

// Common header layout shared by every ranging frame.
const (
	FrameControlIdx   = 0 // 2 bytes, 0x8841 little-endian
	SequenceIdx       = 2
	PANIDIdx          = 3 // 2 bytes
	DestinationIdx    = 5 // 2 bytes
	SourceIdx         = 7 // 2 bytes
	FunctionCodeIdx   = 9
	CommonHeaderLen   = 10
	ChecksumLen       = 2 // FCS appended by the radio
	TimestampFieldLen = 4
)

// Function codes carried in byte 9 of the header.
const (
	FunctionPoll     byte = 0xE0
	FunctionResponse byte = 0xE1
	FunctionFinal    byte = 0x23
)

// Frame control for a data frame with PAN ID compression and 16-bit addressing.
const (
	FrameControlLow  byte = 0x41
	FrameControlHigh byte = 0x88
)

// Response payload layout.
const (
	AnchorIDIdx      = CommonHeaderLen // activity byte, repurposed as the anchor identifier
	ResponseFrameLen = 20              // including checksum
	// MinResponseLen is the shortest received frame, checksum included,
	// from which an anchor id can be read.
	MinResponseLen = AnchorIDIdx + 1 + ChecksumLen
)

// Poll and Final layout.
const (
	PollFrameLen   = CommonHeaderLen + ChecksumLen
	FinalPollTxIdx = CommonHeaderLen
	FinalAnchorIdx = FinalPollTxIdx + TimestampFieldLen
)

const (
	// MaxPSDULen is the largest frame the radio can carry with standard framing.
	MaxPSDULen = 127
	// RxBufferLen is the largest received frame the initiator reads out of the radio.
	RxBufferLen = 32
	// MaxAnchors is the most anchors whose timestamps fit in one Final frame.
	MaxAnchors = (MaxPSDULen - CommonHeaderLen - 2*TimestampFieldLen - ChecksumLen) / TimestampFieldLen
)
