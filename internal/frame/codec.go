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

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrTooShort indicates a frame shorter than its fixed layout requires.
	ErrTooShort = errors.New("frame too short")
	// ErrWrongFunction indicates a frame whose function code is not the expected one.
	ErrWrongFunction = errors.New("unexpected function code")
	// ErrHeaderMismatch indicates a frame whose common header does not match the expected one.
	ErrHeaderMismatch = errors.New("header mismatch")
)

// Address is a 16-bit short address in over-the-air byte order.
type Address [2]byte

// Addressing holds the PAN and short addresses written into every header.
// Initiator frames go from Initiator to Anchor; responses travel the other way.
type Addressing struct {
	PANID     uint16
	Initiator Address
	Anchor    Address
}

// DefaultAddressing returns the addresses used by the reference anchors.
func DefaultAddressing() Addressing {
	return Addressing{
		PANID:     0xDECA,
		Initiator: Address{'V', 'E'},
		Anchor:    Address{'W', 'A'},
	}
}

func putHeader(buf []byte, seq byte, pan uint16, dst, src Address, fn byte) {
	buf[FrameControlIdx] = FrameControlLow
	buf[FrameControlIdx+1] = FrameControlHigh
	buf[SequenceIdx] = seq
	binary.LittleEndian.PutUint16(buf[PANIDIdx:], pan)
	copy(buf[DestinationIdx:], dst[:])
	copy(buf[SourceIdx:], src[:])
	buf[FunctionCodeIdx] = fn
}

// BuildPoll returns a Poll frame. The trailing checksum bytes are left zero
// for the radio to fill.
func BuildPoll(a Addressing, seq byte) []byte {
	buf := make([]byte, PollFrameLen)
	putHeader(buf, seq, a.PANID, a.Anchor, a.Initiator, FunctionPoll)
	return buf
}

// BuildResponse returns the Response frame an anchor sends back to a Poll.
func BuildResponse(a Addressing, seq, anchorID byte) []byte {
	buf := make([]byte, ResponseFrameLen)
	putHeader(buf, seq, a.PANID, a.Initiator, a.Anchor, FunctionResponse)
	buf[AnchorIDIdx] = anchorID
	return buf
}

// FinalFrameLen returns the on-air length of a Final frame carrying n anchor timestamps.
func FinalFrameLen(n int) int {
	return CommonHeaderLen + TimestampFieldLen + n*TimestampFieldLen + TimestampFieldLen + ChecksumLen
}

// BuildFinal returns a Final frame. Each timestamp is truncated to its low
// 32 bits; anchor timestamps are packed in anchor-index order.
func BuildFinal(a Addressing, seq byte, pollTx uint64, anchorRx []uint64, finalTx uint64) []byte {
	buf := make([]byte, FinalFrameLen(len(anchorRx)))
	putHeader(buf, seq, a.PANID, a.Anchor, a.Initiator, FunctionFinal)
	putTimestamp(buf[FinalPollTxIdx:], pollTx)
	for i, ts := range anchorRx {
		putTimestamp(buf[FinalAnchorIdx+i*TimestampFieldLen:], ts)
	}
	putTimestamp(buf[finalTxIdx(len(anchorRx)):], finalTx)
	return buf
}

func finalTxIdx(n int) int {
	return FinalAnchorIdx + n*TimestampFieldLen
}

func putTimestamp(dst []byte, ts uint64) {
	binary.LittleEndian.PutUint32(dst, uint32(ts))
}

// Final is a decoded Final frame.
type Final struct {
	AnchorRx []uint32
	PollTx   uint32
	FinalTx  uint32
	Sequence byte
}

// ParseFinal decodes a Final frame carrying n anchor timestamps.
func ParseFinal(buf []byte, n int) (*Final, error) {
	if len(buf) < FinalFrameLen(n)-ChecksumLen {
		return nil, fmt.Errorf("final with %d anchors: %w", n, ErrTooShort)
	}
	if buf[FunctionCodeIdx] != FunctionFinal {
		return nil, fmt.Errorf("function 0x%02X: %w", buf[FunctionCodeIdx], ErrWrongFunction)
	}
	f := &Final{
		Sequence: buf[SequenceIdx],
		PollTx:   binary.LittleEndian.Uint32(buf[FinalPollTxIdx:]),
		AnchorRx: make([]uint32, n),
		FinalTx:  binary.LittleEndian.Uint32(buf[finalTxIdx(n):]),
	}
	for i := range n {
		f.AnchorRx[i] = binary.LittleEndian.Uint32(buf[FinalAnchorIdx+i*TimestampFieldLen:])
	}
	return f, nil
}

// ResponseTemplate returns the common header a valid Response must carry,
// with the sequence byte zeroed.
func ResponseTemplate(a Addressing) []byte {
	buf := make([]byte, CommonHeaderLen)
	putHeader(buf, 0, a.PANID, a.Initiator, a.Anchor, FunctionResponse)
	return buf
}

// MatchesResponseSchema reports whether buf starts with the Response header
// described by a. The sequence byte is ignored. buf is not modified.
func MatchesResponseSchema(a Addressing, buf []byte) bool {
	return CheckResponse(a, buf) == nil
}

// CheckResponse is MatchesResponseSchema with the reason for a mismatch.
func CheckResponse(a Addressing, buf []byte) error {
	if len(buf) < MinResponseLen {
		return fmt.Errorf("response of %d bytes: %w", len(buf), ErrTooShort)
	}
	want := ResponseTemplate(a)
	for i := range CommonHeaderLen {
		if i == SequenceIdx {
			continue
		}
		if buf[i] != want[i] {
			if i == FunctionCodeIdx {
				return fmt.Errorf("function 0x%02X: %w", buf[i], ErrWrongFunction)
			}
			return fmt.Errorf("byte %d is 0x%02X, want 0x%02X: %w", i, buf[i], want[i], ErrHeaderMismatch)
		}
	}
	return nil
}

// ExtractAnchorID reads the anchor identifier from a Response frame.
func ExtractAnchorID(buf []byte) (byte, error) {
	if len(buf) < MinResponseLen {
		return 0, fmt.Errorf("response of %d bytes: %w", len(buf), ErrTooShort)
	}
	return buf[AnchorIDIdx], nil
}

// FunctionName returns a printable name for a function code.
func FunctionName(fn byte) string {
	switch fn {
	case FunctionPoll:
		return "poll"
	case FunctionResponse:
		return "response"
	case FunctionFinal:
		return "final"
	default:
		return fmt.Sprintf("unknown(0x%02X)", fn)
	}
}
