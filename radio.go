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

// Package dstwr implements the initiator side of double-sided two-way
// ranging: one Poll, a Response from every anchor, then a Final carrying the
// Poll, Response and predicted Final timestamps.
package dstwr

import (
	"context"
	"strings"
)

// StatusFlags is the subset of radio status events the ranging exchange
// reacts to.
type StatusFlags uint32

const (
	// StatusTxComplete is set when a frame has been fully transmitted.
	StatusTxComplete StatusFlags = 1 << iota
	// StatusRxGood is set when a frame with a good checksum has been received.
	StatusRxGood
	// StatusRxTimeout is set when the frame-wait or preamble-detect timeout fires.
	StatusRxTimeout
	// StatusRxError is set on any reception error.
	StatusRxError
)

// StatusRxAny is every receive outcome the exchange waits for.
const StatusRxAny = StatusRxGood | StatusRxTimeout | StatusRxError

// Has reports whether any of the bits in mask are set.
func (f StatusFlags) Has(mask StatusFlags) bool {
	return f&mask != 0
}

// Err returns ErrReceiveTimeout or ErrReceiveFailed for a failed
// reception, and nil otherwise. A timeout takes precedence.
func (f StatusFlags) Err() error {
	switch {
	case f.Has(StatusRxTimeout):
		return ErrReceiveTimeout
	case f.Has(StatusRxError):
		return ErrReceiveFailed
	default:
		return nil
	}
}

func (f StatusFlags) String() string {
	if f == 0 {
		return "none"
	}
	var names []string
	for _, n := range []struct {
		name string
		bit  StatusFlags
	}{
		{"txComplete", StatusTxComplete},
		{"rxGood", StatusRxGood},
		{"rxTimeout", StatusRxTimeout},
		{"rxError", StatusRxError},
	} {
		if f.Has(n.bit) {
			names = append(names, n.name)
		}
	}
	return strings.Join(names, "|")
}

// Radio is the transceiver the initiator drives. Implementations own the
// hardware exclusively for the duration of a round; the initiator never
// calls a Radio from more than one goroutine at a time.
type Radio interface {
	// WriteFrame copies a frame into the transmit buffer at offset. The
	// trailing checksum bytes are filled in by the radio.
	WriteFrame(ctx context.Context, data []byte, offset int) error

	// SetFrameControl sets the length of the next transmission, its buffer
	// offset and whether it is a ranging frame.
	SetFrameControl(ctx context.Context, length, offset int, ranging bool) error

	// StartTransmitImmediate transmits now. With responseExpected the
	// receiver is armed automatically once transmission completes.
	StartTransmitImmediate(ctx context.Context, responseExpected bool) error

	// SetDelayedTransmitTime programs the scheduled transmit time, in
	// device time units shifted right by 8.
	SetDelayedTransmitTime(ctx context.Context, scheduled uint32) error

	// StartTransmitDelayed transmits at the programmed time. It returns
	// ErrDelayedTransmitLate if that time has already passed.
	StartTransmitDelayed(ctx context.Context) error

	// EnableReceiveImmediate arms the receiver.
	EnableReceiveImmediate(ctx context.Context) error

	ReadStatusFlags(ctx context.Context) (StatusFlags, error)
	ClearStatusFlags(ctx context.Context, flags StatusFlags) error

	// ResetReceiver resets the receive path after a timeout or error.
	ResetReceiver(ctx context.Context) error

	// ReceivedFrameLength returns the length, including checksum, of the
	// last received frame.
	ReceivedFrameLength(ctx context.Context) (int, error)

	// ReadReceivedData copies length bytes starting at offset from the
	// receive buffer into buf.
	ReadReceivedData(ctx context.Context, buf []byte, length, offset int) error

	// ReadTransmitTimestamp returns the raw 40-bit timestamp of the last
	// transmission, least significant byte first.
	ReadTransmitTimestamp(ctx context.Context) ([5]byte, error)

	// ReadReceiveTimestamp returns the raw 40-bit timestamp of the last
	// reception, least significant byte first.
	ReadReceiveTimestamp(ctx context.Context) ([5]byte, error)

	Close() error
}

// StatusWaiter is implemented by radios that can block until a status
// event occurs instead of being polled. The initiator prefers it when present.
type StatusWaiter interface {
	// WaitStatus blocks until any bit in mask is set and returns the full
	// status, or returns ctx.Err().
	WaitStatus(ctx context.Context, mask StatusFlags) (StatusFlags, error)
}
