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
	"errors"
	"fmt"
)

// ErrBadHeader indicates a malformed SPI transaction header.
var ErrBadHeader = errors.New("bad transaction header")

const (
	headerWrite    = 0x80
	headerSubIndex = 0x40
	headerRegMask  = 0x3F
	headerExtended = 0x80
	// MaxRegister is the highest register file id.
	MaxRegister = 0x3F
	// MaxOffset is the largest sub-address an extended header can carry.
	MaxOffset = 0x7FFF
)

// Header is the 1-3 byte prefix of every SPI transaction.
type Header struct {
	Offset   uint16
	Register byte
	Write    bool
}

// Encode returns the wire form of h. Offsets up to 0x7F use a single
// sub-address byte; larger ones use the extended two-byte form.
func (h Header) Encode() ([]byte, error) {
	if h.Register > MaxRegister {
		return nil, fmt.Errorf("register 0x%02X: %w", h.Register, ErrBadHeader)
	}
	if h.Offset > MaxOffset {
		return nil, fmt.Errorf("offset 0x%04X: %w", h.Offset, ErrBadHeader)
	}

	first := h.Register
	if h.Write {
		first |= headerWrite
	}
	switch {
	case h.Offset == 0:
		return []byte{first}, nil
	case h.Offset <= 0x7F:
		return []byte{first | headerSubIndex, byte(h.Offset)}, nil
	default:
		return []byte{
			first | headerSubIndex,
			headerExtended | byte(h.Offset&0x7F),
			byte(h.Offset >> 7),
		}, nil
	}
}

// DecodeHeader parses a header from the start of b and returns it with its
// encoded length.
func DecodeHeader(b []byte) (Header, int, error) {
	if len(b) == 0 {
		return Header{}, 0, fmt.Errorf("empty: %w", ErrBadHeader)
	}
	h := Header{
		Register: b[0] & headerRegMask,
		Write:    b[0]&headerWrite != 0,
	}
	if b[0]&headerSubIndex == 0 {
		return h, 1, nil
	}
	if len(b) < 2 {
		return Header{}, 0, fmt.Errorf("missing sub-address: %w", ErrBadHeader)
	}
	if b[1]&headerExtended == 0 {
		h.Offset = uint16(b[1])
		return h, 2, nil
	}
	if len(b) < 3 {
		return Header{}, 0, fmt.Errorf("missing extended sub-address: %w", ErrBadHeader)
	}
	h.Offset = uint16(b[1]&0x7F) | uint16(b[2])<<7
	return h, 3, nil
}
