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
	"errors"
	"fmt"
)

// ErrTooLong indicates a received frame that does not fit the receive buffer.
var ErrTooLong = errors.New("frame too long")

// ValidateReceivedLength checks a frame length reported by the radio before
// any bytes are read out. Lengths include the checksum.
func ValidateReceivedLength(n int) error {
	if n > RxBufferLen {
		return fmt.Errorf("received %d bytes, buffer holds %d: %w", n, RxBufferLen, ErrTooLong)
	}
	if n < MinResponseLen {
		return fmt.Errorf("received %d bytes: %w", n, ErrTooShort)
	}
	return nil
}

// ValidateAnchorCount checks that n anchor timestamps fit in one Final frame.
func ValidateAnchorCount(n int) error {
	if n < 1 || n > MaxAnchors {
		return fmt.Errorf("anchor count %d outside [1, %d]", n, MaxAnchors)
	}
	return nil
}
