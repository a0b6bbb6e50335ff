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

package testing

import (
	"io"
	"math/rand/v2"
	"time"
)

// usbPacketSize is the full-speed bulk packet size FTDI and CP210x bridges
// deliver data in.
const usbPacketSize = 64

// JitterConfig configures a JitteryConnection.
type JitterConfig struct {
	MaxLatency       time.Duration
	FragmentMinBytes int
	StallAfterBytes  int
	StallDuration    time.Duration
	Seed             uint64
	FragmentReads    bool
	USBBoundaries    bool
}

// DefaultJitterConfig fragments every read and adds up to a millisecond of
// latency.
func DefaultJitterConfig() JitterConfig {
	return JitterConfig{
		MaxLatency:       time.Millisecond,
		FragmentReads:    true,
		FragmentMinBytes: 1,
	}
}

// JitteryConnection wraps the device side of a serial link and delivers its
// output the way a USB/UART bridge does: late, in pieces, and split at
// packet boundaries. Bytes are buffered, never lost.
type JitteryConnection struct {
	backend        io.ReadWriter
	rng            *rand.Rand
	buf            []byte
	config         JitterConfig
	delivered      int
	stallTriggered bool
}

// NewJitteryConnection wraps backend. A zero Seed picks a random one.
func NewJitteryConnection(backend io.ReadWriter, config JitterConfig) *JitteryConnection {
	seed := config.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	if config.FragmentMinBytes < 1 {
		config.FragmentMinBytes = 1
	}
	return &JitteryConnection{
		backend: backend,
		config:  config,
		rng:     rand.New(rand.NewPCG(seed, seed^0x5DEECE66D)), //nolint:gosec // test jitter
		buf:     make([]byte, 0, 1024),
	}
}

// Write passes through unchanged.
func (j *JitteryConnection) Write(data []byte) (int, error) {
	return j.backend.Write(data) //nolint:wrapcheck // pass-through
}

// Read returns some prefix of the buffered backend output.
func (j *JitteryConnection) Read(p []byte) (int, error) {
	if j.config.MaxLatency > 0 {
		if d := time.Duration(j.rng.Int64N(int64(j.config.MaxLatency) + 1)); d > 0 {
			time.Sleep(d)
		}
	}

	if len(j.buf) == 0 {
		var tmp [1024]byte
		n, err := j.backend.Read(tmp[:])
		if err != nil || n == 0 {
			return 0, err //nolint:wrapcheck // pass-through
		}
		j.buf = append(j.buf, tmp[:n]...)
	}

	n := min(len(j.buf), len(p))

	if j.config.StallAfterBytes > 0 && !j.stallTriggered {
		if j.delivered >= j.config.StallAfterBytes {
			j.stallTriggered = true
			time.Sleep(j.config.StallDuration)
		} else {
			n = min(n, j.config.StallAfterBytes-j.delivered)
		}
	}

	if j.config.USBBoundaries {
		n = min(n, usbPacketSize-j.delivered%usbPacketSize)
	}

	if j.config.FragmentReads && n > j.config.FragmentMinBytes {
		n = j.config.FragmentMinBytes + j.rng.IntN(n-j.config.FragmentMinBytes+1)
	}

	copy(p, j.buf[:n])
	j.buf = j.buf[n:]
	j.delivered += n
	return n, nil
}

// Reset drops buffered output and rearms the stall.
func (j *JitteryConnection) Reset() {
	j.buf = j.buf[:0]
	j.delivered = 0
	j.stallTriggered = false
}
