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

// Register transactions fail transiently when a USB bridge drops a frame.
// Retries must finish well inside the turnaround delay to be useful, so the
// budget is a few milliseconds.
const (
	DefaultBusRetries    = 3
	BusInitialBackoff    = 200 * time.Microsecond
	BusMaxBackoff        = 2 * time.Millisecond
	BusBackoffMultiplier = 2.0
	BusJitter            = 0.1
	BusRetryTimeout      = 20 * time.Millisecond
)

// Opening a device retries for longer; bridges can take a while to enumerate.
const (
	DefaultOpenRetries = 5
	OpenInitialBackoff = 50 * time.Millisecond
	OpenMaxBackoff     = 500 * time.Millisecond
	OpenRetryTimeout   = 5 * time.Second
)

// UART bridge timing.
const (
	// UARTResponseTimeout bounds the wait for one bridge reply.
	UARTResponseTimeout = 50 * time.Millisecond
	// UARTDrainTimeout is how long stale bytes are drained after a resync.
	UARTDrainTimeout = 5 * time.Millisecond
)
