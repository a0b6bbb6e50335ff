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

import (
	"fmt"

	"github.com/bits-and-blooms/bitset"
)

// AnchorID identifies an anchor. Valid ids are 1..N for N configured anchors.
type AnchorID int

// DuplicatePolicy decides what a second response from the same anchor
// within one round does.
type DuplicatePolicy int

const (
	// CountEveryResponse overwrites the anchor's slot and counts the response
	// again, so a round can complete with fewer than N distinct anchors.
	CountEveryResponse DuplicatePolicy = iota
	// FirstWriteOnly rejects repeated responses; a round completes only once
	// every anchor has answered.
	FirstWriteOnly
)

// MarshalText implements encoding.TextMarshaler.
func (p DuplicatePolicy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *DuplicatePolicy) UnmarshalText(text []byte) error {
	switch string(text) {
	case "count-every", "":
		*p = CountEveryResponse
	case "first-write-only":
		*p = FirstWriteOnly
	default:
		return fmt.Errorf("%w: duplicate policy %q", ErrInvalidParameter, text)
	}
	return nil
}

func (p DuplicatePolicy) String() string {
	switch p {
	case CountEveryResponse:
		return "count-every"
	case FirstWriteOnly:
		return "first-write-only"
	default:
		return fmt.Sprintf("DuplicatePolicy(%d)", int(p))
	}
}

// AggregateResult is the outcome of recording one response.
type AggregateResult struct {
	// Err is ErrAnchorIDOutOfRange or ErrDuplicateAnchor when the response
	// was rejected.
	Err       error
	Count     int
	Accepted  bool
	Complete  bool
	Duplicate bool
}

// Aggregator collects anchor receive timestamps for one exchange.
type Aggregator struct {
	seen   *bitset.BitSet
	table  []DeviceTimestamp
	lastTS DeviceTimestamp
	lastID AnchorID
	count  int
	policy DuplicatePolicy
}

// NewAggregator returns an aggregator for n anchors.
func NewAggregator(n int, policy DuplicatePolicy) *Aggregator {
	return &Aggregator{
		table:  make([]DeviceTimestamp, n),
		seen:   bitset.New(uint(n)),
		policy: policy,
	}
}

// Reset clears every slot and the response count.
func (a *Aggregator) Reset() {
	clear(a.table)
	a.seen.ClearAll()
	a.count = 0
	a.lastID = 0
	a.lastTS = 0
}

// Record stores ts for anchor id. An id outside [1, N], or a duplicate under
// FirstWriteOnly, is rejected without changing any state.
func (a *Aggregator) Record(id AnchorID, ts DeviceTimestamp) AggregateResult {
	if id < 1 || int(id) > len(a.table) {
		return AggregateResult{
			Err:   fmt.Errorf("anchor %d not in [1, %d]: %w", id, len(a.table), ErrAnchorIDOutOfRange),
			Count: a.count,
		}
	}

	slot := uint(id - 1)
	duplicate := a.seen.Test(slot)
	if duplicate && a.policy == FirstWriteOnly {
		return AggregateResult{
			Err:       fmt.Errorf("anchor %d: %w", id, ErrDuplicateAnchor),
			Count:     a.count,
			Duplicate: true,
		}
	}

	a.table[slot] = ts
	a.seen.Set(slot)
	a.count++
	a.lastID = id
	a.lastTS = ts
	return AggregateResult{
		Count:     a.count,
		Accepted:  true,
		Complete:  a.Complete(),
		Duplicate: duplicate,
	}
}

// Count returns the number of accepted responses this exchange.
func (a *Aggregator) Count() int {
	return a.count
}

// Distinct returns the number of different anchors that have answered.
func (a *Aggregator) Distinct() int {
	return int(a.seen.Count())
}

// Complete reports whether N responses have been accepted.
func (a *Aggregator) Complete() bool {
	return a.count >= len(a.table)
}

// Size returns N.
func (a *Aggregator) Size() int {
	return len(a.table)
}

// Last returns the anchor and timestamp of the most recently accepted response.
func (a *Aggregator) Last() (AnchorID, DeviceTimestamp) {
	return a.lastID, a.lastTS
}

// Missing returns the anchors that have not answered, in ascending order.
func (a *Aggregator) Missing() []AnchorID {
	var ids []AnchorID
	for i := range len(a.table) {
		if !a.seen.Test(uint(i)) {
			ids = append(ids, AnchorID(i+1))
		}
	}
	return ids
}

// Timestamps returns a copy of the table, indexed by anchor id - 1.
func (a *Aggregator) Timestamps() []DeviceTimestamp {
	return append([]DeviceTimestamp(nil), a.table...)
}
