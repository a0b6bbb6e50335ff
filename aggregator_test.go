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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregator_AcceptsOnlyConfiguredIDs(t *testing.T) {
	t.Parallel()

	agg := NewAggregator(3, CountEveryResponse)

	for _, id := range []AnchorID{0, 4, -1, 255} {
		res := agg.Record(id, 42)
		assert.False(t, res.Accepted, "id %d", id)
		require.ErrorIs(t, res.Err, ErrAnchorIDOutOfRange)
	}
	assert.Equal(t, 0, agg.Count())
	assert.Equal(t, []AnchorID{1, 2, 3}, agg.Missing())

	for i, id := range []AnchorID{2, 1, 3} {
		res := agg.Record(id, DeviceTimestamp(100*(i+1)))
		require.True(t, res.Accepted)
		assert.Equal(t, i+1, res.Count)
	}
	assert.True(t, agg.Complete())
	assert.Empty(t, agg.Missing())
	assert.Equal(t, []DeviceTimestamp{200, 100, 300}, agg.Timestamps())

	id, ts := agg.Last()
	assert.Equal(t, AnchorID(3), id)
	assert.Equal(t, DeviceTimestamp(300), ts)
}

func TestAggregator_DuplicatePolicies(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		policy        DuplicatePolicy
		wantAccepted  bool
		wantCount     int
		wantComplete  bool
		wantSlotOne   DeviceTimestamp
		wantLastStamp DeviceTimestamp
	}{
		{
			name:          "count every response",
			policy:        CountEveryResponse,
			wantAccepted:  true,
			wantCount:     3,
			wantComplete:  true,
			wantSlotOne:   30,
			wantLastStamp: 30,
		},
		{
			name:          "first write only",
			policy:        FirstWriteOnly,
			wantAccepted:  false,
			wantCount:     2,
			wantComplete:  false,
			wantSlotOne:   10,
			wantLastStamp: 20,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			agg := NewAggregator(3, tt.policy)
			require.True(t, agg.Record(1, 10).Accepted)
			require.True(t, agg.Record(2, 20).Accepted)

			res := agg.Record(1, 30)
			assert.True(t, res.Duplicate)
			assert.Equal(t, tt.wantAccepted, res.Accepted)
			assert.Equal(t, tt.wantCount, agg.Count())
			assert.Equal(t, tt.wantComplete, agg.Complete())
			assert.Equal(t, 2, agg.Distinct())
			assert.Equal(t, tt.wantSlotOne, agg.Timestamps()[0])

			_, last := agg.Last()
			assert.Equal(t, tt.wantLastStamp, last)
			if !tt.wantAccepted {
				require.ErrorIs(t, res.Err, ErrDuplicateAnchor)
			}
		})
	}
}

func TestAggregator_Reset(t *testing.T) {
	t.Parallel()

	agg := NewAggregator(2, CountEveryResponse)
	agg.Record(1, 5)
	agg.Record(2, 6)
	require.True(t, agg.Complete())

	agg.Reset()
	assert.Equal(t, 0, agg.Count())
	assert.Equal(t, 0, agg.Distinct())
	assert.Equal(t, []DeviceTimestamp{0, 0}, agg.Timestamps())
	assert.Equal(t, 2, agg.Size())
}

func TestDuplicatePolicy_Text(t *testing.T) {
	t.Parallel()

	var p DuplicatePolicy
	require.NoError(t, p.UnmarshalText([]byte("first-write-only")))
	assert.Equal(t, FirstWriteOnly, p)

	text, err := p.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "first-write-only", string(text))

	require.NoError(t, p.UnmarshalText(nil))
	assert.Equal(t, CountEveryResponse, p)

	require.ErrorIs(t, p.UnmarshalText([]byte("latest")), ErrInvalidParameter)
}
