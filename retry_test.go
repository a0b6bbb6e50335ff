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
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetryConfig(attempts int) *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       attempts,
		InitialBackoff:    time.Microsecond,
		MaxBackoff:        10 * time.Microsecond,
		BackoffMultiplier: 2,
		RetryTimeout:      time.Second,
	}
}

func TestRetryWithConfig(t *testing.T) {
	t.Parallel()

	permanent := errors.New("permanent")

	tests := []struct {
		wantErr   error
		failWith  error
		name      string
		failures  int
		attempts  int
		wantCalls int
	}{
		{name: "first try", failures: 0, attempts: 3, wantCalls: 1},
		{name: "recovers", failWith: ErrBusRead, failures: 2, attempts: 3, wantCalls: 3},
		{name: "exhausted", failWith: ErrBusRead, failures: 5, attempts: 3, wantCalls: 3, wantErr: ErrBusRead},
		{name: "not retryable", failWith: permanent, failures: 5, attempts: 3, wantCalls: 1, wantErr: permanent},
		{name: "disabled", failWith: ErrBusTimeout, failures: 5, attempts: 0, wantCalls: 1, wantErr: ErrBusTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			calls := 0
			err := RetryWithConfig(context.Background(), fastRetryConfig(tt.attempts), func(context.Context) error {
				calls++
				if calls <= tt.failures {
					return tt.failWith
				}
				return nil
			})

			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestRetryValue(t *testing.T) {
	t.Parallel()

	calls := 0
	v, err := RetryValue(context.Background(), fastRetryConfig(3), func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, NewTimeoutError("read", "test")
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 2, calls)
}

func TestRetryWithConfig_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := RetryWithConfig(ctx, fastRetryConfig(3), func(context.Context) error {
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestRetryWithConfig_StopsAtTimeout(t *testing.T) {
	t.Parallel()

	cfg := &RetryConfig{
		MaxAttempts:       100,
		InitialBackoff:    5 * time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 1,
		RetryTimeout:      20 * time.Millisecond,
	}
	calls := 0
	err := RetryWithConfig(context.Background(), cfg, func(context.Context) error {
		calls++
		return ErrBusWrite
	})
	require.ErrorIs(t, err, ErrBusWrite)
	assert.Less(t, calls, 100)
}

func TestNextBackoff(t *testing.T) {
	t.Parallel()

	cfg := DefaultRetryConfig()
	assert.Equal(t, 2*BusInitialBackoff, nextBackoff(BusInitialBackoff, cfg))
	assert.Equal(t, BusMaxBackoff, nextBackoff(BusMaxBackoff, cfg))
	assert.Equal(t, time.Second, jittered(time.Second, 0))

	j := jittered(time.Second, 0.5)
	assert.GreaterOrEqual(t, j, time.Second)
	assert.LessOrEqual(t, j, 1500*time.Millisecond)
}
