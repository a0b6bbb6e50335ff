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
	"fmt"
	"math/rand/v2"
	"time"
)

// RetryConfig controls how bus transactions are retried after transient
// failures. Ranging outcomes are never retried; a round that misses a
// response is simply abandoned.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts; 0 or 1 disables retries.
	MaxAttempts int
	// InitialBackoff is the pause after the first failure.
	InitialBackoff time.Duration
	// MaxBackoff caps the pause between attempts.
	MaxBackoff time.Duration
	// BackoffMultiplier scales the pause after every failure.
	BackoffMultiplier float64
	// Jitter adds up to this fraction of the pause at random.
	Jitter float64
	// RetryTimeout bounds all attempts together.
	RetryTimeout time.Duration
}

// DefaultRetryConfig returns the configuration used for register transactions.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       DefaultBusRetries,
		InitialBackoff:    BusInitialBackoff,
		MaxBackoff:        BusMaxBackoff,
		BackoffMultiplier: BusBackoffMultiplier,
		Jitter:            BusJitter,
		RetryTimeout:      BusRetryTimeout,
	}
}

// OpenRetryConfig returns the configuration used when opening a device.
func OpenRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       DefaultOpenRetries,
		InitialBackoff:    OpenInitialBackoff,
		MaxBackoff:        OpenMaxBackoff,
		BackoffMultiplier: BusBackoffMultiplier,
		Jitter:            BusJitter,
		RetryTimeout:      OpenRetryTimeout,
	}
}

// RetryableFunc is one attempt of a retried operation.
type RetryableFunc func(ctx context.Context) error

// RetryWithConfig runs fn until it succeeds, returns an error IsRetryable
// rejects, or the attempts or RetryTimeout run out. The last error is returned.
func RetryWithConfig(ctx context.Context, config *RetryConfig, fn RetryableFunc) error {
	_, err := RetryValue(ctx, config, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// RetryValue is RetryWithConfig for operations that produce a value.
func RetryValue[T any](ctx context.Context, config *RetryConfig, fn func(context.Context) (T, error)) (T, error) {
	if config == nil {
		config = DefaultRetryConfig()
	}
	if config.MaxAttempts <= 1 {
		return fn(ctx)
	}

	if config.RetryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.RetryTimeout)
		defer cancel()
	}

	var (
		zero    T
		lastErr error
	)
	backoff := config.InitialBackoff
	for attempt := range config.MaxAttempts {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, lastErr
			}
			return zero, fmt.Errorf("retry cancelled: %w", err)
		}

		v, err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				Debugf("succeeded on attempt %d", attempt+1)
			}
			return v, nil
		}
		if !IsRetryable(err) {
			return zero, err
		}
		lastErr = err

		if attempt == config.MaxAttempts-1 {
			break
		}
		Debugf("attempt %d failed, retrying: %v", attempt+1, err)
		if !sleepContext(ctx, jittered(backoff, config.Jitter)) {
			return zero, lastErr
		}
		backoff = nextBackoff(backoff, config)
	}
	return zero, lastErr
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func nextBackoff(backoff time.Duration, config *RetryConfig) time.Duration {
	next := time.Duration(float64(backoff) * config.BackoffMultiplier)
	if config.MaxBackoff > 0 && next > config.MaxBackoff {
		return config.MaxBackoff
	}
	return next
}

func jittered(base time.Duration, factor float64) time.Duration {
	if factor <= 0 {
		return base
	}
	return base + time.Duration(rand.Float64()*factor*float64(base))
}
