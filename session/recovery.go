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

package session

import (
	"context"
	"errors"
	"time"

	"github.com/ZaparooProject/go-dstwr"
	"github.com/ZaparooProject/go-dstwr/internal/syncutil"
)

// Recoverer rebuilds the initiator after its radio was lost. seq is the
// sequence number the next round should use.
type Recoverer interface {
	Recover(ctx context.Context, seq uint8) (*dstwr.Initiator, error)
}

// ReopenFunc reopens the transport and radio and returns a fresh initiator
// starting at seq.
type ReopenFunc func(ctx context.Context, seq uint8) (*dstwr.Initiator, error)

// DefaultRecoverer calls a ReopenFunc until it succeeds, waiting between
// attempts. USB bridges often take a moment to reenumerate.
type DefaultRecoverer struct {
	reopen      ReopenFunc
	backoff     time.Duration
	maxAttempts int
	mu          syncutil.Mutex
}

// NewDefaultRecoverer returns a recoverer. Non-positive arguments select 3
// attempts and a 500ms backoff.
func NewDefaultRecoverer(reopen ReopenFunc, backoff time.Duration, maxAttempts int) *DefaultRecoverer {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	return &DefaultRecoverer{reopen: reopen, backoff: backoff, maxAttempts: maxAttempts}
}

// Recover implements Recoverer.
func (r *DefaultRecoverer) Recover(ctx context.Context, seq uint8) (*dstwr.Initiator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.reopen == nil {
		return nil, errors.New("no reopen function")
	}

	var lastErr error
	for attempt := range r.maxAttempts {
		if attempt > 0 {
			timer := time.NewTimer(r.backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
		in, err := r.reopen(ctx, seq)
		if err == nil {
			return in, nil
		}
		dstwr.Debugf("session: reopen attempt %d failed: %v", attempt+1, err)
		lastErr = err
	}
	return nil, lastErr
}
