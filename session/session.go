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

// Package session runs ranging rounds back to back on one initiator, with
// an inter-round delay, pause and resume, and recovery from lost radios.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ZaparooProject/go-dstwr"
	"github.com/ZaparooProject/go-dstwr/internal/syncutil"
)

// ErrTooManyErrors is returned by Run when MaxConsecutiveErrors rounds in a
// row failed with bus errors.
var ErrTooManyErrors = errors.New("too many consecutive bus errors")

// Config controls the ranging loop.
type Config struct {
	// InterRoundDelay is the pause after every round. Negative values are
	// treated as zero.
	InterRoundDelay time.Duration
	// MaxConsecutiveErrors stops the session after this many non-fatal bus
	// errors in a row. Zero never stops on non-fatal errors.
	MaxConsecutiveErrors int
	// MaxRounds stops the session after this many attempted rounds,
	// counting rounds that ended in a bus error. Zero runs until the
	// context is cancelled.
	MaxRounds uint64
}

// Stats counts what the session has done so far.
type Stats struct {
	// Rounds counts attempted rounds, including those lost to a bus error.
	Rounds     uint64 `json:"rounds"`
	Completed  uint64 `json:"completed"`
	Abandoned  uint64 `json:"abandoned"`
	BusErrors  uint64 `json:"bus_errors"`
	Recoveries uint64 `json:"recoveries"`
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger for round outcomes. The default discards.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithConfig replaces the loop configuration.
func WithConfig(cfg Config) Option {
	return func(s *Session) {
		s.config = cfg
	}
}

// WithRecoverer installs a recoverer used when the radio is lost.
func WithRecoverer(r Recoverer) Option {
	return func(s *Session) {
		s.recoverer = r
	}
}

// Session drives an Initiator. Callbacks run on the session goroutine
// between rounds; a slow callback delays the next round.
type Session struct {
	initiator        *dstwr.Initiator
	logger           *slog.Logger
	recoverer        Recoverer
	onRoundComplete  func(*dstwr.RoundResult)
	onRoundAbandoned func(*dstwr.RoundResult)
	onError          func(error)
	pauseChan        chan struct{}
	resumeChan       chan struct{}
	parkedChan       chan struct{} // closed while the loop is parked
	config           Config
	rounds           atomic.Uint64
	completed        atomic.Uint64
	abandoned        atomic.Uint64
	busErrors        atomic.Uint64
	recoveries       atomic.Uint64
	mu               syncutil.RWMutex
	pauseMu          syncutil.Mutex
	paused           bool
	parked           bool
	running          atomic.Bool
}

// New returns a session for initiator. The inter-round delay defaults to
// the initiator's configured value.
func New(initiator *dstwr.Initiator, opts ...Option) *Session {
	s := &Session{
		initiator:  initiator,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		config:     Config{InterRoundDelay: initiator.Config().InterRoundDelay},
		pauseChan:  make(chan struct{}, 1),
		resumeChan: make(chan struct{}),
		parkedChan: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetOnRoundComplete sets the callback for completed rounds.
func (s *Session) SetOnRoundComplete(fn func(*dstwr.RoundResult)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRoundComplete = fn
}

// SetOnRoundAbandoned sets the callback for abandoned rounds.
func (s *Session) SetOnRoundAbandoned(fn func(*dstwr.RoundResult)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRoundAbandoned = fn
}

// SetOnError sets the callback for bus errors, fatal or not.
func (s *Session) SetOnError(fn func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onError = fn
}

// Initiator returns the current initiator. It changes after a recovery.
func (s *Session) Initiator() *dstwr.Initiator {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initiator
}

// Stats returns a snapshot of the counters.
func (s *Session) Stats() Stats {
	return Stats{
		Rounds:     s.rounds.Load(),
		Completed:  s.completed.Load(),
		Abandoned:  s.abandoned.Load(),
		BusErrors:  s.busErrors.Load(),
		Recoveries: s.recoveries.Load(),
	}
}

// Paused reports whether the session is paused.
func (s *Session) Paused() bool {
	s.pauseMu.Lock()
	defer s.pauseMu.Unlock()
	return s.paused
}

// Pause stops the loop before its next round. A round in progress finishes.
func (s *Session) Pause() {
	s.requestPause()
}

// PauseAndWait pauses and waits until the loop has stopped between rounds,
// so the caller may use the radio. It returns once paused even if no loop
// is running.
func (s *Session) PauseAndWait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	parked := s.requestPause()
	if !s.running.Load() {
		return nil
	}
	select {
	case <-parked:
		return nil
	case <-ctx.Done():
		s.Resume()
		return ctx.Err()
	}
}

// requestPause marks the session paused, wakes a loop waiting between
// rounds and returns the channel closed once the loop is parked.
func (s *Session) requestPause() <-chan struct{} {
	s.pauseMu.Lock()
	s.paused = true
	parked := s.parkedChan
	s.pauseMu.Unlock()
	select {
	case s.pauseChan <- struct{}{}:
	default:
	}
	return parked
}

// Resume restarts a paused loop.
func (s *Session) Resume() {
	s.pauseMu.Lock()
	defer s.pauseMu.Unlock()
	if !s.paused {
		return
	}
	s.paused = false
	select {
	case <-s.pauseChan:
	default:
	}
	if s.parked {
		s.parked = false
		s.parkedChan = make(chan struct{})
		close(s.resumeChan)
		s.resumeChan = make(chan struct{})
	}
}

// Run ranges until ctx is cancelled, MaxRounds is reached, or the radio is
// lost for good. Cancellation returns the context's error.
func (s *Session) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("session already running")
	}
	s.pauseMu.Lock()
	if s.parked {
		s.parked = false
		s.parkedChan = make(chan struct{})
	}
	s.pauseMu.Unlock()
	defer func() {
		s.pauseMu.Lock()
		s.park()
		s.pauseMu.Unlock()
		s.running.Store(false)
	}()

	consecutive := 0
	for {
		if err := s.handleContextAndPause(ctx); err != nil {
			return err
		}

		in := s.Initiator()
		result, err := in.RunRound(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.rounds.Add(1)
			consecutive++
			if stop := s.handleError(ctx, err, consecutive); stop != nil {
				return stop
			}
			if dstwr.IsFatal(err) {
				consecutive = 0
			}
		} else {
			s.rounds.Add(1)
			consecutive = 0
			s.dispatch(result)
		}

		if n := s.config.MaxRounds; n > 0 && s.rounds.Load() >= n {
			return nil
		}
		if err := s.waitForNextRoundOrPause(ctx); err != nil {
			return err
		}
	}
}

func (s *Session) dispatch(result *dstwr.RoundResult) {
	s.mu.RLock()
	onComplete, onAbandoned := s.onRoundComplete, s.onRoundAbandoned
	s.mu.RUnlock()

	if result.State == dstwr.StateComplete {
		s.completed.Add(1)
		s.logger.Debug("round complete",
			"seq", result.Sequence,
			"responses", result.Responses,
			"duration", result.Duration,
			"final_tx", uint64(result.FinalTx))
		s.safeCall("OnRoundComplete", onComplete, result)
		return
	}

	s.abandoned.Add(1)
	s.logger.Warn("round abandoned",
		"seq", result.Sequence,
		"reason", result.Err,
		"responses", result.Responses,
		"rejected", result.Rejected,
		"rx_timeouts", result.RxTimeouts,
		"rx_errors", result.RxErrors)
	s.safeCall("OnRoundAbandoned", onAbandoned, result)
}

// handleError returns a non-nil error when the session must stop.
func (s *Session) handleError(ctx context.Context, err error, consecutive int) error {
	s.busErrors.Add(1)
	s.mu.RLock()
	onError := s.onError
	s.mu.RUnlock()
	if onError != nil {
		s.safeCall("OnError", func(*dstwr.RoundResult) { onError(err) }, nil)
	}

	if !dstwr.IsFatal(err) {
		s.logger.Warn("bus error", "error", err, "consecutive", consecutive)
		if limit := s.config.MaxConsecutiveErrors; limit > 0 && consecutive >= limit {
			return fmt.Errorf("%w: %w", ErrTooManyErrors, err)
		}
		return nil
	}

	s.logger.Error("radio lost", "error", err)
	if s.recoverer == nil {
		return fmt.Errorf("ranging stopped: %w", err)
	}

	prev := s.Initiator()
	next, recErr := s.recoverer.Recover(ctx, prev.Sequence())
	if recErr != nil {
		s.logger.Error("recovery failed", "error", recErr)
		return fmt.Errorf("ranging stopped: %w", errors.Join(err, recErr))
	}
	s.mu.Lock()
	s.initiator = next
	s.mu.Unlock()
	s.recoveries.Add(1)
	s.logger.Info("radio recovered", "seq", next.Sequence())
	return nil
}

func (s *Session) safeCall(name string, fn func(*dstwr.RoundResult), result *dstwr.RoundResult) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("callback panicked", "callback", name, "panic", r)
		}
	}()
	fn(result)
}

func (s *Session) waitForNextRoundOrPause(ctx context.Context) error {
	delay := max(s.config.InterRoundDelay, 0)
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-s.pauseChan:
		return s.handlePauseSignal(ctx)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) handleContextAndPause(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.pauseChan:
	default:
	}
	return s.handlePauseSignal(ctx)
}

// handlePauseSignal parks the loop while the session is paused.
func (s *Session) handlePauseSignal(ctx context.Context) error {
	s.pauseMu.Lock()
	if !s.paused {
		s.pauseMu.Unlock()
		return nil
	}
	s.park()
	resume := s.resumeChan
	s.pauseMu.Unlock()

	s.logger.Debug("session paused")
	select {
	case <-resume:
		s.logger.Debug("session resumed")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// park releases PauseAndWait callers. pauseMu must be held.
func (s *Session) park() {
	if !s.parked {
		s.parked = true
		close(s.parkedChan)
	}
}
