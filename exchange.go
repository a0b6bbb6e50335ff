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
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/ZaparooProject/go-dstwr/internal/frame"
	"github.com/ZaparooProject/go-dstwr/internal/syncutil"
)

// ExchangeState is the phase of a ranging exchange.
type ExchangeState int32

const (
	StateIdle ExchangeState = iota
	StateAwaitingResponses
	StateFinalizing
	StateComplete
	StateAbandoned
)

func (s ExchangeState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingResponses:
		return "awaiting-responses"
	case StateFinalizing:
		return "finalizing"
	case StateComplete:
		return "complete"
	case StateAbandoned:
		return "abandoned"
	default:
		return fmt.Sprintf("ExchangeState(%d)", int32(s))
	}
}

// Terminal reports whether the state ends a round.
func (s ExchangeState) Terminal() bool {
	return s == StateComplete || s == StateAbandoned
}

// RoundResult describes one finished round.
type RoundResult struct {
	// Err is why an abandoned round was abandoned.
	Err error
	// AnchorRx holds the receive timestamp of each anchor's response,
	// indexed by anchor id - 1.
	AnchorRx []DeviceTimestamp
	PollTx   DeviceTimestamp
	// FinalTx is the predicted transmit timestamp embedded in the Final.
	FinalTx    DeviceTimestamp
	Duration   time.Duration
	State      ExchangeState
	Scheduled  uint32
	Responses  int
	Distinct   int
	Rejected   int
	RxTimeouts int
	RxErrors   int
	// Sequence is the header sequence number carried by this round's frames.
	Sequence uint8
}

// Observer is notified of exchange events. Calls are made synchronously
// from RunRound and must not block.
type Observer interface {
	// ResponseRejected is called for every received frame that did not
	// count towards the round; err wraps ErrSchemaMismatch,
	// ErrAnchorIDOutOfRange or ErrDuplicateAnchor.
	ResponseRejected(err error)
	// ReceiveFailed is called after a receive timeout or error was cleared.
	ReceiveFailed(flags StatusFlags)
	// RoundFinished is called once per round, including rounds that
	// failed with a bus error.
	RoundFinished(result *RoundResult)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) ResponseRejected(error)     {}
func (NopObserver) ReceiveFailed(StatusFlags)  {}
func (NopObserver) RoundFinished(*RoundResult) {}

// InitiatorOption configures an Initiator.
type InitiatorOption func(*Initiator)

// WithObserver sets the observer notified of exchange events.
func WithObserver(o Observer) InitiatorOption {
	return func(in *Initiator) {
		if o != nil {
			in.observer = o
		}
	}
}

// WithInitialSequence sets the sequence number used by the first round.
func WithInitialSequence(seq uint8) InitiatorOption {
	return func(in *Initiator) {
		in.seq.Store(uint32(seq))
	}
}

// Initiator runs DS-TWR exchanges against a fixed set of anchors: one Poll,
// N Responses, then one Final sent at a precomputed device time.
type Initiator struct {
	radio    Radio
	observer Observer
	config   *Config
	agg      *Aggregator
	rxBuf    []byte
	addr     frame.Addressing
	mu       syncutil.Mutex
	state    atomic.Int32
	seq      atomic.Uint32
}

// NewInitiator validates config and returns an Initiator driving radio.
func NewInitiator(radio Radio, config *Config, opts ...InitiatorOption) (*Initiator, error) {
	if radio == nil {
		return nil, fmt.Errorf("%w: nil radio", ErrInvalidParameter)
	}
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	cfg := *config

	in := &Initiator{
		radio:    radio,
		observer: NopObserver{},
		config:   &cfg,
		agg:      NewAggregator(cfg.AnchorCount, cfg.DuplicatePolicy),
		rxBuf:    make([]byte, frame.RxBufferLen),
		addr:     cfg.addressing(),
	}
	for _, opt := range opts {
		opt(in)
	}
	return in, nil
}

// State returns the state of the current or most recent round.
func (in *Initiator) State() ExchangeState {
	return ExchangeState(in.state.Load())
}

// Sequence returns the sequence number the next round will use.
func (in *Initiator) Sequence() uint8 {
	return uint8(in.seq.Load())
}

// Config returns a copy of the initiator's configuration.
func (in *Initiator) Config() Config {
	return *in.config
}

func (in *Initiator) setState(s ExchangeState) {
	in.state.Store(int32(s))
}

// RunRound performs one exchange. Round outcomes, including abandonment,
// are reported in the result; the error is non-nil only when the radio
// could not be driven or ctx was cancelled by the caller.
func (in *Initiator) RunRound(ctx context.Context) (*RoundResult, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	start := time.Now()
	if in.config.RoundDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, in.config.RoundDeadline, ErrRoundDeadline)
		defer cancel()
	}

	result := &RoundResult{Sequence: in.Sequence()}
	err := in.runRound(ctx, result)

	result.Duration = time.Since(start)
	result.Responses = in.agg.Count()
	result.Distinct = in.agg.Distinct()

	if err != nil && errors.Is(context.Cause(ctx), ErrRoundDeadline) {
		Debugf("round %d abandoned after %v with %d/%d responses",
			result.Sequence, result.Duration, result.Responses, in.agg.Size())
		in.quiesce()
		in.abandon(result, ErrRoundDeadline)
		err = nil
	} else if err != nil {
		in.abandon(result, err)
	}

	in.observer.RoundFinished(result)
	return result, err
}

func (in *Initiator) abandon(result *RoundResult, reason error) {
	in.setState(StateAbandoned)
	result.State = StateAbandoned
	result.Err = reason
}

// quiesce leaves the radio idle after an interrupted round.
func (in *Initiator) quiesce() {
	ctx := context.Background()
	_ = in.radio.ClearStatusFlags(ctx, StatusRxAny|StatusTxComplete)
	_ = in.radio.ResetReceiver(ctx)
}

func (in *Initiator) runRound(ctx context.Context, result *RoundResult) error {
	in.agg.Reset()
	in.setState(StateAwaitingResponses)

	if err := in.sendPoll(ctx, result.Sequence); err != nil {
		return err
	}
	if err := in.collectResponses(ctx, result); err != nil {
		return err
	}

	in.setState(StateFinalizing)
	return in.finalize(ctx, result)
}

func (in *Initiator) sendPoll(ctx context.Context, seq uint8) error {
	poll := frame.BuildPoll(in.addr, seq)

	if err := in.radio.ClearStatusFlags(ctx, StatusTxComplete); err != nil {
		return fmt.Errorf("clear tx status: %w", err)
	}
	if err := in.radio.WriteFrame(ctx, poll, 0); err != nil {
		return fmt.Errorf("write poll: %w", err)
	}
	if err := in.radio.SetFrameControl(ctx, len(poll), 0, true); err != nil {
		return fmt.Errorf("poll frame control: %w", err)
	}
	if err := in.radio.StartTransmitImmediate(ctx, true); err != nil {
		return fmt.Errorf("transmit poll: %w", err)
	}
	Debugf("poll %d sent, awaiting %d responses", seq, in.agg.Size())
	return nil
}

func (in *Initiator) collectResponses(ctx context.Context, result *RoundResult) error {
	for !in.agg.Complete() {
		flags, err := in.waitStatus(ctx, StatusRxAny)
		if err != nil {
			return err
		}
		if flags.Has(StatusRxGood) {
			err = in.handleFrame(ctx, result)
		} else {
			err = in.recoverReceiver(ctx, flags, result)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (in *Initiator) handleFrame(ctx context.Context, result *RoundResult) error {
	if err := in.radio.ClearStatusFlags(ctx, StatusRxGood|StatusTxComplete); err != nil {
		return fmt.Errorf("clear rx status: %w", err)
	}

	n, err := in.radio.ReceivedFrameLength(ctx)
	if err != nil {
		return fmt.Errorf("read frame length: %w", err)
	}
	if lenErr := frame.ValidateReceivedLength(n); lenErr != nil {
		in.reject(result, &RejectionError{Err: fmt.Errorf("%w: %w", ErrSchemaMismatch, lenErr), Length: n})
		return in.rearm(ctx)
	}

	buf := in.rxBuf[:n]
	if err := in.radio.ReadReceivedData(ctx, buf, n, 0); err != nil {
		return fmt.Errorf("read frame: %w", err)
	}
	if schemaErr := frame.CheckResponse(in.addr, buf); schemaErr != nil {
		in.reject(result, &RejectionError{Err: fmt.Errorf("%w: %w", ErrSchemaMismatch, schemaErr), Length: n})
		return in.rearm(ctx)
	}

	raw, err := in.radio.ReadReceiveTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("read rx timestamp: %w", err)
	}
	id, err := frame.ExtractAnchorID(buf)
	if err != nil {
		in.reject(result, &RejectionError{Err: fmt.Errorf("%w: %w", ErrSchemaMismatch, err), Length: n})
		return in.rearm(ctx)
	}

	res := in.agg.Record(AnchorID(id), AssembleTimestamp(raw))
	if res.Accepted {
		Debugf("received anchor %d (%d/%d)", id, res.Count, in.agg.Size())
	} else {
		Debugf("response rejected: %v", res.Err)
		in.reject(result, &RejectionError{Err: res.Err, AnchorID: int(id), Length: n})
	}

	// Arming the receiver once all responses are in would hold off the
	// delayed Final transmission.
	if res.Complete {
		return nil
	}
	return in.rearm(ctx)
}

func (in *Initiator) reject(result *RoundResult, err error) {
	result.Rejected++
	in.observer.ResponseRejected(err)
}

func (in *Initiator) recoverReceiver(ctx context.Context, flags StatusFlags, result *RoundResult) error {
	if err := in.radio.ClearStatusFlags(ctx, StatusRxTimeout|StatusRxError); err != nil {
		return fmt.Errorf("clear rx error status: %w", err)
	}
	if err := in.radio.ResetReceiver(ctx); err != nil {
		return fmt.Errorf("reset receiver: %w", err)
	}
	if flags.Has(StatusRxTimeout) {
		result.RxTimeouts++
	} else {
		result.RxErrors++
	}
	in.observer.ReceiveFailed(flags)
	return in.rearm(ctx)
}

func (in *Initiator) rearm(ctx context.Context) error {
	if err := in.radio.EnableReceiveImmediate(ctx); err != nil {
		return fmt.Errorf("enable receiver: %w", err)
	}
	return nil
}

func (in *Initiator) finalize(ctx context.Context, result *RoundResult) error {
	raw, err := in.radio.ReadTransmitTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("read poll tx timestamp: %w", err)
	}
	pollTx := AssembleTimestamp(raw)

	_, lastRx := in.agg.Last()
	plan := PlanFinal(lastRx, in.config.TurnaroundDelayUUS, in.config.AntennaDelay)
	if err := in.radio.SetDelayedTransmitTime(ctx, plan.Scheduled); err != nil {
		return fmt.Errorf("set delayed tx time: %w", err)
	}

	anchors := in.agg.Timestamps()
	rx := make([]uint64, len(anchors))
	for i, ts := range anchors {
		rx[i] = uint64(ts)
	}
	final := frame.BuildFinal(in.addr, result.Sequence, uint64(pollTx), rx, uint64(plan.PredictedTx))

	result.PollTx = pollTx
	result.AnchorRx = anchors
	result.Scheduled = plan.Scheduled
	result.FinalTx = plan.PredictedTx

	// The counter advances for every attempted Final, sent or not.
	in.seq.Store(uint32(result.Sequence + 1))

	if err := in.radio.WriteFrame(ctx, final, 0); err != nil {
		return fmt.Errorf("write final: %w", err)
	}
	if err := in.radio.SetFrameControl(ctx, len(final), 0, true); err != nil {
		return fmt.Errorf("final frame control: %w", err)
	}

	err = in.radio.StartTransmitDelayed(ctx)
	if errors.Is(err, ErrDelayedTransmitLate) {
		Debugf("final %d abandoned: scheduled 0x%08X already passed", result.Sequence, plan.Scheduled)
		in.abandon(result, err)
		return nil
	}
	if err != nil {
		return fmt.Errorf("transmit final: %w", err)
	}

	if _, err := in.waitStatus(ctx, StatusTxComplete); err != nil {
		return err
	}
	if err := in.radio.ClearStatusFlags(ctx, StatusTxComplete); err != nil {
		return fmt.Errorf("clear tx status: %w", err)
	}

	in.setState(StateComplete)
	result.State = StateComplete
	Debugf("final %d sent at 0x%010X", result.Sequence, uint64(plan.PredictedTx))
	return nil
}

// waitStatus blocks until any bit in mask is set. Radios that cannot block
// are polled, pausing StatusPollInterval between reads.
func (in *Initiator) waitStatus(ctx context.Context, mask StatusFlags) (StatusFlags, error) {
	if w, ok := in.radio.(StatusWaiter); ok {
		flags, err := w.WaitStatus(ctx, mask)
		if err != nil {
			return 0, fmt.Errorf("wait for %v: %w", mask, err)
		}
		return flags, nil
	}

	var timer *time.Timer
	if in.config.StatusPollInterval > 0 {
		timer = time.NewTimer(in.config.StatusPollInterval)
		defer timer.Stop()
	}
	for {
		if err := ctx.Err(); err != nil {
			return 0, fmt.Errorf("wait for %v: %w", mask, err)
		}
		flags, err := in.radio.ReadStatusFlags(ctx)
		if err != nil {
			return 0, fmt.Errorf("read status: %w", err)
		}
		if flags.Has(mask) {
			return flags, nil
		}
		if timer == nil {
			runtime.Gosched()
			continue
		}
		timer.Reset(in.config.StatusPollInterval)
		select {
		case <-ctx.Done():
			return 0, fmt.Errorf("wait for %v: %w", mask, ctx.Err())
		case <-timer.C:
		}
	}
}
