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

	"github.com/ZaparooProject/go-dstwr/internal/syncutil"
)

// MockOp names a MockRadio operation for error injection.
type MockOp string

const (
	MockOpWriteFrame      MockOp = "WriteFrame"
	MockOpSetFrameControl MockOp = "SetFrameControl"
	MockOpTransmit        MockOp = "StartTransmitImmediate"
	MockOpSetDelayedTime  MockOp = "SetDelayedTransmitTime"
	MockOpTransmitDelayed MockOp = "StartTransmitDelayed"
	MockOpEnableReceive   MockOp = "EnableReceiveImmediate"
	MockOpReadStatus      MockOp = "ReadStatusFlags"
	MockOpClearStatus     MockOp = "ClearStatusFlags"
	MockOpResetReceiver   MockOp = "ResetReceiver"
	MockOpFrameLength     MockOp = "ReceivedFrameLength"
	MockOpReadData        MockOp = "ReadReceivedData"
	MockOpReadTxTimestamp MockOp = "ReadTransmitTimestamp"
	MockOpReadRxTimestamp MockOp = "ReadReceiveTimestamp"
)

// MockEvent is one scripted receive outcome, delivered the next time the
// receiver is armed.
type MockEvent struct {
	Frame       []byte
	RxTimestamp DeviceTimestamp
	Status      StatusFlags
}

// ResponseEvent scripts a good reception of frame at ts.
func ResponseEvent(frame []byte, ts DeviceTimestamp) MockEvent {
	return MockEvent{Frame: frame, RxTimestamp: ts, Status: StatusRxGood}
}

// TimeoutEvent scripts a receive timeout.
func TimeoutEvent() MockEvent {
	return MockEvent{Status: StatusRxTimeout}
}

// ErrorEvent scripts a receive error.
func ErrorEvent() MockEvent {
	return MockEvent{Status: StatusRxError}
}

// MockTransmission records one frame the radio sent.
type MockTransmission struct {
	Frame     []byte
	Scheduled uint32
	Delayed   bool
}

// MockRadio is a scripted Radio for tests. Receive outcomes are queued with
// Queue and delivered one per receiver arming; once the script is empty
// WaitStatus blocks until its context ends, as a silent channel would.
type MockRadio struct {
	errors      map[MockOp]error
	calls       map[MockOp]int
	notify      chan struct{}
	txBuf       []byte
	rxFrame     []byte
	events      []MockEvent
	transmitted []MockTransmission
	txLength    int
	txTimestamp DeviceTimestamp
	rxTimestamp DeviceTimestamp
	mu          syncutil.Mutex
	status      StatusFlags
	scheduled   uint32
	lateDelayed bool
	rxArmed     bool
	closed      bool
}

// NewMockRadio returns a MockRadio whose poll transmissions are stamped pollTx.
func NewMockRadio(pollTx DeviceTimestamp) *MockRadio {
	return &MockRadio{
		errors:      make(map[MockOp]error),
		calls:       make(map[MockOp]int),
		notify:      make(chan struct{}),
		txBuf:       make([]byte, 128),
		txTimestamp: pollTx,
	}
}

// Queue appends receive outcomes to the script.
func (m *MockRadio) Queue(events ...MockEvent) {
	m.mu.Lock()
	m.events = append(m.events, events...)
	m.wakeLocked()
	m.mu.Unlock()
}

// SetError makes op fail with err. A nil err clears the injection.
func (m *MockRadio) SetError(op MockOp, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.errors, op)
		return
	}
	m.errors[op] = err
}

// SetLateDelayedTransmit makes StartTransmitDelayed report a missed deadline.
func (m *MockRadio) SetLateDelayedTransmit(late bool) {
	m.mu.Lock()
	m.lateDelayed = late
	m.mu.Unlock()
}

// Transmissions returns every frame sent so far.
func (m *MockRadio) Transmissions() []MockTransmission {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockTransmission(nil), m.transmitted...)
}

// CallCount returns how many times op was invoked.
func (m *MockRadio) CallCount(op MockOp) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// Pending returns the number of scripted events not yet delivered.
func (m *MockRadio) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

// ReceiverArmed reports whether the receiver is currently enabled.
func (m *MockRadio) ReceiverArmed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rxArmed
}

func (m *MockRadio) wakeLocked() {
	close(m.notify)
	m.notify = make(chan struct{})
}

func (m *MockRadio) enter(ctx context.Context, op MockOp) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.calls[op]++
	if m.closed {
		return ErrBusClosed
	}
	return m.errors[op]
}

// deliverLocked moves the next scripted event into the receiver.
func (m *MockRadio) deliverLocked() {
	if !m.rxArmed || m.status.Has(StatusRxAny) || len(m.events) == 0 {
		return
	}
	ev := m.events[0]
	m.events = m.events[1:]
	m.rxArmed = false
	m.status |= ev.Status
	if ev.Status.Has(StatusRxGood) {
		m.rxFrame = append(m.rxFrame[:0], ev.Frame...)
		m.rxTimestamp = ev.RxTimestamp
	}
}

func (m *MockRadio) WriteFrame(ctx context.Context, data []byte, offset int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, MockOpWriteFrame); err != nil {
		return err
	}
	if offset < 0 || offset+len(data) > len(m.txBuf) {
		return ErrInvalidParameter
	}
	copy(m.txBuf[offset:], data)
	return nil
}

func (m *MockRadio) SetFrameControl(ctx context.Context, length, _ int, _ bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, MockOpSetFrameControl); err != nil {
		return err
	}
	m.txLength = length
	return nil
}

func (m *MockRadio) StartTransmitImmediate(ctx context.Context, responseExpected bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, MockOpTransmit); err != nil {
		return err
	}
	m.transmitted = append(m.transmitted, MockTransmission{
		Frame: append([]byte(nil), m.txBuf[:m.txLength]...),
	})
	m.status |= StatusTxComplete
	m.rxArmed = responseExpected
	m.wakeLocked()
	return nil
}

func (m *MockRadio) SetDelayedTransmitTime(ctx context.Context, scheduled uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, MockOpSetDelayedTime); err != nil {
		return err
	}
	m.scheduled = scheduled
	return nil
}

func (m *MockRadio) StartTransmitDelayed(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, MockOpTransmitDelayed); err != nil {
		return err
	}
	if m.lateDelayed {
		return ErrDelayedTransmitLate
	}
	m.transmitted = append(m.transmitted, MockTransmission{
		Frame:     append([]byte(nil), m.txBuf[:m.txLength]...),
		Scheduled: m.scheduled,
		Delayed:   true,
	})
	m.status |= StatusTxComplete
	m.wakeLocked()
	return nil
}

func (m *MockRadio) EnableReceiveImmediate(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, MockOpEnableReceive); err != nil {
		return err
	}
	m.rxArmed = true
	m.wakeLocked()
	return nil
}

func (m *MockRadio) ReadStatusFlags(ctx context.Context) (StatusFlags, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, MockOpReadStatus); err != nil {
		return 0, err
	}
	m.deliverLocked()
	return m.status, nil
}

// WaitStatus implements StatusWaiter.
func (m *MockRadio) WaitStatus(ctx context.Context, mask StatusFlags) (StatusFlags, error) {
	for {
		m.mu.Lock()
		if err := m.enter(ctx, MockOpReadStatus); err != nil {
			m.mu.Unlock()
			return 0, err
		}
		m.deliverLocked()
		status := m.status
		notify := m.notify
		m.mu.Unlock()

		if status.Has(mask) {
			return status, nil
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-notify:
		}
	}
}

func (m *MockRadio) ClearStatusFlags(ctx context.Context, flags StatusFlags) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, MockOpClearStatus); err != nil {
		return err
	}
	m.status &^= flags
	return nil
}

func (m *MockRadio) ResetReceiver(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, MockOpResetReceiver); err != nil {
		return err
	}
	m.rxArmed = false
	return nil
}

func (m *MockRadio) ReceivedFrameLength(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, MockOpFrameLength); err != nil {
		return 0, err
	}
	return len(m.rxFrame), nil
}

func (m *MockRadio) ReadReceivedData(ctx context.Context, buf []byte, length, offset int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, MockOpReadData); err != nil {
		return err
	}
	if offset < 0 || length > len(buf) || offset+length > len(m.rxFrame) {
		return errors.New("mock radio: read past received frame")
	}
	copy(buf, m.rxFrame[offset:offset+length])
	return nil
}

func (m *MockRadio) ReadTransmitTimestamp(ctx context.Context) ([5]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, MockOpReadTxTimestamp); err != nil {
		return [5]byte{}, err
	}
	return m.txTimestamp.Bytes(), nil
}

func (m *MockRadio) ReadReceiveTimestamp(ctx context.Context) ([5]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, MockOpReadRxTimestamp); err != nil {
		return [5]byte{}, err
	}
	return m.rxTimestamp.Bytes(), nil
}

// Close marks the radio closed; every later call fails with ErrBusClosed.
func (m *MockRadio) Close() error {
	m.mu.Lock()
	m.closed = true
	m.wakeLocked()
	m.mu.Unlock()
	return nil
}
