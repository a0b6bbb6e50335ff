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

// Package uart carries DW1000 register transactions through a USB/UART
// bridge that forwards them to the chip's SPI port.
package uart

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ZaparooProject/go-dstwr"
	"github.com/ZaparooProject/go-dstwr/dw1000"
	"github.com/ZaparooProject/go-dstwr/internal/syncutil"
	"go.bug.st/serial"
)

const (
	// DefaultBaudRate matches the bridge firmware.
	DefaultBaudRate = 115200

	traceEntries = 16
	maxNacks     = 3
	// maxSkipped bounds the noise scanned while looking for a preamble.
	maxSkipped = 2 * maxFrameData
)

// Port is the part of serial.Port the transport uses.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

var _ Port = serial.Port(nil)

// Option configures a Transport.
type Option func(*Transport)

// WithBaudRate sets the line speed used by New.
func WithBaudRate(baud int) Option {
	return func(t *Transport) {
		t.baudRate = baud
	}
}

// WithResponseTimeout bounds the wait for each bridge reply.
func WithResponseTimeout(d time.Duration) Option {
	return func(t *Transport) {
		t.responseTimeout = d
	}
}

// WithRetryConfig sets how failed register reads are retried.
func WithRetryConfig(cfg *dstwr.RetryConfig) Option {
	return func(t *Transport) {
		t.retry = cfg
	}
}

// Transport implements dw1000.Bus over a serial bridge.
//
// Every request is acknowledged by the bridge before it touches the chip.
// A corrupted reply is answered with a NACK and the bridge resends it, so
// writes are never repeated. Reads are idempotent and are additionally
// retried as whole transactions.
type Transport struct {
	port            Port
	currentTrace    *dstwr.TraceBuffer
	retry           *dstwr.RetryConfig
	portName        string
	pending         []byte
	scratch         [64]byte
	baudRate        int
	responseTimeout time.Duration
	mu              syncutil.Mutex
	dirty           bool
	closed          bool
}

var _ dw1000.Bus = (*Transport)(nil)

// DefaultRetryConfig returns the read retry policy. Attempts are bounded by
// count rather than time so a retry never outlives its own reply timeout.
func DefaultRetryConfig() *dstwr.RetryConfig {
	cfg := dstwr.DefaultRetryConfig()
	cfg.RetryTimeout = 0
	return cfg
}

// New opens the bridge on portName. Busy ports are retried for a while,
// since bridges often reappear under the same name after a reset.
func New(portName string, opts ...Option) (*Transport, error) {
	t := newTransport(portName, opts)

	port, err := dstwr.RetryValue(context.Background(), dstwr.OpenRetryConfig(),
		func(context.Context) (serial.Port, error) {
			p, err := serial.Open(portName, &serial.Mode{
				BaudRate: t.baudRate,
				DataBits: 8,
				Parity:   serial.NoParity,
				StopBits: serial.OneStopBit,
			})
			if err != nil {
				return nil, openError(portName, err)
			}
			return p, nil
		})
	if err != nil {
		return nil, err
	}

	if err := t.attach(port); err != nil {
		_ = port.Close()
		return nil, err
	}
	dstwr.Debugf("uart: opened %s at %d baud", portName, t.baudRate)
	return t, nil
}

// NewWithPort wraps an already open port.
func NewWithPort(port Port, name string, opts ...Option) (*Transport, error) {
	t := newTransport(name, opts)
	if err := t.attach(port); err != nil {
		return nil, err
	}
	return t, nil
}

func newTransport(name string, opts []Option) *Transport {
	t := &Transport{
		portName:        name,
		baudRate:        DefaultBaudRate,
		responseTimeout: dstwr.UARTResponseTimeout,
		retry:           DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Transport) attach(port Port) error {
	if err := port.SetReadTimeout(readPollInterval()); err != nil {
		return fmt.Errorf("failed to set UART read timeout: %w", err)
	}
	t.port = port
	return nil
}

func openError(portName string, err error) error {
	var pe *serial.PortError
	if errors.As(err, &pe) {
		switch pe.Code() {
		case serial.PortBusy:
			return dstwr.NewBusError("open", portName, err, dstwr.ErrorTypeTransient)
		case serial.PortNotFound:
			return dstwr.NewBusError("open", portName,
				fmt.Errorf("%w: %w", dstwr.ErrDeviceNotFound, err), dstwr.ErrorTypePermanent)
		}
	}
	return dstwr.NewBusError("open", portName, err, dstwr.ErrorTypePermanent)
}

// ReadRegister implements dw1000.Bus.
func (t *Transport) ReadRegister(ctx context.Context, reg byte, offset uint16, buf []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.check(ctx); err != nil {
		return err
	}
	for done := 0; done < len(buf); {
		n := min(len(buf)-done, maxChunk)
		hdr, err := encodeHeader(reg, offset+uint16(done), false)
		if err != nil {
			return err
		}
		req := readRequest(hdr, n)
		chunk := buf[done : done+n]
		err = dstwr.RetryWithConfig(ctx, t.retry, func(ctx context.Context) error {
			data, err := t.transact(ctx, "read", req)
			if err != nil {
				return err
			}
			if len(data) != n {
				dstwr.Debugf("uart: read 0x%02X returned %d bytes, want %d", reg, len(data), n)
				t.dirty = true
				return dstwr.NewFrameCorruptedError("read", t.portName)
			}
			copy(chunk, data)
			return nil
		})
		if err != nil {
			return err
		}
		done += n
	}
	return nil
}

// WriteRegister implements dw1000.Bus.
func (t *Transport) WriteRegister(ctx context.Context, reg byte, offset uint16, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.check(ctx); err != nil {
		return err
	}
	for done := 0; done < len(data); {
		n := min(len(data)-done, maxChunk)
		hdr, err := encodeHeader(reg, offset+uint16(done), true)
		if err != nil {
			return err
		}
		if _, err := t.transact(ctx, "write", writeRequest(hdr, data[done:done+n])); err != nil {
			return err
		}
		done += n
	}
	return nil
}

// Close closes the port.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if t.port == nil {
		return nil
	}
	if err := t.port.Close(); err != nil {
		return fmt.Errorf("failed to close UART port: %w", err)
	}
	return nil
}

// String returns the port name.
func (t *Transport) String() string {
	return t.portName
}

func (t *Transport) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.closed {
		return dstwr.NewBusClosedError("transfer", t.portName)
	}
	return nil
}

func encodeHeader(reg byte, offset uint16, write bool) ([]byte, error) {
	hdr, err := dw1000.Header{Register: reg, Offset: offset, Write: write}.Encode()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", dstwr.ErrInvalidParameter, err)
	}
	return hdr, nil
}

// transact sends one request and returns the reply data.
//
//nolint:wrapcheck // WrapError intentionally wraps errors with trace data
func (t *Transport) transact(ctx context.Context, op string, payload []byte) ([]byte, error) {
	if t.dirty {
		t.discard()
	}
	t.currentTrace = dstwr.NewTraceBuffer("UART", t.portName, traceEntries)
	defer func() { t.currentTrace = nil }()

	data, err := t.exchange(ctx, op, payload)
	if err != nil {
		t.dirty = true
		return nil, t.currentTrace.WrapError(err)
	}
	return data, nil
}

func (t *Transport) exchange(ctx context.Context, op string, payload []byte) ([]byte, error) {
	frm, err := encodeFrame(hostToBridge, payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", dstwr.ErrInvalidParameter, err)
	}
	for resent := 0; ; resent++ {
		t.currentTrace.RecordTX(frm, op)
		if err := t.write(op, frm); err != nil {
			return nil, err
		}
		nacked, err := t.waitAck(ctx, op)
		if err != nil {
			return nil, err
		}
		if !nacked {
			break
		}
		if resent == maxNacks {
			return nil, dstwr.NewFrameCorruptedError(op, t.portName)
		}
		dstwr.Debugf("uart: bridge rejected %s request, resending", op)
	}

	for nacks := 0; ; nacks++ {
		kind, data, err := t.readFrame(ctx)
		switch {
		case err == nil && kind == frameData:
			return t.reply(op, data)
		case err != nil && !isCorruption(err):
			return nil, t.readError(op, err)
		}
		if nacks == maxNacks {
			return nil, dstwr.NewChecksumMismatchError(op, t.portName)
		}
		dstwr.Debugf("uart: bad reply to %s (%v), sending NACK", op, err)
		t.discard()
		t.currentTrace.RecordTX(nackFrame, "NACK")
		if err := t.write(op, nackFrame); err != nil {
			return nil, err
		}
	}
}

// waitAck reports whether the bridge refused the request with a NACK. A
// refused request was never executed.
func (t *Transport) waitAck(ctx context.Context, op string) (bool, error) {
	kind, _, err := t.readFrame(ctx)
	switch {
	case err != nil && !isCorruption(err):
		return false, t.readError(op, err)
	case err != nil, kind == frameData:
		return false, dstwr.NewFrameCorruptedError(op, t.portName)
	}
	return kind == frameNack, nil
}

func (t *Transport) reply(op string, data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, dstwr.NewFrameCorruptedError(op, t.portName)
	}
	if data[0] != statusOK {
		kind := dstwr.ErrBusWrite
		if op == "read" {
			kind = dstwr.ErrBusRead
		}
		return nil, dstwr.NewBusError(op, t.portName,
			fmt.Errorf("bridge status 0x%02X: %w", data[0], kind), dstwr.ErrorTypeTransient)
	}
	return data[1:], nil
}

func isCorruption(err error) bool {
	return errors.Is(err, errLengthChecksum) || errors.Is(err, errDataChecksum) ||
		errors.Is(err, errUnexpectedTFI) || errors.Is(err, dstwr.ErrFrameCorrupted)
}

func (t *Transport) readError(op string, err error) error {
	switch {
	case errors.Is(err, dstwr.ErrBusTimeout):
		t.currentTrace.RecordTimeout(op)
		return dstwr.NewTimeoutError(op, t.portName)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return t.ioError(op, dstwr.ErrBusRead, err)
}

func (t *Transport) ioError(op string, kind, err error) error {
	typ := dstwr.ErrorTypeTransient
	if dstwr.IsFatal(err) {
		typ = dstwr.ErrorTypePermanent
	}
	return dstwr.NewBusError(op, t.portName, fmt.Errorf("%w: %w", kind, err), typ)
}

func (t *Transport) write(op string, frm []byte) error {
	n, err := t.port.Write(frm)
	if err != nil {
		return t.ioError(op, dstwr.ErrBusWrite, err)
	}
	if n != len(frm) {
		return dstwr.NewBusError(op, t.portName,
			fmt.Errorf("%w: short write %d/%d", dstwr.ErrBusWrite, n, len(frm)), dstwr.ErrorTypeTransient)
	}
	return nil
}

// readFrame reads one frame, skipping noise before the start code.
func (t *Transport) readFrame(ctx context.Context) (frameKind, []byte, error) {
	deadline := time.Now().Add(t.responseTimeout)

	var prev byte = 0xFF
	for skipped := 0; ; skipped++ {
		if skipped > maxSkipped {
			return frameData, nil, dstwr.ErrFrameCorrupted
		}
		b, err := t.readN(ctx, deadline, 1)
		if err != nil {
			return frameData, nil, err
		}
		if prev == 0x00 && b[0] == 0xFF {
			break
		}
		prev = b[0]
	}

	hdr, err := t.readN(ctx, deadline, 2)
	if err != nil {
		return frameData, nil, err
	}
	n, lcs := hdr[0], hdr[1]
	switch {
	case n == 0x00 && lcs == 0xFF:
		_, err = t.readN(ctx, deadline, 1)
		return frameAck, nil, err
	case n == 0xFF && lcs == 0x00:
		_, err = t.readN(ctx, deadline, 1)
		return frameNack, nil, err
	case n+lcs != 0:
		return frameData, nil, errLengthChecksum
	}

	body, err := t.readN(ctx, deadline, int(n)+2)
	if err != nil {
		return frameData, nil, err
	}
	if checksum(body[:n]) != body[n] {
		return frameData, nil, errDataChecksum
	}
	if body[0] != bridgeToHost {
		return frameData, nil, errUnexpectedTFI
	}
	return frameData, body[1:n], nil
}

func (t *Transport) readN(ctx context.Context, deadline time.Time, n int) ([]byte, error) {
	for len(t.pending) < n {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !time.Now().Before(deadline) {
			return nil, dstwr.ErrBusTimeout
		}
		m, err := t.port.Read(t.scratch[:])
		if err != nil {
			return nil, err
		}
		if m > 0 {
			t.currentTrace.RecordRX(t.scratch[:m], "")
			t.pending = append(t.pending, t.scratch[:m]...)
		}
	}
	out := make([]byte, n)
	copy(out, t.pending)
	t.pending = t.pending[n:]
	return out, nil
}

// discard drops buffered input so a late reply cannot be taken for the
// next one.
func (t *Transport) discard() {
	t.pending = t.pending[:0]
	if err := t.port.ResetInputBuffer(); err != nil {
		dstwr.Debugf("uart: reset input buffer on %s: %v", t.portName, err)
	}
	t.dirty = false
}
