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

package main

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/ZaparooProject/go-dstwr"
	"github.com/ZaparooProject/go-dstwr/detection"
	_ "github.com/ZaparooProject/go-dstwr/detection/spi"
	_ "github.com/ZaparooProject/go-dstwr/detection/uart"
	"github.com/ZaparooProject/go-dstwr/dw1000"
	"github.com/ZaparooProject/go-dstwr/internal/syncutil"
	spitransport "github.com/ZaparooProject/go-dstwr/transport/spi"
	"github.com/ZaparooProject/go-dstwr/transport/uart"
)

// openBus opens the transport for a resolved device. Tests replace it.
var openBus = openTransport

func openTransport(transport, path string, baud int) (dw1000.Bus, error) {
	switch transport {
	case "uart":
		t, err := uart.New(path, uart.WithBaudRate(baud))
		if err != nil {
			return nil, fmt.Errorf("failed to create UART transport for %s: %w", path, err)
		}
		return t, nil
	case "spi":
		t, err := spitransport.New(path)
		if err != nil {
			return nil, fmt.Errorf("failed to create SPI transport for %s: %w", path, err)
		}
		return t, nil
	default:
		return nil, fmt.Errorf("%w: unsupported transport %q", dstwr.ErrInvalidParameter, transport)
	}
}

// inferTransport guesses the bus from a port name.
func inferTransport(path string) string {
	if strings.Contains(strings.ToLower(path), "spi") {
		return "spi"
	}
	return "uart"
}

// resolveDevice fills in the transport and path, running detection when
// no path is configured.
func resolveDevice(ctx context.Context, dev deviceConfig, logger *slog.Logger) (deviceConfig, error) {
	if dev.Path != "" {
		if dev.Transport == "" {
			dev.Transport = inferTransport(dev.Path)
		}
		return dev, nil
	}

	opts := detection.DefaultOptions()
	if dev.Transport != "" {
		opts.Transports = []string{dev.Transport}
	}
	logger.Info("auto-detecting DW1000 devices", "transports", opts.Transports)
	devices, err := detection.DetectAll(ctx, &opts)
	if err != nil {
		return dev, fmt.Errorf("detect devices: %w", err)
	}
	if len(devices) == 0 {
		return dev, detection.ErrNoDevicesFound
	}
	best := slices.MaxFunc(devices, func(a, b detection.DeviceInfo) int {
		return cmp.Compare(a.Confidence, b.Confidence)
	})
	logger.Info("using detected device", "device", best.String())
	dev.Transport = best.Transport
	dev.Path = best.Path
	return dev, nil
}

// radioOpener builds initiators on a freshly opened radio and closes the
// previous one. It serves as the session's reopen function.
type radioOpener struct {
	current  *dw1000.Device
	config   *dstwr.Config
	observer dstwr.Observer
	device   deviceConfig
	mu       syncutil.Mutex
}

func (o *radioOpener) open(ctx context.Context, seq uint8) (*dstwr.Initiator, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.current != nil {
		_ = o.current.Close()
		o.current = nil
	}
	bus, err := openBus(o.device.Transport, o.device.Path, o.device.BaudRate)
	if err != nil {
		return nil, err
	}
	radio, err := dw1000.New(ctx, bus, dw1000.WithAntennaDelay(o.config.AntennaDelay))
	if err != nil {
		_ = bus.Close()
		return nil, fmt.Errorf("failed to initialise DW1000 on %s: %w", o.device.Path, err)
	}
	opts := []dstwr.InitiatorOption{dstwr.WithInitialSequence(seq)}
	if o.observer != nil {
		opts = append(opts, dstwr.WithObserver(o.observer))
	}
	in, err := dstwr.NewInitiator(radio, o.config, opts...)
	if err != nil {
		_ = radio.Close()
		return nil, err
	}
	o.current = radio
	return in, nil
}

func (o *radioOpener) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current == nil {
		return nil
	}
	err := o.current.Close()
	o.current = nil
	return err
}
