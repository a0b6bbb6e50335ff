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

// Package uart detects DW1000 radios behind USB serial bridges. Importing it
// registers the detector.
package uart

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ZaparooProject/go-dstwr"
	"github.com/ZaparooProject/go-dstwr/detection"
	"github.com/ZaparooProject/go-dstwr/transport/uart"
	"go.bug.st/serial/enumerator"
)

const probeTimeout = 2 * time.Second

// knownBridges are USB ids of boards that carry a DW1000 behind a serial
// bridge.
var knownBridges = []string{
	"1366:0105", // SEGGER J-Link OB (DWM1001-DEV)
	"1366:1015", // SEGGER J-Link OB, newer firmware
	"0403:6001", // FTDI FT232R
	"0403:6015", // FTDI FT231X
	"10C4:EA60", // Silicon Labs CP210x
	"1A86:7523", // QinHeng CH340
}

var productKeywords = []string{"dwm1001", "dw1000", "decawave", "qorvo", "j-link", "uwb"}

// Seams for tests.
var (
	listPorts = enumerator.GetDetailedPortsList
	probePort = probeDevice
)

type detector struct{}

// New returns the UART detector.
func New() detection.Detector {
	return &detector{}
}

func init() {
	detection.RegisterDetector(New())
}

// Transport implements detection.Detector.
func (*detector) Transport() string {
	return "uart"
}

// Detect implements detection.Detector.
func (d *detector) Detect(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error) {
	ports, err := listPorts()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}

	var devices []detection.DeviceInfo
	for _, port := range ports {
		if ctx.Err() != nil {
			break
		}
		if port == nil || skipPort(port, opts) {
			continue
		}
		if device, ok := d.processPort(ctx, port, opts); ok {
			devices = append(devices, device)
		}
	}

	if len(devices) == 0 {
		return nil, detection.ErrNoDevicesFound
	}
	return devices, nil
}

func skipPort(port *enumerator.PortDetails, opts *detection.Options) bool {
	if detection.IsPathIgnored(port.Name, opts.IgnorePaths) {
		return true
	}
	vidpid := detection.FormatVIDPID(port.VID, port.PID)
	return vidpid != "" && detection.IsBlocked(vidpid, opts.Blocklist)
}

// processPort decides whether a port is reported. In Passive mode only known
// bridges are. Otherwise a port is reported only if the probe succeeds.
func (*detector) processPort(
	ctx context.Context, port *enumerator.PortDetails, opts *detection.Options,
) (detection.DeviceInfo, bool) {
	likely := isLikelyBridge(port)
	device := createDeviceInfo(port, likely)

	if opts.Mode == detection.Passive {
		return device, likely
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	confidence, err := probePort(probeCtx, port.Name, opts.Mode)
	if err != nil {
		dstwr.Debugf("detect: %s: %v", port.Name, err)
		return detection.DeviceInfo{}, false
	}
	device.Confidence = confidence
	return device, true
}

func createDeviceInfo(port *enumerator.PortDetails, likely bool) detection.DeviceInfo {
	device := detection.DeviceInfo{
		Transport:  "uart",
		Path:       port.Name,
		Name:       port.Product,
		Confidence: detection.Low,
		Metadata:   make(map[string]string),
	}
	if likely {
		device.Confidence = detection.Medium
	}
	if device.Name == "" {
		device.Name = port.Name
	}
	if vidpid := detection.FormatVIDPID(port.VID, port.PID); vidpid != "" {
		device.Metadata["vidpid"] = vidpid
	}
	if port.Product != "" {
		device.Metadata["product"] = port.Product
	}
	if port.SerialNumber != "" {
		device.Metadata["serial"] = port.SerialNumber
	}
	return device
}

func isLikelyBridge(port *enumerator.PortDetails) bool {
	if !port.IsUSB {
		return false
	}
	vidpid := detection.FormatVIDPID(port.VID, port.PID)
	for _, known := range knownBridges {
		if vidpid == known {
			return true
		}
	}
	product := strings.ToLower(port.Product)
	for _, keyword := range productKeywords {
		if strings.Contains(product, keyword) {
			return true
		}
	}
	return false
}

// probeDevice opens the port once and reads the device id through it.
// Unknown devices are not hammered with retries.
func probeDevice(ctx context.Context, path string, mode detection.Mode) (detection.Confidence, error) {
	tr, err := uart.New(path, uart.WithRetryConfig(&dstwr.RetryConfig{MaxAttempts: 1}))
	if err != nil {
		return detection.Low, err
	}
	defer func() { _ = tr.Close() }()
	return detection.ProbeBus(ctx, tr, mode)
}
