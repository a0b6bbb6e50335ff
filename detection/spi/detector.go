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

// Package spi detects DW1000 radios on SPI ports known to periph. Importing
// it registers the detector.
package spi

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"github.com/ZaparooProject/go-dstwr"
	"github.com/ZaparooProject/go-dstwr/detection"
	spitransport "github.com/ZaparooProject/go-dstwr/transport/spi"
)

// EnvPorts names extra SPI ports to consider, comma separated. Ports listed
// there are reported even in Passive mode.
const EnvPorts = "DSTWR_SPI_PORTS"

// hostInit loads the periph drivers that register SPI ports.
var hostInit = func() error {
	_, err := host.Init()
	return err
}

type detector struct{}

// New returns the SPI detector.
func New() detection.Detector {
	return &detector{}
}

func init() {
	detection.RegisterDetector(New())
}

// Transport implements detection.Detector.
func (*detector) Transport() string {
	return "spi"
}

// Detect implements detection.Detector. SPI has no descriptors, so outside
// Passive mode a port is reported only if a DW1000 answers on it.
func (*detector) Detect(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error) {
	if err := hostInit(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}

	refs := spireg.All()
	configured := configuredPorts()
	var devices []detection.DeviceInfo
	for _, ref := range refs {
		if ctx.Err() != nil {
			return devices, detection.ErrDetectionTimeout
		}
		if detection.IsPathIgnored(ref.Name, opts.IgnorePaths) {
			continue
		}
		device := createDeviceInfo(ref)
		_, wanted := configured[ref.Name]

		if opts.Mode == detection.Passive {
			if wanted {
				device.Confidence = detection.Medium
			}
			devices = append(devices, device)
			continue
		}

		confidence, err := probe(ctx, ref, opts.Mode)
		if err != nil {
			dstwr.Debugf("detect: %s: %v", ref.Name, err)
			continue
		}
		device.Confidence = confidence
		devices = append(devices, device)
	}

	if len(devices) == 0 {
		return nil, detection.ErrNoDevicesFound
	}
	return devices, nil
}

func createDeviceInfo(ref *spireg.Ref) detection.DeviceInfo {
	device := detection.DeviceInfo{
		Transport:  "spi",
		Path:       ref.Name,
		Name:       "SPI port " + ref.Name,
		Confidence: detection.Low,
		Metadata:   make(map[string]string),
	}
	if ref.Number >= 0 {
		device.Metadata["bus"] = strconv.Itoa(ref.Number)
	}
	if len(ref.Aliases) > 0 {
		device.Metadata["aliases"] = strings.Join(ref.Aliases, ",")
	}
	return device
}

func probe(ctx context.Context, ref *spireg.Ref, mode detection.Mode) (detection.Confidence, error) {
	port, err := ref.Open()
	if err != nil {
		return detection.Low, fmt.Errorf("open: %w", err)
	}
	tr, err := spitransport.NewFromPort(port)
	if err != nil {
		_ = port.Close()
		return detection.Low, err
	}
	defer func() { _ = tr.Close() }()
	return detection.ProbeBus(ctx, tr, mode)
}

func configuredPorts() map[string]struct{} {
	ports := make(map[string]struct{})
	for _, name := range strings.Split(os.Getenv(EnvPorts), ",") {
		if name = strings.TrimSpace(name); name != "" {
			ports[name] = struct{}{}
		}
	}
	return ports
}
