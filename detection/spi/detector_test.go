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

//nolint:paralleltest // Tests register ports in the global periph registry
package spi

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	periphspi "periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"

	"github.com/ZaparooProject/go-dstwr/detection"
	virt "github.com/ZaparooProject/go-dstwr/internal/testing"
)

func stubHost(t *testing.T) {
	t.Helper()
	orig := hostInit
	t.Cleanup(func() { hostInit = orig })
	hostInit = func() error { return nil }
}

func registerPort(t *testing.T, name string, number int, sim *virt.VirtualDW1000) *virt.VirtualSPIPort {
	t.Helper()
	port := virt.NewVirtualSPIPort(name, sim)
	require.NoError(t, spireg.Register(name, []string{name + "-alias"}, number,
		func() (periphspi.PortCloser, error) { return port, nil }))
	t.Cleanup(func() { _ = spireg.Unregister(name) })
	return port
}

func devicesByPath(devices []detection.DeviceInfo) map[string]detection.DeviceInfo {
	m := make(map[string]detection.DeviceInfo)
	for _, d := range devices {
		m[d.Path] = d
	}
	return m
}

func TestDetect_ProbesRegisteredPorts(t *testing.T) {
	stubHost(t)
	radio := registerPort(t, "DWTEST0.0", -1, virt.NewVirtualDW1000())
	other := virt.NewVirtualDW1000()
	other.SetDeviceID(0x12345678)
	registerPort(t, "DWTEST0.1", -1, other)

	devices, err := New().Detect(context.Background(), &detection.Options{Mode: detection.Full})
	require.NoError(t, err)
	found := devicesByPath(devices)

	require.Contains(t, found, "DWTEST0.0")
	assert.NotContains(t, found, "DWTEST0.1")
	dev := found["DWTEST0.0"]
	assert.Equal(t, detection.High, dev.Confidence)
	assert.Equal(t, "spi", dev.Transport)
	assert.Equal(t, "DWTEST0.0-alias", dev.Metadata["aliases"])
	assert.True(t, radio.Closed())
}

func TestDetect_PassiveDoesNotTouchBus(t *testing.T) {
	stubHost(t)
	t.Setenv(EnvPorts, "DWTEST1.0, ")
	port := registerPort(t, "DWTEST1.0", -1, virt.NewVirtualDW1000())
	registerPort(t, "DWTEST1.1", -1, virt.NewVirtualDW1000())

	devices, err := New().Detect(context.Background(), &detection.Options{Mode: detection.Passive})
	require.NoError(t, err)
	found := devicesByPath(devices)

	assert.Equal(t, detection.Medium, found["DWTEST1.0"].Confidence)
	assert.Equal(t, detection.Low, found["DWTEST1.1"].Confidence)
	assert.Zero(t, port.TxCount())
}

func TestDetect_IgnorePaths(t *testing.T) {
	stubHost(t)
	port := registerPort(t, "DWTEST2.0", -1, virt.NewVirtualDW1000())

	devices, _ := New().Detect(context.Background(), &detection.Options{
		Mode:        detection.Safe,
		IgnorePaths: []string{"DWTEST2.0"},
	})
	assert.NotContains(t, devicesByPath(devices), "DWTEST2.0")
	assert.Zero(t, port.TxCount())
}

func TestCreateDeviceInfo(t *testing.T) {
	dev := createDeviceInfo(&spireg.Ref{Name: "SPI0.0", Number: 0})
	assert.Equal(t, "SPI port SPI0.0", dev.Name)
	assert.Equal(t, "0", dev.Metadata["bus"])
	assert.NotContains(t, dev.Metadata, "aliases")
}

func TestConfiguredPorts(t *testing.T) {
	t.Setenv(EnvPorts, "SPI0.0,,  SPI1.1 ")
	assert.Equal(t, map[string]struct{}{"SPI0.0": {}, "SPI1.1": {}}, configuredPorts())
}
