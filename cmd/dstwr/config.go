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
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/ZaparooProject/go-dstwr"
)

// fileConfig is the YAML configuration accepted by "dstwr run".
type fileConfig struct {
	Ranging dstwr.Config  `yaml:"ranging"`
	Device  deviceConfig  `yaml:"device"`
	Metrics metricsConfig `yaml:"metrics"`
	Session sessionConfig `yaml:"session"`
}

type deviceConfig struct {
	// Transport is "uart", "spi" or empty to infer it.
	Transport string `yaml:"transport"`
	// Path is a serial port or SPI port name. Empty runs detection.
	Path     string `yaml:"path"`
	BaudRate int    `yaml:"baud_rate"`
	// Realtime locks the process memory and raises its priority so the
	// delayed Final is not lost to page faults.
	Realtime bool `yaml:"realtime"`
}

type metricsConfig struct {
	// Listen is the address serving /metrics, /status, /pause and /resume.
	// Empty disables it.
	Listen string `yaml:"listen"`
}

type sessionConfig struct {
	MaxRounds            uint64        `yaml:"max_rounds"`
	MaxConsecutiveErrors int           `yaml:"max_consecutive_errors"`
	RecoveryAttempts     int           `yaml:"recovery_attempts"`
	RecoveryBackoff      time.Duration `yaml:"recovery_backoff"`
}

func defaultFileConfig() *fileConfig {
	return &fileConfig{
		Ranging: *dstwr.DefaultConfig(),
		Device:  deviceConfig{BaudRate: 115200},
		Session: sessionConfig{
			MaxConsecutiveErrors: 10,
			RecoveryAttempts:     5,
			RecoveryBackoff:      time.Second,
		},
	}
}

// loadConfig reads path over the defaults. An empty path returns the
// defaults. Unknown keys are rejected.
func loadConfig(path string) (*fileConfig, error) {
	cfg := defaultFileConfig()
	if path == "" {
		return cfg, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer func() { _ = f.Close() }()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// applyFlags overlays the flags the user set explicitly.
func applyFlags(flags *pflag.FlagSet, cfg *fileConfig) error {
	var errs []error
	visit := func(name string, apply func() error) {
		if flags.Changed(name) {
			if err := apply(); err != nil {
				errs = append(errs, fmt.Errorf("--%s: %w", name, err))
			}
		}
	}

	visit("transport", func() (err error) { cfg.Device.Transport, err = flags.GetString("transport"); return })
	visit("device", func() (err error) { cfg.Device.Path, err = flags.GetString("device"); return })
	visit("baud", func() (err error) { cfg.Device.BaudRate, err = flags.GetInt("baud"); return })
	visit("realtime", func() (err error) { cfg.Device.Realtime, err = flags.GetBool("realtime"); return })
	visit("anchors", func() (err error) { cfg.Ranging.AnchorCount, err = flags.GetInt("anchors"); return })
	visit("antenna-delay", func() (err error) { cfg.Ranging.AntennaDelay, err = flags.GetUint16("antenna-delay"); return })
	visit("turnaround", func() (err error) { cfg.Ranging.TurnaroundDelayUUS, err = flags.GetUint32("turnaround"); return })
	visit("inter-round-delay", func() (err error) {
		cfg.Ranging.InterRoundDelay, err = flags.GetDuration("inter-round-delay")
		return
	})
	visit("round-deadline", func() (err error) {
		cfg.Ranging.RoundDeadline, err = flags.GetDuration("round-deadline")
		return
	})
	visit("duplicate-policy", func() error {
		s, err := flags.GetString("duplicate-policy")
		if err != nil {
			return err
		}
		return cfg.Ranging.DuplicatePolicy.UnmarshalText([]byte(s))
	})
	visit("rounds", func() (err error) { cfg.Session.MaxRounds, err = flags.GetUint64("rounds"); return })
	visit("metrics-listen", func() (err error) { cfg.Metrics.Listen, err = flags.GetString("metrics-listen"); return })

	if err := errors.Join(errs...); err != nil {
		return err
	}
	return cfg.Ranging.Validate()
}

func addRangingFlags(flags *pflag.FlagSet) {
	flags.String("config", "", "YAML configuration file")
	flags.String("transport", "", "bus to the radio: uart or spi (inferred when empty)")
	flags.String("device", "", "serial port or SPI port name (auto-detect when empty)")
	flags.Int("baud", 115200, "UART bridge baud rate")
	flags.Bool("realtime", false, "lock memory and raise scheduling priority")
	flags.Int("anchors", dstwr.DefaultAnchorCount, "number of anchors answering each poll")
	flags.Uint16("antenna-delay", dstwr.DefaultAntennaDelay, "TX antenna delay in device time units")
	flags.Uint32("turnaround", dstwr.DefaultTurnaroundDelayUUS, "gap before the Final in UWB microseconds")
	flags.Duration("inter-round-delay", dstwr.DefaultInterRoundDelay, "pause between rounds")
	flags.Duration("round-deadline", 0, "abandon a round after this long (0 waits forever)")
	flags.String("duplicate-policy", "count-every", "how repeated anchor responses count: count-every or first-write-only")
	flags.Uint64("rounds", 0, "stop after this many rounds (0 runs until interrupted)")
	flags.String("metrics-listen", "", "serve Prometheus metrics and the control endpoints on this address")
}
