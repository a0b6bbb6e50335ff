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
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/ZaparooProject/go-dstwr/internal/frame"
)

// Reference calibration and timing values for the DWM1001 anchors.
const (
	DefaultAnchorCount        = 3
	DefaultInterRoundDelay    = 100 * time.Millisecond
	DefaultAntennaDelay       = 16436
	DefaultTurnaroundDelayUUS = 3800
)

// Config holds the per-device ranging configuration. It is immutable once
// passed to NewInitiator.
type Config struct {
	// PANID, InitiatorAddress and AnchorAddress are written into every frame
	// header; responses must carry the mirror image.
	PANID            uint16       `yaml:"pan_id"`
	InitiatorAddress ShortAddress `yaml:"initiator_address"`
	AnchorAddress    ShortAddress `yaml:"anchor_address"`

	// AnchorCount is N, the number of responses collected per round.
	AnchorCount int `yaml:"anchor_count"`

	// InterRoundDelay is how long the session waits between rounds.
	InterRoundDelay time.Duration `yaml:"inter_round_delay"`

	// AntennaDelay is the calibrated TX antenna delay in device time units.
	AntennaDelay uint16 `yaml:"antenna_delay"`

	// TurnaroundDelayUUS is the time reserved between the last response's
	// reception and the Final transmission, in UWB microseconds.
	TurnaroundDelayUUS uint32 `yaml:"turnaround_delay_uus"`

	// DuplicatePolicy selects how repeated responses from one anchor count.
	DuplicatePolicy DuplicatePolicy `yaml:"duplicate_policy"`

	// RoundDeadline bounds a single round. Zero leaves the round unbounded,
	// relying on an outer watchdog.
	RoundDeadline time.Duration `yaml:"round_deadline"`

	// StatusPollInterval is the pause between status reads when the radio
	// cannot block on status events. Zero polls back to back.
	StatusPollInterval time.Duration `yaml:"status_poll_interval"`
}

// DefaultConfig returns the reference configuration.
func DefaultConfig() *Config {
	addr := frame.DefaultAddressing()
	return &Config{
		PANID:              addr.PANID,
		InitiatorAddress:   ShortAddress(addr.Initiator),
		AnchorAddress:      ShortAddress(addr.Anchor),
		AnchorCount:        DefaultAnchorCount,
		InterRoundDelay:    DefaultInterRoundDelay,
		AntennaDelay:       DefaultAntennaDelay,
		TurnaroundDelayUUS: DefaultTurnaroundDelayUUS,
		DuplicatePolicy:    CountEveryResponse,
	}
}

// Validate checks the configuration for values the exchange cannot run with.
func (c *Config) Validate() error {
	if err := frame.ValidateAnchorCount(c.AnchorCount); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.TurnaroundDelayUUS == 0 {
		return fmt.Errorf("%w: turnaround delay must be positive", ErrInvalidConfig)
	}
	if c.InterRoundDelay < 0 || c.RoundDeadline < 0 || c.StatusPollInterval < 0 {
		return fmt.Errorf("%w: negative duration", ErrInvalidConfig)
	}
	switch c.DuplicatePolicy {
	case CountEveryResponse, FirstWriteOnly:
	default:
		return fmt.Errorf("%w: unknown duplicate policy %d", ErrInvalidConfig, c.DuplicatePolicy)
	}
	return nil
}

func (c *Config) addressing() frame.Addressing {
	return frame.Addressing{
		PANID:     c.PANID,
		Initiator: frame.Address(c.InitiatorAddress),
		Anchor:    frame.Address(c.AnchorAddress),
	}
}

// ShortAddress is a 16-bit short address in over-the-air byte order. Its text
// form is either two printable characters ("VE") or four hex digits with a
// 0x prefix ("0x5645").
type ShortAddress [2]byte

func (a ShortAddress) String() string {
	if a[0] >= 0x21 && a[0] < 0x7F && a[1] >= 0x21 && a[1] < 0x7F {
		return string(a[:])
	}
	return "0x" + hex.EncodeToString(a[:])
}

// MarshalText implements encoding.TextMarshaler.
func (a ShortAddress) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *ShortAddress) UnmarshalText(text []byte) error {
	s := string(text)
	if rest, ok := strings.CutPrefix(strings.ToLower(s), "0x"); ok {
		b, err := hex.DecodeString(rest)
		if err != nil || len(b) != 2 {
			return fmt.Errorf("%w: short address %q", ErrInvalidParameter, s)
		}
		copy(a[:], b)
		return nil
	}
	if len(s) != 2 {
		return fmt.Errorf("%w: short address %q", ErrInvalidParameter, s)
	}
	copy(a[:], s)
	return nil
}
