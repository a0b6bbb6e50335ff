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
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ZaparooProject/go-dstwr"
	"github.com/ZaparooProject/go-dstwr/internal/frame"
)

func newDecodeCommand() *cobra.Command {
	var anchors int
	cmd := &cobra.Command{
		Use:   "decode HEX",
		Short: "Decode a Poll, Response or Final frame",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			buf, err := parseHex(strings.Join(args, ""))
			if err != nil {
				return err
			}
			text, err := decodeFrame(buf, anchors)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprint(cmd.OutOrStdout(), text)
			return nil
		},
	}
	cmd.Flags().IntVar(&anchors, "anchors", 0, "anchor timestamps in a Final (inferred from the length when 0)")
	return cmd
}

// parseHex accepts hex with optional spaces, colons or a 0x prefix.
func parseHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	s = strings.NewReplacer(" ", "", ":", "", "-", "").Replace(s)
	buf, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", dstwr.ErrInvalidParameter, err)
	}
	return buf, nil
}

// decodeFrame describes buf. A trailing FCS is recognised and stripped.
func decodeFrame(buf []byte, anchors int) (string, error) {
	if len(buf) < frame.CommonHeaderLen {
		return "", fmt.Errorf("%d bytes: %w", len(buf), frame.ErrTooShort)
	}
	var b strings.Builder
	if frame.ValidateFCS(buf) {
		fmt.Fprintf(&b, "fcs:      ok (0x%04X)\n", frame.CalculateFCS(buf[:len(buf)-frame.ChecksumLen]))
		buf = buf[:len(buf)-frame.ChecksumLen]
	} else {
		b.WriteString("fcs:      absent or invalid\n")
	}

	fn := buf[frame.FunctionCodeIdx]
	fmt.Fprintf(&b, "function: %s\n", frame.FunctionName(fn))
	fmt.Fprintf(&b, "sequence: %d\n", buf[frame.SequenceIdx])
	fmt.Fprintf(&b, "pan:      0x%02X%02X\n", buf[frame.PANIDIdx+1], buf[frame.PANIDIdx])
	fmt.Fprintf(&b, "dest:     %s\n", dstwr.ShortAddress(buf[frame.DestinationIdx:frame.DestinationIdx+2]))
	fmt.Fprintf(&b, "source:   %s\n", dstwr.ShortAddress(buf[frame.SourceIdx:frame.SourceIdx+2]))

	switch fn {
	case frame.FunctionResponse:
		id, err := frame.ExtractAnchorID(buf)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "anchor:   %d\n", id)
	case frame.FunctionFinal:
		if anchors == 0 {
			anchors = (len(buf) - frame.CommonHeaderLen - 2*frame.TimestampFieldLen) / frame.TimestampFieldLen
		}
		if err := frame.ValidateAnchorCount(anchors); err != nil {
			return "", err
		}
		f, err := frame.ParseFinal(buf, anchors)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "poll_tx:  0x%08X\n", f.PollTx)
		for i, rx := range f.AnchorRx {
			fmt.Fprintf(&b, "anchor%d:  0x%08X\n", i+1, rx)
		}
		fmt.Fprintf(&b, "final_tx: 0x%08X\n", f.FinalTx)
	}
	return b.String(), nil
}
