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
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/ZaparooProject/go-dstwr/detection"
)

func newDetectCommand() *cobra.Command {
	var (
		mode       string
		transports []string
		timeout    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "detect",
		Short: "List devices that look like a DW1000",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := detection.ParseMode(mode)
			if err != nil {
				return err
			}
			opts := detection.DefaultOptions()
			opts.Mode = m
			opts.Timeout = timeout
			opts.Transports = transports
			opts.EnableCache = false

			devices, err := detection.DetectAll(cmd.Context(), &opts)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, d := range devices {
				_, _ = fmt.Fprintln(out, d.String())
				for _, k := range slices.Sorted(maps.Keys(d.Metadata)) {
					_, _ = fmt.Fprintf(out, "  %s: %s\n", k, d.Metadata[k])
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "safe", "probe mode: passive, safe or full")
	cmd.Flags().StringSliceVar(&transports, "transport", nil, "restrict to these transports: "+fmt.Sprint(detection.Transports()))
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "overall detection timeout")
	return cmd
}
