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
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/ZaparooProject/go-dstwr"
	"github.com/ZaparooProject/go-dstwr/observability"
)

const defaultStressRounds = 1000

// StressResult summarises a stress run.
type StressResult struct {
	Outcomes  map[string]int
	Reports   []string
	Durations []time.Duration
	Rounds    int
	Completed int
	BusErrors int
}

// FailureReport is written for every round that failed with a bus error.
type FailureReport struct {
	Timestamp time.Time `json:"timestamp"`
	RunName   string    `json:"run"`
	RunID     string    `json:"run_id"`
	Error     string    `json:"error"`
	Transport string    `json:"transport,omitempty"`
	Port      string    `json:"port,omitempty"`
	Trace     []string  `json:"trace,omitempty"`
	Round     int       `json:"round"`
	Sequence  uint8     `json:"sequence"`
	Fatal     bool      `json:"fatal"`
}

func newStressCommand(global *globalOptions) *cobra.Command {
	var reportDir string
	cmd := &cobra.Command{
		Use:   "stress",
		Short: "Run many rounds back to back and report the outcome mix",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := newLogger(cmd.ErrOrStderr(), global.logLevel)
			if err != nil {
				return err
			}
			cfg, err := configFromCommand(cmd)
			if err != nil {
				return err
			}
			if cfg.Session.MaxRounds == 0 {
				cfg.Session.MaxRounds = defaultStressRounds
			}
			device, err := resolveDevice(cmd.Context(), cfg.Device, logger)
			if err != nil {
				return err
			}
			opener := &radioOpener{config: &cfg.Ranging, device: device}
			defer func() { _ = opener.Close() }()
			in, err := opener.open(cmd.Context(), 0)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			printStressBanner(out, device, cfg)
			run := &stressRun{
				id:        newRunIdentity(),
				reportDir: reportDir,
				rounds:    int(cfg.Session.MaxRounds),
				delay:     cfg.Ranging.InterRoundDelay,
			}
			result, err := run.execute(cmd.Context(), in)
			printStressSummary(out, result)
			return err
		},
	}
	addRangingFlags(cmd.Flags())
	cmd.Flags().StringVar(&reportDir, "report-dir", "", "write a JSON failure report per bus error into this directory")
	return cmd
}

func printStressBanner(w io.Writer, device deviceConfig, cfg *fileConfig) {
	_, _ = fmt.Fprintf(w, "Stress test: %d rounds, %d anchors, %s on %s\n",
		cfg.Session.MaxRounds, cfg.Ranging.AnchorCount, device.Transport, device.Path)
}

type stressRun struct {
	id        runIdentity
	reportDir string
	rounds    int
	delay     time.Duration
}

// execute runs rounds until all have finished, ctx is cancelled or the
// radio is lost.
func (r *stressRun) execute(ctx context.Context, in *dstwr.Initiator) (*StressResult, error) {
	result := &StressResult{Outcomes: make(map[string]int)}
	for i := range r.rounds {
		if i > 0 && r.delay > 0 {
			select {
			case <-ctx.Done():
				return result, ctx.Err()
			case <-time.After(r.delay):
			}
		}

		seq := in.Sequence()
		round, err := in.RunRound(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			result.BusErrors++
			if r.reportDir != "" {
				path, writeErr := writeFailureReport(r.reportDir, r.failureReport(i, seq, err))
				if writeErr != nil {
					return result, writeErr
				}
				result.Reports = append(result.Reports, path)
			}
			if dstwr.IsFatal(err) {
				return result, fmt.Errorf("round %d: %w", i, err)
			}
			continue
		}

		result.Rounds++
		result.Outcomes[observability.Outcome(round)]++
		if round.State == dstwr.StateComplete {
			result.Completed++
			result.Durations = append(result.Durations, round.Duration)
		}
	}
	return result, nil
}

func (r *stressRun) failureReport(round int, seq uint8, err error) *FailureReport {
	report := &FailureReport{
		Timestamp: time.Now(),
		RunName:   r.id.Name,
		RunID:     r.id.ID.String(),
		Round:     round,
		Sequence:  seq,
		Error:     err.Error(),
		Fatal:     dstwr.IsFatal(err),
	}
	if te := dstwr.GetTrace(err); te != nil {
		report.Transport = te.Transport
		report.Port = te.Port
		for _, entry := range te.Trace {
			report.Trace = append(report.Trace, entry.String())
		}
	}
	return report
}

func writeFailureReport(dir string, report *FailureReport) (string, error) {
	name := fmt.Sprintf("dstwr_failure_%s_%s_r%d.json",
		report.RunName, report.Timestamp.Format("20060102_150405"), report.Round)
	path := filepath.Join(dir, name)

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal failure report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write failure report: %w", err)
	}
	return path, nil
}

// percentile returns the p-th percentile of sorted durations.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p / 100 * float64(len(sorted)-1))
	return sorted[idx]
}

func printStressSummary(w io.Writer, result *StressResult) {
	if result == nil {
		return
	}
	_, _ = fmt.Fprintln(w, "================================================================================")
	_, _ = fmt.Fprintln(w, "                              STRESS TEST SUMMARY")
	_, _ = fmt.Fprintln(w, "================================================================================")
	_, _ = fmt.Fprintf(w, "Rounds finished: %d, complete: %d, bus errors: %d\n",
		result.Rounds, result.Completed, result.BusErrors)

	outcomes := make([]string, 0, len(result.Outcomes))
	for k := range result.Outcomes {
		outcomes = append(outcomes, k)
	}
	slices.Sort(outcomes)
	for _, k := range outcomes {
		_, _ = fmt.Fprintf(w, "  %-10s %d\n", k, result.Outcomes[k])
	}

	if len(result.Durations) > 0 {
		sorted := slices.Clone(result.Durations)
		slices.Sort(sorted)
		_, _ = fmt.Fprintf(w, "Round duration: min %s, p50 %s, p99 %s, max %s\n",
			sorted[0], percentile(sorted, 50), percentile(sorted, 99), sorted[len(sorted)-1])
	}
	if len(result.Reports) > 0 {
		_, _ = fmt.Fprintf(w, "Failure reports written: %d\n", len(result.Reports))
	}
	_, _ = fmt.Fprintln(w, "================================================================================")
}
