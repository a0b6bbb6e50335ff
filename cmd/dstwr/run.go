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
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/ZaparooProject/go-dstwr"
	"github.com/ZaparooProject/go-dstwr/observability"
	"github.com/ZaparooProject/go-dstwr/session"
)

func newRunCommand(global *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Range continuously and print each completed round",
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
			return runRanging(cmd.Context(), cfg, logger, cmd.OutOrStdout())
		},
	}
	addRangingFlags(cmd.Flags())
	return cmd
}

func configFromCommand(cmd *cobra.Command) (*fileConfig, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	cfg, err := loadConfig(path)
	if err != nil {
		return nil, err
	}
	if err := applyFlags(cmd.Flags(), cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runRanging(ctx context.Context, cfg *fileConfig, logger *slog.Logger, out io.Writer) error {
	if cfg.Device.Realtime {
		if err := enableRealtime(); err != nil {
			logger.Warn("realtime mode unavailable", "error", err)
		}
	}

	id := newRunIdentity()
	logger = logger.With("run", id.Name, "run_id", id.ID.String())

	var collector *observability.Collector
	if cfg.Metrics.Listen != "" {
		var err error
		collector, err = observability.NewCollector(prometheus.NewRegistry())
		if err != nil {
			return err
		}
	}

	device, err := resolveDevice(ctx, cfg.Device, logger)
	if err != nil {
		return err
	}
	opener := &radioOpener{config: &cfg.Ranging, device: device}
	if collector != nil {
		opener.observer = collector
	}
	defer func() {
		if err := opener.Close(); err != nil {
			logger.Warn("failed to close device", "error", err)
		}
	}()

	in, err := opener.open(ctx, 0)
	if err != nil {
		return err
	}
	logger.Info("ranging started",
		"transport", device.Transport,
		"device", device.Path,
		"anchors", cfg.Ranging.AnchorCount)

	s := session.New(in,
		session.WithLogger(logger),
		session.WithConfig(session.Config{
			InterRoundDelay:      cfg.Ranging.InterRoundDelay,
			MaxConsecutiveErrors: cfg.Session.MaxConsecutiveErrors,
			MaxRounds:            cfg.Session.MaxRounds,
		}),
		session.WithRecoverer(session.NewDefaultRecoverer(
			opener.open, cfg.Session.RecoveryBackoff, cfg.Session.RecoveryAttempts)))
	s.SetOnRoundComplete(func(r *dstwr.RoundResult) {
		_, _ = fmt.Fprintln(out, formatRound(r))
	})
	s.SetOnError(collector.BusError)

	if cfg.Metrics.Listen != "" {
		stop := serveHTTP(cfg.Metrics.Listen, newControlRouter(collector, s, id), logger)
		defer stop()
	}

	err = s.Run(ctx)
	stats := s.Stats()
	logger.Info("ranging stopped",
		"rounds", stats.Rounds,
		"completed", stats.Completed,
		"abandoned", stats.Abandoned,
		"bus_errors", stats.BusErrors,
		"recoveries", stats.Recoveries)
	return err
}

// formatRound renders a completed round as one line of key=value pairs.
func formatRound(r *dstwr.RoundResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "round seq=%d poll_tx=0x%010X final_tx=0x%010X",
		r.Sequence, uint64(r.PollTx), uint64(r.FinalTx))
	for i, rx := range r.AnchorRx {
		fmt.Fprintf(&b, " anchor%d_rx=0x%010X", i+1, uint64(rx))
	}
	fmt.Fprintf(&b, " responses=%d rejected=%d duration=%s",
		r.Responses, r.Rejected, r.Duration.Round(time.Microsecond))
	return b.String()
}
