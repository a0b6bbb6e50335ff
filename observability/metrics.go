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

// Package observability exports ranging activity as Prometheus metrics.
package observability

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ZaparooProject/go-dstwr"
)

const namespace = "dstwr"

// Collector records initiator activity. It implements dstwr.Observer and
// can be shared by several initiators.
type Collector struct {
	gatherer prometheus.Gatherer

	Rounds        *prometheus.CounterVec
	Rejections    *prometheus.CounterVec
	ReceiveFaults *prometheus.CounterVec
	BusErrors     *prometheus.CounterVec
	RoundDuration prometheus.Histogram
	Responses     prometheus.Histogram
	Sequence      prometheus.Gauge
}

var _ dstwr.Observer = (*Collector)(nil)

// NewCollector registers the ranging metrics against reg, defaulting to the
// global registry when nil. Registering twice on the same registry returns
// a collector backed by the existing metrics.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &Collector{gatherer: gatherer}
	var err error
	if c.Rounds, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rounds_total",
		Help:      "Ranging rounds by outcome.",
	}, []string{"outcome"})); err != nil {
		return nil, err
	}
	if c.Rejections, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rejected_responses_total",
		Help:      "Received frames that did not count towards a round, by reason.",
	}, []string{"reason"})); err != nil {
		return nil, err
	}
	if c.ReceiveFaults, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "receive_faults_total",
		Help:      "Receiver timeouts and errors.",
	}, []string{"kind"})); err != nil {
		return nil, err
	}
	if c.BusErrors, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bus_errors_total",
		Help:      "Errors driving the radio, by whether they were fatal.",
	}, []string{"kind"})); err != nil {
		return nil, err
	}
	if c.RoundDuration, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "round_duration_seconds",
		Help:      "Wall time from Poll to Final or abandonment.",
		Buckets:   []float64{0.001, 0.002, 0.005, 0.01, 0.02, 0.05, 0.1, 0.25, 0.5, 1},
	})); err != nil {
		return nil, err
	}
	if c.Responses, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "round_responses",
		Help:      "Responses accepted per round.",
		Buckets:   prometheus.LinearBuckets(0, 1, 9),
	})); err != nil {
		return nil, err
	}
	if c.Sequence, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sequence",
		Help:      "Sequence number of the last finished round.",
	})); err != nil {
		return nil, err
	}
	return c, nil
}

// ResponseRejected implements dstwr.Observer.
func (c *Collector) ResponseRejected(err error) {
	if c == nil {
		return
	}
	c.Rejections.WithLabelValues(RejectReason(err)).Inc()
}

// ReceiveFailed implements dstwr.Observer.
func (c *Collector) ReceiveFailed(flags dstwr.StatusFlags) {
	if c == nil {
		return
	}
	switch {
	case errors.Is(flags.Err(), dstwr.ErrReceiveTimeout):
		c.ReceiveFaults.WithLabelValues("timeout").Inc()
	case errors.Is(flags.Err(), dstwr.ErrReceiveFailed):
		c.ReceiveFaults.WithLabelValues("error").Inc()
	}
}

// RoundFinished implements dstwr.Observer.
func (c *Collector) RoundFinished(result *dstwr.RoundResult) {
	if c == nil || result == nil {
		return
	}
	c.Rounds.WithLabelValues(Outcome(result)).Inc()
	c.RoundDuration.Observe(result.Duration.Seconds())
	c.Responses.Observe(float64(result.Responses))
	c.Sequence.Set(float64(result.Sequence))
}

// BusError counts an error returned by a round.
func (c *Collector) BusError(err error) {
	if c == nil || err == nil {
		return
	}
	kind := "transient"
	if dstwr.IsFatal(err) {
		kind = "fatal"
	}
	c.BusErrors.WithLabelValues(kind).Inc()
}

// Handler exposes the metrics for scraping.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

// Outcome labels a finished round.
func Outcome(result *dstwr.RoundResult) string {
	if result.State == dstwr.StateComplete {
		return "complete"
	}
	switch {
	case errors.Is(result.Err, dstwr.ErrRoundDeadline):
		return "deadline"
	case errors.Is(result.Err, dstwr.ErrDelayedTransmitLate):
		return "late"
	case result.Err != nil:
		return "bus_error"
	default:
		return "abandoned"
	}
}

// RejectReason labels a rejected response.
func RejectReason(err error) string {
	switch {
	case errors.Is(err, dstwr.ErrDuplicateAnchor):
		return "duplicate"
	case errors.Is(err, dstwr.ErrAnchorIDOutOfRange):
		return "anchor_out_of_range"
	case errors.Is(err, dstwr.ErrSchemaMismatch):
		return "schema"
	default:
		return "other"
	}
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
			var zero C
			return zero, fmt.Errorf("collector already registered with incompatible type: %w", err)
		}
		var zero C
		return zero, err
	}
	return c, nil
}
