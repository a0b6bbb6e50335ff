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
	"errors"
	"log/slog"
	"net/http"
	"time"

	petname "github.com/dustinkirkland/golang-petname"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/ZaparooProject/go-dstwr/observability"
	"github.com/ZaparooProject/go-dstwr/session"
)

const pauseTimeout = 2 * time.Second

// runIdentity names one invocation in logs, reports and the status endpoint.
type runIdentity struct {
	Name string    `json:"run"`
	ID   uuid.UUID `json:"run_id"`
}

func newRunIdentity() runIdentity {
	return runIdentity{ID: uuid.New(), Name: petname.Generate(2, "-")}
}

type statusResponse struct {
	runIdentity
	Stats  session.Stats `json:"stats"`
	Paused bool          `json:"paused"`
}

// newControlRouter serves metrics and lets an operator pause the session,
// for example to reconfigure anchors between rounds.
func newControlRouter(collector *observability.Collector, s *session.Session, id runIdentity) http.Handler {
	r := mux.NewRouter()
	if collector != nil {
		r.Handle("/metrics", collector.Handler()).Methods(http.MethodGet)
	}
	r.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		writeStatus(w, s, id)
	}).Methods(http.MethodGet)
	r.HandleFunc("/pause", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), pauseTimeout)
		defer cancel()
		if err := s.PauseAndWait(ctx); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		writeStatus(w, s, id)
	}).Methods(http.MethodPost)
	r.HandleFunc("/resume", func(w http.ResponseWriter, _ *http.Request) {
		s.Resume()
		writeStatus(w, s, id)
	}).Methods(http.MethodPost)
	return r
}

func writeStatus(w http.ResponseWriter, s *session.Session, id runIdentity) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(statusResponse{runIdentity: id, Stats: s.Stats(), Paused: s.Paused()})
}

// serveHTTP starts handler on addr and returns a function that shuts it down.
func serveHTTP(addr string, handler http.Handler, logger *slog.Logger) func() {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "addr", addr, "error", err)
		}
	}()
	logger.Info("serving metrics and control", "addr", addr)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
