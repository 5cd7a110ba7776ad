// Copyright 2023 The go-adkihon Authors
// This file is part of the go-adkihon library.
//
// The go-adkihon library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-adkihon library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-adkihon library. If not, see <http://www.gnu.org/licenses/>.

// Package web is the HTTP facade of the game server: the public scoreboard
// endpoint, the flag submission endpoint and the static frontend.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/adkihon/go-adkihon/config"
	"github.com/adkihon/go-adkihon/core"
)

// Server wraps the engine behind an HTTP listener.
type Server struct {
	engine    *core.Engine
	logger    zerolog.Logger
	staticDir string
	srv       *http.Server
}

// NewServer builds the facade; nothing listens until Start.
func NewServer(engine *core.Engine, cfg *config.Config, logger zerolog.Logger) *Server {
	s := &Server{
		engine:    engine,
		logger:    logger.With().Str("component", "web").Logger(),
		staticDir: cfg.HTTP.StaticDir,
	}
	r := chi.NewRouter()
	r.Use(s.logRequests)
	r.Use(s.recoverPanics)
	r.Get("/", s.handleIndex)
	r.Get("/favicon.ico", s.handleFavicon)
	r.Get("/api/getStats", s.handleGetStats)
	r.Post("/api/flagSubmit", s.handleFlagSubmit)
	s.srv = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler: r,
	}
	return s
}

// Start runs the listener until Stop or a listener fault. The error channel
// receives at most one error and is closed when the listener winds down.
func (s *Server) Start() <-chan error {
	errc := make(chan error, 1)
	go func() {
		defer close(errc)
		s.logger.Info().Str("addr", s.srv.Addr).Msg("http facade listening")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()
	return errc
}

// Stop drains the listener gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	http.ServeFile(w, r, filepath.Join(s.staticDir, "index.html"))
}

func (s *Server) handleFavicon(w http.ResponseWriter, r *http.Request) {
	http.ServeFile(w, r, filepath.Join(s.staticDir, "favicon.ico"))
}

// statsResponse is the getStats payload. The team views are pre-sanitized by
// the scoreboard cache.
type statsResponse struct {
	Teams        []core.TeamView `json:"teams"`
	RoundNum     int             `json:"roundNum"`
	FlagLifetime int             `json:"flagLifetime"`
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	teams, err := s.engine.Scoreboard().Stats(true)
	if err != nil {
		s.logger.Error().Err(err).Msg("stats build failed")
		writeError(w, http.StatusInternalServerError, "Generic error")
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{
		Teams:        teams,
		RoundNum:     s.engine.RoundNum(),
		FlagLifetime: s.engine.FlagLifetime(),
	})
}

// handleFlagSubmit decodes the submission request field by field so malformed
// bodies, missing fields and wrong types each get their own error body.
func (s *Server) handleFlagSubmit(w http.ResponseWriter, r *http.Request) {
	var fields map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		writeError(w, http.StatusBadRequest, "Input data is not json")
		return
	}
	rawToken, hasToken := fields["token"]
	rawFlags, hasFlags := fields["flags"]
	if !hasToken || !hasFlags {
		writeError(w, http.StatusBadRequest, "token or flags fields missing")
		return
	}
	var token string
	if err := json.Unmarshal(rawToken, &token); err != nil {
		writeError(w, http.StatusBadRequest, "token must be a string")
		return
	}
	var flags []string
	if err := json.Unmarshal(rawFlags, &flags); err != nil {
		writeError(w, http.StatusBadRequest, "flags must be a list")
		return
	}
	summary, err := s.engine.Submission().Submit(token, flags)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, summary)
	case errors.Is(err, core.ErrRateLimitExceeded):
		writeError(w, http.StatusBadRequest, "Rate limit exceeded")
	case errors.Is(err, core.ErrInvalidToken):
		writeError(w, http.StatusBadRequest, "Invalid token")
	case errors.Is(err, core.ErrOutOfTimeWindow):
		writeError(w, http.StatusBadRequest, "Too early or too late to submit a flag")
	default:
		s.logger.Error().Err(err).Msg("flag submission failed")
		writeError(w, http.StatusInternalServerError, "Generic error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// logRequests emits one structured line per request with the round-trip time.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote", r.RemoteAddr).
			Dur("elapsed", time.Since(start)).
			Msg("request served")
	})
}

// recoverPanics converts handler panics into the generic 500 body instead of
// killing the connection.
func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error().Interface("panic", rec).Str("path", r.URL.Path).Msg("handler panicked")
				writeError(w, http.StatusInternalServerError, "Generic error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
