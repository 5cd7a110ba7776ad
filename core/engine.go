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

// Package core implements the concurrent game engine of the attack-defense
// CTF server: the round scheduler, the checker probe dispatch, the flag
// submission service, the event pipeline converting probe and attack results
// into point updates, and the scoreboard cache.
package core

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/adkihon/go-adkihon/config"
	"github.com/adkihon/go-adkihon/gamedb"
)

// eventQueueSize bounds the event bus. A full game round of a large game is
// teams x services x (1 + flag lifetime) events; 4096 leaves ample headroom.
const eventQueueSize = 4096

// Engine owns the engine workers and the shared event queue, wired to one
// persistence gateway.
type Engine struct {
	db         gamedb.Database
	queue      *Queue
	scheduler  *Scheduler
	dispatcher *Dispatcher
	submission *SubmissionService
	scoreboard *Scoreboard
	logger     zerolog.Logger
}

// NewEngine initializes or resumes the persistent game state (teams,
// services, point records, flag index, score replay) and assembles the
// engine workers. Nothing runs until Start.
func NewEngine(db gamedb.Database, cfg *config.Config, logger zerolog.Logger) (*Engine, error) {
	if err := initOrResume(db, cfg, logger); err != nil {
		return nil, fmt.Errorf("core: init or resume: %w", err)
	}
	queue := NewQueue(eventQueueSize)
	scheduler, err := NewScheduler(db, queue, cfg, logger)
	if err != nil {
		return nil, err
	}
	submission, err := NewSubmissionService(db, queue, scheduler, cfg, logger)
	if err != nil {
		return nil, err
	}
	scoreboard, err := NewScoreboard(db, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("core: scoreboard init: %w", err)
	}
	return &Engine{
		db:         db,
		queue:      queue,
		scheduler:  scheduler,
		dispatcher: NewDispatcher(db, queue, cfg, logger),
		submission: submission,
		scoreboard: scoreboard,
		logger:     logger.With().Str("component", "engine").Logger(),
	}, nil
}

// initOrResume upserts the configured teams and services, ensures the point
// records and the flag uniqueness index, and replays the append-only history
// into fresh point totals. Every step is idempotent, so a restart against a
// populated store is safe.
func initOrResume(db gamedb.Database, cfg *config.Config, logger zerolog.Logger) error {
	for _, team := range cfg.Teams {
		err := db.AddTeam(gamedb.Team{
			ID:     team.ID,
			IPAddr: team.Host,
			Name:   team.Name,
			Token:  team.Token,
		})
		if err != nil {
			return err
		}
	}
	for _, svc := range cfg.Services {
		if err := db.AddService(gamedb.Service{ID: svc.ID, Port: svc.Port, Name: svc.Name}); err != nil {
			return err
		}
	}
	if err := db.InitTeamPoints(); err != nil {
		return err
	}
	if err := db.EnsureFlagIndex(); err != nil {
		return err
	}
	return ResumePoints(db, logger)
}

// Start launches the dispatcher and the round scheduler. It fails when the
// game window is already over.
func (e *Engine) Start() error {
	e.dispatcher.Start()
	if err := e.scheduler.Start(); err != nil {
		e.dispatcher.Stop()
		return err
	}
	e.logger.Info().Msg("engine started")
	return nil
}

// Stop winds the engine down: the scheduler stops ticking and drains its
// probes for at most one round time, then the dispatcher finishes its
// in-flight point updates.
func (e *Engine) Stop() {
	e.scheduler.Stop()
	e.dispatcher.Stop()
	e.logger.Info().Msg("engine stopped")
}

// Submission exposes the flag submission service to the HTTP facade.
func (e *Engine) Submission() *SubmissionService {
	return e.submission
}

// Scoreboard exposes the scoreboard cache to the HTTP facade.
func (e *Engine) Scoreboard() *Scoreboard {
	return e.scoreboard
}

// RoundNum returns the current round number.
func (e *Engine) RoundNum() int {
	return e.scheduler.RoundNum()
}

// FlagLifetime returns the number of past rounds a flag stays submittable.
func (e *Engine) FlagLifetime() int {
	return e.scheduler.FlagLifetime()
}
